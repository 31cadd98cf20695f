package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

// ErrPortClosed is returned by MemoryPort once it is closed.
var ErrPortClosed = errors.New("serial port closed")

// MemoryPort is an in-memory SerialPorter for tests and bench replays.
// Reads block until data is fed or the port is closed.
type MemoryPort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	in      bytes.Buffer
	out     bytes.Buffer
	closed  bool
	eof     bool
	readErr error

	// WriteErr, when set, fails every Write.
	WriteErr error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool
}

// NewMemoryPort returns an open, empty port.
func NewMemoryPort() *MemoryPort {
	p := &MemoryPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed queues data for Read.
func (p *MemoryPort) Feed(data string) {
	p.mu.Lock()
	p.in.WriteString(data)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// FinishInput makes Read return io.EOF once the queued data is consumed.
func (p *MemoryPort) FinishInput() {
	p.mu.Lock()
	p.eof = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// FailReads makes the next Read return err.
func (p *MemoryPort) FailReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *MemoryPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.in.Len() == 0 && !p.closed && !p.eof && p.readErr == nil {
		p.cond.Wait()
	}
	switch {
	case p.readErr != nil:
		err := p.readErr
		p.readErr = nil
		return 0, err
	case p.closed:
		return 0, ErrPortClosed
	case p.in.Len() == 0:
		return p.in.Read(b) // io.EOF
	}
	return p.in.Read(b)
}

func (p *MemoryPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	n, _ := p.out.Write(b)
	if p.ShortWrite && n > 0 {
		n--
	}
	return n, nil
}

// Close unblocks pending reads.
func (p *MemoryPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// Written returns everything written to the port so far.
func (p *MemoryPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

// Closed reports whether Close was called.
func (p *MemoryPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
