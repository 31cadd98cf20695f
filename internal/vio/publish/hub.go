package publish

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vio-frontend/internal/timeutil"
	"github.com/banshee-data/vio-frontend/internal/vio"
	"github.com/banshee-data/vio-frontend/internal/vio/metrics"
)

// HubConfig holds Hub settings.
type HubConfig struct {
	// QueueSize bounds the inbound queue between publishers and the
	// broadcast loop.
	QueueSize int
	// ClientBuffer is the default per-subscriber buffer.
	ClientBuffer int
	// StatsInterval paces the periodic stats log line. Zero disables it.
	StatsInterval time.Duration
	Clock         timeutil.Clock
	Metrics       *metrics.Metrics
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		QueueSize:     100,
		ClientBuffer:  10,
		StatsInterval: 5 * time.Second,
	}
}

// HubStats counts hub traffic since Start.
type HubStats struct {
	Published   uint64
	Dropped     uint64 // inbound queue full
	ClientDrops uint64 // slow subscribers
	Clients     int32
}

// Hub broadcasts messages to subscribers. Publish never blocks: a full
// inbound queue or a full subscriber buffer drops the message and counts it.
type Hub struct {
	cfg HubConfig

	msgCh     chan Message
	clients   map[string]*subscriber
	clientsMu sync.RWMutex
	stopped   bool // guarded by clientsMu; a stopped hub cannot restart

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientDrops atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type subscriber struct {
	id     string
	topics map[string]bool // nil means every topic
	ch     chan Message
}

// NewHub creates a stopped Hub.
func NewHub(cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Hub{
		cfg:     cfg,
		msgCh:   make(chan Message, cfg.QueueSize),
		clients: make(map[string]*subscriber),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the broadcast loop.
func (h *Hub) Start() error {
	h.clientsMu.RLock()
	stopped := h.stopped
	h.clientsMu.RUnlock()
	if stopped {
		return fmt.Errorf("hub already stopped")
	}
	if !h.running.CompareAndSwap(false, true) {
		return fmt.Errorf("hub already running")
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return nil
}

// Stop halts the broadcast loop and closes every subscriber channel.
func (h *Hub) Stop() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	close(h.stopCh)
	h.wg.Wait()

	h.clientsMu.Lock()
	h.stopped = true
	for id, c := range h.clients {
		close(c.ch)
		delete(h.clients, id)
	}
	h.clientsMu.Unlock()
	h.clientCount.Store(0)
	vio.Diagf("hub stopped: published=%d dropped=%d client_drops=%d",
		h.published.Load(), h.dropped.Load(), h.clientDrops.Load())
}

// Publish queues msg for broadcast.
func (h *Hub) Publish(msg Message) {
	if !h.running.Load() {
		return
	}
	select {
	case h.msgCh <- msg:
		h.published.Add(1)
	default:
		n := h.dropped.Add(1)
		h.cfg.Metrics.RecordHubDrop()
		vio.Opsf("hub queue full, dropped %s seq=%d (total dropped: %d)", msg.Topic, msg.Seq, n)
	}
}

// Subscribe registers a subscriber for topics (every topic when none are
// given). buffer <= 0 selects the configured default. The returned
// channel is closed by Unsubscribe or Stop, and is already closed when
// the hub has been stopped.
func (h *Hub) Subscribe(buffer int, topics ...string) (string, <-chan Message) {
	if buffer <= 0 {
		buffer = h.cfg.ClientBuffer
	}
	s := &subscriber{
		id: uuid.NewString(),
		ch: make(chan Message, buffer),
	}
	if len(topics) > 0 {
		s.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			s.topics[t] = true
		}
	}

	h.clientsMu.Lock()
	if h.stopped {
		h.clientsMu.Unlock()
		close(s.ch)
		return s.id, s.ch
	}
	h.clients[s.id] = s
	h.clientsMu.Unlock()
	n := h.clientCount.Add(1)
	vio.Diagf("hub subscriber %s connected (total: %d)", s.id, n)
	return s.id, s.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.clientsMu.Lock()
	s, ok := h.clients[id]
	if ok {
		close(s.ch)
		delete(h.clients, id)
	}
	h.clientsMu.Unlock()
	if ok {
		n := h.clientCount.Add(-1)
		vio.Diagf("hub subscriber %s disconnected (remaining: %d)", id, n)
	}
}

// Stats returns the traffic counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		ClientDrops: h.clientDrops.Load(),
		Clients:     h.clientCount.Load(),
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	var tick <-chan time.Time
	if h.cfg.StatsInterval > 0 {
		ticker := h.cfg.Clock.NewTicker(h.cfg.StatsInterval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	var lastPublished uint64
	for {
		select {
		case <-h.stopCh:
			return
		case <-tick:
			p := h.published.Load()
			vio.Diagf("hub stats: msgs=%d dropped=%d client_drops=%d clients=%d queue=%d/%d",
				p-lastPublished, h.dropped.Load(), h.clientDrops.Load(), h.clientCount.Load(),
				len(h.msgCh), cap(h.msgCh))
			lastPublished = p
		case msg := <-h.msgCh:
			h.clientsMu.RLock()
			for _, c := range h.clients {
				if c.topics != nil && !c.topics[msg.Topic] {
					continue
				}
				select {
				case c.ch <- msg:
				default:
					h.clientDrops.Add(1)
					h.cfg.Metrics.RecordHubDrop()
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}
