package publish

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/vio-frontend/internal/vio"
)

const (
	socketBufferSize = 1024
	writeWait        = 5 * time.Second
)

// WebSocketHandler streams hub messages to browser clients as JSON text
// frames. Clients pick topics with ?topic=a,b (default: all).
type WebSocketHandler struct {
	hub      *Hub
	buffer   int
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a handler reading from hub.
func NewWebSocketHandler(hub *Hub, buffer int) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  socketBufferSize,
			WriteBufferSize: socketBufferSize,
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var topics []string
	if q := r.URL.Query().Get("topic"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		vio.Diagf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	id, ch := h.hub.Subscribe(h.buffer, topics...)
	defer h.hub.Unsubscribe(id)
	vio.Diagf("websocket client %s subscribed as %s topics=%v", r.RemoteAddr, id, topics)

	// The read side only exists to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				vio.Diagf("websocket client %s write: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}
