package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/sink"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header means a non-browser client.
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

var _ sink.Sink = (*FlushHub)(nil)

// FlushMessage is the envelope pushed to stream clients.
type FlushMessage struct {
	Type  string     `json:"type"`
	Flush sink.Flush `json:"flush"`
}

// FlushHub streams bucket flushes to WebSocket clients. It is a sink.Sink.
type FlushHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{}
	log        zerolog.Logger

	mu sync.RWMutex
}

// NewFlushHub creates a new WebSocket hub
func NewFlushHub(log zerolog.Logger) *FlushHub {
	return &FlushHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main loop
func (h *FlushHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("stream client connected")
		case conn := <-h.unregister:
			h.drop(conn)
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Debug().Err(err).Msg("stream write failed")
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			for _, conn := range failed {
				h.drop(conn)
			}
		}
	}
}

func (h *FlushHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("clients", count).Msg("stream client disconnected")
}

// Send broadcasts a flush. It never blocks: with no clients the flush is
// ignored, and when the broadcast buffer is full it is dropped.
func (h *FlushHub) Send(_ context.Context, f sink.Flush) error {
	if !h.HasClients() {
		return nil
	}
	message, err := json.Marshal(FlushMessage{Type: "flush", Flush: f})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.Warn().Str("symbol", f.Symbol).Msg("broadcast channel full, dropping flush")
	}
	return nil
}

// HasClients returns true if there are any connected WebSocket clients
func (h *FlushHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket handles GET /v1/ws
func (h *FlushHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline)); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// Only control frames are expected from clients.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
	}
}
