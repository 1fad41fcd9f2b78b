package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// event is one graph mutation pushed to watchers.
type event struct {
	Repo  string `json:"repo"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// watchHub fans mutation events out to connected websocket clients. Slow
// clients are dropped rather than allowed to stall the mutation path.
type watchHub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[chan event]struct{}
}

func newWatchHub(log *slog.Logger) *watchHub {
	return &watchHub{log: log, clients: make(map[chan event]struct{})}
}

func (h *watchHub) publish(ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			delete(h.clients, ch)
			close(ch)
		}
	}
}

func (h *watchHub) subscribe() chan event {
	ch := make(chan event, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *watchHub) unsubscribe(ch chan event) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *watchHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("httpapi: watch upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// Reader goroutine notices client-side close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
