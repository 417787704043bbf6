// Package tap exposes the bridge's relayed traffic to observers over
// websockets. The bridge pushes TrafficEvents into a bounded ring; a
// broadcast loop fans them out to every connected client as JSON.
package tap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemirror/internal/bridge"
	"github.com/srg/blemirror/internal/ringchan"
)

const (
	// eventBuffer bounds how many unsent traffic events the hub holds; the
	// dispatcher must never block on a slow observer, so the oldest events
	// are overwritten.
	eventBuffer = 512

	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// StatsFunc supplies the forwarding counters served at /stats.
type StatsFunc func() bridge.ForwardingStats

// Hub is the websocket traffic observer endpoint.
type Hub struct {
	addr   string
	logger *logrus.Logger

	events   *ringchan.RingChannel[bridge.TrafficEvent]
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	stats StatsFunc
}

// NewHub creates a traffic hub listening on addr once Run is called.
func NewHub(addr string, stats StatsFunc, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		addr:   addr,
		logger: logger,
		events: ringchan.New[bridge.TrafficEvent](eventBuffer),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
		stats:   stats,
	}
}

// Sink returns the function the bridge calls for every relayed payload. It
// never blocks; with no room the oldest unsent event is dropped.
func (h *Hub) Sink() func(bridge.TrafficEvent) {
	return func(ev bridge.TrafficEvent) {
		h.events.ForceSend(ev)
	}
}

// Handler returns the hub's HTTP routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/stats", h.handleStats)
	return mux
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	server := &http.Server{Addr: h.addr, Handler: h.Handler()}

	go h.broadcast(ctx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.WithField("addr", h.addr).Info("Traffic tap listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			h.logger.WithError(err).Warn("Traffic tap shutdown incomplete")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// broadcast fans ring events out to every connected client. A client that
// cannot keep up is dropped.
func (h *Hub) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-h.events.C():
			if !ok {
				return
			}
			msg, err := json.Marshal(ev)
			if err != nil {
				h.logger.WithError(err).Warn("Failed to encode traffic event")
				continue
			}
			h.send(msg)
		}
	}
}

func (h *Hub) send(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.WithField("client", client.RemoteAddr().String()).Debug("Dropping slow tap client")
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"client":  conn.RemoteAddr().String(),
		"clients": count,
	}).Info("Tap observer connected")

	// The read loop only serves to detect the client going away; the tap is
	// one-directional.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
			h.logger.WithField("client", conn.RemoteAddr().String()).Info("Tap observer disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var stats bridge.ForwardingStats
	if h.stats != nil {
		stats = h.stats()
	}
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.WithError(err).Warn("Failed to encode stats response")
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
