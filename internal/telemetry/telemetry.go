// Package telemetry streams per-step samples to WebSocket clients.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/san-kum/nbodyvk/internal/physics"
)

const writeTimeout = time.Second

type Sample struct {
	Step      int     `json:"step"`
	Energy    float64 `json:"energy"`
	DT        float32 `json:"dt"`
	ElapsedNS int64   `json:"elapsed_ns"`
	Backend   string  `json:"backend"`
}

// Hub fans samples out to every connected client. Each connection has its
// own write lock; a client whose write fails is dropped.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()
	h.log.Debug("telemetry client connected", "remote", r.RemoteAddr)
	defer h.remove(conn)

	// Clients never send anything useful; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *Hub) Broadcast(s Sample) {
	h.mu.RLock()
	var failed []*websocket.Conn
	for conn, mu := range h.clients {
		mu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteJSON(s)
		mu.Unlock()
		if err != nil {
			h.log.Debug("telemetry write failed", "error", err)
			conn.Close()
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range failed {
		h.remove(conn)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, mu := range h.clients {
		mu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		mu.Unlock()
		conn.Close()
		delete(h.clients, conn)
	}
}

// Observer turns simulator steps into samples, computing the energy every
// `every` steps and reusing the last value in between.
type Observer struct {
	hub     *Hub
	g       physics.Gravity
	dt      float32
	backend string
	every   int
	start   time.Time
	energy  float64
}

func (h *Hub) Observer(g physics.Gravity, dt float32, backend string, every int) *Observer {
	if every < 1 {
		every = 1
	}
	return &Observer{hub: h, g: g, dt: dt, backend: backend, every: every, start: time.Now()}
}

func (o *Observer) OnStep(ps []physics.Particle, step int, _ time.Duration) {
	if o.hub.Clients() == 0 {
		return
	}
	if step%o.every == 0 || step == 1 {
		o.energy = o.g.Energy(ps)
	}
	o.hub.Broadcast(Sample{
		Step:      step,
		Energy:    o.energy,
		DT:        o.dt,
		ElapsedNS: time.Since(o.start).Nanoseconds(),
		Backend:   o.backend,
	})
}

// Serve listens on addr and serves the hub at /ws until ctx ends.
func Serve(ctx context.Context, addr string, h *Hub) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, h)
}

func ServeListener(ctx context.Context, ln net.Listener, h *Hub) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	h.log.Info("telemetry listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
