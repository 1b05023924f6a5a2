package telemetry

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/nbodyvk/internal/physics"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	a, b := dial(t, url), dial(t, url)
	waitClients(t, h, 2)

	h.Broadcast(Sample{Step: 7, Energy: -1.5, DT: 0.01, Backend: "gpu:soft"})
	for _, c := range []*websocket.Conn{a, b} {
		var got Sample
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, c.ReadJSON(&got))
		assert.Equal(t, 7, got.Step)
		assert.Equal(t, -1.5, got.Energy)
		assert.Equal(t, "gpu:soft", got.Backend)
	}
}

func TestDisconnectedClientsAreDropped(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := dial(t, url)
	waitClients(t, h, 1)
	require.NoError(t, c.Close())
	waitClients(t, h, 0)

	h.Broadcast(Sample{Step: 1})
	assert.Zero(t, h.Clients())
}

func TestObserverSendsEnergy(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	waitClients(t, h, 1)

	g := physics.Gravity{G: 1}
	ps := []physics.Particle{{Mass: 1}, {Position: mgl32.Vec3{1, 0, 0}, Mass: 1}}
	h.Observer(g, 0.5, "cpu", 10).OnStep(ps, 1, time.Millisecond)

	var got Sample
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, c.ReadJSON(&got))
	assert.Equal(t, 1, got.Step)
	assert.InDelta(t, -1.0, got.Energy, 1e-9)
	assert.Equal(t, float32(0.5), got.DT)
	assert.Positive(t, got.ElapsedNS)
}

func TestServeStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil)
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, ln, h) }()

	c := dial(t, "ws://"+ln.Addr().String()+"/ws")
	waitClients(t, h, 1)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
