package alerts

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	a := New("tok", "flash-rug", PriorityHigh, "liquidity collapse")

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "tok", a.TokenID)
	assert.Equal(t, "flash-rug", a.Kind)
	assert.Equal(t, PriorityHigh, a.Priority)
	assert.Equal(t, "liquidity collapse", a.Message)
	assert.False(t, a.Ts.IsZero())
}

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []Alert
}

func (d *recordingDispatcher) SendAlert(_ context.Context, alert Alert) {
	d.mu.Lock()
	d.seen = append(d.seen, alert)
	d.mu.Unlock()
}

func TestMultiDispatcher_FansOut(t *testing.T) {
	a := &recordingDispatcher{}
	b := &recordingDispatcher{}
	m := NewMultiDispatcher(a, b)

	m.SendAlert(context.Background(), New("tok", "rapid-drain", PriorityStandard, "draining"))

	assert.Len(t, a.seen, 1)
	assert.Len(t, b.seen, 1)
	assert.Equal(t, "tok", a.seen[0].TokenID)
}

func TestLogDispatcher_DoesNotPanic(t *testing.T) {
	d := NewLogDispatcher()
	d.SendAlert(context.Background(), New("tok", "slow-bleed", PriorityStandard, "bleeding"))
	d.SendAlert(context.Background(), New("tok", "token-rugged", PriorityHigh, "gone"))
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients (have %d)", n, h.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsToClients(t *testing.T) {
	h := NewHub(DefaultHubConfig())
	server := httptest.NewServer(h)
	defer server.Close()

	c1 := dialHub(t, server.URL)
	defer c1.Close()
	c2 := dialHub(t, server.URL)
	defer c2.Close()
	waitForClients(t, h, 2)

	sent := New("tok", "flash-rug", PriorityHigh, "liquidity collapse")
	h.SendAlert(context.Background(), sent)

	for _, conn := range []*websocket.Conn{c1, c2} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var got Alert
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "tok", got.TokenID)
		assert.Equal(t, PriorityHigh, got.Priority)
	}
}

func TestHub_ClientDisconnectUpdatesCount(t *testing.T) {
	h := NewHub(DefaultHubConfig())
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialHub(t, server.URL)
	waitForClients(t, h, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, h, 0)
}

func TestHub_RejectsPastClientLimit(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.MaxClients = 1
	h := NewHub(cfg)
	server := httptest.NewServer(h)
	defer server.Close()

	c1 := dialHub(t, server.URL)
	defer c1.Close()
	waitForClients(t, h, 1)

	// The second client is upgraded then immediately closed.
	c2 := dialHub(t, server.URL)
	defer c2.Close()
	require.NoError(t, c2.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c2.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 1, h.ClientCount())
}

func TestHub_DropsSlowClient(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.ClientBuffer = 1
	h := NewHub(cfg)
	server := httptest.NewServer(h)
	defer server.Close()

	// Connect but never read. Large payloads fill the socket buffer, the
	// write loop blocks, and the 1-slot send buffer backs up.
	conn := dialHub(t, server.URL)
	defer conn.Close()
	waitForClients(t, h, 1)

	big := strings.Repeat("x", 16*1024)
	for i := 0; i < 2000 && h.ClientCount() > 0; i++ {
		h.SendAlert(context.Background(), New("tok", "rapid-drain", PriorityStandard, big))
	}
	waitForClients(t, h, 0)
}

func TestHub_SendWithNoClients(t *testing.T) {
	h := NewHub(DefaultHubConfig())
	h.SendAlert(context.Background(), New("tok", "slow-bleed", PriorityStandard, "bleeding"))
	assert.Equal(t, 0, h.ClientCount())
}
