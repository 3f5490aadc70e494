package websocket

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/redact/internal/config"
	"github.com/raaihank/redact/internal/logger"
	"github.com/raaihank/redact/internal/privacy"
)

func testConfig() config.WebSocketConfig {
	cfg := config.WebSocketConfig{Enabled: true, Path: "/ws", Username: "admin", Password: "secret"}
	cfg.Events.BroadcastRedactions = true
	cfg.Events.BroadcastRequests = false
	cfg.Events.BroadcastSystem = true
	cfg.Events.BroadcastConnections = false
	return cfg
}

func TestShouldBroadcastEvent(t *testing.T) {
	h := NewHub(testConfig(), logger.NewNop())

	assert.True(t, h.shouldBroadcastEvent(EventTypeRedaction))
	assert.False(t, h.shouldBroadcastEvent(EventTypeRequestLog))
	assert.True(t, h.shouldBroadcastEvent(EventTypeSystemStatus))
	assert.False(t, h.shouldBroadcastEvent(EventTypeConnection))
	assert.False(t, h.shouldBroadcastEvent("unknown"))

	disabled := testConfig()
	disabled.Enabled = false
	assert.False(t, NewHub(disabled, logger.NewNop()).shouldBroadcastEvent(EventTypeRedaction))
}

func TestBroadcastEventNeverBlocks(t *testing.T) {
	h := NewHub(testConfig(), logger.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			h.BroadcastEvent(Event{Type: EventTypeRedaction})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BroadcastEvent blocked without a running hub")
	}
	assert.Equal(t, int64(300-256), h.GetStats().DroppedEvents)
}

func TestClientSubscription(t *testing.T) {
	c := &Client{}
	assert.True(t, c.wants(EventTypeRedaction))

	c.subscription = &SubscriptionRequest{Events: []EventType{EventTypeSystemStatus}}
	assert.False(t, c.wants(EventTypeRedaction))
	assert.True(t, c.wants(EventTypeSystemStatus))
	assert.True(t, c.wants(EventTypePong))
}

func TestNewRedactionEventCarriesCountsOnly(t *testing.T) {
	res := privacy.ProcessResult{
		RedactedText: "mail [EMAIL]",
		Entities:     []privacy.Entity{{Value: "john@acme.com", Category: privacy.CategoryEmail}},
		Findings:     []privacy.Finding{{Category: privacy.CategoryEmail, Count: 1}},
		Level:        privacy.LevelToken,
		Original:     "mail john@acme.com",
	}

	ev := NewRedactionEvent("req-1", "text", "keep_all", res, false, 1500*time.Microsecond)
	assert.Equal(t, EventTypeRedaction, ev.Type)
	assert.Equal(t, "req-1", ev.RequestID)

	data, ok := ev.Data.(RedactionEvent)
	require.True(t, ok)
	assert.Equal(t, 1, data.TotalEntities)
	assert.Equal(t, 18, data.InputChars)
	assert.Equal(t, 2, data.Level)
	assert.InDelta(t, 1.5, data.ProcessingMS, 0.001)
}

func TestHubClientIP(t *testing.T) {
	h := NewHub(testConfig(), logger.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "10.0.0.7", h.clientIP(r))

	h.SetClientIP(func(*http.Request) string { return "203.0.113.9" })
	assert.Equal(t, "203.0.113.9", h.clientIP(r))
}

func basicAuth(user, pass string) http.Header {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	return http.Header{"Authorization": []string{"Basic " + token}}
}

func TestHandleWebSocket(t *testing.T) {
	h := NewHub(testConfig(), logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url, basicAuth("admin", "wrong"))
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, basicAuth("admin", "secret"))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return h.GetStats().ActiveConnections == 1
	}, 2*time.Second, 10*time.Millisecond)

	res := privacy.ProcessResult{Level: privacy.LevelToken, Findings: []privacy.Finding{{Category: privacy.CategoryPhone, Count: 2}}}
	h.BroadcastEvent(NewRedactionEvent("req-9", "text", "keep_all", res, true, time.Millisecond))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]interface{}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "redaction", got["type"])
	assert.Equal(t, "req-9", got["request_id"])

	data := got["data"].(map[string]interface{})
	assert.Equal(t, true, data["cached"])
	assert.Equal(t, float64(2), data["level"])
}
