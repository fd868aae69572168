package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxhall/scribeq/sched"
)

// collectingHandler records events as they arrive.
type collectingHandler struct {
	mu     sync.Mutex
	events []sched.Event
}

func (c *collectingHandler) HandleNotification(ctx context.Context, event sched.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *collectingHandler) wait(t *testing.T, n int) []sched.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		count := len(c.events)
		c.mu.Unlock()
		if count >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	require.GreaterOrEqual(t, len(c.events), n, "timed out waiting for %d events", n)
	return append([]sched.Event(nil), c.events...)
}

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// eventStreamServer serves a WebSocket endpoint that pushes the given
// payloads to every connection, then holds the connection open.
func eventStreamServer(t *testing.T, payloads ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, payload := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return
			}
		}

		// Hold the connection open until the client drops it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestListener_DeliversEvents(t *testing.T) {
	server := eventStreamServer(t,
		`{"job_id":"job-1","event_type":"job_completed","output_ref":"s3://out"}`,
		`{"job_id":"job-2","event_type":"job_failed","error_message":"decoder crashed"}`,
	)
	defer server.Close()

	handler := &collectingHandler{}
	listener := NewListener(wsURL(server), handler, zap.NewNop().Sugar())

	listener.Start(context.Background())
	defer listener.Stop()

	events := handler.wait(t, 2)
	assert.Equal(t, "job-1", events[0].JobID)
	assert.Equal(t, sched.EventJobCompleted, events[0].EventType)
	assert.Equal(t, "s3://out", events[0].OutputRef)
	assert.Equal(t, "job-2", events[1].JobID)
	assert.Equal(t, sched.EventJobFailed, events[1].EventType)
	assert.Equal(t, "decoder crashed", events[1].ErrorMessage)
}

func TestListener_SkipsMalformedEvents(t *testing.T) {
	server := eventStreamServer(t,
		`this is not json`,
		`{"job_id":"job-1","event_type":"job_completed"}`,
	)
	defer server.Close()

	handler := &collectingHandler{}
	listener := NewListener(wsURL(server), handler, zap.NewNop().Sugar())

	listener.Start(context.Background())
	defer listener.Stop()

	events := handler.wait(t, 1)
	assert.Equal(t, "job-1", events[0].JobID)
}

func TestListener_ReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	connections := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		mu.Lock()
		connections++
		nth := connections
		mu.Unlock()

		if nth == 1 {
			// Drop the first connection immediately.
			conn.Close()
			return
		}

		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"job_id":"job-after-reconnect","event_type":"job_completed"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	handler := &collectingHandler{}
	listener := NewListener(wsURL(server), handler, zap.NewNop().Sugar())

	listener.Start(context.Background())
	defer listener.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		handler.mu.Lock()
		count := len(handler.events)
		handler.mu.Unlock()
		if count > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	events := handler.wait(t, 1)
	assert.Equal(t, "job-after-reconnect", events[0].JobID)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, connections, 2)
}

func TestListener_StopBeforeStartIsNoOp(t *testing.T) {
	listener := NewListener("ws://127.0.0.1:1/events", &collectingHandler{}, zap.NewNop().Sugar())
	listener.Stop()
}
