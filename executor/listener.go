package executor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxhall/scribeq/sched"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum event message size from the stream
	maxMessageSize = 64 * 1024
)

// Reconnect backoff bounds. The stream is at-least-once and the
// sweeper backstops lost events, so slow reconnection only delays
// terminal transitions, never loses them.
const (
	reconnectMin = time.Second
	reconnectMax = time.Minute
)

// EventHandler consumes one completion event. Implemented by
// sched.CompletionHandler.
type EventHandler interface {
	HandleNotification(ctx context.Context, event sched.Event) error
}

// Listener consumes the executor's completion event stream over
// WebSocket and feeds each event to the handler. It reconnects with
// exponential backoff for as long as its context lives.
type Listener struct {
	streamURL string
	handler   EventHandler
	log       *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener creates a completion event stream listener.
func NewListener(streamURL string, handler EventHandler, log *zap.SugaredLogger) *Listener {
	return &Listener{
		streamURL: streamURL,
		handler:   handler,
		log:       log,
	}
}

// Start begins consuming the stream in the background.
func (l *Listener) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx)
	l.log.Infow("Completion event listener started", "stream_url", l.streamURL)
}

// Stop closes the stream connection and waits for the consume loop to
// exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
	l.log.Infow("Completion event listener stopped")
}

// run dials, consumes until the connection drops, and redials with
// backoff until the context is canceled.
func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	backoff := reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.consume(ctx); err != nil && ctx.Err() == nil {
			l.log.Warnw("Event stream connection lost",
				"stream_url", l.streamURL,
				"retry_in", backoff,
				"error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// consume holds one connection open and dispatches its events. Returns
// when the connection drops or the context is canceled.
func (l *Listener) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, l.streamURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	l.log.Infow("Connected to completion event stream", "stream_url", l.streamURL)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Close the connection when the context dies so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go l.pingLoop(ctx, conn, done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event sched.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			l.log.Warnw("Discarding malformed event", "error", err)
			continue
		}

		// Handler errors are per-event: a bad event must not tear the
		// stream down, redelivery is handled by idempotence.
		if err := l.handler.HandleNotification(ctx, event); err != nil {
			l.log.Warnw("Failed to handle completion event",
				"job_id", event.JobID,
				"event_type", event.EventType,
				"error", err)
		}
	}
}

func (l *Listener) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
