package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/domain"
	wire "github.com/dkeye/voicecall/internal/signal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// backend is a fake chat server: it records frames it receives and runs
// onConnect for every accepted connection.
type backend struct {
	mu        sync.Mutex
	received  []wire.Envelope
	conns     int
	onConnect func(n int, conn *websocket.Conn)
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns++
	n := b.conns
	b.mu.Unlock()

	if b.onConnect != nil {
		b.onConnect(n, ws)
	}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var env wire.Envelope
		if json.Unmarshal(data, &env) == nil && env.Type != typePing {
			b.mu.Lock()
			b.received = append(b.received, env)
			b.mu.Unlock()
		}
	}
}

func (b *backend) frames() []wire.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]wire.Envelope(nil), b.received...)
}

func TestPublishBeforeConnectIsDelivered(t *testing.T) {
	b := &backend{}
	c := NewClient(Options{ReconnectMin: 10 * time.Millisecond})
	require.NoError(t, c.Publish(wire.Envelope{Type: "call.end", Data: json.RawMessage(`{"chatId":1}`)}))

	srv := httptest.NewServer(b)
	defer srv.Close()
	c.opts.URL = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return len(b.frames()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "call.end", b.frames()[0].Type)
	assert.JSONEq(t, `{"chatId":1}`, string(b.frames()[0].Data))
}

func TestStreamsArePrefixed(t *testing.T) {
	b := &backend{onConnect: func(_ int, ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"presence.online","data":{"memberId":3}}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"call.incoming","data":{"chatId":9,"fromMemberId":3}}`))
	}}
	c := NewClient(Options{})
	calls := c.Subscribe(wire.Prefix)
	presence := c.Subscribe("presence.")

	srv := httptest.NewServer(b)
	defer srv.Close()
	c.opts.URL = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	env, err := calls.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "call.incoming", env.Type)

	env, err = presence.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "presence.online", env.Type)

	cancel()
	_, err = calls.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrStopped)
}

func TestReconnectReportsState(t *testing.T) {
	b := &backend{onConnect: func(n int, ws *websocket.Conn) {
		if n == 1 {
			_ = ws.Close()
		}
	}}

	var mu sync.Mutex
	var states []bool
	c := NewClient(Options{})
	c.OnStateChange(func(connected bool) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, connected)
	})

	srv := httptest.NewServer(b)
	defer srv.Close()
	c.opts.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	c.opts.ReconnectMin = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 3
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []bool{true, false, true}, states[:3])
	mu.Unlock()
	assert.True(t, c.Connected())

	require.NoError(t, c.Publish(wire.Envelope{Type: "call.accept", Data: json.RawMessage(`{"chatId":1}`)}))
	require.Eventually(t, func() bool { return len(b.frames()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.False(t, c.Connected())
}

func TestBackpressureWhenQueueFull(t *testing.T) {
	c := NewClient(Options{SendQueue: 1})
	require.NoError(t, c.TrySend([]byte(`{"type":"call.end"}`)))
	assert.ErrorIs(t, c.TrySend([]byte(`{"type":"call.end"}`)), ErrBackpressure)
}

func TestStreamIsUnboundedFIFO(t *testing.T) {
	s := newStream(wire.Prefix)
	for i := 0; i < 1000; i++ {
		s.push(wire.Envelope{Type: "call.ice.candidate", Data: json.RawMessage(`{"chatId":1}`)})
	}
	s.push(wire.Envelope{Type: "call.end"})

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		env, err := s.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, "call.ice.candidate", env.Type)
	}
	env, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "call.end", env.Type)

	s.Close()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, domain.ErrStopped)
}

func TestServerPingIsAnswered(t *testing.T) {
	b := &backend{onConnect: func(_ int, ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
	}}
	c := NewClient(Options{})
	calls := c.Subscribe(wire.Prefix)

	srv := httptest.NewServer(b)
	defer srv.Close()
	c.opts.URL = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return len(b.frames()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, typePong, b.frames()[0].Type)

	cancel()
	_, err := calls.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrStopped, "keepalive frames never reach subscribers")
}
