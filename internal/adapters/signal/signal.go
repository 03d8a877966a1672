// Package signal is the WebSocket signaling transport. It keeps one
// reconnecting connection to the chat backend and multiplexes inbound frames
// into independent streams selected by type prefix.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/domain"
	wire "github.com/dkeye/voicecall/internal/signal"
)

var ErrBackpressure = errors.New("backpressure")

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type Dialer func(ctx context.Context, url string, header http.Header) (WSConn, error)

func websocketDialer(ctx context.Context, url string, header http.Header) (WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Options struct {
	URL          string
	Header       http.Header
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	SendQueue    int
	PingInterval time.Duration
	WriteTimeout time.Duration
	Dial         Dialer
}

func (o *Options) defaults() {
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = 500 * time.Millisecond
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = 30 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Dial == nil {
		o.Dial = websocketDialer
	}
}

// Client is the reconnecting signaling connection. Frames published while
// disconnected wait in the send queue and go out after the next dial.
type Client struct {
	opts Options
	send chan []byte

	// retry holds a frame whose write failed; it goes out first on reconnect.
	retry []byte

	connected atomic.Bool

	mu       sync.Mutex
	streams  []*Stream
	handlers []func(connected bool)
	closed   bool
}

func NewClient(opts Options) *Client {
	opts.defaults()
	return &Client{
		opts: opts,
		send: make(chan []byte, opts.SendQueue),
	}
}

func (c *Client) Connected() bool { return c.connected.Load() }

// OnStateChange registers fn for connect/disconnect edges. Handlers run on
// the connection goroutine and must not block.
func (c *Client) OnStateChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Subscribe returns a stream receiving every inbound envelope whose type
// starts with prefix. An empty prefix receives everything.
func (c *Client) Subscribe(prefix string) *Stream {
	s := newStream(prefix)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		s.Close()
		return s
	}
	c.streams = append(c.streams, s)
	return s
}

func (c *Client) Publish(env wire.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	return c.TrySend(b)
}

func (c *Client) TrySend(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return domain.ErrStopped
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Run dials and redials until ctx is done, then closes every stream.
func (c *Client) Run(ctx context.Context) error {
	defer c.shutdown()

	backoff := c.opts.ReconnectMin
	for {
		conn, err := c.opts.Dial(ctx, c.opts.URL, c.opts.Header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("module", "signal").Dur("backoff", backoff).Msg("dial failed")
		} else {
			backoff = c.opts.ReconnectMin
			c.setConnected(true)
			err = c.serve(ctx, conn)
			c.setConnected(false)
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("module", "signal").Msg("connection lost")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.opts.ReconnectMax {
			backoff = c.opts.ReconnectMax
		}
	}
}

func (c *Client) setConnected(v bool) {
	if c.connected.Swap(v) == v {
		return
	}
	log.Info().Str("module", "signal").Bool("connected", v).Str("url", c.opts.URL).Msg("transport state")
	c.mu.Lock()
	handlers := append([]func(bool){}, c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(v)
	}
}

func (c *Client) dispatch(env wire.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delivered := false
	for _, s := range c.streams {
		if strings.HasPrefix(env.Type, s.prefix) {
			s.push(env)
			delivered = true
		}
	}
	if !delivered {
		log.Debug().Str("module", "signal").Str("type", env.Type).Msg("no subscriber")
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, s := range c.streams {
		s.Close()
	}
}
