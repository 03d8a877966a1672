package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	wire "github.com/dkeye/voicecall/internal/signal"
)

// serve runs the pumps of one connection and returns when either fails.
func (c *Client) serve(ctx context.Context, conn WSConn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writePump(gctx, conn) })
	g.Go(func() error { return c.readPump(gctx, conn) })
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	return g.Wait()
}

func (c *Client) writePump(ctx context.Context, conn WSConn) error {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	if c.retry != nil {
		if err := c.write(conn, c.retry); err != nil {
			return err
		}
		c.retry = nil
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return ctx.Err()
		case data := <-c.send:
			if err := c.write(conn, data); err != nil {
				c.retry = data
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return err
			}
		case <-ticker.C:
			if err := c.write(conn, pingFrame); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping error")
				return err
			}
		}
	}
}

func (c *Client) write(conn WSConn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readPump(ctx context.Context, conn WSConn) error {
	defer log.Debug().Str("module", "signal").Msg("readPump closing")

	idle := 2*c.opts.PingInterval + c.opts.WriteTimeout
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}
	if env.Type == "" {
		log.Warn().Str("module", "signal").Msg("frame without type")
		return
	}
	if c.handleControl(env) {
		return
	}
	c.dispatch(env)
}
