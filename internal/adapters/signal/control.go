package signal

import (
	"github.com/rs/zerolog/log"

	wire "github.com/dkeye/voicecall/internal/signal"
)

const (
	typePing = "ping"
	typePong = "pong"
)

var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongFrame = []byte(`{"type":"pong"}`)
)

// handleControl swallows keepalive frames. A server ping is answered with a
// pong; a pong needs nothing beyond the read deadline reset in readPump.
func (c *Client) handleControl(env wire.Envelope) bool {
	switch env.Type {
	case typePong:
		return true
	case typePing:
		if err := c.TrySend(pongFrame); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("pong not sent")
		}
		return true
	}
	return false
}
