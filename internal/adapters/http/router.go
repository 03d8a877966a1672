package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/history"
)

// Calls is the machine surface exposed to the local UI.
type Calls interface {
	Snapshot() domain.CallState
	Subscribe() (<-chan domain.CallState, func())
	Initiate(ctx context.Context, chat domain.ChatID, video bool, mode domain.Mode) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context, isCancel bool) error
	EndCall(ctx context.Context, reason domain.Reason) error
	ToggleAudio(ctx context.Context) error
	ToggleVideo(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
}

// History lists finished calls.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Call, error)
}

const clientTokenKey = "client_token"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every UI client a stable token kept in its
// cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Str("module", "adapters.http").Err(err).Msg("session save failed")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, calls Calls, hist History, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceCallSessions", store))
	r.Use(ClientTokenMiddleware())

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	h := &handlers{calls: calls, history: hist}
	api := r.Group("/api/call")
	api.GET("", h.state)
	api.GET("/events", h.events)
	api.GET("/history", h.recent)
	api.POST("/initiate", h.initiate)
	api.POST("/accept", h.accept)
	api.POST("/reject", h.reject)
	api.POST("/end", h.end)
	api.POST("/toggle/:kind", h.toggle)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
