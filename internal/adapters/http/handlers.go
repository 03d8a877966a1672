package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/domain"
)

type handlers struct {
	calls   Calls
	history History
}

type initiateRequest struct {
	ChatID domain.ChatID `json:"chatId" binding:"required"`
	Video  bool          `json:"video"`
	Mode   domain.Mode   `json:"mode"`
}

type rejectRequest struct {
	Cancel bool `json:"cancel"`
}

type endRequest struct {
	Reason domain.Reason `json:"reason"`
}

// status maps machine errors onto HTTP codes and the body's error string.
func status(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrNoActiveCall):
		return http.StatusNotFound, "no_active_call"
	case errors.Is(err, domain.ErrUnknownChat):
		return http.StatusNotFound, "unknown_chat"
	case errors.Is(err, domain.ErrUnknownMode):
		return http.StatusBadRequest, "unknown_mode"
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, string(domain.ReasonPermissionDenied)
	case errors.Is(err, domain.ErrDeviceUnavailable), errors.Is(err, domain.ErrDeviceBusy):
		return http.StatusServiceUnavailable, string(domain.ReasonDeviceUnavailable)
	case errors.Is(err, domain.ErrTransportDisconnected):
		return http.StatusServiceUnavailable, string(domain.ReasonTransportLost)
	case errors.Is(err, domain.ErrNegotiationFailed):
		return http.StatusBadGateway, string(domain.ReasonNegotiationFailed)
	case errors.Is(err, domain.ErrStopped):
		return http.StatusServiceUnavailable, "stopped"
	default:
		return http.StatusInternalServerError, string(domain.ReasonInternal)
	}
}

func (h *handlers) reply(c *gin.Context, err error) {
	if err != nil {
		code, reason := status(err)
		log.Warn().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).
			Str("path", c.FullPath()).Err(err).Msg("call action failed")
		c.JSON(code, gin.H{"error": reason})
		return
	}
	c.JSON(http.StatusOK, h.calls.Snapshot())
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.calls.Snapshot())
}

// events streams every projection change as SSE, starting with the current one.
func (h *handlers) events(c *gin.Context) {
	states, unsubscribe := h.calls.Subscribe()
	defer unsubscribe()

	c.SSEvent("state", h.calls.Snapshot())
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case st, ok := <-states:
			if !ok {
				return false
			}
			c.SSEvent("state", st)
			return true
		case <-done:
			return false
		}
	})
}

func (h *handlers) recent(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	calls, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(domain.ReasonInternal)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

func (h *handlers) initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid chatId/mode"})
		return
	}
	h.reply(c, h.calls.Initiate(c.Request.Context(), req.ChatID, req.Video, req.Mode))
}

func (h *handlers) accept(c *gin.Context) {
	h.reply(c, h.calls.Accept(c.Request.Context()))
}

func (h *handlers) reject(c *gin.Context) {
	var req rejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	h.reply(c, h.calls.Reject(c.Request.Context(), req.Cancel))
}

func (h *handlers) end(c *gin.Context) {
	req := endRequest{Reason: domain.ReasonHangup}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	h.reply(c, h.calls.EndCall(c.Request.Context(), req.Reason))
}

func (h *handlers) toggle(c *gin.Context) {
	ctx := c.Request.Context()
	switch c.Param("kind") {
	case "audio":
		h.reply(c, h.calls.ToggleAudio(ctx))
	case "video":
		h.reply(c, h.calls.ToggleVideo(ctx))
	case "screen":
		h.reply(c, h.calls.ToggleScreenShare(ctx))
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown toggle"})
	}
}
