package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"simplechat/internal/apperr"
	"simplechat/internal/session"
)

// loadClient never fails: unreadable state is treated as a new client.
func (h *handler) loadClient(c *gin.Context) session.ClientContext {
	cc, err := h.state.Load(c.Request)
	if err != nil {
		h.logger.Debug().Err(err).Str("request_id", requestIDFrom(c)).Msg("discarding client state")
		return session.ClientContext{}
	}
	return cc
}

// storeClient writes cc back when it differs from what the request carried.
// It must run before the response body is written.
func (h *handler) storeClient(c *gin.Context, before, after session.ClientContext) bool {
	if before == after {
		return true
	}
	if err := h.state.Save(c.Writer, c.Request, after); err != nil {
		h.fail(c, err)
		return false
	}
	return true
}

func (h *handler) ok(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}

func (h *handler) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("request_id", requestIDFrom(c)).Str("path", c.FullPath()).Msg("request failed")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}
