package health

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"soika/jobrouter/internal/transport"
	"soika/jobrouter/pkg/ginx"
)

// StateSource reports the queue connection state.
type StateSource interface {
	State() transport.State
}

type HealthHandler struct {
	service string
	source  StateSource
}

// NewHealthHandler reports service health from the transport state.
func NewHealthHandler(service string, source StateSource) *HealthHandler {
	return &HealthHandler{
		service: service,
		source:  source,
	}
}

// Status is the body of /health.
type Status struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Transport string `json:"transport"`
}

// Get answers 200 while the queue is connected and 503 otherwise.
func (h *HealthHandler) Get(c *gin.Context) {
	state := h.source.State()
	status := Status{
		Status:    "ok",
		Service:   h.service,
		Transport: state.String(),
	}
	if state != transport.StateConnected {
		status.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, ginx.Response{
			Meta: ginx.Meta{Code: http.StatusServiceUnavailable, Message: "queue not connected"},
			Data: status,
		})
		return
	}
	ginx.Success(c, status)
}
