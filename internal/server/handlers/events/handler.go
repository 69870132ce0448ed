package events

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"

	"soika/jobrouter/pkg/ginx"
	redisx "soika/jobrouter/pkg/infra/redis"
	"soika/jobrouter/pkg/logger"
)

// Source streams job outcome events.
type Source interface {
	Subscribe(ctx context.Context) (<-chan *redisx.JobEvent, error)
}

var _ Source = (*redisx.PubSub)(nil)

// EventHandler relays outcome events to HTTP clients as server-sent events.
type EventHandler struct {
	source Source
	log    logger.Logger
}

// NewEventHandler streams events read from source.
func NewEventHandler(source Source, log logger.Logger) *EventHandler {
	return &EventHandler{
		source: source,
		log:    log,
	}
}

// Stream godoc
// @Summary      Stream job outcomes
// @Description  Server-sent events, one "job" event per settled delivery.
// @Tags         jobs
// @Produce      text/event-stream
// @Success      200 {object} redisx.JobEvent
// @Failure      503 {object} ginx.Response
// @Router       /jobs/events [get]
func (h *EventHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	events, err := h.source.Subscribe(ctx)
	if err != nil {
		h.log.Warnf(ctx, "[API] Event subscribe failed: %v", err)
		ginx.ServiceUnavailable(c, "event stream unavailable")
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("job", ev)
			return true
		}
	})
}
