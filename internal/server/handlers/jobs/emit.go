package jobs

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"soika/jobrouter/internal/jobrouter"
	"soika/jobrouter/pkg/ginx"
)

const (
	maxBodyBytes   = 1 << 20
	maxMaxAttempts = 1000
)

// EmitResponse is returned for an accepted job.
type EmitResponse struct {
	MessageID string `json:"message_id" example:"3f2b6c1e-8d0a-4f7e-9a51-2c9d1b7e4a10"`
	Kind      string `json:"kind" example:"sendWelcomeEmail"`
	Queue     string `json:"queue" example:"jobs"`
}

// Emit godoc
// @Summary      Emit a job
// @Description  Validates the body against the kind's input contract and queues it.
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        kind          path  string true  "job kind"
// @Param        delay         query string false "delivery delay, Go duration (e.g. 30s)"
// @Param        priority      query int    false "delivery priority, higher first"
// @Param        max_attempts  query int    false "attempt budget"
// @Success      202 {object} ginx.Response{data=EmitResponse}
// @Failure      400 {object} ginx.Response "invalid payload or options"
// @Failure      404 {object} ginx.Response "unknown kind"
// @Failure      413 {object} ginx.Response "body over 1 MiB"
// @Failure      503 {object} ginx.Response "queue unavailable"
// @Router       /jobs/{kind} [post]
func (h *JobHandler) Emit(c *gin.Context) {
	kind := c.Param("kind")

	opts, err := deliveryOptions(c)
	if err != nil {
		ginx.BadRequest(c, err.Error())
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ginx.Error(c, http.StatusRequestEntityTooLarge, "body exceeds 1 MiB")
			return
		}
		ginx.BadRequest(c, "failed to read body")
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		ginx.BadRequest(c, "body must be a JSON document")
		return
	}

	ctx := c.Request.Context()
	id, err := h.router.EmitID(ctx, kind, json.RawMessage(body), opts...)
	if err != nil {
		h.fail(c, kind, err)
		return
	}

	ginx.Accepted(c, EmitResponse{
		MessageID: id,
		Kind:      kind,
		Queue:     h.router.Queue(),
	})
}

func (h *JobHandler) fail(c *gin.Context, kind string, err error) {
	var verr *jobrouter.ValidationError
	switch {
	case errors.As(err, &verr):
		ginx.ValidationFailed(c, violationDetails(verr.Violations))
	case errors.Is(err, jobrouter.ErrUnknownJobKind):
		ginx.NotFound(c, "unknown job kind: "+kind)
	case errors.Is(err, jobrouter.ErrTransportUnavailable):
		h.log.Warnf(c.Request.Context(), "[API] Emit %s: %v", kind, err)
		ginx.ServiceUnavailable(c, "job queue unavailable")
	default:
		h.log.Errorf(c.Request.Context(), "[API] Emit %s failed: %v", kind, err)
		ginx.InternalError(c, err.Error())
	}
}

func violationDetails(vs []jobrouter.Violation) []ginx.ErrorDetail {
	details := make([]ginx.ErrorDetail, 0, len(vs))
	for _, v := range vs {
		details = append(details, ginx.ErrorDetail{
			Path: v.Field,
			Rule: v.Rule,
			Info: v.Message,
		})
	}
	return details
}

func deliveryOptions(c *gin.Context) ([]jobrouter.DeliveryOption, error) {
	var opts []jobrouter.DeliveryOption

	if s := c.Query("delay"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return nil, errors.New("delay must be a non-negative duration")
		}
		opts = append(opts, jobrouter.WithDelay(d))
	}
	if s := c.Query("priority"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.New("priority must be an integer")
		}
		opts = append(opts, jobrouter.WithPriority(p))
	}
	if s := c.Query("max_attempts"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxMaxAttempts {
			return nil, errors.New("max_attempts must be between 1 and 1000")
		}
		opts = append(opts, jobrouter.WithMaxAttempts(n))
	}
	return opts, nil
}
