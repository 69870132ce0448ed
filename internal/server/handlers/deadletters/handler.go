package deadletters

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"soika/jobrouter/pkg/entity"
	"soika/jobrouter/pkg/errorutil"
	"soika/jobrouter/pkg/ginx"
	"soika/jobrouter/pkg/infra/mysql"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Lister reads archived dead letters.
type Lister interface {
	ListByQueue(ctx context.Context, queue string, limit int) ([]entity.DeadLetter, error)
}

var _ Lister = (*mysql.DeadLetterDAO)(nil)

// DeadLetterHandler exposes the dead-letter archive.
type DeadLetterHandler struct {
	lister       Lister
	defaultQueue string
}

// NewDeadLetterHandler lists from lister; queue defaults to defaultQueue.
func NewDeadLetterHandler(lister Lister, defaultQueue string) *DeadLetterHandler {
	return &DeadLetterHandler{
		lister:       lister,
		defaultQueue: defaultQueue,
	}
}

// ListResponse is the body of a dead-letter listing.
type ListResponse struct {
	Queue string              `json:"queue"`
	Items []entity.DeadLetter `json:"items"`
}

// List godoc
// @Summary      List dead letters
// @Description  Newest archived jobs that were buried, for one queue.
// @Tags         dead-letters
// @Produce      json
// @Param        queue  query string false "queue name, defaults to the router queue"
// @Param        limit  query int    false "page size, 1-500"
// @Success      200 {object} ginx.Response{data=ListResponse}
// @Failure      400 {object} ginx.Response
// @Failure      500 {object} ginx.Response
// @Router       /dead-letters [get]
func (h *DeadLetterHandler) List(c *gin.Context) {
	queue := c.DefaultQuery("queue", h.defaultQueue)

	limit := defaultLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLimit {
			ginx.BadRequest(c, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	items, err := h.lister.ListByQueue(c.Request.Context(), queue, limit)
	if err != nil {
		_ = c.Error(errorutil.RetriableWithDetails("failed to list dead letters", err.Error()))
		return
	}

	ginx.Success(c, ListResponse{Queue: queue, Items: items})
}
