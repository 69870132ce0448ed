package jobs

import (
	"github.com/gin-gonic/gin"

	"soika/jobrouter/pkg/ginx"
)

// KindsResponse lists the registered job kinds.
type KindsResponse struct {
	Queue string   `json:"queue"`
	Kinds []string `json:"kinds"`
}

// Kinds godoc
// @Summary      List job kinds
// @Tags         jobs
// @Produce      json
// @Success      200 {object} ginx.Response{data=KindsResponse}
// @Router       /jobs/kinds [get]
func (h *JobHandler) Kinds(c *gin.Context) {
	ginx.Success(c, KindsResponse{
		Queue: h.router.Queue(),
		Kinds: h.router.Kinds(),
	})
}
