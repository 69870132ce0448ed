package jobs

import (
	"context"

	"soika/jobrouter/internal/jobrouter"
	"soika/jobrouter/pkg/logger"
)

// Emitter is the part of *jobrouter.Router the HTTP API needs.
type Emitter interface {
	EmitID(ctx context.Context, kind string, payload any, opts ...jobrouter.DeliveryOption) (string, error)
	Kinds() []string
	Queue() string
}

var _ Emitter = (*jobrouter.Router)(nil)

// JobHandler exposes job emission over HTTP.
type JobHandler struct {
	router Emitter
	log    logger.Logger
}

// NewJobHandler builds the job endpoints over router.
func NewJobHandler(router Emitter, log logger.Logger) *JobHandler {
	return &JobHandler{
		router: router,
		log:    log,
	}
}
