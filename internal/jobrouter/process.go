package jobrouter

import (
	"context"
	"fmt"
	"runtime/debug"

	"soika/jobrouter/internal/framework"
	"soika/jobrouter/pkg/errorutil"
	"soika/jobrouter/pkg/logger"
)

// process routes one delivery to its handler and maps the result to an
// action for the processor.
func (r *Router) process(ctx context.Context, msg *framework.Message) *framework.JobResp {
	env, err := decodeEnvelope(msg.Data)
	if err != nil {
		r.log.Errorf(ctx, "[Process] UnsupportedJobKind: message %s: %v", msg.ID, err)
		return &framework.JobResp{Action: framework.ActionBury, Err: err}
	}

	env.Attempt = msg.Attempt
	maxAttempts := msg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = env.Options.MaxAttempts
	}

	ctx = logger.WithTraceID(ctx, env.RequestID)
	ctx = logger.WithJobKind(ctx, env.Kind)

	def, err := r.registry.Resolve(env.Kind)
	if err != nil {
		r.log.Errorf(ctx, "[Process] UnsupportedJobKind: %v", err)
		return &framework.JobResp{Action: framework.ActionBury, Kind: env.Kind, Unsupported: true, Err: err}
	}

	in, err := def.Validate(env.Kind, env.Payload)
	if err != nil {
		r.log.Errorf(ctx, "[Process] InvalidPayload: %v", err)
		return &framework.JobResp{Action: framework.ActionBury, Kind: env.Kind, Err: err}
	}

	ctx = WithRouter(ctx, r)
	ctx = withJobInfo(ctx, JobInfo{
		Kind:        env.Kind,
		MessageID:   msg.ID,
		RequestID:   env.RequestID,
		Attempt:     env.Attempt,
		MaxAttempts: maxAttempts,
	})

	if err := invoke(ctx, def, in); err != nil {
		herr := &HandlerError{Kind: env.Kind, Attempt: env.Attempt, Err: err}

		if !errorutil.IsRetryable(err) {
			r.log.Errorf(ctx, "[Process] %v, not retryable", herr)
			return &framework.JobResp{Action: framework.ActionBury, Kind: env.Kind, Err: herr}
		}
		if maxAttempts > 0 && env.Attempt >= maxAttempts {
			r.log.Errorf(ctx, "[Process] %v, attempts exhausted (%d)", herr, maxAttempts)
			return &framework.JobResp{Action: framework.ActionBury, Kind: env.Kind, Err: herr}
		}
		return &framework.JobResp{
			Action:  framework.ActionRelease,
			RetryIn: env.Options.Backoff.Next(env.Attempt),
			Kind:    env.Kind,
			Err:     herr,
		}
	}

	return &framework.JobResp{Action: framework.ActionSuccess, Kind: env.Kind}
}

// invoke runs the handler, converting a panic into an error.
func invoke(ctx context.Context, def Definition, in any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return def.Handle(ctx, in)
}
