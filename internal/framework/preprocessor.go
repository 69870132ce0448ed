package framework

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Middleware wraps a Proc with cross-cutting behaviour.
type Middleware func(next Proc) Proc

// Chain wraps proc so that mws[0] is the outermost layer.
func Chain(proc Proc, mws ...Middleware) Proc {
	for i := len(mws) - 1; i >= 0; i-- {
		proc = mws[i](proc)
	}
	return proc
}

// Recover turns a panic below it into a Release outcome.
func Recover(log Logger) Middleware {
	return func(next Proc) Proc {
		return func(ctx context.Context, msg *Message) (resp *JobResp) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf(ctx, "[Recover] panic while processing %s: %v\n%s", msg.ID, r, debug.Stack())
					resp = &JobResp{
						Action: ActionRelease,
						Err:    fmt.Errorf("panic: %v", r),
					}
				}
			}()
			return next(ctx, msg)
		}
	}
}

// Logging logs the outcome of every message.
func Logging(log Logger) Middleware {
	return func(next Proc) Proc {
		return func(ctx context.Context, msg *Message) *JobResp {
			start := time.Now()
			resp := next(ctx, msg)
			if resp == nil {
				return resp
			}
			elapsed := time.Since(start)

			if resp.Err != nil {
				log.Warnf(ctx, "[Process] %s kind=%s attempt=%d action=%s elapsed=%v err=%v",
					msg.ID, resp.Kind, msg.Attempt, resp.Action, elapsed, resp.Err)
			} else {
				log.Infof(ctx, "[Process] %s kind=%s attempt=%d action=%s elapsed=%v",
					msg.ID, resp.Kind, msg.Attempt, resp.Action, elapsed)
			}
			return resp
		}
	}
}
