package jobrouter

import "context"

type routerKey struct{}

type jobInfoKey struct{}

// JobInfo describes the delivery a handler is running for.
type JobInfo struct {
	Kind        string
	MessageID   string
	RequestID   string
	Attempt     int
	MaxAttempts int
}

// WithRouter makes r available to code running under ctx.
func WithRouter(ctx context.Context, r *Router) context.Context {
	return context.WithValue(ctx, routerKey{}, r)
}

// RouterFrom returns the router that dispatched the current job, so a
// handler can emit follow-up jobs.
func RouterFrom(ctx context.Context) (*Router, bool) {
	r, ok := ctx.Value(routerKey{}).(*Router)
	return r, ok && r != nil
}

func withJobInfo(ctx context.Context, info JobInfo) context.Context {
	return context.WithValue(ctx, jobInfoKey{}, info)
}

// JobInfoFrom returns the delivery details of the current job.
func JobInfoFrom(ctx context.Context) (JobInfo, bool) {
	info, ok := ctx.Value(jobInfoKey{}).(JobInfo)
	return info, ok
}
