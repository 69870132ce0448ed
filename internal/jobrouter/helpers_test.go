package jobrouter

import (
	"context"
	"sync"
	"time"

	"soika/jobrouter/internal/framework"
	"soika/jobrouter/internal/transport"
)

type welcomeInput struct {
	Email string `json:"email" validate:"required,email"`
}

type reportInput struct {
	ReportID string `json:"reportId" validate:"required,max=8"`
	Pages    int    `json:"pages" validate:"min=1"`
}

type sent struct {
	body []byte
	opts transport.SendOptions
}

// spyTransport records sends. It fails them with err when set: always,
// or only the first failures sends when failures > 0.
type spyTransport struct {
	mu       sync.Mutex
	sends    []sent
	attempts int
	err      error
	failures int
}

var _ Transport = (*spyTransport)(nil)

func (s *spyTransport) Send(ctx context.Context, body []byte, opts transport.SendOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil && (s.failures == 0 || s.attempts <= s.failures) {
		return "", s.err
	}
	s.sends = append(s.sends, sent{body: append([]byte(nil), body...), opts: opts})
	return "msg-1", nil
}

func (s *spyTransport) Queue() string { return "jobs" }

func (s *spyTransport) Receive(ctx context.Context, queue string, opts framework.ReceiveOptions) (*framework.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *spyTransport) Ack(ctx context.Context, msg *framework.Message) error { return nil }

func (s *spyTransport) Nack(ctx context.Context, msg *framework.Message, requeue bool, delay time.Duration) error {
	return nil
}

func (s *spyTransport) sendAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *spyTransport) sent() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sends...)
}
