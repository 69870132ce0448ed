package domains

import (
	"context"
	"time"

	"soika/jobrouter/internal/jobrouter"
	"soika/jobrouter/pkg/errorutil"
	"soika/jobrouter/pkg/logger"
)

type SendWelcomeEmailInput struct {
	Email string `json:"email" validate:"required,email"`
}

// Mailer delivers transactional mail.
type Mailer interface {
	SendWelcome(ctx context.Context, email string) error
}

// LogMailer only logs; it stands in when no mail provider is wired.
type LogMailer struct {
	Log logger.Logger
}

// SendWelcome logs the address instead of sending mail.
func (m *LogMailer) SendWelcome(ctx context.Context, email string) error {
	m.Log.Infof(ctx, "[LogMailer] welcome email to %s", email)
	return nil
}

func newSendWelcomeEmail(deps Deps) *jobrouter.Job[SendWelcomeEmailInput] {
	return jobrouter.DefineJob[SendWelcomeEmailInput](
		jobrouter.WithMaxAttempts(5),
		jobrouter.WithExponentialBackoff(2*time.Second, time.Minute),
	).Handler(func(ctx context.Context, in SendWelcomeEmailInput) error {
		if deps.Mailer == nil {
			return errorutil.NonRetriableWithDetails("mailer not configured", KindSendWelcomeEmail)
		}
		return deps.Mailer.SendWelcome(ctx, in.Email)
	})
}
