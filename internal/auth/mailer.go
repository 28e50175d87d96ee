package auth

import (
	"context"

	"github.com/charmbracelet/log"
)

// Mailer delivers password reset codes.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, code string) error
}

// LogMailer "delivers" reset codes by logging them. Good enough for a
// single-machine install where the user reads their own logs.
type LogMailer struct {
	Logger *log.Logger
}

func (m LogMailer) SendPasswordReset(_ context.Context, email, code string) error {
	m.Logger.Info("password reset requested", "email", email, "code", code)
	return nil
}
