// Package app holds the controllers that sit between the command line or
// terminal UI and the repository and identity provider: input validation,
// user-facing messages and error wrapping.
package app

import (
	"context"
	"strings"

	"github.com/Makepad-fr/tada/internal/auth"
)

const (
	MsgInvalidEmail    = "enter a valid email address"
	MsgShortPassword   = "password must be at least 6 characters"
	MsgSignedUp        = "account created, you are signed in"
	MsgResetSent       = "a password reset code has been sent"
	MsgPasswordChanged = "password changed, sign in with the new password"
	MsgSignedOut       = "signed out"
	MsgResetNotOffered = "this identity provider cannot confirm password resets"
)

// Message is a user-facing outcome.
type Message struct {
	Text  string
	Error bool
}

func info(text string) Message    { return Message{Text: text} }
func failure(text string) Message { return Message{Text: text, Error: true} }

func fromResult(r auth.Result, success string) Message {
	if !r.OK() {
		return failure(r.Message())
	}
	return info(success)
}

// ResetConfirmer is implemented by providers that complete a password
// reset locally.
type ResetConfirmer interface {
	ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) auth.Result
}

// AuthFlow validates credentials before they reach the provider.
type AuthFlow struct {
	provider auth.Provider
}

func NewAuthFlow(p auth.Provider) *AuthFlow { return &AuthFlow{provider: p} }

// Session returns the current session.
func (f *AuthFlow) Session() auth.Session {
	u, ok := f.provider.CurrentUser()
	if !ok {
		return auth.Session{}
	}
	return auth.Session{Authenticated: true, UserID: u.ID, Email: u.Email}
}

func (f *AuthFlow) SignIn(ctx context.Context, email, password string) Message {
	if msg, ok := validate(email, password); !ok {
		return msg
	}
	email = strings.TrimSpace(email)
	return fromResult(f.provider.SignIn(ctx, email, password), "signed in as "+strings.ToLower(email))
}

func (f *AuthFlow) SignUp(ctx context.Context, email, password string) Message {
	if msg, ok := validate(email, password); !ok {
		return msg
	}
	return fromResult(f.provider.SignUp(ctx, strings.TrimSpace(email), password), MsgSignedUp)
}

func (f *AuthFlow) ResetPassword(ctx context.Context, email string) Message {
	email = strings.TrimSpace(email)
	if !auth.ValidEmail(email) {
		return failure(MsgInvalidEmail)
	}
	return fromResult(f.provider.ResetPassword(ctx, email), MsgResetSent)
}

func (f *AuthFlow) ConfirmReset(ctx context.Context, email, code, newPassword string) Message {
	rc, ok := f.provider.(ResetConfirmer)
	if !ok {
		return failure(MsgResetNotOffered)
	}
	if msg, ok := validate(email, newPassword); !ok {
		return msg
	}
	return fromResult(rc.ConfirmPasswordReset(ctx, strings.TrimSpace(email), code, newPassword), MsgPasswordChanged)
}

func (f *AuthFlow) SignOut(ctx context.Context) Message {
	return fromResult(f.provider.SignOut(ctx), MsgSignedOut)
}

func validate(email, password string) (Message, bool) {
	if !auth.ValidEmail(strings.TrimSpace(email)) {
		return failure(MsgInvalidEmail), false
	}
	if !auth.ValidPassword(password) {
		return failure(MsgShortPassword), false
	}
	return Message{}, true
}
