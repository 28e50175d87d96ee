// Package auth is the identity side of tada: who is signed in, how they
// sign in, and a live stream of session changes.
package auth

import (
	"context"
	"regexp"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/stream"
)

// MinPasswordLength is the shortest password accepted at sign-up and
// sign-in.
const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(
	`^[a-zA-Z0-9+._%\-]{1,256}@[a-zA-Z0-9][a-zA-Z0-9\-]{0,64}(\.[a-zA-Z0-9][a-zA-Z0-9\-]{0,25})+$`)

// ValidEmail reports whether email looks like an email address.
func ValidEmail(email string) bool { return emailPattern.MatchString(email) }

// ValidPassword reports whether password is long enough.
func ValidPassword(password string) bool { return len(password) >= MinPasswordLength }

// User is an authenticated identity.
type User struct {
	ID    string
	Email string
}

// Session is the current authentication state.
type Session struct {
	Authenticated bool
	UserID        string
	Email         string
}

func sessionOf(u *User) Session {
	if u == nil {
		return Session{}
	}
	return Session{Authenticated: true, UserID: u.ID, Email: u.Email}
}

// Result is the outcome of an identity operation: success, or failure with
// a message meant for the user.
type Result struct {
	err *model.AuthError
}

// Success is the successful Result.
func Success() Result { return Result{} }

// Failure returns a failed Result carrying msg.
func Failure(msg string) Result { return Result{err: &model.AuthError{Message: msg}} }

// OK reports success.
func (r Result) OK() bool { return r.err == nil }

// Message is the failure message, empty on success.
func (r Result) Message() string {
	if r.err == nil {
		return ""
	}
	return r.err.Message
}

// Err returns the failure as an error, nil on success.
func (r Result) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Provider issues and validates credentials.
type Provider interface {
	SignUp(ctx context.Context, email, password string) Result
	SignIn(ctx context.Context, email, password string) Result
	SignOut(ctx context.Context) Result
	ResetPassword(ctx context.Context, email string) Result

	// CurrentUser returns the signed-in user, if any.
	CurrentUser() (User, bool)
	// OnSessionChange calls fn with the current session, then with every
	// change until unsubscribed.
	OnSessionChange(fn func(Session)) stream.Unsubscribe
}
