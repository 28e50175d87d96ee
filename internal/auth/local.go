package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Makepad-fr/tada/internal/store/docstore"
	"github.com/Makepad-fr/tada/internal/stream"
)

const (
	tokenIssuer       = "tada"
	defaultSessionTTL = 30 * 24 * time.Hour
	resetCodeTTL      = time.Hour
)

const (
	msgEmailInUse     = "the email address is already in use by another account"
	msgBadCredentials = "no account matches this email and password"
	msgUnknownEmail   = "there is no account for this email address"
	msgBadResetCode   = "the reset code is invalid or has expired"
	msgShortPassword  = "password must be at least 6 characters"
)

type account struct {
	Email          string     `json:"email"`
	PasswordHash   string     `json:"passwordHash"`
	CreatedAt      time.Time  `json:"createdAt"`
	ResetCodeHash  string     `json:"resetCodeHash,omitempty"`
	ResetExpiresAt *time.Time `json:"resetExpiresAt,omitempty"`
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// LocalOptions configures a LocalProvider.
type LocalOptions struct {
	// Secret signs session tokens. Required.
	Secret      []byte
	SessionTTL  time.Duration
	Credentials Credentials
	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost int
	Mailer   Mailer
	Logger   *log.Logger
	Clock    func() time.Time
}

// LocalProvider keeps accounts in a document store collection and
// sessions in signed tokens persisted to a credentials file.
type LocalProvider struct {
	accounts *docstore.CollectionRef
	creds    Credentials
	secret   []byte
	ttl      time.Duration
	cost     int
	mailer   Mailer
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	current *User
	expires time.Time

	sessions *stream.Hub[Session]
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider builds a provider over accounts and restores the
// persisted session, if it is still valid.
func NewLocalProvider(ctx context.Context, accounts *docstore.CollectionRef, opts LocalOptions) (*LocalProvider, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: empty session secret")
	}
	p := &LocalProvider{
		accounts: accounts,
		creds:    opts.Credentials,
		secret:   opts.Secret,
		ttl:      opts.SessionTTL,
		cost:     opts.HashCost,
		mailer:   opts.Mailer,
		logger:   opts.Logger,
		now:      opts.Clock,
		sessions: stream.NewHub[Session](),
	}
	if p.ttl <= 0 {
		p.ttl = defaultSessionTTL
	}
	if p.cost == 0 {
		p.cost = bcrypt.DefaultCost
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard)
	}
	if p.mailer == nil {
		p.mailer = LogMailer{Logger: p.logger}
	}
	if p.now == nil {
		p.now = time.Now
	}

	p.restore(ctx)
	p.sessions.Publish(sessionOf(p.current))
	return p, nil
}

func (p *LocalProvider) restore(ctx context.Context) {
	ti, err := p.creds.Get()
	if err != nil {
		p.logger.Warn("cannot read stored session", "err", err)
		return
	}
	if ti == nil {
		return
	}
	claims, err := p.parseToken(ti.Token)
	if err != nil {
		p.logger.Debug("stored session rejected", "source", ti.Source, "err", err)
		return
	}
	snap, err := p.accounts.Doc(claims.Subject).Get(ctx)
	if err != nil || !snap.Exists() {
		p.logger.Debug("stored session has no account", "user", claims.Subject)
		return
	}
	p.current = &User{ID: claims.Subject, Email: claims.Email}
	if claims.ExpiresAt != nil {
		p.expires = claims.ExpiresAt.Time
	}
}

// CurrentUser returns the signed-in user.
func (p *LocalProvider) CurrentUser() (User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return User{}, false
	}
	return *p.current, true
}

// SessionExpiry returns when the current session token expires.
func (p *LocalProvider) SessionExpiry() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expires, p.current != nil && !p.expires.IsZero()
}

// OnSessionChange streams session changes, starting with the current one.
func (p *LocalProvider) OnSessionChange(fn func(Session)) stream.Unsubscribe {
	return p.sessions.Subscribe(fn)
}

// Subscribers reports the number of session listeners.
func (p *LocalProvider) Subscribers() int { return p.sessions.Len() }

func (p *LocalProvider) SignUp(ctx context.Context, email, password string) Result {
	email = normalizeEmail(email)
	existing, err := p.findByEmail(ctx, email)
	if err != nil {
		return Failure("sign up failed: " + err.Error())
	}
	if existing != nil {
		return Failure(msgEmailInUse)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return Failure("sign up failed: " + err.Error())
	}
	ref, err := p.accounts.Add(ctx, map[string]any{
		"email":        email,
		"passwordHash": string(hash),
		"createdAt":    docstore.ServerTimestamp,
	})
	if err != nil {
		return Failure("sign up failed: " + err.Error())
	}
	p.logger.Info("account created", "user", ref.ID)
	return p.startSession(User{ID: ref.ID, Email: email})
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) Result {
	snap, err := p.findByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return Failure("sign in failed: " + err.Error())
	}
	if snap == nil {
		return Failure(msgBadCredentials)
	}
	var acc account
	if err := snap.DataTo(&acc); err != nil {
		return Failure("sign in failed: " + err.Error())
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return Failure(msgBadCredentials)
	}
	return p.startSession(User{ID: snap.ID, Email: acc.Email})
}

func (p *LocalProvider) SignOut(ctx context.Context) Result {
	if err := p.creds.Delete(); err != nil {
		return Failure("sign out failed: " + err.Error())
	}
	p.mu.Lock()
	p.current = nil
	p.expires = time.Time{}
	p.mu.Unlock()
	p.sessions.Publish(Session{})
	return Success()
}

// ResetPassword sends a one-time reset code to the account's address.
func (p *LocalProvider) ResetPassword(ctx context.Context, email string) Result {
	email = normalizeEmail(email)
	snap, err := p.findByEmail(ctx, email)
	if err != nil {
		return Failure("password reset failed: " + err.Error())
	}
	if snap == nil {
		return Failure(msgUnknownEmail)
	}

	code, err := resetCode()
	if err != nil {
		return Failure("password reset failed: " + err.Error())
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), p.cost)
	if err != nil {
		return Failure("password reset failed: " + err.Error())
	}
	err = p.accounts.Doc(snap.ID).Update(ctx, map[string]any{
		"resetCodeHash":  string(hash),
		"resetExpiresAt": p.now().Add(resetCodeTTL).UTC(),
	})
	if err != nil {
		return Failure("password reset failed: " + err.Error())
	}
	if err := p.mailer.SendPasswordReset(ctx, email, code); err != nil {
		return Failure("password reset failed: " + err.Error())
	}
	return Success()
}

// ConfirmPasswordReset sets a new password using a code from
// ResetPassword. The code works once.
func (p *LocalProvider) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) Result {
	if !ValidPassword(newPassword) {
		return Failure(msgShortPassword)
	}
	snap, err := p.findByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return Failure("password reset failed: " + err.Error())
	}
	if snap == nil {
		return Failure(msgUnknownEmail)
	}
	var acc account
	if err := snap.DataTo(&acc); err != nil {
		return Failure("password reset failed: " + err.Error())
	}
	if acc.ResetCodeHash == "" || acc.ResetExpiresAt == nil || p.now().After(*acc.ResetExpiresAt) {
		return Failure(msgBadResetCode)
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.ResetCodeHash), []byte(strings.ToUpper(strings.TrimSpace(code)))) != nil {
		return Failure(msgBadResetCode)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), p.cost)
	if err != nil {
		return Failure("password reset failed: " + err.Error())
	}
	err = p.accounts.Doc(snap.ID).Update(ctx, map[string]any{
		"passwordHash":   string(hash),
		"resetCodeHash":  nil,
		"resetExpiresAt": nil,
	})
	if err != nil {
		return Failure("password reset failed: " + err.Error())
	}
	return Success()
}

func (p *LocalProvider) startSession(u User) Result {
	now := p.now()
	expires := now.Add(p.ttl)
	token, err := p.issueToken(u, now, expires)
	if err != nil {
		return Failure("cannot start session: " + err.Error())
	}
	if err := p.creds.Set(token, &expires); err != nil {
		return Failure("cannot save session: " + err.Error())
	}

	p.mu.Lock()
	p.current = &u
	p.expires = expires
	p.mu.Unlock()
	p.sessions.Publish(sessionOf(&u))
	return Success()
}

func (p *LocalProvider) issueToken(u User, now, expires time.Time) (string, error) {
	claims := sessionClaims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

func (p *LocalProvider) parseToken(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func (p *LocalProvider) findByEmail(ctx context.Context, email string) (*docstore.DocumentSnapshot, error) {
	snap, err := p.accounts.Where("email", email).Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(snap.Documents) == 0 {
		return nil, nil
	}
	return snap.Documents[0], nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func resetCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}
