package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/Makepad-fr/tada/internal/app"
	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/config"
	"github.com/Makepad-fr/tada/internal/repository"
	"github.com/Makepad-fr/tada/internal/store/docstore"
	"github.com/Makepad-fr/tada/internal/store/sqlcache"
	"github.com/Makepad-fr/tada/internal/ui"
)

// AccountsCollection is the docstore collection holding accounts.
const AccountsCollection = "accounts"

// env is everything a command may need, built from the configuration.
type env struct {
	cfg    *config.Config
	logger *log.Logger

	store    *docstore.Store
	cache    *sqlcache.Cache
	provider *auth.LocalProvider
	repo     repository.Repository

	list *app.List
	auth *app.AuthFlow
}

// openEnv opens the stores, restores the session and picks the repository
// for the configured backend. watch enables cross-process change
// notifications on the document store.
func openEnv(ctx context.Context, cfg *config.Config, logger *log.Logger, watch bool) (*env, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := docstore.Open(cfg.Store.File,
		docstore.WithLogger(logger.WithPrefix("docstore")),
		docstore.WithWatch(watch && cfg.Store.Watch),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e := &env{cfg: cfg, logger: logger, store: store}

	secret := []byte(cfg.Auth.Secret)
	if len(secret) == 0 {
		if secret, err = auth.LoadOrCreateSecret(cfg.Auth.SecretFile); err != nil {
			e.Close()
			return nil, err
		}
	}
	e.provider, err = auth.NewLocalProvider(ctx, store.Collection(AccountsCollection), auth.LocalOptions{
		Secret:      secret,
		SessionTTL:  cfg.Auth.SessionTTL,
		Credentials: auth.Credentials{Path: cfg.Auth.CredentialsFile, EnvVar: cfg.Auth.TokenEnv},
		Mailer:      resetMailer,
		Logger:      logger.WithPrefix("auth"),
	})
	if err != nil {
		e.Close()
		return nil, err
	}

	switch cfg.Backend {
	case config.BackendLocal:
		e.cache, err = sqlcache.Open(ctx, cfg.Cache.Driver, cfg.Cache.DSN)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("open cache: %w", err)
		}
		e.repo = repository.NewLocal(e.cache, logger.WithPrefix("local"))
	default:
		e.repo, err = repository.NewRemote(store, e.provider, logger.WithPrefix("remote"))
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	e.list = app.NewList(e.repo)
	e.auth = app.NewAuthFlow(e.provider)
	return e, nil
}

// requireSession reports whether todo commands can run: the local backend
// always can, the remote one needs a signed-in user.
func (e *env) requireSession() error {
	if e.cfg.Backend == config.BackendLocal {
		return nil
	}
	if _, ok := e.provider.CurrentUser(); !ok {
		return errNotSignedIn
	}
	return nil
}

var errNotSignedIn = errors.New("not signed in")

// terminalMailer shows reset codes to whoever ran the command.
type terminalMailer struct{}

func (terminalMailer) SendPasswordReset(_ context.Context, email, code string) error {
	ui.Info(fmt.Sprintf("reset code for %s: %s", email, code))
	return nil
}

var resetMailer auth.Mailer = terminalMailer{}

func (e *env) Close() {
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.logger.Warn("close cache", "err", err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("close store", "err", err)
		}
	}
}
