package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kimhsiao/fitsync/backend/internal/db"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
	"github.com/kimhsiao/fitsync/backend/internal/sync/remote"
)

// app holds the wired components a command works with.
type app struct {
	db     *db.DB
	store  *db.Store
	remote *remote.Client
	engine *syncpkg.Engine
}

// openApp opens and migrates the local database and wires the sync engine.
func openApp() (*app, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to open local database", err)
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, err
	}

	client, err := remote.NewClient(&remote.Config{
		BaseURL:       cfg.Remote.BaseURL,
		SessionCookie: cfg.Remote.SessionCookie,
		SessionToken:  cfg.Remote.SessionToken,
		Timeout:       cfg.Remote.Timeout,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	store := db.NewStore(database, db.WithMaxRetries(cfg.Sync.MaxRetries))
	return &app{
		db:     database,
		store:  store,
		remote: client,
		engine: syncpkg.NewEngine(store, client),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}

// requireOwner returns the configured owner id.
func requireOwner() (string, error) {
	if cfg.OwnerID == "" {
		return "", apperrors.New(apperrors.ErrValidation, "an owner id is required (--owner or owner_id in config)")
	}
	return cfg.OwnerID, nil
}

// parseKind accepts kind names, table names and collection names.
func parseKind(s string) (models.EntityKind, error) {
	return models.ParseKind(s)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func kindNames() string {
	names := ""
	for i, k := range models.Kinds {
		if i > 0 {
			names += ", "
		}
		names += string(k)
	}
	return fmt.Sprintf("one of: %s", names)
}
