// Package core wires configuration, logging, storage and the account store
// into one App that commands are handed explicitly.
package core

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/asad/accstore/internal/config"
	"github.com/asad/accstore/internal/logging"
	"github.com/asad/accstore/internal/services/accounts"
	"github.com/asad/accstore/internal/state"
)

// App is the application context. It owns the storage and a hydrated
// account store; Close releases both.
type App struct {
	Config   *config.Config
	Logger   logging.Logger
	Storage  state.Storage
	Accounts *accounts.Store
}

// OpenStorage builds the storage backend named in cfg.
func OpenStorage(ctx context.Context, cfg *config.Config) (state.Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendFile:
		return state.NewFileStorage(cfg.DataDir)
	case config.BackendSQLite:
		return state.NewSQLiteStorage(ctx, cfg.DataDir)
	case config.BackendMemory:
		return state.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, cfg.StorageBackend)
	}
}

// NewApp validates cfg, opens storage and hydrates the account store.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	storage, err := OpenStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	store := accounts.NewStore(storage, logger, accounts.WithStorageKey(cfg.StorageKey))
	if err := store.Hydrate(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to hydrate accounts: %w", err), storage.Close())
	}

	logger.Debug("app ready",
		logging.String("backend", cfg.StorageBackend),
		logging.String("data_dir", cfg.DataDir),
		logging.Int("accounts", len(store.Accounts())),
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Storage:  storage,
		Accounts: store,
	}, nil
}

// Close closes the storage and flushes the logger.
func (a *App) Close() error {
	err := a.Storage.Close()
	// Sync on stderr returns EINVAL on some platforms; it is not worth failing for.
	_ = a.Logger.Sync()
	return err
}
