package internal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/extt/internal/index"
	"github.com/starford/extt/internal/noteservice"
	"github.com/starford/extt/internal/storage"
)

// Vault bundles the storage, the index and the note service built on them.
type Vault struct {
	Store   *storage.FS
	DB      *index.DB
	Service *noteservice.Service

	// Synced reports what the initial sync changed.
	Synced index.SyncStats
}

// OpenVault creates the vault directory if needed, opens the index and
// brings it up to date with the files on disk.
func OpenVault(cfg *Config, logger *slog.Logger) (*Vault, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	stats, err := index.Sync(db, store, logger)
	if err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial sync done",
			slog.Int("added", stats.Added),
			slog.Int("updated", stats.Updated),
			slog.Int("removed", stats.Removed),
			slog.Int("failed", stats.Failed))
	}
	return &Vault{
		Store:   store,
		DB:      db,
		Service: noteservice.NewService(store, db),
		Synced:  stats,
	}, nil
}

// Close closes the index.
func (v *Vault) Close() error {
	return v.DB.Close()
}
