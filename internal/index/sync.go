package index

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/extt/internal/checksum"
	"github.com/starford/extt/internal/note"
	"github.com/starford/extt/internal/storage"
)

// SyncStats counts what a Sync changed.
type SyncStats struct {
	Added     int
	Updated   int
	Removed   int
	Unchanged int
	Failed    int
}

// Sync walks the vault and brings the index up to date:
//   - new/changed files are decoded and upserted
//   - files removed from disk are deleted from the index
//
// Files that cannot be read or decoded are logged, counted and skipped.
func Sync(db *DB, store storage.Provider, logger *slog.Logger) (SyncStats, error) {
	var stats SyncStats
	metas, err := store.List("")
	if err != nil {
		return stats, err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return stats, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		known, indexed := checksums[m.Path]
		if indexed && known == m.Checksum {
			stats.Unchanged++
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			stats.Failed++
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data); err != nil {
			stats.Failed++
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if indexed {
			stats.Updated++
		} else {
			stats.Added++
		}
		logger.Debug("sync: indexed", slog.String("path", m.Path))
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteNote(p); err != nil {
				stats.Failed++
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
				continue
			}
			stats.Removed++
			logger.Debug("sync: removed stale", slog.String("path", p))
		}
	}

	return stats, nil
}

// IndexFile decodes data and upserts it into db under path.
func IndexFile(db NoteIndex, path string, data []byte) error {
	n, err := note.Decode(data)
	if err != nil {
		return fmt.Errorf("index: decode %s: %w", path, err)
	}
	row := NoteRow{
		Path:      path,
		Title:     n.Title(),
		Checksum:  checksum.Sum(data),
		Tags:      n.Tags(),
		UpdatedAt: time.Now(),
	}
	return db.UpsertNote(row, n.Document.PlainText(), n.Links())
}
