package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lotwsync/internal/config"
)

const backupPrefix = "lotwsync_"

// Backup writes a consistent snapshot of a SQLite store into dir and returns
// its path. PostgreSQL stores are backed up with their own tooling.
func (db *DB) Backup(ctx context.Context, dir string) (string, error) {
	if db.driver != config.DriverSQLite {
		return "", fmt.Errorf("backup is only supported for %s, got %s", config.DriverSQLite, db.driver)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	backupPath := filepath.Join(dir, fmt.Sprintf("%s%s.db", backupPrefix, time.Now().UTC().Format("20060102_150405")))
	db.logger.Info().Str("path", backupPath).Msg("performing database backup using VACUUM INTO")

	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, backupPath); err != nil {
		return "", fmt.Errorf("failed to back up database: %w", err)
	}
	return backupPath, nil
}

// PruneBackups removes snapshots in dir older than retention and returns the
// number removed.
func (db *DB) PruneBackups(dir string, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), backupPrefix) {
			continue
		}
		info, err := file.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, file.Name())); err != nil {
			db.logger.Warn().Err(err).Str("file", file.Name()).Msg("failed to delete old backup")
			continue
		}
		db.logger.Info().Str("file", file.Name()).Msg("deleted old backup")
		removed++
	}
	return removed, nil
}
