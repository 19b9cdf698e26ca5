package database

import (
	"context"
	"fmt"
	"time"

	"faststream-proxy/work/config"
	"faststream-proxy/work/logger"
	"faststream-proxy/work/utils"
)

// HistoryEntry is one recorded set-video call.
type HistoryEntry struct {
	ID          int64
	SessionID   string
	URL         string
	Host        string
	Fingerprint string
	CreatedAt   time.Time
}

// HistoryStats summarizes the view history for status reporting.
type HistoryStats struct {
	Entries       int64
	DistinctHosts int64
}

const timestampLayout = "2006-01-02 15:04:05"

// RecordSet stores one view history row. The URL is obfuscated before it
// touches disk; the fingerprint is what correlates rows with log lines.
// No-op without a database.
func (db *DB) RecordSet(sessionID, rawURL string) error {
	if db == nil || db.DB == nil {
		return nil
	}

	_, err := db.Exec(`
		INSERT INTO view_history (session_id, url, host, fingerprint)
		VALUES (?, ?, ?, ?)
	`, sessionID, config.ObfuscateURL(rawURL), utils.HostOf(rawURL), utils.Fingerprint(rawURL))
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// RecentHistory returns up to limit entries, newest first.
func (db *DB) RecentHistory(limit int) ([]HistoryEntry, error) {
	if db == nil || db.DB == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(`
		SELECT id, session_id, url, host, fingerprint, created_at
		FROM view_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.URL, &e.Host, &e.Fingerprint, &created); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.CreatedAt = parseTimestamp(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CleanupOlderThan purges entries older than age and reports how many
// rows went away.
func (db *DB) CleanupOlderThan(age time.Duration) (int64, error) {
	if db == nil || db.DB == nil {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-age).Format(timestampLayout)
	res, err := db.Exec(`DELETE FROM view_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns aggregate history counts.
func (db *DB) Stats() (HistoryStats, error) {
	var stats HistoryStats
	if db == nil || db.DB == nil {
		return stats, nil
	}

	err := db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT host) FROM view_history
	`).Scan(&stats.Entries, &stats.DistinctHosts)
	if err != nil {
		return stats, fmt.Errorf("failed to query history stats: %w", err)
	}
	return stats, nil
}

// StartCleanup purges history past the retention window on a fixed
// interval until the context is cancelled. Runs a VACUUM after any purge
// that removed rows. Blocking; launch in its own goroutine.
func (db *DB) StartCleanup(ctx context.Context, interval, retention time.Duration) {
	if db == nil || db.DB == nil {
		return
	}
	logger.Debug("[DATABASE] Starting history cleanup loop (interval: %s, retention: %s)", interval, retention)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("[DATABASE] History cleanup loop stopped")
			return
		case <-ticker.C:
			removed, err := db.CleanupOlderThan(retention)
			if err != nil {
				logger.Error("[DATABASE] History cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				logger.Info("[DATABASE] Purged %d history entries older than %s", removed, retention)
				if err := db.Vacuum(); err != nil {
					logger.Warn("[DATABASE] VACUUM after purge failed: %v", err)
				}
			}
		}
	}
}

// parseTimestamp reads the SQLite CURRENT_TIMESTAMP text format, falling
// back to RFC3339 for values written by other tools.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
