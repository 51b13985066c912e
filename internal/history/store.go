// Package history persists finished cycle records to SQLite so later
// cycles can search prior work on the same files.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Record is one finished cycle as stored in the database.
type Record struct {
	CycleID        string
	StartedAt      time.Time
	FinishedAt     time.Time
	Success        bool
	Quality        models.Quality
	FailedPhase    string
	FailureReason  string
	TroubleCount   int
	PatternMatches int
	AICalls        int
	TokenUsage     models.TokenUsage
	Summary        string
	Changes        []models.Change
}

// Store manages the SQLite cycle-history database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so the remaining pragmas wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append inserts one finished cycle and its touched files.
func (s *Store) Append(ctx context.Context, rec Record) error {
	changesJSON, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycles (id, started_at, finished_at, success, quality,
			failed_phase, failure_reason, trouble_count, pattern_matches,
			ai_calls, input_tokens, output_tokens, summary, changes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CycleID, rec.StartedAt, rec.FinishedAt, rec.Success, string(rec.Quality),
		rec.FailedPhase, rec.FailureReason, rec.TroubleCount, rec.PatternMatches,
		rec.AICalls, rec.TokenUsage.InputTokens, rec.TokenUsage.OutputTokens,
		rec.Summary, string(changesJSON))
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	for _, change := range rec.Changes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cycle_files (cycle_id, file, change_type) VALUES (?, ?, ?)`,
			rec.CycleID, change.File, string(change.ChangeType)); err != nil {
			return fmt.Errorf("insert cycle file: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns the newest n cycle records, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, success, quality, failed_phase,
			failure_reason, trouble_count, pattern_matches, ai_calls,
			input_tokens, output_tokens, summary, changes
		FROM cycles ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent cycles: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ForFile returns past cycles that touched the given file, newest first.
func (s *Store) ForFile(ctx context.Context, file string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.started_at, c.finished_at, c.success, c.quality,
			c.failed_phase, c.failure_reason, c.trouble_count,
			c.pattern_matches, c.ai_calls, c.input_tokens, c.output_tokens,
			c.summary, c.changes
		FROM cycles c
		JOIN cycle_files f ON f.cycle_id = c.id
		WHERE f.file = ?
		ORDER BY c.started_at DESC LIMIT ?`, file, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles for file: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Search returns cycles whose summary or failure reason contains the
// keyword, newest first.
func (s *Store) Search(ctx context.Context, keyword string, limit int) ([]Record, error) {
	like := "%" + strings.ReplaceAll(keyword, "%", "") + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, success, quality, failed_phase,
			failure_reason, trouble_count, pattern_matches, ai_calls,
			input_tokens, output_tokens, summary, changes
		FROM cycles
		WHERE summary LIKE ? OR failure_reason LIKE ?
		ORDER BY started_at DESC LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search cycles: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Stats aggregates success counts over the whole history.
type Stats struct {
	TotalCycles      int
	SuccessfulCycles int
	TotalTroubles    int
	TotalTokens      int
}

// Stats returns aggregate counters over all recorded cycles.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(success), 0),
			COALESCE(SUM(trouble_count), 0),
			COALESCE(SUM(input_tokens + output_tokens), 0)
		FROM cycles`).
		Scan(&st.TotalCycles, &st.SuccessfulCycles, &st.TotalTroubles, &st.TotalTokens)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// Cleanup deletes cycles older than the given number of days.
func (s *Store) Cleanup(ctx context.Context, daysOld int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -daysOld)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM cycle_files WHERE cycle_id IN
			(SELECT id FROM cycles WHERE started_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("delete cycle files: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete cycles: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var quality, changesJSON string
		if err := rows.Scan(&rec.CycleID, &rec.StartedAt, &rec.FinishedAt,
			&rec.Success, &quality, &rec.FailedPhase, &rec.FailureReason,
			&rec.TroubleCount, &rec.PatternMatches, &rec.AICalls,
			&rec.TokenUsage.InputTokens, &rec.TokenUsage.OutputTokens,
			&rec.Summary, &changesJSON); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		rec.Quality = models.Quality(quality)
		if err := json.Unmarshal([]byte(changesJSON), &rec.Changes); err != nil {
			rec.Changes = nil
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
