package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mihretab/portfolio/internal/domain"
	"github.com/mihretab/portfolio/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS visitors (
		visitor_id TEXT PRIMARY KEY,
		engaged INTEGER NOT NULL DEFAULT 0,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		visitor_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		submission_status TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_visitor ON conversations(visitor_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry retries fn with exponential backoff while SQLite reports a
// busy or locked database.
func withRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetVisitor retrieves a visitor by ID.
func (s *SQLiteStore) GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error) {
	query := `
		SELECT visitor_id, engaged, last_seen_at, created_at, updated_at
		FROM visitors WHERE visitor_id = ?`

	var v domain.Visitor
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, visitorID).Scan(
		&v.VisitorID, &v.Engaged, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan visitor row: %w", err)
	}

	v.LastSeenAt = time.Unix(lastSeen, 0)
	v.CreatedAt = time.Unix(createdAt, 0)
	v.UpdatedAt = time.Unix(updatedAt, 0)
	return &v, nil
}

// UpsertVisitor creates or updates a visitor record. The engaged flag is
// sticky: an upsert never clears it.
func (s *SQLiteStore) UpsertVisitor(ctx context.Context, v *domain.Visitor) error {
	query := `
	INSERT INTO visitors (visitor_id, engaged, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		engaged = MAX(visitors.engaged, excluded.engaged),
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return withRetry(ctx, "upsert visitor", func() error {
		_, err := s.db.ExecContext(ctx, query,
			v.VisitorID, v.Engaged,
			v.LastSeenAt.Unix(), v.CreatedAt.Unix(), v.UpdatedAt.Unix(),
		)
		return err
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error {
	query := `UPDATE visitors SET last_seen_at = ?, updated_at = ? WHERE visitor_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), visitorID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "visitor_id", visitorID)
	}
	return nil
}

// MarkEngaged sets the engaged flag for a visitor.
func (s *SQLiteStore) MarkEngaged(ctx context.Context, visitorID string) error {
	query := `UPDATE visitors SET engaged = 1, updated_at = ? WHERE visitor_id = ?`

	var rows int64
	err := withRetry(ctx, "mark engaged", func() error {
		result, err := s.db.ExecContext(ctx, query, time.Now().Unix(), visitorID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("visitor %s not found", visitorID)
	}
	return nil
}

// RecordConversation creates or updates a conversation outcome.
func (s *SQLiteStore) RecordConversation(ctx context.Context, rec *domain.ConversationRecord) error {
	query := `
	INSERT INTO conversations (
		conversation_id, visitor_id, session_id, phase, submission_status,
		message_count, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id) DO UPDATE SET
		phase = excluded.phase,
		submission_status = excluded.submission_status,
		message_count = excluded.message_count,
		updated_at = excluded.updated_at`

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return withRetry(ctx, "record conversation", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ConversationID, rec.VisitorID, rec.SessionID,
			rec.Phase, rec.SubmissionStatus, rec.MessageCount,
			rec.CreatedAt.Unix(), updatedAt.Unix(),
		)
		return err
	})
}

// GetConversation retrieves a conversation outcome by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.ConversationRecord, error) {
	query := `
		SELECT conversation_id, visitor_id, session_id, phase, submission_status,
		       message_count, created_at, updated_at
		FROM conversations WHERE conversation_id = ?`

	var rec domain.ConversationRecord
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&rec.ConversationID, &rec.VisitorID, &rec.SessionID,
		&rec.Phase, &rec.SubmissionStatus, &rec.MessageCount,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// ConversationStats aggregates stored outcomes.
func (s *SQLiteStore) ConversationStats(ctx context.Context) (*domain.ConversationStats, error) {
	stats := &domain.ConversationStats{}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN phase = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN submission_status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN submission_status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM conversations`

	y, m, d := time.Now().Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, time.Local).Unix()

	if err := s.db.QueryRowContext(ctx, query, startOfDay).Scan(
		&stats.TotalConversations, &stats.Completed,
		&stats.Delivered, &stats.Failed, &stats.ConversationsToday,
	); err != nil {
		return nil, fmt.Errorf("aggregate conversations: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visitors WHERE engaged = 1`).Scan(&stats.EngagedVisitors); err != nil {
		return nil, fmt.Errorf("count engaged visitors: %w", err)
	}

	return stats, nil
}

// DeleteConversationsBefore removes outcomes last updated before cutoff.
func (s *SQLiteStore) DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withRetry(ctx, "delete old conversations", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff.Unix())
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
