// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/mihretab/portfolio/internal/domain"
)

// Repository defines the interface for persisting visitors and conversation outcomes.
type Repository interface {
	// GetVisitor retrieves a visitor by ID. It returns nil, nil when unknown.
	GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error)

	// UpsertVisitor creates or updates a visitor record.
	UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error

	// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
	UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error

	// MarkEngaged records that the visitor has talked to the contact bot.
	MarkEngaged(ctx context.Context, visitorID string) error

	// RecordConversation creates or updates a conversation outcome.
	RecordConversation(ctx context.Context, rec *domain.ConversationRecord) error

	// GetConversation retrieves a conversation outcome by ID.
	GetConversation(ctx context.Context, conversationID string) (*domain.ConversationRecord, error)

	// ConversationStats aggregates stored outcomes.
	ConversationStats(ctx context.Context) (*domain.ConversationStats, error)

	// DeleteConversationsBefore removes outcomes last updated before cutoff.
	DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
