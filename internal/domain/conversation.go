package domain

import (
	"time"
)

// ConversationRecord is the stored outcome of one contact conversation.
// Names, emails and transcripts are never persisted.
type ConversationRecord struct {
	ConversationID   string
	VisitorID        string
	SessionID        string
	Phase            string
	SubmissionStatus string
	MessageCount     int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ConversationStats aggregates stored conversation outcomes.
type ConversationStats struct {
	TotalConversations int64 `json:"total_conversations"`
	Completed          int64 `json:"completed"`
	Delivered          int64 `json:"delivered"`
	Failed             int64 `json:"failed"`
	EngagedVisitors    int64 `json:"engaged_visitors"`
	ConversationsToday int64 `json:"conversations_today"`
}

// DeliveryRate is the share of completed conversations that were delivered.
func (s ConversationStats) DeliveryRate() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.Delivered) / float64(s.Completed)
}
