// Package domain contains core domain types for the portfolio service.
package domain

import (
	"time"
)

// Visitor is an anonymous browser identified by a cookie.
type Visitor struct {
	VisitorID  string    `json:"visitor_id"`
	Engaged    bool      `json:"engaged"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor returns how long the visitor has been inactive.
func (v *Visitor) IdleFor(now time.Time) time.Duration {
	if v.LastSeenAt.IsZero() || now.Before(v.LastSeenAt) {
		return 0
	}
	return now.Sub(v.LastSeenAt)
}
