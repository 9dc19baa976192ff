// Package notify delivers domain events to downstream consumers
// (achievements, rankings, analytics) after the owning transaction commits.
// Delivery is best-effort: a lost event never affects the request that raised it.
package notify

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types.
const (
	EventPackOpened     = "pack_opened"
	EventListingCreated = "listing_created"
	EventTradeCompleted = "trade_completed"
	EventItemAutoSold   = "item_auto_sold"
	EventCreditsAdded   = "credits_added"
	EventRiskSignal     = "risk_signal"
)

// Event is one published notification.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     int64     `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// NewEvent stamps an event with a time-ordered id.
func NewEvent(eventType string, userID int64, payload any) Event {
	now := time.Now().UTC()
	return Event{
		ID:         ulid.MustNewDefault(now).String(),
		Type:       eventType,
		UserID:     userID,
		OccurredAt: now,
		Payload:    payload,
	}
}

// Encode returns the wire form of the event.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
