// Package event defines the wire envelope shared by the publisher and the
// consumers. Events are immutable once published; consumers must tolerate
// additional fields appearing in future payloads.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// TypeSpendingRecorded identifies the spending event envelope.
const TypeSpendingRecorded = "SPENDING_RECORDED"

// RoutingKey is the fixed routing key every spending event is published
// under. It is a literal, never computed from payload fields.
const RoutingKey = "spending.recorded"

// SpendingEvent is emitted once per persisted expense transaction.
type SpendingEvent struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	Amount        float64   `json:"amount"`
	Category      string    `json:"category"`
	Date          time.Time `json:"date"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NewSpendingRecorded builds the envelope for a freshly persisted expense.
func NewSpendingRecorded(transactionID, userID string, amount float64, category string, date time.Time) *SpendingEvent {
	return &SpendingEvent{
		Type:          TypeSpendingRecorded,
		TransactionID: transactionID,
		UserID:        userID,
		Amount:        amount,
		Category:      category,
		Date:          date,
		OccurredAt:    time.Now().UTC(),
	}
}

// Validate reports whether the event carries the fields consumers rely on.
func (e *SpendingEvent) Validate() error {
	if e.Type != TypeSpendingRecorded {
		return fmt.Errorf("unexpected event type %q", e.Type)
	}
	if e.UserID == "" {
		return fmt.Errorf("missing userId")
	}
	if e.Category == "" {
		return fmt.Errorf("missing category")
	}
	if e.Amount <= 0 {
		return fmt.Errorf("amount must be positive, got %v", e.Amount)
	}
	return nil
}

// ToJSON converts the event to its UTF-8 JSON wire form.
func (e *SpendingEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SpendingEventFromJSON decodes a wire payload. Unknown fields are ignored
// so newer publishers stay compatible with older consumers.
func SpendingEventFromJSON(data []byte) (*SpendingEvent, error) {
	var e SpendingEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal spending event: %w", err)
	}
	return &e, nil
}

// Period derives the UTC year-month bucket used to match budgets. A zero
// date yields the empty period, which matches budgets with no period scope.
func (e *SpendingEvent) Period() string {
	if e.Date.IsZero() {
		return ""
	}
	return e.Date.UTC().Format("2006-01")
}
