package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist or is owned by
// another user.
var ErrNotFound = errors.New("record not found")

// Transaction is a persisted income or expense record.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Type        string    `json:"type"`
	Amount      float64   `json:"amount"`
	Category    string    `json:"category"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Budget tracks spending against a limit for one (user, category, period).
// The spent column is owned exclusively by the budget sync consumer; CRUD
// writes never touch it after creation.
type Budget struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Category  string    `json:"category"`
	Limit     float64   `json:"limit"`
	Spent     float64   `json:"spent"`
	Period    string    `json:"period,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Notification is a persisted user notice. Read-state is mutated only by
// the explicit mark-read endpoint; the pipeline never deletes records.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	Type     string
	Category string
	From     time.Time
	To       time.Time
}
