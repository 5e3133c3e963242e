// Package finance owns transaction and budget records and emits a spending
// event for every persisted expense.
package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mintify/internal/event"
	"mintify/internal/log"
	"mintify/internal/storage"
)

// Store is the persistence surface the service needs.
type Store interface {
	CreateTransaction(ctx context.Context, tx storage.Transaction) error
	GetTransaction(ctx context.Context, userID, id string) (storage.Transaction, error)
	ListTransactions(ctx context.Context, userID string, f storage.TransactionFilter) ([]storage.Transaction, error)
	CreateBudget(ctx context.Context, b storage.Budget) error
	ListBudgets(ctx context.Context, userID string) ([]storage.Budget, error)
}

// EventPublisher publishes spending events to the exchange.
type EventPublisher interface {
	PublishSpendingRecorded(ctx context.Context, evt *event.SpendingEvent) error
}

// Service implements the finance operations.
type Service struct {
	store     Store
	publisher EventPublisher
	logger    *log.Logger
}

// NewService builds the service. publisher may be nil when the broker is
// not configured; events are then skipped entirely.
func NewService(store Store, publisher EventPublisher, logger *log.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// TransactionInput carries the fields of a transaction create request.
type TransactionInput struct {
	Type        string
	Amount      float64
	Category    string
	Date        time.Time
	Description string
	Source      string
}

// Validate checks the input against the transaction invariants.
func (in *TransactionInput) Validate() error {
	if in.Type != "income" && in.Type != "expense" {
		return fmt.Errorf("type must be income or expense")
	}
	if in.Amount <= 0 {
		return fmt.Errorf("amount must be a positive number")
	}
	if in.Category == "" {
		return fmt.Errorf("category is required")
	}
	if in.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	return nil
}

// CreateTransaction persists the transaction and, for expenses, publishes a
// spending event. Publication is fire-and-forget: the transaction is
// reported as created once it is durably stored, regardless of publish
// outcome. A broker failure means downstream state silently lags, never
// that the write fails.
func (s *Service) CreateTransaction(ctx context.Context, userID string, in TransactionInput) (storage.Transaction, error) {
	if err := in.Validate(); err != nil {
		return storage.Transaction{}, err
	}

	source := in.Source
	if source == "" {
		source = "manual"
	}
	tx := storage.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        in.Type,
		Amount:      in.Amount,
		Category:    in.Category,
		Date:        in.Date,
		Description: in.Description,
		Source:      source,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return storage.Transaction{}, fmt.Errorf("persist transaction: %w", err)
	}

	// Income never publishes.
	if tx.Type == "expense" && s.publisher != nil {
		evt := event.NewSpendingRecorded(tx.ID, tx.UserID, tx.Amount, tx.Category, tx.Date)
		if err := s.publisher.PublishSpendingRecorded(ctx, evt); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish spending event, dropping",
				"error", err,
				"transaction_id", tx.ID,
				"user_id", tx.UserID)
		}
	}

	return tx, nil
}

// GetTransaction returns a single transaction owned by the user.
func (s *Service) GetTransaction(ctx context.Context, userID, id string) (storage.Transaction, error) {
	return s.store.GetTransaction(ctx, userID, id)
}

// ListTransactions returns the user's transactions narrowed by the filter.
func (s *Service) ListTransactions(ctx context.Context, userID string, f storage.TransactionFilter) ([]storage.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, f)
}

// BudgetInput carries the fields of a budget create request.
type BudgetInput struct {
	Category string
	Limit    float64
	Period   string
}

// Validate checks the input against the budget invariants.
func (in *BudgetInput) Validate() error {
	if in.Category == "" {
		return fmt.Errorf("category is required")
	}
	if in.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if in.Period != "" {
		if _, err := time.Parse("2006-01", in.Period); err != nil {
			return fmt.Errorf("period must be YYYY-MM")
		}
	}
	return nil
}

// CreateBudget persists a new budget with spent starting at zero. The
// spent column is written only by the budget sync consumer afterwards.
func (s *Service) CreateBudget(ctx context.Context, userID string, in BudgetInput) (storage.Budget, error) {
	if err := in.Validate(); err != nil {
		return storage.Budget{}, err
	}

	now := time.Now().UTC()
	b := storage.Budget{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  in.Category,
		Limit:     in.Limit,
		Period:    in.Period,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateBudget(ctx, b); err != nil {
		return storage.Budget{}, fmt.Errorf("persist budget: %w", err)
	}
	return b, nil
}

// ListBudgets returns the user's budgets.
func (s *Service) ListBudgets(ctx context.Context, userID string) ([]storage.Budget, error) {
	return s.store.ListBudgets(ctx, userID)
}

// CategorySummary is one row of the monthly spending summary.
type CategorySummary struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
}

// MonthlySummary aggregates the user's expenses for a month by category.
func (s *Service) MonthlySummary(ctx context.Context, userID string, year int, month time.Month) ([]CategorySummary, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0).Add(-time.Nanosecond)

	txs, err := s.store.ListTransactions(ctx, userID, storage.TransactionFilter{
		Type: "expense",
		From: from,
		To:   to,
	})
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}

	totals := make(map[string]float64)
	var order []string
	for _, tx := range txs {
		if _, seen := totals[tx.Category]; !seen {
			order = append(order, tx.Category)
		}
		totals[tx.Category] += tx.Amount
	}

	out := make([]CategorySummary, 0, len(order))
	for _, category := range order {
		out = append(out, CategorySummary{Category: category, Total: totals[category]})
	}
	return out, nil
}
