// Package budgetsync consumes spending events and keeps budget counters in
// step with recorded expenses.
package budgetsync

import (
	"context"
	"fmt"

	"mintify/internal/event"
	"mintify/internal/log"
	"mintify/internal/metrics"
)

// BudgetStore is the single write path into budget counters. No other
// writer may read-modify-write the spent column.
type BudgetStore interface {
	AddSpent(ctx context.Context, userID, category, period string, amount float64) (bool, error)
}

// Consumer applies spending events to budgets.
type Consumer struct {
	store  BudgetStore
	logger *log.Logger
}

// NewConsumer builds a consumer over the given store.
func NewConsumer(store BudgetStore, logger *log.Logger) *Consumer {
	return &Consumer{store: store, logger: logger}
}

// HandleSpendingRecorded processes one delivered event: derive the UTC
// year-month period from the event date, then perform a single atomic
// increment on the matching budget.
//
// A missing budget is not an error — budgets are opt-in, and an unbudgeted
// category never auto-creates one. The delivery is acked either way; only
// unprocessable events propagate an error (and are dropped without
// requeue). Duplicate deliveries double-count: at-least-once semantics
// without idempotency keys, accepted by design.
func (c *Consumer) HandleSpendingRecorded(ctx context.Context, evt *event.SpendingEvent) error {
	if evt.Type != event.TypeSpendingRecorded {
		c.logger.Debug("Ignoring event of foreign type", "type", evt.Type)
		return nil
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("unprocessable spending event: %w", err)
	}

	period := evt.Period()
	matched, err := c.store.AddSpent(ctx, evt.UserID, evt.Category, period, evt.Amount)
	if err != nil {
		return fmt.Errorf("increment budget: %w", err)
	}

	metrics.SpendingEventsConsumed.WithLabelValues("budget-sync").Inc()

	if !matched {
		c.logger.InfoContext(ctx, "No matching budget for spending event",
			"user_id", evt.UserID,
			"category", evt.Category,
			"period", period)
		return nil
	}

	c.logger.InfoContext(ctx, "Budget spent incremented",
		"user_id", evt.UserID,
		"category", evt.Category,
		"period", period,
		"amount", evt.Amount,
		"transaction_id", evt.TransactionID)
	return nil
}
