package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// CreateBudget persists a new budget. Spent always starts from the supplied
// baseline (usually zero).
func (r *Repository) CreateBudget(ctx context.Context, b Budget) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (id, user_id, category, limit_amount, spent, period, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Category, b.Limit, b.Spent, b.Period, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget saved",
		"id", b.ID,
		"user_id", b.UserID,
		"category", b.Category,
		"period", b.Period,
		"limit", b.Limit)
	return nil
}

// ListBudgets returns all budgets for the user.
func (r *Repository) ListBudgets(ctx context.Context, userID string) ([]Budget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, category, limit_amount, spent, period, created_at, updated_at
		FROM budgets WHERE user_id = ? ORDER BY category, period`, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []Budget
	for rows.Next() {
		var b Budget
		if err := rows.Scan(&b.ID, &b.UserID, &b.Category, &b.Limit, &b.Spent, &b.Period, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AddSpent atomically increments spent on the budget matching (userID,
// category, period). The increment is a single conditional UPDATE — never a
// read-then-write — so concurrent consumers cannot lose updates; addition
// commutes, so any delivery order yields the same final value.
//
// Returns false when no budget matches; budgets are opt-in and are never
// auto-created for an unbudgeted category.
func (r *Repository) AddSpent(ctx context.Context, userID, category, period string, amount float64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE budgets
		SET spent = spent + ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND category = ? AND period = ?`,
		amount, userID, category, period)
	if err != nil {
		return false, fmt.Errorf("increment budget spent: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
