package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// CreateTransaction persists a new transaction record.
func (r *Repository) CreateTransaction(ctx context.Context, tx Transaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, category, date, description, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Category, tx.Date, tx.Description, tx.Source, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"id", tx.ID,
		"user_id", tx.UserID,
		"type", tx.Type,
		"amount", tx.Amount,
		"category", tx.Category)
	return nil
}

// GetTransaction returns the transaction with the given id for the given
// user, or ErrNotFound.
func (r *Repository) GetTransaction(ctx context.Context, userID, id string) (Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, amount, category, date, description, source, created_at
		FROM transactions WHERE id = ? AND user_id = ?`, id, userID)

	var tx Transaction
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Category, &tx.Date, &tx.Description, &tx.Source, &tx.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions returns the user's transactions, newest first, narrowed
// by the filter.
func (r *Repository) ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]Transaction, error) {
	query := []string{`
		SELECT id, user_id, type, amount, category, date, description, source, created_at
		FROM transactions WHERE user_id = ?`}
	args := []any{userID}

	if f.Type != "" {
		query = append(query, "AND type = ?")
		args = append(args, f.Type)
	}
	if f.Category != "" {
		query = append(query, "AND category = ?")
		args = append(args, f.Category)
	}
	if !f.From.IsZero() {
		query = append(query, "AND date >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query = append(query, "AND date <= ?")
		args = append(args, f.To)
	}
	query = append(query, "ORDER BY date DESC")

	rows, err := r.db.QueryContext(ctx, strings.Join(query, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Category, &tx.Date, &tx.Description, &tx.Source, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
