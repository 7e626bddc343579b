package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"countryballs/internal/model"
	"countryballs/internal/pkg/db"
)

// EventRepository handles the per-user balance audit trail.
type EventRepository struct {
	db db.Querier
}

// NewEventRepository creates a new EventRepository instance.
func NewEventRepository(q db.Querier) *EventRepository {
	return &EventRepository{db: q}
}

// WithTx returns a copy bound to tx.
func (r *EventRepository) WithTx(tx pgx.Tx) *EventRepository {
	return &EventRepository{db: tx}
}

// Create records a balance change.
func (r *EventRepository) Create(ctx context.Context, userID uuid.UUID, amount int64, eventType string, description *string) (*model.BalanceEvent, error) {
	const query = `
		INSERT INTO balance_events (user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, user_id, amount, type, description, created_at
	`

	var ev model.BalanceEvent
	err := r.db.QueryRow(ctx, query, userID, amount, eventType, description).Scan(
		&ev.ID,
		&ev.UserID,
		&ev.Amount,
		&ev.Type,
		&ev.Description,
		&ev.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance event: %w", err)
	}

	return &ev, nil
}

// ListByUser retrieves a user's events, newest first.
func (r *EventRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*model.BalanceEvent, error) {
	const query = `
		SELECT id, user_id, amount, type, description, created_at
		FROM balance_events
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance events: %w", err)
	}
	defer rows.Close()

	var events []*model.BalanceEvent
	for rows.Next() {
		var ev model.BalanceEvent
		err := rows.Scan(
			&ev.ID,
			&ev.UserID,
			&ev.Amount,
			&ev.Type,
			&ev.Description,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance event: %w", err)
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance events: %w", err)
	}

	return events, nil
}

// SumSince totals a user's events of one type created at or after since.
func (r *EventRepository) SumSince(ctx context.Context, userID uuid.UUID, eventType string, since time.Time) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM balance_events
		WHERE user_id = $1 AND type = $2 AND created_at >= $3
	`

	var total int64
	if err := r.db.QueryRow(ctx, query, userID, eventType, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum balance events: %w", err)
	}
	return total, nil
}
