package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"countryballs/internal/economy"
	"countryballs/internal/model"
	"countryballs/internal/pkg/db"
)

// ReferralRepository handles referral edges and commission levels.
type ReferralRepository struct {
	db db.Querier
}

// NewReferralRepository creates a new ReferralRepository instance.
func NewReferralRepository(q db.Querier) *ReferralRepository {
	return &ReferralRepository{db: q}
}

// WithTx returns a copy bound to tx.
func (r *ReferralRepository) WithTx(tx pgx.Tx) *ReferralRepository {
	return &ReferralRepository{db: tx}
}

// InsertEdges stores a whole chain with one COPY. Edges for a user are
// written once, so a duplicate is a conflict.
func (r *ReferralRepository) InsertEdges(ctx context.Context, edges []model.ReferralEdge) error {
	if len(edges) == 0 {
		return nil
	}

	rows := make([][]any, len(edges))
	for i, e := range edges {
		rows[i] = []any{e.OwnerID, e.ReferralID, int32(e.Level)}
	}

	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"referral_edges"},
		[]string{"owner_id", "referral_id", "level"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("referral edge already exists: %w", economy.ErrConflict)
		}
		return fmt.Errorf("failed to insert referral edges: %w", err)
	}
	return nil
}

// EdgesForReferral returns the chain stored for a referred user, ordered by level.
func (r *ReferralRepository) EdgesForReferral(ctx context.Context, referralID uuid.UUID) ([]model.ReferralEdge, error) {
	const query = `
		SELECT owner_id, referral_id, level
		FROM referral_edges
		WHERE referral_id = $1
		ORDER BY level
	`

	rows, err := r.db.Query(ctx, query, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to get referral edges: %w", err)
	}
	defer rows.Close()

	var edges []model.ReferralEdge
	for rows.Next() {
		var e model.ReferralEdge
		if err := rows.Scan(&e.OwnerID, &e.ReferralID, &e.Level); err != nil {
			return nil, fmt.Errorf("failed to scan referral edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referral edges: %w", err)
	}

	return edges, nil
}

// CountByLevel returns the number of edges owned by ownerID per level.
func (r *ReferralRepository) CountByLevel(ctx context.Context, ownerID uuid.UUID) (map[int]int, error) {
	const query = `
		SELECT level, COUNT(*)
		FROM referral_edges
		WHERE owner_id = $1
		GROUP BY level
	`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var level, n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("failed to scan referral count: %w", err)
		}
		counts[level] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referral counts: %w", err)
	}

	return counts, nil
}

// Levels returns the commission rate per level.
func (r *ReferralRepository) Levels(ctx context.Context) (map[int]decimal.Decimal, error) {
	rows, err := r.db.Query(ctx, `SELECT level, commission_rate::text FROM referral_levels`)
	if err != nil {
		return nil, fmt.Errorf("failed to get referral levels: %w", err)
	}
	defer rows.Close()

	rates := make(map[int]decimal.Decimal)
	for rows.Next() {
		var (
			level int
			raw   string
		)
		if err := rows.Scan(&level, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan referral level: %w", err)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("bad commission rate for level %d: %w", level, err)
		}
		rates[level] = rate
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referral levels: %w", err)
	}

	return rates, nil
}

// CommissionInputs joins every edge with the referral's current balance.
func (r *ReferralRepository) CommissionInputs(ctx context.Context) ([]economy.CommissionInput, error) {
	const query = `
		SELECT e.owner_id, e.level, u.game_balance
		FROM referral_edges e
		JOIN users u ON u.id = e.referral_id
		WHERE u.game_balance > 0
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load commission inputs: %w", err)
	}
	defer rows.Close()

	var inputs []economy.CommissionInput
	for rows.Next() {
		var in economy.CommissionInput
		if err := rows.Scan(&in.OwnerID, &in.Level, &in.ReferralBalance); err != nil {
			return nil, fmt.Errorf("failed to scan commission input: %w", err)
		}
		inputs = append(inputs, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commission inputs: %w", err)
	}

	return inputs, nil
}
