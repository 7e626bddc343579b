package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"countryballs/internal/economy"
	"countryballs/internal/model"
	"countryballs/internal/pkg/db"
)

// Catalog errors.
var (
	ErrEnterpriseNotFound = fmt.Errorf("enterprise %w", economy.ErrNotFound)
	ErrBoostNotFound      = fmt.Errorf("boost %w", economy.ErrNotFound)
	ErrCaseNotFound       = fmt.Errorf("case %w", economy.ErrNotFound)
)

// CatalogRepository reads purchasable items and reference geography and
// records item ownership.
type CatalogRepository struct {
	db db.Querier
}

// NewCatalogRepository creates a new CatalogRepository instance.
func NewCatalogRepository(q db.Querier) *CatalogRepository {
	return &CatalogRepository{db: q}
}

// WithTx returns a copy bound to tx.
func (r *CatalogRepository) WithTx(tx pgx.Tx) *CatalogRepository {
	return &CatalogRepository{db: tx}
}

// GetEnterprise retrieves an enterprise by id.
func (r *CatalogRepository) GetEnterprise(ctx context.Context, id int64) (*model.Enterprise, error) {
	var e model.Enterprise
	err := r.db.QueryRow(ctx, `SELECT id, name, capacity FROM enterprises WHERE id = $1`, id).
		Scan(&e.ID, &e.Name, &e.Capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnterpriseNotFound
		}
		return nil, fmt.Errorf("failed to get enterprise: %w", err)
	}
	return &e, nil
}

// GetBoost retrieves a boost by id.
func (r *CatalogRepository) GetBoost(ctx context.Context, id int64) (*model.Boost, error) {
	var b model.Boost
	err := r.db.QueryRow(ctx, `SELECT id, name, value FROM boosts WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBoostNotFound
		}
		return nil, fmt.Errorf("failed to get boost: %w", err)
	}
	return &b, nil
}

// CaseRewards returns the reward table of a case. An unknown case returns ErrCaseNotFound.
func (r *CatalogRepository) CaseRewards(ctx context.Context, caseID int64) ([]model.CaseReward, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id = $1)`, caseID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check case: %w", err)
	}
	if !exists {
		return nil, ErrCaseNotFound
	}

	const query = `
		SELECT id, case_id, kind, amount, weight
		FROM case_rewards
		WHERE case_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get case rewards: %w", err)
	}
	defer rows.Close()

	var rewards []model.CaseReward
	for rows.Next() {
		var cr model.CaseReward
		if err := rows.Scan(&cr.ID, &cr.CaseID, &cr.Kind, &cr.Amount, &cr.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan case reward: %w", err)
		}
		rewards = append(rewards, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating case rewards: %w", err)
	}

	return rewards, nil
}

// GrantEnterprise records ownership of an enterprise.
func (r *CatalogRepository) GrantEnterprise(ctx context.Context, userID uuid.UUID, enterpriseID int64) error {
	const query = `INSERT INTO user_enterprises (user_id, enterprise_id, created_at) VALUES ($1, $2, NOW())`
	if _, err := r.db.Exec(ctx, query, userID, enterpriseID); err != nil {
		return fmt.Errorf("failed to grant enterprise: %w", err)
	}
	return nil
}

// GrantBoost records ownership of a boost.
func (r *CatalogRepository) GrantBoost(ctx context.Context, userID uuid.UUID, boostID int64) error {
	const query = `INSERT INTO user_boosts (user_id, boost_id, created_at) VALUES ($1, $2, NOW())`
	if _, err := r.db.Exec(ctx, query, userID, boostID); err != nil {
		return fmt.Errorf("failed to grant boost: %w", err)
	}
	return nil
}

// UserEnterprises lists the enterprises a user owns, oldest first.
func (r *CatalogRepository) UserEnterprises(ctx context.Context, userID uuid.UUID) ([]model.Enterprise, error) {
	const query = `
		SELECT e.id, e.name, e.capacity
		FROM user_enterprises ue
		JOIN enterprises e ON e.id = ue.enterprise_id
		WHERE ue.user_id = $1
		ORDER BY ue.id
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user enterprises: %w", err)
	}
	defer rows.Close()

	var out []model.Enterprise
	for rows.Next() {
		var e model.Enterprise
		if err := rows.Scan(&e.ID, &e.Name, &e.Capacity); err != nil {
			return nil, fmt.Errorf("failed to scan enterprise: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enterprises: %w", err)
	}

	return out, nil
}

// GetCountry retrieves a country by id.
func (r *CatalogRepository) GetCountry(ctx context.Context, id int64) (*model.Country, error) {
	var c model.Country
	err := r.db.QueryRow(ctx, `SELECT id, name, description, image_url FROM countries WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.ImageURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCountryNotFound
		}
		return nil, fmt.Errorf("failed to get country: %w", err)
	}
	return &c, nil
}

// GetRegion retrieves a region by id.
func (r *CatalogRepository) GetRegion(ctx context.Context, id int64) (*model.Region, error) {
	var rg model.Region
	err := r.db.QueryRow(ctx, `SELECT id, name, country_id FROM regions WHERE id = $1`, id).
		Scan(&rg.ID, &rg.Name, &rg.CountryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRegionNotFound
		}
		return nil, fmt.Errorf("failed to get region: %w", err)
	}
	return &rg, nil
}
