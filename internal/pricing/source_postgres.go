package pricing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"agencyhub/internal/membership/models"
)

// PostgresSource reads tiers from the pricing_tiers table.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) ActiveTiers(ctx context.Context) ([]models.PricingTier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cost_cents, currency, features, duration_days, is_active
		FROM pricing_tiers
		WHERE is_active
		ORDER BY cost_cents ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pricing tiers: %w", err)
	}
	defer rows.Close()

	var tiers []models.PricingTier
	for rows.Next() {
		var t models.PricingTier
		var duration sql.NullInt32
		if err := rows.Scan(&t.ID, &t.Name, &t.CostCents, &t.Currency, pq.Array(&t.Features), &duration, &t.IsActive); err != nil {
			return nil, fmt.Errorf("scan pricing tier: %w", err)
		}
		if duration.Valid {
			days := int(duration.Int32)
			t.DurationDays = &days
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pricing tiers: %w", err)
	}
	return tiers, nil
}
