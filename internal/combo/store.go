package combo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vuhoang-dev/backend-preorder/internal/pricing"
)

// ErrNotFound is returned when a combo does not exist.
var ErrNotFound = errors.New("combo not found")

// Combo is a registry entry: a fixed bundle price for category quantities.
// Registry order is creation order; it breaks ties between equal-priority
// combos during pricing.
type Combo struct {
	ID           uuid.UUID             `json:"id"`
	Name         string                `json:"name"`
	Price        int64                 `json:"price"`
	Priority     int                   `json:"priority"`
	Requirements []pricing.Requirement `json:"requirements"`
	Active       bool                  `json:"active"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// Store persists combos in PostgreSQL with jsonb requirements.
type Store struct {
	Pool *pgxpool.Pool
}

const comboColumns = "id, name, price, priority, requirements, active, created_at, updated_at"

func scanCombo(row pgx.Row) (Combo, error) {
	var c Combo
	var raw []byte
	err := row.Scan(&c.ID, &c.Name, &c.Price, &c.Priority, &raw, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Combo{}, ErrNotFound
		}
		return Combo{}, err
	}
	if err := json.Unmarshal(raw, &c.Requirements); err != nil {
		return Combo{}, fmt.Errorf("combo %s: decode requirements: %w", c.ID, err)
	}
	return c, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Combo, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	combos := make([]Combo, 0, 16)
	for rows.Next() {
		c, err := scanCombo(rows)
		if err != nil {
			return nil, err
		}
		combos = append(combos, c)
	}
	return combos, rows.Err()
}

// ListActive returns active combos in registry order.
func (s *Store) ListActive(ctx context.Context) ([]Combo, error) {
	return s.list(ctx, "SELECT "+comboColumns+" FROM combos WHERE active = true ORDER BY created_at, id")
}

// ListAll returns every combo in registry order, for the back office.
func (s *Store) ListAll(ctx context.Context) ([]Combo, error) {
	return s.list(ctx, "SELECT "+comboColumns+" FROM combos ORDER BY created_at, id")
}

// GetByID fetches one combo.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Combo, error) {
	row := s.Pool.QueryRow(ctx, "SELECT "+comboColumns+" FROM combos WHERE id = $1", id)
	return scanCombo(row)
}

// Create inserts a combo and returns the stored row.
func (s *Store) Create(ctx context.Context, c Combo) (Combo, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	raw, err := json.Marshal(c.Requirements)
	if err != nil {
		return Combo{}, err
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO combos (id, name, price, priority, requirements, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+comboColumns,
		c.ID, c.Name, c.Price, c.Priority, raw, c.Active)
	return scanCombo(row)
}

// Update rewrites a combo's mutable fields.
func (s *Store) Update(ctx context.Context, c Combo) (Combo, error) {
	raw, err := json.Marshal(c.Requirements)
	if err != nil {
		return Combo{}, err
	}
	row := s.Pool.QueryRow(ctx, `
		UPDATE combos
		SET name = $2, price = $3, priority = $4, requirements = $5, active = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+comboColumns,
		c.ID, c.Name, c.Price, c.Priority, raw, c.Active)
	return scanCombo(row)
}

// Delete removes a combo.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, "DELETE FROM combos WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
