package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a sellable catalog item. Price is stored in minor units.
type Product struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Price     int64     `json:"price"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists products in PostgreSQL.
type Store struct {
	Pool *pgxpool.Pool
}

const productColumns = "id, name, category, price, active, created_at, updated_at"

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// List returns active products matching the filter plus the total match count.
func (s *Store) List(ctx context.Context, params ListParams) ([]Product, int64, error) {
	where := []string{"active = true"}
	args := []any{}
	if params.Category != "" {
		args = append(args, params.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if params.Query != "" {
		args = append(args, "%"+strings.ToLower(params.Query)+"%")
		where = append(where, fmt.Sprintf("lower(name) LIKE $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := s.Pool.QueryRow(ctx, "SELECT count(*) FROM products WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, params.Limit, (params.Page-1)*params.Limit)
	query := fmt.Sprintf(
		"SELECT %s FROM products WHERE %s ORDER BY category, name LIMIT $%d OFFSET $%d",
		productColumns, cond, len(args)-1, len(args),
	)
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := make([]Product, 0, params.Limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

// GetByID fetches one product regardless of active flag.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Product, error) {
	row := s.Pool.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	return scanProduct(row)
}

// ByIDs fetches the active products among the given ids. Unknown ids are
// silently absent from the result.
func (s *Store) ByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx,
		"SELECT "+productColumns+" FROM products WHERE active = true AND id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]Product, 0, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Categories lists the distinct categories of active products.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx,
		"SELECT DISTINCT category FROM products WHERE active = true ORDER BY category")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]string, 0, 8)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Create inserts a product and returns the stored row.
func (s *Store) Create(ctx context.Context, p Product) (Product, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO products (id, name, category, price, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+productColumns,
		p.ID, p.Name, p.Category, p.Price, p.Active)
	return scanProduct(row)
}

// Update rewrites a product's mutable fields.
func (s *Store) Update(ctx context.Context, p Product) (Product, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, active = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		p.ID, p.Name, p.Category, p.Price, p.Active)
	return scanProduct(row)
}

// Delete removes a product.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
