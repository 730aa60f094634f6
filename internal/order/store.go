package order

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

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is a persisted preorder with its frozen pricing totals.
type Order struct {
	ID            uuid.UUID `json:"id"`
	Code          string    `json:"code"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone"`
	Note          string    `json:"note,omitempty"`
	Status        string    `json:"status"`
	OriginalTotal int64     `json:"originalTotal"`
	FinalTotal    int64     `json:"finalTotal"`
	TotalSavings  int64     `json:"totalSavings"`
	Approximate   bool      `json:"approximate,omitempty"`
	Items         []Item    `json:"items,omitempty"`
	Combos        []ComboUse `json:"combos,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Item is one ordered cart line at its individual unit price.
type Item struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Qty       int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
	Subtotal  int64     `json:"subtotal"`
}

// ComboUse records one applied combo from the order's pricing breakdown.
type ComboUse struct {
	ID           uuid.UUID `json:"id"`
	ComboID      uuid.UUID `json:"comboId"`
	Name         string    `json:"name"`
	Applications int       `json:"applications"`
	TotalPrice   int64     `json:"totalPrice"`
	Savings      int64     `json:"savings"`
}

// ListParams filter the admin order listing.
type ListParams struct {
	Status string
	Page   int
	Limit  int
}

// Store persists orders in PostgreSQL.
type Store struct {
	Pool *pgxpool.Pool
}

const orderColumns = "id, code, customer_name, customer_phone, note, status, original_total, final_total, total_savings, approximate, created_at, updated_at"

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Code, &o.CustomerName, &o.CustomerPhone, &o.Note, &o.Status,
		&o.OriginalTotal, &o.FinalTotal, &o.TotalSavings, &o.Approximate, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

// Create persists the order with its items and combo uses in one transaction.
func (s *Store) Create(ctx context.Context, o Order) (Order, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `
		INSERT INTO orders (id, code, customer_name, customer_phone, note, status,
			original_total, final_total, total_savings, approximate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+orderColumns,
		o.ID, o.Code, o.CustomerName, o.CustomerPhone, o.Note, o.Status,
		o.OriginalTotal, o.FinalTotal, o.TotalSavings, o.Approximate)
	created, err := scanOrder(row)
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	for _, item := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, category, qty, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New(), created.ID, item.ProductID, item.Name, item.Category,
			item.Qty, item.UnitPrice, item.Subtotal); err != nil {
			return Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}
	for _, use := range o.Combos {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_combos (id, order_id, combo_id, name, applications, total_price, savings)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), created.ID, use.ComboID, use.Name, use.Applications,
			use.TotalPrice, use.Savings); err != nil {
			return Order{}, fmt.Errorf("insert order combo: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	created.Items = o.Items
	created.Combos = o.Combos
	return created, nil
}

func (s *Store) loadDetails(ctx context.Context, o *Order) error {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, product_id, name, category, qty, unit_price, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY name`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Name, &item.Category,
			&item.Qty, &item.UnitPrice, &item.Subtotal); err != nil {
			return err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	comboRows, err := s.Pool.Query(ctx, `
		SELECT id, combo_id, name, applications, total_price, savings
		FROM order_combos WHERE order_id = $1 ORDER BY name`, o.ID)
	if err != nil {
		return err
	}
	defer comboRows.Close()
	for comboRows.Next() {
		var use ComboUse
		if err := comboRows.Scan(&use.ID, &use.ComboID, &use.Name, &use.Applications,
			&use.TotalPrice, &use.Savings); err != nil {
			return err
		}
		o.Combos = append(o.Combos, use)
	}
	return comboRows.Err()
}

// GetByCode fetches an order with details by its public tracking code.
func (s *Store) GetByCode(ctx context.Context, code string) (Order, error) {
	row := s.Pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE code = $1", strings.ToUpper(strings.TrimSpace(code)))
	o, err := scanOrder(row)
	if err != nil {
		return Order{}, err
	}
	if err := s.loadDetails(ctx, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// GetByID fetches an order with details.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Order, error) {
	row := s.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row)
	if err != nil {
		return Order{}, err
	}
	if err := s.loadDetails(ctx, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// List returns a page of orders, newest first, with the total match count.
func (s *Store) List(ctx context.Context, params ListParams) ([]Order, int64, error) {
	where := "TRUE"
	args := []any{}
	if params.Status != "" {
		args = append(args, params.Status)
		where = "status = $1"
	}
	var total int64
	if err := s.Pool.QueryRow(ctx, "SELECT count(*) FROM orders WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, params.Limit, (params.Page-1)*params.Limit)
	query := fmt.Sprintf("SELECT %s FROM orders WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, len(args)-1, len(args))
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]Order, 0, params.Limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

// UpdateStatus sets the order status and returns the updated row.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (Order, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, id, status)
	return scanOrder(row)
}
