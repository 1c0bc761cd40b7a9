package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jewelcraft/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, customer_name, customer_email, customer_phone,
	shipping_line1, shipping_line2, shipping_city, shipping_state, shipping_zip, shipping_country,
	total_amount, status, payment_method, notes, created_at, updated_at`

// orderRow is the flat orders table row
type orderRow struct {
	ID              string             `db:"id"`
	CustomerName    string             `db:"customer_name"`
	CustomerEmail   string             `db:"customer_email"`
	CustomerPhone   string             `db:"customer_phone"`
	ShippingLine1   string             `db:"shipping_line1"`
	ShippingLine2   *string            `db:"shipping_line2"`
	ShippingCity    string             `db:"shipping_city"`
	ShippingState   string             `db:"shipping_state"`
	ShippingZip     string             `db:"shipping_zip"`
	ShippingCountry string             `db:"shipping_country"`
	TotalAmount     int64              `db:"total_amount"`
	Status          models.OrderStatus `db:"status"`
	PaymentMethod   string             `db:"payment_method"`
	Notes           *string            `db:"notes"`
	CreatedAt       time.Time          `db:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at"`
}

func (r orderRow) toModel(lines []models.LineItem) models.Order {
	if lines == nil {
		lines = []models.LineItem{}
	}
	return models.Order{
		ID:            r.ID,
		CustomerName:  r.CustomerName,
		CustomerEmail: r.CustomerEmail,
		CustomerPhone: r.CustomerPhone,
		ShippingAddress: models.ShippingAddress{
			Line1:   r.ShippingLine1,
			Line2:   r.ShippingLine2,
			City:    r.ShippingCity,
			State:   r.ShippingState,
			Zip:     r.ShippingZip,
			Country: r.ShippingCountry,
		},
		Items:         lines,
		TotalAmount:   r.TotalAmount,
		Status:        r.Status,
		PaymentMethod: r.PaymentMethod,
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type lineRow struct {
	OrderID string `db:"order_id"`
	LineNo  int    `db:"line_no"`
	models.LineItem
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertOutbox(ctx context.Context, tx *sqlx.Tx, event *models.OutboxEvent) error {
	if event == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	return tx.GetContext(ctx, &event.CreatedAt,
		`INSERT INTO outbox_events (id, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		event.ID, event.AggregateID, event.EventType, string(event.Payload))
}

// CreateOrder persists an order, its line items and its outbox event in one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, event *models.OutboxEvent) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = models.PaymentMethodCOD
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		addr := order.ShippingAddress
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO orders (id, customer_name, customer_email, customer_phone,
				shipping_line1, shipping_line2, shipping_city, shipping_state, shipping_zip, shipping_country,
				total_amount, status, payment_method, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING created_at, updated_at`,
			order.ID, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
			addr.Line1, addr.Line2, addr.City, addr.State, addr.Zip, addr.Country,
			order.TotalAmount, order.Status, order.PaymentMethod, order.Notes,
		).Scan(&order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i, li := range order.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, line_no, item_id, item_code, name, price, quantity, subtotal)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				order.ID, i, li.ItemID, li.ItemCode, li.Name, li.Price, li.Quantity, li.Subtotal)
			if err != nil {
				return fmt.Errorf("insert order line %d: %w", i, err)
			}
		}

		if err := insertOutbox(ctx, tx, event); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		return nil
	})
}

// GetOrder retrieves an order with its line items
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	lines, err := s.loadLines(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	order := row.toModel(lines[id])
	return &order, nil
}

func (s *Store) loadLines(ctx context.Context, orderIDs []string) (map[string][]models.LineItem, error) {
	var rows []lineRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT order_id, line_no, item_id, item_code, name, price, quantity, subtotal
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}

	byOrder := make(map[string][]models.LineItem, len(orderIDs))
	for _, r := range rows {
		byOrder[r.OrderID] = append(byOrder[r.OrderID], r.LineItem)
	}
	return byOrder, nil
}

// ListOrders returns one page of orders, newest first, and the total match count.
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error) {
	var w whereBuilder
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if filter.From != nil {
		w.add("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		w.add("created_at <= ?", *filter.To)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders"+w.String(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf("SELECT %s FROM orders%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d",
		orderColumns, w.String(), page.Limit, page.Offset())

	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]models.Order, 0, len(rows))
	if len(rows) == 0 {
		return orders, total, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	lines, err := s.loadLines(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, r := range rows {
		orders = append(orders, r.toModel(lines[r.ID]))
	}
	return orders, total, nil
}

// UpdateOrderStatus moves an order from one status to another if it is still in
// the from status, recording the outbox event in the same transaction.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, notes *string, event *models.OutboxEvent) (*models.Order, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $3, notes = COALESCE($4, notes), updated_at = NOW()
			WHERE id = $1 AND status = $2`,
			id, from, to, notes)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrStatusConflict
		}

		if err := insertOutbox(ctx, tx, event); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, id)
}
