package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"jewelcraft/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const itemColumns = `id, item_code, name, description, category, price, weight, metal_type,
	stones, images, quantity, status, version, created_at, updated_at`

// whereBuilder accumulates AND-ed predicates with positional args.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

// add appends a predicate; each ? in clause binds the next arg.
func (w *whereBuilder) add(clause string, args ...interface{}) {
	for _, arg := range args {
		w.args = append(w.args, arg)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListItems returns one page of items matching the filter, newest first, and the total match count.
func (s *Store) ListItems(ctx context.Context, filter models.ItemFilter) ([]models.Item, int, error) {
	var w whereBuilder
	if filter.Category != "" {
		w.add("category = ?", filter.Category)
	}
	if filter.MetalType != "" {
		w.add("metal_type = ?", filter.MetalType)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		w.add("status = ANY(?)", pq.Array(statuses))
	}
	if filter.MinPrice != nil {
		w.add("price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		w.add("price <= ?", *filter.MaxPrice)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		w.add("(name ILIKE ? OR description ILIKE ? OR item_code ILIKE ?)", pattern, pattern, pattern)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM items"+w.String(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf("SELECT %s FROM items%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d",
		itemColumns, w.String(), page.Limit, page.Offset())

	items := []models.Item{}
	if err := s.db.SelectContext(ctx, &items, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	return items, total, nil
}

// GetItem retrieves an item by ID
func (s *Store) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	err := s.db.GetContext(ctx, &item, "SELECT "+itemColumns+" FROM items WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateItem inserts a new item and fills in its ID, version and timestamps.
func (s *Store) CreateItem(ctx context.Context, item *models.Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO items (id, item_code, name, description, category, price, weight,
			metal_type, stones, images, quantity, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + itemColumns

	err := s.db.GetContext(ctx, item, query,
		item.ID, item.ItemCode, item.Name, item.Description, item.Category, item.Price, item.Weight,
		item.MetalType, item.Stones, item.Images, item.Quantity, item.Status)
	return translateError(err)
}

// UpdateItem overwrites an item if its version still equals expectedVersion.
func (s *Store) UpdateItem(ctx context.Context, item *models.Item, expectedVersion int64) error {
	query := `
		UPDATE items
		SET item_code = $3, name = $4, description = $5, category = $6, price = $7, weight = $8,
			metal_type = $9, stones = $10, images = $11, quantity = $12, status = $13,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + itemColumns

	err := s.db.GetContext(ctx, item, query,
		item.ID, expectedVersion,
		item.ItemCode, item.Name, item.Description, item.Category, item.Price, item.Weight,
		item.MetalType, item.Stones, item.Images, item.Quantity, item.Status)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetItem(ctx, item.ID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}
	return translateError(err)
}

// DeleteItem removes an item permanently
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReserveStock atomically takes qty units off an orderable item and returns the
// item as it was reserved. The last unit flips the item to sold. A sold item
// reports ErrInsufficientStock, a discontinued one ErrNotOrderable.
func (s *Store) ReserveStock(ctx context.Context, id string, qty int) (*models.Item, error) {
	query := `
		UPDATE items
		SET quantity = quantity - $2,
			status = CASE WHEN quantity - $2 = 0 THEN 'sold' ELSE status END,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND quantity >= $2 AND status IN ('in_stock', 'reserved')
		RETURNING ` + itemColumns

	var item models.Item
	err := s.db.GetContext(ctx, &item, query, id, qty)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetItem(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == models.ItemStatusDiscontinued {
			return nil, ErrNotOrderable
		}
		return nil, ErrInsufficientStock
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ReleaseStock returns qty units to an item. Returned stock is sellable, so a
// sold or discontinued item goes back in stock.
func (s *Store) ReleaseStock(ctx context.Context, id string, qty int) (*models.Item, error) {
	query := `
		UPDATE items
		SET quantity = quantity + $2,
			status = CASE WHEN status IN ('in_stock', 'reserved') THEN status ELSE 'in_stock' END,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + itemColumns

	var item models.Item
	err := s.db.GetContext(ctx, &item, query, id, qty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
