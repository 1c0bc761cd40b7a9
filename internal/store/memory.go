package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"jewelcraft/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// MemoryStore is an in-process engine with the same contract as Store.
// All operations are serialized by a single mutex, so each one is atomic.
type MemoryStore struct {
	mu     sync.RWMutex
	seq    uint64
	items  map[string]*itemRecord
	orders map[string]*orderRecord
	users  map[string]*models.User
	outbox []*models.OutboxEvent
	now    func() time.Time
}

type itemRecord struct {
	item models.Item
	seq  uint64
}

type orderRecord struct {
	order models.Order
	seq   uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]*itemRecord),
		orders: make(map[string]*orderRecord),
		users:  make(map[string]*models.User),
		now:    time.Now,
	}
}

// Ping always succeeds
func (m *MemoryStore) Ping() error { return nil }

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) next() uint64 {
	m.seq++
	return m.seq
}

func copyItem(item models.Item) *models.Item {
	if item.Images != nil {
		item.Images = append(pq.StringArray(nil), item.Images...)
	}
	if item.Stones != nil {
		stones := *item.Stones
		item.Stones = &stones
	}
	return &item
}

func copyOrder(order models.Order) *models.Order {
	order.Items = append([]models.LineItem{}, order.Items...)
	if order.Notes != nil {
		notes := *order.Notes
		order.Notes = &notes
	}
	if order.ShippingAddress.Line2 != nil {
		line2 := *order.ShippingAddress.Line2
		order.ShippingAddress.Line2 = &line2
	}
	return &order
}

func (m *MemoryStore) itemCodeTaken(code, exceptID string) bool {
	for id, rec := range m.items {
		if id != exceptID && strings.EqualFold(rec.item.ItemCode, code) {
			return true
		}
	}
	return false
}

func matchesItem(item *models.Item, f models.ItemFilter) bool {
	if f.Category != "" && item.Category != f.Category {
		return false
	}
	if f.MetalType != "" && item.MetalType != f.MetalType {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if item.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinPrice != nil && item.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && item.Price > *f.MaxPrice {
		return false
	}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		if !strings.Contains(strings.ToLower(item.Name), search) &&
			!strings.Contains(strings.ToLower(item.Description), search) &&
			!strings.Contains(strings.ToLower(item.ItemCode), search) {
			return false
		}
	}
	return true
}

// ListItems returns one page of matching items, newest first
func (m *MemoryStore) ListItems(ctx context.Context, filter models.ItemFilter) ([]models.Item, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*itemRecord, 0, len(m.items))
	for _, rec := range m.items {
		if matchesItem(&rec.item, filter) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			return a.item.CreatedAt.After(b.item.CreatedAt)
		}
		return a.seq > b.seq
	})

	page := filter.Page.Normalize()
	start, end := paginate(len(matched), page)
	items := make([]models.Item, 0, end-start)
	for _, rec := range matched[start:end] {
		items = append(items, *copyItem(rec.item))
	}
	return items, len(matched), nil
}

func paginate(n int, page models.Page) (int, int) {
	start := page.Offset()
	if start > n {
		start = n
	}
	end := start + page.Limit
	if end > n {
		end = n
	}
	return start, end
}

// GetItem retrieves an item by ID
func (m *MemoryStore) GetItem(ctx context.Context, id string) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(rec.item), nil
}

// CreateItem stores a new item
func (m *MemoryStore) CreateItem(ctx context.Context, item *models.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.itemCodeTaken(item.ItemCode, "") {
		return &DuplicateError{Field: "item_code"}
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := m.now()
	item.Version = 1
	item.CreatedAt = now
	item.UpdatedAt = now

	m.items[item.ID] = &itemRecord{item: *copyItem(*item), seq: m.next()}
	return nil
}

// UpdateItem overwrites an item if its version still equals expectedVersion
func (m *MemoryStore) UpdateItem(ctx context.Context, item *models.Item, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.items[item.ID]
	if !ok {
		return ErrNotFound
	}
	if rec.item.Version != expectedVersion {
		return ErrVersionConflict
	}
	if m.itemCodeTaken(item.ItemCode, item.ID) {
		return &DuplicateError{Field: "item_code"}
	}

	item.Version = expectedVersion + 1
	item.CreatedAt = rec.item.CreatedAt
	item.UpdatedAt = m.now()
	rec.item = *copyItem(*item)
	return nil
}

// DeleteItem removes an item permanently
func (m *MemoryStore) DeleteItem(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

// ReserveStock takes qty units off an orderable item; the last unit flips it to sold
func (m *MemoryStore) ReserveStock(ctx context.Context, id string, qty int) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.item.Status == models.ItemStatusDiscontinued {
		return nil, ErrNotOrderable
	}
	if !rec.item.Status.Orderable() || rec.item.Quantity < qty {
		return nil, ErrInsufficientStock
	}

	rec.item.Quantity -= qty
	if rec.item.Quantity == 0 {
		rec.item.Status = models.ItemStatusSold
	}
	rec.item.Version++
	rec.item.UpdatedAt = m.now()
	return copyItem(rec.item), nil
}

// ReleaseStock returns qty units to an item and makes it sellable again
func (m *MemoryStore) ReleaseStock(ctx context.Context, id string, qty int) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.item.Quantity += qty
	if !rec.item.Status.Orderable() {
		rec.item.Status = models.ItemStatusInStock
	}
	rec.item.Version++
	rec.item.UpdatedAt = m.now()
	return copyItem(rec.item), nil
}

func (m *MemoryStore) appendOutbox(event *models.OutboxEvent) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = m.now()
	stored := *event
	stored.Payload = append([]byte(nil), event.Payload...)
	m.outbox = append(m.outbox, &stored)
}

// CreateOrder stores an order together with its outbox event
func (m *MemoryStore) CreateOrder(ctx context.Context, order *models.Order, event *models.OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = models.PaymentMethodCOD
	}
	now := m.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	m.orders[order.ID] = &orderRecord{order: *copyOrder(*order), seq: m.next()}
	m.appendOutbox(event)
	return nil
}

// GetOrder retrieves an order by ID
func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(rec.order), nil
}

// ListOrders returns one page of matching orders, newest first
func (m *MemoryStore) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*orderRecord, 0, len(m.orders))
	for _, rec := range m.orders {
		o := &rec.order
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.From != nil && o.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && o.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
			return a.order.CreatedAt.After(b.order.CreatedAt)
		}
		return a.seq > b.seq
	})

	page := filter.Page.Normalize()
	start, end := paginate(len(matched), page)
	orders := make([]models.Order, 0, end-start)
	for _, rec := range matched[start:end] {
		orders = append(orders, *copyOrder(rec.order))
	}
	return orders, len(matched), nil
}

// UpdateOrderStatus moves an order from one status to another if it is still in from
func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, notes *string, event *models.OutboxEvent) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.order.Status != from {
		return nil, ErrStatusConflict
	}

	rec.order.Status = to
	if notes != nil {
		n := *notes
		rec.order.Notes = &n
	}
	rec.order.UpdatedAt = m.now()
	m.appendOutbox(event)
	return copyOrder(rec.order), nil
}

// CreateUser stores a staff account
func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == user.Username {
			return &DuplicateError{Field: "username"}
		}
		if u.Email == user.Email {
			return &DuplicateError{Field: "email"}
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = m.now()
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

// GetUserByEmail looks a user up by login email
func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Email == email {
			found := *u
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// GetUserByID looks a user up by ID
func (m *MemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *u
	return &found, nil
}

// ListUsers returns all accounts, oldest first
func (m *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// CountUsersByRole returns how many accounts hold role
func (m *MemoryStore) CountUsersByRole(ctx context.Context, role string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, u := range m.users {
		if string(u.Role) == role {
			n++
		}
	}
	return n, nil
}

// FetchUnpublished returns up to limit unpublished outbox events, oldest first
func (m *MemoryStore) FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := []models.OutboxEvent{}
	for _, e := range m.outbox {
		if e.PublishedAt != nil {
			continue
		}
		if len(events) == limit {
			break
		}
		events = append(events, *e)
	}
	return events, nil
}

// MarkPublished stamps the given events as published
func (m *MemoryStore) MarkPublished(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	now := m.now()
	for _, e := range m.outbox {
		if want[e.ID] && e.PublishedAt == nil {
			published := now
			e.PublishedAt = &published
		}
	}
	return nil
}
