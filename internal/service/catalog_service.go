package service

import (
	"context"

	"jewelcraft/internal/apperr"
	"jewelcraft/internal/models"
)

// CatalogService is the customer-facing, read-only view of the inventory.
// Customers only ever see items that are in stock.
type CatalogService struct {
	inventory *InventoryService
}

// NewCatalogService creates a new catalog service
func NewCatalogService(inventory *InventoryService) *CatalogService {
	return &CatalogService{inventory: inventory}
}

// List returns one page of in-stock items matching filter
func (s *CatalogService) List(ctx context.Context, filter models.ItemFilter) (*models.ItemList, error) {
	filter.Statuses = []models.ItemStatus{models.ItemStatusInStock}
	return s.inventory.List(ctx, filter)
}

// Get returns an in-stock item; anything else is reported as not found
func (s *CatalogService) Get(ctx context.Context, id string) (*models.Item, error) {
	item, err := s.inventory.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ItemStatusInStock {
		return nil, apperr.NotFound("item %s not found", id)
	}
	return item, nil
}
