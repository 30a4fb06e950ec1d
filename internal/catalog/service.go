package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service wraps the repository with validation and exposes the policy
// lookups the stock module depends on.
type Service struct {
	repo Repository
}

// NewService constructs the catalog service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListItems returns items matching the filters plus the total count.
func (s *Service) ListItems(ctx context.Context, filters ListFilters) ([]Item, int, error) {
	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	return s.repo.ListItems(ctx, filters)
}

// GetItem fetches a single item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// CreateItem validates and persists a new item.
func (s *Service) CreateItem(ctx context.Context, item Item) (Item, error) {
	item.SKU = strings.TrimSpace(item.SKU)
	item.Name = strings.TrimSpace(item.Name)
	if item.SKU == "" || item.Name == "" {
		return Item{}, fmt.Errorf("%w: sku and name are required", ErrValidation)
	}
	if item.UnitOfMeasure == "" {
		item.UnitOfMeasure = "EA"
	}
	if item.StandardRate.Sign() < 0 {
		return Item{}, fmt.Errorf("%w: standard_rate must not be negative", ErrValidation)
	}
	return s.repo.CreateItem(ctx, item)
}

// UpdateItem validates and stores item changes.
func (s *Service) UpdateItem(ctx context.Context, id int64, item Item) error {
	item.SKU = strings.TrimSpace(item.SKU)
	item.Name = strings.TrimSpace(item.Name)
	if item.SKU == "" || item.Name == "" {
		return fmt.Errorf("%w: sku and name are required", ErrValidation)
	}
	return s.repo.UpdateItem(ctx, id, item)
}

// ListLocations returns locations matching the filters plus the total count.
func (s *Service) ListLocations(ctx context.Context, filters ListFilters) ([]Location, int, error) {
	return s.repo.ListLocations(ctx, filters)
}

// GetLocation fetches a single location.
func (s *Service) GetLocation(ctx context.Context, id int64) (Location, error) {
	return s.repo.GetLocation(ctx, id)
}

// CreateLocation validates and persists a new location.
func (s *Service) CreateLocation(ctx context.Context, loc Location) (Location, error) {
	loc.Code = strings.TrimSpace(loc.Code)
	loc.Name = strings.TrimSpace(loc.Name)
	if loc.Code == "" || loc.Name == "" {
		return Location{}, fmt.Errorf("%w: code and name are required", ErrValidation)
	}
	if loc.ParentID != nil {
		parent, err := s.repo.GetLocation(ctx, *loc.ParentID)
		if err != nil {
			return Location{}, err
		}
		if !parent.IsGroup {
			return Location{}, fmt.Errorf("%w: parent %s is not a group location", ErrValidation, parent.Code)
		}
	}
	return s.repo.CreateLocation(ctx, loc)
}

// UpdateLocation validates and stores location changes.
func (s *Service) UpdateLocation(ctx context.Context, id int64, loc Location) error {
	loc.Code = strings.TrimSpace(loc.Code)
	loc.Name = strings.TrimSpace(loc.Name)
	if loc.Code == "" || loc.Name == "" {
		return fmt.Errorf("%w: code and name are required", ErrValidation)
	}
	if loc.ParentID != nil && *loc.ParentID == id {
		return fmt.Errorf("%w: location cannot be its own parent", ErrValidation)
	}
	return s.repo.UpdateLocation(ctx, id, loc)
}

// IsStockTracked reports whether the item participates in stock ledger
// postings. Unknown items report an error.
func (s *Service) IsStockTracked(ctx context.Context, itemID int64) (bool, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	return item.IsActive && item.IsStockTracked, nil
}

// AllowsNegativeStock reports the per-item negative balance policy.
func (s *Service) AllowsNegativeStock(ctx context.Context, itemID int64) (bool, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	return item.AllowNegativeStock, nil
}

// Exists reports whether a leaf location can receive stock.
func (s *Service) Exists(ctx context.Context, locationID int64) (bool, error) {
	loc, err := s.repo.GetLocation(ctx, locationID)
	if err != nil {
		if errors.Is(err, ErrLocationNotFound) {
			return false, nil
		}
		return false, err
	}
	return loc.IsActive && !loc.IsGroup, nil
}
