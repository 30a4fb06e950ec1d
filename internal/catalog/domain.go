// Package catalog manages items and storage locations referenced by stock
// movements.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Item represents a stock-keeping unit.
type Item struct {
	ID                 int64           `json:"id"`
	SKU                string          `json:"sku"`
	Name               string          `json:"name"`
	UnitOfMeasure      string          `json:"unit_of_measure"`
	StandardRate       decimal.Decimal `json:"standard_rate"`
	IsStockTracked     bool            `json:"is_stock_tracked"`
	AllowNegativeStock bool            `json:"allow_negative_stock"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Location represents a physical or logical storage location. Locations form
// a tree; only leaf locations hold stock.
type Location struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	IsGroup   bool      `json:"is_group"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilters represents standard list page filters.
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	IsActive *bool
}

var (
	ErrItemNotFound     = errors.New("item not found")
	ErrLocationNotFound = errors.New("location not found")
	ErrDuplicateCode    = errors.New("code already in use")
	ErrValidation       = errors.New("validation failed")
)

// Repository persists catalog entities.
type Repository interface {
	ListItems(ctx context.Context, filters ListFilters) ([]Item, int, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	CreateItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, id int64, item Item) error

	ListLocations(ctx context.Context, filters ListFilters) ([]Location, int, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
	CreateLocation(ctx context.Context, loc Location) (Location, error)
	UpdateLocation(ctx context.Context, id int64, loc Location) error
}
