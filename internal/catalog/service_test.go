package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeRepository struct {
	items     map[int64]Item
	locations map[int64]Location
	nextID    int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		items:     make(map[int64]Item),
		locations: make(map[int64]Location),
	}
}

func (r *fakeRepository) ListItems(_ context.Context, _ ListFilters) ([]Item, int, error) {
	out := make([]Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	return out, len(out), nil
}

func (r *fakeRepository) GetItem(_ context.Context, id int64) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (r *fakeRepository) CreateItem(_ context.Context, item Item) (Item, error) {
	for _, existing := range r.items {
		if existing.SKU == item.SKU {
			return Item{}, ErrDuplicateCode
		}
	}
	r.nextID++
	item.ID = r.nextID
	r.items[item.ID] = item
	return item, nil
}

func (r *fakeRepository) UpdateItem(_ context.Context, id int64, item Item) error {
	if _, ok := r.items[id]; !ok {
		return ErrItemNotFound
	}
	item.ID = id
	r.items[id] = item
	return nil
}

func (r *fakeRepository) ListLocations(_ context.Context, _ ListFilters) ([]Location, int, error) {
	out := make([]Location, 0, len(r.locations))
	for _, loc := range r.locations {
		out = append(out, loc)
	}
	return out, len(out), nil
}

func (r *fakeRepository) GetLocation(_ context.Context, id int64) (Location, error) {
	loc, ok := r.locations[id]
	if !ok {
		return Location{}, ErrLocationNotFound
	}
	return loc, nil
}

func (r *fakeRepository) CreateLocation(_ context.Context, loc Location) (Location, error) {
	r.nextID++
	loc.ID = r.nextID
	r.locations[loc.ID] = loc
	return loc, nil
}

func (r *fakeRepository) UpdateLocation(_ context.Context, id int64, loc Location) error {
	if _, ok := r.locations[id]; !ok {
		return ErrLocationNotFound
	}
	loc.ID = id
	r.locations[id] = loc
	return nil
}

func TestCreateItemValidation(t *testing.T) {
	svc := NewService(newFakeRepository())
	ctx := context.Background()

	_, err := svc.CreateItem(ctx, Item{SKU: "  ", Name: "Beans"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateItem(ctx, Item{SKU: "SKU-1", Name: "Beans", StandardRate: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, ErrValidation)

	item, err := svc.CreateItem(ctx, Item{SKU: " SKU-1 ", Name: "Beans", IsActive: true})
	require.NoError(t, err)
	require.Equal(t, "SKU-1", item.SKU, "sku is trimmed")
	require.Equal(t, "EA", item.UnitOfMeasure, "unit of measure defaults")

	_, err = svc.CreateItem(ctx, Item{SKU: "SKU-1", Name: "Duplicate"})
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestLocationParentRules(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)
	ctx := context.Background()

	group, err := svc.CreateLocation(ctx, Location{Code: "ALL", Name: "All Locations", IsGroup: true, IsActive: true})
	require.NoError(t, err)
	leaf, err := svc.CreateLocation(ctx, Location{Code: "WH-MAIN", Name: "Main Warehouse", ParentID: &group.ID, IsActive: true})
	require.NoError(t, err)

	// A leaf cannot parent another location.
	_, err = svc.CreateLocation(ctx, Location{Code: "WH-SUB", Name: "Sub", ParentID: &leaf.ID})
	require.ErrorIs(t, err, ErrValidation)

	// A location cannot be its own parent.
	err = svc.UpdateLocation(ctx, leaf.ID, Location{Code: "WH-MAIN", Name: "Main Warehouse", ParentID: &leaf.ID})
	require.ErrorIs(t, err, ErrValidation)
}

func TestStockPolicyLookups(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)
	ctx := context.Background()

	tracked, err := svc.CreateItem(ctx, Item{SKU: "SKU-T", Name: "Tracked", IsStockTracked: true, IsActive: true})
	require.NoError(t, err)
	inactive, err := svc.CreateItem(ctx, Item{SKU: "SKU-I", Name: "Inactive", IsStockTracked: true})
	require.NoError(t, err)
	negatives, err := svc.CreateItem(ctx, Item{SKU: "SKU-N", Name: "Negatives", IsStockTracked: true, AllowNegativeStock: true, IsActive: true})
	require.NoError(t, err)

	ok, err := svc.IsStockTracked(ctx, tracked.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// Inactive items do not post to the ledger even when flagged as tracked.
	ok, err = svc.IsStockTracked(ctx, inactive.ID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = svc.IsStockTracked(ctx, 999)
	require.ErrorIs(t, err, ErrItemNotFound)

	ok, err = svc.AllowsNegativeStock(ctx, negatives.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocationExists(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)
	ctx := context.Background()

	group, err := svc.CreateLocation(ctx, Location{Code: "ALL", Name: "All Locations", IsGroup: true, IsActive: true})
	require.NoError(t, err)
	leaf, err := svc.CreateLocation(ctx, Location{Code: "WH-MAIN", Name: "Main Warehouse", ParentID: &group.ID, IsActive: true})
	require.NoError(t, err)
	retired, err := svc.CreateLocation(ctx, Location{Code: "WH-OLD", Name: "Old Warehouse", ParentID: &group.ID})
	require.NoError(t, err)

	ok, err := svc.Exists(ctx, leaf.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// Group and inactive locations cannot hold stock.
	ok, err = svc.Exists(ctx, group.ID)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = svc.Exists(ctx, retired.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// Unknown locations are reported as absent, not as an error.
	ok, err = svc.Exists(ctx, 999)
	require.NoError(t, err)
	require.False(t, ok)
}
