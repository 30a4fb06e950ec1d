package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// repo implements Repository on PostgreSQL.
type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a new catalog repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repo{db: db}
}

func (r *repo) ListItems(ctx context.Context, filters ListFilters) ([]Item, int, error) {
	query := `SELECT id, sku, name, unit_of_measure, standard_rate, is_stock_tracked, allow_negative_stock, is_active, created_at, updated_at FROM items`
	countQuery := `SELECT COUNT(*) FROM items`
	where, args := itemFilters(filters)
	query += where
	countQuery += where
	query += ` ORDER BY sku`
	if filters.Limit > 0 {
		offset := 0
		if filters.Page > 1 {
			offset = (filters.Page - 1) * filters.Limit
		}
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, filters.Limit, offset)
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.SKU, &it.Name, &it.UnitOfMeasure, &it.StandardRate, &it.IsStockTracked, &it.AllowNegativeStock, &it.IsActive, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

func itemFilters(filters ListFilters) (string, []any) {
	where := ""
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where = fmt.Sprintf(` WHERE (sku ILIKE $%d OR name ILIKE $%d)`, len(args), len(args))
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		if where == "" {
			where = fmt.Sprintf(` WHERE is_active = $%d`, len(args))
		} else {
			where += fmt.Sprintf(` AND is_active = $%d`, len(args))
		}
	}
	return where, args
}

func (r *repo) GetItem(ctx context.Context, id int64) (Item, error) {
	query := `SELECT id, sku, name, unit_of_measure, standard_rate, is_stock_tracked, allow_negative_stock, is_active, created_at, updated_at FROM items WHERE id = $1`
	var it Item
	err := r.db.QueryRow(ctx, query, id).Scan(&it.ID, &it.SKU, &it.Name, &it.UnitOfMeasure, &it.StandardRate, &it.IsStockTracked, &it.AllowNegativeStock, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, err
}

func (r *repo) CreateItem(ctx context.Context, item Item) (Item, error) {
	query := `INSERT INTO items (sku, name, unit_of_measure, standard_rate, is_stock_tracked, allow_negative_stock, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, item.SKU, item.Name, item.UnitOfMeasure, item.StandardRate, item.IsStockTracked, item.AllowNegativeStock, item.IsActive, now).Scan(&item.ID)
	if err != nil {
		return Item{}, asDuplicate(err)
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func (r *repo) UpdateItem(ctx context.Context, id int64, item Item) error {
	query := `UPDATE items SET sku = $1, name = $2, unit_of_measure = $3, standard_rate = $4, is_stock_tracked = $5, allow_negative_stock = $6, is_active = $7, updated_at = $8 WHERE id = $9`
	tag, err := r.db.Exec(ctx, query, item.SKU, item.Name, item.UnitOfMeasure, item.StandardRate, item.IsStockTracked, item.AllowNegativeStock, item.IsActive, time.Now(), id)
	if err != nil {
		return asDuplicate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *repo) ListLocations(ctx context.Context, filters ListFilters) ([]Location, int, error) {
	query := `SELECT id, code, name, parent_id, is_group, is_active, created_at, updated_at FROM locations`
	countQuery := `SELECT COUNT(*) FROM locations`
	where := ""
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where = fmt.Sprintf(` WHERE (code ILIKE $%d OR name ILIKE $%d)`, len(args), len(args))
	}
	query += where + ` ORDER BY code`
	countQuery += where

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.ID, &loc.Code, &loc.Name, &loc.ParentID, &loc.IsGroup, &loc.IsActive, &loc.CreatedAt, &loc.UpdatedAt); err != nil {
			return nil, 0, err
		}
		locations = append(locations, loc)
	}
	return locations, total, rows.Err()
}

func (r *repo) GetLocation(ctx context.Context, id int64) (Location, error) {
	query := `SELECT id, code, name, parent_id, is_group, is_active, created_at, updated_at FROM locations WHERE id = $1`
	var loc Location
	err := r.db.QueryRow(ctx, query, id).Scan(&loc.ID, &loc.Code, &loc.Name, &loc.ParentID, &loc.IsGroup, &loc.IsActive, &loc.CreatedAt, &loc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, ErrLocationNotFound
	}
	return loc, err
}

func (r *repo) CreateLocation(ctx context.Context, loc Location) (Location, error) {
	query := `INSERT INTO locations (code, name, parent_id, is_group, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, loc.Code, loc.Name, loc.ParentID, loc.IsGroup, loc.IsActive, now).Scan(&loc.ID)
	if err != nil {
		return Location{}, asDuplicate(err)
	}
	loc.CreatedAt = now
	loc.UpdatedAt = now
	return loc, nil
}

func (r *repo) UpdateLocation(ctx context.Context, id int64, loc Location) error {
	query := `UPDATE locations SET code = $1, name = $2, parent_id = $3, is_group = $4, is_active = $5, updated_at = $6 WHERE id = $7`
	tag, err := r.db.Exec(ctx, query, loc.Code, loc.Name, loc.ParentID, loc.IsGroup, loc.IsActive, time.Now(), id)
	if err != nil {
		return asDuplicate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLocationNotFound
	}
	return nil
}

func asDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}
