package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists boxes and locations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ActiveBoxesByCodes loads active boxes for codes in one round trip.
func (r *Repository) ActiveBoxesByCodes(ctx context.Context, codes []string) (map[string]Box, error) {
	boxes := make(map[string]Box, len(codes))
	if len(codes) == 0 {
		return boxes, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT code, sku, qty_per_box, active, created_at, updated_at
FROM boxes WHERE active AND code = ANY($1)`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		box, err := scanBox(rows)
		if err != nil {
			return nil, err
		}
		boxes[box.Code] = box
	}
	return boxes, rows.Err()
}

// ListBoxes returns boxes ordered by code.
func (r *Repository) ListBoxes(ctx context.Context, includeInactive bool) ([]Box, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, sku, qty_per_box, active, created_at, updated_at
FROM boxes WHERE active OR $1 ORDER BY code`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	boxes := []Box{}
	for rows.Next() {
		box, err := scanBox(rows)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, box)
	}
	return boxes, rows.Err()
}

// UpsertBox creates or reactivates a box.
func (r *Repository) UpsertBox(ctx context.Context, box Box) (Box, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO boxes (code, sku, qty_per_box, active, created_at, updated_at)
VALUES ($1, $2, $3, TRUE, NOW(), NOW())
ON CONFLICT (code) DO UPDATE SET sku = EXCLUDED.sku, qty_per_box = EXCLUDED.qty_per_box, active = TRUE, updated_at = NOW()
RETURNING code, sku, qty_per_box, active, created_at, updated_at`, box.Code, box.SKU, box.QtyPerBox)
	return scanBox(row)
}

// DeactivateBox soft-deletes a box.
func (r *Repository) DeactivateBox(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE boxes SET active = FALSE, updated_at = NOW() WHERE code = $1 AND active`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBoxNotFound
	}
	return nil
}

// LocationByCode loads an active location.
func (r *Repository) LocationByCode(ctx context.Context, code string) (Location, error) {
	var loc Location
	var erpID *int64
	var shopGID *string
	err := r.pool.QueryRow(ctx, `SELECT code, name, can_be_origin, can_be_destination, erp_location_id, shop_location_gid, active
FROM locations WHERE code = $1 AND active`, code).
		Scan(&loc.Code, &loc.Name, &loc.CanBeOrigin, &loc.CanBeDestination, &erpID, &shopGID, &loc.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrLocationNotFound
		}
		return Location{}, err
	}
	if erpID != nil {
		loc.ERPLocationID = *erpID
	}
	if shopGID != nil {
		loc.ShopLocationGID = *shopGID
	}
	return loc, nil
}

// ListLocations returns active locations ordered by code.
func (r *Repository) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, name, can_be_origin, can_be_destination, COALESCE(erp_location_id, 0), COALESCE(shop_location_gid, ''), active
FROM locations WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	locations := []Location{}
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.Code, &loc.Name, &loc.CanBeOrigin, &loc.CanBeDestination, &loc.ERPLocationID, &loc.ShopLocationGID, &loc.Active); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

func scanBox(row pgx.Row) (Box, error) {
	var box Box
	var created, updated time.Time
	if err := row.Scan(&box.Code, &box.SKU, &box.QtyPerBox, &box.Active, &created, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Box{}, ErrBoxNotFound
		}
		return Box{}, err
	}
	box.CreatedAt = created
	box.UpdatedAt = updated
	return box, nil
}
