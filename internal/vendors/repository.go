package vendors

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procuremesh/procuremesh/internal/shared"
)

type ListFilters struct {
	Page    int
	Limit   int
	Search  string
	SortBy  string
	SortDir string
}

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Vendor, int, error)
	Get(ctx context.Context, id int64) (Vendor, error)
	Create(ctx context.Context, vendor Vendor) (Vendor, error)
	Update(ctx context.Context, id int64, vendor Vendor) error
	AssignProduct(ctx context.Context, vendorID, productID int64) error
	ResolveVendors(ctx context.Context, productIDs []int64) (map[int64]int64, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Vendor, int, error) {
	query := `SELECT id, code, name, address, email, phone, is_active, created_at, updated_at FROM vendors WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	countQuery := `SELECT COUNT(*) FROM vendors WHERE 1=1`
	countArgs := []interface{}{}
	if filters.Search != "" {
		countArgs = append(countArgs, "%"+filters.Search+"%")
		countQuery += ` AND (name ILIKE $1 OR code ILIKE $1)`
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)

	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var vendors []Vendor
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.Code, &v.Name, &v.Address, &v.Email, &v.Phone, &v.IsActive, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, err
		}
		vendors = append(vendors, v)
	}
	return vendors, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Vendor, error) {
	query := `SELECT id, code, name, address, email, phone, is_active, created_at, updated_at FROM vendors WHERE id = $1`
	var v Vendor
	err := r.db.QueryRow(ctx, query, id).Scan(&v.ID, &v.Code, &v.Name, &v.Address, &v.Email, &v.Phone, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vendor{}, shared.ErrNotFound
	}
	return v, err
}

func (r *repository) Create(ctx context.Context, vendor Vendor) (Vendor, error) {
	query := `INSERT INTO vendors (code, name, address, email, phone, is_active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, vendor.Code, vendor.Name, vendor.Address, vendor.Email, vendor.Phone, vendor.IsActive, now, now).Scan(&vendor.ID)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.ConstraintName == "vendors_code_key" {
			return Vendor{}, shared.ErrDuplicate
		}
		return Vendor{}, err
	}
	vendor.CreatedAt = now
	vendor.UpdatedAt = now
	return vendor, nil
}

func (r *repository) Update(ctx context.Context, id int64, vendor Vendor) error {
	query := `UPDATE vendors SET code = $1, name = $2, address = $3, email = $4, phone = $5, is_active = $6, updated_at = $7 WHERE id = $8`
	_, err := r.db.Exec(ctx, query, vendor.Code, vendor.Name, vendor.Address, vendor.Email, vendor.Phone, vendor.IsActive, time.Now(), id)
	return err
}

func (r *repository) AssignProduct(ctx context.Context, vendorID, productID int64) error {
	query := `INSERT INTO vendor_products (vendor_id, product_id) VALUES ($1, $2) ON CONFLICT (product_id) DO UPDATE SET vendor_id = EXCLUDED.vendor_id`
	_, err := r.db.Exec(ctx, query, vendorID, productID)
	return err
}

// ResolveVendors returns the supplying vendor for each catalogue product.
// Products without a vendor mapping are absent from the result; the caller
// decides whether that is an error.
func (r *repository) ResolveVendors(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	if len(productIDs) == 0 {
		return map[int64]int64{}, nil
	}
	query := `SELECT vp.product_id, vp.vendor_id
		FROM vendor_products vp
		JOIN vendors v ON v.id = vp.vendor_id
		WHERE vp.product_id = ANY($1) AND v.is_active`
	rows, err := r.db.Query(ctx, query, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resolved := make(map[int64]int64, len(productIDs))
	for rows.Next() {
		var productID, vendorID int64
		if err := rows.Scan(&productID, &vendorID); err != nil {
			return nil, err
		}
		resolved[productID] = vendorID
	}
	return resolved, rows.Err()
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "name":
		return "name " + dir
	case "code":
		return "code " + dir
	default:
		return "id " + dir
	}
}
