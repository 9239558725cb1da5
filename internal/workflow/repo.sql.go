package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procuremesh/procuremesh/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Fetch helpers

const indentColumns = `id, ref_no, indent_date, company_id, COALESCE(site_id, 0), status, created_by, creator_role`

func scanIndent(row pgx.Row) (Indent, error) {
	var ind Indent
	var date pgtype.Date
	err := row.Scan(&ind.ID, &ind.RefNo, &date, &ind.CompanyID, &ind.SiteID, &ind.Status, &ind.CreatedBy, &ind.CreatorRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Indent{}, ErrNotFound
		}
		return Indent{}, err
	}
	if date.Valid {
		ind.Date = date.Time
	}
	return ind, nil
}

// GetIndent returns an indent by id.
func (r *Repository) GetIndent(ctx context.Context, id int64) (Indent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+indentColumns+` FROM indents WHERE id=$1`, id)
	return scanIndent(row)
}

// ListIndents returns indents matching the filters plus a total count.
func (r *Repository) ListIndents(ctx context.Context, limit, offset int, filters ListFilters) ([]Indent, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argNum := 1
	if filters.Status != "" {
		where += ` AND status = $` + itoa(argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.CompanyID > 0 {
		where += ` AND company_id = $` + itoa(argNum)
		args = append(args, filters.CompanyID)
		argNum++
	}
	if filters.Search != "" {
		where += ` AND ref_no ILIKE $` + itoa(argNum)
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM indents`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT ` + indentColumns + ` FROM indents` + where +
		` ORDER BY ` + sortOrderIndent(filters.SortBy, filters.SortDir) +
		` LIMIT $` + itoa(argNum) + ` OFFSET $` + itoa(argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var indents []Indent
	for rows.Next() {
		ind, err := scanIndent(rows)
		if err != nil {
			return nil, 0, err
		}
		indents = append(indents, ind)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return indents, total, nil
}

// ListOpenIndentIDs returns ids of indents not yet closed, oldest first.
func (r *Repository) ListOpenIndentIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM indents WHERE status <> $1 ORDER BY id`, string(IndentStatusClosed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// GetVendorIndent returns a vendor indent by id.
func (r *Repository) GetVendorIndent(ctx context.Context, id int64) (VendorIndent, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, indent_id, vendor_id, status, total_items, total_qty, total_amount FROM vendor_indents WHERE id=$1`, id)
	return scanVendorIndent(row)
}

// ListVendorIndents returns every vendor indent under an indent.
func (r *Repository) ListVendorIndents(ctx context.Context, indentID int64) ([]VendorIndent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, indent_id, vendor_id, status, total_items, total_qty, total_amount FROM vendor_indents WHERE indent_id=$1 ORDER BY vendor_id`, indentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vis []VendorIndent
	for rows.Next() {
		vi, err := scanVendorIndent(rows)
		if err != nil {
			return nil, err
		}
		vis = append(vis, vi)
	}
	return vis, rows.Err()
}

func scanVendorIndent(row pgx.Row) (VendorIndent, error) {
	var vi VendorIndent
	var qty, amount pgtype.Numeric
	err := row.Scan(&vi.ID, &vi.IndentID, &vi.VendorID, &vi.Status, &vi.TotalItems, &qty, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VendorIndent{}, ErrNotFound
		}
		return VendorIndent{}, err
	}
	if qty.Valid {
		f, _ := qty.Float64Value()
		vi.TotalQuantity = f.Float64
	}
	if amount.Valid {
		f, _ := amount.Float64Value()
		vi.TotalAmount = f.Float64
	}
	return vi, nil
}

// GetOrder returns the buyer-visible order record.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	var ord Order
	err := r.pool.QueryRow(ctx, `SELECT id, COALESCE(indent_id, 0), status FROM orders WHERE id=$1`, id).
		Scan(&ord.ID, &ord.IndentID, &ord.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return ord, nil
}

// ListReconcilableOrderIDs returns orders bound to an indent, for the sweep.
func (r *Repository) ListReconcilableOrderIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM orders WHERE indent_id IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

const suborderColumns = `id, order_id, vendor_id, COALESCE(vendor_indent_id, 0), carrier_name, consignment_no, ship_date, shipment_status, suborder_status`

func scanSuborder(row pgx.Row) (OrderSuborder, error) {
	var sub OrderSuborder
	var shipDate pgtype.Timestamptz
	err := row.Scan(&sub.ID, &sub.OrderID, &sub.VendorID, &sub.VendorIndentID, &sub.CarrierName, &sub.ConsignmentNo, &shipDate, &sub.ShipmentStatus, &sub.SuborderStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OrderSuborder{}, ErrNotFound
		}
		return OrderSuborder{}, err
	}
	if shipDate.Valid {
		sub.ShipDate = shipDate.Time
	}
	return sub, nil
}

// GetSuborder returns a suborder by id.
func (r *Repository) GetSuborder(ctx context.Context, id int64) (OrderSuborder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+suborderColumns+` FROM order_suborders WHERE id=$1`, id)
	return scanSuborder(row)
}

// GetSuborderByOrderVendor returns the unique suborder for an (order, vendor) pair.
func (r *Repository) GetSuborderByOrderVendor(ctx context.Context, orderID, vendorID int64) (OrderSuborder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+suborderColumns+` FROM order_suborders WHERE order_id=$1 AND vendor_id=$2`, orderID, vendorID)
	return scanSuborder(row)
}

// ListSuborders returns every suborder under an order.
func (r *Repository) ListSuborders(ctx context.Context, orderID int64) ([]OrderSuborder, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+suborderColumns+` FROM order_suborders WHERE order_id=$1 ORDER BY vendor_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSuborders(rows)
}

// ListSubordersByIndent returns suborders reachable through an indent's
// vendor indents, used by closure evaluation.
func (r *Repository) ListSubordersByIndent(ctx context.Context, indentID int64) ([]OrderSuborder, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.order_id, s.vendor_id, COALESCE(s.vendor_indent_id, 0), s.carrier_name, s.consignment_no, s.ship_date, s.shipment_status, s.suborder_status
		FROM order_suborders s
		JOIN vendor_indents vi ON vi.id = s.vendor_indent_id
		WHERE vi.indent_id = $1
		ORDER BY s.id`, indentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSuborders(rows)
}

func collectSuborders(rows pgx.Rows) ([]OrderSuborder, error) {
	var subs []OrderSuborder
	for rows.Next() {
		sub, err := scanSuborder(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetGRN returns a goods receipt note by id.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GoodsReceiptNote, error) {
	var grn GoodsReceiptNote
	var date pgtype.Date
	err := r.pool.QueryRow(ctx, `SELECT id, vendor_indent_id, vendor_id, number, grn_date, status, remarks FROM grns WHERE id=$1`, id).
		Scan(&grn.ID, &grn.VendorIndentID, &grn.VendorID, &grn.Number, &date, &grn.Status, &grn.Remarks)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceiptNote{}, ErrNotFound
		}
		return GoodsReceiptNote{}, err
	}
	if date.Valid {
		grn.Date = date.Time
	}
	return grn, nil
}

// GetInvoice returns a vendor invoice by id.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (VendorInvoice, error) {
	var inv VendorInvoice
	var date pgtype.Date
	var amount pgtype.Numeric
	err := r.pool.QueryRow(ctx, `SELECT id, vendor_indent_id, vendor_id, number, invoice_date, amount, status FROM vendor_invoices WHERE id=$1`, id).
		Scan(&inv.ID, &inv.VendorIndentID, &inv.VendorID, &inv.Number, &date, &amount, &inv.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VendorInvoice{}, ErrNotFound
		}
		return VendorInvoice{}, err
	}
	if date.Valid {
		inv.Date = date.Time
	}
	if amount.Valid {
		f, _ := amount.Float64Value()
		inv.Amount = f.Float64
	}
	return inv, nil
}

// GetPayment returns a payment by id.
func (r *Repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	var pay Payment
	var date pgtype.Date
	var amount pgtype.Numeric
	err := r.pool.QueryRow(ctx, `SELECT id, invoice_id, vendor_id, reference, pay_date, amount, status FROM payments WHERE id=$1`, id).
		Scan(&pay.ID, &pay.InvoiceID, &pay.VendorID, &pay.Reference, &date, &amount, &pay.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, err
	}
	if date.Valid {
		pay.Date = date.Time
	}
	if amount.Valid {
		f, _ := amount.Float64Value()
		pay.Amount = f.Float64
	}
	return pay, nil
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// itoa converts int to string for dynamic query building.
func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}

// sortOrderIndent returns a safe ORDER BY clause for indent listings.
func sortOrderIndent(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "ref_no":
		return "ref_no " + dir
	case "date":
		return "indent_date " + dir
	case "status":
		return "status " + dir
	default:
		return "id DESC"
	}
}

// Transactional mutations

func (tx *txRepo) CreateIndent(ctx context.Context, indent Indent) (int64, error) {
	var siteID pgtype.Int8
	if indent.SiteID != 0 {
		siteID = pgtype.Int8{Int64: indent.SiteID, Valid: true}
	}
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO indents (ref_no, indent_date, company_id, site_id, status, created_by, creator_role)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		indent.RefNo, indent.Date, indent.CompanyID, siteID, string(indent.Status), indent.CreatedBy, indent.CreatorRole).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: indent ref %q already exists for company", ErrDuplicate, indent.RefNo)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) UpdateIndentStatus(ctx context.Context, id int64, status IndentStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE indents SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) CreateVendorIndent(ctx context.Context, vi VendorIndent) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO vendor_indents (indent_id, vendor_id, status, total_items, total_qty, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		vi.IndentID, vi.VendorID, string(vi.Status), vi.TotalItems, vi.TotalQuantity, vi.TotalAmount).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: vendor indent for vendor %d", ErrDuplicate, vi.VendorID)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) UpdateVendorIndentStatus(ctx context.Context, id int64, status VendorIndentStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE vendor_indents SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) CreateSuborder(ctx context.Context, sub OrderSuborder) (int64, error) {
	var viID pgtype.Int8
	if sub.VendorIndentID != 0 {
		viID = pgtype.Int8{Int64: sub.VendorIndentID, Valid: true}
	}
	var shipDate pgtype.Timestamptz
	if !sub.ShipDate.IsZero() {
		shipDate = pgtype.Timestamptz{Time: sub.ShipDate, Valid: true}
	}
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO order_suborders (order_id, vendor_id, vendor_indent_id, carrier_name, consignment_no, ship_date, shipment_status, suborder_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		sub.OrderID, sub.VendorID, viID, sub.CarrierName, sub.ConsignmentNo, shipDate, string(sub.ShipmentStatus), string(sub.SuborderStatus)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: suborder for order %d vendor %d", ErrDuplicate, sub.OrderID, sub.VendorID)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) UpdateSuborder(ctx context.Context, sub OrderSuborder) error {
	var shipDate pgtype.Timestamptz
	if !sub.ShipDate.IsZero() {
		shipDate = pgtype.Timestamptz{Time: sub.ShipDate, Valid: true}
	}
	tag, err := tx.tx.Exec(ctx, `UPDATE order_suborders SET carrier_name=$1, consignment_no=$2, ship_date=$3, shipment_status=$4, suborder_status=$5 WHERE id=$6`,
		sub.CarrierName, sub.ConsignmentNo, shipDate, string(sub.ShipmentStatus), string(sub.SuborderStatus), sub.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE orders SET status=$1 WHERE id=$2`, status, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) CreateGRN(ctx context.Context, grn GoodsReceiptNote) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO grns (vendor_indent_id, vendor_id, number, grn_date, status, remarks)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		grn.VendorIndentID, grn.VendorID, grn.Number, grn.Date, string(grn.Status), grn.Remarks).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: grn number %q", ErrDuplicate, grn.Number)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE grns SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) CreateInvoice(ctx context.Context, inv VendorInvoice) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO vendor_invoices (vendor_indent_id, vendor_id, number, invoice_date, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		inv.VendorIndentID, inv.VendorID, inv.Number, inv.Date, inv.Amount, string(inv.Status)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: invoice number %q", ErrDuplicate, inv.Number)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE vendor_invoices SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) CreatePayment(ctx context.Context, payment Payment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO payments (invoice_id, vendor_id, reference, pay_date, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		payment.InvoiceID, payment.VendorID, payment.Reference, payment.Date, payment.Amount, string(payment.Status)).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE payments SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
