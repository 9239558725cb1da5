package workflow

import "context"

// RepositoryPort describes read operations and transaction scoping used by
// Service. The engine never branches on identifier representation: every
// entity is addressed by its canonical int64 id.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetIndent(ctx context.Context, id int64) (Indent, error)
	ListIndents(ctx context.Context, limit, offset int, filters ListFilters) ([]Indent, int, error)
	ListOpenIndentIDs(ctx context.Context) ([]int64, error)

	GetVendorIndent(ctx context.Context, id int64) (VendorIndent, error)
	ListVendorIndents(ctx context.Context, indentID int64) ([]VendorIndent, error)

	GetOrder(ctx context.Context, id int64) (Order, error)
	ListReconcilableOrderIDs(ctx context.Context) ([]int64, error)

	GetSuborder(ctx context.Context, id int64) (OrderSuborder, error)
	GetSuborderByOrderVendor(ctx context.Context, orderID, vendorID int64) (OrderSuborder, error)
	ListSuborders(ctx context.Context, orderID int64) ([]OrderSuborder, error)
	ListSubordersByIndent(ctx context.Context, indentID int64) ([]OrderSuborder, error)

	GetGRN(ctx context.Context, id int64) (GoodsReceiptNote, error)
	GetInvoice(ctx context.Context, id int64) (VendorInvoice, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
}

// TxRepository exposes transactional mutations. Every primary state change
// runs inside WithTx; derived fields (order status, indent closure) are only
// written through the service recomputation paths.
type TxRepository interface {
	CreateIndent(ctx context.Context, indent Indent) (int64, error)
	UpdateIndentStatus(ctx context.Context, id int64, status IndentStatus) error

	CreateVendorIndent(ctx context.Context, vi VendorIndent) (int64, error)
	UpdateVendorIndentStatus(ctx context.Context, id int64, status VendorIndentStatus) error

	CreateSuborder(ctx context.Context, sub OrderSuborder) (int64, error)
	UpdateSuborder(ctx context.Context, sub OrderSuborder) error

	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error

	CreateGRN(ctx context.Context, grn GoodsReceiptNote) (int64, error)
	UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error

	CreateInvoice(ctx context.Context, inv VendorInvoice) (int64, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error

	CreatePayment(ctx context.Context, payment Payment) (int64, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus) error
}

// ListFilters narrows indent listings.
type ListFilters struct {
	Status    string
	CompanyID int64
	Search    string
	SortBy    string
	SortDir   string
}
