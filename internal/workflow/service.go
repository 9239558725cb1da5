package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/procuremesh/procuremesh/internal/observability"
	"github.com/procuremesh/procuremesh/internal/shared"
)

// VendorResolver maps order line products to the vendor fulfilling them.
type VendorResolver interface {
	ResolveVendors(ctx context.Context, productIDs []int64) (map[int64]int64, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the order-fulfillment workflow: indent splitting,
// suborder shipment tracking, GRN and invoice lifecycles, payment settlement
// and indent closure. Master order status and indent closure are derived by
// from-scratch recomputation, never patched incrementally, so concurrent
// updates converge regardless of interleaving.
type Service struct {
	repo        RepositoryPort
	vendors     VendorResolver
	notifier    Notifier
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewService constructs the workflow service.
func NewService(repo RepositoryPort, vendors VendorResolver, notifier Notifier, audit AuditPort, idem *shared.IdempotencyStore, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, vendors: vendors, notifier: notifier, audit: audit, idempotency: idem, metrics: metrics, logger: logger}
}

// CreateIndentInput describes a new requisition.
type CreateIndentInput struct {
	RefNo       string
	Date        time.Time
	CompanyID   int64
	SiteID      int64
	CreatedBy   int64
	CreatorRole string
}

// OrderLineInput is one resolved order line fed to the allocator.
type OrderLineInput struct {
	ProductID int64
	Quantity  float64
	Amount    float64
}

// SplitIndentInput feeds the vendor-split allocator.
type SplitIndentInput struct {
	IndentID int64
	OrderID  int64
	Lines    []OrderLineInput
}

// VendorAllocation pairs the vendor indent with its suborder.
type VendorAllocation struct {
	VendorIndent VendorIndent
	Suborder     OrderSuborder
}

// UpdateShippingInput carries a partial suborder shipping update. Nil fields
// are left untouched.
type UpdateShippingInput struct {
	SuborderID     int64
	CarrierName    *string
	ConsignmentNo  *string
	ShipDate       *time.Time
	ShipmentStatus *ShipmentStatus
}

// CreateGRNInput describes a draft goods receipt note.
type CreateGRNInput struct {
	VendorIndentID int64
	VendorID       int64
	Number         string
	Date           time.Time
	Remarks        string
}

// CreateInvoiceInput describes a draft vendor invoice.
type CreateInvoiceInput struct {
	VendorIndentID int64
	VendorID       int64
	Number         string
	Date           time.Time
	Amount         float64
}

// PaymentInput records a pending settlement against an invoice.
type PaymentInput struct {
	InvoiceID int64
	Reference string
	Date      time.Time
	Amount    float64
}

// CreateIndent persists a new requisition in CREATED state.
func (s *Service) CreateIndent(ctx context.Context, input CreateIndentInput) (Indent, error) {
	if input.RefNo == "" {
		return Indent{}, fmt.Errorf("%w: ref no required", ErrValidation)
	}
	if input.CompanyID == 0 {
		return Indent{}, fmt.Errorf("%w: company required", ErrValidation)
	}
	indent := Indent{
		RefNo:       input.RefNo,
		Date:        defaultTime(input.Date),
		CompanyID:   input.CompanyID,
		SiteID:      input.SiteID,
		Status:      IndentStatusCreated,
		CreatedBy:   input.CreatedBy,
		CreatorRole: input.CreatorRole,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateIndent(ctx, indent)
		if err != nil {
			return err
		}
		indent.ID = id
		return nil
	})
	if err != nil {
		return Indent{}, err
	}
	s.emit(ctx, "indent created", func() error {
		return s.notifier.NotifyIndentCreated(ctx, IndentCreatedEvent{IndentID: indent.ID, CompanyID: indent.CompanyID, RefNo: indent.RefNo, At: time.Now()})
	})
	s.recordAudit(ctx, "INDENT_CREATE", indent.ID, map[string]any{"ref_no": indent.RefNo})
	return indent, nil
}

// SplitIndent partitions an indent's demand by vendor: one vendor indent per
// distinct vendor with summed totals, one suborder per (order, vendor) pair.
// Re-invocation for a pair that already has a suborder returns the existing
// record; the unique index on (order_id, vendor_id) backs this up under
// concurrent callers.
func (s *Service) SplitIndent(ctx context.Context, input SplitIndentInput) ([]VendorAllocation, error) {
	indent, err := s.repo.GetIndent(ctx, input.IndentID)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.GetOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.IndentID != indent.ID {
		return nil, fmt.Errorf("%w: order %d not bound to indent %d", ErrValidation, order.ID, indent.ID)
	}
	if len(input.Lines) == 0 {
		return nil, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	productIDs := make([]int64, 0, len(input.Lines))
	for _, line := range input.Lines {
		if line.ProductID == 0 || line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line requires product and positive quantity", ErrValidation)
		}
		productIDs = append(productIDs, line.ProductID)
	}
	vendorByProduct, err := s.vendors.ResolveVendors(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve vendors: %w", err)
	}
	for _, id := range productIDs {
		if _, ok := vendorByProduct[id]; !ok {
			return nil, fmt.Errorf("%w: product %d has no active vendor", ErrValidation, id)
		}
	}

	type bucket struct {
		items  int
		qty    float64
		amount float64
	}
	buckets := map[int64]*bucket{}
	for _, line := range input.Lines {
		vendorID, ok := vendorByProduct[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: no vendor resolved for product %d", ErrValidation, line.ProductID)
		}
		b, ok := buckets[vendorID]
		if !ok {
			b = &bucket{}
			buckets[vendorID] = b
		}
		b.items++
		b.qty += line.Quantity
		b.amount += line.Amount
	}
	vendorIDs := make([]int64, 0, len(buckets))
	for vendorID := range buckets {
		vendorIDs = append(vendorIDs, vendorID)
	}
	sort.Slice(vendorIDs, func(i, j int) bool { return vendorIDs[i] < vendorIDs[j] })

	allocations := make([]VendorAllocation, 0, len(vendorIDs))
	for _, vendorID := range vendorIDs {
		alloc, err := s.allocateVendor(ctx, indent.ID, input.OrderID, vendorID, *buckets[vendorID])
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, alloc)
	}

	if err := s.setIndentStatus(ctx, indent, IndentStatusOrdered); err != nil {
		return nil, err
	}
	if err := s.RefreshOrderStatus(ctx, input.OrderID); err != nil {
		s.cascadeWarn(ctx, "refresh order status", err, slog.Int64("order_id", input.OrderID))
	}
	s.recordAudit(ctx, "INDENT_SPLIT", indent.ID, map[string]any{"order_id": input.OrderID, "vendors": len(allocations)})
	return allocations, nil
}

// allocateVendor creates the vendor indent and suborder for one vendor, or
// returns the existing pair when the (order, vendor) suborder already exists.
func (s *Service) allocateVendor(ctx context.Context, indentID, orderID, vendorID int64, b struct {
	items  int
	qty    float64
	amount float64
}) (VendorAllocation, error) {
	existing, err := s.repo.GetSuborderByOrderVendor(ctx, orderID, vendorID)
	if err == nil {
		vi, err := s.repo.GetVendorIndent(ctx, existing.VendorIndentID)
		if err != nil {
			return VendorAllocation{}, err
		}
		return VendorAllocation{VendorIndent: vi, Suborder: existing}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return VendorAllocation{}, err
	}

	vi := VendorIndent{
		IndentID:      indentID,
		VendorID:      vendorID,
		Status:        VendorIndentStatusCreated,
		TotalItems:    b.items,
		TotalQuantity: b.qty,
		TotalAmount:   b.amount,
	}
	sub := OrderSuborder{
		OrderID:        orderID,
		VendorID:       vendorID,
		ShipmentStatus: ShipmentStatusNotShipped,
		SuborderStatus: SuborderStatusCreated,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		viID, err := tx.CreateVendorIndent(ctx, vi)
		if err != nil {
			return err
		}
		vi.ID = viID
		sub.VendorIndentID = viID
		subID, err := tx.CreateSuborder(ctx, sub)
		if err != nil {
			return err
		}
		sub.ID = subID
		return nil
	})
	if err != nil {
		// A concurrent caller won the unique (order_id, vendor_id) race;
		// adopt its records instead of duplicating.
		if errors.Is(err, ErrDuplicate) {
			won, ferr := s.repo.GetSuborderByOrderVendor(ctx, orderID, vendorID)
			if ferr != nil {
				return VendorAllocation{}, ferr
			}
			wonVI, ferr := s.repo.GetVendorIndent(ctx, won.VendorIndentID)
			if ferr != nil {
				return VendorAllocation{}, ferr
			}
			return VendorAllocation{VendorIndent: wonVI, Suborder: won}, nil
		}
		return VendorAllocation{}, err
	}
	return VendorAllocation{VendorIndent: vi, Suborder: sub}, nil
}

// UpdateSuborderShipping applies a partial shipping update. Setting the
// shipment status also rewrites the suborder status through the fixed
// mapping; callers can never set the two independently. Every mutation is
// followed by a master status recomputation for the owning order.
func (s *Service) UpdateSuborderShipping(ctx context.Context, input UpdateShippingInput) (OrderSuborder, error) {
	sub, err := s.repo.GetSuborder(ctx, input.SuborderID)
	if err != nil {
		return OrderSuborder{}, err
	}
	var vi VendorIndent
	if sub.VendorIndentID != 0 {
		vi, err = s.repo.GetVendorIndent(ctx, sub.VendorIndentID)
		if err != nil {
			return OrderSuborder{}, err
		}
		if vi.VendorID != sub.VendorID {
			return OrderSuborder{}, fmt.Errorf("%w: suborder vendor %d does not match vendor indent vendor %d", ErrValidation, sub.VendorID, vi.VendorID)
		}
	}

	prev := sub.SuborderStatus
	if input.CarrierName != nil {
		sub.CarrierName = *input.CarrierName
	}
	if input.ConsignmentNo != nil {
		sub.ConsignmentNo = *input.ConsignmentNo
	}
	if input.ShipDate != nil {
		sub.ShipDate = *input.ShipDate
	}
	if input.ShipmentStatus != nil {
		derived, ok := suborderStatusFor(*input.ShipmentStatus, sub.SuborderStatus)
		if !ok {
			return OrderSuborder{}, fmt.Errorf("%w: unknown shipment status %q", ErrValidation, *input.ShipmentStatus)
		}
		sub.ShipmentStatus = *input.ShipmentStatus
		sub.SuborderStatus = derived
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateSuborder(ctx, sub); err != nil {
			return err
		}
		if sub.SuborderStatus == SuborderStatusDelivered && vi.ID != 0 {
			if next := advanceVendorIndent(vi.Status, VendorIndentStatusDelivered); next != vi.Status {
				if err := tx.UpdateVendorIndentStatus(ctx, vi.ID, next); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return OrderSuborder{}, err
	}

	if prev != sub.SuborderStatus {
		switch sub.SuborderStatus {
		case SuborderStatusShipped:
			s.emit(ctx, "suborder shipped", func() error {
				return s.notifier.NotifySuborderShipped(ctx, SuborderShippedEvent{SuborderID: sub.ID, OrderID: sub.OrderID, VendorID: sub.VendorID, IndentID: vi.IndentID, Carrier: sub.CarrierName, At: time.Now()})
			})
		case SuborderStatusDelivered:
			s.emit(ctx, "suborder delivered", func() error {
				return s.notifier.NotifySuborderDelivered(ctx, SuborderDeliveredEvent{SuborderID: sub.ID, OrderID: sub.OrderID, VendorID: sub.VendorID, IndentID: vi.IndentID, At: time.Now()})
			})
		}
	}

	if err := s.RefreshOrderStatus(ctx, sub.OrderID); err != nil {
		s.cascadeWarn(ctx, "refresh order status", err, slog.Int64("order_id", sub.OrderID))
	}
	return sub, nil
}

// RefreshOrderStatus recomputes and persists the master order status from the
// current suborder set. Safe to re-run at any time; each call reads fresh
// state. When every suborder is delivered the owning indent advances to
// FULFILLED.
func (s *Service) RefreshOrderStatus(ctx context.Context, orderID int64) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	suborders, err := s.repo.ListSuborders(ctx, orderID)
	if err != nil {
		return err
	}
	status := DeriveMasterOrderStatus(order, suborders)
	if s.metrics != nil {
		s.metrics.ObserveDerivation(status)
	}
	if status != order.Status {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateOrderStatus(ctx, orderID, status)
		})
		if err != nil {
			return err
		}
	}
	if status == OrderStatusDelivered && order.IndentID != 0 {
		indent, err := s.repo.GetIndent(ctx, order.IndentID)
		if err != nil {
			return err
		}
		if err := s.setIndentStatus(ctx, indent, IndentStatusFulfilled); err != nil {
			return err
		}
	}
	return nil
}

// OrderStatus returns the derived master status for an order without
// persisting anything.
func (s *Service) OrderStatus(ctx context.Context, orderID int64) (string, []OrderSuborder, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return "", nil, err
	}
	suborders, err := s.repo.ListSuborders(ctx, orderID)
	if err != nil {
		return "", nil, err
	}
	return DeriveMasterOrderStatus(order, suborders), suborders, nil
}

// CreateGRN inserts a draft goods receipt note for a vendor indent.
func (s *Service) CreateGRN(ctx context.Context, input CreateGRNInput) (GoodsReceiptNote, error) {
	vi, err := s.repo.GetVendorIndent(ctx, input.VendorIndentID)
	if err != nil {
		return GoodsReceiptNote{}, err
	}
	if input.VendorID != 0 && input.VendorID != vi.VendorID {
		return GoodsReceiptNote{}, fmt.Errorf("%w: vendor %d does not own vendor indent %d", ErrValidation, input.VendorID, vi.ID)
	}
	grn := GoodsReceiptNote{
		VendorIndentID: vi.ID,
		VendorID:       vi.VendorID,
		Number:         defaultString(input.Number, generateNumber("GRN")),
		Date:           defaultTime(input.Date),
		Status:         GRNStatusDraft,
		Remarks:        input.Remarks,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = id
		return nil
	})
	if err != nil {
		return GoodsReceiptNote{}, err
	}
	s.recordAudit(ctx, "GRN_CREATE", grn.ID, map[string]any{"number": grn.Number})
	return grn, nil
}

// SubmitGRN transitions a DRAFT note to SUBMITTED and advances the owning
// vendor indent to GRN_SUBMITTED.
func (s *Service) SubmitGRN(ctx context.Context, grnID int64) error {
	grn, err := s.repo.GetGRN(ctx, grnID)
	if err != nil {
		return err
	}
	if grn.Status != GRNStatusDraft {
		return fmt.Errorf("%w: grn %s is %s, want DRAFT", ErrInvalidState, grn.Number, grn.Status)
	}
	vi, err := s.repo.GetVendorIndent(ctx, grn.VendorIndentID)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("GRN:%s:submit", grn.Number)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "workflow.grn"); err != nil {
			return err
		}
		inserted = true
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateGRNStatus(ctx, grnID, GRNStatusSubmitted); err != nil {
			return err
		}
		if next := advanceVendorIndent(vi.Status, VendorIndentStatusGRNSubmitted); next != vi.Status {
			return tx.UpdateVendorIndentStatus(ctx, vi.ID, next)
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return err
	}
	s.emit(ctx, "grn submitted", func() error {
		return s.notifier.NotifyGRNSubmitted(ctx, GRNSubmittedEvent{GRNID: grn.ID, Number: grn.Number, VendorIndentID: vi.ID, VendorID: vi.VendorID, IndentID: vi.IndentID, At: time.Now()})
	})
	s.recordAudit(ctx, "GRN_SUBMIT", grnID, map[string]any{"number": grn.Number})
	return nil
}

// ApproveGRN marks a submitted note approved.
func (s *Service) ApproveGRN(ctx context.Context, grnID int64) error {
	return s.resolveGRN(ctx, grnID, GRNStatusApproved)
}

// RejectGRN marks a submitted note rejected.
func (s *Service) RejectGRN(ctx context.Context, grnID int64) error {
	return s.resolveGRN(ctx, grnID, GRNStatusRejected)
}

func (s *Service) resolveGRN(ctx context.Context, grnID int64, target GRNStatus) error {
	grn, err := s.repo.GetGRN(ctx, grnID)
	if err != nil {
		return err
	}
	if grn.Status != GRNStatusSubmitted {
		return fmt.Errorf("%w: grn %s is %s, want SUBMITTED", ErrInvalidState, grn.Number, grn.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateGRNStatus(ctx, grnID, target)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "GRN_"+string(target), grnID, map[string]any{"number": grn.Number})
	return nil
}

// CreateInvoice inserts a draft vendor invoice against a vendor indent.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (VendorInvoice, error) {
	if input.Amount <= 0 {
		return VendorInvoice{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	vi, err := s.repo.GetVendorIndent(ctx, input.VendorIndentID)
	if err != nil {
		return VendorInvoice{}, err
	}
	if input.VendorID != 0 && input.VendorID != vi.VendorID {
		return VendorInvoice{}, fmt.Errorf("%w: vendor %d does not own vendor indent %d", ErrValidation, input.VendorID, vi.ID)
	}
	inv := VendorInvoice{
		VendorIndentID: vi.ID,
		VendorID:       vi.VendorID,
		Number:         defaultString(input.Number, generateNumber("INV")),
		Date:           defaultTime(input.Date),
		Amount:         input.Amount,
		Status:         InvoiceStatusDraft,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		return nil
	})
	if err != nil {
		return VendorInvoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_CREATE", inv.ID, map[string]any{"number": inv.Number, "amount": inv.Amount})
	return inv, nil
}

// SubmitInvoice transitions a draft invoice to SUBMITTED.
func (s *Service) SubmitInvoice(ctx context.Context, invoiceID int64) error {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != InvoiceStatusDraft {
		return fmt.Errorf("%w: invoice %s is %s, want DRAFT", ErrInvalidState, inv.Number, inv.Status)
	}
	vi, err := s.repo.GetVendorIndent(ctx, inv.VendorIndentID)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateInvoiceStatus(ctx, invoiceID, InvoiceStatusSubmitted)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, "invoice submitted", func() error {
		return s.notifier.NotifyInvoiceSubmitted(ctx, InvoiceSubmittedEvent{InvoiceID: inv.ID, Number: inv.Number, VendorIndentID: vi.ID, VendorID: vi.VendorID, IndentID: vi.IndentID, Amount: inv.Amount, At: time.Now()})
	})
	s.recordAudit(ctx, "INVOICE_SUBMIT", invoiceID, map[string]any{"number": inv.Number})
	return nil
}

// ApproveInvoice marks a submitted invoice approved.
func (s *Service) ApproveInvoice(ctx context.Context, invoiceID int64) error {
	return s.resolveInvoice(ctx, invoiceID, InvoiceStatusApproved)
}

// RejectInvoice marks a submitted invoice rejected.
func (s *Service) RejectInvoice(ctx context.Context, invoiceID int64) error {
	return s.resolveInvoice(ctx, invoiceID, InvoiceStatusRejected)
}

func (s *Service) resolveInvoice(ctx context.Context, invoiceID int64, target InvoiceStatus) error {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != InvoiceStatusSubmitted {
		return fmt.Errorf("%w: invoice %s is %s, want SUBMITTED", ErrInvalidState, inv.Number, inv.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateInvoiceStatus(ctx, invoiceID, target)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "INVOICE_"+string(target), invoiceID, map[string]any{"number": inv.Number})
	return nil
}

// CreatePayment records a PENDING payment against an approved invoice.
func (s *Service) CreatePayment(ctx context.Context, input PaymentInput) (Payment, error) {
	if input.Amount <= 0 {
		return Payment{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	inv, err := s.repo.GetInvoice(ctx, input.InvoiceID)
	if err != nil {
		return Payment{}, err
	}
	if inv.Status != InvoiceStatusApproved {
		return Payment{}, fmt.Errorf("%w: invoice %s is %s, want APPROVED", ErrInvalidState, inv.Number, inv.Status)
	}
	pay := Payment{
		InvoiceID: inv.ID,
		VendorID:  inv.VendorID,
		Reference: defaultString(input.Reference, generateNumber("PAY")),
		Date:      defaultTime(input.Date),
		Amount:    input.Amount,
		Status:    PaymentStatusPending,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePayment(ctx, pay)
		if err != nil {
			return err
		}
		pay.ID = id
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.recordAudit(ctx, "PAYMENT_CREATE", pay.ID, map[string]any{"reference": pay.Reference, "amount": pay.Amount})
	return pay, nil
}

// CompletePayment settles a pending payment: the payment, its invoice and the
// owning vendor indent move to their paid statuses inside one transaction.
// Event emission and closure evaluation run after commit and are best effort:
// a failure there never rolls the payment back, it is logged and left for the
// reconciliation sweep to converge.
func (s *Service) CompletePayment(ctx context.Context, paymentID int64) error {
	pay, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if pay.Status != PaymentStatusPending {
		return fmt.Errorf("%w: payment %s is %s, want PENDING", ErrInvalidState, pay.Reference, pay.Status)
	}
	inv, err := s.repo.GetInvoice(ctx, pay.InvoiceID)
	if err != nil {
		return err
	}
	vi, err := s.repo.GetVendorIndent(ctx, inv.VendorIndentID)
	if err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdatePaymentStatus(ctx, paymentID, PaymentStatusCompleted); err != nil {
			return err
		}
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, InvoiceStatusPaid); err != nil {
			return err
		}
		if next := advanceVendorIndent(vi.Status, VendorIndentStatusPaid); next != vi.Status {
			return tx.UpdateVendorIndentStatus(ctx, vi.ID, next)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, "payment completed", func() error {
		return s.notifier.NotifyPaymentCompleted(ctx, PaymentCompletedEvent{PaymentID: pay.ID, InvoiceID: inv.ID, VendorID: inv.VendorID, IndentID: vi.IndentID, Amount: pay.Amount, At: time.Now()})
	})
	if _, err := s.CheckAndCloseIndent(ctx, vi.ID); err != nil {
		s.cascadeWarn(ctx, "closure evaluation", err, slog.Int64("vendor_indent_id", vi.ID))
	}
	s.recordAudit(ctx, "PAYMENT_COMPLETE", paymentID, map[string]any{"reference": pay.Reference, "invoice_id": inv.ID})
	return nil
}

// FailPayment marks a pending payment failed. The invoice stays payable.
func (s *Service) FailPayment(ctx context.Context, paymentID int64) error {
	pay, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if pay.Status != PaymentStatusPending {
		return fmt.Errorf("%w: payment %s is %s, want PENDING", ErrInvalidState, pay.Reference, pay.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePaymentStatus(ctx, paymentID, PaymentStatusFailed)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PAYMENT_FAIL", paymentID, map[string]any{"reference": pay.Reference})
	return nil
}

// CheckAndCloseIndent evaluates the closure invariant for the indent owning
// the given vendor indent: every vendor indent PAID and every reachable
// suborder DELIVERED. Returns whether closure occurred; "not yet closeable"
// is an expected outcome, not an error.
func (s *Service) CheckAndCloseIndent(ctx context.Context, vendorIndentID int64) (bool, error) {
	vi, err := s.repo.GetVendorIndent(ctx, vendorIndentID)
	if err != nil {
		return false, err
	}
	return s.checkAndCloseByIndent(ctx, vi.IndentID)
}

func (s *Service) checkAndCloseByIndent(ctx context.Context, indentID int64) (bool, error) {
	indent, err := s.repo.GetIndent(ctx, indentID)
	if err != nil {
		return false, err
	}
	if indent.Status == IndentStatusClosed {
		return false, nil
	}
	vis, err := s.repo.ListVendorIndents(ctx, indentID)
	if err != nil {
		return false, err
	}
	if len(vis) == 0 {
		return false, nil
	}
	for _, vi := range vis {
		if vi.Status != VendorIndentStatusPaid {
			return false, nil
		}
	}
	suborders, err := s.repo.ListSubordersByIndent(ctx, indentID)
	if err != nil {
		return false, err
	}
	if len(suborders) == 0 {
		return false, nil
	}
	for _, sub := range suborders {
		if sub.SuborderStatus != SuborderStatusDelivered && sub.ShipmentStatus != ShipmentStatusDelivered {
			return false, nil
		}
	}

	if err := s.setIndentStatus(ctx, indent, IndentStatusClosed); err != nil {
		return false, err
	}
	if s.metrics != nil {
		s.metrics.ObserveClosure()
	}
	s.emit(ctx, "indent closed", func() error {
		return s.notifier.NotifyIndentClosed(ctx, IndentClosedEvent{IndentID: indent.ID, CompanyID: indent.CompanyID, RefNo: indent.RefNo, At: time.Now()})
	})
	s.recordAudit(ctx, "INDENT_CLOSE", indent.ID, map[string]any{"ref_no": indent.RefNo})
	return true, nil
}

// Reconcile re-derives master statuses and re-runs closure checks from
// current state. All underlying operations are idempotent, so the sweep can
// run at any time without coordination with request handlers.
func (s *Service) Reconcile(ctx context.Context) error {
	orderIDs, err := s.repo.ListReconcilableOrderIDs(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, orderID := range orderIDs {
		orderID := orderID
		g.Go(func() error {
			if err := s.RefreshOrderStatus(gctx, orderID); err != nil {
				s.cascadeWarn(gctx, "reconcile order", err, slog.Int64("order_id", orderID))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	indentIDs, err := s.repo.ListOpenIndentIDs(ctx)
	if err != nil {
		return err
	}
	for _, indentID := range indentIDs {
		if _, err := s.checkAndCloseByIndent(ctx, indentID); err != nil {
			s.cascadeWarn(ctx, "reconcile closure", err, slog.Int64("indent_id", indentID))
		}
	}
	return nil
}

// GetIndent returns an indent with its vendor indents.
func (s *Service) GetIndent(ctx context.Context, id int64) (Indent, []VendorIndent, error) {
	indent, err := s.repo.GetIndent(ctx, id)
	if err != nil {
		return Indent{}, nil, err
	}
	vis, err := s.repo.ListVendorIndents(ctx, id)
	if err != nil {
		return Indent{}, nil, err
	}
	return indent, vis, nil
}

// ListIndents returns filtered indents plus the total count.
func (s *Service) ListIndents(ctx context.Context, limit, offset int, filters ListFilters) ([]Indent, int, error) {
	return s.repo.ListIndents(ctx, limit, offset, filters)
}

// setIndentStatus advances an indent, never letting the status regress.
func (s *Service) setIndentStatus(ctx context.Context, indent Indent, target IndentStatus) error {
	if indentStatusRank[target] <= indentStatusRank[indent.Status] {
		return nil
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateIndentStatus(ctx, indent.ID, target)
	})
}

func advanceVendorIndent(current, target VendorIndentStatus) VendorIndentStatus {
	if vendorIndentStatusRank[target] > vendorIndentStatusRank[current] {
		return target
	}
	return current
}

// emit dispatches a notification, downgrading failures to warnings: the
// primary state change has already committed.
func (s *Service) emit(ctx context.Context, kind string, fn func() error) {
	if s.notifier == nil {
		return
	}
	if err := fn(); err != nil {
		s.cascadeWarn(ctx, "notify "+kind, err)
	}
}

func (s *Service) cascadeWarn(ctx context.Context, stage string, err error, attrs ...slog.Attr) {
	if s.metrics != nil {
		s.metrics.ObserveCascadeFailure(stage)
	}
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.Any("error", err))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	s.logger.WarnContext(ctx, "cascade step failed: "+stage, args...)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "workflow", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}
