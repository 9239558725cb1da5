package workflow

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	indents   map[int64]Indent
	vis       map[int64]VendorIndent
	orders    map[int64]Order
	suborders map[int64]OrderSuborder
	grns      map[int64]GoodsReceiptNote
	invoices  map[int64]VendorInvoice
	payments  map[int64]Payment
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		indents:   make(map[int64]Indent),
		vis:       make(map[int64]VendorIndent),
		orders:    make(map[int64]Order),
		suborders: make(map[int64]OrderSuborder),
		grns:      make(map[int64]GoodsReceiptNote),
		invoices:  make(map[int64]VendorInvoice),
		payments:  make(map[int64]Payment),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetIndent(ctx context.Context, id int64) (Indent, error) {
	ind, ok := r.indents[id]
	if !ok {
		return Indent{}, ErrNotFound
	}
	return ind, nil
}

func (r *memoryRepo) ListIndents(ctx context.Context, limit, offset int, filters ListFilters) ([]Indent, int, error) {
	var out []Indent
	for _, ind := range r.indents {
		if filters.Status != "" && string(ind.Status) != filters.Status {
			continue
		}
		if filters.CompanyID > 0 && ind.CompanyID != filters.CompanyID {
			continue
		}
		out = append(out, ind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *memoryRepo) ListOpenIndentIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for id, ind := range r.indents {
		if ind.Status != IndentStatusClosed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memoryRepo) GetVendorIndent(ctx context.Context, id int64) (VendorIndent, error) {
	vi, ok := r.vis[id]
	if !ok {
		return VendorIndent{}, ErrNotFound
	}
	return vi, nil
}

func (r *memoryRepo) ListVendorIndents(ctx context.Context, indentID int64) ([]VendorIndent, error) {
	var out []VendorIndent
	for _, vi := range r.vis {
		if vi.IndentID == indentID {
			out = append(out, vi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorID < out[j].VendorID })
	return out, nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (Order, error) {
	ord, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return ord, nil
}

func (r *memoryRepo) ListReconcilableOrderIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for id, ord := range r.orders {
		if ord.IndentID != 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memoryRepo) GetSuborder(ctx context.Context, id int64) (OrderSuborder, error) {
	sub, ok := r.suborders[id]
	if !ok {
		return OrderSuborder{}, ErrNotFound
	}
	return sub, nil
}

func (r *memoryRepo) GetSuborderByOrderVendor(ctx context.Context, orderID, vendorID int64) (OrderSuborder, error) {
	for _, sub := range r.suborders {
		if sub.OrderID == orderID && sub.VendorID == vendorID {
			return sub, nil
		}
	}
	return OrderSuborder{}, ErrNotFound
}

func (r *memoryRepo) ListSuborders(ctx context.Context, orderID int64) ([]OrderSuborder, error) {
	var out []OrderSuborder
	for _, sub := range r.suborders {
		if sub.OrderID == orderID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorID < out[j].VendorID })
	return out, nil
}

func (r *memoryRepo) ListSubordersByIndent(ctx context.Context, indentID int64) ([]OrderSuborder, error) {
	var out []OrderSuborder
	for _, sub := range r.suborders {
		if vi, ok := r.vis[sub.VendorIndentID]; ok && vi.IndentID == indentID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetGRN(ctx context.Context, id int64) (GoodsReceiptNote, error) {
	grn, ok := r.grns[id]
	if !ok {
		return GoodsReceiptNote{}, ErrNotFound
	}
	return grn, nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (VendorInvoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return VendorInvoice{}, ErrNotFound
	}
	return inv, nil
}

func (r *memoryRepo) GetPayment(ctx context.Context, id int64) (Payment, error) {
	pay, ok := r.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return pay, nil
}

func (tx *memoryTx) nextID() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryTx) CreateIndent(ctx context.Context, indent Indent) (int64, error) {
	for _, existing := range tx.repo.indents {
		if existing.CompanyID == indent.CompanyID && existing.RefNo == indent.RefNo {
			return 0, fmt.Errorf("%w: indent ref %q", ErrDuplicate, indent.RefNo)
		}
	}
	id := tx.nextID()
	indent.ID = id
	tx.repo.indents[id] = indent
	return id, nil
}

func (tx *memoryTx) UpdateIndentStatus(ctx context.Context, id int64, status IndentStatus) error {
	ind, ok := tx.repo.indents[id]
	if !ok {
		return ErrNotFound
	}
	ind.Status = status
	tx.repo.indents[id] = ind
	return nil
}

func (tx *memoryTx) CreateVendorIndent(ctx context.Context, vi VendorIndent) (int64, error) {
	for _, existing := range tx.repo.vis {
		if existing.IndentID == vi.IndentID && existing.VendorID == vi.VendorID {
			return 0, fmt.Errorf("%w: vendor indent for vendor %d", ErrDuplicate, vi.VendorID)
		}
	}
	id := tx.nextID()
	vi.ID = id
	tx.repo.vis[id] = vi
	return id, nil
}

func (tx *memoryTx) UpdateVendorIndentStatus(ctx context.Context, id int64, status VendorIndentStatus) error {
	vi, ok := tx.repo.vis[id]
	if !ok {
		return ErrNotFound
	}
	vi.Status = status
	tx.repo.vis[id] = vi
	return nil
}

func (tx *memoryTx) CreateSuborder(ctx context.Context, sub OrderSuborder) (int64, error) {
	for _, existing := range tx.repo.suborders {
		if existing.OrderID == sub.OrderID && existing.VendorID == sub.VendorID {
			return 0, fmt.Errorf("%w: suborder for order %d vendor %d", ErrDuplicate, sub.OrderID, sub.VendorID)
		}
	}
	id := tx.nextID()
	sub.ID = id
	tx.repo.suborders[id] = sub
	return id, nil
}

func (tx *memoryTx) UpdateSuborder(ctx context.Context, sub OrderSuborder) error {
	if _, ok := tx.repo.suborders[sub.ID]; !ok {
		return ErrNotFound
	}
	tx.repo.suborders[sub.ID] = sub
	return nil
}

func (tx *memoryTx) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	ord, ok := tx.repo.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	ord.Status = status
	tx.repo.orders[orderID] = ord
	return nil
}

func (tx *memoryTx) CreateGRN(ctx context.Context, grn GoodsReceiptNote) (int64, error) {
	id := tx.nextID()
	grn.ID = id
	tx.repo.grns[id] = grn
	return id, nil
}

func (tx *memoryTx) UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error {
	grn, ok := tx.repo.grns[id]
	if !ok {
		return ErrNotFound
	}
	grn.Status = status
	tx.repo.grns[id] = grn
	return nil
}

func (tx *memoryTx) CreateInvoice(ctx context.Context, inv VendorInvoice) (int64, error) {
	id := tx.nextID()
	inv.ID = id
	tx.repo.invoices[id] = inv
	return id, nil
}

func (tx *memoryTx) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	inv, ok := tx.repo.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = status
	tx.repo.invoices[id] = inv
	return nil
}

func (tx *memoryTx) CreatePayment(ctx context.Context, pay Payment) (int64, error) {
	id := tx.nextID()
	pay.ID = id
	tx.repo.payments[id] = pay
	return id, nil
}

func (tx *memoryTx) UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus) error {
	pay, ok := tx.repo.payments[id]
	if !ok {
		return ErrNotFound
	}
	pay.Status = status
	tx.repo.payments[id] = pay
	return nil
}

type stubResolver struct {
	byProduct map[int64]int64
}

func (r stubResolver) ResolveVendors(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64)
	for _, id := range productIDs {
		if vendorID, ok := r.byProduct[id]; ok {
			out[id] = vendorID
		}
	}
	return out, nil
}

type stubNotifier struct {
	kinds []string
}

func (n *stubNotifier) record(kind string) error {
	n.kinds = append(n.kinds, kind)
	return nil
}

func (n *stubNotifier) NotifyIndentCreated(ctx context.Context, evt IndentCreatedEvent) error {
	return n.record("indent_created")
}
func (n *stubNotifier) NotifySuborderShipped(ctx context.Context, evt SuborderShippedEvent) error {
	return n.record("suborder_shipped")
}
func (n *stubNotifier) NotifySuborderDelivered(ctx context.Context, evt SuborderDeliveredEvent) error {
	return n.record("suborder_delivered")
}
func (n *stubNotifier) NotifyGRNSubmitted(ctx context.Context, evt GRNSubmittedEvent) error {
	return n.record("grn_submitted")
}
func (n *stubNotifier) NotifyInvoiceSubmitted(ctx context.Context, evt InvoiceSubmittedEvent) error {
	return n.record("invoice_submitted")
}
func (n *stubNotifier) NotifyPaymentCompleted(ctx context.Context, evt PaymentCompletedEvent) error {
	return n.record("payment_completed")
}
func (n *stubNotifier) NotifyIndentClosed(ctx context.Context, evt IndentClosedEvent) error {
	return n.record("indent_closed")
}

func (n *stubNotifier) has(kind string) bool {
	for _, k := range n.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func newTestService(repo *memoryRepo, resolver VendorResolver) (*Service, *stubNotifier) {
	notifier := &stubNotifier{}
	svc := NewService(repo, resolver, notifier, nil, nil, nil, nil)
	return svc, notifier
}

func seedIndentAndOrder(t *testing.T, repo *memoryRepo) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	var indentID, orderID int64
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateIndent(ctx, Indent{RefNo: "IND-001", CompanyID: 1, Status: IndentStatusCreated})
		if err != nil {
			return err
		}
		indentID = id
		return nil
	})
	require.NoError(t, err)
	orderID = 9001
	repo.orders[orderID] = Order{ID: orderID, IndentID: indentID, Status: OrderStatusAwaitingFulfilment}
	return indentID, orderID
}

var testResolver = stubResolver{byProduct: map[int64]int64{
	101: 11,
	102: 11,
	201: 22,
}}

func splitLines() []OrderLineInput {
	return []OrderLineInput{
		{ProductID: 101, Quantity: 5, Amount: 100},
		{ProductID: 102, Quantity: 3, Amount: 60},
		{ProductID: 201, Quantity: 2, Amount: 500},
	}
}

func TestSplitIndentAllocatesPerVendor(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)

	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)
	require.Len(t, allocations, 2)

	// Vendor 11 got two lines, vendor 22 one.
	require.Equal(t, int64(11), allocations[0].VendorIndent.VendorID)
	require.Equal(t, 2, allocations[0].VendorIndent.TotalItems)
	require.InDelta(t, 8.0, allocations[0].VendorIndent.TotalQuantity, 1e-9)
	require.InDelta(t, 160.0, allocations[0].VendorIndent.TotalAmount, 1e-9)

	require.Equal(t, int64(22), allocations[1].VendorIndent.VendorID)
	require.Equal(t, 1, allocations[1].VendorIndent.TotalItems)
	require.InDelta(t, 500.0, allocations[1].VendorIndent.TotalAmount, 1e-9)

	for _, alloc := range allocations {
		require.Equal(t, VendorIndentStatusCreated, alloc.VendorIndent.Status)
		require.Equal(t, SuborderStatusCreated, alloc.Suborder.SuborderStatus)
		require.Equal(t, ShipmentStatusNotShipped, alloc.Suborder.ShipmentStatus)
		require.Equal(t, alloc.VendorIndent.ID, alloc.Suborder.VendorIndentID)
	}

	indent, err := repo.GetIndent(ctx, indentID)
	require.NoError(t, err)
	require.Equal(t, IndentStatusOrdered, indent.Status)

	order, err := repo.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusAwaitingFulfilment, order.Status)
}

func TestSplitIndentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)

	first, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)
	second, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].VendorIndent.ID, second[i].VendorIndent.ID)
		require.Equal(t, first[i].Suborder.ID, second[i].Suborder.ID)
	}
	require.Len(t, repo.vis, 2)
	require.Len(t, repo.suborders, 2)
}

func TestSplitIndentValidation(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)

	// Order bound to a different indent.
	repo.orders[5000] = Order{ID: 5000, IndentID: indentID + 99}
	_, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: 5000, Lines: splitLines()})
	require.ErrorIs(t, err, ErrValidation)

	// No lines.
	_, err = svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID})
	require.ErrorIs(t, err, ErrValidation)

	// Unmapped product.
	_, err = svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: []OrderLineInput{{ProductID: 999, Quantity: 1}}})
	require.ErrorIs(t, err, ErrValidation)
}

func ptr[T any](v T) *T { return &v }

func TestShippingUpdateDrivesMasterStatus(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, notifier := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)

	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)

	// Ship the first suborder: order becomes Dispatched.
	sub, err := svc.UpdateSuborderShipping(ctx, UpdateShippingInput{
		SuborderID:     allocations[0].Suborder.ID,
		CarrierName:    ptr("BlueDart"),
		ConsignmentNo:  ptr("CN-1"),
		ShipDate:       ptr(time.Now()),
		ShipmentStatus: ptr(ShipmentStatusShipped),
	})
	require.NoError(t, err)
	require.Equal(t, SuborderStatusShipped, sub.SuborderStatus)
	require.True(t, notifier.has("suborder_shipped"))

	order, err := repo.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusDispatched, order.Status)

	// Deliver both suborders: order becomes Delivered, indent FULFILLED,
	// vendor indents advance to DELIVERED.
	for _, alloc := range allocations {
		_, err := svc.UpdateSuborderShipping(ctx, UpdateShippingInput{
			SuborderID:     alloc.Suborder.ID,
			ShipmentStatus: ptr(ShipmentStatusDelivered),
		})
		require.NoError(t, err)
	}
	require.True(t, notifier.has("suborder_delivered"))

	order, err = repo.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusDelivered, order.Status)

	indent, err := repo.GetIndent(ctx, indentID)
	require.NoError(t, err)
	require.Equal(t, IndentStatusFulfilled, indent.Status)

	for _, alloc := range allocations {
		vi, err := repo.GetVendorIndent(ctx, alloc.VendorIndent.ID)
		require.NoError(t, err)
		require.Equal(t, VendorIndentStatusDelivered, vi.Status)
	}
}

func TestShippingPartialUpdateKeepsStatus(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)
	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)

	sub, err := svc.UpdateSuborderShipping(ctx, UpdateShippingInput{
		SuborderID:  allocations[0].Suborder.ID,
		CarrierName: ptr("BlueDart"),
	})
	require.NoError(t, err)
	require.Equal(t, "BlueDart", sub.CarrierName)
	require.Equal(t, SuborderStatusCreated, sub.SuborderStatus)
	require.Equal(t, ShipmentStatusNotShipped, sub.ShipmentStatus)
}

func TestShippingRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)
	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)

	_, err = svc.UpdateSuborderShipping(ctx, UpdateShippingInput{
		SuborderID:     allocations[0].Suborder.ID,
		ShipmentStatus: ptr(ShipmentStatus("LOST")),
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestGRNLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, notifier := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)
	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)
	viID := allocations[0].VendorIndent.ID

	grn, err := svc.CreateGRN(ctx, CreateGRNInput{VendorIndentID: viID, Number: "GRN-1"})
	require.NoError(t, err)
	require.Equal(t, GRNStatusDraft, grn.Status)

	// Wrong vendor may not file against this vendor indent.
	_, err = svc.CreateGRN(ctx, CreateGRNInput{VendorIndentID: viID, VendorID: 999})
	require.ErrorIs(t, err, ErrValidation)

	require.NoError(t, svc.SubmitGRN(ctx, grn.ID))
	require.True(t, notifier.has("grn_submitted"))

	vi, err := repo.GetVendorIndent(ctx, viID)
	require.NoError(t, err)
	require.Equal(t, VendorIndentStatusGRNSubmitted, vi.Status)

	// Double submit is an invalid state, not a silent no-op.
	require.ErrorIs(t, svc.SubmitGRN(ctx, grn.ID), ErrInvalidState)

	require.NoError(t, svc.ApproveGRN(ctx, grn.ID))
	stored, err := repo.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusApproved, stored.Status)

	// Approving twice fails: the note left SUBMITTED.
	require.ErrorIs(t, svc.ApproveGRN(ctx, grn.ID), ErrInvalidState)
}

func TestInvoiceAndPaymentLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, notifier := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)
	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)
	viID := allocations[0].VendorIndent.ID

	inv, err := svc.CreateInvoice(ctx, CreateInvoiceInput{VendorIndentID: viID, Number: "INV-1", Amount: 160})
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusDraft, inv.Status)

	_, err = svc.CreateInvoice(ctx, CreateInvoiceInput{VendorIndentID: viID, Amount: -5})
	require.ErrorIs(t, err, ErrValidation)

	// Payment against a non-approved invoice is rejected.
	_, err = svc.CreatePayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: 160})
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, svc.SubmitInvoice(ctx, inv.ID))
	require.True(t, notifier.has("invoice_submitted"))
	require.NoError(t, svc.ApproveInvoice(ctx, inv.ID))

	pay, err := svc.CreatePayment(ctx, PaymentInput{InvoiceID: inv.ID, Reference: "PAY-1", Amount: 160})
	require.NoError(t, err)
	require.Equal(t, PaymentStatusPending, pay.Status)

	require.NoError(t, svc.CompletePayment(ctx, pay.ID))
	require.True(t, notifier.has("payment_completed"))

	stored, err := repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPaid, stored.Status)

	vi, err := repo.GetVendorIndent(ctx, viID)
	require.NoError(t, err)
	require.Equal(t, VendorIndentStatusPaid, vi.Status)

	// Completing an already settled payment is invalid.
	require.ErrorIs(t, svc.CompletePayment(ctx, pay.ID), ErrInvalidState)
}

func TestFailPaymentLeavesInvoicePayable(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)
	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)

	inv, err := svc.CreateInvoice(ctx, CreateInvoiceInput{VendorIndentID: allocations[0].VendorIndent.ID, Amount: 160})
	require.NoError(t, err)
	require.NoError(t, svc.SubmitInvoice(ctx, inv.ID))
	require.NoError(t, svc.ApproveInvoice(ctx, inv.ID))

	pay, err := svc.CreatePayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: 160})
	require.NoError(t, err)
	require.NoError(t, svc.FailPayment(ctx, pay.ID))

	stored, err := repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusApproved, stored.Status)

	// A fresh payment can still settle the invoice.
	retry, err := svc.CreatePayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: 160})
	require.NoError(t, err)
	require.NoError(t, svc.CompletePayment(ctx, retry.ID))
}

// payAndDeliverAll walks every vendor indent through delivery, invoicing and
// settlement.
func payAndDeliverAll(t *testing.T, svc *Service, allocations []VendorAllocation) {
	t.Helper()
	ctx := context.Background()
	for _, alloc := range allocations {
		_, err := svc.UpdateSuborderShipping(ctx, UpdateShippingInput{
			SuborderID:     alloc.Suborder.ID,
			ShipmentStatus: ptr(ShipmentStatusDelivered),
		})
		require.NoError(t, err)

		inv, err := svc.CreateInvoice(ctx, CreateInvoiceInput{VendorIndentID: alloc.VendorIndent.ID, Amount: alloc.VendorIndent.TotalAmount + 1})
		require.NoError(t, err)
		require.NoError(t, svc.SubmitInvoice(ctx, inv.ID))
		require.NoError(t, svc.ApproveInvoice(ctx, inv.ID))

		pay, err := svc.CreatePayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: inv.Amount})
		require.NoError(t, err)
		require.NoError(t, svc.CompletePayment(ctx, pay.ID))
	}
}

func TestIndentClosesWhenAllPaidAndDelivered(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, notifier := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)
	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)

	payAndDeliverAll(t, svc, allocations)

	indent, err := repo.GetIndent(ctx, indentID)
	require.NoError(t, err)
	require.Equal(t, IndentStatusClosed, indent.Status)
	require.True(t, notifier.has("indent_closed"))

	// Re-running the check after closure reports no new closure.
	closed, err := svc.CheckAndCloseIndent(ctx, allocations[0].VendorIndent.ID)
	require.NoError(t, err)
	require.False(t, closed)
}

func TestIndentDoesNotCloseEarly(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)
	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)

	// Settle only the first vendor.
	payAndDeliverAll(t, svc, allocations[:1])

	indent, err := repo.GetIndent(ctx, indentID)
	require.NoError(t, err)
	require.NotEqual(t, IndentStatusClosed, indent.Status)

	closed, err := svc.CheckAndCloseIndent(ctx, allocations[0].VendorIndent.ID)
	require.NoError(t, err)
	require.False(t, closed)
}

func TestIndentStatusNeverRegresses(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)
	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)
	payAndDeliverAll(t, svc, allocations)

	// A late status refresh after closure must not pull CLOSED back to
	// FULFILLED.
	require.NoError(t, svc.RefreshOrderStatus(ctx, orderID))
	indent, err := repo.GetIndent(ctx, indentID)
	require.NoError(t, err)
	require.Equal(t, IndentStatusClosed, indent.Status)
}

func TestReconcileConvergesDriftedState(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)
	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)
	payAndDeliverAll(t, svc, allocations)

	// Simulate a missed cascade: stale order status and a reopened indent.
	ord := repo.orders[orderID]
	ord.Status = OrderStatusAwaitingFulfilment
	repo.orders[orderID] = ord
	ind := repo.indents[indentID]
	ind.Status = IndentStatusFulfilled
	repo.indents[indentID] = ind

	require.NoError(t, svc.Reconcile(ctx))

	order, err := repo.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusDelivered, order.Status)

	indent, err := repo.GetIndent(ctx, indentID)
	require.NoError(t, err)
	require.Equal(t, IndentStatusClosed, indent.Status)
}

func TestCreateIndentRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)

	_, err := svc.CreateIndent(ctx, CreateIndentInput{RefNo: "IND-77", CompanyID: 3})
	require.NoError(t, err)
	_, err = svc.CreateIndent(ctx, CreateIndentInput{RefNo: "IND-77", CompanyID: 3})
	require.ErrorIs(t, err, ErrDuplicate)

	// Same ref under another company is fine.
	_, err = svc.CreateIndent(ctx, CreateIndentInput{RefNo: "IND-77", CompanyID: 4})
	require.NoError(t, err)
}

func TestOrderStatusIsReadOnly(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, testResolver)
	indentID, orderID := seedIndentAndOrder(t, repo)
	allocations, err := svc.SplitIndent(ctx, SplitIndentInput{IndentID: indentID, OrderID: orderID, Lines: splitLines()})
	require.NoError(t, err)

	_, err = svc.UpdateSuborderShipping(ctx, UpdateShippingInput{
		SuborderID:     allocations[0].Suborder.ID,
		ShipmentStatus: ptr(ShipmentStatusShipped),
	})
	require.NoError(t, err)

	before := repo.orders[orderID].Status
	status, suborders, err := svc.OrderStatus(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusDispatched, status)
	require.Len(t, suborders, 2)
	require.Equal(t, before, repo.orders[orderID].Status)
}
