package workflow

import (
	"context"
	"time"
)

// IndentCreatedEvent announces a new requisition.
type IndentCreatedEvent struct {
	IndentID  int64
	CompanyID int64
	RefNo     string
	At        time.Time
}

// SuborderShippedEvent is emitted when a suborder first moves into SHIPPED.
type SuborderShippedEvent struct {
	SuborderID int64
	OrderID    int64
	VendorID   int64
	IndentID   int64
	Carrier    string
	At         time.Time
}

// SuborderDeliveredEvent is emitted when a suborder reaches DELIVERED.
type SuborderDeliveredEvent struct {
	SuborderID int64
	OrderID    int64
	VendorID   int64
	IndentID   int64
	At         time.Time
}

// GRNSubmittedEvent is emitted when a goods receipt note is submitted.
type GRNSubmittedEvent struct {
	GRNID          int64
	Number         string
	VendorIndentID int64
	VendorID       int64
	IndentID       int64
	At             time.Time
}

// InvoiceSubmittedEvent is emitted when a vendor invoice is submitted.
type InvoiceSubmittedEvent struct {
	InvoiceID      int64
	Number         string
	VendorIndentID int64
	VendorID       int64
	IndentID       int64
	Amount         float64
	At             time.Time
}

// PaymentCompletedEvent is emitted after a payment settles its invoice.
type PaymentCompletedEvent struct {
	PaymentID int64
	InvoiceID int64
	VendorID  int64
	IndentID  int64
	Amount    float64
	At        time.Time
}

// IndentClosedEvent is emitted when an indent reaches CLOSED.
type IndentClosedEvent struct {
	IndentID  int64
	CompanyID int64
	RefNo     string
	At        time.Time
}

// Notifier receives workflow transition events. Delivery is best effort:
// failures after the primary state change has committed are logged, never
// propagated, and a reconciliation pass may replay any of these safely.
type Notifier interface {
	NotifyIndentCreated(ctx context.Context, evt IndentCreatedEvent) error
	NotifySuborderShipped(ctx context.Context, evt SuborderShippedEvent) error
	NotifySuborderDelivered(ctx context.Context, evt SuborderDeliveredEvent) error
	NotifyGRNSubmitted(ctx context.Context, evt GRNSubmittedEvent) error
	NotifyInvoiceSubmitted(ctx context.Context, evt InvoiceSubmittedEvent) error
	NotifyPaymentCompleted(ctx context.Context, evt PaymentCompletedEvent) error
	NotifyIndentClosed(ctx context.Context, evt IndentClosedEvent) error
}
