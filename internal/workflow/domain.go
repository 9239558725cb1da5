package workflow

import (
	"errors"
	"time"
)

// Indent lifecycle statuses.
type IndentStatus string

const (
	IndentStatusCreated   IndentStatus = "CREATED"
	IndentStatusOrdered   IndentStatus = "ORDERED"
	IndentStatusFulfilled IndentStatus = "FULFILLED"
	IndentStatusClosed    IndentStatus = "CLOSED"
)

// indentStatusRank orders indent statuses so transitions never regress.
var indentStatusRank = map[IndentStatus]int{
	IndentStatusCreated:   0,
	IndentStatusOrdered:   1,
	IndentStatusFulfilled: 2,
	IndentStatusClosed:    3,
}

// VendorIndent lifecycle statuses.
type VendorIndentStatus string

const (
	VendorIndentStatusCreated      VendorIndentStatus = "CREATED"
	VendorIndentStatusDelivered    VendorIndentStatus = "DELIVERED"
	VendorIndentStatusGRNSubmitted VendorIndentStatus = "GRN_SUBMITTED"
	VendorIndentStatusPaid         VendorIndentStatus = "PAID"
)

var vendorIndentStatusRank = map[VendorIndentStatus]int{
	VendorIndentStatusCreated:      0,
	VendorIndentStatusDelivered:    1,
	VendorIndentStatusGRNSubmitted: 2,
	VendorIndentStatusPaid:         3,
}

// Suborder shipment statuses reported by carriers.
type ShipmentStatus string

const (
	ShipmentStatusNotShipped ShipmentStatus = "NOT_SHIPPED"
	ShipmentStatusShipped    ShipmentStatus = "SHIPPED"
	ShipmentStatusInTransit  ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusDelivered  ShipmentStatus = "DELIVERED"
	ShipmentStatusFailed     ShipmentStatus = "FAILED"
	ShipmentStatusReturned   ShipmentStatus = "RETURNED"
)

// Suborder statuses derived from shipment statuses.
type SuborderStatus string

const (
	SuborderStatusCreated   SuborderStatus = "CREATED"
	SuborderStatusShipped   SuborderStatus = "SHIPPED"
	SuborderStatusDelivered SuborderStatus = "DELIVERED"
	SuborderStatusFailed    SuborderStatus = "FAILED"
	SuborderStatusReturned  SuborderStatus = "RETURNED"
)

// Master order statuses, buyer-visible. Written only by status derivation.
const (
	OrderStatusAwaitingFulfilment = "Awaiting fulfilment"
	OrderStatusDispatched         = "Dispatched"
	OrderStatusDelivered          = "Delivered"
)

// Goods receipt note statuses.
type GRNStatus string

const (
	GRNStatusDraft     GRNStatus = "DRAFT"
	GRNStatusSubmitted GRNStatus = "SUBMITTED"
	GRNStatusApproved  GRNStatus = "APPROVED"
	GRNStatusRejected  GRNStatus = "REJECTED"
)

// Vendor invoice statuses.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusSubmitted InvoiceStatus = "SUBMITTED"
	InvoiceStatusApproved  InvoiceStatus = "APPROVED"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusRejected  InvoiceStatus = "REJECTED"
)

// Payment statuses.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Indent is a buyer requisition, the top-level unit of demand.
type Indent struct {
	ID          int64
	RefNo       string
	Date        time.Time
	CompanyID   int64
	SiteID      int64
	Status      IndentStatus
	CreatedBy   int64
	CreatorRole string
}

// VendorIndent is the slice of an indent fulfilled by one vendor.
type VendorIndent struct {
	ID            int64
	IndentID      int64
	VendorID      int64
	Status        VendorIndentStatus
	TotalItems    int
	TotalQuantity float64
	TotalAmount   float64
}

// OrderSuborder tracks one vendor's shipment for one order. Exactly one
// exists per (order, vendor) pair.
type OrderSuborder struct {
	ID             int64
	OrderID        int64
	VendorID       int64
	VendorIndentID int64
	CarrierName    string
	ConsignmentNo  string
	ShipDate       time.Time
	ShipmentStatus ShipmentStatus
	SuborderStatus SuborderStatus
}

// Order is the buyer-visible order record. Status is read-only from the
// engine's perspective except through master status derivation.
type Order struct {
	ID       int64
	IndentID int64
	Status   string
}

// GoodsReceiptNote confirms goods were received from a vendor.
type GoodsReceiptNote struct {
	ID             int64
	VendorIndentID int64
	VendorID       int64
	Number         string
	Date           time.Time
	Status         GRNStatus
	Remarks        string
}

// VendorInvoice is a vendor's invoice against a vendor indent.
type VendorInvoice struct {
	ID             int64
	VendorIndentID int64
	VendorID       int64
	Number         string
	Date           time.Time
	Amount         float64
	Status         InvoiceStatus
}

// Payment settles one invoice.
type Payment struct {
	ID        int64
	InvoiceID int64
	VendorID  int64
	Reference string
	Date      time.Time
	Amount    float64
	Status    PaymentStatus
}

var (
	// ErrNotFound indicates a referenced record is missing.
	ErrNotFound = errors.New("workflow: not found")
	// ErrValidation indicates invalid input or a cross-entity mismatch.
	ErrValidation = errors.New("workflow: invalid input")
	// ErrInvalidState occurs when an action violates a status workflow.
	ErrInvalidState = errors.New("workflow: invalid state transition")
	// ErrDuplicate indicates a uniqueness constraint was hit.
	ErrDuplicate = errors.New("workflow: duplicate entry")
)
