package vendors

import (
	"time"
)

// Vendor represents a supplying vendor registered on the platform.
type Vendor struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VendorProduct maps a catalogue product to the vendor that supplies it.
// Allocation looks up this mapping when splitting an indent.
type VendorProduct struct {
	VendorID  int64 `json:"vendor_id"`
	ProductID int64 `json:"product_id"`
}
