package vendors

import (
	"context"
	"errors"
	"strings"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Vendor, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Vendor, error) {
	if id <= 0 {
		return Vendor{}, errors.New("invalid vendor ID")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, vendor Vendor) (Vendor, error) {
	if err := s.validate(vendor); err != nil {
		return Vendor{}, err
	}
	return s.repo.Create(ctx, vendor)
}

func (s *Service) Update(ctx context.Context, id int64, vendor Vendor) error {
	if id <= 0 {
		return errors.New("invalid vendor ID")
	}
	if err := s.validate(vendor); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, vendor)
}

// AssignProduct points a catalogue product at its supplying vendor.
func (s *Service) AssignProduct(ctx context.Context, vendorID, productID int64) error {
	if vendorID <= 0 || productID <= 0 {
		return errors.New("invalid vendor or product ID")
	}
	if _, err := s.repo.Get(ctx, vendorID); err != nil {
		return err
	}
	return s.repo.AssignProduct(ctx, vendorID, productID)
}

// ResolveVendors satisfies the allocation lookup used when splitting an
// indent. Products without an active vendor are absent from the result.
func (s *Service) ResolveVendors(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	return s.repo.ResolveVendors(ctx, productIDs)
}

func (s *Service) validate(v Vendor) error {
	if strings.TrimSpace(v.Code) == "" {
		return errors.New("vendor code is required")
	}
	if strings.TrimSpace(v.Name) == "" {
		return errors.New("vendor name is required")
	}
	return nil
}
