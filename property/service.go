package property

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrValidation marks malformed listing input.
var ErrValidation = errors.New("property: invalid input")

// ListingStore abstracts repository operations for the service.
type ListingStore interface {
	Create(ctx context.Context, params CreateParams) (Listing, error)
	GetByID(ctx context.Context, id string) (Listing, error)
	List(ctx context.Context, filters Filters) ([]Listing, int, error)
}

// Service exposes business-level listing operations.
type Service struct {
	repo ListingStore
}

func NewService(repo ListingStore) *Service {
	return &Service{repo: repo}
}

type ListResult struct {
	Items []Listing
	Total int
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Listing, error) {
	if params.SellerID == "" {
		return Listing{}, fmt.Errorf("%w: seller id required", ErrValidation)
	}
	if strings.TrimSpace(params.Address) == "" {
		return Listing{}, fmt.Errorf("%w: address required", ErrValidation)
	}
	if params.ListPrice <= 0 {
		return Listing{}, fmt.Errorf("%w: list price must be positive", ErrValidation)
	}
	if params.MinimumOffer < 0 || params.MinimumOffer > params.ListPrice {
		return Listing{}, fmt.Errorf("%w: minimum offer out of range", ErrValidation)
	}
	return s.repo.Create(ctx, params)
}

func (s *Service) GetByID(ctx context.Context, id string) (Listing, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}
