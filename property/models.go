package property

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusSold      Status = "sold"
	StatusWithdrawn Status = "withdrawn"
)

// Listing mirrors the properties table.
type Listing struct {
	ID           string
	SellerID     string
	Address      string
	Region       string
	PropertyType string
	ListPrice    int64
	MinimumOffer int64
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Filters narrows the listing search. Sort keys are mapped through an
// allow-list before reaching SQL.
type Filters struct {
	Region       string
	PropertyType string
	Status       Status
	PriceMin     int64
	PriceMax     int64
	Page         int
	PageSize     int
	SortKey      string
	SortOrder    string
}
