package document

import "time"

type LOIStatus string

const (
	LOIDraft  LOIStatus = "draft"
	LOIViewed LOIStatus = "viewed"
	LOISigned LOIStatus = "signed"
)

// Party identifies one side of the letter of intent.
type Party struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FinancialTerms are the proposed deal terms embedded in the letter.
type FinancialTerms struct {
	OfferAmount   int64  `json:"offer_amount"`
	EarnestMoney  int64  `json:"earnest_money"`
	FinancingType string `json:"financing_type"`
}

// SignatureState tracks per-party signing inside the document body.
type SignatureState struct {
	ViewedAt       *time.Time `json:"viewed_at,omitempty"`
	BuyerSignedAt  *time.Time `json:"buyer_signed_at,omitempty"`
	SellerSignedAt *time.Time `json:"seller_signed_at,omitempty"`
}

// LOIBody is the embedded document stored as one JSONB value.
type LOIBody struct {
	Buyer      Party          `json:"buyer"`
	Seller     Party          `json:"seller"`
	Terms      FinancialTerms `json:"terms"`
	Signatures SignatureState `json:"signatures"`
	Message    string         `json:"message,omitempty"`
}

// LOI is a letter-of-intent document. Mutations edit the in-memory body and
// persist it explicitly through the repository; nothing saves as a side
// effect of field assignment.
type LOI struct {
	ID         string
	PropertyID string
	CreatedBy  string
	Status     LOIStatus
	Body       LOIBody
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Signer names which party is signing.
type Signer string

const (
	SignerBuyer  Signer = "buyer"
	SignerSeller Signer = "seller"
)

// CreateParams carries the fields for a new letter of intent.
type CreateParams struct {
	PropertyID string
	CreatedBy  string
	Body       LOIBody
}
