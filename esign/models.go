package esign

// EnvelopeKind identifies which document package a completed envelope covers.
type EnvelopeKind string

const (
	// EnvelopePurchaseAgreement is the buyer/seller purchase agreement.
	EnvelopePurchaseAgreement EnvelopeKind = "purchase_agreement"
	// EnvelopeClosingPackage is the full closing document set.
	EnvelopeClosingPackage EnvelopeKind = "closing_package"
)

// CompletionRequest captures the provider webhook payload normalized for the
// service. The idempotency key is the provider's event id.
type CompletionRequest struct {
	TransactionID  string
	EnvelopeID     string
	EnvelopeKind   EnvelopeKind
	IdempotencyKey string
	ActorID        *string
}

// ExecuteCompletionParams carries the completion into the repository once the
// idempotency key is reserved.
type ExecuteCompletionParams struct {
	TransactionID string
	EnvelopeID    string
	EnvelopeKind  EnvelopeKind
	ActorID       *string
}
