package closing

import "time"

type DisclosureStatus string

const (
	DisclosureDraft        DisclosureStatus = "draft"
	DisclosureIssued       DisclosureStatus = "issued"
	DisclosureAcknowledged DisclosureStatus = "acknowledged"
)

// Disclosure mirrors the closing_disclosures table, one row per transaction.
type Disclosure struct {
	ID             string
	TransactionID  string
	Status         DisclosureStatus
	DocumentPath   *string
	WireBank       string
	WireRouting    string
	WireAccount    string
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Fee is one line item on the disclosure. Discrepancy is the signed
// difference actual - estimated.
type Fee struct {
	ID              string
	DisclosureID    string
	FeeItem         string
	EstimatedAmount int64
	ActualAmount    int64
	Discrepancy     int64
	Notes           string
	CreatedAt       time.Time
}

// LoanEstimate mirrors the loan_estimates table.
type LoanEstimate struct {
	ID             string
	TransactionID  string
	LoanAmount     int64
	InterestRate   float64
	MonthlyPayment int64
	CashToClose    int64
	CreatedAt      time.Time
}

// DisclosurePacket is the aggregate the closing table review screen reads:
// the disclosure with its fee lines, the loan estimate, and wire
// instructions in one fetch.
type DisclosurePacket struct {
	Disclosure   Disclosure
	Fees         []Fee
	LoanEstimate *LoanEstimate
}

// DiscrepancyParams flags one fee line whose actual differs from estimate.
type DiscrepancyParams struct {
	FeeItem         string
	EstimatedAmount int64
	ActualAmount    int64
	Notes           string
}

type DisbursementStatus string

const (
	DisbursementPending    DisbursementStatus = "pending"
	DisbursementInProgress DisbursementStatus = "in_progress"
	DisbursementFunded     DisbursementStatus = "funded"
)

// Disbursement mirrors the disbursements table.
type Disbursement struct {
	ID                 string
	TransactionID      string
	Status             DisbursementStatus
	KeysDelivered      bool
	DocumentsDelivered bool
	FundedAt           *time.Time
	UpdatedAt          time.Time
}

// FundingParams is a partial update; nil fields keep their prior value.
type FundingParams struct {
	Status             *DisbursementStatus
	KeysDelivered      *bool
	DocumentsDelivered *bool
}

type RecordingStatus string

const (
	RecordingInitiated RecordingStatus = "initiated"
	RecordingRecorded  RecordingStatus = "recorded"
)

// RecordingLog mirrors the recording_logs table.
type RecordingLog struct {
	ID              string
	TransactionID   string
	CountyReference string
	Status          RecordingStatus
	InitiatedAt     time.Time
	RecordedAt      *time.Time
}

// WalkThrough mirrors the walk_throughs table.
type WalkThrough struct {
	ID            string
	TransactionID string
	ScheduledAt   *time.Time
	Completed     bool
	Notes         string
	UpdatedAt     time.Time
}

// WalkThroughParams is a partial update; nil fields keep their prior value.
type WalkThroughParams struct {
	ScheduledAt *time.Time
	Completed   *bool
	Notes       *string
}

// MovingPreparation mirrors the moving_preparations table.
type MovingPreparation struct {
	ID                   string
	TransactionID        string
	UtilitiesTransferred bool
	AddressChangeFiled   bool
	MoversBooked         bool
	Completed            bool
	UpdatedAt            time.Time
}

// MovingParams is a partial update; nil fields keep their prior value.
type MovingParams struct {
	UtilitiesTransferred *bool
	AddressChangeFiled   *bool
	MoversBooked         *bool
	Completed            *bool
}
