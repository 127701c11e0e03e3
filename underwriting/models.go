package underwriting

import "time"

type Status string

const (
	StatusSubmitted           Status = "submitted"
	StatusConditionsRequested Status = "conditions_requested"
	StatusClearToClose        Status = "clear_to_close"
	StatusApproved            Status = "approved"
)

// StatusRecord mirrors the underwriting_status table, one row per transaction.
type StatusRecord struct {
	TransactionID    string
	Status           Status
	PendingDocuments int
	ClearToCloseDate *time.Time
	LoanApprovalDate *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type ConditionStatus string

const (
	ConditionPending   ConditionStatus = "pending"
	ConditionSatisfied ConditionStatus = "satisfied"
)

// Condition is a lender-requested item blocking clear-to-close.
type Condition struct {
	ID            string
	TransactionID string
	Title         string
	Description   string
	DocumentType  string
	Status        ConditionStatus
	CreatedAt     time.Time
	SatisfiedAt   *time.Time
}

// Document is an uploaded response to a condition (or a general submission).
type Document struct {
	ID            string
	TransactionID string
	ConditionID   *string
	Name          string
	UploadedAt    time.Time
}

// ConditionParams carries the fields for a new condition.
type ConditionParams struct {
	Title        string
	Description  string
	DocumentType string
}

// DocumentInput names one submitted document, optionally tied to a condition
// it satisfies.
type DocumentInput struct {
	Name        string
	ConditionID *string
}

// EvaluationResult reports the outcome of a clear-to-close evaluation.
type EvaluationResult struct {
	Status            Status
	Advanced          bool
	ClearToClose      bool
	LoanApproved      bool
	PendingConditions int
	PendingDocuments  int
	ClearToCloseDate  *time.Time
	LoanApprovalDate  *time.Time
}
