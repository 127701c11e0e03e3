package transaction

import "time"

type Status string

const (
	StatusPending      Status = "pending"
	StatusActive       Status = "active"
	StatusClearToClose Status = "clear_to_close"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
)

// Record mirrors the transactions table: the aggregate root for a deal.
type Record struct {
	ID            string
	ReferenceCode string
	PropertyID    string
	OfferID       string
	BuyerID       string
	SellerID      string
	AgentID       *string
	Price         int64
	Commission    *int64
	Status        Status
	Phase         Phase
	Progress      int
	ClosingDate   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Task is a workflow step template seeded once per deployment.
type Task struct {
	ID      int
	Name    string
	Title   string
	Ordinal int
}

// TaskValue is the per-transaction completion instance of a Task. The
// (transaction, task) pair is unique; an absent row reads as pending.
type TaskValue struct {
	TransactionID string
	TaskID        int
	Name          string
	Title         string
	Ordinal       int
	Status        TaskStatus
	UpdatedAt     *time.Time
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
)

// Summary is the ledger completion roll-up for one transaction.
type Summary struct {
	Completed  int
	Total      int
	Percentage int
}

// UpdateStatusParams carries a partial update; nil fields retain the stored
// value (coalesce semantics).
type UpdateStatusParams struct {
	Status      *Status
	Phase       *Phase
	Progress    *int
	ClosingDate *time.Time
}

// CreateFromOfferParams enumerates the fields required to project an accepted
// offer into the transactions domain within a single database transaction.
type CreateFromOfferParams struct {
	OfferID       string
	PropertyID    string
	BuyerID       string
	SellerID      string
	AgentID       *string
	Price         int64
	ReferenceCode string
	ActorID       string
}

// PhaseResult reports the outcome of one gate evaluation.
type PhaseResult struct {
	Phase    Phase
	Status   Status
	Advanced bool
}
