package offer

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCountered Status = "countered"
	StatusWithdrawn Status = "withdrawn"
)

// transitions is the single source of truth for the offer state machine.
// Accepted, rejected, and withdrawn are terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusRejected, StatusCountered, StatusWithdrawn},
	StatusCountered: {StatusAccepted, StatusRejected, StatusWithdrawn},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Offer mirrors the offers table.
type Offer struct {
	ID             string
	PropertyID     string
	BuyerID        string
	Amount         int64
	EarnestMoney   int64
	FinancingType  string
	Contingencies  []string
	Status         Status
	CounterAmount  *int64
	SellerResponse *string
	SubmittedAt    time.Time
	RespondedAt    *time.Time
	AcceptedAt     *time.Time
}

type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionCounter Action = "counter"
)

// SubmitParams enumerates the fields required to submit a new offer.
type SubmitParams struct {
	PropertyID    string
	BuyerID       string
	Amount        int64
	EarnestMoney  int64
	FinancingType string
	Contingencies []string
}

// RespondParams carries the seller's response to an offer.
type RespondParams struct {
	OfferID        string
	ActorID        string
	Action         Action
	CounterAmount  *int64
	SellerResponse *string
}
