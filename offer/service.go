package offer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dealflow/property"
	"dealflow/transaction"
)

var (
	// ErrValidation marks malformed submission input.
	ErrValidation = errors.New("offer: invalid input")
	// ErrPropertyNotFound is returned when the target listing does not exist
	// or is no longer accepting offers.
	ErrPropertyNotFound = errors.New("offer: property not found or not active")
	// ErrSelfOffer signals a buyer bidding on their own listing.
	ErrSelfOffer = errors.New("offer: buyer is the seller of this property")
	// ErrBelowMinimum signals an amount under the listing floor.
	ErrBelowMinimum = errors.New("offer: below minimum")
	// ErrNotSeller signals a response from someone other than the property's seller.
	ErrNotSeller = errors.New("offer: actor is not the seller")
	// ErrNotBuyer signals a withdrawal from someone other than the offer's buyer.
	ErrNotBuyer = errors.New("offer: actor is not the buyer")
	// ErrInvalidAction signals an unknown respond action.
	ErrInvalidAction = errors.New("offer: invalid action")
	// ErrMissingCounterAmount signals a counter without a positive amount.
	ErrMissingCounterAmount = errors.New("offer: counter amount required")
	// ErrInvalidTransition signals an operation not permitted from the current status.
	ErrInvalidTransition = errors.New("offer: invalid status transition")
	// ErrPropertyUnavailable signals a concurrent acceptance won the race.
	ErrPropertyUnavailable = errors.New("offer: property already under contract")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PropertyReader provides the listing fields needed for submission validation.
type PropertyReader interface {
	GetByID(ctx context.Context, id string) (property.Listing, error)
}

// TransactionCreator projects an accepted offer into the transactions domain
// within the acceptance transaction.
type TransactionCreator interface {
	CreateFromOffer(ctx context.Context, tx pgx.Tx, params transaction.CreateFromOfferParams) (transaction.Record, error)
}

const rejectedSellerResponse = "Property sold to another buyer"

type Service struct {
	pool  TxBeginner
	repo  Repository
	props PropertyReader
	txns  TransactionCreator
	now   func() time.Time
	idGen func() string
}

func NewService(pool TxBeginner, repo Repository, props PropertyReader) *Service {
	return &Service{
		pool:  pool,
		repo:  repo,
		props: props,
		now:   time.Now,
		idGen: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithTransactionCreator(txns TransactionCreator) *Service {
	s.txns = txns
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// Submit validates the offer against the listing and records it as pending.
// All business validation happens before any row is written.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Offer, error) {
	if params.PropertyID == "" {
		return Offer{}, fmt.Errorf("%w: property id required", ErrValidation)
	}
	if params.BuyerID == "" {
		return Offer{}, fmt.Errorf("%w: buyer id required", ErrValidation)
	}
	if params.Amount <= 0 {
		return Offer{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if params.EarnestMoney < 0 {
		return Offer{}, fmt.Errorf("%w: earnest money cannot be negative", ErrValidation)
	}

	listing, err := s.props.GetByID(ctx, params.PropertyID)
	if err != nil {
		if errors.Is(err, property.ErrNotFound) {
			return Offer{}, ErrPropertyNotFound
		}
		return Offer{}, err
	}
	if listing.Status != property.StatusActive {
		return Offer{}, ErrPropertyNotFound
	}
	if listing.SellerID == params.BuyerID {
		return Offer{}, ErrSelfOffer
	}

	floor := offerFloor(listing)
	if params.Amount < floor {
		return Offer{}, fmt.Errorf("%w: offer must be at least $%d", ErrBelowMinimum, floor)
	}

	return s.repo.Create(ctx, params)
}

// offerFloor is the standing business rule: the greater of the listing's
// minimum offer and half the list price, rounded up.
func offerFloor(listing property.Listing) int64 {
	half := (listing.ListPrice + 1) / 2
	if listing.MinimumOffer > half {
		return listing.MinimumOffer
	}
	return half
}

func (s *Service) GetByID(ctx context.Context, id string) (Offer, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForProperty(ctx context.Context, actorID, propertyID string) ([]Offer, error) {
	listing, err := s.props.GetByID(ctx, propertyID)
	if err != nil {
		if errors.Is(err, property.ErrNotFound) {
			return nil, ErrPropertyNotFound
		}
		return nil, err
	}
	if listing.SellerID != actorID {
		return nil, ErrNotSeller
	}
	return s.repo.ListForProperty(ctx, propertyID)
}

func (s *Service) ListForBuyer(ctx context.Context, buyerID string) ([]Offer, error) {
	return s.repo.ListForBuyer(ctx, buyerID)
}

// RespondResult bundles the mutated offer with the transaction created on
// acceptance.
type RespondResult struct {
	Offer       Offer
	Transaction *transaction.Record
}

// Respond applies the seller's decision. Acceptance, the cascading rejection
// of sibling offers, the property hold, and the transaction creation all
// commit as one atomic unit.
func (s *Service) Respond(ctx context.Context, params RespondParams) (RespondResult, error) {
	switch params.Action {
	case ActionAccept, ActionReject, ActionCounter:
	default:
		return RespondResult{}, ErrInvalidAction
	}
	if params.Action == ActionCounter && (params.CounterAmount == nil || *params.CounterAmount <= 0) {
		return RespondResult{}, ErrMissingCounterAmount
	}

	// The property id is immutable on an offer, so an unlocked read is safe
	// for resolving which property row to lock.
	peek, err := s.repo.GetByID(ctx, params.OfferID)
	if err != nil {
		return RespondResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RespondResult{}, fmt.Errorf("offer: begin respond tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock ordering: property row before offer rows. Every writer touching
	// the same property's offer set queues on the property lock, including
	// the cascade rejection inside accept.
	sellerID, propertyStatus, err := lockProperty(ctx, tx, peek.PropertyID)
	if err != nil {
		return RespondResult{}, err
	}

	current, err := s.repo.GetForUpdate(ctx, tx, params.OfferID)
	if err != nil {
		return RespondResult{}, err
	}
	if sellerID != params.ActorID {
		return RespondResult{}, ErrNotSeller
	}

	var result RespondResult
	switch params.Action {
	case ActionAccept:
		result, err = s.accept(ctx, tx, current, propertyStatus, params)
	case ActionReject:
		result, err = s.reject(ctx, tx, current, params)
	case ActionCounter:
		result, err = s.counter(ctx, tx, current, params)
	}
	if err != nil {
		return RespondResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RespondResult{}, fmt.Errorf("offer: commit respond: %w", err)
	}
	return result, nil
}

func (s *Service) accept(ctx context.Context, tx pgx.Tx, current Offer, propertyStatus property.Status, params RespondParams) (RespondResult, error) {
	// Idempotent replay: the offer is already accepted, return it along with
	// the transaction the first acceptance created.
	if current.Status == StatusAccepted {
		result := RespondResult{Offer: current}
		if s.txns != nil {
			rec, err := s.txns.CreateFromOffer(ctx, tx, s.createParams(current, params.ActorID))
			if err != nil {
				return RespondResult{}, err
			}
			result.Transaction = &rec
		}
		return result, nil
	}
	if !CanTransition(current.Status, StatusAccepted) {
		return RespondResult{}, ErrInvalidTransition
	}
	if propertyStatus != property.StatusActive {
		return RespondResult{}, ErrPropertyUnavailable
	}

	accepted, err := s.repo.UpdateResponse(ctx, tx, current.ID, UpdateResponseParams{
		Status:         StatusAccepted,
		SellerResponse: params.SellerResponse,
		StampResponded: true,
		StampAccepted:  true,
	})
	if err != nil {
		return RespondResult{}, err
	}

	if _, err := s.repo.RejectSiblings(ctx, tx, current.PropertyID, current.ID, rejectedSellerResponse); err != nil {
		return RespondResult{}, err
	}

	if _, err := tx.Exec(ctx, `UPDATE properties SET status = 'pending', updated_at = get_tx_timestamp() WHERE id = $1`, current.PropertyID); err != nil {
		return RespondResult{}, fmt.Errorf("offer: hold property: %w", err)
	}

	result := RespondResult{Offer: accepted}
	if s.txns != nil {
		rec, err := s.txns.CreateFromOffer(ctx, tx, s.createParams(accepted, params.ActorID))
		if err != nil {
			return RespondResult{}, err
		}
		result.Transaction = &rec

		if err := transaction.AppendActivity(ctx, tx, rec.ID, "OFFER_ACCEPTED", &params.ActorID, map[string]any{
			"offer_id": accepted.ID,
			"amount":   accepted.Amount,
		}); err != nil {
			return RespondResult{}, err
		}
	}

	if err := transaction.EnqueueOutbox(ctx, tx, "offer.accepted", map[string]any{
		"offer_id":    accepted.ID,
		"property_id": accepted.PropertyID,
		"buyer_id":    accepted.BuyerID,
	}); err != nil {
		return RespondResult{}, err
	}

	return result, nil
}

func (s *Service) createParams(o Offer, actorID string) transaction.CreateFromOfferParams {
	return transaction.CreateFromOfferParams{
		OfferID:       o.ID,
		PropertyID:    o.PropertyID,
		BuyerID:       o.BuyerID,
		SellerID:      actorID,
		Price:         o.Amount,
		ReferenceCode: referenceCode(s.idGen()),
		ActorID:       actorID,
	}
}

func (s *Service) reject(ctx context.Context, tx pgx.Tx, current Offer, params RespondParams) (RespondResult, error) {
	if !CanTransition(current.Status, StatusRejected) {
		return RespondResult{}, ErrInvalidTransition
	}
	rejected, err := s.repo.UpdateResponse(ctx, tx, current.ID, UpdateResponseParams{
		Status:         StatusRejected,
		SellerResponse: params.SellerResponse,
		StampResponded: true,
	})
	if err != nil {
		return RespondResult{}, err
	}
	if err := transaction.EnqueueOutbox(ctx, tx, "offer.rejected", map[string]any{
		"offer_id": rejected.ID,
		"buyer_id": rejected.BuyerID,
	}); err != nil {
		return RespondResult{}, err
	}
	return RespondResult{Offer: rejected}, nil
}

func (s *Service) counter(ctx context.Context, tx pgx.Tx, current Offer, params RespondParams) (RespondResult, error) {
	if !CanTransition(current.Status, StatusCountered) {
		return RespondResult{}, ErrInvalidTransition
	}
	countered, err := s.repo.UpdateResponse(ctx, tx, current.ID, UpdateResponseParams{
		Status:         StatusCountered,
		CounterAmount:  params.CounterAmount,
		SellerResponse: params.SellerResponse,
		StampResponded: true,
	})
	if err != nil {
		return RespondResult{}, err
	}
	if err := transaction.EnqueueOutbox(ctx, tx, "offer.countered", map[string]any{
		"offer_id":       countered.ID,
		"buyer_id":       countered.BuyerID,
		"counter_amount": params.CounterAmount,
	}); err != nil {
		return RespondResult{}, err
	}
	return RespondResult{Offer: countered}, nil
}

// Withdraw retracts the buyer's own offer; only live offers can be withdrawn.
func (s *Service) Withdraw(ctx context.Context, offerID, actorID string) (Offer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin withdraw tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if current.BuyerID != actorID {
		return Offer{}, ErrNotBuyer
	}
	if !CanTransition(current.Status, StatusWithdrawn) {
		return Offer{}, ErrInvalidTransition
	}

	withdrawn, err := s.repo.UpdateResponse(ctx, tx, offerID, UpdateResponseParams{
		Status:         StatusWithdrawn,
		StampResponded: true,
	})
	if err != nil {
		return Offer{}, err
	}
	if err := transaction.EnqueueOutbox(ctx, tx, "offer.withdrawn", map[string]any{
		"offer_id":    withdrawn.ID,
		"property_id": withdrawn.PropertyID,
	}); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit withdraw: %w", err)
	}
	return withdrawn, nil
}

func lockProperty(ctx context.Context, tx pgx.Tx, propertyID string) (string, property.Status, error) {
	var (
		sellerID string
		status   property.Status
	)
	const q = `SELECT seller_id, status FROM properties WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, q, propertyID).Scan(&sellerID, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrPropertyNotFound
		}
		return "", "", fmt.Errorf("offer: lock property: %w", err)
	}
	return sellerID, status, nil
}

func referenceCode(id string) string {
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return "DF-" + strings.ToUpper(compact)
}
