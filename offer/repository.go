package offer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no offer row exists for the identifier.
var ErrNotFound = errors.New("offer: not found")

type Repository interface {
	Create(ctx context.Context, params SubmitParams) (Offer, error)
	GetByID(ctx context.Context, id string) (Offer, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Offer, error)
	ListForProperty(ctx context.Context, propertyID string) ([]Offer, error)
	ListForBuyer(ctx context.Context, buyerID string) ([]Offer, error)
	UpdateResponse(ctx context.Context, tx pgx.Tx, id string, params UpdateResponseParams) (Offer, error)
	RejectSiblings(ctx context.Context, tx pgx.Tx, propertyID, acceptedOfferID, sellerResponse string) (int64, error)
}

// UpdateResponseParams captures a single state-machine step applied to one row.
type UpdateResponseParams struct {
	Status         Status
	CounterAmount  *int64
	SellerResponse *string
	StampAccepted  bool
	StampResponded bool
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const offerColumns = `id, property_id, buyer_id, amount, earnest_money, financing_type, contingencies, status, counter_amount, seller_response, submitted_at, responded_at, accepted_at`

func (r *PGRepository) Create(ctx context.Context, params SubmitParams) (Offer, error) {
	const query = `
		INSERT INTO offers (property_id, buyer_id, amount, earnest_money, financing_type, contingencies, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING ` + offerColumns

	contingencies := params.Contingencies
	if contingencies == nil {
		contingencies = []string{}
	}
	row := r.pool.QueryRow(ctx, query,
		params.PropertyID,
		params.BuyerID,
		params.Amount,
		params.EarnestMoney,
		params.FinancingType,
		contingencies,
	)
	o, err := scanOffer(row)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: create: %w", err)
	}
	return o, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Offer, error) {
	const query = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`
	o, err := scanOffer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: get by id: %w", err)
	}
	return o, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Offer, error) {
	const query = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1 FOR UPDATE`
	o, err := scanOffer(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: get for update: %w", err)
	}
	return o, nil
}

func (r *PGRepository) ListForProperty(ctx context.Context, propertyID string) ([]Offer, error) {
	const query = `SELECT ` + offerColumns + ` FROM offers WHERE property_id = $1 ORDER BY submitted_at DESC`
	return r.list(ctx, query, propertyID)
}

func (r *PGRepository) ListForBuyer(ctx context.Context, buyerID string) ([]Offer, error) {
	const query = `SELECT ` + offerColumns + ` FROM offers WHERE buyer_id = $1 ORDER BY submitted_at DESC`
	return r.list(ctx, query, buyerID)
}

func (r *PGRepository) list(ctx context.Context, query string, arg any) ([]Offer, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("offer: list: %w", err)
	}
	defer rows.Close()

	out := make([]Offer, 0, 8)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) UpdateResponse(ctx context.Context, tx pgx.Tx, id string, params UpdateResponseParams) (Offer, error) {
	const query = `
		UPDATE offers
		SET status = $2,
		    counter_amount = COALESCE($3, counter_amount),
		    seller_response = COALESCE($4, seller_response),
		    responded_at = CASE WHEN $5 THEN get_tx_timestamp() ELSE responded_at END,
		    accepted_at = CASE WHEN $6 THEN COALESCE(accepted_at, get_tx_timestamp()) ELSE accepted_at END
		WHERE id = $1
		RETURNING ` + offerColumns

	o, err := scanOffer(tx.QueryRow(ctx, query, id, params.Status, params.CounterAmount, params.SellerResponse, params.StampResponded, params.StampAccepted))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: update response: %w", err)
	}
	return o, nil
}

// RejectSiblings force-rejects every still-live offer on the property other
// than the accepted one, inside the caller's transaction.
func (r *PGRepository) RejectSiblings(ctx context.Context, tx pgx.Tx, propertyID, acceptedOfferID, sellerResponse string) (int64, error) {
	const query = `
		UPDATE offers
		SET status = 'rejected',
		    seller_response = $3,
		    responded_at = get_tx_timestamp()
		WHERE property_id = $1
		  AND id <> $2
		  AND status IN ('pending','countered')
	`
	tag, err := tx.Exec(ctx, query, propertyID, acceptedOfferID, sellerResponse)
	if err != nil {
		return 0, fmt.Errorf("offer: reject siblings: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	return o, row.Scan(
		&o.ID,
		&o.PropertyID,
		&o.BuyerID,
		&o.Amount,
		&o.EarnestMoney,
		&o.FinancingType,
		&o.Contingencies,
		&o.Status,
		&o.CounterAmount,
		&o.SellerResponse,
		&o.SubmittedAt,
		&o.RespondedAt,
		&o.AcceptedAt,
	)
}
