package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/esign"
	"dealflow/notify"
	"dealflow/offer"
	"dealflow/transaction"
)

// Actors drive the workflow through the real services under contention.
// Individual operations are allowed to fail (rejected transitions, lock
// conflicts, chaos-killed backends); the oracles judge the committed state.

// OfferChurner keeps submitting fresh offers while the property is active so
// acceptors always have siblings to cascade-reject.
func OfferChurner(ctx context.Context, svc *offer.Service, propertyID string, buyerIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		buyer := buyerIDs[rand.Intn(len(buyerIDs))]
		_, _ = svc.Submit(ctx, offer.SubmitParams{
			PropertyID:    propertyID,
			BuyerID:       buyer,
			Amount:        400000 + rand.Int63n(100000),
			EarnestMoney:  5000,
			FinancingType: "conventional",
		})
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// RivalAcceptor races other acceptors to accept a pending offer. At most one
// may win per property hold; the rest must see the property unavailable.
func RivalAcceptor(ctx context.Context, pool *pgxpool.Pool, svc *offer.Service, propertyID, sellerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var offerID string
		err := pool.QueryRow(ctx,
			`SELECT id FROM offers WHERE property_id = $1 AND status IN ('pending','countered') ORDER BY random() LIMIT 1`,
			propertyID).Scan(&offerID)
		if err == nil {
			_, _ = svc.Respond(ctx, offer.RespondParams{
				OfferID: offerID,
				ActorID: sellerID,
				Action:  offer.ActionAccept,
			})
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Canceller occasionally cancels the live transaction, releasing the property
// back to active so the acceptance race restarts.
func Canceller(ctx context.Context, pool *pgxpool.Pool, svc *transaction.Service, propertyID, sellerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(4) == 0 {
			var txnID string
			err := pool.QueryRow(ctx,
				`SELECT id FROM transactions WHERE property_id = $1 AND status NOT IN ('completed','cancelled') LIMIT 1`,
				propertyID).Scan(&txnID)
			if err == nil {
				_, _ = svc.Cancel(ctx, transaction.Actor{UserID: sellerID}, txnID, "stress cycle")
			}
		}
		time.Sleep(time.Duration(150+rand.Intn(100)) * time.Millisecond)
	}
}

// GateRunner completes random gate tasks for the live transaction, letting
// the phase gate advance it one step at a time.
func GateRunner(ctx context.Context, pool *pgxpool.Pool, repo *transaction.Repository, propertyID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var txnID string
		var phase transaction.Phase
		err := pool.QueryRow(ctx,
			`SELECT id, phase FROM transactions WHERE property_id = $1 AND status NOT IN ('completed','cancelled') LIMIT 1`,
			propertyID).Scan(&txnID, &phase)
		if err == nil {
			if gate := transaction.GateTasks(phase); len(gate) > 0 {
				task := gate[rand.Intn(len(gate))]
				if tx, err := pool.Begin(ctx); err == nil {
					if _, err := repo.CompleteStep(ctx, tx, txnID, task, nil); err == nil {
						_ = tx.Commit(ctx)
					} else {
						_ = tx.Rollback(ctx)
					}
				}
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// DocumentClerk jitters the pending documents counter. Decrements clamp at
// zero; the counter must never go negative regardless of interleaving.
func DocumentClerk(ctx context.Context, pool *pgxpool.Pool, propertyID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var txnID string
		err := pool.QueryRow(ctx,
			`SELECT id FROM transactions WHERE property_id = $1 AND status NOT IN ('completed','cancelled') LIMIT 1`,
			propertyID).Scan(&txnID)
		if err == nil {
			_, _ = pool.Exec(ctx,
				`INSERT INTO underwriting_status (transaction_id) VALUES ($1) ON CONFLICT DO NOTHING`, txnID)
			delta := rand.Intn(4) - 2
			_, _ = pool.Exec(ctx,
				`UPDATE underwriting_status
				 SET pending_documents = GREATEST(pending_documents + $2, 0), updated_at = now()
				 WHERE transaction_id = $1`, txnID, delta)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// OutboxDrainer drains the outbox through the dispatcher's batch path.
func OutboxDrainer(ctx context.Context, d *notify.Dispatcher, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = d.DrainOnce(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// WebhookReplayer replays the same e-sign completion event over and over.
// The idempotency table must keep the ledger effect single.
func WebhookReplayer(ctx context.Context, pool *pgxpool.Pool, svc *esign.Service, propertyID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var txnID string
		err := pool.QueryRow(ctx,
			`SELECT id FROM transactions WHERE property_id = $1 AND status NOT IN ('completed','cancelled') LIMIT 1`,
			propertyID).Scan(&txnID)
		if err == nil {
			_ = svc.HandleCompletionWebhook(ctx, esign.CompletionRequest{
				TransactionID:  txnID,
				EnvelopeID:     fmt.Sprintf("env-%s", txnID),
				EnvelopeKind:   esign.EnvelopePurchaseAgreement,
				IdempotencyKey: fmt.Sprintf("stress-evt-%s", txnID),
			})
		}
		time.Sleep(time.Duration(60+rand.Intn(60)) * time.Millisecond)
	}
}
