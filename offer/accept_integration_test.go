package offer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/property"
	"dealflow/transaction"
)

func TestAcceptCascadesAndCreatesTransaction(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	requiredTables := []string{
		"users",
		"properties",
		"offers",
		"transactions",
		"activity_log",
		"outbox",
	}
	for _, tbl := range requiredTables {
		if !tableExists(ctx, pool, tbl) {
			t.Skipf("table %s does not exist; ensure migrations are applied", tbl)
		}
	}

	mustInsert := func(query string, args ...any) string {
		var id string
		if err := pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			t.Fatalf("seed statement failed: %v", err)
		}
		return id
	}

	nonce := time.Now().UnixNano()
	sellerID := mustInsert(`INSERT INTO users (email, full_name, role) VALUES ($1, 'Selma Seller', 'seller') RETURNING id`,
		fmt.Sprintf("seller+%d@example.com", nonce))
	buyerA := mustInsert(`INSERT INTO users (email, full_name, role) VALUES ($1, 'Bart Buyer', 'buyer') RETURNING id`,
		fmt.Sprintf("buyer-a+%d@example.com", nonce))
	buyerB := mustInsert(`INSERT INTO users (email, full_name, role) VALUES ($1, 'Beth Buyer', 'buyer') RETURNING id`,
		fmt.Sprintf("buyer-b+%d@example.com", nonce))

	propertyID := mustInsert(`
        INSERT INTO properties (seller_id, address, region, list_price, minimum_offer, status)
        VALUES ($1, '77 Elm Street', 'northeast', 500000, 250000, 'active')
        RETURNING id
    `, sellerID)

	winnerID := mustInsert(`
        INSERT INTO offers (property_id, buyer_id, amount, earnest_money, status)
        VALUES ($1, $2, 480000, 10000, 'pending')
        RETURNING id
    `, propertyID, buyerA)
	rivalID := mustInsert(`
        INSERT INTO offers (property_id, buyer_id, amount, earnest_money, status)
        VALUES ($1, $2, 460000, 8000, 'pending')
        RETURNING id
    `, propertyID, buyerB)

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'property_id' = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM activity_log WHERE transaction_id IN (SELECT id FROM transactions WHERE property_id = $1)`, propertyID)
		pool.Exec(ctx2, `DELETE FROM task_values WHERE transaction_id IN (SELECT id FROM transactions WHERE property_id = $1)`, propertyID)
		pool.Exec(ctx2, `DELETE FROM transactions WHERE property_id = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM offers WHERE property_id = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM properties WHERE id = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2, $3)`, sellerID, buyerA, buyerB)
	})

	service := NewService(pool, NewRepository(pool), property.NewRepository(pool)).
		WithTransactionCreator(transaction.NewRepository(pool))

	result, err := service.Respond(ctx, RespondParams{
		OfferID: winnerID,
		ActorID: sellerID,
		Action:  ActionAccept,
	})
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if result.Offer.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", result.Offer.Status)
	}
	if result.Offer.AcceptedAt == nil {
		t.Fatalf("expected accepted_at stamped")
	}
	if result.Transaction == nil {
		t.Fatalf("expected transaction created on acceptance")
	}
	if !strings.HasPrefix(result.Transaction.ReferenceCode, "DF-") {
		t.Fatalf("unexpected reference code %q", result.Transaction.ReferenceCode)
	}
	if result.Transaction.Price != 480000 {
		t.Fatalf("expected transaction price 480000, got %d", result.Transaction.Price)
	}

	var rivalStatus string
	if err := pool.QueryRow(ctx, `SELECT status FROM offers WHERE id = $1`, rivalID).Scan(&rivalStatus); err != nil {
		t.Fatalf("inspect rival: %v", err)
	}
	if rivalStatus != "rejected" {
		t.Fatalf("expected rival rejected, got %s", rivalStatus)
	}

	var propertyStatus string
	if err := pool.QueryRow(ctx, `SELECT status FROM properties WHERE id = $1`, propertyID).Scan(&propertyStatus); err != nil {
		t.Fatalf("inspect property: %v", err)
	}
	if propertyStatus != "pending" {
		t.Fatalf("expected property pending, got %s", propertyStatus)
	}

	var activityCount int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activity_log WHERE transaction_id = $1 AND type = 'OFFER_ACCEPTED'`,
		result.Transaction.ID).Scan(&activityCount); err != nil {
		t.Fatalf("count activity: %v", err)
	}
	if activityCount != 1 {
		t.Fatalf("expected one OFFER_ACCEPTED activity, got %d", activityCount)
	}

	var outboxCount int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE topic = 'offer.accepted' AND payload->>'offer_id' = $1`,
		winnerID).Scan(&outboxCount); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outboxCount != 1 {
		t.Fatalf("expected one outbox message, got %d", outboxCount)
	}

	// Idempotent replay returns the same transaction.
	replay, err := service.Respond(ctx, RespondParams{
		OfferID: winnerID,
		ActorID: sellerID,
		Action:  ActionAccept,
	})
	if err != nil {
		t.Fatalf("idempotent accept: %v", err)
	}
	if replay.Offer.Status != StatusAccepted {
		t.Fatalf("expected accepted after replay, got %s", replay.Offer.Status)
	}
	if replay.Transaction == nil || replay.Transaction.ID != result.Transaction.ID {
		t.Fatalf("expected same transaction on replay")
	}
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, name string) bool {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists); err != nil {
		return false
	}
	return exists
}
