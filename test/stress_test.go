package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"dealflow/esign"
	"dealflow/notify"
	"dealflow/offer"
	"dealflow/property"
	"dealflow/test/actors"
	"dealflow/test/chaos"
	"dealflow/test/infra"
	"dealflow/test/oracles"
	"dealflow/transaction"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestDealflowConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in short mode")
	}
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	usedShared := *flDSN != ""
	pgC, dsn, err := infra.StartPostgres16(ctx, *flDSN)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool)

	txnRepo := transaction.NewRepository(pool)
	txnSvc := transaction.NewService(pool, txnRepo)
	offerSvc := offer.NewService(pool, offer.NewRepository(pool), property.NewRepository(pool)).
		WithTransactionCreator(txnRepo)
	esignSvc := esign.NewService(pool, esign.NewRepository(txnRepo))
	dispatcher := notify.NewDispatcher(pool, notify.NewStore(pool), notify.LogNotifier{}, time.Second)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error {
			return actors.OfferChurner(ctx2, offerSvc, seedData.propertyID, seedData.buyerIDs, stop)
		})
		g.Go(func() error {
			return actors.RivalAcceptor(ctx2, pool, offerSvc, seedData.propertyID, seedData.sellerID, stop)
		})
	}
	g.Go(func() error { return actors.Canceller(ctx2, pool, txnSvc, seedData.propertyID, seedData.sellerID, stop) })
	g.Go(func() error { return actors.GateRunner(ctx2, pool, txnRepo, seedData.propertyID, stop) })
	g.Go(func() error { return actors.DocumentClerk(ctx2, pool, seedData.propertyID, stop) })
	g.Go(func() error { return actors.OutboxDrainer(ctx2, dispatcher, stop) })
	g.Go(func() error { return actors.WebhookReplayer(ctx2, pool, esignSvc, seedData.propertyID, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

type seedIDs struct {
	sellerID   string
	buyerIDs   []string
	propertyID string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs

	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, role) VALUES ($1, 'Stress Seller', 'seller') RETURNING id`,
		fmt.Sprintf("seller%d@example.com", rand.Int63())).Scan(&s.sellerID); err != nil {
		t.Fatalf("seed seller: %v", err)
	}

	for i := 0; i < 4; i++ {
		var buyerID string
		if err := pool.QueryRow(ctx,
			`INSERT INTO users (email, full_name, role) VALUES ($1, 'Stress Buyer', 'buyer') RETURNING id`,
			fmt.Sprintf("buyer%d-%d@example.com", i, rand.Int63())).Scan(&buyerID); err != nil {
			t.Fatalf("seed buyer: %v", err)
		}
		s.buyerIDs = append(s.buyerIDs, buyerID)
	}

	if err := pool.QueryRow(ctx,
		`INSERT INTO properties (seller_id, address, region, list_price, minimum_offer, status)
         VALUES ($1, '1 Stress Way', 'midwest', 500000, 250000, 'active') RETURNING id`,
		s.sellerID).Scan(&s.propertyID); err != nil {
		t.Fatalf("seed property: %v", err)
	}

	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"offers", `SELECT id, property_id, status, submitted_at, accepted_at FROM offers ORDER BY submitted_at DESC LIMIT 50`},
		{"transactions", `SELECT id, property_id, status, phase, progress FROM transactions ORDER BY created_at DESC LIMIT 50`},
		{"task_values", `SELECT transaction_id, task_id, status, updated_at FROM task_values ORDER BY updated_at DESC LIMIT 50`},
		{"activity_log", `SELECT id, transaction_id, type, created_at FROM activity_log ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
