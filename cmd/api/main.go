package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dealflow/auth"
	"dealflow/closing"
	"dealflow/config"
	"dealflow/db"
	"dealflow/document"
	"dealflow/esign"
	"dealflow/notify"
	"dealflow/offer"
	"dealflow/property"
	"dealflow/transaction"
	"dealflow/underwriting"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	txnRepo := transaction.NewRepository(pool)
	propertyRepo := property.NewRepository(pool)

	server := &Server{
		authService:         auth.NewService(auth.NewRepository(pool), cfg.JWTSecret),
		propertyService:     property.NewService(propertyRepo),
		offerService:        offer.NewService(pool, offer.NewRepository(pool), propertyRepo).WithTransactionCreator(txnRepo),
		transactionService:  transaction.NewService(pool, txnRepo),
		underwritingService: underwriting.NewService(pool, underwriting.NewRepository(pool), txnRepo),
		esignService:        esign.NewService(pool, esign.NewRepository(txnRepo)),
		closingService:      closing.NewService(pool, closing.NewRepository(pool), txnRepo, cfg.UploadDir),
		loiService:          document.NewService(pool, document.NewRepository(pool)),
	}

	dispatcher := notify.NewDispatcher(pool, notify.NewStore(pool), notify.LogNotifier{}, cfg.OutboxInterval).
		WithBatchSize(cfg.OutboxBatchSize)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.routes(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
