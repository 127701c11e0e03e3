package esign

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrValidation marks a webhook payload missing required fields.
var ErrValidation = errors.New("esign: invalid request")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CompletionRepository defines the data access required by the service.
type CompletionRepository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	ExecuteCompletionTx(ctx context.Context, tx pgx.Tx, params ExecuteCompletionParams) error
}

type Service struct {
	pool TxBeginner
	repo CompletionRepository
}

func NewService(pool TxBeginner, repo CompletionRepository) *Service {
	return &Service{pool: pool, repo: repo}
}

// HandleCompletionWebhook applies the envelope completion exactly once. A
// replayed provider event reserves no new key and returns success without
// touching the ledger.
func (s *Service) HandleCompletionWebhook(ctx context.Context, req CompletionRequest) error {
	if req.IdempotencyKey == "" {
		return fmt.Errorf("%w: missing idempotency key", ErrValidation)
	}
	if req.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction id", ErrValidation)
	}
	if _, ok := envelopeTasks[req.EnvelopeKind]; !ok {
		return ErrUnknownEnvelopeKind
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("esign: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIdempotencyKey(ctx, tx, req.IdempotencyKey); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil
		}
		return err
	}

	if err := s.repo.ExecuteCompletionTx(ctx, tx, ExecuteCompletionParams{
		TransactionID: req.TransactionID,
		EnvelopeID:    req.EnvelopeID,
		EnvelopeKind:  req.EnvelopeKind,
		ActorID:       req.ActorID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("esign: commit tx: %w", err)
	}

	return nil
}
