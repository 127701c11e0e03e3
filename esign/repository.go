package esign

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dealflow/transaction"
)

var (
	// ErrDuplicateIdempotencyKey signals the key was already consumed; the
	// webhook is a replay and its effects are already committed.
	ErrDuplicateIdempotencyKey = errors.New("esign: duplicate idempotency key")
	// ErrUnknownEnvelopeKind signals a webhook for a document package the
	// workflow does not track.
	ErrUnknownEnvelopeKind = errors.New("esign: unknown envelope kind")
)

// envelopeTasks maps each signable package to the ledger task it completes.
var envelopeTasks = map[EnvelopeKind]string{
	EnvelopePurchaseAgreement: transaction.TaskPurchaseAgreementSigned,
	EnvelopeClosingPackage:    transaction.TaskClosingDocsSigned,
}

// TaskCompleter marks ledger tasks complete within the caller's transaction.
type TaskCompleter interface {
	CompleteStep(ctx context.Context, tx pgx.Tx, transactionID, taskName string, actorID *string) (transaction.PhaseResult, error)
}

type Repository struct {
	txns TaskCompleter
}

func NewRepository(txns TaskCompleter) *Repository {
	return &Repository{txns: txns}
}

// InsertIdempotencyKey reserves the key inside the active transaction. A
// unique violation means the event was already processed.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("esign: empty idempotency key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("esign: insert idempotency key: %w", err)
	}

	return nil
}

// ExecuteCompletionTx marks the envelope's ledger task complete and records
// the signing event, all inside the caller's transaction.
func (r *Repository) ExecuteCompletionTx(ctx context.Context, tx pgx.Tx, params ExecuteCompletionParams) error {
	taskName, ok := envelopeTasks[params.EnvelopeKind]
	if !ok {
		return ErrUnknownEnvelopeKind
	}

	if _, err := r.txns.CompleteStep(ctx, tx, params.TransactionID, taskName, params.ActorID); err != nil {
		return err
	}

	if err := transaction.AppendActivity(ctx, tx, params.TransactionID, "ESIGN_COMPLETED", params.ActorID, map[string]any{
		"envelope_id":   params.EnvelopeID,
		"envelope_kind": params.EnvelopeKind,
	}); err != nil {
		return err
	}

	return transaction.EnqueueOutbox(ctx, tx, "esign.completed", map[string]any{
		"transaction_id": params.TransactionID,
		"envelope_id":    params.EnvelopeID,
		"envelope_kind":  params.EnvelopeKind,
	})
}
