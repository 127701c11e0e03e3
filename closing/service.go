package closing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"

	"dealflow/transaction"
)

var (
	// ErrValidation marks malformed closing input.
	ErrValidation = errors.New("closing: invalid input")
	// ErrFeeItemRequired signals a discrepancy flag without a fee item name.
	ErrFeeItemRequired = errors.New("closing: fee item required")
	// ErrEmptyDocument signals an upload with no content.
	ErrEmptyDocument = errors.New("closing: empty document")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TaskCompleter marks ledger tasks complete within the caller's transaction.
type TaskCompleter interface {
	CompleteStep(ctx context.Context, tx pgx.Tx, transactionID, taskName string, actorID *string) (transaction.PhaseResult, error)
}

type Service struct {
	pool      TxBeginner
	repo      Repository
	txns      TaskCompleter
	uploadDir string
}

func NewService(pool TxBeginner, repo Repository, txns TaskCompleter, uploadDir string) *Service {
	return &Service{pool: pool, repo: repo, txns: txns, uploadDir: uploadDir}
}

// GetDisclosure returns the aggregate the closing review screen needs: the
// disclosure row with fee lines, the loan estimate, and wire instructions.
func (s *Service) GetDisclosure(ctx context.Context, transactionID string) (DisclosurePacket, error) {
	return s.repo.GetPacket(ctx, transactionID)
}

// UploadDocument stores the disclosure file on disk, then records its path.
// The file write happens before the database transaction so a failed write
// leaves no dangling path.
func (s *Service) UploadDocument(ctx context.Context, transactionID, actorID, filename string, content io.Reader) (Disclosure, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return Disclosure{}, fmt.Errorf("%w: invalid filename", ErrValidation)
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return Disclosure{}, fmt.Errorf("closing: create upload dir: %w", err)
	}
	path := filepath.Join(s.uploadDir, transactionID+"_"+name)
	f, err := os.Create(path)
	if err != nil {
		return Disclosure{}, fmt.Errorf("closing: create file: %w", err)
	}
	written, err := io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return Disclosure{}, fmt.Errorf("closing: write file: %w", err)
	}
	if written == 0 {
		os.Remove(path)
		return Disclosure{}, ErrEmptyDocument
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Disclosure{}, fmt.Errorf("closing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.EnsureDisclosure(ctx, tx, transactionID); err != nil {
		return Disclosure{}, err
	}
	d, err := s.repo.SetDocumentPath(ctx, tx, transactionID, path)
	if err != nil {
		return Disclosure{}, err
	}

	if err := transaction.AppendActivity(ctx, tx, transactionID, "DISCLOSURE_UPLOADED", &actorID, map[string]any{
		"filename": name,
	}); err != nil {
		return Disclosure{}, err
	}
	if err := transaction.EnqueueOutbox(ctx, tx, "closing.disclosure_uploaded", map[string]any{
		"transaction_id": transactionID,
	}); err != nil {
		return Disclosure{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Disclosure{}, fmt.Errorf("closing: commit upload: %w", err)
	}
	return d, nil
}

// FlagDiscrepancy records a fee line whose actual amount differs from the
// estimate. The stored discrepancy is signed: actual minus estimated.
func (s *Service) FlagDiscrepancy(ctx context.Context, transactionID, actorID string, params DiscrepancyParams) (Fee, error) {
	if strings.TrimSpace(params.FeeItem) == "" {
		return Fee{}, ErrFeeItemRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Fee{}, fmt.Errorf("closing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.EnsureDisclosure(ctx, tx, transactionID)
	if err != nil {
		return Fee{}, err
	}
	fee, err := s.repo.InsertFee(ctx, tx, d.ID, params)
	if err != nil {
		return Fee{}, err
	}

	if err := transaction.AppendActivity(ctx, tx, transactionID, "FEE_DISCREPANCY_FLAGGED", &actorID, map[string]any{
		"fee_item":    fee.FeeItem,
		"discrepancy": fee.Discrepancy,
	}); err != nil {
		return Fee{}, err
	}
	if err := transaction.EnqueueOutbox(ctx, tx, "closing.discrepancy_flagged", map[string]any{
		"transaction_id": transactionID,
		"fee_item":       fee.FeeItem,
		"discrepancy":    fee.Discrepancy,
	}); err != nil {
		return Fee{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Fee{}, fmt.Errorf("closing: commit discrepancy: %w", err)
	}
	return fee, nil
}

// Acknowledge records the buyer's sign-off on the disclosure and completes
// the matching ledger task, letting the phase gate advance.
func (s *Service) Acknowledge(ctx context.Context, transactionID, actorID string) (Disclosure, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Disclosure{}, fmt.Errorf("closing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.EnsureDisclosure(ctx, tx, transactionID); err != nil {
		return Disclosure{}, err
	}
	d, err := s.repo.Acknowledge(ctx, tx, transactionID)
	if err != nil {
		return Disclosure{}, err
	}

	if _, err := s.txns.CompleteStep(ctx, tx, transactionID, transaction.TaskDisclosureAcknowledged, &actorID); err != nil {
		return Disclosure{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Disclosure{}, fmt.Errorf("closing: commit acknowledge: %w", err)
	}
	return d, nil
}

// UpdateFunding applies a partial disbursement update. Reaching funded
// completes the funding ledger task.
func (s *Service) UpdateFunding(ctx context.Context, transactionID, actorID string, params FundingParams) (Disbursement, error) {
	if params.Status != nil {
		switch *params.Status {
		case DisbursementPending, DisbursementInProgress, DisbursementFunded:
		default:
			return Disbursement{}, fmt.Errorf("%w: unknown disbursement status %q", ErrValidation, *params.Status)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Disbursement{}, fmt.Errorf("closing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.UpdateDisbursement(ctx, tx, transactionID, params)
	if err != nil {
		return Disbursement{}, err
	}

	if d.Status == DisbursementFunded {
		if _, err := s.txns.CompleteStep(ctx, tx, transactionID, transaction.TaskFundingConfirmed, &actorID); err != nil {
			return Disbursement{}, err
		}
	}

	if err := transaction.AppendActivity(ctx, tx, transactionID, "FUNDING_UPDATED", &actorID, map[string]any{
		"status":              d.Status,
		"keys_delivered":      d.KeysDelivered,
		"documents_delivered": d.DocumentsDelivered,
	}); err != nil {
		return Disbursement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Disbursement{}, fmt.Errorf("closing: commit funding: %w", err)
	}
	return d, nil
}

// InitiateRecording opens the county recording log for the transaction.
func (s *Service) InitiateRecording(ctx context.Context, transactionID, actorID, countyReference string) (RecordingLog, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RecordingLog{}, fmt.Errorf("closing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.InitiateRecording(ctx, tx, transactionID, countyReference)
	if err != nil {
		return RecordingLog{}, err
	}

	if err := transaction.AppendActivity(ctx, tx, transactionID, "RECORDING_INITIATED", &actorID, map[string]any{
		"county_reference": rec.CountyReference,
	}); err != nil {
		return RecordingLog{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RecordingLog{}, fmt.Errorf("closing: commit recording init: %w", err)
	}
	return rec, nil
}

// CompleteRecording marks the deed recorded and completes the ledger task.
func (s *Service) CompleteRecording(ctx context.Context, transactionID, actorID string) (RecordingLog, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RecordingLog{}, fmt.Errorf("closing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.CompleteRecording(ctx, tx, transactionID)
	if err != nil {
		return RecordingLog{}, err
	}

	if _, err := s.txns.CompleteStep(ctx, tx, transactionID, transaction.TaskDeedRecorded, &actorID); err != nil {
		return RecordingLog{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RecordingLog{}, fmt.Errorf("closing: commit recording: %w", err)
	}
	return rec, nil
}

// UpdateWalkThrough applies a partial update. Completion also completes the
// final walk-through ledger task.
func (s *Service) UpdateWalkThrough(ctx context.Context, transactionID, actorID string, params WalkThroughParams) (WalkThrough, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WalkThrough{}, fmt.Errorf("closing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := s.repo.UpdateWalkThrough(ctx, tx, transactionID, params)
	if err != nil {
		return WalkThrough{}, err
	}

	if w.Completed {
		if _, err := s.txns.CompleteStep(ctx, tx, transactionID, transaction.TaskFinalWalkThrough, &actorID); err != nil {
			return WalkThrough{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return WalkThrough{}, fmt.Errorf("closing: commit walk-through: %w", err)
	}
	return w, nil
}

// UpdateMoving applies a partial update to the moving checklist. Marking it
// completed also completes the final ledger task.
func (s *Service) UpdateMoving(ctx context.Context, transactionID, actorID string, params MovingParams) (MovingPreparation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return MovingPreparation{}, fmt.Errorf("closing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.repo.UpdateMoving(ctx, tx, transactionID, params)
	if err != nil {
		return MovingPreparation{}, err
	}

	if m.Completed {
		if _, err := s.txns.CompleteStep(ctx, tx, transactionID, transaction.TaskMovingCompleted, &actorID); err != nil {
			return MovingPreparation{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return MovingPreparation{}, fmt.Errorf("closing: commit moving prep: %w", err)
	}
	return m, nil
}
