package underwriting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"dealflow/transaction"
)

var (
	// ErrValidation marks malformed underwriting input.
	ErrValidation = errors.New("underwriting: invalid input")
	// ErrTitleRequired signals a condition without a title.
	ErrTitleRequired = errors.New("underwriting: condition title required")
	// ErrNoDocuments signals a document submission with an empty list.
	ErrNoDocuments = errors.New("underwriting: at least one document required")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TaskCompleter marks ledger tasks complete within the caller's transaction,
// letting the phase gate evaluator run against the fresh ledger state.
type TaskCompleter interface {
	CompleteStep(ctx context.Context, tx pgx.Tx, transactionID, taskName string, actorID *string) (transaction.PhaseResult, error)
}

type Service struct {
	pool TxBeginner
	repo Repository
	txns TaskCompleter
}

func NewService(pool TxBeginner, repo Repository, txns TaskCompleter) *Service {
	return &Service{pool: pool, repo: repo, txns: txns}
}

// SubmitApplication opens underwriting for the transaction and marks the loan
// application ledger task complete. Replays are harmless.
func (s *Service) SubmitApplication(ctx context.Context, transactionID, actorID string) (StatusRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return StatusRecord{}, fmt.Errorf("underwriting: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.CreateStatus(ctx, tx, transactionID)
	if err != nil {
		return StatusRecord{}, err
	}
	if _, err := s.txns.CompleteStep(ctx, tx, transactionID, transaction.TaskLoanApplicationSubmitted, &actorID); err != nil {
		return StatusRecord{}, err
	}
	if err := transaction.EnqueueOutbox(ctx, tx, "underwriting.submitted", map[string]any{
		"transaction_id": transactionID,
	}); err != nil {
		return StatusRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return StatusRecord{}, fmt.Errorf("underwriting: commit submit: %w", err)
	}
	return rec, nil
}

func (s *Service) GetStatus(ctx context.Context, transactionID string) (StatusRecord, error) {
	return s.repo.GetStatus(ctx, transactionID)
}

func (s *Service) ListConditions(ctx context.Context, transactionID string) ([]Condition, error) {
	return s.repo.ListConditions(ctx, transactionID)
}

// AddCondition inserts a pending condition and bumps the pending-document
// counter. A new condition always reopens the gate, so the status is forced
// back to conditions_requested regardless of where it was.
func (s *Service) AddCondition(ctx context.Context, transactionID, actorID string, params ConditionParams) (Condition, StatusRecord, error) {
	if strings.TrimSpace(params.Title) == "" {
		return Condition{}, StatusRecord{}, ErrTitleRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Condition{}, StatusRecord{}, fmt.Errorf("underwriting: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.GetStatusForUpdate(ctx, tx, transactionID); err != nil {
		return Condition{}, StatusRecord{}, err
	}

	cond, err := s.repo.InsertCondition(ctx, tx, transactionID, params)
	if err != nil {
		return Condition{}, StatusRecord{}, err
	}
	rec, err := s.repo.AdjustPendingDocuments(ctx, tx, transactionID, 1, true)
	if err != nil {
		return Condition{}, StatusRecord{}, err
	}

	if err := transaction.AppendActivity(ctx, tx, transactionID, "CONDITION_ADDED", &actorID, map[string]any{
		"condition_id": cond.ID,
		"title":        cond.Title,
	}); err != nil {
		return Condition{}, StatusRecord{}, err
	}
	if err := transaction.EnqueueOutbox(ctx, tx, "underwriting.condition_added", map[string]any{
		"transaction_id": transactionID,
		"condition_id":   cond.ID,
	}); err != nil {
		return Condition{}, StatusRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Condition{}, StatusRecord{}, fmt.Errorf("underwriting: commit condition: %w", err)
	}
	return cond, rec, nil
}

// SubmitDocuments records each document, satisfies any condition a document
// is tied to, decrements the pending counter by the batch size (clamped at
// zero), then re-runs the clear-to-close evaluation.
func (s *Service) SubmitDocuments(ctx context.Context, transactionID, actorID string, docs []DocumentInput) (EvaluationResult, error) {
	if len(docs) == 0 {
		return EvaluationResult{}, ErrNoDocuments
	}
	for _, d := range docs {
		if strings.TrimSpace(d.Name) == "" {
			return EvaluationResult{}, fmt.Errorf("%w: document name required", ErrValidation)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("underwriting: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.GetStatusForUpdate(ctx, tx, transactionID); err != nil {
		return EvaluationResult{}, err
	}

	for _, d := range docs {
		if _, err := s.repo.InsertDocument(ctx, tx, transactionID, d); err != nil {
			return EvaluationResult{}, err
		}
		if d.ConditionID != nil {
			if err := s.repo.SatisfyCondition(ctx, tx, transactionID, *d.ConditionID); err != nil {
				return EvaluationResult{}, err
			}
		}
	}

	if _, err := s.repo.AdjustPendingDocuments(ctx, tx, transactionID, -len(docs), false); err != nil {
		return EvaluationResult{}, err
	}

	if err := transaction.AppendActivity(ctx, tx, transactionID, "DOCUMENTS_SUBMITTED", &actorID, map[string]any{
		"count": len(docs),
	}); err != nil {
		return EvaluationResult{}, err
	}

	result, err := s.evaluate(ctx, tx, transactionID, actorID)
	if err != nil {
		return EvaluationResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return EvaluationResult{}, fmt.Errorf("underwriting: commit documents: %w", err)
	}
	return result, nil
}

// EvaluateClearToClose runs the gate check on demand.
func (s *Service) EvaluateClearToClose(ctx context.Context, transactionID, actorID string) (EvaluationResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("underwriting: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.GetStatusForUpdate(ctx, tx, transactionID); err != nil {
		return EvaluationResult{}, err
	}

	result, err := s.evaluate(ctx, tx, transactionID, actorID)
	if err != nil {
		return EvaluationResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return EvaluationResult{}, fmt.Errorf("underwriting: commit evaluation: %w", err)
	}
	return result, nil
}

// evaluate advances the underwriting record at most one step per invocation:
// conditions_requested moves to clear_to_close, clear_to_close moves to
// approved, and only when no conditions or documents remain outstanding.
// Clearing underwriting also completes the ledger task, which lets the phase
// gate evaluator advance the transaction itself.
func (s *Service) evaluate(ctx context.Context, tx pgx.Tx, transactionID, actorID string) (EvaluationResult, error) {
	rec, err := s.repo.GetStatusForUpdate(ctx, tx, transactionID)
	if err != nil {
		return EvaluationResult{}, err
	}
	pendingConditions, err := s.repo.CountPendingConditions(ctx, tx, transactionID)
	if err != nil {
		return EvaluationResult{}, err
	}

	result := EvaluationResult{
		Status:            rec.Status,
		PendingConditions: pendingConditions,
		PendingDocuments:  rec.PendingDocuments,
		ClearToCloseDate:  rec.ClearToCloseDate,
		LoanApprovalDate:  rec.LoanApprovalDate,
		ClearToClose:      rec.Status == StatusClearToClose || rec.Status == StatusApproved,
		LoanApproved:      rec.Status == StatusApproved,
	}
	if pendingConditions > 0 || rec.PendingDocuments > 0 {
		return result, nil
	}

	var next Status
	switch rec.Status {
	case StatusConditionsRequested:
		next = StatusClearToClose
	case StatusClearToClose:
		next = StatusApproved
	default:
		return result, nil
	}

	updated, err := s.repo.TransitionStatus(ctx, tx, transactionID, next)
	if err != nil {
		return EvaluationResult{}, err
	}

	if next == StatusClearToClose {
		if _, err := s.txns.CompleteStep(ctx, tx, transactionID, transaction.TaskUnderwritingCleared, &actorID); err != nil {
			return EvaluationResult{}, err
		}
	}

	if err := transaction.AppendActivity(ctx, tx, transactionID, "UNDERWRITING_ADVANCED", &actorID, map[string]any{
		"previous_status": rec.Status,
		"next_status":     updated.Status,
	}); err != nil {
		return EvaluationResult{}, err
	}
	if err := transaction.EnqueueOutbox(ctx, tx, "underwriting."+string(next), map[string]any{
		"transaction_id": transactionID,
	}); err != nil {
		return EvaluationResult{}, err
	}

	result.Status = updated.Status
	result.Advanced = true
	result.ClearToClose = updated.Status == StatusClearToClose || updated.Status == StatusApproved
	result.LoanApproved = updated.Status == StatusApproved
	result.ClearToCloseDate = updated.ClearToCloseDate
	result.LoanApprovalDate = updated.LoanApprovalDate
	return result, nil
}
