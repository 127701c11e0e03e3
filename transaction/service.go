package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"dealflow/auth"
)

var (
	// ErrForbidden signals the actor is not a party of record on the transaction.
	ErrForbidden = errors.New("transaction: actor is not a party of record")
	// ErrValidation marks malformed workflow input.
	ErrValidation = errors.New("transaction: invalid input")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access the service requires.
type Store interface {
	GetByID(ctx context.Context, id string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	ListForParty(ctx context.Context, userID string) ([]Record, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, params UpdateStatusParams) (Record, error)
	CompletionSummary(ctx context.Context, q Querier, transactionID string) (Summary, error)
	Summary(ctx context.Context, transactionID string) (Summary, error)
	TaskValues(ctx context.Context, transactionID string) ([]TaskValue, error)
	CompleteStep(ctx context.Context, tx pgx.Tx, transactionID, taskName string, actorID *string) (PhaseResult, error)
	EvaluatePhase(ctx context.Context, tx pgx.Tx, transactionID string, actorID *string) (PhaseResult, error)
}

type Service struct {
	pool TxBeginner
	repo Store
	now  func() time.Time
}

func NewService(pool TxBeginner, repo Store) *Service {
	return &Service{
		pool: pool,
		repo: repo,
		now:  time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Actor identifies the authenticated caller for authorization checks.
type Actor struct {
	UserID string
	Role   auth.Role
}

// isParty reports whether the actor may touch the transaction: buyer, seller,
// and agent of record always; lender and title officer by role.
func isParty(rec Record, actor Actor) bool {
	if actor.UserID == rec.BuyerID || actor.UserID == rec.SellerID {
		return true
	}
	if rec.AgentID != nil && actor.UserID == *rec.AgentID {
		return true
	}
	return actor.Role == auth.RoleLender || actor.Role == auth.RoleTitleOfficer
}

func (s *Service) Get(ctx context.Context, actor Actor, id string) (Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !isParty(rec, actor) {
		return Record{}, ErrForbidden
	}
	return rec, nil
}

func (s *Service) ListMine(ctx context.Context, actor Actor) ([]Record, error) {
	return s.repo.ListForParty(ctx, actor.UserID)
}

// Detail bundles the record with its ledger for the read API.
type Detail struct {
	Record  Record
	Tasks   []TaskValue
	Summary Summary
}

func (s *Service) GetDetail(ctx context.Context, actor Actor, id string) (Detail, error) {
	rec, err := s.Get(ctx, actor, id)
	if err != nil {
		return Detail{}, err
	}
	tasks, err := s.repo.TaskValues(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	summary, err := s.repo.Summary(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Record: rec, Tasks: tasks, Summary: summary}, nil
}

// UpdateStatus applies a partial update; unspecified fields keep their prior
// value. Phase may only move forward here; a deal falling through is an
// explicit RegressPhase call, never a side effect.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id string, params UpdateStatusParams) (Record, error) {
	if params.Phase != nil && !ValidPhase(*params.Phase) {
		return Record{}, fmt.Errorf("%w: unknown phase %q", ErrValidation, *params.Phase)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if !isParty(rec, actor) {
		return Record{}, ErrForbidden
	}
	if rec.Status == StatusCompleted || rec.Status == StatusCancelled {
		return Record{}, ErrTerminal
	}
	if params.Phase != nil && PhaseOrdinal(*params.Phase) < PhaseOrdinal(rec.Phase) {
		return Record{}, ErrPhaseRegression
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, id, params)
	if err != nil {
		return Record{}, err
	}

	if err := AppendActivity(ctx, tx, id, "STATUS_UPDATED", &actor.UserID, map[string]any{
		"previous_status": rec.Status,
		"next_status":     updated.Status,
		"previous_phase":  rec.Phase,
		"next_phase":      updated.Phase,
	}); err != nil {
		return Record{}, err
	}
	if err := EnqueueOutbox(ctx, tx, "transaction.status_changed", map[string]any{
		"transaction_id": id,
		"previous":       rec.Status,
		"next":           updated.Status,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("transaction: commit status update: %w", err)
	}
	return updated, nil
}

// RecomputeProgress rewrites the derived percentage from the ledger.
func (s *Service) RecomputeProgress(ctx context.Context, id string) (Summary, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.GetForUpdate(ctx, tx, id); err != nil {
		return Summary{}, err
	}
	summary, err := s.repo.CompletionSummary(ctx, tx, id)
	if err != nil {
		return Summary{}, err
	}
	if _, err := s.repo.UpdateStatus(ctx, tx, id, UpdateStatusParams{Progress: &summary.Percentage}); err != nil {
		return Summary{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Summary{}, fmt.Errorf("transaction: commit progress: %w", err)
	}
	return summary, nil
}

// CompleteStep marks a ledger task complete on behalf of an authorized party
// and lets the phase gate evaluator advance the transaction if the gate is
// now clear.
func (s *Service) CompleteStep(ctx context.Context, actor Actor, id, taskName string) (PhaseResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PhaseResult{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return PhaseResult{}, err
	}
	if !isParty(rec, actor) {
		return PhaseResult{}, ErrForbidden
	}
	if rec.Status == StatusCompleted || rec.Status == StatusCancelled {
		return PhaseResult{}, ErrTerminal
	}

	result, err := s.repo.CompleteStep(ctx, tx, id, taskName, &actor.UserID)
	if err != nil {
		return PhaseResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PhaseResult{}, fmt.Errorf("transaction: commit step: %w", err)
	}
	return result, nil
}

// Cancel marks the transaction cancelled and releases the property back to
// market. Dependent records are retained (restrict, not cascade); the
// transaction row itself is never deleted.
func (s *Service) Cancel(ctx context.Context, actor Actor, id string, reason string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if actor.UserID != rec.BuyerID && actor.UserID != rec.SellerID {
		return Record{}, ErrForbidden
	}
	if rec.Status == StatusCompleted || rec.Status == StatusCancelled {
		return Record{}, ErrTerminal
	}

	cancelled := StatusCancelled
	updated, err := s.repo.UpdateStatus(ctx, tx, id, UpdateStatusParams{Status: &cancelled})
	if err != nil {
		return Record{}, err
	}

	if _, err := tx.Exec(ctx, `UPDATE properties SET status = 'active', updated_at = get_tx_timestamp() WHERE id = $1`, rec.PropertyID); err != nil {
		return Record{}, fmt.Errorf("transaction: release property: %w", err)
	}

	payload := map[string]any{"previous_status": rec.Status}
	if reason = strings.TrimSpace(reason); reason != "" {
		payload["reason"] = reason
	}
	if err := AppendActivity(ctx, tx, id, "TRANSACTION_CANCELLED", &actor.UserID, payload); err != nil {
		return Record{}, err
	}
	if err := EnqueueOutbox(ctx, tx, "transaction.cancelled", map[string]any{
		"transaction_id": id,
		"property_id":    rec.PropertyID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("transaction: commit cancel: %w", err)
	}
	return updated, nil
}

// RegressPhase moves the phase backwards on explicit request, e.g. financing
// falling through after underwriting reopened.
func (s *Service) RegressPhase(ctx context.Context, actor Actor, id string, target Phase, reason string) (Record, error) {
	if !ValidPhase(target) {
		return Record{}, fmt.Errorf("%w: unknown phase %q", ErrValidation, target)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if !isParty(rec, actor) {
		return Record{}, ErrForbidden
	}
	if rec.Status == StatusCompleted || rec.Status == StatusCancelled {
		return Record{}, ErrTerminal
	}
	if PhaseOrdinal(target) >= PhaseOrdinal(rec.Phase) {
		return Record{}, fmt.Errorf("%w: regression target %q is not earlier than %q", ErrValidation, target, rec.Phase)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, id, UpdateStatusParams{Phase: &target})
	if err != nil {
		return Record{}, err
	}

	if err := AppendActivity(ctx, tx, id, "PHASE_REGRESSED", &actor.UserID, map[string]any{
		"previous_phase": rec.Phase,
		"next_phase":     target,
		"reason":         reason,
	}); err != nil {
		return Record{}, err
	}
	if err := EnqueueOutbox(ctx, tx, "transaction.phase_regressed", map[string]any{
		"transaction_id": id,
		"previous":       rec.Phase,
		"next":           target,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("transaction: commit regression: %w", err)
	}
	return updated, nil
}
