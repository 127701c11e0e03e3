package transaction

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no transaction row exists for the identifier.
	ErrNotFound = errors.New("transaction: not found")
	// ErrUnknownTask signals a ledger write against a task template that does not exist.
	ErrUnknownTask = errors.New("transaction: unknown task")
	// ErrPhaseRegression signals an implicit attempt to move the phase backwards.
	ErrPhaseRegression = errors.New("transaction: phase regression requires explicit operation")
	// ErrTerminal signals a mutation against a completed or cancelled transaction.
	ErrTerminal = errors.New("transaction: already terminal")
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so ledger reads can
// run inside or outside an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, reference_code, property_id, offer_id, buyer_id, seller_id, agent_id, price, commission, status, phase, progress, closing_date, created_at, updated_at`

// CreateFromOffer materialises a new transaction for an accepted offer. It is
// designed to run inside the caller's transaction so the surrounding locks on
// the offer and property rows uphold the one-live-transaction-per-property
// guarantee. Retries are tolerated: an existing live transaction for the
// property is returned as-is.
func (r *Repository) CreateFromOffer(ctx context.Context, tx pgx.Tx, params CreateFromOfferParams) (Record, error) {
	if params.OfferID == "" {
		return Record{}, fmt.Errorf("%w: create missing offer id", ErrValidation)
	}
	if params.PropertyID == "" || params.BuyerID == "" || params.SellerID == "" {
		return Record{}, fmt.Errorf("%w: create missing party references", ErrValidation)
	}
	if params.Price <= 0 {
		return Record{}, fmt.Errorf("%w: create requires positive price", ErrValidation)
	}

	const existingSQL = `
SELECT ` + recordColumns + `
FROM transactions
WHERE property_id = $1
  AND status NOT IN ('completed','cancelled')
LIMIT 1
`
	existing, err := scanRecord(tx.QueryRow(ctx, existingSQL, params.PropertyID))
	switch {
	case err == nil:
		return existing, nil
	case errors.Is(err, pgx.ErrNoRows):
		// continue with insert
	default:
		return Record{}, fmt.Errorf("transaction: check existing: %w", err)
	}

	const insertSQL = `
INSERT INTO transactions (reference_code, property_id, offer_id, buyer_id, seller_id, agent_id, price, status, phase, progress)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 'pre_contract', 0)
RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		params.ReferenceCode,
		params.PropertyID,
		params.OfferID,
		params.BuyerID,
		params.SellerID,
		params.AgentID,
		params.Price,
	))
	if err != nil {
		return Record{}, fmt.Errorf("transaction: insert from offer: %w", err)
	}

	var actor *string
	if params.ActorID != "" {
		actor = &params.ActorID
	}
	if err := AppendActivity(ctx, tx, rec.ID, "TRANSACTION_CREATED", actor, map[string]any{
		"offer_id":    params.OfferID,
		"property_id": params.PropertyID,
		"price":       params.Price,
	}); err != nil {
		return Record{}, err
	}
	if err := EnqueueOutbox(ctx, tx, "transaction.created", map[string]any{
		"transaction_id": rec.ID,
		"reference_code": rec.ReferenceCode,
		"buyer_id":       rec.BuyerID,
		"seller_id":      rec.SellerID,
	}); err != nil {
		return Record{}, err
	}

	return rec, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM transactions WHERE id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("transaction: get by id: %w", err)
	}
	return rec, nil
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("transaction: get for update: %w", err)
	}
	return rec, nil
}

// ListForParty returns transactions where the user is buyer, seller, or agent.
func (r *Repository) ListForParty(ctx context.Context, userID string) ([]Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM transactions
		WHERE buyer_id = $1 OR seller_id = $1 OR agent_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("transaction: list for party: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("transaction: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate records: %w", err)
	}
	return out, nil
}

// UpdateStatus applies a partial update. Nil fields keep their stored value;
// phase ordering is the caller's responsibility (see Service.UpdateStatus).
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, params UpdateStatusParams) (Record, error) {
	const query = `
		UPDATE transactions
		SET status = COALESCE($2::text, status),
		    phase = COALESCE($3::text, phase),
		    progress = COALESCE($4::int, progress),
		    closing_date = COALESCE($5::date, closing_date),
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, id, params.Status, params.Phase, params.Progress, params.ClosingDate))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("transaction: update status: %w", err)
	}
	return rec, nil
}

// UpsertTaskValue idempotently creates or updates the ledger entry for the
// named task. The unique (transaction_id, task_id) key guarantees at most one
// row per pair.
func (r *Repository) UpsertTaskValue(ctx context.Context, tx pgx.Tx, transactionID, taskName string, status TaskStatus) error {
	const query = `
		INSERT INTO task_values (transaction_id, task_id, status)
		SELECT $1, t.id, $3
		FROM tasks t
		WHERE t.name = $2
		ON CONFLICT (transaction_id, task_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = get_tx_timestamp()
		RETURNING task_id
	`
	var taskID int
	if err := tx.QueryRow(ctx, query, transactionID, taskName, status).Scan(&taskID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownTask
		}
		return fmt.Errorf("transaction: upsert task value: %w", err)
	}
	return nil
}

// IsStepComplete reports whether a completed ledger entry exists for the task.
// An absent row reads as pending.
func (r *Repository) IsStepComplete(ctx context.Context, q Querier, transactionID, taskName string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM task_values tv
			JOIN tasks t ON t.id = tv.task_id
			WHERE tv.transaction_id = $1 AND t.name = $2 AND tv.status = 'completed'
		)
	`
	var done bool
	if err := q.QueryRow(ctx, query, transactionID, taskName).Scan(&done); err != nil {
		return false, fmt.Errorf("transaction: is step complete: %w", err)
	}
	return done, nil
}

// CompletionSummary rolls up the ledger for one transaction. A zero task
// catalogue yields zero percent, never a division error.
func (r *Repository) CompletionSummary(ctx context.Context, q Querier, transactionID string) (Summary, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM task_values tv WHERE tv.transaction_id = $1 AND tv.status = 'completed'),
			(SELECT COUNT(*) FROM tasks)
	`
	var s Summary
	if err := q.QueryRow(ctx, query, transactionID).Scan(&s.Completed, &s.Total); err != nil {
		return Summary{}, fmt.Errorf("transaction: completion summary: %w", err)
	}
	s.Percentage = percentage(s.Completed, s.Total)
	return s, nil
}

// ListTaskValues returns the full task catalogue with per-transaction status,
// reading absent ledger rows as pending.
func (r *Repository) ListTaskValues(ctx context.Context, q Querier, transactionID string) ([]TaskValue, error) {
	const query = `
		SELECT t.id, t.name, t.title, t.ordinal, COALESCE(tv.status, 'pending'), tv.updated_at
		FROM tasks t
		LEFT JOIN task_values tv ON tv.task_id = t.id AND tv.transaction_id = $1
		ORDER BY t.ordinal
	`
	rows, err := q.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("transaction: list task values: %w", err)
	}
	defer rows.Close()

	out := make([]TaskValue, 0, 12)
	for rows.Next() {
		tv := TaskValue{TransactionID: transactionID}
		if err := rows.Scan(&tv.TaskID, &tv.Name, &tv.Title, &tv.Ordinal, &tv.Status, &tv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("transaction: scan task value: %w", err)
		}
		out = append(out, tv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate task values: %w", err)
	}
	return out, nil
}

// EvaluatePhase checks the gate for the transaction's current phase and
// advances at most one step per invocation. Re-running with no state change
// produces no transition and no writes beyond the read. The row is locked for
// the duration of the surrounding transaction.
func (r *Repository) EvaluatePhase(ctx context.Context, tx pgx.Tx, transactionID string, actorID *string) (PhaseResult, error) {
	rec, err := r.GetForUpdate(ctx, tx, transactionID)
	if err != nil {
		return PhaseResult{}, err
	}
	if rec.Status == StatusCompleted || rec.Status == StatusCancelled {
		return PhaseResult{Phase: rec.Phase, Status: rec.Status}, nil
	}

	gate := GateTasks(rec.Phase)
	next, ok := NextPhase(rec.Phase)
	if !ok {
		return PhaseResult{Phase: rec.Phase, Status: rec.Status}, nil
	}
	for _, taskName := range gate {
		done, err := r.IsStepComplete(ctx, tx, transactionID, taskName)
		if err != nil {
			return PhaseResult{}, err
		}
		if !done {
			return PhaseResult{Phase: rec.Phase, Status: rec.Status}, nil
		}
	}

	summary, err := r.CompletionSummary(ctx, tx, transactionID)
	if err != nil {
		return PhaseResult{}, err
	}

	status := rec.Status
	if status == StatusPending {
		status = StatusActive
	}
	if next == PhaseComplete {
		status = StatusCompleted
	}
	updated, err := r.UpdateStatus(ctx, tx, transactionID, UpdateStatusParams{
		Status:   &status,
		Phase:    &next,
		Progress: &summary.Percentage,
	})
	if err != nil {
		return PhaseResult{}, err
	}

	if err := AppendActivity(ctx, tx, transactionID, "PHASE_ADVANCED", actorID, map[string]any{
		"previous_phase": rec.Phase,
		"next_phase":     updated.Phase,
		"progress":       updated.Progress,
	}); err != nil {
		return PhaseResult{}, err
	}
	if err := EnqueueOutbox(ctx, tx, "transaction.phase_advanced", map[string]any{
		"transaction_id": transactionID,
		"previous":       rec.Phase,
		"next":           updated.Phase,
	}); err != nil {
		return PhaseResult{}, err
	}

	return PhaseResult{Phase: updated.Phase, Status: updated.Status, Advanced: true}, nil
}

// CompleteStep marks the named task complete, refreshes the derived progress
// percentage, and consults the phase gate, all inside the caller's
// transaction.
func (r *Repository) CompleteStep(ctx context.Context, tx pgx.Tx, transactionID, taskName string, actorID *string) (PhaseResult, error) {
	// Serialize completions per transaction. Progress is computed in Go
	// between statements, so concurrent completers must queue on the row.
	if _, err := r.GetForUpdate(ctx, tx, transactionID); err != nil {
		return PhaseResult{}, err
	}
	if err := r.UpsertTaskValue(ctx, tx, transactionID, taskName, TaskCompleted); err != nil {
		return PhaseResult{}, err
	}

	summary, err := r.CompletionSummary(ctx, tx, transactionID)
	if err != nil {
		return PhaseResult{}, err
	}
	if _, err := r.UpdateStatus(ctx, tx, transactionID, UpdateStatusParams{Progress: &summary.Percentage}); err != nil {
		return PhaseResult{}, err
	}

	if err := AppendActivity(ctx, tx, transactionID, "TASK_COMPLETED", actorID, map[string]any{
		"task":     taskName,
		"progress": summary.Percentage,
	}); err != nil {
		return PhaseResult{}, err
	}

	return r.EvaluatePhase(ctx, tx, transactionID, actorID)
}

// Summary is the pool-backed read of CompletionSummary.
func (r *Repository) Summary(ctx context.Context, transactionID string) (Summary, error) {
	return r.CompletionSummary(ctx, r.pool, transactionID)
}

// TaskValues is the pool-backed read of ListTaskValues.
func (r *Repository) TaskValues(ctx context.Context, transactionID string) ([]TaskValue, error) {
	return r.ListTaskValues(ctx, r.pool, transactionID)
}

func percentage(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	return rec, row.Scan(
		&rec.ID,
		&rec.ReferenceCode,
		&rec.PropertyID,
		&rec.OfferID,
		&rec.BuyerID,
		&rec.SellerID,
		&rec.AgentID,
		&rec.Price,
		&rec.Commission,
		&rec.Status,
		&rec.Phase,
		&rec.Progress,
		&rec.ClosingDate,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
}
