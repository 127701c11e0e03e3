package underwriting

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals no underwriting record exists for the transaction.
	ErrNotFound = errors.New("underwriting: status record not found")
	// ErrConditionNotFound signals the referenced condition does not exist or
	// is already satisfied.
	ErrConditionNotFound = errors.New("underwriting: condition not found")
)

type Repository interface {
	CreateStatus(ctx context.Context, tx pgx.Tx, transactionID string) (StatusRecord, error)
	GetStatus(ctx context.Context, transactionID string) (StatusRecord, error)
	GetStatusForUpdate(ctx context.Context, tx pgx.Tx, transactionID string) (StatusRecord, error)
	InsertCondition(ctx context.Context, tx pgx.Tx, transactionID string, params ConditionParams) (Condition, error)
	ListConditions(ctx context.Context, transactionID string) ([]Condition, error)
	CountPendingConditions(ctx context.Context, tx pgx.Tx, transactionID string) (int, error)
	SatisfyCondition(ctx context.Context, tx pgx.Tx, transactionID, conditionID string) error
	InsertDocument(ctx context.Context, tx pgx.Tx, transactionID string, doc DocumentInput) (Document, error)
	AdjustPendingDocuments(ctx context.Context, tx pgx.Tx, transactionID string, delta int, forceConditionsRequested bool) (StatusRecord, error)
	TransitionStatus(ctx context.Context, tx pgx.Tx, transactionID string, next Status) (StatusRecord, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const statusColumns = `transaction_id, status, pending_documents, clear_to_close_date, loan_approval_date, created_at, updated_at`

// CreateStatus inserts the per-transaction underwriting row, tolerating a
// replayed submission.
func (r *PGRepository) CreateStatus(ctx context.Context, tx pgx.Tx, transactionID string) (StatusRecord, error) {
	const query = `
		INSERT INTO underwriting_status (transaction_id)
		VALUES ($1)
		ON CONFLICT (transaction_id) DO UPDATE SET updated_at = get_tx_timestamp()
		RETURNING ` + statusColumns

	rec, err := scanStatus(tx.QueryRow(ctx, query, transactionID))
	if err != nil {
		return StatusRecord{}, fmt.Errorf("underwriting: create status: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetStatus(ctx context.Context, transactionID string) (StatusRecord, error) {
	const query = `SELECT ` + statusColumns + ` FROM underwriting_status WHERE transaction_id = $1`
	rec, err := scanStatus(r.pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusRecord{}, ErrNotFound
		}
		return StatusRecord{}, fmt.Errorf("underwriting: get status: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetStatusForUpdate(ctx context.Context, tx pgx.Tx, transactionID string) (StatusRecord, error) {
	const query = `SELECT ` + statusColumns + ` FROM underwriting_status WHERE transaction_id = $1 FOR UPDATE`
	rec, err := scanStatus(tx.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusRecord{}, ErrNotFound
		}
		return StatusRecord{}, fmt.Errorf("underwriting: get status for update: %w", err)
	}
	return rec, nil
}

const conditionColumns = `id, transaction_id, title, description, document_type, status, created_at, satisfied_at`

func (r *PGRepository) InsertCondition(ctx context.Context, tx pgx.Tx, transactionID string, params ConditionParams) (Condition, error) {
	const query = `
		INSERT INTO underwriting_conditions (transaction_id, title, description, document_type)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + conditionColumns

	c, err := scanCondition(tx.QueryRow(ctx, query, transactionID, params.Title, params.Description, params.DocumentType))
	if err != nil {
		return Condition{}, fmt.Errorf("underwriting: insert condition: %w", err)
	}
	return c, nil
}

func (r *PGRepository) ListConditions(ctx context.Context, transactionID string) ([]Condition, error) {
	const query = `SELECT ` + conditionColumns + ` FROM underwriting_conditions WHERE transaction_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("underwriting: list conditions: %w", err)
	}
	defer rows.Close()

	out := make([]Condition, 0, 8)
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("underwriting: scan condition: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("underwriting: iterate conditions: %w", err)
	}
	return out, nil
}

func (r *PGRepository) CountPendingConditions(ctx context.Context, tx pgx.Tx, transactionID string) (int, error) {
	const query = `SELECT count(*) FROM underwriting_conditions WHERE transaction_id = $1 AND status = 'pending'`
	var n int
	if err := tx.QueryRow(ctx, query, transactionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("underwriting: count pending conditions: %w", err)
	}
	return n, nil
}

func (r *PGRepository) SatisfyCondition(ctx context.Context, tx pgx.Tx, transactionID, conditionID string) error {
	const query = `
		UPDATE underwriting_conditions
		SET status = 'satisfied', satisfied_at = get_tx_timestamp()
		WHERE id = $1 AND transaction_id = $2 AND status = 'pending'
	`
	tag, err := tx.Exec(ctx, query, conditionID, transactionID)
	if err != nil {
		return fmt.Errorf("underwriting: satisfy condition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionNotFound
	}
	return nil
}

func (r *PGRepository) InsertDocument(ctx context.Context, tx pgx.Tx, transactionID string, doc DocumentInput) (Document, error) {
	const query = `
		INSERT INTO underwriting_documents (transaction_id, condition_id, name)
		VALUES ($1, $2, $3)
		RETURNING id, transaction_id, condition_id, name, uploaded_at
	`
	var d Document
	err := tx.QueryRow(ctx, query, transactionID, doc.ConditionID, doc.Name).Scan(
		&d.ID, &d.TransactionID, &d.ConditionID, &d.Name, &d.UploadedAt,
	)
	if err != nil {
		return Document{}, fmt.Errorf("underwriting: insert document: %w", err)
	}
	return d, nil
}

// AdjustPendingDocuments moves the counter by delta, clamped at zero. A new
// condition always reopens the gate, so the caller can force the status back
// to conditions_requested in the same statement.
func (r *PGRepository) AdjustPendingDocuments(ctx context.Context, tx pgx.Tx, transactionID string, delta int, forceConditionsRequested bool) (StatusRecord, error) {
	const query = `
		UPDATE underwriting_status
		SET pending_documents = GREATEST(pending_documents + $2, 0),
		    status = CASE WHEN $3 THEN 'conditions_requested' ELSE status END,
		    updated_at = get_tx_timestamp()
		WHERE transaction_id = $1
		RETURNING ` + statusColumns

	rec, err := scanStatus(tx.QueryRow(ctx, query, transactionID, delta, forceConditionsRequested))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusRecord{}, ErrNotFound
		}
		return StatusRecord{}, fmt.Errorf("underwriting: adjust pending documents: %w", err)
	}
	return rec, nil
}

// TransitionStatus advances the record one step, stamping the matching date
// only when it is not already set.
func (r *PGRepository) TransitionStatus(ctx context.Context, tx pgx.Tx, transactionID string, next Status) (StatusRecord, error) {
	const query = `
		UPDATE underwriting_status
		SET status = $2,
		    clear_to_close_date = CASE WHEN $2 = 'clear_to_close' THEN COALESCE(clear_to_close_date, get_tx_timestamp()) ELSE clear_to_close_date END,
		    loan_approval_date  = CASE WHEN $2 = 'approved' THEN COALESCE(loan_approval_date, get_tx_timestamp()) ELSE loan_approval_date END,
		    updated_at = get_tx_timestamp()
		WHERE transaction_id = $1
		RETURNING ` + statusColumns

	rec, err := scanStatus(tx.QueryRow(ctx, query, transactionID, next))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusRecord{}, ErrNotFound
		}
		return StatusRecord{}, fmt.Errorf("underwriting: transition status: %w", err)
	}
	return rec, nil
}

func scanStatus(row pgx.Row) (StatusRecord, error) {
	var rec StatusRecord
	return rec, row.Scan(
		&rec.TransactionID,
		&rec.Status,
		&rec.PendingDocuments,
		&rec.ClearToCloseDate,
		&rec.LoanApprovalDate,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
}

func scanCondition(row pgx.Row) (Condition, error) {
	var c Condition
	return c, row.Scan(
		&c.ID,
		&c.TransactionID,
		&c.Title,
		&c.Description,
		&c.DocumentType,
		&c.Status,
		&c.CreatedAt,
		&c.SatisfiedAt,
	)
}
