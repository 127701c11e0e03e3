package closing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals no closing record exists for the transaction.
var ErrNotFound = errors.New("closing: not found")

type Repository interface {
	EnsureDisclosure(ctx context.Context, tx pgx.Tx, transactionID string) (Disclosure, error)
	GetPacket(ctx context.Context, transactionID string) (DisclosurePacket, error)
	SetDocumentPath(ctx context.Context, tx pgx.Tx, transactionID, path string) (Disclosure, error)
	InsertFee(ctx context.Context, tx pgx.Tx, disclosureID string, params DiscrepancyParams) (Fee, error)
	Acknowledge(ctx context.Context, tx pgx.Tx, transactionID string) (Disclosure, error)
	UpdateDisbursement(ctx context.Context, tx pgx.Tx, transactionID string, params FundingParams) (Disbursement, error)
	InitiateRecording(ctx context.Context, tx pgx.Tx, transactionID, countyReference string) (RecordingLog, error)
	CompleteRecording(ctx context.Context, tx pgx.Tx, transactionID string) (RecordingLog, error)
	UpdateWalkThrough(ctx context.Context, tx pgx.Tx, transactionID string, params WalkThroughParams) (WalkThrough, error)
	UpdateMoving(ctx context.Context, tx pgx.Tx, transactionID string, params MovingParams) (MovingPreparation, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const disclosureColumns = `id, transaction_id, status, document_path, wire_bank, wire_routing, wire_account, acknowledged_at, created_at, updated_at`

// EnsureDisclosure creates the per-transaction disclosure row on first touch
// and locks it for the rest of the transaction.
func (r *PGRepository) EnsureDisclosure(ctx context.Context, tx pgx.Tx, transactionID string) (Disclosure, error) {
	const insert = `
		INSERT INTO closing_disclosures (transaction_id)
		VALUES ($1)
		ON CONFLICT (transaction_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, transactionID); err != nil {
		return Disclosure{}, fmt.Errorf("closing: ensure disclosure: %w", err)
	}

	const query = `SELECT ` + disclosureColumns + ` FROM closing_disclosures WHERE transaction_id = $1 FOR UPDATE`
	d, err := scanDisclosure(tx.QueryRow(ctx, query, transactionID))
	if err != nil {
		return Disclosure{}, fmt.Errorf("closing: lock disclosure: %w", err)
	}
	return d, nil
}

func (r *PGRepository) GetPacket(ctx context.Context, transactionID string) (DisclosurePacket, error) {
	const query = `SELECT ` + disclosureColumns + ` FROM closing_disclosures WHERE transaction_id = $1`
	d, err := scanDisclosure(r.pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DisclosurePacket{}, ErrNotFound
		}
		return DisclosurePacket{}, fmt.Errorf("closing: get disclosure: %w", err)
	}

	packet := DisclosurePacket{Disclosure: d}

	const feeQuery = `
		SELECT id, disclosure_id, fee_item, estimated_amount, actual_amount, discrepancy, notes, created_at
		FROM disclosure_fees WHERE disclosure_id = $1 ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, feeQuery, d.ID)
	if err != nil {
		return DisclosurePacket{}, fmt.Errorf("closing: list fees: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f Fee
		if err := rows.Scan(&f.ID, &f.DisclosureID, &f.FeeItem, &f.EstimatedAmount, &f.ActualAmount, &f.Discrepancy, &f.Notes, &f.CreatedAt); err != nil {
			return DisclosurePacket{}, fmt.Errorf("closing: scan fee: %w", err)
		}
		packet.Fees = append(packet.Fees, f)
	}
	if err := rows.Err(); err != nil {
		return DisclosurePacket{}, fmt.Errorf("closing: iterate fees: %w", err)
	}

	const estimateQuery = `
		SELECT id, transaction_id, loan_amount, interest_rate, monthly_payment, cash_to_close, created_at
		FROM loan_estimates WHERE transaction_id = $1
	`
	var est LoanEstimate
	err = r.pool.QueryRow(ctx, estimateQuery, transactionID).Scan(
		&est.ID, &est.TransactionID, &est.LoanAmount, &est.InterestRate, &est.MonthlyPayment, &est.CashToClose, &est.CreatedAt,
	)
	switch {
	case err == nil:
		packet.LoanEstimate = &est
	case errors.Is(err, pgx.ErrNoRows):
		// no estimate on file yet
	default:
		return DisclosurePacket{}, fmt.Errorf("closing: get loan estimate: %w", err)
	}

	return packet, nil
}

func (r *PGRepository) SetDocumentPath(ctx context.Context, tx pgx.Tx, transactionID, path string) (Disclosure, error) {
	const query = `
		UPDATE closing_disclosures
		SET document_path = $2,
		    status = CASE WHEN status = 'draft' THEN 'issued' ELSE status END,
		    updated_at = get_tx_timestamp()
		WHERE transaction_id = $1
		RETURNING ` + disclosureColumns

	d, err := scanDisclosure(tx.QueryRow(ctx, query, transactionID, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Disclosure{}, ErrNotFound
		}
		return Disclosure{}, fmt.Errorf("closing: set document path: %w", err)
	}
	return d, nil
}

func (r *PGRepository) InsertFee(ctx context.Context, tx pgx.Tx, disclosureID string, params DiscrepancyParams) (Fee, error) {
	const query = `
		INSERT INTO disclosure_fees (disclosure_id, fee_item, estimated_amount, actual_amount, discrepancy, notes)
		VALUES ($1, $2, $3, $4, $4 - $3, $5)
		RETURNING id, disclosure_id, fee_item, estimated_amount, actual_amount, discrepancy, notes, created_at
	`
	var f Fee
	err := tx.QueryRow(ctx, query, disclosureID, params.FeeItem, params.EstimatedAmount, params.ActualAmount, params.Notes).Scan(
		&f.ID, &f.DisclosureID, &f.FeeItem, &f.EstimatedAmount, &f.ActualAmount, &f.Discrepancy, &f.Notes, &f.CreatedAt,
	)
	if err != nil {
		return Fee{}, fmt.Errorf("closing: insert fee: %w", err)
	}
	return f, nil
}

func (r *PGRepository) Acknowledge(ctx context.Context, tx pgx.Tx, transactionID string) (Disclosure, error) {
	const query = `
		UPDATE closing_disclosures
		SET status = 'acknowledged',
		    acknowledged_at = COALESCE(acknowledged_at, get_tx_timestamp()),
		    updated_at = get_tx_timestamp()
		WHERE transaction_id = $1
		RETURNING ` + disclosureColumns

	d, err := scanDisclosure(tx.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Disclosure{}, ErrNotFound
		}
		return Disclosure{}, fmt.Errorf("closing: acknowledge: %w", err)
	}
	return d, nil
}

const disbursementColumns = `id, transaction_id, status, keys_delivered, documents_delivered, funded_at, updated_at`

// UpdateDisbursement upserts the per-transaction disbursement row and applies
// a partial update. funded_at is stamped once, on the transition to funded.
func (r *PGRepository) UpdateDisbursement(ctx context.Context, tx pgx.Tx, transactionID string, params FundingParams) (Disbursement, error) {
	const insert = `
		INSERT INTO disbursements (transaction_id)
		VALUES ($1)
		ON CONFLICT (transaction_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, transactionID); err != nil {
		return Disbursement{}, fmt.Errorf("closing: ensure disbursement: %w", err)
	}

	const query = `
		UPDATE disbursements
		SET status = COALESCE($2::text, status),
		    keys_delivered = COALESCE($3::boolean, keys_delivered),
		    documents_delivered = COALESCE($4::boolean, documents_delivered),
		    funded_at = CASE WHEN COALESCE($2::text, status) = 'funded' THEN COALESCE(funded_at, get_tx_timestamp()) ELSE funded_at END,
		    updated_at = get_tx_timestamp()
		WHERE transaction_id = $1
		RETURNING ` + disbursementColumns

	var d Disbursement
	err := tx.QueryRow(ctx, query, transactionID, params.Status, params.KeysDelivered, params.DocumentsDelivered).Scan(
		&d.ID, &d.TransactionID, &d.Status, &d.KeysDelivered, &d.DocumentsDelivered, &d.FundedAt, &d.UpdatedAt,
	)
	if err != nil {
		return Disbursement{}, fmt.Errorf("closing: update disbursement: %w", err)
	}
	return d, nil
}

const recordingColumns = `id, transaction_id, county_reference, status, initiated_at, recorded_at`

func (r *PGRepository) InitiateRecording(ctx context.Context, tx pgx.Tx, transactionID, countyReference string) (RecordingLog, error) {
	const query = `
		INSERT INTO recording_logs (transaction_id, county_reference)
		VALUES ($1, $2)
		ON CONFLICT (transaction_id) DO UPDATE SET county_reference = EXCLUDED.county_reference
		RETURNING ` + recordingColumns

	var rec RecordingLog
	err := tx.QueryRow(ctx, query, transactionID, countyReference).Scan(
		&rec.ID, &rec.TransactionID, &rec.CountyReference, &rec.Status, &rec.InitiatedAt, &rec.RecordedAt,
	)
	if err != nil {
		return RecordingLog{}, fmt.Errorf("closing: initiate recording: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) CompleteRecording(ctx context.Context, tx pgx.Tx, transactionID string) (RecordingLog, error) {
	const query = `
		UPDATE recording_logs
		SET status = 'recorded',
		    recorded_at = COALESCE(recorded_at, get_tx_timestamp())
		WHERE transaction_id = $1
		RETURNING ` + recordingColumns

	var rec RecordingLog
	err := tx.QueryRow(ctx, query, transactionID).Scan(
		&rec.ID, &rec.TransactionID, &rec.CountyReference, &rec.Status, &rec.InitiatedAt, &rec.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RecordingLog{}, ErrNotFound
		}
		return RecordingLog{}, fmt.Errorf("closing: complete recording: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) UpdateWalkThrough(ctx context.Context, tx pgx.Tx, transactionID string, params WalkThroughParams) (WalkThrough, error) {
	const insert = `
		INSERT INTO walk_throughs (transaction_id)
		VALUES ($1)
		ON CONFLICT (transaction_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, transactionID); err != nil {
		return WalkThrough{}, fmt.Errorf("closing: ensure walk-through: %w", err)
	}

	const query = `
		UPDATE walk_throughs
		SET scheduled_at = COALESCE($2::timestamptz, scheduled_at),
		    completed = COALESCE($3::boolean, completed),
		    notes = COALESCE($4::text, notes),
		    updated_at = get_tx_timestamp()
		WHERE transaction_id = $1
		RETURNING id, transaction_id, scheduled_at, completed, notes, updated_at
	`
	var w WalkThrough
	err := tx.QueryRow(ctx, query, transactionID, params.ScheduledAt, params.Completed, params.Notes).Scan(
		&w.ID, &w.TransactionID, &w.ScheduledAt, &w.Completed, &w.Notes, &w.UpdatedAt,
	)
	if err != nil {
		return WalkThrough{}, fmt.Errorf("closing: update walk-through: %w", err)
	}
	return w, nil
}

func (r *PGRepository) UpdateMoving(ctx context.Context, tx pgx.Tx, transactionID string, params MovingParams) (MovingPreparation, error) {
	const insert = `
		INSERT INTO moving_preparations (transaction_id)
		VALUES ($1)
		ON CONFLICT (transaction_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, transactionID); err != nil {
		return MovingPreparation{}, fmt.Errorf("closing: ensure moving prep: %w", err)
	}

	const query = `
		UPDATE moving_preparations
		SET utilities_transferred = COALESCE($2::boolean, utilities_transferred),
		    address_change_filed = COALESCE($3::boolean, address_change_filed),
		    movers_booked = COALESCE($4::boolean, movers_booked),
		    completed = COALESCE($5::boolean, completed),
		    updated_at = get_tx_timestamp()
		WHERE transaction_id = $1
		RETURNING id, transaction_id, utilities_transferred, address_change_filed, movers_booked, completed, updated_at
	`
	var m MovingPreparation
	err := tx.QueryRow(ctx, query, transactionID, params.UtilitiesTransferred, params.AddressChangeFiled, params.MoversBooked, params.Completed).Scan(
		&m.ID, &m.TransactionID, &m.UtilitiesTransferred, &m.AddressChangeFiled, &m.MoversBooked, &m.Completed, &m.UpdatedAt,
	)
	if err != nil {
		return MovingPreparation{}, fmt.Errorf("closing: update moving prep: %w", err)
	}
	return m, nil
}

func scanDisclosure(row pgx.Row) (Disclosure, error) {
	var d Disclosure
	return d, row.Scan(
		&d.ID,
		&d.TransactionID,
		&d.Status,
		&d.DocumentPath,
		&d.WireBank,
		&d.WireRouting,
		&d.WireAccount,
		&d.AcknowledgedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
}
