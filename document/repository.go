package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals no letter of intent exists for the identifier.
var ErrNotFound = errors.New("document: loi not found")

type Repository interface {
	Create(ctx context.Context, params CreateParams) (LOI, error)
	GetByID(ctx context.Context, id string) (LOI, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (LOI, error)
	ListForProperty(ctx context.Context, propertyID string) ([]LOI, error)
	Save(ctx context.Context, tx pgx.Tx, doc LOI) (LOI, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const loiColumns = `id, property_id, created_by, status, body, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (LOI, error) {
	body, err := json.Marshal(params.Body)
	if err != nil {
		return LOI{}, fmt.Errorf("document: marshal body: %w", err)
	}

	const query = `
		INSERT INTO loi_documents (property_id, created_by, body)
		VALUES ($1, $2, $3::jsonb)
		RETURNING ` + loiColumns

	doc, err := scanLOI(r.pool.QueryRow(ctx, query, params.PropertyID, params.CreatedBy, body))
	if err != nil {
		return LOI{}, fmt.Errorf("document: create loi: %w", err)
	}
	return doc, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (LOI, error) {
	const query = `SELECT ` + loiColumns + ` FROM loi_documents WHERE id = $1`
	doc, err := scanLOI(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LOI{}, ErrNotFound
		}
		return LOI{}, fmt.Errorf("document: get loi: %w", err)
	}
	return doc, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (LOI, error) {
	const query = `SELECT ` + loiColumns + ` FROM loi_documents WHERE id = $1 FOR UPDATE`
	doc, err := scanLOI(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LOI{}, ErrNotFound
		}
		return LOI{}, fmt.Errorf("document: get loi for update: %w", err)
	}
	return doc, nil
}

func (r *PGRepository) ListForProperty(ctx context.Context, propertyID string) ([]LOI, error) {
	const query = `SELECT ` + loiColumns + ` FROM loi_documents WHERE property_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("document: list lois: %w", err)
	}
	defer rows.Close()

	out := make([]LOI, 0, 4)
	for rows.Next() {
		doc, err := scanLOI(rows)
		if err != nil {
			return nil, fmt.Errorf("document: scan loi: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("document: iterate lois: %w", err)
	}
	return out, nil
}

// Save writes the full body and status back. The document is small enough
// that replacing the JSONB value whole keeps the write path simple.
func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, doc LOI) (LOI, error) {
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return LOI{}, fmt.Errorf("document: marshal body: %w", err)
	}

	const query = `
		UPDATE loi_documents
		SET status = $2, body = $3::jsonb, updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + loiColumns

	saved, err := scanLOI(tx.QueryRow(ctx, query, doc.ID, doc.Status, body))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LOI{}, ErrNotFound
		}
		return LOI{}, fmt.Errorf("document: save loi: %w", err)
	}
	return saved, nil
}

func scanLOI(row pgx.Row) (LOI, error) {
	var (
		doc  LOI
		body []byte
	)
	if err := row.Scan(&doc.ID, &doc.PropertyID, &doc.CreatedBy, &doc.Status, &body, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return LOI{}, err
	}
	if err := json.Unmarshal(body, &doc.Body); err != nil {
		return LOI{}, fmt.Errorf("document: unmarshal body: %w", err)
	}
	return doc, nil
}
