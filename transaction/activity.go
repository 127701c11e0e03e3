package transaction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AppendActivity records an immutable workflow event in the same database
// transaction as the mutation it describes.
func AppendActivity(ctx context.Context, tx pgx.Tx, transactionID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transaction: marshal activity payload: %w", err)
	}
	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}
	const q = `
INSERT INTO activity_log (transaction_id, type, payload, actor_id)
VALUES ($1, $2, $3::jsonb, $4::uuid)
`
	if _, err := tx.Exec(ctx, q, transactionID, eventType, body, actor); err != nil {
		return fmt.Errorf("transaction: insert activity: %w", err)
	}
	return nil
}

// EnqueueOutbox stages a notification for post-commit delivery. The dispatcher
// drains the outbox asynchronously; a failed delivery never rolls back the
// workflow mutation that enqueued it.
func EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transaction: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("transaction: enqueue outbox: %w", err)
	}
	return nil
}
