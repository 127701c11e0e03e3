package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each query must return zero rows on a
// consistent database; any row is a violation witness.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_offer",
			SQL: `SELECT property_id, COUNT(*) FROM offers
                  WHERE status = 'accepted'
                  GROUP BY property_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_siblings_rejected_on_accept",
			SQL: `SELECT s.id FROM offers s
                  JOIN offers a ON a.property_id = s.property_id AND a.status = 'accepted'
                  WHERE s.id <> a.id
                    AND s.status IN ('pending','countered')
                    AND s.submitted_at < a.accepted_at`,
		},
		{
			Name: "O3_pending_documents_nonnegative",
			SQL:  `SELECT transaction_id, pending_documents FROM underwriting_status WHERE pending_documents < 0`,
		},
		{
			Name: "O4_phase_gate_consistency",
			SQL: `WITH ord AS (
                      SELECT id, array_position(ARRAY[
                          'pre_contract','under_contract','financing','insurance','closing_prep',
                          'signing','funding','recording','moving','complete']::text[], phase) AS phase_ord
                      FROM transactions
                  ),
                  gates(task_name, gate_ord) AS (VALUES
                      ('earnest_money_deposited', 1),
                      ('purchase_agreement_signed', 1),
                      ('loan_application_submitted', 2),
                      ('underwriting_cleared', 3),
                      ('insurance_bound', 4),
                      ('closing_disclosure_acknowledged', 5),
                      ('final_walk_through', 5),
                      ('closing_docs_signed', 6),
                      ('funding_confirmed', 7),
                      ('deed_recorded', 8),
                      ('moving_completed', 9)
                  )
                  SELECT o.id, g.task_name FROM ord o
                  JOIN gates g ON o.phase_ord > g.gate_ord
                  WHERE NOT EXISTS (
                      SELECT 1 FROM task_values tv
                      JOIN tasks t ON t.id = tv.task_id
                      WHERE tv.transaction_id = o.id
                        AND t.name = g.task_name
                        AND tv.status = 'completed')`,
		},
		{
			Name: "O5_one_live_transaction_per_property",
			SQL: `SELECT property_id, COUNT(*) FROM transactions
                  WHERE status NOT IN ('completed','cancelled')
                  GROUP BY property_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_progress_matches_ledger",
			SQL: `WITH ledger AS (
                      SELECT tv.transaction_id,
                             COUNT(*) FILTER (WHERE tv.status = 'completed') AS done
                      FROM task_values tv GROUP BY tv.transaction_id
                  )
                  SELECT t.id, t.progress, l.done
                  FROM transactions t
                  JOIN ledger l ON l.transaction_id = t.id
                  WHERE t.progress <> ROUND(100.0 * l.done / NULLIF((SELECT COUNT(*) FROM tasks), 0))`,
		},
		{
			Name: "O7_outbox_drained",
			SQL: `SELECT id, topic FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_esign_effect_single",
			SQL: `SELECT transaction_id, COUNT(*) FROM activity_log
                  WHERE type = 'ESIGN_COMPLETED'
                  GROUP BY transaction_id, payload->>'envelope_kind'
                  HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name plus a sample
// row) or an empty name when all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
