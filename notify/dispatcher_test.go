package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestDrainOnce_DeliversAndMarksProcessed(t *testing.T) {
	store := &fakeStore{pending: []Message{
		{ID: "m1", Topic: "offer.accepted"},
		{ID: "m2", Topic: "transaction.created"},
	}}
	notifier := &fakeNotifier{}
	pool := &fakePool{}
	d := NewDispatcher(pool, store, notifier, 0)

	n, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if n != 2 {
		t.Errorf("got %d delivered, want 2", n)
	}
	if len(store.processed) != 2 {
		t.Errorf("got %d processed, want 2", len(store.processed))
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
}

func TestDrainOnce_FailureMarksFailedAndContinues(t *testing.T) {
	store := &fakeStore{pending: []Message{
		{ID: "m1", Topic: "offer.accepted"},
		{ID: "m2", Topic: "transaction.created"},
	}}
	notifier := &fakeNotifier{failTopics: map[string]bool{"offer.accepted": true}}
	pool := &fakePool{}
	d := NewDispatcher(pool, store, notifier, 0)

	n, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if n != 1 {
		t.Errorf("got %d delivered, want 1", n)
	}
	if len(store.failed) != 1 || store.failed[0] != "m1" {
		t.Errorf("got failed %v, want [m1]", store.failed)
	}
	if len(store.processed) != 1 || store.processed[0] != "m2" {
		t.Errorf("got processed %v, want [m2]", store.processed)
	}
	if !pool.tx.committed {
		t.Errorf("failed deliveries must not abort the batch")
	}
}

func TestDrainOnce_EmptyOutbox(t *testing.T) {
	pool := &fakePool{}
	d := NewDispatcher(pool, &fakeStore{}, &fakeNotifier{}, 0)

	n, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if n != 0 {
		t.Errorf("got %d delivered, want 0", n)
	}
}

type fakeNotifier struct {
	failTopics map[string]bool
	delivered  []Message
}

func (f *fakeNotifier) Deliver(ctx context.Context, msg Message) error {
	if f.failTopics[msg.Topic] {
		return errors.New("provider unreachable")
	}
	f.delivered = append(f.delivered, msg)
	return nil
}

type fakeStore struct {
	pending   []Message
	processed []string
	failed    []string
}

func (f *fakeStore) LockPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, maxAttempts int) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
