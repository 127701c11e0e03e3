package closing

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dealflow/transaction"
)

func TestFlagDiscrepancy_StoresSignedDifference(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(&fakePool{}, repo, &fakeCompleter{}, t.TempDir())

	fee, err := svc.FlagDiscrepancy(context.Background(), "txn-1", "title-1", DiscrepancyParams{
		FeeItem:         "title insurance",
		EstimatedAmount: 1200,
		ActualAmount:    950,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if fee.Discrepancy != -250 {
		t.Errorf("got discrepancy %d, want -250 (actual - estimated)", fee.Discrepancy)
	}
}

func TestFlagDiscrepancy_RequiresFeeItem(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepo(), &fakeCompleter{}, t.TempDir())

	if _, err := svc.FlagDiscrepancy(context.Background(), "txn-1", "title-1", DiscrepancyParams{FeeItem: " "}); !errors.Is(err, ErrFeeItemRequired) {
		t.Fatalf("got err %v, want ErrFeeItemRequired", err)
	}
}

func TestAcknowledge_CompletesLedgerTask(t *testing.T) {
	completer := &fakeCompleter{}
	svc := NewService(&fakePool{}, newFakeRepo(), completer, t.TempDir())

	d, err := svc.Acknowledge(context.Background(), "txn-1", "buyer-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if d.Status != DisclosureAcknowledged {
		t.Errorf("got status %q, want acknowledged", d.Status)
	}
	if len(completer.tasks) != 1 || completer.tasks[0] != transaction.TaskDisclosureAcknowledged {
		t.Errorf("got completed tasks %v, want [closing_disclosure_acknowledged]", completer.tasks)
	}
}

func TestUpdateFunding_TaskOnlyOnFunded(t *testing.T) {
	completer := &fakeCompleter{}
	svc := NewService(&fakePool{}, newFakeRepo(), completer, t.TempDir())

	inProgress := DisbursementInProgress
	if _, err := svc.UpdateFunding(context.Background(), "txn-1", "title-1", FundingParams{Status: &inProgress}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(completer.tasks) != 0 {
		t.Fatalf("in_progress should not complete a task, got %v", completer.tasks)
	}

	funded := DisbursementFunded
	d, err := svc.UpdateFunding(context.Background(), "txn-1", "title-1", FundingParams{Status: &funded})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if d.FundedAt == nil {
		t.Errorf("expected funded_at stamped")
	}
	if len(completer.tasks) != 1 || completer.tasks[0] != transaction.TaskFundingConfirmed {
		t.Errorf("got completed tasks %v, want [funding_confirmed]", completer.tasks)
	}
}

func TestUpdateFunding_RejectsUnknownStatus(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepo(), &fakeCompleter{}, t.TempDir())

	bogus := DisbursementStatus("wired")
	if _, err := svc.UpdateFunding(context.Background(), "txn-1", "title-1", FundingParams{Status: &bogus}); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestCompleteRecording_CompletesDeedTask(t *testing.T) {
	repo := newFakeRepo()
	completer := &fakeCompleter{}
	svc := NewService(&fakePool{}, repo, completer, t.TempDir())

	if _, err := svc.InitiateRecording(context.Background(), "txn-1", "title-1", "county-ref-9"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	rec, err := svc.CompleteRecording(context.Background(), "txn-1", "title-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rec.Status != RecordingRecorded || rec.RecordedAt == nil {
		t.Errorf("got %+v, want recorded with timestamp", rec)
	}
	if len(completer.tasks) != 1 || completer.tasks[0] != transaction.TaskDeedRecorded {
		t.Errorf("got completed tasks %v, want [deed_recorded]", completer.tasks)
	}
}

func TestUpdateWalkThrough_CompletionTriggersTask(t *testing.T) {
	completer := &fakeCompleter{}
	svc := NewService(&fakePool{}, newFakeRepo(), completer, t.TempDir())

	done := true
	w, err := svc.UpdateWalkThrough(context.Background(), "txn-1", "buyer-1", WalkThroughParams{Completed: &done})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !w.Completed {
		t.Errorf("expected walk-through marked completed")
	}
	if len(completer.tasks) != 1 || completer.tasks[0] != transaction.TaskFinalWalkThrough {
		t.Errorf("got completed tasks %v, want [final_walk_through]", completer.tasks)
	}
}

func TestUpdateMoving_CompletionTriggersTask(t *testing.T) {
	completer := &fakeCompleter{}
	svc := NewService(&fakePool{}, newFakeRepo(), completer, t.TempDir())

	yes := true
	m, err := svc.UpdateMoving(context.Background(), "txn-1", "buyer-1", MovingParams{
		UtilitiesTransferred: &yes,
		MoversBooked:         &yes,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if m.Completed {
		t.Fatalf("checklist progress alone should not complete")
	}
	if len(completer.tasks) != 0 {
		t.Fatalf("no task expected yet, got %v", completer.tasks)
	}

	if _, err := svc.UpdateMoving(context.Background(), "txn-1", "buyer-1", MovingParams{Completed: &yes}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(completer.tasks) != 1 || completer.tasks[0] != transaction.TaskMovingCompleted {
		t.Errorf("got completed tasks %v, want [moving_completed]", completer.tasks)
	}
}

func TestUploadDocument_WritesFileAndRecordsPath(t *testing.T) {
	repo := newFakeRepo()
	dir := t.TempDir()
	svc := NewService(&fakePool{}, repo, &fakeCompleter{}, dir)

	d, err := svc.UploadDocument(context.Background(), "txn-1", "title-1", "disclosure.pdf", strings.NewReader("%PDF-1.4 fake"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if d.DocumentPath == nil {
		t.Fatalf("expected document path recorded")
	}
	if _, err := os.Stat(*d.DocumentPath); err != nil {
		t.Errorf("expected file on disk: %v", err)
	}
	if d.Status != DisclosureIssued {
		t.Errorf("got status %q, want issued after first upload", d.Status)
	}
}

func TestUploadDocument_RejectsEmptyFile(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepo(), &fakeCompleter{}, t.TempDir())

	if _, err := svc.UploadDocument(context.Background(), "txn-1", "title-1", "disclosure.pdf", strings.NewReader("")); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("got err %v, want ErrEmptyDocument", err)
	}
}

type fakeRepo struct {
	disclosure Disclosure
	fees       []Fee
	disburse   Disbursement
	recording  *RecordingLog
	walk       WalkThrough
	moving     MovingPreparation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		disclosure: Disclosure{ID: "disc-1", TransactionID: "txn-1", Status: DisclosureDraft},
		disburse:   Disbursement{ID: "disb-1", TransactionID: "txn-1", Status: DisbursementPending},
		walk:       WalkThrough{ID: "walk-1", TransactionID: "txn-1"},
		moving:     MovingPreparation{ID: "move-1", TransactionID: "txn-1"},
	}
}

func (f *fakeRepo) EnsureDisclosure(ctx context.Context, tx pgx.Tx, transactionID string) (Disclosure, error) {
	return f.disclosure, nil
}

func (f *fakeRepo) GetPacket(ctx context.Context, transactionID string) (DisclosurePacket, error) {
	return DisclosurePacket{Disclosure: f.disclosure, Fees: f.fees}, nil
}

func (f *fakeRepo) SetDocumentPath(ctx context.Context, tx pgx.Tx, transactionID, path string) (Disclosure, error) {
	f.disclosure.DocumentPath = &path
	if f.disclosure.Status == DisclosureDraft {
		f.disclosure.Status = DisclosureIssued
	}
	return f.disclosure, nil
}

func (f *fakeRepo) InsertFee(ctx context.Context, tx pgx.Tx, disclosureID string, params DiscrepancyParams) (Fee, error) {
	fee := Fee{
		ID:              "fee-1",
		DisclosureID:    disclosureID,
		FeeItem:         params.FeeItem,
		EstimatedAmount: params.EstimatedAmount,
		ActualAmount:    params.ActualAmount,
		Discrepancy:     params.ActualAmount - params.EstimatedAmount,
		Notes:           params.Notes,
	}
	f.fees = append(f.fees, fee)
	return fee, nil
}

func (f *fakeRepo) Acknowledge(ctx context.Context, tx pgx.Tx, transactionID string) (Disclosure, error) {
	now := time.Now()
	f.disclosure.Status = DisclosureAcknowledged
	if f.disclosure.AcknowledgedAt == nil {
		f.disclosure.AcknowledgedAt = &now
	}
	return f.disclosure, nil
}

func (f *fakeRepo) UpdateDisbursement(ctx context.Context, tx pgx.Tx, transactionID string, params FundingParams) (Disbursement, error) {
	if params.Status != nil {
		f.disburse.Status = *params.Status
	}
	if params.KeysDelivered != nil {
		f.disburse.KeysDelivered = *params.KeysDelivered
	}
	if params.DocumentsDelivered != nil {
		f.disburse.DocumentsDelivered = *params.DocumentsDelivered
	}
	if f.disburse.Status == DisbursementFunded && f.disburse.FundedAt == nil {
		now := time.Now()
		f.disburse.FundedAt = &now
	}
	return f.disburse, nil
}

func (f *fakeRepo) InitiateRecording(ctx context.Context, tx pgx.Tx, transactionID, countyReference string) (RecordingLog, error) {
	if f.recording == nil {
		f.recording = &RecordingLog{ID: "rec-1", TransactionID: transactionID, Status: RecordingInitiated, InitiatedAt: time.Now()}
	}
	f.recording.CountyReference = countyReference
	return *f.recording, nil
}

func (f *fakeRepo) CompleteRecording(ctx context.Context, tx pgx.Tx, transactionID string) (RecordingLog, error) {
	if f.recording == nil {
		return RecordingLog{}, ErrNotFound
	}
	f.recording.Status = RecordingRecorded
	if f.recording.RecordedAt == nil {
		now := time.Now()
		f.recording.RecordedAt = &now
	}
	return *f.recording, nil
}

func (f *fakeRepo) UpdateWalkThrough(ctx context.Context, tx pgx.Tx, transactionID string, params WalkThroughParams) (WalkThrough, error) {
	if params.ScheduledAt != nil {
		f.walk.ScheduledAt = params.ScheduledAt
	}
	if params.Completed != nil {
		f.walk.Completed = *params.Completed
	}
	if params.Notes != nil {
		f.walk.Notes = *params.Notes
	}
	return f.walk, nil
}

func (f *fakeRepo) UpdateMoving(ctx context.Context, tx pgx.Tx, transactionID string, params MovingParams) (MovingPreparation, error) {
	if params.UtilitiesTransferred != nil {
		f.moving.UtilitiesTransferred = *params.UtilitiesTransferred
	}
	if params.AddressChangeFiled != nil {
		f.moving.AddressChangeFiled = *params.AddressChangeFiled
	}
	if params.MoversBooked != nil {
		f.moving.MoversBooked = *params.MoversBooked
	}
	if params.Completed != nil {
		f.moving.Completed = *params.Completed
	}
	return f.moving, nil
}

type fakeCompleter struct {
	tasks []string
}

func (f *fakeCompleter) CompleteStep(ctx context.Context, tx pgx.Tx, transactionID, taskName string, actorID *string) (transaction.PhaseResult, error) {
	f.tasks = append(f.tasks, taskName)
	return transaction.PhaseResult{}, nil
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
	return pgconn.NewCommandTag("INSERT 0 1"), nil
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
