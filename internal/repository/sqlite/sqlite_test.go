package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	dbfs "github.com/garnizeh/placement/db"
	dbpkg "github.com/garnizeh/placement/internal/db"
	"github.com/garnizeh/placement/internal/models"
	sqlite "github.com/garnizeh/placement/internal/repository/sqlite"
	"github.com/garnizeh/placement/pkg/repository"
)

func setupRepo(t *testing.T) *sqlite.SQLiteRepo {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	d, err := dbpkg.New(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := dbpkg.Migrate(ctx, d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlite.New(d, nil)
}

func createApp(t *testing.T, repo *sqlite.SQLiteRepo, id string, required int) {
	t.Helper()
	ts := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	err := repo.CreateApplication(context.Background(), &models.Application{
		ID: id, StudentID: "stu-" + id, Status: models.StatusSubmitted, RequiredApprovals: required, Created: ts, Updated: ts,
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}
}

func TestApplicationLifecycle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.CreateApplication(ctx, nil); err == nil {
		t.Fatalf("expected error when creating nil application")
	}

	createApp(t, repo, "app-1", 2)
	err := repo.CreateApplication(ctx, &models.Application{ID: "app-1", StudentID: "x", Status: models.StatusSubmitted})
	if !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := repo.GetApplication(ctx, "app-1")
	if err != nil || got == nil {
		t.Fatalf("get application: %v %v", got, err)
	}
	if got.StudentID != "stu-app-1" || got.RequiredApprovals != 2 || got.Status != models.StatusSubmitted {
		t.Fatalf("unexpected application %+v", got)
	}
	if !got.Created.Equal(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("created not round-tripped: %v", got.Created)
	}

	missing, err := repo.GetApplication(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing application, got %v %v", missing, err)
	}
}

func TestUpdateStatusCompareAndSet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createApp(t, repo, "app-1", 0)

	change := &models.StatusChange{ApplicationID: "app-1", From: models.StatusSubmitted, To: models.StatusUnderReview, Actor: "staff-1", Note: "picked up"}
	if err := repo.UpdateStatus(ctx, change); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if change.ID == 0 {
		t.Fatalf("expected history id to be set")
	}

	stale := &models.StatusChange{ApplicationID: "app-1", From: models.StatusSubmitted, To: models.StatusUnderReview}
	if err := repo.UpdateStatus(ctx, stale); !errors.Is(err, repository.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	missing := &models.StatusChange{ApplicationID: "ghost", From: models.StatusSubmitted, To: models.StatusUnderReview}
	if err := repo.UpdateStatus(ctx, missing); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	override := &models.StatusChange{ApplicationID: "app-1", From: models.StatusUnderReview, To: models.StatusCompleted, Actor: "admin", Note: "legacy", Override: true}
	if err := repo.UpdateStatus(ctx, override); err != nil {
		t.Fatalf("override: %v", err)
	}

	h, err := repo.ListStatusHistory(ctx, "app-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(h))
	}
	if h[0].From != models.StatusSubmitted || h[0].To != models.StatusUnderReview || h[0].Note != "picked up" || h[0].Override {
		t.Fatalf("unexpected first history row %+v", h[0])
	}
	if !h[1].Override || h[1].Actor != "admin" {
		t.Fatalf("unexpected override row %+v", h[1])
	}

	app, _ := repo.GetApplication(ctx, "app-1")
	if app.Status != models.StatusCompleted {
		t.Fatalf("status = %s", app.Status)
	}
}

func TestStepsAppendOnly(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createApp(t, repo, "app-1", 0)

	if err := repo.AppendStep(ctx, nil); err == nil {
		t.Fatalf("expected error for nil step")
	}

	at := time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)
	recs := []models.StepRecord{
		{ApplicationID: "app-1", Tracker: "supervisor", Index: 0, Step: "assignment_received", Notes: "ok"},
		{ApplicationID: "app-1", Tracker: "supervisor", Index: 1, Step: "confirmed"},
		{ApplicationID: "app-1", Tracker: "supervisor", Index: 2, Step: "appointment_scheduled", AppointmentAt: &at, AppointmentLocation: "Room 4"},
		{ApplicationID: "app-1", Tracker: "staff", Index: 0, Step: "received"},
	}
	for i := range recs {
		if err := repo.AppendStep(ctx, &recs[i]); err != nil {
			t.Fatalf("append %s: %v", recs[i].Step, err)
		}
	}

	// same slot, different step
	if err := repo.AppendStep(ctx, &models.StepRecord{ApplicationID: "app-1", Tracker: "staff", Index: 0, Step: "reviewed"}); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for taken slot, got %v", err)
	}
	// same step, different slot
	if err := repo.AppendStep(ctx, &models.StepRecord{ApplicationID: "app-1", Tracker: "staff", Index: 1, Step: "received"}); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for repeated step, got %v", err)
	}

	got, err := repo.ListSteps(ctx, "app-1", "supervisor")
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 supervisor steps, got %d", len(got))
	}
	for i, s := range got {
		if s.Index != i {
			t.Fatalf("steps not ordered: %+v", got)
		}
	}
	if got[0].AppointmentAt != nil {
		t.Fatalf("appointment must be nil for plain steps")
	}
	if got[2].AppointmentAt == nil || !got[2].AppointmentAt.Equal(at) || got[2].AppointmentLocation != "Room 4" {
		t.Fatalf("appointment not round-tripped: %+v", got[2])
	}

	staff, err := repo.ListSteps(ctx, "app-1", "staff")
	if err != nil || len(staff) != 1 {
		t.Fatalf("staff steps: %v %v", staff, err)
	}
}

func TestSupervisorAssignment(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createApp(t, repo, "app-1", 0)

	a, err := repo.GetAssignment(ctx, "app-1")
	if err != nil || a != nil {
		t.Fatalf("expected no assignment, got %v %v", a, err)
	}
	if err := repo.CreateAssignment(ctx, &models.SupervisorAssignment{ApplicationID: "app-1", SupervisorID: "sup-1", AssignedBy: "staff-1"}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if err := repo.CreateAssignment(ctx, &models.SupervisorAssignment{ApplicationID: "app-1", SupervisorID: "sup-2"}); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	a, err = repo.GetAssignment(ctx, "app-1")
	if err != nil || a == nil || a.SupervisorID != "sup-1" || a.AssignedBy != "staff-1" {
		t.Fatalf("unexpected assignment %+v %v", a, err)
	}
}

func TestRecordDecisionMaterializesCount(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createApp(t, repo, "app-1", 2)

	votes := []struct {
		member string
		status models.DecisionStatus
		want   int
	}{
		{"m1", models.DecisionApproved, 1},
		{"m2", models.DecisionRejected, 1},
		{"m3", models.DecisionApproved, 2},
	}
	for _, v := range votes {
		n, err := repo.RecordDecision(ctx, &models.CommitteeDecision{ApplicationID: "app-1", MemberID: v.member, Status: v.status, Reason: "r"})
		if err != nil {
			t.Fatalf("record %s: %v", v.member, err)
		}
		if n != v.want {
			t.Fatalf("after %s approvals = %d, want %d", v.member, n, v.want)
		}
	}

	if _, err := repo.RecordDecision(ctx, &models.CommitteeDecision{ApplicationID: "app-1", MemberID: "m1", Status: models.DecisionRejected}); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := repo.RecordDecision(ctx, &models.CommitteeDecision{ApplicationID: "ghost", MemberID: "m1", Status: models.DecisionApproved}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	app, _ := repo.GetApplication(ctx, "app-1")
	if app.CurrentApprovals != 2 {
		t.Fatalf("current approvals = %d, want 2", app.CurrentApprovals)
	}
	ds, err := repo.ListDecisions(ctx, "app-1")
	if err != nil || len(ds) != 3 {
		t.Fatalf("list decisions: %v %v", ds, err)
	}
	if ds[1].Status != models.DecisionRejected || ds[1].MemberID != "m2" {
		t.Fatalf("unexpected decision %+v", ds[1])
	}
}

func TestSequences(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	seeded, err := repo.GetSequence(ctx, "internship_letter", "thai")
	if err != nil || seeded == nil {
		t.Fatalf("seeded sequence missing: %v", err)
	}
	if seeded.Prefix != "มทร" || seeded.DigitWidth != 6 || seeded.Suffix != "/2568" || seeded.CurrentNumber != 1 {
		t.Fatalf("unexpected seed %+v", seeded)
	}

	none, err := repo.GetSequence(ctx, "certificate", "english")
	if err != nil || none != nil {
		t.Fatalf("expected (nil, nil), got %v %v", none, err)
	}

	seq := &models.DocumentSequence{TemplateKind: "certificate", Language: "english", Prefix: "C", DigitWidth: 3, CurrentNumber: 1}
	if err := repo.CreateSequence(ctx, seq); err != nil {
		t.Fatalf("create sequence: %v", err)
	}
	if err := repo.CreateSequence(ctx, seq); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	won, err := repo.AdvanceSequence(ctx, "certificate", "english", 1)
	if err != nil || !won {
		t.Fatalf("first advance should win: %v %v", won, err)
	}
	won, err = repo.AdvanceSequence(ctx, "certificate", "english", 1)
	if err != nil || won {
		t.Fatalf("stale advance must lose: %v %v", won, err)
	}

	if err := repo.UpdateSequenceFormat(ctx, &models.DocumentSequence{TemplateKind: "certificate", Language: "english", Prefix: "CERT-", DigitWidth: 5, Suffix: "/x"}); err != nil {
		t.Fatalf("update format: %v", err)
	}
	got, _ := repo.GetSequence(ctx, "certificate", "english")
	if got.Prefix != "CERT-" || got.DigitWidth != 5 || got.Suffix != "/x" || got.CurrentNumber != 2 {
		t.Fatalf("unexpected sequence after format update %+v", got)
	}
	if err := repo.UpdateSequenceFormat(ctx, &models.DocumentSequence{TemplateKind: "x", Language: "y", DigitWidth: 1}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReserveNumber(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.ReserveNumber(ctx, "memo", "english", "A11", 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := repo.ReserveNumber(ctx, "memo", "english", "A11", 11); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for a reissued number, got %v", err)
	}
	// The same text under another key is a different document.
	if err := repo.ReserveNumber(ctx, "memo", "thai", "A11", 1); err != nil {
		t.Fatalf("reserve other key: %v", err)
	}
}

func TestPrintRecords(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createApp(t, repo, "app-1", 0)

	none, err := repo.GetPrintRecord(ctx, "app-1")
	if err != nil || none != nil {
		t.Fatalf("expected no record, got %v %v", none, err)
	}

	printed := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	rec := &models.PrintRecord{
		ApplicationID:  "app-1",
		DocumentNumber: "มทร๐๐๐๐๐๑/๒๕๖๘",
		TemplateKind:   "internship_letter",
		Language:       "thai",
		DocumentDate:   time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC),
		PrintedAt:      printed,
		PrintedBy:      "staff-1",
		Created:        printed,
	}
	if err := repo.CreatePrintRecord(ctx, rec); err != nil {
		t.Fatalf("create print record: %v", err)
	}
	if err := repo.CreatePrintRecord(ctx, rec); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := repo.GetPrintRecord(ctx, "app-1")
	if err != nil || got == nil {
		t.Fatalf("get print record: %v", err)
	}
	if got.DocumentNumber != rec.DocumentNumber || !got.DocumentDate.Equal(rec.DocumentDate) || !got.PrintedAt.Equal(printed) {
		t.Fatalf("record not round-tripped: %+v", got)
	}

	later := printed.Add(24 * time.Hour)
	touched, err := repo.TouchPrintRecord(ctx, "app-1", later, "")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !touched.PrintedAt.Equal(later) || touched.PrintedBy != "staff-1" || touched.DocumentNumber != rec.DocumentNumber {
		t.Fatalf("unexpected touched record %+v", touched)
	}
	touched, err = repo.TouchPrintRecord(ctx, "app-1", later, "staff-2")
	if err != nil || touched.PrintedBy != "staff-2" {
		t.Fatalf("touch with actor: %+v %v", touched, err)
	}

	if _, err := repo.TouchPrintRecord(ctx, "ghost", later, ""); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobQueue(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, nil); err == nil {
		t.Fatalf("expected error for nil job")
	}

	past := time.Now().Add(-time.Minute)
	low := &models.BackgroundJob{Type: "notify.workflow_event", Payload: []byte(`{"id":"a"}`), Priority: 100, ScheduledAt: past}
	high := &models.BackgroundJob{Type: "notify.workflow_event", Payload: []byte(`{"id":"b"}`), Priority: 1, ScheduledAt: past}
	future := &models.BackgroundJob{Type: "later", Priority: 0, ScheduledAt: time.Now().Add(time.Hour)}
	for _, j := range []*models.BackgroundJob{low, high, future} {
		if _, err := repo.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	first, err := repo.FetchNext(ctx)
	if err != nil || first == nil {
		t.Fatalf("fetch: %v %v", first, err)
	}
	if string(first.Payload) != `{"id":"b"}` || first.Status != "running" || first.MaxAttempts != 5 {
		t.Fatalf("expected high priority job first, got %+v", first)
	}

	second, err := repo.FetchNext(ctx)
	if err != nil || second == nil || string(second.Payload) != `{"id":"a"}` {
		t.Fatalf("second fetch: %+v %v", second, err)
	}

	// claimed and future jobs are not handed out
	none, err := repo.FetchNext(ctx)
	if err != nil || none != nil {
		t.Fatalf("expected nothing to fetch, got %+v %v", none, err)
	}

	retryAt := time.Now().Add(-time.Second)
	first.Status, first.Attempts, first.NextTryAt, first.LastError = "retry", 1, &retryAt, "timeout"
	if err := repo.UpdateJob(ctx, first); err != nil {
		t.Fatalf("update job: %v", err)
	}
	again, err := repo.FetchNext(ctx)
	if err != nil || again == nil || again.ID != first.ID || again.Attempts != 1 || again.LastError != "timeout" {
		t.Fatalf("retry not fetched: %+v %v", again, err)
	}

	if err := repo.MoveToDeadLetter(ctx, again); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	n, err := repo.CountDeadLetters(ctx)
	if err != nil || n != 1 {
		t.Fatalf("dead letters = %d %v", n, err)
	}
}
