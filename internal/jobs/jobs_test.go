package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/garnizeh/placement/internal/jobs"
	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository/mock"
)

func TestMain(m *testing.M) {
	// verify no goroutine leaks across tests in this package
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startPool(t *testing.T, store *mock.Store, handlers map[string]jobs.Handler) *jobs.WorkerPool {
	t.Helper()
	pool := jobs.NewWorkerPool(store, handlers, quietLogger(), 2)
	pool.SetPollInterval(10 * time.Millisecond)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	return pool
}

func TestEnqueueAndProcess(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	handled := make(chan string, 1)
	pool := startPool(t, store, map[string]jobs.Handler{
		"test": func(ctx context.Context, j *models.BackgroundJob) error {
			var p map[string]string
			if err := json.Unmarshal(j.Payload, &p); err != nil {
				return err
			}
			handled <- p["foo"]
			return nil
		},
	})

	if _, err := pool.Enqueue(ctx, "test", map[string]string{"foo": "bar"}, 10, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case got := <-handled:
		if got != "bar" {
			t.Fatalf("payload = %q, want bar", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("handler was not called")
	}
	eventually(t, "job marked done", func() bool {
		js := store.Jobs()
		return len(js) == 1 && js[0].Status == "done"
	})
}

func TestFailedJobIsRescheduled(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	var calls int
	var mu sync.Mutex
	pool := startPool(t, store, map[string]jobs.Handler{
		"flaky": func(ctx context.Context, j *models.BackgroundJob) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return errors.New("webhook down")
		},
	})
	if _, err := pool.Enqueue(ctx, "flaky", nil, 1, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	eventually(t, "retry scheduled", func() bool {
		js := store.Jobs()
		return len(js) == 1 && js[0].Status == "retry"
	})
	j := store.Jobs()[0]
	if j.Attempts != 1 || j.LastError != "webhook down" {
		t.Fatalf("unexpected job state %+v", j)
	}
	if j.NextTryAt == nil || time.Until(*j.NextTryAt) < time.Second {
		t.Fatalf("next try not pushed back: %v", j.NextTryAt)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1 before backoff expires", calls)
	}
}

func TestExhaustedJobIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	pool := startPool(t, store, map[string]jobs.Handler{
		"doomed": func(ctx context.Context, j *models.BackgroundJob) error { return errors.New("nope") },
	})
	if _, err := pool.Enqueue(ctx, "doomed", nil, 1, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	eventually(t, "dead letter", func() bool { return len(store.DeadLetters()) == 1 })
	got := store.DeadLetters()[0]
	if got.Status != "failed" || got.Attempts != 1 {
		t.Fatalf("unexpected dead letter %+v", got)
	}
	if want := jobs.ErrMaxAttempts.Error() + ": nope"; got.LastError != want {
		t.Fatalf("last error = %q, want %q", got.LastError, want)
	}
	if n := len(store.Jobs()); n != 0 {
		t.Fatalf("jobs left = %d", n)
	}
}

func TestUnknownTypeIsDeadLettered(t *testing.T) {
	store := mock.NewStore()
	pool := startPool(t, store, map[string]jobs.Handler{})
	if _, err := pool.Enqueue(context.Background(), "mystery", nil, 1, 5); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	eventually(t, "dead letter", func() bool { return len(store.DeadLetters()) == 1 })
	if got := store.DeadLetters()[0].LastError; got != jobs.ErrNoHandler.Error() {
		t.Fatalf("last error = %q", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	pool := jobs.NewWorkerPool(mock.NewStore(), nil, quietLogger(), 1)
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()
}

func TestWorkersExitOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := jobs.NewWorkerPool(mock.NewStore(), nil, quietLogger(), 3)
	pool.Start(ctx)
	cancel()
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("workers did not exit")
	}
}

func TestBackoffDuration(t *testing.T) {
	cases := map[int]time.Duration{
		0:   time.Second,
		1:   2 * time.Second,
		3:   8 * time.Second,
		9:   5 * time.Minute,
		100: 5 * time.Minute,
	}
	for attempt, want := range cases {
		if got := jobs.BackoffDuration(attempt); got != want {
			t.Fatalf("BackoffDuration(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestOutboxNotifier(t *testing.T) {
	store := mock.NewStore()
	n := jobs.NewOutboxNotifier(store, 0)
	e := models.Event{ID: "ev-1", Type: "document.printed", ApplicationID: "app-1", At: time.Now().UTC()}
	if err := n.Notify(context.Background(), e); err != nil {
		t.Fatalf("notify: %v", err)
	}

	js := store.Jobs()
	if len(js) != 1 {
		t.Fatalf("jobs = %d, want 1", len(js))
	}
	if js[0].Type != jobs.TypeWorkflowEvent || js[0].MaxAttempts != 5 {
		t.Fatalf("unexpected job %+v", js[0])
	}
	var got models.Event
	if err := json.Unmarshal(js[0].Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.ID != "ev-1" || got.ApplicationID != "app-1" {
		t.Fatalf("payload event = %+v", got)
	}

	store.Errs["Enqueue"] = errors.New("read-only")
	if err := n.Notify(context.Background(), e); err == nil {
		t.Fatalf("expected enqueue error")
	}
}

func TestWebhookHandler(t *testing.T) {
	var (
		mu     sync.Mutex
		status = http.StatusNoContent
		got    models.Event
		header string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		header = r.Header.Get("X-Event-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	payload, _ := json.Marshal(models.Event{ID: "ev-9", Type: "committee.decision_recorded", ApplicationID: "app-2"})
	job := &models.BackgroundJob{Type: jobs.TypeWorkflowEvent, Payload: payload}
	h := jobs.WebhookHandler(srv.Client(), srv.URL, quietLogger())

	if err := h(context.Background(), job); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	mu.Lock()
	if header != "committee.decision_recorded" || got.ApplicationID != "app-2" {
		t.Fatalf("received %q %+v", header, got)
	}
	status = http.StatusBadGateway
	mu.Unlock()

	if err := h(context.Background(), job); err == nil {
		t.Fatalf("expected error on 502")
	}

	if err := jobs.WebhookHandler(nil, "", quietLogger())(context.Background(), job); err != nil {
		t.Fatalf("no webhook should drop silently: %v", err)
	}
	if err := h(context.Background(), &models.BackgroundJob{Payload: []byte("{")}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestOutboxToWebhookEndToEnd(t *testing.T) {
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Event-ID")
	}))
	defer srv.Close()

	store := mock.NewStore()
	startPool(t, store, map[string]jobs.Handler{
		jobs.TypeWorkflowEvent: jobs.WebhookHandler(srv.Client(), srv.URL, quietLogger()),
	})
	if err := jobs.NewOutboxNotifier(store, 3).Notify(context.Background(), models.Event{ID: "ev-42", Type: "application.submitted"}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case id := <-received:
		if id != "ev-42" {
			t.Fatalf("event id = %q", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("webhook not called")
	}
}
