package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/garnizeh/placement/api"
	dbfs "github.com/garnizeh/placement/db"
	"github.com/garnizeh/placement/internal/config"
	"github.com/garnizeh/placement/internal/db"
	sqlite "github.com/garnizeh/placement/internal/repository/sqlite"
	"github.com/garnizeh/placement/internal/workflow"
)

const testSecret = "route-test-secret"

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	api.SetLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))

	d, err := db.New(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), nil)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.Migrate(ctx, d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		d.Close()
		t.Fatalf("migrate: %v", err)
	}

	engine, err := workflow.New(sqlite.New(d, nil).Repository(), workflow.Options{})
	if err != nil {
		d.Close()
		t.Fatalf("engine: %v", err)
	}

	cfg := &config.Config{JWTSecret: testSecret}
	srv := httptest.NewServer(api.SetupRoutes(cfg, "test", "now", engine))
	t.Cleanup(func() { srv.Close(); d.Close() })
	return srv
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if role != "" {
		claims["role"] = role
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// call performs a request and decodes a JSON object response.
func call(t *testing.T, srv *httptest.Server, method, path, tok string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()

	out := map[string]any{}
	raw, _ := io.ReadAll(res.Body)
	if len(raw) > 0 && strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return res.StatusCode, out
}

func TestOpenEndpointsAndAuth(t *testing.T) {
	srv := setupServer(t)

	if code, body := call(t, srv, http.MethodGet, "/health", "", nil); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", code, body)
	}
	if code, body := call(t, srv, http.MethodGet, "/version", "", nil); code != http.StatusOK || body["version"] != "test" {
		t.Fatalf("version: %d %v", code, body)
	}
	if code, _ := call(t, srv, http.MethodGet, "/metrics", "", nil); code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/applications", "", map[string]any{"student_id": "s"}); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
}

func TestApplicationLifecycleOverHTTP(t *testing.T) {
	srv := setupServer(t)
	staff := token(t, "staff-1", "")

	code, app := call(t, srv, http.MethodPost, "/v1/applications", staff, map[string]any{"id": "app-1", "student_id": "stu-1", "required_approvals": 1})
	if code != http.StatusCreated || app["status"] != "submitted" {
		t.Fatalf("submit: %d %v", code, app)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/applications", staff, map[string]any{"id": "app-1", "student_id": "stu-1"}); code != http.StatusConflict {
		t.Fatalf("duplicate submit: expected 409, got %d", code)
	}

	// skipping a staff step names the expected one
	code, body := call(t, srv, http.MethodPost, "/v1/applications/app-1/staff/actions", staff, map[string]any{"action": "reviewed"})
	if code != http.StatusConflict || body["expected"] != "received" {
		t.Fatalf("skip: %d %v", code, body)
	}

	for _, to := range []string{"under_review", "approved"} {
		if code, body := call(t, srv, http.MethodPost, "/v1/applications/app-1/status", staff, map[string]any{"status": to}); code != http.StatusOK {
			t.Fatalf("transition to %s: %d %v", to, code, body)
		}
	}

	code, body = call(t, srv, http.MethodPost, "/v1/applications/app-1/supervisor", staff, map[string]any{"supervisor_id": "sup-1"})
	if code != http.StatusConflict {
		t.Fatalf("assign before staff approval: expected 409, got %d %v", code, body)
	}

	for _, step := range []string{"received", "reviewed", "approved", "sent_to_company"} {
		if code, body := call(t, srv, http.MethodPost, "/v1/applications/app-1/staff/actions", staff, map[string]any{"action": step}); code != http.StatusOK {
			t.Fatalf("staff %s: %d %v", step, code, body)
		}
	}

	if code, body := call(t, srv, http.MethodPost, "/v1/applications/app-1/status", staff, map[string]any{"status": "completed"}); code != http.StatusConflict {
		t.Fatalf("completion before quorum: expected 409, got %d %v", code, body)
	}

	sup := token(t, "sup-1", "")
	if code, body := call(t, srv, http.MethodPost, "/v1/applications/app-1/supervisor", staff, map[string]any{"supervisor_id": "sup-1"}); code != http.StatusCreated {
		t.Fatalf("assign: %d %v", code, body)
	}
	for _, step := range []string{"assignment_received", "confirmed"} {
		if code, body := call(t, srv, http.MethodPost, "/v1/applications/app-1/supervisor/actions", sup, map[string]any{"action": step}); code != http.StatusOK {
			t.Fatalf("supervisor %s: %d %v", step, code, body)
		}
	}
	code, body = call(t, srv, http.MethodPost, "/v1/applications/app-1/supervisor/actions", sup, map[string]any{"action": "appointment_scheduled"})
	if code != http.StatusBadRequest {
		t.Fatalf("appointment without date: expected 400, got %d %v", code, body)
	}
	code, body = call(t, srv, http.MethodPost, "/v1/applications/app-1/supervisor/actions", sup, map[string]any{
		"action": "appointment_scheduled", "appointment_date": "2025-07-01T09:00:00+07:00", "appointment_location": "Room 4",
	})
	if code != http.StatusOK || body["stage"] != float64(3) {
		t.Fatalf("appointment: %d %v", code, body)
	}

	member := token(t, "prof-1", "")
	code, body = call(t, srv, http.MethodPost, "/v1/applications/app-1/decisions", member, map[string]any{"status": "approved"})
	if code != http.StatusCreated || body["quorum_satisfied"] != true {
		t.Fatalf("decision: %d %v", code, body)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/applications/app-1/decisions", member, map[string]any{"status": "approved"}); code != http.StatusConflict {
		t.Fatalf("duplicate decision: expected 409, got %d", code)
	}
	code, body = call(t, srv, http.MethodGet, "/v1/applications/app-1/decisions", member, nil)
	if items, _ := body["items"].([]any); code != http.StatusOK || len(items) != 1 {
		t.Fatalf("list decisions: %d %v", code, body)
	}

	if code, body := call(t, srv, http.MethodPost, "/v1/applications/app-1/status", staff, map[string]any{"status": "completed"}); code != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("complete: %d %v", code, body)
	}

	code, body = call(t, srv, http.MethodGet, "/v1/applications/app-1", staff, nil)
	if code != http.StatusOK {
		t.Fatalf("view: %d %v", code, body)
	}
	if c, _ := body["committee"].(map[string]any); c["current_approvals"] != float64(1) {
		t.Fatalf("view committee: %v", body["committee"])
	}
	if s, _ := body["supervisor"].(map[string]any); s["stage"] != float64(3) {
		t.Fatalf("view supervisor: %v", body["supervisor"])
	}

	code, body = call(t, srv, http.MethodGet, "/v1/applications/app-1/history", staff, nil)
	if items, _ := body["items"].([]any); code != http.StatusOK || len(items) != 3 {
		t.Fatalf("history: %d %v", code, body)
	}
}

func TestPrintingOverHTTP(t *testing.T) {
	srv := setupServer(t)
	staff := token(t, "staff-1", "")

	for _, id := range []string{"a", "b"} {
		if code, body := call(t, srv, http.MethodPost, "/v1/applications", staff, map[string]any{"id": id, "student_id": "stu-" + id}); code != http.StatusCreated {
			t.Fatalf("submit %s: %d %v", id, code, body)
		}
	}

	code, body := call(t, srv, http.MethodPost, "/v1/prints", staff, map[string]any{
		"application_ids": []string{"a", "ghost", "b"},
		"document_date":   "2025-05-30",
	})
	if code != http.StatusOK {
		t.Fatalf("print: %d %v", code, body)
	}
	printed, _ := body["printed"].([]any)
	failed, _ := body["failed"].([]any)
	if len(printed) != 2 || len(failed) != 1 {
		t.Fatalf("unexpected batch result %v", body)
	}
	first, _ := printed[0].(map[string]any)
	if first["document_number"] != "มทร๐๐๐๐๐๑/๒๕๖๘" {
		t.Fatalf("unexpected number %v", first["document_number"])
	}

	code, body = call(t, srv, http.MethodGet, "/v1/prints/a", staff, nil)
	if code != http.StatusOK || body["document_number"] != "มทร๐๐๐๐๐๑/๒๕๖๘" {
		t.Fatalf("get print: %d %v", code, body)
	}
	if code, body := call(t, srv, http.MethodPost, "/v1/prints/a/reprint", staff, nil); code != http.StatusOK || body["document_number"] != "มทร๐๐๐๐๐๑/๒๕๖๘" {
		t.Fatalf("reprint: %d %v", code, body)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/prints/ghost/reprint", staff, nil); code != http.StatusNotFound {
		t.Fatalf("reprint unknown: expected 404, got %d", code)
	}

	code, body = call(t, srv, http.MethodGet, "/v1/sequences/internship_letter/thai", staff, nil)
	if code != http.StatusOK || body["current_number"] != float64(3) {
		t.Fatalf("sequence after batch: %d %v", code, body)
	}

	if code, body := call(t, srv, http.MethodPost, "/v1/prints", staff, map[string]any{"application_ids": []string{}, "document_date": "2025-05-30"}); code != http.StatusBadRequest {
		t.Fatalf("empty batch: expected 400, got %d %v", code, body)
	}
	if code, body := call(t, srv, http.MethodPost, "/v1/prints", staff, map[string]any{"application_ids": []string{"a"}, "document_date": "30/05/2025"}); code != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d %v", code, body)
	}
}

func TestPrintKeepsCallerCalendarDate(t *testing.T) {
	srv := setupServer(t)
	staff := token(t, "staff-1", "")

	if code, body := call(t, srv, http.MethodPost, "/v1/applications", staff, map[string]any{"id": "late", "student_id": "stu-late"}); code != http.StatusCreated {
		t.Fatalf("submit: %d %v", code, body)
	}
	// Half past midnight in Bangkok is still the previous day in UTC.
	code, body := call(t, srv, http.MethodPost, "/v1/prints", staff, map[string]any{
		"application_ids": []string{"late"},
		"document_date":   "2025-06-01T00:30:00+07:00",
	})
	if code != http.StatusOK {
		t.Fatalf("print: %d %v", code, body)
	}

	code, body = call(t, srv, http.MethodGet, "/v1/prints/late", staff, nil)
	if code != http.StatusOK {
		t.Fatalf("get print: %d %v", code, body)
	}
	date, _ := body["document_date"].(string)
	if !strings.HasPrefix(date, "2025-06-01") {
		t.Fatalf("expected document date 2025-06-01, got %q", date)
	}
}

func TestNumberingOverHTTP(t *testing.T) {
	srv := setupServer(t)
	staff := token(t, "staff-1", "")
	admin := token(t, "admin-1", api.RoleAdmin)

	code, body := call(t, srv, http.MethodPost, "/v1/document-numbers", staff, map[string]any{"language": "english"})
	if code != http.StatusCreated || body["document_number"] != "RMUTL-000001/2025" {
		t.Fatalf("allocate: %d %v", code, body)
	}

	code, body = call(t, srv, http.MethodGet, "/v1/sequences/internship_letter/english/next", staff, nil)
	if code != http.StatusOK || body["document_number"] != "RMUTL-000002/2025" {
		t.Fatalf("peek: %d %v", code, body)
	}

	if code, _ := call(t, srv, http.MethodPut, "/v1/sequences/certificate/english", staff, map[string]any{"prefix": "C-", "digit_width": 3}); code != http.StatusForbidden {
		t.Fatalf("configure as non-admin: expected 403, got %d", code)
	}
	code, body = call(t, srv, http.MethodPut, "/v1/sequences/certificate/english", admin, map[string]any{"prefix": "C-", "digit_width": 3})
	if code != http.StatusOK || body["current_number"] != float64(1) {
		t.Fatalf("configure: %d %v", code, body)
	}
	if code, body := call(t, srv, http.MethodPut, "/v1/sequences/certificate/english", admin, map[string]any{"digit_width": 40}); code != http.StatusBadRequest {
		t.Fatalf("configure huge width: expected 400, got %d %v", code, body)
	}
	code, body = call(t, srv, http.MethodPost, "/v1/document-numbers", staff, map[string]any{"language": "english", "template_kind": "certificate"})
	if code != http.StatusCreated || body["document_number"] != "C-001" {
		t.Fatalf("allocate configured: %d %v", code, body)
	}

	if code, _ := call(t, srv, http.MethodGet, "/v1/sequences/nothing/thai", staff, nil); code != http.StatusNotFound {
		t.Fatalf("unknown sequence: expected 404, got %d", code)
	}
}

func TestRequestValidationOverHTTP(t *testing.T) {
	srv := setupServer(t)
	staff := token(t, "staff-1", "")
	admin := token(t, "admin-1", api.RoleAdmin)

	code, body := call(t, srv, http.MethodPost, "/v1/applications", staff, map[string]any{"required_approvals": -1})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %v", code, body)
	}
	if fields, _ := body["fields"].(map[string]any); len(fields) == 0 {
		t.Fatalf("expected field errors, got %v", body)
	}

	if code, _ := call(t, srv, http.MethodPost, "/v1/applications", staff, map[string]any{"student_id": "s", "bogus": true}); code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", code)
	}
	if code, _ := call(t, srv, http.MethodGet, "/v1/applications/nope", staff, nil); code != http.StatusNotFound {
		t.Fatalf("missing application: expected 404, got %d", code)
	}

	if code, _ := call(t, srv, http.MethodPost, "/v1/applications", staff, map[string]any{"id": "x", "student_id": "s"}); code != http.StatusCreated {
		t.Fatalf("submit: %d", code)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/applications/x/override", staff, map[string]any{"status": "completed", "reason": "legacy"}); code != http.StatusForbidden {
		t.Fatalf("override without admin: expected 403, got %d", code)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/applications/x/override", admin, map[string]any{"status": "completed"}); code != http.StatusBadRequest {
		t.Fatalf("override without reason: expected 400, got %d", code)
	}
	code, body = call(t, srv, http.MethodPost, "/v1/applications/x/override", admin, map[string]any{"status": "completed", "reason": "legacy import"})
	if code != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("override: %d %v", code, body)
	}
	if code, _ := call(t, srv, http.MethodPost, "/v1/applications/x/resubmit", staff, nil); code != http.StatusConflict {
		t.Fatalf("resubmit from completed: expected 409, got %d", code)
	}
}
