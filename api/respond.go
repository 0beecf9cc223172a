package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/garnizeh/placement/internal/workflow"
)

type errorBody struct {
	Error    string            `json:"error"`
	Current  string            `json:"current,omitempty"`
	Expected string            `json:"expected,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.Any("err", err))
	}
}

// writeError maps engine error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve *workflow.ValidationError
		te *workflow.TransitionError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, errorBody{Error: "validation failed", Fields: ve.Fields}, http.StatusBadRequest)
	case errors.As(err, &te):
		writeJSON(w, errorBody{Error: te.Error(), Current: te.Current, Expected: te.Expected}, http.StatusConflict)
	case errors.Is(err, workflow.ErrValidation):
		writeJSON(w, errorBody{Error: err.Error()}, http.StatusBadRequest)
	case errors.Is(err, workflow.ErrNotFound):
		writeJSON(w, errorBody{Error: err.Error()}, http.StatusNotFound)
	case errors.Is(err, workflow.ErrDuplicate), errors.Is(err, workflow.ErrInvalidTransition):
		writeJSON(w, errorBody{Error: err.Error()}, http.StatusConflict)
	case errors.Is(err, workflow.ErrConflict):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, errorBody{Error: err.Error()}, http.StatusServiceUnavailable)
	default:
		logger.Error("request failed", slog.Any("err", err))
		writeJSON(w, errorBody{Error: "internal error"}, http.StatusInternalServerError)
	}
}

// maxBodyBytes caps request bodies; print batches are the largest payload.
const maxBodyBytes = 1 << 20

// decodeBody reads the request body, validates it against the named schema
// and unmarshals it into dst. An empty body is treated as {}.
func decodeBody(r *http.Request, schema string, dst any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return &workflow.ValidationError{Fields: map[string]string{"body": "could not be read"}}
	}
	if len(b) == 0 {
		b = []byte("{}")
	}
	if err := validateSchema(r.Context(), schema, b); err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return &workflow.ValidationError{Fields: map[string]string{"body": "invalid json"}}
	}
	return nil
}
