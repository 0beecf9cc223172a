package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/placement/internal/workflow"
)

// DocumentsHandler serves printing, number allocation and sequence admin.
type DocumentsHandler struct {
	engine *workflow.Engine
}

func NewDocumentsHandler(e *workflow.Engine) *DocumentsHandler {
	return &DocumentsHandler{engine: e}
}

type printRequest struct {
	ApplicationIDs []string `json:"application_ids"`
	DocumentDate   string   `json:"document_date"`
	Language       string   `json:"language"`
	TemplateKind   string   `json:"template_kind"`
}

// Print runs a batch. Item failures are part of the 200 response body; only
// a malformed request fails as a whole.
func (h *DocumentsHandler) Print(w http.ResponseWriter, r *http.Request) {
	var req printRequest
	if err := decodeBody(r, "print", &req); err != nil {
		writeError(w, err)
		return
	}
	date, err := parseTime("document_date", req.DocumentDate)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.Printer.PrintBatch(r.Context(), workflow.PrintRequest{
		ApplicationIDs: req.ApplicationIDs,
		DocumentDate:   date,
		TemplateKind:   req.TemplateKind,
		Language:       req.Language,
		Actor:          ActorFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

func (h *DocumentsHandler) Reprint(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Printer.Reprint(r.Context(), mux.Vars(r)["id"], ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rec, http.StatusOK)
}

func (h *DocumentsHandler) GetPrint(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Printer.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rec, http.StatusOK)
}

func (h *DocumentsHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language     string `json:"language"`
		TemplateKind string `json:"template_kind"`
	}
	if err := decodeBody(r, "allocate", &req); err != nil {
		writeError(w, err)
		return
	}

	a, err := h.engine.Sequencer.Allocate(r.Context(), req.TemplateKind, req.Language)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, a, http.StatusCreated)
}

func (h *DocumentsHandler) GetSequence(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	seq, err := h.engine.Sequencer.Get(r.Context(), v["kind"], v["language"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, seq, http.StatusOK)
}

func (h *DocumentsHandler) PeekSequence(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	a, err := h.engine.Sequencer.PeekNext(r.Context(), v["kind"], v["language"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, a, http.StatusOK)
}

func (h *DocumentsHandler) ConfigureSequence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix     string `json:"prefix"`
		DigitWidth int    `json:"digit_width"`
		Suffix     string `json:"suffix"`
	}
	if err := decodeBody(r, "sequence", &req); err != nil {
		writeError(w, err)
		return
	}

	v := mux.Vars(r)
	seq, err := h.engine.Sequencer.Configure(r.Context(), workflow.SequenceFormat{
		TemplateKind: v["kind"],
		Language:     v["language"],
		Prefix:       req.Prefix,
		DigitWidth:   req.DigitWidth,
		Suffix:       req.Suffix,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, seq, http.StatusOK)
}
