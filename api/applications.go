package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/internal/workflow"
)

// ApplicationsHandler serves the ledger, both trackers and the committee.
type ApplicationsHandler struct {
	engine *workflow.Engine
}

func NewApplicationsHandler(e *workflow.Engine) *ApplicationsHandler {
	return &ApplicationsHandler{engine: e}
}

type submitRequest struct {
	ID                string `json:"id"`
	StudentID         string `json:"student_id"`
	InternshipID      string `json:"internship_id"`
	CompanyID         string `json:"company_id"`
	RequiredApprovals int    `json:"required_approvals"`
}

func (h *ApplicationsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, "submit", &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := h.engine.Ledger.Submit(r.Context(), workflow.SubmitRequest{
		ID:                req.ID,
		StudentID:         req.StudentID,
		InternshipID:      req.InternshipID,
		CompanyID:         req.CompanyID,
		RequiredApprovals: req.RequiredApprovals,
		Actor:             ActorFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, app, http.StatusCreated)
}

func (h *ApplicationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.engine.View(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, v, http.StatusOK)
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *ApplicationsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(r, "status", &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := h.engine.Ledger.Transition(r.Context(), workflow.TransitionRequest{
		ApplicationID: mux.Vars(r)["id"],
		To:            models.ApplicationStatus(req.Status),
		Actor:         ActorFromContext(r.Context()),
		Note:          req.Note,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, app, http.StatusOK)
}

func (h *ApplicationsHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if err := decodeBody(r, "resubmit", &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := h.engine.Ledger.Resubmit(r.Context(), mux.Vars(r)["id"], ActorFromContext(r.Context()), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, app, http.StatusOK)
}

type overrideRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *ApplicationsHandler) Override(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeBody(r, "override", &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := h.engine.Ledger.Override(r.Context(), workflow.OverrideRequest{
		ApplicationID: mux.Vars(r)["id"],
		To:            models.ApplicationStatus(req.Status),
		Actor:         ActorFromContext(r.Context()),
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, app, http.StatusOK)
}

func (h *ApplicationsHandler) History(w http.ResponseWriter, r *http.Request) {
	hist, err := h.engine.Ledger.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if hist == nil {
		hist = []models.StatusChange{}
	}
	writeJSON(w, map[string]any{"items": hist}, http.StatusOK)
}

type stepRequest struct {
	Action              string `json:"action"`
	Notes               string `json:"notes"`
	AppointmentDate     string `json:"appointment_date"`
	AppointmentLocation string `json:"appointment_location"`
}

func (h *ApplicationsHandler) StaffAction(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := decodeBody(r, "staff_action", &req); err != nil {
		writeError(w, err)
		return
	}

	st, err := h.engine.Staff.Advance(r.Context(), workflow.StaffAction{
		ApplicationID: mux.Vars(r)["id"],
		Step:          req.Action,
		Notes:         req.Notes,
		Actor:         ActorFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, st, http.StatusOK)
}

func (h *ApplicationsHandler) AssignSupervisor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SupervisorID string `json:"supervisor_id"`
	}
	if err := decodeBody(r, "assign", &req); err != nil {
		writeError(w, err)
		return
	}

	a, err := h.engine.Supervisor.Assign(r.Context(), mux.Vars(r)["id"], req.SupervisorID, ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, a, http.StatusCreated)
}

func (h *ApplicationsHandler) SupervisorAction(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := decodeBody(r, "supervisor_action", &req); err != nil {
		writeError(w, err)
		return
	}

	action := workflow.SupervisorAction{
		ApplicationID:       mux.Vars(r)["id"],
		Step:                req.Action,
		Notes:               req.Notes,
		AppointmentLocation: req.AppointmentLocation,
		Actor:               ActorFromContext(r.Context()),
	}
	if strings.TrimSpace(req.AppointmentDate) != "" {
		at, err := parseTime("appointment_date", req.AppointmentDate)
		if err != nil {
			writeError(w, err)
			return
		}
		action.AppointmentAt = &at
	}

	st, err := h.engine.Supervisor.Advance(r.Context(), action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, st, http.StatusOK)
}

type decisionRequest struct {
	MemberID string `json:"member_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
}

func (h *ApplicationsHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeBody(r, "decision", &req); err != nil {
		writeError(w, err)
		return
	}
	if req.MemberID == "" {
		req.MemberID = ActorFromContext(r.Context())
	}

	t, err := h.engine.Committee.RecordDecision(r.Context(), workflow.Decision{
		ApplicationID: mux.Vars(r)["id"],
		MemberID:      req.MemberID,
		Status:        models.DecisionStatus(req.Status),
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, t, http.StatusCreated)
}

func (h *ApplicationsHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ds, err := h.engine.Committee.Decisions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := h.engine.Committee.Tally(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ds == nil {
		ds = []models.CommitteeDecision{}
	}
	writeJSON(w, map[string]any{"items": ds, "tally": t}, http.StatusOK)
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	// The offset is kept so calendar dates stay on the caller's day.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, &workflow.ValidationError{Fields: map[string]string{field: "must be an RFC 3339 timestamp or YYYY-MM-DD date"}}
}
