package models

import (
	"encoding/json"
	"time"
)

type ApplicationStatus string

const (
	StatusSubmitted    ApplicationStatus = "submitted"
	StatusUnderReview  ApplicationStatus = "under_review"
	StatusApproved     ApplicationStatus = "approved"
	StatusRejected     ApplicationStatus = "rejected"
	StatusNeedsChanges ApplicationStatus = "needs_changes"
	StatusCompleted    ApplicationStatus = "completed"
)

// Valid reports whether s is one of the known ledger statuses.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusSubmitted, StatusUnderReview, StatusApproved, StatusRejected, StatusNeedsChanges, StatusCompleted:
		return true
	}
	return false
}

// Application is a student placement application. Rows are never deleted.
type Application struct {
	ID                string            `json:"id" db:"id"`
	StudentID         string            `json:"student_id" db:"student_id"`
	InternshipID      string            `json:"internship_id,omitempty" db:"internship_id"`
	CompanyID         string            `json:"company_id,omitempty" db:"company_id"`
	Status            ApplicationStatus `json:"status" db:"status"`
	RequiredApprovals int               `json:"required_approvals" db:"required_approvals"`
	CurrentApprovals  int               `json:"current_approvals" db:"current_approvals"`
	Created           time.Time         `json:"created" db:"created"`
	Updated           time.Time         `json:"updated" db:"updated"`
}

// QuorumSatisfied is true once enough committee approvals are recorded.
// Applications without a committee requirement are always satisfied.
func (a *Application) QuorumSatisfied() bool {
	return a.CurrentApprovals >= a.RequiredApprovals
}

type StatusChange struct {
	ID            int64             `json:"id" db:"id"`
	ApplicationID string            `json:"application_id" db:"application_id"`
	From          ApplicationStatus `json:"from" db:"from_status"`
	To            ApplicationStatus `json:"to" db:"to_status"`
	Actor         string            `json:"actor,omitempty" db:"actor"`
	Note          string            `json:"note,omitempty" db:"note"`
	Override      bool              `json:"override" db:"override"`
	Created       time.Time         `json:"created" db:"created"`
}

// StepRecord is one completed tracker step. Index is the step's position in
// its tracker and doubles as the ordering key in storage.
type StepRecord struct {
	ApplicationID       string     `json:"application_id" db:"application_id"`
	Tracker             string     `json:"tracker" db:"tracker"`
	Index               int        `json:"index" db:"step_index"`
	Step                string     `json:"step" db:"step"`
	Notes               string     `json:"notes,omitempty" db:"notes"`
	Actor               string     `json:"actor,omitempty" db:"actor"`
	AppointmentAt       *time.Time `json:"appointment_at,omitempty" db:"appointment_at"`
	AppointmentLocation string     `json:"appointment_location,omitempty" db:"appointment_location"`
	Completed           time.Time  `json:"completed" db:"completed"`
}

type SupervisorAssignment struct {
	ApplicationID string    `json:"application_id" db:"application_id"`
	SupervisorID  string    `json:"supervisor_id" db:"supervisor_id"`
	AssignedBy    string    `json:"assigned_by,omitempty" db:"assigned_by"`
	Assigned      time.Time `json:"assigned" db:"assigned"`
}

type DecisionStatus string

const (
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// CommitteeDecision is immutable once written.
type CommitteeDecision struct {
	ID            int64          `json:"id" db:"id"`
	ApplicationID string         `json:"application_id" db:"application_id"`
	MemberID      string         `json:"member_id" db:"member_id"`
	Status        DecisionStatus `json:"status" db:"status"`
	Reason        string         `json:"reason,omitempty" db:"reason"`
	Created       time.Time      `json:"created" db:"created"`
}

// DocumentSequence is the counter behind document numbers for one
// (template kind, language) pair. CurrentNumber is the next value to hand out.
type DocumentSequence struct {
	TemplateKind  string    `json:"template_kind" db:"template_kind"`
	Language      string    `json:"language" db:"language"`
	Prefix        string    `json:"prefix" db:"prefix"`
	DigitWidth    int       `json:"digit_width" db:"digit_width"`
	Suffix        string    `json:"suffix" db:"suffix"`
	CurrentNumber int64     `json:"current_number" db:"current_number"`
	Updated       time.Time `json:"updated" db:"updated"`
}

type PrintRecord struct {
	ApplicationID  string    `json:"application_id" db:"application_id"`
	DocumentNumber string    `json:"document_number" db:"document_number"`
	TemplateKind   string    `json:"template_kind" db:"template_kind"`
	Language       string    `json:"language" db:"language"`
	DocumentDate   time.Time `json:"document_date" db:"document_date"`
	PrintedAt      time.Time `json:"printed_at" db:"printed_at"`
	PrintedBy      string    `json:"printed_by,omitempty" db:"printed_by"`
	Created        time.Time `json:"created" db:"created"`
}

// Event describes a committed state change handed to the notification sink.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	ApplicationID string         `json:"application_id,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	At            time.Time      `json:"at"`
}

type BackgroundJob struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	NextTryAt   *time.Time      `json:"next_try_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}
