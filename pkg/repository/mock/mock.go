package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garnizeh/placement/internal/models"
	"github.com/garnizeh/placement/pkg/repository"
)

// Store is an in-memory implementation of every repository interface, used by
// engine and handler tests. Each method holds the lock for its whole body so
// conditional writes behave like single-row transactions.
type Store struct {
	mu sync.Mutex

	apps        map[string]models.Application
	history     []models.StatusChange
	steps       map[string][]models.StepRecord
	assignments map[string]models.SupervisorAssignment
	decisions   []models.CommitteeDecision
	sequences   map[string]models.DocumentSequence
	issued      map[string]int64
	prints      map[string]models.PrintRecord
	jobs        []models.BackgroundJob
	deadLetter  []models.BackgroundJob

	// Errs forces a method, keyed by name, to fail with the given error.
	Errs map[string]error
	// Advances counts AdvanceSequence calls, successful or not.
	Advances int
}

var _ repository.ApplicationRepo = (*Store)(nil)
var _ repository.StepRepo = (*Store)(nil)
var _ repository.DecisionRepo = (*Store)(nil)
var _ repository.SequenceRepo = (*Store)(nil)
var _ repository.PrintRepo = (*Store)(nil)
var _ repository.JobRepo = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		apps:        make(map[string]models.Application),
		steps:       make(map[string][]models.StepRecord),
		assignments: make(map[string]models.SupervisorAssignment),
		sequences:   make(map[string]models.DocumentSequence),
		issued:      make(map[string]int64),
		prints:      make(map[string]models.PrintRecord),
		Errs:        make(map[string]error),
	}
}

// Repository exposes the store through the grouped interface.
func (s *Store) Repository() *repository.Repository {
	return &repository.Repository{
		Applications: s,
		Steps:        s,
		Decisions:    s,
		Sequences:    s,
		Prints:       s,
	}
}

func (s *Store) fail(method string) error {
	return s.Errs[method]
}

func seqKey(kind, lang string) string { return kind + "\x00" + lang }

func stepKey(appID, tracker string) string { return appID + "\x00" + tracker }

// Applications

func (s *Store) CreateApplication(ctx context.Context, a *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateApplication"); err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("application is nil")
	}
	if _, ok := s.apps[a.ID]; ok {
		return repository.ErrAlreadyExists
	}
	s.apps[a.ID] = *a
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetApplication"); err != nil {
		return nil, err
	}
	a, ok := s.apps[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) UpdateStatus(ctx context.Context, change *models.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateStatus"); err != nil {
		return err
	}
	a, ok := s.apps[change.ApplicationID]
	if !ok {
		return repository.ErrNotFound
	}
	if a.Status != change.From {
		return repository.ErrStale
	}
	a.Status = change.To
	a.Updated = change.Created
	s.apps[a.ID] = a
	change.ID = int64(len(s.history) + 1)
	s.history = append(s.history, *change)
	return nil
}

func (s *Store) ListStatusHistory(ctx context.Context, applicationID string) ([]models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatusChange
	for _, h := range s.history {
		if h.ApplicationID == applicationID {
			out = append(out, h)
		}
	}
	return out, nil
}

// Steps

func (s *Store) ListSteps(ctx context.Context, applicationID, tracker string) ([]models.StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListSteps"); err != nil {
		return nil, err
	}
	recs := s.steps[stepKey(applicationID, tracker)]
	out := make([]models.StepRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *Store) AppendStep(ctx context.Context, rec *models.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AppendStep"); err != nil {
		return err
	}
	k := stepKey(rec.ApplicationID, rec.Tracker)
	recs := s.steps[k]
	for _, r := range recs {
		if r.Index == rec.Index || r.Step == rec.Step {
			return repository.ErrAlreadyExists
		}
	}
	recs = append(recs, *rec)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Index < recs[j].Index })
	s.steps[k] = recs
	return nil
}

func (s *Store) CreateAssignment(ctx context.Context, a *models.SupervisorAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ApplicationID]; ok {
		return repository.ErrAlreadyExists
	}
	s.assignments[a.ApplicationID] = *a
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, applicationID string) (*models.SupervisorAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[applicationID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// Decisions

func (s *Store) RecordDecision(ctx context.Context, d *models.CommitteeDecision) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecordDecision"); err != nil {
		return 0, err
	}
	a, ok := s.apps[d.ApplicationID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	approved := 0
	for _, existing := range s.decisions {
		if existing.ApplicationID != d.ApplicationID {
			continue
		}
		if existing.MemberID == d.MemberID {
			return 0, repository.ErrAlreadyExists
		}
		if existing.Status == models.DecisionApproved {
			approved++
		}
	}
	d.ID = int64(len(s.decisions) + 1)
	s.decisions = append(s.decisions, *d)
	if d.Status == models.DecisionApproved {
		approved++
	}
	a.CurrentApprovals = approved
	s.apps[a.ID] = a
	return approved, nil
}

func (s *Store) ListDecisions(ctx context.Context, applicationID string) ([]models.CommitteeDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CommitteeDecision
	for _, d := range s.decisions {
		if d.ApplicationID == applicationID {
			out = append(out, d)
		}
	}
	return out, nil
}

// Sequences

func (s *Store) GetSequence(ctx context.Context, templateKind, language string) (*models.DocumentSequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetSequence"); err != nil {
		return nil, err
	}
	seq, ok := s.sequences[seqKey(templateKind, language)]
	if !ok {
		return nil, nil
	}
	return &seq, nil
}

func (s *Store) CreateSequence(ctx context.Context, seq *models.DocumentSequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seqKey(seq.TemplateKind, seq.Language)
	if _, ok := s.sequences[k]; ok {
		return repository.ErrAlreadyExists
	}
	s.sequences[k] = *seq
	return nil
}

func (s *Store) AdvanceSequence(ctx context.Context, templateKind, language string, observed int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Advances++
	if err := s.fail("AdvanceSequence"); err != nil {
		return false, err
	}
	k := seqKey(templateKind, language)
	seq, ok := s.sequences[k]
	if !ok || seq.CurrentNumber != observed {
		return false, nil
	}
	seq.CurrentNumber = observed + 1
	seq.Updated = time.Now().UTC()
	s.sequences[k] = seq
	return true, nil
}

func (s *Store) UpdateSequenceFormat(ctx context.Context, seq *models.DocumentSequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seqKey(seq.TemplateKind, seq.Language)
	cur, ok := s.sequences[k]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Prefix, cur.DigitWidth, cur.Suffix = seq.Prefix, seq.DigitWidth, seq.Suffix
	s.sequences[k] = cur
	return nil
}

func (s *Store) ReserveNumber(ctx context.Context, templateKind, language, number string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReserveNumber"); err != nil {
		return err
	}
	k := seqKey(templateKind, language) + "\x00" + number
	if _, ok := s.issued[k]; ok {
		return repository.ErrAlreadyExists
	}
	s.issued[k] = value
	return nil
}

// Prints

func (s *Store) GetPrintRecord(ctx context.Context, applicationID string) (*models.PrintRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetPrintRecord"); err != nil {
		return nil, err
	}
	rec, ok := s.prints[applicationID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) CreatePrintRecord(ctx context.Context, rec *models.PrintRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreatePrintRecord"); err != nil {
		return err
	}
	if _, ok := s.prints[rec.ApplicationID]; ok {
		return repository.ErrAlreadyExists
	}
	s.prints[rec.ApplicationID] = *rec
	return nil
}

func (s *Store) TouchPrintRecord(ctx context.Context, applicationID string, printedAt time.Time, printedBy string) (*models.PrintRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.prints[applicationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec.PrintedAt = printedAt
	if printedBy != "" {
		rec.PrintedBy = printedBy
	}
	s.prints[applicationID] = rec
	return &rec, nil
}

// Jobs

func (s *Store) Enqueue(ctx context.Context, j *models.BackgroundJob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Enqueue"); err != nil {
		return 0, err
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 5
	}
	j.ID = int64(len(s.jobs) + len(s.deadLetter) + 1)
	j.Status = "queued"
	s.jobs = append(s.jobs, *j)
	return j.ID, nil
}

func (s *Store) FetchNext(ctx context.Context) (*models.BackgroundJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i := range s.jobs {
		j := s.jobs[i]
		if j.Status != "queued" && j.Status != "retry" {
			continue
		}
		if j.NextTryAt != nil && j.NextTryAt.After(now) {
			continue
		}
		s.jobs[i].Status = "running"
		return &j, nil
	}
	return nil, nil
}

func (s *Store) UpdateJob(ctx context.Context, j *models.BackgroundJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == j.ID {
			s.jobs[i] = *j
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) MoveToDeadLetter(ctx context.Context, j *models.BackgroundJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == j.ID {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			break
		}
	}
	s.deadLetter = append(s.deadLetter, *j)
	return nil
}

// Jobs returns a snapshot of queued and finished jobs.
func (s *Store) Jobs() []models.BackgroundJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BackgroundJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// DeadLetters returns a snapshot of dead-lettered jobs.
func (s *Store) DeadLetters() []models.BackgroundJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BackgroundJob, len(s.deadLetter))
	copy(out, s.deadLetter)
	return out
}
