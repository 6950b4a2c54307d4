package core

// session.go holds the Service and the import session state machine. A
// session is the in-memory staging area for one organization's import:
// files accumulate, validation gates, mappings get confirmed, then
// execution turns the session into a durable batch. Sessions expire if
// abandoned; batches never do.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState tracks a session through the import pipeline.
type SessionState string

const (
	StateUploaded  SessionState = "uploaded"
	StateValidated SessionState = "validated"
	StateMapped    SessionState = "mapped"
	StateExecuting SessionState = "executing"
	StateCompleted SessionState = "completed"
)

// sessionTransitions is the legal forward graph. Uploading another file
// from validated or mapped rewinds to uploaded; executing rewinds to
// mapped only when the batch dies on infrastructure, so the user can run
// it again. Nothing rewinds out of completed.
var sessionTransitions = map[SessionState][]SessionState{
	StateUploaded:  {StateValidated},
	StateValidated: {StateMapped, StateUploaded},
	StateMapped:    {StateExecuting, StateUploaded},
	StateExecuting: {StateCompleted, StateMapped},
}

func (s SessionState) canMoveTo(next SessionState) bool {
	if s == next {
		return true
	}
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ImportSession is one in-flight import for one organization.
type ImportSession struct {
	ID          uuid.UUID           `json:"id"`
	Org         uuid.UUID           `json:"organizationId"`
	State       SessionState        `json:"state"`
	Files       []*ParsedFile       `json:"files"`
	Issues      []ValidationIssue   `json:"issues,omitempty"`
	Values      []CategoryValue     `json:"values,omitempty"`
	Suggestions []MappingSuggestion `json:"suggestions,omitempty"`
	Plan        *MappingPlan        `json:"plan,omitempty"`
	BatchID     uuid.UUID           `json:"batchId,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID        uuid.UUID    `json:"id"`
	Org       uuid.UUID    `json:"organizationId"`
	State     SessionState `json:"state"`
	Files     int          `json:"files"`
	Errors    int          `json:"errors"`
	Warnings  int          `json:"warnings"`
	BatchID   uuid.UUID    `json:"batchId,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Options tunes the Service. Zero values take defaults.
type Options struct {
	MaxFileBytes         int64
	SessionTTL           time.Duration
	MaxConcurrentImports int
	AcquireTimeout       time.Duration
}

// DefaultSessionTTL is how long an untouched session survives.
const DefaultSessionTTL = 2 * time.Hour

// Service is the entry point for every import operation. It owns the
// in-memory sessions and talks to storage through the two store
// interfaces.
type Service struct {
	log     *slog.Logger
	records RecordStore
	batches BatchStore
	opts    Options
	limiter *ImportLimiter
	orgs    *orgLocks

	mu           sync.RWMutex
	sessions     map[uuid.UUID]*ImportSession
	drafts       map[uuid.UUID]*CorrectionDraft
	draftByBatch map[uuid.UUID]uuid.UUID

	now func() time.Time
}

// NewService wires a Service against the given stores.
func NewService(records RecordStore, batches BatchStore, log *slog.Logger, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = MaxFileSize
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}

	return &Service{
		log:          log,
		records:      records,
		batches:      batches,
		opts:         opts,
		limiter:      NewImportLimiter(opts.MaxConcurrentImports, opts.AcquireTimeout),
		orgs:         newOrgLocks(),
		sessions:     make(map[uuid.UUID]*ImportSession),
		drafts:       make(map[uuid.UUID]*CorrectionDraft),
		draftByBatch: make(map[uuid.UUID]uuid.UUID),
		now:          time.Now,
	}
}

// Limiter exposes the execution limiter for shutdown draining and status.
func (s *Service) Limiter() *ImportLimiter { return s.limiter }

// CreateSession starts an empty session for an organization.
func (s *Service) CreateSession(ctx context.Context, org uuid.UUID) (ImportSession, error) {
	if org == uuid.Nil {
		return ImportSession{}, fmt.Errorf("organization is required")
	}

	now := s.now()
	sess := &ImportSession{
		ID:        uuid.New(),
		Org:       org,
		State:     StateUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.log.InfoContext(ctx, "import session created", "session_id", sess.ID, "org_id", org)
	return *sess, nil
}

// GetSession returns a snapshot of one session.
func (s *Service) GetSession(id uuid.UUID) (ImportSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ImportSession{}, ErrSessionNotFound
	}
	return *sess, nil
}

// ListSessions summarizes an organization's sessions, newest first.
func (s *Service) ListSessions(org uuid.UUID) []SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SessionSummary
	for _, sess := range s.sessions {
		if sess.Org != org {
			continue
		}
		errs, warns := CountBySeverity(sess.Issues)
		out = append(out, SessionSummary{
			ID:        sess.ID,
			Org:       sess.Org,
			State:     sess.State,
			Files:     len(sess.Files),
			Errors:    errs,
			Warnings:  warns,
			BatchID:   sess.BatchID,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// DeleteSession drops a session that is not executing.
func (s *Service) DeleteSession(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.State == StateExecuting {
		return fmt.Errorf("%w: session is executing", ErrInvalidState)
	}
	delete(s.sessions, id)
	return nil
}

// AddFile parses an upload and attaches it to the session. A file with the
// same name replaces the earlier version. Any change to the file set
// rewinds the session to uploaded; earlier validation and mappings no
// longer apply.
func (s *Service) AddFile(ctx context.Context, sessionID uuid.UUID, name string, r io.Reader) (*ParsedFile, []ValidationIssue, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, fmt.Errorf("no file provided")
	}

	file, issues := ParseFile(name, r, s.opts.MaxFileBytes)
	if file == nil {
		return nil, issues, ErrFileRejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	if !sess.State.canMoveTo(StateUploaded) {
		return nil, nil, fmt.Errorf("%w: cannot add files in state %s", ErrInvalidState, sess.State)
	}

	replaced := false
	for i, existing := range sess.Files {
		if existing.Name == file.Name {
			sess.Files[i] = file
			replaced = true
			break
		}
	}
	if !replaced {
		sess.Files = append(sess.Files, file)
	}

	s.rewind(sess)

	s.log.InfoContext(ctx, "file added to session",
		"session_id", sess.ID,
		"file", file.Name,
		"entity_type", file.Type,
		"rows", file.RowCount(),
		"replaced", replaced,
	)
	return file, issues, nil
}

// RemoveFile detaches a file from the session and rewinds it to uploaded.
func (s *Service) RemoveFile(ctx context.Context, sessionID uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if !sess.State.canMoveTo(StateUploaded) {
		return fmt.Errorf("%w: cannot remove files in state %s", ErrInvalidState, sess.State)
	}

	for i, f := range sess.Files {
		if f.Name == name {
			sess.Files = append(sess.Files[:i], sess.Files[i+1:]...)
			s.rewind(sess)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrFileNotFound, name)
}

// rewind drops derived state after the file set changes. Caller holds the
// lock.
func (s *Service) rewind(sess *ImportSession) {
	sess.State = StateUploaded
	sess.Issues = nil
	sess.Values = nil
	sess.Suggestions = nil
	sess.Plan = nil
	sess.UpdatedAt = s.now()
}

// Validate runs every check over the session's files and stores the
// result. The session advances to validated only when no issue is an
// error; warnings alone do not block.
func (s *Service) Validate(ctx context.Context, sessionID uuid.UUID) ([]ValidationIssue, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if sess.State != StateUploaded && sess.State != StateValidated {
		state := sess.State
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot validate in state %s", ErrInvalidState, state)
	}
	if len(sess.Files) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session has no files to validate", ErrInvalidState)
	}
	org := sess.Org
	files := make([]*ParsedFile, len(sess.Files))
	copy(files, sess.Files)
	s.mu.Unlock()

	issues, err := ValidateFiles(ctx, files)
	if err != nil {
		return nil, err
	}
	refIssues, err := ValidateReferences(ctx, s.records, org, files)
	if err != nil {
		return nil, err
	}
	issues = append(issues, refIssues...)
	SortIssues(issues)

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok = s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.Issues = issues
	if !HasErrors(issues) {
		sess.State = StateValidated
	} else {
		sess.State = StateUploaded
	}
	sess.UpdatedAt = s.now()

	errs, warns := CountBySeverity(issues)
	s.log.InfoContext(ctx, "session validated",
		"session_id", sess.ID,
		"files", len(files),
		"errors", errs,
		"warnings", warns,
		"state", sess.State,
	)
	return issues, nil
}

// CollectMappings gathers the distinct category values across the
// session's files and suggests canonical matches for each.
func (s *Service) CollectMappings(ctx context.Context, sessionID uuid.UUID) ([]CategoryValue, []MappingSuggestion, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.RUnlock()
		return nil, nil, ErrSessionNotFound
	}
	if sess.State != StateValidated && sess.State != StateMapped {
		state := sess.State
		s.mu.RUnlock()
		return nil, nil, fmt.Errorf("%w: cannot collect mappings in state %s", ErrInvalidState, state)
	}
	org := sess.Org
	files := make([]*ParsedFile, len(sess.Files))
	copy(files, sess.Files)
	s.mu.RUnlock()

	values := CollectCategoryValues(files)
	suggestions, err := SuggestMappings(ctx, s.records, org, values)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok = s.sessions[sessionID]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	sess.Values = values
	sess.Suggestions = suggestions
	sess.UpdatedAt = s.now()

	return values, suggestions, nil
}

// SetMappings confirms the mapping decisions and moves the session to
// mapped. Decisions naming a canonical value must name one that exists
// unless they create it.
func (s *Service) SetMappings(ctx context.Context, sessionID uuid.UUID, decisions []TypeMapping, policy UnmappedPolicy, defaultValue string) error {
	if !policy.Valid() {
		return fmt.Errorf("unknown unmapped policy %q", policy)
	}
	if policy == PolicyUseDefault && strings.TrimSpace(defaultValue) == "" {
		return fmt.Errorf("policy %s requires a default value", PolicyUseDefault)
	}

	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.RUnlock()
		return ErrSessionNotFound
	}
	if sess.State != StateValidated && sess.State != StateMapped {
		state := sess.State
		s.mu.RUnlock()
		return fmt.Errorf("%w: cannot set mappings in state %s", ErrInvalidState, state)
	}
	org := sess.Org
	s.mu.RUnlock()

	vocab := make(map[string]map[string]bool)
	for _, d := range decisions {
		if d.Category == "" || d.External == "" {
			return fmt.Errorf("mapping decisions need a category and an external value")
		}
		if d.CreateNew {
			continue
		}
		if d.Canonical == "" {
			return fmt.Errorf("decision for %q must name a canonical value or create one", d.External)
		}
		values, ok := vocab[d.Category]
		if !ok {
			list, err := s.records.ListCanonicalValues(ctx, org, d.Category)
			if err != nil {
				return err
			}
			values = make(map[string]bool, len(list))
			for _, cv := range list {
				values[strings.ToLower(cv.Value)] = true
			}
			vocab[d.Category] = values
		}
		if !values[strings.ToLower(d.Canonical)] {
			return fmt.Errorf("canonical value %q does not exist for category %s", d.Canonical, d.Category)
		}
	}

	plan := NewMappingPlan(policy, strings.TrimSpace(defaultValue))
	for _, d := range decisions {
		plan.Set(d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok = s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.State != StateValidated && sess.State != StateMapped {
		return fmt.Errorf("%w: cannot set mappings in state %s", ErrInvalidState, sess.State)
	}
	sess.Plan = plan
	sess.State = StateMapped
	sess.UpdatedAt = s.now()

	s.log.InfoContext(ctx, "session mappings confirmed",
		"session_id", sess.ID,
		"decisions", len(decisions),
		"policy", policy,
	)
	return nil
}

// SweepExpired drops sessions and correction drafts idle past the TTL.
// Executing sessions are never swept.
func (s *Service) SweepExpired() int {
	cutoff := s.now().Add(-s.opts.SessionTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.State == StateExecuting {
			continue
		}
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	for id, draft := range s.drafts {
		if draft.UpdatedAt.Before(cutoff) {
			delete(s.drafts, id)
			delete(s.draftByBatch, draft.OriginalBatchID)
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("stale sessions and drafts swept", "removed", removed)
	}
	return removed
}

// StartSessionSweeper sweeps expired sessions immediately and then on
// every interval until the context ends.
func (s *Service) StartSessionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	s.log.Info("session sweeper started", "interval", interval, "ttl", s.opts.SessionTTL)

	s.SweepExpired()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.SweepExpired()
		}
	}
}
