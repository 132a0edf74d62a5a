package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// MemoryStore implements the Store interface in process memory. It backs
// the memory storage driver and unit tests; data does not survive restarts.
type MemoryStore struct {
	mu sync.RWMutex

	apiKeys   map[uuid.UUID]*models.APIKey
	queue     map[string]*models.QueueEntry
	analyses  map[uuid.UUID]*models.AnalysisRecord
	events    map[uuid.UUID][]*models.AnalysisEvent
	sealed    map[uuid.UUID]bool
	patterns  []*models.Pattern
	bootstrap *models.BootstrapState
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apiKeys:  make(map[uuid.UUID]*models.APIKey),
		queue:    make(map[string]*models.QueueEntry),
		analyses: make(map[uuid.UUID]*models.AnalysisRecord),
		events:   make(map[uuid.UUID][]*models.AnalysisEvent),
		sealed:   make(map[uuid.UUID]bool),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			keys = append(keys, copyAPIKey(k))
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.apiKeys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
		k.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.apiKeys[key.ID]; exists {
		return ErrDuplicateKey
	}
	s.apiKeys[key.ID] = copyAPIKey(key)
	return nil
}

func (s *MemoryStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []*models.APIKey
	for _, k := range s.apiKeys {
		if k.DeletedAt == nil {
			keys = append(keys, copyAPIKey(k))
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *MemoryStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[id]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}

// --- Queue ---

func (s *MemoryStore) UpsertQueueEntry(ctx context.Context, entry *models.QueueEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.queue[entry.IssueID]
	if !ok {
		e := copyQueueEntry(entry)
		now := time.Now().UTC()
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		s.queue[entry.IssueID] = e
		return true, nil
	}

	// Refresh the snapshot, preserve lifecycle state.
	existing.Title = entry.Title
	existing.ErrorType = entry.ErrorType
	existing.Culprit = entry.Culprit
	existing.Fingerprint = entry.Fingerprint
	existing.Score = entry.Score
	existing.Priority = entry.Priority
	existing.Count = entry.Count
	existing.UserCount = entry.UserCount
	if entry.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = entry.LastSeen
	}
	existing.UpdatedAt = time.Now().UTC()
	return false, nil
}

func (s *MemoryStore) GetQueueEntry(ctx context.Context, issueID string) (*models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.queue[issueID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyQueueEntry(e), nil
}

func (s *MemoryStore) ListQueue(ctx context.Context, filter QueueFilter) ([]*models.QueueEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*models.QueueEntry
	for _, e := range s.queue {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && e.Priority != filter.Priority {
			continue
		}
		entries = append(entries, copyQueueEntry(e))
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].LastSeen.After(entries[j].LastSeen)
		}
		return entries[i].IssueID < entries[j].IssueID
	})

	total := len(entries)
	entries = paginate(entries, filter.Page, filter.Limit)
	return entries, total, nil
}

func (s *MemoryStore) UpdateQueueStatus(ctx context.Context, issueID string, status string, opts ...QueueUpdateOption) error {
	params := &queueUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.queue[issueID]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	if params.AnalysisID != nil {
		e.AnalysisID = params.AnalysisID.String()
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) RemoveQueueEntry(ctx context.Context, issueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queue[issueID]; !ok {
		return ErrNotFound
	}
	delete(s.queue, issueID)
	return nil
}

// --- Analyses ---

func (s *MemoryStore) CreateAnalysis(ctx context.Context, rec *models.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.analyses[rec.ID]; exists {
		return ErrDuplicateKey
	}
	r := copyAnalysis(rec)
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	s.analyses[rec.ID] = r
	return nil
}

func (s *MemoryStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.analyses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAnalysis(rec), nil
}

func (s *MemoryStore) GetAnalysisByPRNumber(ctx context.Context, prNumber int) (*models.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.AnalysisRecord
	for _, rec := range s.analyses {
		if rec.PRNumber != prNumber {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copyAnalysis(latest), nil
}

func (s *MemoryStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.AnalysisRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*models.AnalysisRecord
	for _, rec := range s.analyses {
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		if filter.IssueID != "" && rec.IssueID != filter.IssueID {
			continue
		}
		recs = append(recs, copyAnalysis(rec))
	}

	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID.String() < recs[j].ID.String()
	})

	total := len(recs)
	recs = paginate(recs, filter.Page, filter.Limit)
	return recs, total, nil
}

func (s *MemoryStore) TransitionAnalysis(ctx context.Context, id uuid.UUID, from []string, to string, opts ...AnalysisUpdateOption) error {
	params := &analysisUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.analyses[id]
	if !ok {
		return ErrNotFound
	}

	allowed := false
	for _, f := range from {
		if rec.State == f {
			allowed = true
			break
		}
	}
	if !allowed {
		if isTerminalState(rec.State) {
			return ErrAlreadyTerminal
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.State, to)
	}

	rec.State = to
	if params.Stage != nil {
		rec.Stage = *params.Stage
	}
	if params.Result != nil {
		result := *params.Result
		rec.Result = &result
	}
	if params.ErrorMessage != nil {
		rec.Error = *params.ErrorMessage
	}
	if params.StartedAt != nil {
		at := *params.StartedAt
		rec.StartedAt = &at
	}
	if params.FinishedAt != nil {
		at := *params.FinishedAt
		rec.FinishedAt = &at
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *models.AnalysisEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.analyses[event.AnalysisID]; !ok {
		return ErrNotFound
	}
	if s.sealed[event.AnalysisID] {
		return ErrEventLogSealed
	}

	event.Seq = int64(len(s.events[event.AnalysisID])) + 1
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	stored := *event
	s.events[event.AnalysisID] = append(s.events[event.AnalysisID], &stored)

	if event.TerminalEvent() {
		s.sealed[event.AnalysisID] = true
	}
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, analysisID uuid.UUID, afterSeq int64) ([]*models.AnalysisEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*models.AnalysisEvent
	for _, e := range s.events[analysisID] {
		if e.Seq > afterSeq {
			copied := *e
			events = append(events, &copied)
		}
	}
	return events, nil
}

// --- PR lifecycle ---

func (s *MemoryStore) BeginPRCreation(ctx context.Context, analysisID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.analyses[analysisID]
	if !ok {
		return ErrNotFound
	}
	if rec.PRState != models.PRStateNone {
		return ErrPRInProgress
	}
	rec.PRState = models.PRStateCreating
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdatePR(ctx context.Context, analysisID uuid.UUID, state string, opts ...PRUpdateOption) error {
	params := &prUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.analyses[analysisID]
	if !ok {
		return ErrNotFound
	}
	rec.PRState = state
	if params.Number != nil {
		rec.PRNumber = *params.Number
	}
	if params.URL != nil {
		rec.PRURL = *params.URL
	}
	if params.Branch != nil {
		rec.PRBranch = *params.Branch
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Patterns ---

func (s *MemoryStore) CreatePattern(ctx context.Context, p *models.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.patterns {
		if existing.ID == p.ID {
			return ErrDuplicateKey
		}
	}
	stored := *p
	s.patterns = append(s.patterns, &stored)
	return nil
}

func (s *MemoryStore) ListPatterns(ctx context.Context, filter PatternFilter) ([]*models.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var patterns []*models.Pattern
	for _, p := range s.patterns {
		if filter.Kind != "" && p.Kind != filter.Kind {
			continue
		}
		if filter.ErrorType != "" && !strings.EqualFold(p.Signature.ErrorType, filter.ErrorType) {
			continue
		}
		copied := *p
		patterns = append(patterns, &copied)
	}

	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].CreatedAt.After(patterns[j].CreatedAt)
	})

	if filter.Limit > 0 && len(patterns) > filter.Limit {
		patterns = patterns[:filter.Limit]
	}
	return patterns, nil
}

func (s *MemoryStore) PatternStats(ctx context.Context) (*models.LearningStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.LearningStats
	for _, p := range s.patterns {
		stats.TotalEntries++
		switch p.Kind {
		case models.PatternKindFix:
			stats.TotalPatterns++
			if p.Confidence >= 0.8 {
				stats.HighConfidencePatterns++
			}
		case models.PatternKindAnti:
			stats.TotalAntipatterns++
		}
	}
	return &stats, nil
}

// --- Bootstrap state ---

func (s *MemoryStore) GetBootstrapState(ctx context.Context) (*models.BootstrapState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.bootstrap == nil {
		return nil, ErrNotFound
	}
	state := *s.bootstrap
	return &state, nil
}

func (s *MemoryStore) SetBootstrapState(ctx context.Context, state *models.BootstrapState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *state
	s.bootstrap = &copied
	return nil
}

// --- helpers ---

func copyAPIKey(k *models.APIKey) *models.APIKey {
	copied := *k
	copied.Scopes = append([]string(nil), k.Scopes...)
	return &copied
}

func copyQueueEntry(e *models.QueueEntry) *models.QueueEntry {
	copied := *e
	return &copied
}

func copyAnalysis(rec *models.AnalysisRecord) *models.AnalysisRecord {
	copied := *rec
	if rec.Result != nil {
		result := *rec.Result
		result.AffectedFiles = append([]string(nil), rec.Result.AffectedFiles...)
		copied.Result = &result
	}
	return &copied
}

func paginate[T any](items []T, page, limit int) []T {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
