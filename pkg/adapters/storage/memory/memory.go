package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eimribar/stageflow/pkg/domain"
)

// StageStore implements ports.StageStore using an in-memory map. Reads and
// writes exchange deep copies so callers never share state with the store.
type StageStore struct {
	mu     sync.RWMutex
	stages map[string]*domain.Stage
}

// NewStageStore creates an empty in-memory stage store.
func NewStageStore() *StageStore {
	return &StageStore{stages: make(map[string]*domain.Stage)}
}

// List returns the project's stages ordered by number index.
func (s *StageStore) List(ctx context.Context, projectID string) ([]*domain.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stages []*domain.Stage
	for _, st := range s.stages {
		if st.ProjectID == projectID {
			stages = append(stages, st.Clone())
		}
	}
	sort.Slice(stages, func(i, j int) bool {
		if stages[i].NumberIndex != stages[j].NumberIndex {
			return stages[i].NumberIndex < stages[j].NumberIndex
		}
		return stages[i].ID < stages[j].ID
	})
	return stages, nil
}

// Get returns a copy of one stage.
func (s *StageStore) Get(ctx context.Context, id string) (*domain.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return st.Clone(), nil
}

// Update applies a partial update atomically under the store lock.
func (s *StageStore) Update(ctx context.Context, id string, update domain.StageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stages[id]
	if !ok {
		return domain.ErrNotFound
	}

	if update.Status != nil {
		st.Status = *update.Status
	}
	if update.AssignedTo != nil {
		st.AssignedTo = *update.AssignedTo
	}
	if update.Dependencies != nil {
		st.Dependencies = append([]string(nil), update.Dependencies...)
	}
	if update.StartDate != nil {
		t := *update.StartDate
		st.StartDate = &t
	}
	if update.EndDate != nil {
		t := *update.EndDate
		st.EndDate = &t
	}
	if update.ClearStartDate {
		st.StartDate = nil
	}
	if update.ClearEndDate {
		st.EndDate = nil
	}
	st.UpdatedAt = time.Now().UTC()
	return nil
}

// BulkCreate inserts stages, rejecting duplicate ids.
func (s *StageStore) BulkCreate(ctx context.Context, stages []*domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range stages {
		if _, exists := s.stages[st.ID]; exists {
			return fmt.Errorf("stage %s already exists", st.ID)
		}
	}
	for _, st := range stages {
		s.stages[st.ID] = st.Clone()
	}
	return nil
}

// AuditStore implements ports.AuditStore as an in-memory append-only log.
type AuditStore struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

// NewAuditStore creates an empty in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Create appends an entry.
func (a *AuditStore) Create(ctx context.Context, entry *domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cp := *entry
	a.entries = append(a.entries, &cp)
	return nil
}

// Entries returns a snapshot of all entries, oldest first.
func (a *AuditStore) Entries() []*domain.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*domain.AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// ProjectStore implements ports.ProjectStore, keeping the latest progress
// rollup per project.
type ProjectStore struct {
	mu       sync.RWMutex
	progress map[string]int
	updated  map[string]time.Time
}

// NewProjectStore creates an empty in-memory project store.
func NewProjectStore() *ProjectStore {
	return &ProjectStore{
		progress: make(map[string]int),
		updated:  make(map[string]time.Time),
	}
}

// UpdateProgress records the project's aggregate progress.
func (p *ProjectStore) UpdateProgress(ctx context.Context, projectID string, progress int, updatedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.progress[projectID] = progress
	p.updated[projectID] = updatedAt
	return nil
}

// Progress returns the last recorded progress for a project.
func (p *ProjectStore) Progress(projectID string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	progress, ok := p.progress[projectID]
	return progress, ok
}
