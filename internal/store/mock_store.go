// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	workspaces map[string]*Workspace          // keyed by workspace ID
	teams      map[string]string              // keyed by team ID -> workspace ID
	records    map[string]*ConversationRecord // keyed by "workspace:channel:ts"
	analyses   []*ChannelAnalysisResult       // insertion order
	jobs       map[string]*Job                // keyed by job ID
	seq        map[string]int                 // record key -> insertion sequence
	next       int

	// Hooks let tests inject failures.
	CreateAnalysisErr error
	SaveExchangeErr   error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		workspaces: make(map[string]*Workspace),
		teams:      make(map[string]string),
		records:    make(map[string]*ConversationRecord),
		jobs:       make(map[string]*Job),
		seq:        make(map[string]int),
	}
}

func recordKey(workspaceID, channelID, ts string) string {
	return workspaceID + ":" + channelID + ":" + ts
}

// UpsertWorkspace creates or updates a workspace keyed by TeamID.
func (m *MockStore) UpsertWorkspace(ctx context.Context, ws *Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ws.TeamID == "" {
		return errors.New("workspace team_id is required")
	}
	now := time.Now().UTC()
	if id, ok := m.teams[ws.TeamID]; ok {
		ws.ID = id
		ws.CreatedAt = m.workspaces[id].CreatedAt
	} else {
		if ws.ID == "" {
			ws.ID = uuid.New().String()
		}
		if ws.CreatedAt.IsZero() {
			ws.CreatedAt = now
		}
	}
	ws.UpdatedAt = now

	w := *ws
	m.workspaces[w.ID] = &w
	m.teams[w.TeamID] = w.ID
	return nil
}

// GetWorkspace retrieves a workspace by ID.
func (m *MockStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, ok := m.workspaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	w := *ws
	return &w, nil
}

// GetWorkspaceByTeamID retrieves a workspace by Slack team ID.
func (m *MockStore) GetWorkspaceByTeamID(ctx context.Context, teamID string) (*Workspace, error) {
	m.mu.RLock()
	id, ok := m.teams[teamID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetWorkspace(ctx, id)
}

// ListWorkspaces returns all workspaces ordered by team name.
func (m *MockStore) ListWorkspaces(ctx context.Context) ([]*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		w := *ws
		out = append(out, &w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TeamName != out[j].TeamName {
			return out[i].TeamName < out[j].TeamName
		}
		return out[i].TeamID < out[j].TeamID
	})
	return out, nil
}

func (m *MockStore) insertRecordLocked(rec *ConversationRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Kind == "" {
		rec.Kind = KindText
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	key := recordKey(rec.WorkspaceID, rec.ChannelID, rec.MessageTS)
	r := *rec
	m.records[key] = &r
	m.next++
	m.seq[key] = m.next
}

// EnsureConversationRecord inserts rec unless it already exists.
func (m *MockStore) EnsureConversationRecord(ctx context.Context, rec *ConversationRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[recordKey(rec.WorkspaceID, rec.ChannelID, rec.MessageTS)]; ok {
		return false, nil
	}
	m.insertRecordLocked(rec)
	return true, nil
}

// SaveExchange stores a message with its reply.
func (m *MockStore) SaveExchange(ctx context.Context, rec *ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveExchangeErr != nil {
		return m.SaveExchangeErr
	}
	if existing, ok := m.records[recordKey(rec.WorkspaceID, rec.ChannelID, rec.MessageTS)]; ok {
		if existing.Response == "" {
			existing.Response = rec.Response
		}
		return nil
	}
	m.insertRecordLocked(rec)
	return nil
}

// GetConversationRecord retrieves a record by its natural key.
func (m *MockStore) GetConversationRecord(ctx context.Context, workspaceID, channelID, messageTS string) (*ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[recordKey(workspaceID, channelID, messageTS)]
	if !ok {
		return nil, ErrNotFound
	}
	r := *rec
	return &r, nil
}

// RecentConversationRecords returns records for the channel, newest Slack ts first.
func (m *MockStore) RecentConversationRecords(ctx context.Context, workspaceID, channelID string, limit int) ([]*ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ConversationRecord
	for _, rec := range m.records {
		if rec.WorkspaceID == workspaceID && rec.ChannelID == channelID {
			r := *rec
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := tsValue(out[i].MessageTS), tsValue(out[j].MessageTS)
		if ti != tj {
			return ti > tj
		}
		ki := recordKey(out[i].WorkspaceID, out[i].ChannelID, out[i].MessageTS)
		kj := recordKey(out[j].WorkspaceID, out[j].ChannelID, out[j].MessageTS)
		return m.seq[ki] > m.seq[kj]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tsValue matches SQLite's CAST(message_ts AS REAL): unparsable values sort as 0.
func tsValue(ts string) float64 {
	v, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return v
}

// RecordCount returns the number of stored conversation records.
func (m *MockStore) RecordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// CreateAnalysisResult stores an analysis result.
func (m *MockStore) CreateAnalysisResult(ctx context.Context, res *ChannelAnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateAnalysisErr != nil {
		return m.CreateAnalysisErr
	}
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	r := *res
	m.analyses = append(m.analyses, &r)
	return nil
}

// ListAnalysisResults returns results for the channel, newest first.
func (m *MockStore) ListAnalysisResults(ctx context.Context, workspaceID, channelID string, limit int) ([]*ChannelAnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ChannelAnalysisResult
	for i := len(m.analyses) - 1; i >= 0; i-- {
		res := m.analyses[i]
		if res.WorkspaceID != workspaceID || res.ChannelID != channelID {
			continue
		}
		r := *res
		out = append(out, &r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CreateJob enqueues a job.
func (m *MockStore) CreateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.RunAfter.IsZero() {
		job.RunAfter = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = JobQueued
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	j := *job
	m.jobs[j.ID] = &j
	return nil
}

// GetJob retrieves a job by ID.
func (m *MockStore) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	j := *job
	return &j, nil
}

// ClaimJob moves the oldest runnable queued job to running.
func (m *MockStore) ClaimJob(ctx context.Context, now time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Job
	for _, job := range m.jobs {
		if job.Status != JobQueued || job.RunAfter.After(now) {
			continue
		}
		if best == nil || job.RunAfter.Before(best.RunAfter) ||
			(job.RunAfter.Equal(best.RunAfter) && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	best.Status = JobRunning
	best.Attempts++
	best.UpdatedAt = now
	j := *best
	return &j, nil
}

// CompleteJob marks a job succeeded.
func (m *MockStore) CompleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = JobSucceeded
	job.LastError = ""
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// FailJob records an error, requeueing when retryAt is set.
func (m *MockStore) FailJob(ctx context.Context, id, lastErr string, retryAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.LastError = lastErr
	job.UpdatedAt = time.Now().UTC()
	if retryAt != nil {
		job.Status = JobQueued
		job.RunAfter = *retryAt
	} else {
		job.Status = JobFailed
	}
	return nil
}

// RequeueRunningJobs returns running jobs to the queue.
func (m *MockStore) RequeueRunningJobs(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, job := range m.jobs {
		if job.Status == JobRunning {
			job.Status = JobQueued
			n++
		}
	}
	return n, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)
