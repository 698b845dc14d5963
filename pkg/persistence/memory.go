package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pailflow/pailflow/pkg/models"
	"github.com/pailflow/pailflow/pkg/pkgerrors"
)

// MemoryAdapter is an in-process, mutex-guarded Adapter implementation used
// for development and in package tests that don't need a real Postgres
// (persistence-adapter round-trip tests use the Postgres adapter with
// testcontainers instead; this one backs orchestrator/workflow/postcall
// unit tests).
type MemoryAdapter struct {
	mu sync.Mutex

	threads      map[string]*models.WorkflowThread
	botSessions  map[string]*models.BotSession
	checkpoints  map[string]map[string][]byte // threadID -> checkpointID -> state
	users        map[string]*models.User      // keyed by unkey id
	usersByID    map[string]*models.User
	transactions map[string]*models.UsageTransaction // keyed by workflow_thread_id
}

// NewMemoryAdapter constructs an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		threads:      make(map[string]*models.WorkflowThread),
		botSessions:  make(map[string]*models.BotSession),
		checkpoints:  make(map[string]map[string][]byte),
		users:        make(map[string]*models.User),
		usersByID:    make(map[string]*models.User),
		transactions: make(map[string]*models.UsageTransaction),
	}
}

// SeedUser inserts a user directly, for test setup.
func (m *MemoryAdapter) SeedUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.UnkeyID] = &cp
	m.usersByID[u.ID] = &cp
}

func cloneThread(t *models.WorkflowThread) *models.WorkflowThread {
	cp := *t
	return &cp
}

func (m *MemoryAdapter) CreateWorkflowThread(_ context.Context, t *models.WorkflowThread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.threads[t.WorkflowThreadID]; exists {
		return pkgerrors.ErrAlreadyExists
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	m.threads[t.WorkflowThreadID] = cloneThread(t)
	return nil
}

func (m *MemoryAdapter) GetWorkflowThread(_ context.Context, id string) (*models.WorkflowThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return cloneThread(t), nil
}

func (m *MemoryAdapter) UpdateWorkflowThread(_ context.Context, t *models.WorkflowThread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[t.WorkflowThreadID]; !ok {
		return pkgerrors.ErrNotFound
	}
	t.UpdatedAt = time.Now()
	m.threads[t.WorkflowThreadID] = cloneThread(t)
	return nil
}

func (m *MemoryAdapter) FindPausedThreadByRoomName(_ context.Context, roomName string) (*models.WorkflowThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.WorkflowThread
	for _, t := range m.threads {
		if t.RoomName != roomName || !t.WorkflowPaused {
			continue
		}
		if best == nil || t.UpdatedAt.After(best.UpdatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, pkgerrors.ErrNotFound
	}
	return cloneThread(best), nil
}

func (m *MemoryAdapter) CreateBotSession(_ context.Context, s *models.BotSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.botSessions[s.BotID] = &cp
	return nil
}

func (m *MemoryAdapter) UpdateBotSession(_ context.Context, s *models.BotSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.botSessions[s.BotID]; !ok {
		return pkgerrors.ErrNotFound
	}
	cp := *s
	m.botSessions[s.BotID] = &cp
	return nil
}

func (m *MemoryAdapter) GetBotSession(_ context.Context, botID string) (*models.BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.botSessions[botID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryAdapter) PutCheckpoint(_ context.Context, threadID string, state []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byCheckpoint, ok := m.checkpoints[threadID]
	if !ok {
		byCheckpoint = make(map[string][]byte)
		m.checkpoints[threadID] = byCheckpoint
	}
	id := uuid.NewString()
	stateCopy := append([]byte(nil), state...)
	byCheckpoint[id] = stateCopy
	return id, nil
}

func (m *MemoryAdapter) GetCheckpoint(_ context.Context, threadID, checkpointID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byCheckpoint, ok := m.checkpoints[threadID]
	if !ok {
		return nil, pkgerrors.ErrCheckpointMissing
	}
	state, ok := byCheckpoint[checkpointID]
	if !ok {
		return nil, pkgerrors.ErrCheckpointMissing
	}
	return append([]byte(nil), state...), nil
}

func (m *MemoryAdapter) GetUserByUnkeyID(_ context.Context, unkeyID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[unkeyID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryAdapter) DebitUser(_ context.Context, userID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usersByID[userID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	u.CreditBalance -= amount
	m.users[u.UnkeyID] = u
	return nil
}

func (m *MemoryAdapter) CreateUsageTransaction(_ context.Context, tx *models.UsageTransaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tx.Metadata.WorkflowThreadID
	if _, exists := m.transactions[key]; exists {
		return false, nil // I5: duplicate-creation attempts are idempotent no-ops
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	cp := *tx
	m.transactions[key] = &cp
	return true, nil
}

func (m *MemoryAdapter) HasUsageTransaction(_ context.Context, workflowThreadID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.transactions[workflowThreadID]
	return ok, nil
}

var _ Adapter = (*MemoryAdapter)(nil)
