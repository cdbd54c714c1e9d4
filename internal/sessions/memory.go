package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beaconhq/beacon/pkg/models"
)

// maxMessagesPerSession caps how much history an in-process session
// keeps before trimming, matching SQLiteStore's GetHistory default so
// swapping backends doesn't change observed behavior.
const maxMessagesPerSession = 1000

// record pairs a session with its ordered transcript so a single map
// lookup serves both Get and GetHistory.
type record struct {
	session  models.Session
	messages []models.Message
}

// MemoryStore is a Store for tests and local `beaconctl` runs that
// don't want a SQLite file on disk. It mirrors SQLiteStore's
// contract exactly (same error strings, same trimming policy) so a
// test written against one backend behaves identically against the
// other.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*record
	idByKey map[string]string
}

// NewMemoryStore returns an empty, ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*record),
		idByKey: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if _, exists := m.byID[session.ID]; exists {
		return errors.New("session already exists")
	}
	now := time.Now()
	session.CreatedAt, session.UpdatedAt = now, now

	m.byID[session.ID] = &record{session: *session}
	if session.Key != "" {
		m.idByKey[session.Key] = session.ID
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	out := rec.session
	return &out, nil
}

func (m *MemoryStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	m.mu.RLock()
	id, ok := m.idByKey[key]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.New("session not found")
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[session.ID]
	if !ok {
		return errors.New("session not found")
	}
	createdAt := rec.session.CreatedAt
	rec.session = *session
	rec.session.CreatedAt = createdAt
	rec.session.UpdatedAt = time.Now()

	if rec.session.Key != "" {
		m.idByKey[rec.session.Key] = session.ID
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return errors.New("session not found")
	}
	delete(m.byID, id)
	if rec.session.Key != "" {
		delete(m.idByKey, rec.session.Key)
	}
	return nil
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	if existing, err := m.GetByKey(ctx, key); err == nil {
		return existing, nil
	}
	session := &models.Session{
		Key:       key,
		AgentID:   agentID,
		Channel:   channel,
		ChannelID: channelID,
	}
	if err := m.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (m *MemoryStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]models.Session, 0, len(m.byID))
	for _, rec := range m.byID {
		if agentID != "" && rec.session.AgentID != agentID {
			continue
		}
		if opts.Channel != "" && rec.session.Channel != opts.Channel {
			continue
		}
		matched = append(matched, rec.session)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start := opts.Offset
	if start < 0 || start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	out := make([]*models.Session, 0, end-start)
	for i := start; i < end; i++ {
		s := matched[i]
		out = append(out, &s)
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[sessionID]
	if !ok {
		return errors.New("session not found")
	}

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	rec.messages = append(rec.messages, stored)

	if over := len(rec.messages) - maxMessagesPerSession; over > 0 {
		rec.messages = rec.messages[over:]
	}
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[sessionID]
	if !ok {
		return []*models.Message{}, nil
	}

	start := 0
	if limit > 0 && len(rec.messages) > limit {
		start = len(rec.messages) - limit
	}
	out := make([]*models.Message, 0, len(rec.messages)-start)
	for i := start; i < len(rec.messages); i++ {
		msg := rec.messages[i]
		out = append(out, &msg)
	}
	return out, nil
}
