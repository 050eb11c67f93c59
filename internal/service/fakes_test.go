package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akave-ai/tracectrl/internal/model"
)

var errBoom = errors.New("boom")

type memClients struct {
	mu     sync.Mutex
	nextID int32
	known  map[int32]int
	err    error
}

func newMemClients() *memClients {
	return &memClients{nextID: 1, known: map[int32]int{}}
}

func (m *memClients) Register(_ context.Context, requested *int32) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if requested != nil {
		if _, ok := m.known[*requested]; ok {
			m.known[*requested]++
			return *requested, nil
		}
	}
	id := m.nextID
	m.nextID++
	m.known[id] = 1
	return id, nil
}

func (m *memClients) Exists(_ context.Context, id int32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.known[id]
	return ok, nil
}

type memLogs struct {
	mu         sync.Mutex
	logs       []model.Log
	persistErr error
	readErr    error
	gets       int
}

func (m *memLogs) Persist(_ context.Context, log *model.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistErr != nil {
		return m.persistErr
	}
	m.logs = append(m.logs, *log)
	return nil
}

func (m *memLogs) List(_ context.Context, clientID *int32) ([]model.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := []model.Log{}
	for _, l := range m.logs {
		if clientID == nil || l.ClientID == *clientID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLogs) Get(_ context.Context, id uuid.UUID, clientID int32) (*model.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.readErr != nil {
		return nil, m.readErr
	}
	for _, l := range m.logs {
		if l.ID == id && l.ClientID == clientID {
			cp := l
			return &cp, nil
		}
	}
	return nil, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []*model.Log
	receivers int
	err       error
}

func (p *recordingPublisher) Publish(log *model.Log) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.published = append(p.published, log)
	return p.receivers, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]model.Log
	getErr  error
	setErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: map[uuid.UUID]model.Log{}}
}

func (c *memCache) Get(_ context.Context, clientID int32, id uuid.UUID) (*model.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	l, ok := c.entries[id]
	if !ok || l.ClientID != clientID {
		return nil, nil
	}
	return &l, nil
}

func (c *memCache) Set(_ context.Context, log *model.Log) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[log.ID] = *log
	return nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) ObserveIngest(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}
