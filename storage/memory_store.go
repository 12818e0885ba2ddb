package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"property-feed-sync/models"
)

// MemoryStore is an in-process PropertyStore used for dry runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byKey  map[string]*models.Property
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*models.Property), now: time.Now}
}

func (m *MemoryStore) LookupID(ctx context.Context, externalID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byKey[externalID]
	if !ok {
		return 0, ErrNotFound
	}
	return p.ID, nil
}

func (m *MemoryStore) Insert(ctx context.Context, p *models.Property) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[p.ExternalID]; ok {
		return fmt.Errorf("memory: insert %q: %w", p.ExternalID, ErrDuplicate)
	}
	m.nextID++
	now := m.now()
	p.ID, p.CreatedAt, p.UpdatedAt = m.nextID, now, now
	m.byKey[p.ExternalID] = clone(p)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, p *models.Property) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.byKey[p.ExternalID]
	if !ok {
		return fmt.Errorf("memory: update %q: %w", p.ExternalID, ErrNotFound)
	}
	p.ID, p.CreatedAt, p.UpdatedAt = old.ID, old.CreatedAt, m.now()
	m.byKey[p.ExternalID] = clone(p)
	return nil
}

// Get returns a copy of the stored property keyed by externalID.
func (m *MemoryStore) Get(externalID string) (*models.Property, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byKey[externalID]
	if !ok {
		return nil, false
	}
	return clone(p), true
}

// Len returns the number of stored properties.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}

func (m *MemoryStore) Close() error { return nil }

func clone(p *models.Property) *models.Property {
	c := *p
	c.Photos = append([]string(nil), p.Photos...)
	if p.Prestations != nil {
		c.Prestations = make(models.Prestations, len(p.Prestations))
		for k, v := range p.Prestations {
			c.Prestations[k] = v
		}
	}
	return &c
}
