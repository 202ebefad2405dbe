// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests and local development. Production deployments should
// use a durable implementation (for example features/session/mongo).
package inmem

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/session"
)

type (
	// Store is an in-memory implementation of session.Store.
	// It is safe for concurrent use.
	Store struct {
		mu      sync.RWMutex
		records map[string]entry
		now     func() time.Time
	}

	// Records are kept encoded so that callers never share state with the
	// store and encoding problems surface as they would with a real backend.
	entry struct {
		data      []byte
		expiresAt time.Time
	}
)

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]entry), now: time.Now}
}

// Get implements session.Store.
func (s *Store) Get(_ context.Context, key string) (*model.Record, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	s.mu.RLock()
	e, ok := s.records[key]
	s.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)) {
		return nil, session.ErrNotFound
	}
	var rec model.Record
	if err := json.Unmarshal(e.data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Set implements session.Store.
func (s *Store) Set(_ context.Context, key string, rec *model.Record, ttl time.Duration) error {
	if key == "" {
		return errors.New("key is required")
	}
	if rec == nil {
		return errors.New("record is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	e := entry{data: data}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.records[key] = e
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored keys, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
