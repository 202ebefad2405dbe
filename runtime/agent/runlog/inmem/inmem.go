// Package inmem provides an in-memory run log.
//
// The in-memory store is intended for tests and local development. It is not
// durable and should not be used in production.
package inmem

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"goa.design/symposium/runtime/agent/runlog"
)

type (
	// Store implements runlog.Logger in memory and notifies listeners of
	// every entry.
	Store struct {
		mu sync.Mutex
		// per-agent monotonically increasing sequence.
		nextSeq map[string]int64
		// per-agent ordered entries.
		entries   map[string][]*runlog.Entry
		listeners map[int]func(*runlog.Entry)
		nextLis   int
		now       func() time.Time
	}
)

// New returns a new in-memory run log.
func New() *Store {
	return &Store{
		nextSeq:   make(map[string]int64),
		entries:   make(map[string][]*runlog.Entry),
		listeners: make(map[int]func(*runlog.Entry)),
		now:       time.Now,
	}
}

// Log implements runlog.Logger.
func (s *Store) Log(_ context.Context, agent string, eventType runlog.EventType, payload any) {
	e := runlog.NewEntry(agent, eventType, payload, s.now())

	s.mu.Lock()
	seq := s.nextSeq[agent] + 1
	s.nextSeq[agent] = seq
	e.ID = strconv.FormatInt(seq, 10)
	s.entries[agent] = append(s.entries[agent], e)
	listeners := make([]func(*runlog.Entry), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(e)
	}
}

// Listen registers fn to be called after every entry is stored. The
// returned function removes the listener.
func (s *Store) Listen(fn func(*runlog.Entry)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextLis
	s.nextLis++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// List returns the next forward page of entries logged by agent.
func (s *Store) List(_ context.Context, agent string, cursor string, limit int) (runlog.Page, error) {
	if agent == "" {
		return runlog.Page{}, fmt.Errorf("agent is required")
	}
	if limit <= 0 {
		return runlog.Page{}, fmt.Errorf("limit must be > 0")
	}

	var after int64
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return runlog.Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		after = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.entries[agent]
	// IDs are 1-based sequence numbers, so start at index == after.
	start := int(after)
	if start >= len(all) {
		return runlog.Page{}, nil
	}
	end := min(start+limit, len(all))

	entries := append([]*runlog.Entry(nil), all[start:end]...)
	var next string
	if end < len(all) {
		next = entries[len(entries)-1].ID
	}
	return runlog.Page{Entries: entries, NextCursor: next}, nil
}
