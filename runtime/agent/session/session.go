// Package session defines the thread store contract.
//
// Threads are persisted as model.Record values under keys built by the
// engine from the agent and thread identifiers. Stores treat keys as opaque.
package session

import (
	"context"
	"errors"
	"time"

	"goa.design/symposium/runtime/agent/model"
)

type (
	// Store persists thread records.
	//
	// Store implementations must be durable: failures are surfaced to callers
	// so that a turn never silently loses history.
	Store interface {
		// Get loads the record stored under key. It returns ErrNotFound when
		// the key does not exist or expired.
		Get(ctx context.Context, key string) (*model.Record, error)
		// Set stores rec under key. A zero ttl means no expiry.
		Set(ctx context.Context, key string, rec *model.Record, ttl time.Duration) error
	}
)

// ErrNotFound indicates a key does not exist in the store.
var ErrNotFound = errors.New("thread not found")

// ThreadKey returns the storage key of thread id owned by agent.
func ThreadKey(agent, id string) string {
	return "thread-" + agent + "-" + id
}
