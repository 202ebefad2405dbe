// Package mongo provides a MongoDB-backed implementation of session.Store.
// Build the low-level client via features/session/mongo/clients/mongo and
// pass it to NewStore.
package mongo
