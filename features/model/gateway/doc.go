// Package gateway composes middleware around a model adapter. The result is
// itself a model.Adapter and can be registered in a model.Registry in place
// of the provider adapter it wraps.
package gateway
