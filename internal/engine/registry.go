// Package engine dispatches persisted messages to their business handlers and
// drives the delivery of the replies. Every message is persisted before it is
// processed, processing happens in a single transaction together with the
// reply enqueue, and a periodic sweep re-submits anything non-terminal, so a
// crash at any point is recovered by replaying from the database.
package engine

import (
	"context"
	"fmt"

	"github.com/bdosoa/bdosoa/internal/spg"
	"github.com/bdosoa/bdosoa/internal/store"
)

// Handler processes one inbound message inside a transaction. A non-nil reply
// is enqueued for delivery atomically with the status transition of the
// original. Returning an error rolls the whole unit back.
type Handler func(ctx context.Context, tx *store.Stores, msg *spg.Message) (*spg.Message, error)

// Registry maps command tags to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a command tag. Registering the same tag twice
// is a programming error.
func (r *Registry) Register(tag string, h Handler) {
	if _, dup := r.handlers[tag]; dup {
		panic(fmt.Sprintf("engine: duplicate handler for %q", tag))
	}
	r.handlers[tag] = h
}

// Lookup returns the handler for a command tag.
func (r *Registry) Lookup(tag string) (Handler, bool) {
	h, ok := r.handlers[tag]
	return h, ok
}

// DefaultRegistry returns a registry with every protocol command bound to its
// standard handler.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("SVCreateDownload", handleSVCreateDownload)
	r.Register("SVDeleteDownload", handleSVDeleteDownload)
	r.Register("QueryBdoSVs", handleQueryBdoSVs)
	r.Register("SVQueryReply", handleLogOnly)
	r.Register("BDRError", handleLogOnly)
	return r
}
