package server

import (
	"sync"
	"sync/atomic"
)

// Registry is the process-local set of active connection ids. It exists for
// observability (connect/disconnect counts in logs and health output), not
// for delivery routing; the broker owns that. Count is an eventually
// consistent snapshot under concurrent mutation.
type Registry struct {
	sessions sync.Map // connID int64 → struct{}
	count    int64
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(id int64) {
	if _, loaded := r.sessions.LoadOrStore(id, struct{}{}); !loaded {
		atomic.AddInt64(&r.count, 1)
	}
}

func (r *Registry) Remove(id int64) {
	if _, loaded := r.sessions.LoadAndDelete(id); loaded {
		atomic.AddInt64(&r.count, -1)
	}
}

func (r *Registry) Count() int64 {
	return atomic.LoadInt64(&r.count)
}
