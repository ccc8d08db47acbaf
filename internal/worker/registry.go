// Package worker implements the in-process polling agent (C8) that claims
// jobs from the control plane, runs them through a bounded-concurrency task
// queue (C9), and reports results back.
package worker

import (
	"fmt"
	"sync"
)

// HandlerFunc executes one job's target function. The returned bytes become
// the resolution result; a non-nil error becomes a rejection result.
type HandlerFunc func(targetArgs []byte) ([]byte, error)

// Registration describes one registered function: its handler plus the
// service it belongs to and its idempotency/retry hints. The polling agent
// does not send these hints to the Dispatcher; it uses only the handler.
type Registration struct {
	Fn         HandlerFunc
	Service    string
	Idempotent bool
	MaxRetries int
}

// Registry is the process-wide function table, keyed by function name.
// Function names are unique within a single Registry instance (ordinarily
// one per process, per spec §9's open question on registry scope).
type Registry struct {
	mu   sync.RWMutex
	regs map[string]Registration
}

// NewRegistry constructs an empty function registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]Registration)}
}

// Register adds fn under name, scoped to service. It fails if name is
// already registered (spec §4.8: "name already registered").
func (r *Registry) Register(name string, reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.regs[name]; exists {
		return fmt.Errorf("op=registry.register: name %q already registered", name)
	}
	r.regs[name] = reg
	return nil
}

// Lookup returns the registration for name, if any.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[name]
	return reg, ok
}

// NamesForService returns the registered function names scoped to service,
// in no particular order.
func (r *Registry) NamesForService(service string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.regs))
	for name, reg := range r.regs {
		if reg.Service == service {
			names = append(names, name)
		}
	}
	return names
}
