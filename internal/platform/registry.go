package platform

import (
	"sort"
	"sync"
)

// Registry resolves adapters by platform name. The engine fails a dispatch
// fast when no adapter is registered for a requested platform.
type Registry struct {
	mu  sync.RWMutex
	reg map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{reg: map[string]Adapter{}}
}

func (r *Registry) Register(adapters ...Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range adapters {
		if a == nil {
			continue
		}
		r.reg[a.Name()] = a
	}
}

// Replace swaps in a whole new adapter set. Platforms absent from the new
// set are dropped; used on config reload so removed platforms stop being
// dispatchable.
func (r *Registry) Replace(adapters ...Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reg = make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		if a != nil {
			r.reg[a.Name()] = a
		}
	}
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.reg[name]
	return a, ok
}

// Names returns registered platform names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.reg))
	for name := range r.reg {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
