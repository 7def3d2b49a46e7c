package resource

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// Handler implements one resource type. Name doubles as the source file
// extension the pipeline scans for. Compile may be nil on runtime-only
// builds; Load, Online, Offline and Unload may be nil when a type has
// nothing to do for that step, the lifecycle state still advances.
type Handler struct {
	Name     string
	Type     Type
	Revision uint16

	Compile func(*CompileOptions) error
	Load    func(payload []byte) (interface{}, error)
	Online  func(*Manager, ID, interface{}) error
	Offline func(*Manager, ID, interface{})
	Unload  func(interface{})
}

// Tag returns the header tag compiled data of this type carries.
func (h *Handler) Tag() uint32 {
	return Tag(h.Type, h.Revision)
}

// Registry maps resource types to their handlers. It is populated once at
// process start and injected wherever dispatch is needed; an unregistered
// type encountered at compile or load time is a configuration fault, never
// a silent no-op.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Handler
	byType map[Type]*Handler
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Handler),
		byType: make(map[Type]*Handler),
	}
}

// Register adds a handler. Duplicate names and duplicate type values are
// rejected.
func (r *Registry) Register(h Handler) error {
	if h.Name == "" {
		return fmt.Errorf("registry: handler has no name")
	}
	if h.Type == 0 {
		return fmt.Errorf("registry: handler %q has no type value", h.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[h.Name]; ok {
		return fmt.Errorf("registry: type %q already registered", h.Name)
	}
	if prev, ok := r.byType[h.Type]; ok {
		return fmt.Errorf("registry: type value %d already used by %q", h.Type, prev.Name)
	}
	hc := h
	r.byName[h.Name] = &hc
	r.byType[h.Type] = &hc
	return nil
}

// Lookup returns the handler for a type name.
func (r *Registry) Lookup(name string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// LookupType returns the handler for a wire type value.
func (r *Registry) LookupType(t Type) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byType[t]
	return h, ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Builtin returns a registry with every resource type the engine ships.
func Builtin() *Registry {
	r := NewRegistry()
	for _, h := range []Handler{textureHandler(), materialHandler(), fontHandler()} {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
	return r
}
