package resource

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/Janders1800/crown/engine/core"
	"github.com/Janders1800/crown/engine/gfx"
)

// State is the lifecycle position of a loaded resource instance.
// Transitions: Unloaded -> Loaded -> Online <-> Offline -> Unloaded.
type State uint8

const (
	StateUnloaded State = iota
	StateLoaded
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	}
	return "invalid"
}

type entry struct {
	handler *Handler
	label   string
	refs    int
	state   State
	payload []byte
	obj     interface{}
}

// Manager owns every loaded resource and moves instances through the
// lifecycle. Instances are reference counted: repeated Load of the same
// resource is cheap, and only the release of the last reference frees it.
//
// Bookkeeping is serialized internally. Online and Offline handler
// callbacks run outside the manager lock so a resource may acquire the
// resources it references through the same manager; transitioning one
// instance from two goroutines at once is a caller error.
type Manager struct {
	mu       sync.Mutex
	reg      *Registry
	backend  gfx.Backend
	dataDir  string
	platform string
	entries  map[ID]*entry
}

// NewManager builds a manager that reads compiled data from
// <dataDir>/<platform>/ and attaches backend objects through backend.
func NewManager(reg *Registry, backend gfx.Backend, dataDir, platform string) *Manager {
	return &Manager{
		reg:      reg,
		backend:  backend,
		dataDir:  dataDir,
		platform: platform,
		entries:  make(map[ID]*entry),
	}
}

// Backend returns the graphics boundary handlers attach through.
func (m *Manager) Backend() gfx.Backend { return m.backend }

func (m *Manager) handler(typeName string) (*Handler, error) {
	h, ok := m.reg.Lookup(typeName)
	if !ok {
		return nil, newError(ErrUnknownType, typeName, "no handler registered")
	}
	return h, nil
}

func label(typeName, name string) string {
	return name + "." + typeName
}

// Load makes the resource resident. If it already is, this only takes a
// reference. The header tag is validated against the registered schema
// before a single payload byte is interpreted.
func (m *Manager) Load(typeName, name string) error {
	h, err := m.handler(typeName)
	if err != nil {
		return err
	}
	return m.load(h, MakeID(typeName, name), label(typeName, name))
}

// LoadID is Load for a resource known only by its ID, e.g. one referenced
// from inside another resource's compiled data.
func (m *Manager) LoadID(typeName string, id ID) error {
	h, err := m.handler(typeName)
	if err != nil {
		return err
	}
	return m.load(h, id, id.String()+"."+typeName)
}

func (m *Manager) load(h *Handler, id ID, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entries[id]; e != nil {
		e.refs++
		return nil
	}

	path := filepath.Join(m.dataDir, m.platform, id.String())
	data, err := os.ReadFile(path)
	if err != nil {
		return &Error{Code: ErrSourceNotFound, Asset: label, Msg: "compiled data not found", Err: err}
	}
	if err := m.validateTag(h, label, data); err != nil {
		return err
	}
	payload, err := Payload(data)
	if err != nil {
		perr := err.(*Error)
		perr.Asset = label
		return perr
	}
	obj := interface{}(payload)
	if h.Load != nil {
		obj, err = h.Load(payload)
		if err != nil {
			var e *Error
			if errors.As(err, &e) && e.Asset == "" {
				e.Asset = label
			}
			return err
		}
	}
	m.entries[id] = &entry{handler: h, label: label, refs: 1, state: StateLoaded, payload: payload, obj: obj}
	core.LogDebug("loaded %s (%d bytes)", label, len(payload))
	return nil
}

func (m *Manager) validateTag(h *Handler, label string, data []byte) error {
	tag, err := ReadTag(data)
	if err != nil {
		terr := err.(*Error)
		terr.Asset = label
		return terr
	}
	t, rev := SplitTag(tag)
	if t != h.Type {
		if _, known := m.reg.LookupType(t); !known {
			return newError(ErrUnknownType, label, "blob carries unregistered type value %d", t)
		}
		return newError(ErrCorrupt, label, "blob carries type value %d, expected %d", t, h.Type)
	}
	if rev != h.Revision {
		return newError(ErrVersionMismatch, label, "schema revision %d on disk, runtime expects %d", rev, h.Revision)
	}
	return nil
}

// Online attaches the resource's backend objects. Legal from Loaded or
// Offline.
func (m *Manager) Online(typeName, name string) error {
	return m.OnlineID(typeName, MakeID(typeName, name))
}

func (m *Manager) OnlineID(typeName string, id ID) error {
	h, err := m.handler(typeName)
	if err != nil {
		return err
	}
	m.mu.Lock()
	e := m.entries[id]
	if e == nil {
		m.mu.Unlock()
		return newError(ErrBadTransition, id.String()+"."+typeName, "online while not loaded")
	}
	if e.state != StateLoaded && e.state != StateOffline {
		m.mu.Unlock()
		return newError(ErrBadTransition, e.label, "online from %s", e.state)
	}
	obj := e.obj
	m.mu.Unlock()

	if h.Online != nil {
		if err := h.Online(m, id, obj); err != nil {
			return err
		}
	}

	m.mu.Lock()
	e.state = StateOnline
	m.mu.Unlock()
	return nil
}

// Offline detaches the resource's backend objects. Legal from Online; the
// payload stays resident and the resource may go online again without a
// new Load.
func (m *Manager) Offline(typeName, name string) error {
	return m.OfflineID(typeName, MakeID(typeName, name))
}

func (m *Manager) OfflineID(typeName string, id ID) error {
	h, err := m.handler(typeName)
	if err != nil {
		return err
	}
	m.mu.Lock()
	e := m.entries[id]
	if e == nil {
		m.mu.Unlock()
		return newError(ErrBadTransition, id.String()+"."+typeName, "offline while not loaded")
	}
	if e.state != StateOnline {
		m.mu.Unlock()
		return newError(ErrBadTransition, e.label, "offline from %s", e.state)
	}
	obj := e.obj
	m.mu.Unlock()

	if h.Offline != nil {
		h.Offline(m, id, obj)
	}

	m.mu.Lock()
	e.state = StateOffline
	m.mu.Unlock()
	return nil
}

// Unload releases one reference. Releasing the last reference frees the
// instance and is legal only from Offline; unloading an online resource is
// a usage error, reported, never masked.
func (m *Manager) Unload(typeName, name string) error {
	return m.UnloadID(typeName, MakeID(typeName, name))
}

func (m *Manager) UnloadID(typeName string, id ID) error {
	h, err := m.handler(typeName)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil {
		return newError(ErrBadTransition, id.String()+"."+typeName, "unload while not loaded")
	}
	if e.refs > 1 {
		e.refs--
		return nil
	}
	if e.state != StateOffline {
		return newError(ErrBadTransition, e.label, "unload from %s", e.state)
	}
	if h.Unload != nil {
		h.Unload(e.obj)
	}
	delete(m.entries, id)
	core.LogDebug("unloaded %s", e.label)
	return nil
}

// discardLoaded takes back a reference whose follow-up online failed. A
// shared instance just loses the reference; a sole reference is freed
// directly from Loaded, since an instance that never went online has no
// backend objects to detach.
func (m *Manager) discardLoaded(typeName string, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil {
		return newError(ErrBadTransition, id.String()+"."+typeName, "unload while not loaded")
	}
	if e.refs > 1 {
		e.refs--
		return nil
	}
	if e.state != StateLoaded {
		return newError(ErrBadTransition, e.label, "unload from %s", e.state)
	}
	if e.handler.Unload != nil {
		e.handler.Unload(e.obj)
	}
	delete(m.entries, id)
	core.LogDebug("unloaded %s", e.label)
	return nil
}

// Get returns the runtime object of a resident resource.
func (m *Manager) Get(typeName, name string) (interface{}, bool) {
	return m.GetID(MakeID(typeName, name))
}

func (m *Manager) GetID(id ID) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil {
		return nil, false
	}
	return e.obj, true
}

// State reports the lifecycle position; StateUnloaded when not resident.
func (m *Manager) State(typeName, name string) State {
	return m.StateID(MakeID(typeName, name))
}

func (m *Manager) StateID(id ID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil {
		return StateUnloaded
	}
	return e.state
}

// Refs reports the reference count; 0 when not resident.
func (m *Manager) Refs(typeName, name string) int {
	return m.RefsID(MakeID(typeName, name))
}

func (m *Manager) RefsID(id ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil {
		return 0
	}
	return e.refs
}
