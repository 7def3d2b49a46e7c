// Package gfx is the boundary between resource lifecycle code and the
// graphics API. Resources that go online create backend objects through it
// and destroy them when they go offline; nothing else crosses.
package gfx

import (
	"errors"
	"sync"
)

// TextureHandle identifies a backend texture object.
type TextureHandle uint32

// InvalidTexture is the zero handle. A resource that is offline holds it.
const InvalidTexture TextureHandle = 0

// Backend creates and destroys device objects from compiled resource
// memory. Implementations must tolerate DestroyTexture on a handle that is
// already gone.
type Backend interface {
	CreateTexture(mem []byte) (TextureHandle, error)
	DestroyTexture(h TextureHandle)
}

// NullBackend satisfies Backend without a graphics device. Handles are
// sequential and Live reports how many are outstanding, which makes leak
// checks cheap in headless tools and tests.
type NullBackend struct {
	mu   sync.Mutex
	next TextureHandle
	live map[TextureHandle]int
}

func NewNullBackend() *NullBackend {
	return &NullBackend{live: make(map[TextureHandle]int)}
}

func (b *NullBackend) CreateTexture(mem []byte) (TextureHandle, error) {
	if len(mem) == 0 {
		return InvalidTexture, errors.New("gfx: empty texture memory")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.live[b.next] = len(mem)
	return b.next, nil
}

func (b *NullBackend) DestroyTexture(h TextureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.live, h)
}

// Live returns the number of outstanding textures.
func (b *NullBackend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}
