package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Janders1800/crown/engine/gfx"
)

func writeBlob(t *testing.T, dataDir, platform string, id ID, tag uint32, payload []byte) {
	t.Helper()
	blob := append(EncodeHeader(tag, uint32(len(payload))), payload...)
	dir := filepath.Join(dataDir, platform)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, id.String()), blob, 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestManager(t *testing.T) (*Manager, *gfx.NullBackend, string) {
	t.Helper()
	backend := gfx.NewNullBackend()
	dataDir := t.TempDir()
	return NewManager(Builtin(), backend, dataDir, "linux"), backend, dataDir
}

func TestManagerLifecycle(t *testing.T) {
	m, backend, dataDir := newTestManager(t)
	pixels := []byte("RGBA pixels")
	writeBlob(t, dataDir, "linux", MakeID("texture", "lena"), Tag(TypeTexture, TextureVersion), pixels)

	if err := m.Load("texture", "lena"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s := m.State("texture", "lena"); s != StateLoaded {
		t.Fatalf("state = %v, want loaded", s)
	}
	obj, ok := m.Get("texture", "lena")
	if !ok {
		t.Fatal("Get failed")
	}
	tex := obj.(*Texture)
	if string(tex.Memory) != string(pixels) {
		t.Errorf("payload = %q", tex.Memory)
	}
	if tex.Handle != gfx.InvalidTexture {
		t.Error("handle attached before online")
	}

	if err := m.Online("texture", "lena"); err != nil {
		t.Fatalf("Online: %v", err)
	}
	if backend.Live() != 1 {
		t.Errorf("live textures = %d, want 1", backend.Live())
	}
	if tex.Handle == gfx.InvalidTexture {
		t.Error("no handle while online")
	}

	if err := m.Offline("texture", "lena"); err != nil {
		t.Fatalf("Offline: %v", err)
	}
	if backend.Live() != 0 {
		t.Errorf("live textures = %d, want 0", backend.Live())
	}
	if tex.Handle != gfx.InvalidTexture {
		t.Error("handle kept while offline")
	}
	if s := m.State("texture", "lena"); s != StateOffline {
		t.Fatalf("state = %v, want offline", s)
	}

	if err := m.Unload("texture", "lena"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if s := m.State("texture", "lena"); s != StateUnloaded {
		t.Errorf("state = %v, want unloaded", s)
	}
	if _, ok := m.Get("texture", "lena"); ok {
		t.Error("Get found an unloaded resource")
	}
}

func TestManagerOnlineAgainFromOffline(t *testing.T) {
	m, backend, dataDir := newTestManager(t)
	writeBlob(t, dataDir, "linux", MakeID("texture", "lena"), Tag(TypeTexture, TextureVersion), []byte("px"))

	steps := []func() error{
		func() error { return m.Load("texture", "lena") },
		func() error { return m.Online("texture", "lena") },
		func() error { return m.Offline("texture", "lena") },
		func() error { return m.Online("texture", "lena") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if backend.Live() != 1 {
		t.Errorf("live textures = %d, want 1", backend.Live())
	}
}

func TestManagerUnloadRules(t *testing.T) {
	m, _, dataDir := newTestManager(t)
	writeBlob(t, dataDir, "linux", MakeID("texture", "lena"), Tag(TypeTexture, TextureVersion), []byte("px"))

	if err := m.Load("texture", "lena"); err != nil {
		t.Fatal(err)
	}
	// The last reference may only be released from offline.
	if err := m.Unload("texture", "lena"); CodeOf(err) != ErrBadTransition {
		t.Errorf("unload from loaded: code = %q, want %q", CodeOf(err), ErrBadTransition)
	}
	if err := m.Online("texture", "lena"); err != nil {
		t.Fatal(err)
	}
	if err := m.Unload("texture", "lena"); CodeOf(err) != ErrBadTransition {
		t.Errorf("unload from online: code = %q, want %q", CodeOf(err), ErrBadTransition)
	}
	if s := m.State("texture", "lena"); s != StateOnline {
		t.Errorf("rejected unload changed state to %v", s)
	}
	if err := m.Offline("texture", "lena"); err != nil {
		t.Fatal(err)
	}
	if err := m.Unload("texture", "lena"); err != nil {
		t.Errorf("unload from offline: %v", err)
	}
}

func TestManagerRefCounting(t *testing.T) {
	m, _, dataDir := newTestManager(t)
	writeBlob(t, dataDir, "linux", MakeID("texture", "lena"), Tag(TypeTexture, TextureVersion), []byte("px"))

	if err := m.Load("texture", "lena"); err != nil {
		t.Fatal(err)
	}
	if err := m.Load("texture", "lena"); err != nil {
		t.Fatal(err)
	}
	if refs := m.Refs("texture", "lena"); refs != 2 {
		t.Fatalf("refs = %d, want 2", refs)
	}
	if err := m.Online("texture", "lena"); err != nil {
		t.Fatal(err)
	}
	// Releasing a non-final reference is fine in any state.
	if err := m.Unload("texture", "lena"); err != nil {
		t.Fatalf("non-final unload: %v", err)
	}
	if refs := m.Refs("texture", "lena"); refs != 1 {
		t.Fatalf("refs = %d, want 1", refs)
	}
	if s := m.State("texture", "lena"); s != StateOnline {
		t.Errorf("state = %v, want online", s)
	}
	if err := m.Offline("texture", "lena"); err != nil {
		t.Fatal(err)
	}
	if err := m.Unload("texture", "lena"); err != nil {
		t.Fatal(err)
	}
	if refs := m.Refs("texture", "lena"); refs != 0 {
		t.Errorf("refs = %d after final release", refs)
	}
}

func TestManagerVersionMismatch(t *testing.T) {
	m, _, dataDir := newTestManager(t)
	writeBlob(t, dataDir, "linux", MakeID("texture", "lena"), Tag(TypeTexture, TextureVersion+1), []byte("px"))

	err := m.Load("texture", "lena")
	if CodeOf(err) != ErrVersionMismatch {
		t.Fatalf("code = %q, want %q", CodeOf(err), ErrVersionMismatch)
	}
	if s := m.State("texture", "lena"); s != StateUnloaded {
		t.Errorf("rejected load left state %v", s)
	}
}

func TestManagerUnknownTagValue(t *testing.T) {
	m, _, dataDir := newTestManager(t)
	writeBlob(t, dataDir, "linux", MakeID("texture", "lena"), Tag(99, 1), []byte("px"))

	if err := m.Load("texture", "lena"); CodeOf(err) != ErrUnknownType {
		t.Errorf("code = %q, want %q", CodeOf(err), ErrUnknownType)
	}
}

func TestManagerMislabeledBlob(t *testing.T) {
	m, _, dataDir := newTestManager(t)
	writeBlob(t, dataDir, "linux", MakeID("texture", "lena"), Tag(TypeMaterial, MaterialVersion), []byte("px"))

	if err := m.Load("texture", "lena"); CodeOf(err) != ErrCorrupt {
		t.Errorf("code = %q, want %q", CodeOf(err), ErrCorrupt)
	}
}

func TestManagerCorruptBlob(t *testing.T) {
	m, _, dataDir := newTestManager(t)
	id := MakeID("texture", "lena")

	dir := filepath.Join(dataDir, "linux")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Header claims more payload than the file holds.
	blob := append(EncodeHeader(Tag(TypeTexture, TextureVersion), 100), []byte("px")...)
	if err := os.WriteFile(filepath.Join(dir, id.String()), blob, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Load("texture", "lena"); CodeOf(err) != ErrCorrupt {
		t.Errorf("code = %q, want %q", CodeOf(err), ErrCorrupt)
	}

	if err := os.WriteFile(filepath.Join(dir, id.String()), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Load("texture", "lena"); CodeOf(err) != ErrCorrupt {
		t.Errorf("short file: code = %q, want %q", CodeOf(err), ErrCorrupt)
	}
}

func TestManagerMissingBlob(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.Load("texture", "lena"); CodeOf(err) != ErrSourceNotFound {
		t.Errorf("code = %q, want %q", CodeOf(err), ErrSourceNotFound)
	}
}

func TestManagerUnknownTypeName(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.Load("level", "e1m1"); CodeOf(err) != ErrUnknownType {
		t.Errorf("code = %q, want %q", CodeOf(err), ErrUnknownType)
	}
}

func TestManagerTransitionErrors(t *testing.T) {
	m, _, dataDir := newTestManager(t)
	writeBlob(t, dataDir, "linux", MakeID("texture", "lena"), Tag(TypeTexture, TextureVersion), []byte("px"))

	if err := m.Online("texture", "lena"); CodeOf(err) != ErrBadTransition {
		t.Errorf("online unloaded: code = %q", CodeOf(err))
	}
	if err := m.Offline("texture", "lena"); CodeOf(err) != ErrBadTransition {
		t.Errorf("offline unloaded: code = %q", CodeOf(err))
	}
	if err := m.Load("texture", "lena"); err != nil {
		t.Fatal(err)
	}
	if err := m.Offline("texture", "lena"); CodeOf(err) != ErrBadTransition {
		t.Errorf("offline loaded: code = %q", CodeOf(err))
	}
	if err := m.Online("texture", "lena"); err != nil {
		t.Fatal(err)
	}
	if err := m.Online("texture", "lena"); CodeOf(err) != ErrBadTransition {
		t.Errorf("double online: code = %q", CodeOf(err))
	}
}

func compileMaterialBlob(t *testing.T, descriptor string) []byte {
	t.Helper()
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "m.material"), descriptor)
	opts := NewCompileOptions(srcDir, "m.material", "linux", t.TempDir(), &Toolchain{})
	if err := compileMaterial(opts); err != nil {
		t.Fatalf("compile material: %v", err)
	}
	return opts.Output()
}

func writeRawBlob(t *testing.T, dataDir, platform string, id ID, blob []byte) {
	t.Helper()
	dir := filepath.Join(dataDir, platform)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, id.String()), blob, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestManagerMaterialAcquiresTextures(t *testing.T) {
	m, backend, dataDir := newTestManager(t)

	brick := MakeID("texture", "textures/brick")
	brickN := MakeID("texture", "textures/brick_n")
	writeBlob(t, dataDir, "linux", brick, Tag(TypeTexture, TextureVersion), []byte("brick px"))
	writeBlob(t, dataDir, "linux", brickN, Tag(TypeTexture, TextureVersion), []byte("brick_n px"))

	matA := compileMaterialBlob(t, `
		shader = "mesh"
		textures = { u_albedo = "textures/brick" u_normal = "textures/brick_n" }
	`)
	matB := compileMaterialBlob(t, `
		shader = "mesh"
		textures = { u_albedo = "textures/brick" }
	`)
	writeRawBlob(t, dataDir, "linux", MakeID("material", "wall"), matA)
	writeRawBlob(t, dataDir, "linux", MakeID("material", "floor"), matB)

	if err := m.Load("material", "wall"); err != nil {
		t.Fatalf("load wall: %v", err)
	}
	if err := m.Online("material", "wall"); err != nil {
		t.Fatalf("online wall: %v", err)
	}
	if backend.Live() != 2 {
		t.Fatalf("live = %d, want 2", backend.Live())
	}
	if m.RefsID(brick) != 1 || m.StateID(brick) != StateOnline {
		t.Errorf("brick refs=%d state=%v", m.RefsID(brick), m.StateID(brick))
	}

	if err := m.Load("material", "floor"); err != nil {
		t.Fatal(err)
	}
	if err := m.Online("material", "floor"); err != nil {
		t.Fatal(err)
	}
	if m.RefsID(brick) != 2 {
		t.Errorf("shared brick refs = %d, want 2", m.RefsID(brick))
	}
	if backend.Live() != 2 {
		t.Errorf("sharing created a second backend texture: live = %d", backend.Live())
	}

	if err := m.Offline("material", "wall"); err != nil {
		t.Fatal(err)
	}
	if backend.Live() != 1 {
		t.Errorf("live = %d, want 1 (brick_n released, brick kept)", backend.Live())
	}
	if m.RefsID(brick) != 1 || m.StateID(brick) != StateOnline {
		t.Errorf("brick refs=%d state=%v", m.RefsID(brick), m.StateID(brick))
	}
	if m.StateID(brickN) != StateUnloaded {
		t.Errorf("brick_n still resident: %v", m.StateID(brickN))
	}

	if err := m.Offline("material", "floor"); err != nil {
		t.Fatal(err)
	}
	if backend.Live() != 0 {
		t.Errorf("live = %d, want 0", backend.Live())
	}
	if err := m.Unload("material", "wall"); err != nil {
		t.Fatal(err)
	}
	if err := m.Unload("material", "floor"); err != nil {
		t.Fatal(err)
	}
}

func TestManagerMaterialOnlineRollsBackOnFailure(t *testing.T) {
	m, backend, dataDir := newTestManager(t)

	brick := MakeID("texture", "textures/brick")
	writeBlob(t, dataDir, "linux", brick, Tag(TypeTexture, TextureVersion), []byte("brick px"))
	// textures/missing has no compiled blob.

	mat := compileMaterialBlob(t, `
		shader = "mesh"
		textures = { u_albedo = "textures/brick" u_normal = "textures/missing" }
	`)
	writeRawBlob(t, dataDir, "linux", MakeID("material", "wall"), mat)

	if err := m.Load("material", "wall"); err != nil {
		t.Fatal(err)
	}
	err := m.Online("material", "wall")
	if CodeOf(err) != ErrSourceNotFound {
		t.Fatalf("code = %q, want %q", CodeOf(err), ErrSourceNotFound)
	}
	if s := m.State("material", "wall"); s != StateLoaded {
		t.Errorf("failed online moved state to %v", s)
	}
	if backend.Live() != 0 {
		t.Errorf("rollback leaked %d textures", backend.Live())
	}
	if m.StateID(brick) != StateUnloaded {
		t.Errorf("rollback left brick resident: %v", m.StateID(brick))
	}
}

func TestManagerMaterialOnlineRollsBackLoadedTexture(t *testing.T) {
	m, backend, dataDir := newTestManager(t)

	brick := MakeID("texture", "textures/brick")
	bad := MakeID("texture", "textures/bad")
	writeBlob(t, dataDir, "linux", brick, Tag(TypeTexture, TextureVersion), []byte("brick px"))
	// Loads fine, but the backend refuses a texture with no memory.
	writeBlob(t, dataDir, "linux", bad, Tag(TypeTexture, TextureVersion), nil)

	mat := compileMaterialBlob(t, `
		shader = "mesh"
		textures = { u_albedo = "textures/brick" u_normal = "textures/bad" }
	`)
	writeRawBlob(t, dataDir, "linux", MakeID("material", "wall"), mat)

	if err := m.Load("material", "wall"); err != nil {
		t.Fatal(err)
	}
	if err := m.Online("material", "wall"); err == nil {
		t.Fatal("online succeeded with an unattachable texture")
	}
	if s := m.State("material", "wall"); s != StateLoaded {
		t.Errorf("failed online moved state to %v", s)
	}
	if backend.Live() != 0 {
		t.Errorf("rollback leaked %d textures", backend.Live())
	}
	if refs, s := m.RefsID(bad), m.StateID(bad); refs != 0 || s != StateUnloaded {
		t.Errorf("failing texture still holds refs=%d state=%v, want fully released", refs, s)
	}
	if m.StateID(brick) != StateUnloaded {
		t.Errorf("rollback left brick resident: %v", m.StateID(brick))
	}

	// Nothing is pinned: repair the texture and the same material goes online.
	writeBlob(t, dataDir, "linux", bad, Tag(TypeTexture, TextureVersion), []byte("bad px"))
	if err := m.Online("material", "wall"); err != nil {
		t.Fatalf("online after repair: %v", err)
	}
	if backend.Live() != 2 {
		t.Errorf("live = %d, want 2", backend.Live())
	}
}

func TestManagerMaterialOnlineRollbackKeepsSharedTexture(t *testing.T) {
	m, _, dataDir := newTestManager(t)

	bad := MakeID("texture", "textures/bad")
	writeBlob(t, dataDir, "linux", bad, Tag(TypeTexture, TextureVersion), nil)
	mat := compileMaterialBlob(t, `
		shader = "mesh"
		textures = { u_albedo = "textures/bad" }
	`)
	writeRawBlob(t, dataDir, "linux", MakeID("material", "wall"), mat)

	// Another holder keeps the texture resident in Loaded.
	if err := m.LoadID("texture", bad); err != nil {
		t.Fatal(err)
	}
	if err := m.Load("material", "wall"); err != nil {
		t.Fatal(err)
	}
	if err := m.Online("material", "wall"); err == nil {
		t.Fatal("online succeeded with an unattachable texture")
	}
	if refs, s := m.RefsID(bad), m.StateID(bad); refs != 1 || s != StateLoaded {
		t.Errorf("outside reference disturbed: refs=%d state=%v, want 1/loaded", refs, s)
	}
}
