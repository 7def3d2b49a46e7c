package pipeline

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Janders1800/crown/engine/resource"
)

func writeSource(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// fake texturec: copies its own argv into the -o target so tests can check
// both that it ran and what it was asked to do.
func writeTexturec(t *testing.T, dir string) {
	t.Helper()
	script := `#!/bin/sh
out=
prev=
for a in "$@"; do
  [ "$prev" = "-o" ] && out=$a
  prev=$a
done
printf '%s' "$*" > "$out"
`
	if err := os.WriteFile(filepath.Join(dir, "texturec"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
}

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	src := t.TempDir()
	data := t.TempDir()
	bin := t.TempDir()
	writeTexturec(t, bin)
	writeSource(t, src, "textures/brick.texture", `{ source = "textures/brick.png" generate_mips = false normal_map = false }`)
	writeSource(t, src, "textures/brick.png", "not really a png")
	writeSource(t, src, "wall.material", `
		shader = "mesh"
		textures = { u_albedo = "textures/brick" }
	`)
	cfg := &Config{
		SourceDir: src,
		DataDir:   data,
		Platform:  "linux",
		Jobs:      2,
		Toolchain: ToolchainConfig{Dirs: []string{bin}},
	}
	db, err := OpenBuildDB(filepath.Join(data, "build.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCompiler(cfg, resource.Builtin(), db)
}

func touch(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	when := time.Now().Add(offset)
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatal(err)
	}
}

func outputPath(c *Compiler, typeName, name string) string {
	id := resource.MakeID(typeName, name)
	return filepath.Join(c.cfg.DataDir, c.cfg.Platform, id.String())
}

func readTag(t *testing.T, path string) uint32 {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 8 {
		t.Fatalf("blob too short: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint32(data)
}

func TestScan(t *testing.T) {
	c := newTestCompiler(t)
	writeSource(t, c.cfg.SourceDir, ".cache/junk.texture", "{}")
	writeSource(t, c.cfg.SourceDir, "readme.md", "docs")

	assets, err := c.Scan()
	if err != nil {
		t.Fatal(err)
	}
	want := []Asset{
		{Name: "textures/brick", Type: "texture"},
		{Name: "wall", Type: "material"},
	}
	if len(assets) != len(want) {
		t.Fatalf("assets = %v", assets)
	}
	for i := range want {
		if assets[i] != want[i] {
			t.Errorf("asset %d = %v, want %v", i, assets[i], want[i])
		}
	}
}

func TestAssetFromPath(t *testing.T) {
	c := newTestCompiler(t)

	a, err := c.AssetFromPath("textures/brick.texture")
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != "textures/brick" || a.Type != "texture" {
		t.Errorf("asset = %v", a)
	}
	if _, err := c.AssetFromPath("textures/brick.png"); err == nil {
		t.Error("unregistered extension accepted")
	}
	if _, err := c.AssetFromPath("noext"); err == nil {
		t.Error("extensionless path accepted")
	}
}

func TestCompileAll(t *testing.T) {
	c := newTestCompiler(t)

	stats, err := c.CompileAll()
	if err != nil {
		t.Fatal(err)
	}
	if stats != (Stats{Compiled: 2}) {
		t.Fatalf("stats = %+v", stats)
	}

	texOut := outputPath(c, "texture", "textures/brick")
	if tag := readTag(t, texOut); tag != resource.Tag(resource.TypeTexture, resource.TextureVersion) {
		t.Errorf("texture tag = %#x", tag)
	}
	matOut := outputPath(c, "material", "wall")
	if tag := readTag(t, matOut); tag != resource.Tag(resource.TypeMaterial, resource.MaterialVersion) {
		t.Errorf("material tag = %#x", tag)
	}

	// Unchanged sources: the second run does nothing.
	stats, err = c.CompileAll()
	if err != nil {
		t.Fatal(err)
	}
	if stats != (Stats{UpToDate: 2}) {
		t.Fatalf("second run stats = %+v", stats)
	}
}

func TestCompileTouchedDependency(t *testing.T) {
	c := newTestCompiler(t)
	if _, err := c.CompileAll(); err != nil {
		t.Fatal(err)
	}

	// The image feeds only the texture; the material reads the texture's
	// descriptor, not its pixels.
	touch(t, filepath.Join(c.cfg.SourceDir, "textures", "brick.png"), 2*time.Second)

	stats, err := c.CompileAll()
	if err != nil {
		t.Fatal(err)
	}
	if stats != (Stats{Compiled: 1, UpToDate: 1}) {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCompileForce(t *testing.T) {
	c := newTestCompiler(t)
	if _, err := c.CompileAll(); err != nil {
		t.Fatal(err)
	}
	c.Force = true
	stats, err := c.CompileAll()
	if err != nil {
		t.Fatal(err)
	}
	if stats != (Stats{Compiled: 2}) {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCompileFailureReports(t *testing.T) {
	c := newTestCompiler(t)
	writeSource(t, c.cfg.SourceDir, "bad.texture", `{ source = "gone.png" }`)

	stats, err := c.CompileAll()
	if err == nil {
		t.Fatal("no error with a failing asset")
	}
	if stats.Failed != 1 || stats.Compiled != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, err := os.Stat(outputPath(c, "texture", "bad")); !os.IsNotExist(err) {
		t.Error("failed asset left an output file")
	}

	// The failing asset stays stale; the good ones do not recompile.
	stats, _ = c.CompileAll()
	if stats.UpToDate != 2 || stats.Failed != 1 {
		t.Fatalf("second run stats = %+v", stats)
	}
}

func TestCompileAssetsSubset(t *testing.T) {
	c := newTestCompiler(t)
	a, err := c.AssetFromPath("wall.material")
	if err != nil {
		t.Fatal(err)
	}
	stats, err := c.CompileAssets([]Asset{a})
	if err != nil {
		t.Fatal(err)
	}
	if stats != (Stats{Compiled: 1}) {
		t.Fatalf("stats = %+v", stats)
	}
	if _, err := os.Stat(outputPath(c, "texture", "textures/brick")); !os.IsNotExist(err) {
		t.Error("subset run compiled an unrequested asset")
	}
}

func TestWatcherMapsImageToTexture(t *testing.T) {
	c := newTestCompiler(t)
	if _, err := c.CompileAll(); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(c)
	if err != nil {
		t.Fatal(err)
	}
	defer w.fsn.Close()

	touch(t, filepath.Join(c.cfg.SourceDir, "textures", "brick.png"), 2*time.Second)

	texID := resource.MakeID("texture", "textures/brick")
	texTag := resource.Tag(resource.TypeTexture, resource.TextureVersion)
	if fresh, _ := c.db.UpToDate(texID, texTag, c.cfg.SourceDir); fresh {
		t.Fatal("touched image not detected")
	}

	w.recompile(map[string]struct{}{"textures/brick.png": {}})

	if fresh, _ := c.db.UpToDate(texID, texTag, c.cfg.SourceDir); !fresh {
		t.Error("texture not recompiled")
	}
}

func TestWatcherRecompilesDependents(t *testing.T) {
	c := newTestCompiler(t)
	if _, err := c.CompileAll(); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(c)
	if err != nil {
		t.Fatal(err)
	}
	defer w.fsn.Close()

	// The texture descriptor feeds the texture and, through the
	// reference check, the material.
	touch(t, filepath.Join(c.cfg.SourceDir, "textures", "brick.texture"), 2*time.Second)
	w.recompile(map[string]struct{}{"textures/brick.texture": {}})

	texFresh, _ := c.db.UpToDate(
		resource.MakeID("texture", "textures/brick"),
		resource.Tag(resource.TypeTexture, resource.TextureVersion),
		c.cfg.SourceDir,
	)
	matFresh, _ := c.db.UpToDate(
		resource.MakeID("material", "wall"),
		resource.Tag(resource.TypeMaterial, resource.MaterialVersion),
		c.cfg.SourceDir,
	)
	if !texFresh || !matFresh {
		t.Errorf("texture fresh = %v, material fresh = %v", texFresh, matFresh)
	}
}

func TestWatcherForgetsDeletedDescriptor(t *testing.T) {
	c := newTestCompiler(t)
	if _, err := c.CompileAll(); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(c)
	if err != nil {
		t.Fatal(err)
	}
	defer w.fsn.Close()

	if err := os.Remove(filepath.Join(c.cfg.SourceDir, "wall.material")); err != nil {
		t.Fatal(err)
	}
	w.recompile(map[string]struct{}{"wall.material": {}})

	fresh, _ := c.db.UpToDate(
		resource.MakeID("material", "wall"),
		resource.Tag(resource.TypeMaterial, resource.MaterialVersion),
		c.cfg.SourceDir,
	)
	if fresh {
		t.Error("deleted descriptor still recorded as fresh")
	}
}
