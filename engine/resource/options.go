package resource

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Janders1800/crown/engine/core"
)

// CaptureMode selects what RunTool captures from the subprocess.
type CaptureMode int

const (
	// CaptureStdout captures standard output only.
	CaptureStdout CaptureMode = iota
	// CaptureMerged merges standard error into the captured output.
	CaptureMerged
)

// Toolchain locates the external converter executables.
type Toolchain struct {
	// Dirs are searched in order before $PATH.
	Dirs []string
	// Variant qualifies tool names, tried as "<base>-<variant>".
	// One of debug, development, release. Empty tries every variant.
	Variant string
}

var toolchainVariants = []string{"debug", "development", "release"}

// Find resolves base to an executable path. Each dir is tried with the bare
// name and then the variant-qualified names, then $PATH the same way. A
// configured variant narrows the qualified names to just its own.
func (tc *Toolchain) Find(base string) (string, error) {
	names := []string{base}
	if tc.Variant != "" {
		names = append(names, base+"-"+tc.Variant)
	} else {
		for _, v := range toolchainVariants {
			names = append(names, base+"-"+v)
		}
	}
	for _, dir := range tc.Dirs {
		for _, name := range names {
			p := filepath.Join(dir, name)
			if isExecutable(p) {
				return p, nil
			}
		}
	}
	for _, name := range names {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", newError(ErrToolchainNotFound, "", "%s not found (dirs %v, variant %q)", base, tc.Dirs, tc.Variant)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0111 != 0
}

// CompileOptions is the context one compile job runs with. It reads the
// asset's descriptor, resolves paths inside the source tree, manages
// scratch files, runs converter subprocesses, accumulates the output blob,
// and records every source file the job depends on.
//
// A job writes its blob through Write; the pipeline persists it only after
// the compiler returns success, so a failed job never leaves a partial file.
type CompileOptions struct {
	sourceDir  string
	sourcePath string
	platform   string
	tempDir    string
	toolchain  *Toolchain

	out  bytes.Buffer
	deps []string
}

// NewCompileOptions builds the context for compiling the asset descriptor
// at sourcePath (relative to sourceDir) for the given platform. Scratch
// files go to tempDir.
func NewCompileOptions(sourceDir, sourcePath, platform, tempDir string, tc *Toolchain) *CompileOptions {
	return &CompileOptions{
		sourceDir:  sourceDir,
		sourcePath: sourcePath,
		platform:   platform,
		tempDir:    tempDir,
		toolchain:  tc,
	}
}

// Platform returns the target platform name.
func (o *CompileOptions) Platform() string { return o.platform }

// SourcePath returns the descriptor path relative to the source root.
func (o *CompileOptions) SourcePath() string { return o.sourcePath }

// Read returns the full content of the asset's descriptor file and records
// it as a dependency.
func (o *CompileOptions) Read() ([]byte, error) {
	o.addDep(o.sourcePath)
	data, err := os.ReadFile(filepath.Join(o.sourceDir, filepath.FromSlash(o.sourcePath)))
	if err != nil {
		return nil, &Error{Code: ErrSourceNotFound, Asset: o.sourcePath, Msg: "descriptor not readable", Err: err}
	}
	return data, nil
}

// AbsolutePath resolves a source-tree-relative path. Paths that escape the
// source root are rejected, never clamped.
func (o *CompileOptions) AbsolutePath(rel string) (string, error) {
	joined := filepath.Join(o.sourceDir, filepath.FromSlash(rel))
	r, err := filepath.Rel(o.sourceDir, joined)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", newError(ErrPathResolution, o.sourcePath, "path %q escapes the source tree", rel)
	}
	return joined, nil
}

// FileExists reports whether a source-tree-relative path resolves to an
// existing file.
func (o *CompileOptions) FileExists(rel string) bool {
	abs, err := o.AbsolutePath(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// TemporaryPath returns a unique scratch path with the given extension.
// Nothing is created; the caller deletes the file explicitly with
// DeleteFile when done.
func (o *CompileOptions) TemporaryPath(ext string) string {
	return filepath.Join(o.tempDir, uuid.NewString()+"."+strings.TrimPrefix(ext, "."))
}

// ReadTemporary returns the content of a scratch file produced by a
// converter. Scratch files are not dependencies.
func (o *CompileOptions) ReadTemporary(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Code: ErrToolchainExit, Asset: o.sourcePath, Msg: fmt.Sprintf("converter output %s not readable", path), Err: err}
	}
	return data, nil
}

// DeleteFile removes a scratch file.
func (o *CompileOptions) DeleteFile(path string) error {
	return os.Remove(path)
}

// RunTool runs a converter synchronously and returns its exit code and
// captured output. The job blocks until the subprocess finishes; there is
// no cancellation once spawned. A process that cannot be started at all is
// an ErrToolchainSpawn fault, independent of exit codes.
func (o *CompileOptions) RunTool(argv []string, mode CaptureMode) (int, []byte, error) {
	core.LogDebug("run: %s", strings.Join(argv, " "))
	cmd := exec.Command(argv[0], argv[1:]...)
	var b bytes.Buffer
	cmd.Stdout = &b
	if mode == CaptureMerged {
		cmd.Stderr = &b
	}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), b.Bytes(), nil
		}
		return -1, b.Bytes(), &Error{Code: ErrToolchainSpawn, Asset: o.sourcePath, Msg: fmt.Sprintf("failed to spawn %q", argv[0]), Err: err}
	}
	return 0, b.Bytes(), nil
}

// FindTool resolves a converter name through the configured toolchain.
func (o *CompileOptions) FindTool(base string) (string, error) {
	path, err := o.toolchain.Find(base)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Asset = o.sourcePath
		}
		return "", err
	}
	return path, nil
}

// Write appends bytes to the compiled output stream.
func (o *CompileOptions) Write(p []byte) {
	o.out.Write(p)
}

// WriteUint32 appends a little-endian u32 to the compiled output stream.
func (o *CompileOptions) WriteUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	o.out.Write(buf[:])
}

// Output returns the blob accumulated so far.
func (o *CompileOptions) Output() []byte {
	return o.out.Bytes()
}

// FakeRead records a dependency on a source-tree-relative path without
// reading its bytes.
func (o *CompileOptions) FakeRead(rel string) {
	o.addDep(rel)
}

// Dependencies returns every recorded dependency, in first-recorded order
// without duplicates. Paths are relative to the source root.
func (o *CompileOptions) Dependencies() []string {
	seen := make(map[string]struct{}, len(o.deps))
	out := make([]string, 0, len(o.deps))
	for _, d := range o.deps {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func (o *CompileOptions) addDep(rel string) {
	o.deps = append(o.deps, filepath.ToSlash(rel))
}
