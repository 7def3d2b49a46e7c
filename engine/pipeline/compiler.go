package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/Janders1800/crown/engine/core"
	"github.com/Janders1800/crown/engine/resource"
)

// Asset is one compilable unit: a logical name plus the type its descriptor
// extension names.
type Asset struct {
	Name string
	Type string
}

func (a Asset) String() string { return a.Name + "." + a.Type }

// Status is the outcome of one compile job.
type Status int

const (
	StatusCompiled Status = iota
	StatusUpToDate
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompiled:
		return "compiled"
	case StatusUpToDate:
		return "up to date"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Result is the report for one asset.
type Result struct {
	Asset
	Status  Status
	Err     error
	Elapsed time.Duration
}

// Stats aggregates one run.
type Stats struct {
	Compiled int
	UpToDate int
	Failed   int
}

// Compiler turns source descriptors into compiled data files. Jobs share
// nothing but the read-only registry and the build database, so they run on
// as many workers as the config allows.
type Compiler struct {
	cfg *Config
	reg *resource.Registry
	db  *BuildDB
	tc  *resource.Toolchain

	// Force recompiles everything, ignoring the build database.
	Force bool
}

func NewCompiler(cfg *Config, reg *resource.Registry, db *BuildDB) *Compiler {
	return &Compiler{
		cfg: cfg,
		reg: reg,
		db:  db,
		tc: &resource.Toolchain{
			Dirs:    cfg.Toolchain.Dirs,
			Variant: cfg.Toolchain.Variant,
		},
	}
}

// Scan walks the source tree and returns every asset whose extension names
// a registered type with a compiler, sorted by name for stable runs.
// Dot-directories are skipped.
func (c *Compiler) Scan() ([]Asset, error) {
	var assets []Asset
	err := filepath.WalkDir(c.cfg.SourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != c.cfg.SourceDir {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.TrimPrefix(filepath.Ext(p), ".")
		h, ok := c.reg.Lookup(ext)
		if !ok || h.Compile == nil {
			return nil
		}
		rel, err := filepath.Rel(c.cfg.SourceDir, p)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), "."+ext)
		assets = append(assets, Asset{Name: name, Type: ext})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: scan failed: %w", err)
	}
	slices.SortFunc(assets, func(a, b Asset) int {
		return strings.Compare(a.String(), b.String())
	})
	return assets, nil
}

// AssetFromPath converts a source-relative descriptor path into an Asset.
func (c *Compiler) AssetFromPath(rel string) (Asset, error) {
	rel = path.Clean(filepath.ToSlash(rel))
	ext := strings.TrimPrefix(path.Ext(rel), ".")
	if ext == "" {
		return Asset{}, fmt.Errorf("pipeline: %q has no type extension", rel)
	}
	h, ok := c.reg.Lookup(ext)
	if !ok || h.Compile == nil {
		return Asset{}, fmt.Errorf("pipeline: no compiler for %q files", ext)
	}
	return Asset{Name: strings.TrimSuffix(rel, "."+ext), Type: ext}, nil
}

// CompileAll scans the source tree and compiles everything in it.
func (c *Compiler) CompileAll() (Stats, error) {
	assets, err := c.Scan()
	if err != nil {
		return Stats{}, err
	}
	core.LogInfo("compiling %d assets for %s", len(assets), c.cfg.Platform)
	return c.CompileAssets(assets)
}

// CompileAssets runs the given jobs on a worker pool and reports per-asset
// results plus the aggregate. It returns an error when any asset failed;
// the remaining assets still compile.
func (c *Compiler) CompileAssets(assets []Asset) (Stats, error) {
	workers := c.cfg.Workers()
	if workers > len(assets) {
		workers = len(assets)
	}

	results := make([]Result, len(assets))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = c.compile(assets[idx])
			}
		}()
	}
	for i := range assets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var stats Stats
	for _, r := range results {
		switch r.Status {
		case StatusCompiled:
			stats.Compiled++
			core.LogInfo("compiled %s (%s)", r.Asset, r.Elapsed.Round(time.Millisecond))
		case StatusUpToDate:
			stats.UpToDate++
			core.LogDebug("up to date %s", r.Asset)
		case StatusFailed:
			stats.Failed++
			core.LogError("failed %s: %v", r.Asset, r.Err)
		}
	}
	core.LogInfo("%d compiled, %d up to date, %d failed", stats.Compiled, stats.UpToDate, stats.Failed)
	if stats.Failed > 0 {
		return stats, fmt.Errorf("pipeline: %d of %d assets failed", stats.Failed, len(assets))
	}
	return stats, nil
}

// compile runs one job start to finish: staleness check, handler compile,
// atomic output write, build record rewrite.
func (c *Compiler) compile(a Asset) Result {
	start := time.Now()
	res := Result{Asset: a, Status: StatusFailed}

	h, ok := c.reg.Lookup(a.Type)
	if !ok || h.Compile == nil {
		res.Err = fmt.Errorf("pipeline: no compiler for %q files", a.Type)
		return res
	}
	id := resource.MakeID(a.Type, a.Name)
	output := filepath.Join(c.cfg.DataDir, c.cfg.Platform, id.String())

	if !c.Force {
		fresh, err := c.db.UpToDate(id, h.Tag(), c.cfg.SourceDir)
		if err != nil {
			core.LogWarn("build db check for %s: %v", a, err)
		}
		if fresh {
			res.Status = StatusUpToDate
			res.Elapsed = time.Since(start)
			return res
		}
	}

	job := uuid.NewString()
	core.LogDebug("job %s: compile %s -> %s", job, a, id)

	tempDir, err := os.MkdirTemp("", "datac-")
	if err != nil {
		res.Err = fmt.Errorf("pipeline: cannot create temp dir: %w", err)
		return res
	}
	defer os.RemoveAll(tempDir)

	opts := resource.NewCompileOptions(c.cfg.SourceDir, a.String(), c.cfg.Platform, tempDir, c.tc)
	if err := h.Compile(opts); err != nil {
		res.Err = err
		return res
	}
	if err := writeAtomic(output, opts.Output()); err != nil {
		res.Err = fmt.Errorf("pipeline: cannot write %s: %w", output, err)
		return res
	}
	rec := Record{
		ID:      id,
		Name:    a.Name,
		Type:    a.Type,
		Version: h.Tag(),
		Output:  output,
		Deps:    fingerprint(c.cfg.SourceDir, opts.Dependencies()),
	}
	if err := c.db.Put(rec); err != nil {
		core.LogWarn("build db update for %s: %v", a, err)
	}
	res.Status = StatusCompiled
	res.Elapsed = time.Since(start)
	return res
}

// fingerprint stats each recorded dependency. A dependency that vanished
// between compile and stat gets an impossible fingerprint so the asset
// stays stale.
func fingerprint(sourceDir string, paths []string) []Dep {
	deps := make([]Dep, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(filepath.Join(sourceDir, filepath.FromSlash(p)))
		if err != nil {
			deps = append(deps, Dep{Path: p, MtimeNS: 0, Size: -1})
			continue
		}
		deps = append(deps, Dep{Path: p, MtimeNS: info.ModTime().UnixNano(), Size: info.Size()})
	}
	return deps
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
