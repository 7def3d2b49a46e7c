package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/exp/slices"

	"github.com/Janders1800/crown/engine/core"
	"github.com/Janders1800/crown/engine/resource"
)

// Watcher recompiles assets as their sources change on disk. A changed file
// maps to the asset whose descriptor it is plus every asset that recorded
// it as a dependency, so editing a texture image rebuilds the texture and
// the materials referencing it.
type Watcher struct {
	c        *Compiler
	fsn      *fsnotify.Watcher
	debounce time.Duration
}

func NewWatcher(c *Compiler) (*Watcher, error) {
	fsn, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{c: c, fsn: fsn, debounce: 300 * time.Millisecond}, nil
}

// Run watches the source tree until ctx is cancelled. Event bursts (editors
// tend to write several times in a row) are debounced into one batch.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsn.Close()
	if err := w.addRecursive(w.c.cfg.SourceDir); err != nil {
		return err
	}
	core.LogInfo("watching %s", w.c.cfg.SourceDir)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-w.fsn.Events:
			if !ok {
				return nil
			}
			if e.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(e.Name); err != nil {
						core.LogWarn("watch %s: %v", e.Name, err)
					}
					continue
				}
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			rel, err := filepath.Rel(w.c.cfg.SourceDir, e.Name)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				continue
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsn.Errors:
			if !ok {
				return nil
			}
			core.LogError("watch: %v", err)

		case <-timer.C:
			batch := pending
			pending = make(map[string]struct{})
			w.recompile(batch)
		}
	}
}

// recompile maps a batch of changed source-relative paths to assets and
// runs them through the compiler.
func (w *Watcher) recompile(changed map[string]struct{}) {
	seen := make(map[string]struct{})
	var assets []Asset
	add := func(a Asset) {
		if _, ok := seen[a.String()]; ok {
			return
		}
		if !w.descriptorExists(a) {
			return
		}
		seen[a.String()] = struct{}{}
		assets = append(assets, a)
	}

	for p := range changed {
		if a, err := w.c.AssetFromPath(p); err == nil {
			if w.descriptorExists(a) {
				add(a)
			} else {
				// Descriptor deleted. Drop the record so a restore
				// recompiles it.
				if err := w.c.db.Forget(resource.MakeID(a.Type, a.Name)); err != nil {
					core.LogWarn("watch: %v", err)
				}
			}
		}
		recs, err := w.c.db.Dependents(p)
		if err != nil {
			core.LogWarn("watch: %v", err)
			continue
		}
		for _, rec := range recs {
			add(Asset{Name: rec.Name, Type: rec.Type})
		}
	}
	if len(assets) == 0 {
		return
	}
	slices.SortFunc(assets, func(a, b Asset) int {
		return strings.Compare(a.String(), b.String())
	})
	if _, err := w.c.CompileAssets(assets); err != nil {
		core.LogError("watch: %v", err)
	}
}

func (w *Watcher) descriptorExists(a Asset) bool {
	_, err := os.Stat(filepath.Join(w.c.cfg.SourceDir, filepath.FromSlash(a.String())))
	return err == nil
}

// addRecursive adds the directory and everything under it to the watch
// list. Dot-directories are skipped, matching Scan.
func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return nil
		}
		if strings.HasPrefix(fi.Name(), ".") && p != root {
			return filepath.SkipDir
		}
		return w.fsn.Add(p)
	})
}
