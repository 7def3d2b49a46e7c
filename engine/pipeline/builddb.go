package pipeline

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // pure Go driver, no CGO

	"github.com/Janders1800/crown/engine/resource"
)

// BuildDB records, per compiled resource, the version tag it was built with
// and the source files it read. A resource whose record still matches the
// registry and the filesystem is skipped on the next run.
type BuildDB struct {
	db *sql.DB
}

// Dep is one source file a compile job read, with the fingerprint taken
// right after the job succeeded.
type Dep struct {
	Path    string
	MtimeNS int64
	Size    int64
}

// Record is what the database holds for one compiled resource.
type Record struct {
	ID      resource.ID
	Name    string
	Type    string
	Version uint32
	Output  string
	Deps    []Dep
}

// OpenBuildDB creates or opens the build database at the given path,
// creating parent directories and the schema as needed.
func OpenBuildDB(path string) (*BuildDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: cannot create directory for %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cannot open build db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pipeline: cannot connect to build db: %w", err)
	}
	// The db is shared by concurrent compile jobs. A single connection
	// serializes them and keeps the sqlite driver out of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	b := &BuildDB{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pipeline: migration failed: %w", err)
	}
	return b, nil
}

func (b *BuildDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS resources (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			version INTEGER NOT NULL,
			output TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS deps (
			resource_id TEXT NOT NULL,
			path TEXT NOT NULL,
			mtime_ns INTEGER NOT NULL,
			size INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deps_resource ON deps(resource_id);
		CREATE INDEX IF NOT EXISTS idx_deps_path ON deps(path);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (b *BuildDB) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Put rewrites the record for one resource in a single transaction.
func (b *BuildDB) Put(rec Record) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("pipeline: cannot begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := rec.ID.String()
	if _, err := tx.Exec("DELETE FROM resources WHERE id = ?", id); err != nil {
		return fmt.Errorf("pipeline: cannot clear record: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM deps WHERE resource_id = ?", id); err != nil {
		return fmt.Errorf("pipeline: cannot clear deps: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO resources (id, name, type, version, output) VALUES (?, ?, ?, ?, ?)",
		id, rec.Name, rec.Type, int64(rec.Version), rec.Output,
	); err != nil {
		return fmt.Errorf("pipeline: cannot insert record: %w", err)
	}
	for _, d := range rec.Deps {
		if _, err := tx.Exec(
			"INSERT INTO deps (resource_id, path, mtime_ns, size) VALUES (?, ?, ?, ?)",
			id, d.Path, d.MtimeNS, d.Size,
		); err != nil {
			return fmt.Errorf("pipeline: cannot insert dep: %w", err)
		}
	}
	return tx.Commit()
}

// Forget drops the record for one resource, if any.
func (b *BuildDB) Forget(id resource.ID) error {
	key := id.String()
	if _, err := b.db.Exec("DELETE FROM resources WHERE id = ?", key); err != nil {
		return fmt.Errorf("pipeline: cannot forget resource: %w", err)
	}
	if _, err := b.db.Exec("DELETE FROM deps WHERE resource_id = ?", key); err != nil {
		return fmt.Errorf("pipeline: cannot forget deps: %w", err)
	}
	return nil
}

// UpToDate reports whether the resource needs no recompile: its record
// exists with the given version tag, the recorded output file still exists,
// and every recorded dependency is unchanged on disk (same mtime and size,
// stat'd relative to sourceDir). Any missing piece means stale.
func (b *BuildDB) UpToDate(id resource.ID, version uint32, sourceDir string) (bool, error) {
	var storedVersion int64
	var output string
	err := b.db.QueryRow(
		"SELECT version, output FROM resources WHERE id = ?", id.String(),
	).Scan(&storedVersion, &output)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pipeline: cannot query record: %w", err)
	}
	if uint32(storedVersion) != version {
		return false, nil
	}
	if _, err := os.Stat(output); err != nil {
		return false, nil
	}

	rows, err := b.db.Query(
		"SELECT path, mtime_ns, size FROM deps WHERE resource_id = ?", id.String(),
	)
	if err != nil {
		return false, fmt.Errorf("pipeline: cannot query deps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d Dep
		if err := rows.Scan(&d.Path, &d.MtimeNS, &d.Size); err != nil {
			return false, fmt.Errorf("pipeline: cannot scan dep: %w", err)
		}
		info, err := os.Stat(filepath.Join(sourceDir, filepath.FromSlash(d.Path)))
		if err != nil || info.ModTime().UnixNano() != d.MtimeNS || info.Size() != d.Size {
			return false, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("pipeline: dep iteration error: %w", err)
	}
	return true, nil
}

// Dependents returns the name and type of every resource whose recorded
// dependencies include the given source-relative path. Used by watch mode
// to map a changed file back to the assets it feeds.
func (b *BuildDB) Dependents(path string) ([]Record, error) {
	rows, err := b.db.Query(
		`SELECT r.id, r.name, r.type, r.version, r.output
		 FROM resources r
		 JOIN deps d ON d.resource_id = r.id
		 WHERE d.path = ?`,
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cannot query dependents: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var id string
		var version int64
		if err := rows.Scan(&id, &rec.Name, &rec.Type, &version, &rec.Output); err != nil {
			return nil, fmt.Errorf("pipeline: cannot scan dependent: %w", err)
		}
		v, err := strconv.ParseUint(id, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("pipeline: bad resource id %q: %w", id, err)
		}
		rec.ID = resource.ID(v)
		rec.Version = uint32(version)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: dependent iteration error: %w", err)
	}
	return out, nil
}
