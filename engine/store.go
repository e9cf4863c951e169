package engine

import (
	"database/sql"
	"encoding/json"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lwp001/mixlab/errors"
	"github.com/lwp001/mixlab/protocol"
)

// SavedWorkspace is the persisted workspace layout: the module id sequence
// and, per module, params, geometry, and one optional upstream output per
// input.
type SavedWorkspace struct {
	ModuleSeq uint64
	Modules   []SavedModule
}

type SavedModule struct {
	ID       protocol.ModuleId
	Params   protocol.ModuleParams
	Geometry protocol.WindowGeometry
	Inputs   []*protocol.OutputId
}

// WorkspaceStore persists workspace snapshots to SQLite. Saves run on worker
// goroutines while the engine keeps ticking, so writes are serialised here.
type WorkspaceStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewWorkspaceStore wraps an existing database handle.
func NewWorkspaceStore(db *sql.DB) *WorkspaceStore {
	return &WorkspaceStore{db: db}
}

// OpenWorkspaceStore opens (or creates) the workspace database at path and
// ensures its schema.
func OpenWorkspaceStore(path string) (*WorkspaceStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open workspace database %s", path)
	}

	store := NewWorkspaceStore(db)
	if err := store.Init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Init creates the store schema if missing.
func (s *WorkspaceStore) Init() error {
	schema := `
		CREATE TABLE IF NOT EXISTS workspace_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			module_seq INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS modules (
			id INTEGER PRIMARY KEY,
			params TEXT NOT NULL,
			geometry TEXT NOT NULL,
			inputs TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "failed to create workspace schema")
	}
	return nil
}

// Save replaces the stored snapshot with saved.
func (s *WorkspaceStore) Save(saved *SavedWorkspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin save transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM modules`); err != nil {
		return errors.Wrap(err, "failed to clear modules")
	}

	meta := `
		INSERT INTO workspace_meta (id, module_seq) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET module_seq = excluded.module_seq
	`
	if _, err := tx.Exec(meta, saved.ModuleSeq); err != nil {
		return errors.Wrap(err, "failed to save module sequence")
	}

	insert := `INSERT INTO modules (id, params, geometry, inputs) VALUES (?, ?, ?, ?)`
	for _, m := range saved.Modules {
		params, err := json.Marshal(m.Params)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal params for module %d", m.ID)
		}
		geometry, err := json.Marshal(m.Geometry)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal geometry for module %d", m.ID)
		}
		inputs, err := json.Marshal(m.Inputs)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal inputs for module %d", m.ID)
		}

		if _, err := tx.Exec(insert, uint64(m.ID), string(params), string(geometry), string(inputs)); err != nil {
			return errors.Wrapf(err, "failed to save module %d", m.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit save transaction")
	}

	return nil
}

// Load reads the stored snapshot. An empty database loads as an empty
// workspace.
func (s *WorkspaceStore) Load() (*SavedWorkspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := &SavedWorkspace{}

	err := s.db.QueryRow(`SELECT module_seq FROM workspace_meta WHERE id = 1`).Scan(&saved.ModuleSeq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to load module sequence")
	}

	rows, err := s.db.Query(`SELECT id, params, geometry, inputs FROM modules ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load modules")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                       uint64
			params, geometry, inputs string
		)
		if err := rows.Scan(&id, &params, &geometry, &inputs); err != nil {
			return nil, errors.Wrap(err, "failed to scan module row")
		}

		m := SavedModule{ID: protocol.ModuleId(id)}
		if err := json.Unmarshal([]byte(params), &m.Params); err != nil {
			return nil, errors.Wrapf(err, "failed to decode params for module %d", id)
		}
		if err := json.Unmarshal([]byte(geometry), &m.Geometry); err != nil {
			return nil, errors.Wrapf(err, "failed to decode geometry for module %d", id)
		}
		if err := json.Unmarshal([]byte(inputs), &m.Inputs); err != nil {
			return nil, errors.Wrapf(err, "failed to decode inputs for module %d", id)
		}

		saved.Modules = append(saved.Modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate module rows")
	}

	return saved, nil
}

// Close closes the underlying database.
func (s *WorkspaceStore) Close() error {
	return s.db.Close()
}
