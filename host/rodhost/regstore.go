package rodhost

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hazyhaar/stashbridge/dbopen"
	"github.com/hazyhaar/stashbridge/host"
)

// Store persists the single content-script registration across host
// restarts. Load returns nil when no registration exists; Delete of an
// absent registration is a no-op.
type Store interface {
	Load(ctx context.Context) (*host.Registration, error)
	Save(ctx context.Context, reg host.Registration) error
	Delete(ctx context.Context) error
}

// memStore keeps the registration for the process lifetime only.
type memStore struct {
	mu  sync.Mutex
	reg *host.Registration
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) Load(ctx context.Context) (*host.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reg == nil {
		return nil, nil
	}
	cp := *m.reg
	return &cp, nil
}

func (m *memStore) Save(ctx context.Context, reg host.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reg = &reg
	return nil
}

func (m *memStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reg = nil
	return nil
}

// SQLStore persists the registration in SQLite. The table holds at most one
// row, keyed by the fixed rule id.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore initialises the schema and returns a store over the database.
// The database is typically opened with dbopen.Open; the caller is
// responsible for importing a driver (modernc.org/sqlite) and closing it.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS content_script (
	id      TEXT PRIMARY KEY,
	sources TEXT NOT NULL,
	matches TEXT NOT NULL,
	run_at  TEXT NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("rodhost: init registration schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load(ctx context.Context) (*host.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sources, matches, run_at FROM content_script WHERE id = ?`, host.ScriptID)

	var reg host.Registration
	var sources, matches string
	err := row.Scan(&reg.ID, &sources, &matches, &reg.RunAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rodhost: load registration: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &reg.Sources); err != nil {
		return nil, fmt.Errorf("rodhost: decode sources: %w", err)
	}
	if err := json.Unmarshal([]byte(matches), &reg.Matches); err != nil {
		return nil, fmt.Errorf("rodhost: decode matches: %w", err)
	}
	return &reg, nil
}

func (s *SQLStore) Save(ctx context.Context, reg host.Registration) error {
	sources, err := json.Marshal(reg.Sources)
	if err != nil {
		return fmt.Errorf("rodhost: encode sources: %w", err)
	}
	matches, err := json.Marshal(reg.Matches)
	if err != nil {
		return fmt.Errorf("rodhost: encode matches: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db, `
INSERT INTO content_script (id, sources, matches, run_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET sources = excluded.sources,
	matches = excluded.matches, run_at = excluded.run_at`,
		reg.ID, string(sources), string(matches), reg.RunAt)
	if err != nil {
		return fmt.Errorf("rodhost: save registration: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context) error {
	if _, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM content_script WHERE id = ?`, host.ScriptID); err != nil {
		return fmt.Errorf("rodhost: delete registration: %w", err)
	}
	return nil
}
