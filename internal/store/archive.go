// Package store provides the durable archive for decisions, conflicts,
// and finished sessions. The in-memory bounded histories remain the source
// of truth; the archive is a best-effort write-behind sink that survives
// restarts.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"boardroom/internal/logging"
	"boardroom/internal/session"
	"boardroom/internal/types"

	_ "modernc.org/sqlite"
)

// Archive is a sqlite-backed sink. All access is serialized by mu; the
// database handle is private to this type.
type Archive struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id           TEXT PRIMARY KEY,
	context_type TEXT NOT NULL,
	title        TEXT NOT NULL,
	consensus    INTEGER NOT NULL,
	confidence   REAL NOT NULL,
	decided_by   TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	payload      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conflicts (
	id           TEXT PRIMARY KEY,
	decision_id  TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	resolved_by  TEXT NOT NULL,
	participants TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	priority     TEXT NOT NULL,
	title        TEXT NOT NULL,
	status       TEXT NOT NULL,
	initiator    TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT NOT NULL DEFAULT '',
	payload      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
CREATE INDEX IF NOT EXISTS idx_conflicts_decision ON conflicts(decision_id);
`

// Open creates or opens the archive database at path.
func Open(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}

	logging.Store("Archive opened at %s", path)
	return &Archive{db: db}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Close()
}

// SaveDecision persists one strategic decision. Idempotent on id.
func (a *Archive) SaveDecision(d types.StrategicDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision %s: %w", d.ID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	_, err = a.db.Exec(
		`INSERT OR REPLACE INTO decisions (id, context_type, title, consensus, confidence, decided_by, created_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, string(d.Context.Type), d.Context.Title, boolInt(d.Consensus),
		d.Confidence, string(d.DecidedBy), d.CreatedAt.UTC().Format(timeLayout), payload,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save decision %s: %v", d.ID, err)
		return fmt.Errorf("save decision %s: %w", d.ID, err)
	}
	logging.StoreDebug("Saved decision %s (consensus=%v)", d.ID, d.Consensus)
	return nil
}

// SaveConflict persists one conflict record.
func (a *Archive) SaveConflict(c types.ConflictRecord) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("marshal conflict %s: %w", c.ID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	_, err = a.db.Exec(
		`INSERT OR REPLACE INTO conflicts (id, decision_id, strategy, resolved_by, participants, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.DecisionID, c.Strategy, string(c.ResolvedBy), participants,
		c.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save conflict %s: %w", c.ID, err)
	}
	return nil
}

// SaveSession persists a finished session snapshot.
func (a *Archive) SaveSession(snap session.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", snap.ID, err)
	}

	completed := ""
	if !snap.CompletedAt.IsZero() {
		completed = snap.CompletedAt.UTC().Format(timeLayout)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	_, err = a.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, type, priority, title, status, initiator, started_at, completed_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, string(snap.Type), string(snap.Priority), snap.Title, string(snap.Status),
		snap.Initiator, snap.StartedAt.UTC().Format(timeLayout), completed, payload,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save session %s: %v", snap.ID, err)
		return fmt.Errorf("save session %s: %w", snap.ID, err)
	}
	logging.StoreDebug("Saved session %s (status=%s)", snap.ID, snap.Status)
	return nil
}

// RecentDecisions returns the newest decisions, most recent first.
func (a *Archive) RecentDecisions(limit int) ([]types.StrategicDecision, error) {
	if limit <= 0 {
		limit = 50
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(
		`SELECT payload FROM decisions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []types.StrategicDecision
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		var d types.StrategicDecision
		if err := json.Unmarshal(payload, &d); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping undecodable decision row: %v", err)
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SessionRecord returns one archived session by id.
func (a *Archive) SessionRecord(id string) (session.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var payload []byte
	err := a.db.QueryRow(`SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return session.Snapshot{}, fmt.Errorf("archived session %q: %w", id, types.ErrSessionNotFound)
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("query session %s: %w", id, err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return snap, nil
}

// ConflictsForDecision returns the conflict ids recorded for a decision.
func (a *Archive) ConflictsForDecision(decisionID string) ([]types.ConflictRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(
		`SELECT id, decision_id, strategy, resolved_by, participants, created_at
		 FROM conflicts WHERE decision_id = ?`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	var out []types.ConflictRecord
	for rows.Next() {
		var c types.ConflictRecord
		var participants []byte
		var created string
		if err := rows.Scan(&c.ID, &c.DecisionID, &c.Strategy, (*string)(&c.ResolvedBy), &participants, &created); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		if err := json.Unmarshal(participants, &c.Participants); err != nil {
			continue
		}
		c.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, c)
	}
	return out, rows.Err()
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
