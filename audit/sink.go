// Package audit persists control-service audit events. The control
// subsystem only emits onto a channel; this sink is the external
// consumer draining it into SQLite.
package audit

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/tkallio/rivet/control"
)

var log = commonlog.GetLogger("rivet.audit")

// Sink drains audit events into a SQLite database.
type Sink struct {
	db   *sql.DB
	ch   chan control.AuditEvent
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// Open creates (or reopens) the audit database and starts the drain
// goroutine. The returned channel is what the control state emits on.
func Open(dbPath string) (*Sink, chan control.AuditEvent, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		request_id INTEGER NOT NULL,
		request_type TEXT NOT NULL,
		ok INTEGER NOT NULL,
		error TEXT,
		auth_present INTEGER NOT NULL,
		client TEXT
	)`); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating audit table: %w", err)
	}

	s := &Sink{
		db:   db,
		ch:   make(chan control.AuditEvent, 256),
		done: make(chan struct{}),
	}
	go s.drain()
	return s, s.ch, nil
}

func (s *Sink) drain() {
	defer close(s.done)
	for ev := range s.ch {
		if err := s.insert(ev); err != nil {
			log.Errorf("audit insert failed: %s", err.Error())
		}
	}
}

func (s *Sink) insert(ev control.AuditEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_events (at, request_id, request_type, ok, error, auth_present, client)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ev.RequestID,
		ev.RequestType,
		boolInt(ev.OK),
		ev.Error,
		boolInt(ev.AuthPresent),
		ev.Client,
	)
	return err
}

// Count returns the number of stored events. Used by consoles and
// tests.
func (s *Sink) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&n)
	return n, err
}

// Close stops the drain goroutine, flushes remaining events, and
// closes the database.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.ch)
	<-s.done
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
