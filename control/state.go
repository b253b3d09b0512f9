// Package control implements the runtime control and debugging
// service: a newline-delimited JSON request/response protocol for
// inspecting and manipulating a live rivet resource without blocking
// its execution loop.
package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tkallio/rivet/config"
	"github.com/tkallio/rivet/engine"
)

// Mode selects how pause/resume/step behave.
type Mode uint8

const (
	// ModeProduction routes pause/resume to the whole resource.
	ModeProduction Mode = iota
	// ModeDebug routes pause/resume/step to the fine-grained
	// single-frame debug controller.
	ModeDebug
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	if m == ModeDebug {
		return "debug"
	}
	return "production"
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "production":
		return ModeProduction, true
	case "debug":
		return ModeDebug, true
	}
	return ModeProduction, false
}

// RuntimeEvent is one entry of the runtime event ring buffer.
type RuntimeEvent struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

const eventRingCap = 256

// ControlState is the process-wide shared state of the control
// service. Each logical field group has its own lock so unrelated
// handlers never contend; cross-group reads are deliberately not
// transactional.
type ControlState struct {
	// Collaborators, set once at construction.
	Exec    engine.ExecController
	Debug   *engine.DebugController
	Meta    *engine.Metadata
	Sources *engine.SourceRegistry
	Live    *engine.LiveStorage

	metaMu    sync.Mutex
	name      string
	version   string
	startedAt time.Time

	settingsMu     sync.Mutex
	settings       *config.Settings
	pendingRestart []string

	authMu sync.Mutex
	token  string

	modeMu sync.Mutex
	mode   Mode

	debugEnabled atomic.Bool

	eventsMu sync.Mutex
	events   []RuntimeEvent

	ioMu     sync.Mutex
	ioHealth engine.IOHealth

	arenaMu sync.Mutex
	arena   refArena

	audit chan<- AuditEvent
}

// NewControlState wires the control state to its collaborators. The
// auth token and mode come from settings; the debug-enabled flag
// always starts off.
func NewControlState(
	exec engine.ExecController,
	debug *engine.DebugController,
	meta *engine.Metadata,
	sources *engine.SourceRegistry,
	live *engine.LiveStorage,
	settings *config.Settings,
	audit chan<- AuditEvent,
) *ControlState {
	if settings == nil {
		settings = config.Default()
	}
	s := &ControlState{
		Exec:      exec,
		Debug:     debug,
		Meta:      meta,
		Sources:   sources,
		Live:      live,
		name:      "rivet",
		version:   Version,
		startedAt: time.Now(),
		settings:  settings.Clone(),
		token:     settings.Control.AuthToken,
		ioHealth:  engine.IOHealth{Ok: true},
		audit:     audit,
	}
	if m, ok := ParseMode(settings.Control.Mode); ok {
		s.mode = m
	}
	return s
}

// Version is the runtime version reported by status.
const Version = "0.3.1"

// DebugEnabled reports the debug gate flag.
func (s *ControlState) DebugEnabled() bool {
	return s.debugEnabled.Load()
}

// SetDebugEnabled flips the debug gate flag.
func (s *ControlState) SetDebugEnabled(on bool) {
	s.debugEnabled.Store(on)
}

// ControlMode returns the current execution-control mode.
func (s *ControlState) ControlMode() Mode {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	return s.mode
}

// AuthToken returns the configured token, empty when none.
func (s *ControlState) AuthToken() string {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.token
}

func (s *ControlState) setAuthToken(tok string) {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	s.token = tok
}

// RecordEvent appends one runtime event, dropping the oldest entry
// when the ring is full. Safe to call from the execution loop.
func (s *ControlState) RecordEvent(kind, message string) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if len(s.events) >= eventRingCap {
		s.events = s.events[1:]
	}
	s.events = append(s.events, RuntimeEvent{Time: time.Now(), Kind: kind, Message: message})
}

// drainEvents removes and returns up to max buffered events (all of
// them when max <= 0).
func (s *ControlState) drainEvents(max int) []RuntimeEvent {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	n := len(s.events)
	if max > 0 && max < n {
		n = max
	}
	out := append([]RuntimeEvent(nil), s.events[:n]...)
	s.events = s.events[n:]
	return out
}

// SetIOHealth publishes fieldbus health. Called by the IO driver.
func (s *ControlState) SetIOHealth(h engine.IOHealth) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	s.ioHealth = h
}

func (s *ControlState) ioHealthSnapshot() engine.IOHealth {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.ioHealth
}

// withSettings runs fn holding the settings lock.
func (s *ControlState) withSettings(fn func(*config.Settings)) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	fn(s.settings)
}

// noteRestartRequired records a cold key, de-duplicated, in first-seen
// order.
func (s *ControlState) noteRestartRequired(key string) {
	for _, k := range s.pendingRestart {
		if k == key {
			return
		}
	}
	s.pendingRestart = append(s.pendingRestart, key)
}
