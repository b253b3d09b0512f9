package engine

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// DebugController: breakpoints, stops, stepping, queued writes
// ---------------------------------------------------------------------------

// StopReason classifies why execution stopped.
type StopReason string

const (
	StopBreakpoint StopReason = "breakpoint"
	StopStep       StopReason = "step"
	StopPause      StopReason = "pause"
	StopEntry      StopReason = "entry"
)

// SourceLoc is a resolved source position.
type SourceLoc struct {
	File   FileID
	Line   int
	Column int
}

// Stop is one debug stop event produced by the execution loop.
type Stop struct {
	Reason     StopReason
	Thread     int
	Generation uint64 // breakpoint generation of the hit file, 0 otherwise
	Loc        *SourceLoc
}

// Action is a fine-grained debug action.
type Action uint8

const (
	ActionPause Action = iota
	ActionContinue
	ActionStepIn
	ActionStepOver
	ActionStepOut
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionPause:
		return "pause"
	case ActionContinue:
		return "continue"
	case ActionStepIn:
		return "step_in"
	case ActionStepOver:
		return "step_over"
	case ActionStepOut:
		return "step_out"
	}
	return "unknown"
}

// Breakpoint is one resolved breakpoint location.
type Breakpoint struct {
	File   FileID
	Line   int
	Column int
}

// PendingWrite is a queued debug write, applied by the execution loop
// at the next cycle boundary. Force pins the value each cycle until
// released; Release removes an existing force.
type PendingWrite struct {
	Target  WriteTarget
	Value   Value
	Force   bool
	Release bool
}

const maxQueuedStops = 64

// DebugController owns the debug-side state the execution loop and
// the control service share: per-file breakpoint sets with monotonic
// generation counters, the stop queue, the paused flag, the latest
// snapshot, and the queue of debug writes. All methods are safe for
// concurrent use.
type DebugController struct {
	mu sync.Mutex

	bps  map[FileID][]Breakpoint
	gens map[FileID]uint64

	stops    []Stop
	lastStop *Stop
	paused   bool
	stepping Action // pending step action, ActionContinue when none

	snap    *Snapshot
	frames  []Frame
	pending []PendingWrite
	forced  map[WriteTarget]Value
}

// NewDebugController creates an idle controller.
func NewDebugController() *DebugController {
	return &DebugController{
		bps:      make(map[FileID][]Breakpoint),
		gens:     make(map[FileID]uint64),
		forced:   make(map[WriteTarget]Value),
		stepping: ActionContinue,
	}
}

// ---------------------------------------------------------------------------
// Breakpoints
// ---------------------------------------------------------------------------

// SetBreakpointsForFile replaces the breakpoint set of one file and
// bumps its generation. Returns the new generation.
func (d *DebugController) SetBreakpointsForFile(file FileID, bps []Breakpoint) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bps[file] = append([]Breakpoint(nil), bps...)
	d.gens[file]++
	return d.gens[file]
}

// ClearBreakpoints removes the breakpoint set of one file, bumping
// its generation when it was non-empty.
func (d *DebugController) ClearBreakpoints(file FileID) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.bps[file]) > 0 {
		delete(d.bps, file)
		d.gens[file]++
	}
	return d.gens[file]
}

// ClearAllBreakpoints removes every breakpoint set, bumping each
// affected file's generation.
func (d *DebugController) ClearAllBreakpoints() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for file := range d.bps {
		if len(d.bps[file]) > 0 {
			d.gens[file]++
		}
		delete(d.bps, file)
	}
}

// Breakpoints returns the breakpoint set of one file.
func (d *DebugController) Breakpoints(file FileID) []Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Breakpoint(nil), d.bps[file]...)
}

// Generation returns the breakpoint generation of one file. It only
// ever increases.
func (d *DebugController) Generation(file FileID) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gens[file]
}

// HasBreakpoint reports whether a breakpoint is set at the location.
// Called from the execution loop on every statement.
func (d *DebugController) HasBreakpoint(file FileID, line, col int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, bp := range d.bps[file] {
		if bp.Line == line && bp.Column == col {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Stops
// ---------------------------------------------------------------------------

// PushStop enqueues a stop event and marks execution paused. The
// queue is bounded; the oldest event is dropped on overflow.
func (d *DebugController) PushStop(s Stop) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stops) >= maxQueuedStops {
		d.stops = d.stops[1:]
	}
	d.stops = append(d.stops, s)
	stop := s
	d.lastStop = &stop
	d.paused = true
}

// DrainStops removes and returns all queued stop events.
func (d *DebugController) DrainStops() []Stop {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.stops
	d.stops = nil
	return out
}

// LastStop returns the most recent stop without consuming anything.
func (d *DebugController) LastStop() (Stop, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastStop == nil {
		return Stop{}, false
	}
	return *d.lastStop, true
}

// IsPaused reports whether fine-grained execution is paused.
func (d *DebugController) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// ApplyAction performs a fine-grained debug action. Pause takes
// effect immediately (the loop checks the paused flag before each
// statement); Continue and the step actions release the pause, with
// the step mode left for the loop to honor.
func (d *DebugController) ApplyAction(a Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch a {
	case ActionPause:
		if !d.paused {
			d.paused = true
			stop := Stop{Reason: StopPause}
			if len(d.frames) > 0 {
				f := d.frames[len(d.frames)-1]
				stop.Thread = f.ID
				stop.Loc = &SourceLoc{File: f.File, Line: f.Line, Column: f.Column}
			}
			if len(d.stops) >= maxQueuedStops {
				d.stops = d.stops[1:]
			}
			d.stops = append(d.stops, stop)
			d.lastStop = &stop
		}
		return nil
	case ActionContinue:
		d.paused = false
		d.stepping = ActionContinue
		return nil
	case ActionStepIn, ActionStepOver, ActionStepOut:
		if !d.paused {
			return fmt.Errorf("cannot %s while running", a)
		}
		d.stepping = a
		d.paused = false
		return nil
	}
	return fmt.Errorf("unknown debug action %d", a)
}

// PendingStep returns the pending step mode and resets it. Called by
// the loop when resuming.
func (d *DebugController) PendingStep() Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := d.stepping
	d.stepping = ActionContinue
	return a
}

// ---------------------------------------------------------------------------
// Snapshot and frames
// ---------------------------------------------------------------------------

// SetSnapshot publishes the latest snapshot and frame stack.
func (d *DebugController) SetSnapshot(s *Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snap = s
	if s != nil {
		d.frames = s.Frames
	}
}

// Snapshot returns the latest snapshot, nil when none was taken yet.
func (d *DebugController) Snapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

// Frames returns the current frame stack.
func (d *DebugController) Frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Frame(nil), d.frames...)
}

// FrameLocation returns the source location of one frame.
func (d *DebugController) FrameLocation(id int) (SourceLoc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.frames {
		if f.ID == id {
			return SourceLoc{File: f.File, Line: f.Line, Column: f.Column}, true
		}
	}
	return SourceLoc{}, false
}

// ---------------------------------------------------------------------------
// Queued writes and forces
// ---------------------------------------------------------------------------

// QueueWrite enqueues a one-shot write applied at the next cycle
// boundary.
func (d *DebugController) QueueWrite(t WriteTarget, v Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, PendingWrite{Target: t, Value: v})
}

// QueueForce enqueues a force: the value is pinned every cycle until
// released.
func (d *DebugController) QueueForce(t WriteTarget, v Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, PendingWrite{Target: t, Value: v, Force: true})
}

// ReleaseForce enqueues release of a force.
func (d *DebugController) ReleaseForce(t WriteTarget) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, PendingWrite{Target: t, Release: true})
}

// ForcedTargets returns the currently pinned targets in no particular
// order.
func (d *DebugController) ForcedTargets() []WriteTarget {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]WriteTarget, 0, len(d.forced))
	for t := range d.forced {
		out = append(out, t)
	}
	return out
}

// ApplyPending applies queued writes and active forces to live
// storage. Called by the execution loop at the cycle boundary, under
// the storage lock. Write errors are collected, not fatal.
func (d *DebugController) ApplyPending(st *Storage) []error {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	var errs []error
	for _, w := range pending {
		switch {
		case w.Release:
			d.mu.Lock()
			delete(d.forced, w.Target)
			d.mu.Unlock()
		case w.Force:
			d.mu.Lock()
			d.forced[w.Target] = w.Value
			d.mu.Unlock()
			if err := st.Write(w.Target, w.Value); err != nil {
				errs = append(errs, err)
			}
		default:
			if err := st.Write(w.Target, w.Value); err != nil {
				errs = append(errs, err)
			}
		}
	}

	// Re-pin active forces after the program ran.
	d.mu.Lock()
	forced := make(map[WriteTarget]Value, len(d.forced))
	for t, v := range d.forced {
		forced[t] = v
	}
	d.mu.Unlock()
	for t, v := range forced {
		if err := st.Write(t, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
