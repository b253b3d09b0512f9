package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/tkallio/rivet/config"
)

var loopLog = commonlog.GetLogger("rivet.engine")

// ---------------------------------------------------------------------------
// Execution loop
// ---------------------------------------------------------------------------

// CycleFunc executes one pass of the control program against live
// storage and returns the current frame stack. A nil CycleFunc leaves
// storage untouched (idle resource).
type CycleFunc func(st *Storage, cycle uint64) ([]Frame, error)

// EventFunc receives runtime events (faults, watchdog trips, retain
// saves). May be nil.
type EventFunc func(kind, message string)

// Loop is the cyclic execution loop of one resource. It implements
// ExecController. Everything that touches live storage happens on the
// loop goroutine; the control service only sees snapshots and the
// command channel.
type Loop struct {
	live  *LiveStorage
	debug *DebugController
	run   CycleFunc
	event EventFunc

	cmds chan Command
	quit chan struct{}
	done chan struct{}

	startMu sync.Mutex
	started bool

	// loop-goroutine state, mirrored into atomics-free getters via
	// the command channel pattern below
	stateCh chan stateQuery

	interval       time.Duration
	watchdog       config.Watchdog
	faultPolicy    config.FaultPolicy
	retainMode     config.RetainMode
	retainPath     string
	retainInterval time.Duration
	lastRetainSave time.Time

	program []byte
	cycle   uint64
	state   State
	lastErr string
	frames  []Frame
}

type stateQuery struct {
	reply chan stateAnswer
}

type stateAnswer struct {
	state   State
	lastErr string
	cycle   uint64
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithCycleFunc sets the program body executed each cycle.
func WithCycleFunc(fn CycleFunc) LoopOption {
	return func(l *Loop) { l.run = fn }
}

// WithEventFunc sets the runtime event callback.
func WithEventFunc(fn EventFunc) LoopOption {
	return func(l *Loop) { l.event = fn }
}

// WithRetain configures retain persistence from settings.
func WithRetain(r config.Retain) LoopOption {
	return func(l *Loop) {
		l.retainMode = r.Mode
		l.retainPath = r.Path
		l.retainInterval = time.Duration(r.SaveIntervalMs) * time.Millisecond
	}
}

// WithWatchdog configures the cycle watchdog from settings.
func WithWatchdog(w config.Watchdog) LoopOption {
	return func(l *Loop) { l.watchdog = w }
}

// SetEventFunc installs the runtime event callback. Must be called
// before Start.
func (l *Loop) SetEventFunc(fn EventFunc) {
	l.event = fn
}

// NewLoop creates a stopped loop over the given storage.
func NewLoop(live *LiveStorage, debug *DebugController, interval time.Duration, opts ...LoopOption) *Loop {
	l := &Loop{
		live:        live,
		debug:       debug,
		cmds:        make(chan Command, 16),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		stateCh:     make(chan stateQuery),
		interval:    interval,
		faultPolicy: config.FaultHalt,
		retainMode:  config.RetainOff,
		state:       StateStopped,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start begins cyclic execution on a new goroutine.
func (l *Loop) Start() {
	l.startMu.Lock()
	l.started = true
	l.startMu.Unlock()
	l.state = StateRunning
	go l.loop()
}

func (l *Loop) isStarted() bool {
	l.startMu.Lock()
	defer l.startMu.Unlock()
	return l.started
}

func (l *Loop) loop() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.quit:
			return
		case q := <-l.stateCh:
			q.reply <- stateAnswer{state: l.state, lastErr: l.lastErr, cycle: l.cycle}
		case cmd := <-l.cmds:
			l.handleCommand(cmd)
		case <-ticker.C:
			if l.state == StateRunning && !l.debug.IsPaused() {
				l.tick()
			}
		}
	}
}

// tick runs one cycle: program body, queued debug writes at the
// boundary, snapshot refresh, retain save when due.
func (l *Loop) tick() {
	start := time.Now()
	l.live.WithLock(func(st *Storage) {
		if l.run != nil {
			frames, err := l.run(st, l.cycle)
			if err != nil {
				l.fault(err)
				return
			}
			l.frames = frames
		}
		for _, err := range l.debug.ApplyPending(st) {
			loopLog.Warningf("debug write failed: %s", err.Error())
		}
		l.cycle++
		l.debug.SetSnapshot(TakeSnapshot(st, l.frames, l.cycle))

		if l.retainMode == config.RetainCyclic && l.retainPath != "" &&
			time.Since(l.lastRetainSave) >= l.retainInterval {
			if err := SaveRetain(l.retainPath, st.Retain); err != nil {
				loopLog.Errorf("retain save failed: %s", err.Error())
			} else {
				l.lastRetainSave = time.Now()
				l.emit("retain", "retain memory saved")
			}
		}
	})

	if l.watchdog.Enabled {
		elapsed := time.Since(start)
		if elapsed > time.Duration(l.watchdog.TimeoutMs)*time.Millisecond {
			l.watchdogTrip(elapsed)
		}
	}
}

func (l *Loop) fault(err error) {
	l.lastErr = err.Error()
	l.emit("fault", err.Error())
	switch l.faultPolicy {
	case config.FaultResume:
		loopLog.Warningf("cycle fault (resuming): %s", err.Error())
	case config.FaultRestart:
		loopLog.Errorf("cycle fault (restarting resource): %s", err.Error())
		l.cycle = 0
	default:
		loopLog.Errorf("cycle fault (halting): %s", err.Error())
		l.state = StateFaulted
	}
}

func (l *Loop) watchdogTrip(elapsed time.Duration) {
	msg := fmt.Sprintf("cycle overran watchdog: %s", elapsed)
	l.emit("watchdog", msg)
	switch l.watchdog.Action {
	case config.WatchdogPause:
		l.state = StatePaused
	case config.WatchdogHalt:
		l.state = StateFaulted
		l.lastErr = msg
	case config.WatchdogRestart:
		l.cycle = 0
	default:
		loopLog.Warning(msg)
	}
}

func (l *Loop) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case UpdateWatchdog:
		l.watchdog = config.Watchdog{
			Enabled:   c.Enabled,
			TimeoutMs: int(c.Timeout / time.Millisecond),
			Action:    c.Action,
		}
		loopLog.Infof("watchdog updated: enabled=%t timeout=%s action=%s", c.Enabled, c.Timeout, c.Action)
	case UpdateFaultPolicy:
		l.faultPolicy = c.Policy
		loopLog.Infof("fault policy updated: %s", c.Policy)
	case UpdateRetainSaveInterval:
		l.retainInterval = c.Interval
		loopLog.Infof("retain save interval updated: %s", c.Interval)
	case ReloadBytecode:
		c.Reply <- l.reload(c.Bytes)
	case setStateCommand:
		l.state = c.state
		c.done <- nil
	}
}

// reload swaps the running program between cycles.
func (l *Loop) reload(program []byte) error {
	if len(program) == 0 {
		return fmt.Errorf("empty bytecode image")
	}
	l.program = program
	l.cycle = 0
	if l.state == StateFaulted {
		l.state = StateRunning
		l.lastErr = ""
	}
	l.emit("reload", fmt.Sprintf("bytecode reloaded (%d bytes)", len(program)))
	return nil
}

func (l *Loop) emit(kind, msg string) {
	if l.event != nil {
		l.event(kind, msg)
	}
}

// ---------------------------------------------------------------------------
// ExecController
// ---------------------------------------------------------------------------

func (l *Loop) query() stateAnswer {
	// Before Start there is no loop goroutine to answer; report the
	// stopped state directly instead of blocking on stateCh.
	if !l.isStarted() {
		return stateAnswer{state: StateStopped}
	}
	q := stateQuery{reply: make(chan stateAnswer, 1)}
	select {
	case l.stateCh <- q:
		return <-q.reply
	case <-l.done:
		return stateAnswer{state: StateStopped}
	}
}

// State returns the coarse execution state.
func (l *Loop) State() State {
	return l.query().state
}

// LastError returns the last fault message, empty when healthy.
func (l *Loop) LastError() string {
	return l.query().lastErr
}

// Cycle returns the current cycle counter.
func (l *Loop) Cycle() uint64 {
	return l.query().cycle
}

// Pause suspends the whole resource at the next cycle boundary.
func (l *Loop) Pause() {
	l.setState(StatePaused)
}

// Resume continues a paused resource.
func (l *Loop) Resume() {
	l.setState(StateRunning)
}

// Stop shuts the loop down.
func (l *Loop) Stop() {
	select {
	case <-l.quit:
	default:
		close(l.quit)
	}
}

// Send pushes a command into the loop.
func (l *Loop) Send(cmd Command) {
	select {
	case l.cmds <- cmd:
	case <-l.done:
	}
}

func (l *Loop) setState(s State) {
	// State transitions ride the command channel so they serialize
	// with the loop goroutine.
	done := make(chan error, 1)
	l.Send(setStateCommand{state: s, done: done})
	select {
	case <-done:
	case <-l.done:
	}
}

type setStateCommand struct {
	state State
	done  chan error
}

func (setStateCommand) isCommand() {}
