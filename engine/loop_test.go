package engine

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tkallio/rivet/config"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countingLoop(t *testing.T, opts ...LoopOption) (*Loop, *LiveStorage, *DebugController) {
	t.Helper()
	st := NewStorage()
	st.Globals.Set("Count", IntValue("DINT", 0))
	live := NewLiveStorage(st)
	debug := NewDebugController()

	run := WithCycleFunc(func(s *Storage, cycle uint64) ([]Frame, error) {
		v, _ := s.Globals.Get("Count")
		s.Globals.Set("Count", IntValue("DINT", v.Int+1))
		return []Frame{{ID: 1, Name: "Main", File: 1, Line: 1, Column: 1}}, nil
	})
	loop := NewLoop(live, debug, time.Millisecond, append([]LoopOption{run}, opts...)...)
	return loop, live, debug
}

func liveCount(live *LiveStorage) int64 {
	v, _ := live.ReadVar(WriteTarget{Area: AreaGlobal, Name: "Count"})
	return v.Int
}

// ---------------------------------------------------------------------------
// Cyclic execution
// ---------------------------------------------------------------------------

func TestLoop_StateQueriesBeforeStart(t *testing.T) {
	loop, _, _ := countingLoop(t)

	if got := loop.State(); got != StateStopped {
		t.Errorf("state = %s, want stopped", got)
	}
	if got := loop.LastError(); got != "" {
		t.Errorf("last error = %q", got)
	}
	if got := loop.Cycle(); got != 0 {
		t.Errorf("cycle = %d", got)
	}
}

func TestLoop_RunsCyclesAndPublishesSnapshots(t *testing.T) {
	loop, live, debug := countingLoop(t)
	loop.Start()
	defer loop.Stop()

	waitFor(t, "three cycles", func() bool { return liveCount(live) >= 3 })

	snap := debug.Snapshot()
	if snap == nil {
		t.Fatal("no snapshot published")
	}
	if snap.Cycle == 0 {
		t.Error("snapshot cycle not advancing")
	}
	if _, ok := snap.Frame(1); !ok {
		t.Error("snapshot lost the frame stack")
	}
	if loop.State() != StateRunning {
		t.Errorf("state = %s", loop.State())
	}
}

func TestLoop_PauseStopsCycling(t *testing.T) {
	loop, live, _ := countingLoop(t)
	loop.Start()
	defer loop.Stop()

	waitFor(t, "first cycle", func() bool { return liveCount(live) >= 1 })
	loop.Pause()
	if loop.State() != StatePaused {
		t.Fatalf("state = %s", loop.State())
	}

	// Pause and tick are serialized on the loop goroutine, so once
	// Pause returns the counter is settled.
	before := liveCount(live)
	time.Sleep(20 * time.Millisecond)
	if after := liveCount(live); after != before {
		t.Errorf("cycles ran while paused: %d -> %d", before, after)
	}

	loop.Resume()
	waitFor(t, "resume", func() bool { return liveCount(live) > before })
}

func TestLoop_DebugPauseGatesCycling(t *testing.T) {
	loop, live, debug := countingLoop(t)
	loop.Start()
	defer loop.Stop()

	waitFor(t, "first cycle", func() bool { return liveCount(live) >= 1 })
	debug.PushStop(Stop{Reason: StopBreakpoint})

	// Resource state stays running; only the fine-grained pause gates
	// the tick.
	if loop.State() != StateRunning {
		t.Errorf("state = %s", loop.State())
	}
	time.Sleep(5 * time.Millisecond)
	before := liveCount(live)
	time.Sleep(20 * time.Millisecond)
	if after := liveCount(live); after != before {
		t.Errorf("cycles ran while debug-paused: %d -> %d", before, after)
	}

	debug.ApplyAction(ActionContinue)
	waitFor(t, "continue", func() bool { return liveCount(live) > before })
}

func TestLoop_AppliesQueuedWritesAtBoundary(t *testing.T) {
	loop, live, debug := countingLoop(t)
	loop.Start()
	defer loop.Stop()

	debug.QueueWrite(WriteTarget{Area: AreaGlobal, Name: "Count"}, IntValue("DINT", 1000))
	waitFor(t, "queued write", func() bool { return liveCount(live) >= 1000 })
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

func TestLoop_FaultHaltsByDefault(t *testing.T) {
	st := NewStorage()
	live := NewLiveStorage(st)
	debug := NewDebugController()

	var events []string
	var mu sync.Mutex
	loop := NewLoop(live, debug, time.Millisecond,
		WithCycleFunc(func(s *Storage, cycle uint64) ([]Frame, error) {
			return nil, errors.New("division by zero")
		}),
		WithEventFunc(func(kind, msg string) {
			mu.Lock()
			events = append(events, kind)
			mu.Unlock()
		}),
	)
	loop.Start()
	defer loop.Stop()

	waitFor(t, "fault", func() bool { return loop.State() == StateFaulted })
	if loop.LastError() != "division by zero" {
		t.Errorf("last error = %q", loop.LastError())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || events[0] != "fault" {
		t.Errorf("events = %v", events)
	}
}

func TestLoop_FaultResumePolicyKeepsRunning(t *testing.T) {
	st := NewStorage()
	st.Globals.Set("Count", IntValue("DINT", 0))
	live := NewLiveStorage(st)
	debug := NewDebugController()

	calls := 0
	loop := NewLoop(live, debug, time.Millisecond,
		WithCycleFunc(func(s *Storage, cycle uint64) ([]Frame, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("transient")
			}
			v, _ := s.Globals.Get("Count")
			s.Globals.Set("Count", IntValue("DINT", v.Int+1))
			return nil, nil
		}),
	)
	loop.Send(UpdateFaultPolicy{Policy: config.FaultResume})
	loop.Start()
	defer loop.Stop()

	waitFor(t, "recovery", func() bool { return liveCount(live) >= 2 })
	if loop.State() != StateRunning {
		t.Errorf("state = %s", loop.State())
	}
}

// ---------------------------------------------------------------------------
// Reload
// ---------------------------------------------------------------------------

func TestLoop_ReloadClearsFault(t *testing.T) {
	st := NewStorage()
	live := NewLiveStorage(st)
	debug := NewDebugController()

	var fail sync.Mutex
	failing := true
	loop := NewLoop(live, debug, time.Millisecond,
		WithCycleFunc(func(s *Storage, cycle uint64) ([]Frame, error) {
			fail.Lock()
			defer fail.Unlock()
			if failing {
				return nil, errors.New("bad program")
			}
			return nil, nil
		}),
	)
	loop.Start()
	defer loop.Stop()

	waitFor(t, "fault", func() bool { return loop.State() == StateFaulted })

	fail.Lock()
	failing = false
	fail.Unlock()

	reply := make(chan error, 1)
	loop.Send(ReloadBytecode{Bytes: []byte{1, 2, 3}, Reply: reply})
	if err := <-reply; err != nil {
		t.Fatalf("reload: %v", err)
	}
	waitFor(t, "recovery", func() bool { return loop.State() == StateRunning })
	if loop.LastError() != "" {
		t.Errorf("last error not cleared: %q", loop.LastError())
	}
}

func TestLoop_ReloadRejectsEmptyImage(t *testing.T) {
	loop, _, _ := countingLoop(t)
	loop.Start()
	defer loop.Stop()

	reply := make(chan error, 1)
	loop.Send(ReloadBytecode{Bytes: nil, Reply: reply})
	if err := <-reply; err == nil {
		t.Error("empty image accepted")
	}
}

// ---------------------------------------------------------------------------
// Retain persistence
// ---------------------------------------------------------------------------

func TestLoop_CyclicRetainSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retain.cbor")
	st := NewStorage()
	st.Globals.Set("Count", IntValue("DINT", 0))
	st.Retain.Set("Total", IntValue("DINT", 42))
	live := NewLiveStorage(st)
	debug := NewDebugController()

	loop := NewLoop(live, debug, time.Millisecond,
		WithCycleFunc(func(s *Storage, cycle uint64) ([]Frame, error) {
			v, _ := s.Globals.Get("Count")
			s.Globals.Set("Count", IntValue("DINT", v.Int+1))
			return nil, nil
		}),
		WithRetain(config.Retain{Mode: config.RetainCyclic, SaveIntervalMs: 1, Path: path}),
	)
	loop.Start()
	defer loop.Stop()

	waitFor(t, "retain save", func() bool {
		vt, err := LoadRetain(path)
		if err != nil {
			return false
		}
		v, ok := vt.Get("Total")
		return ok && v.Int == 42
	})
}
