package control

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/tkallio/rivet/config"
	"github.com/tkallio/rivet/engine"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for control package tests.
//
// Tests run against a fake execution controller plus a real
// DebugController with a hand-built snapshot, so every handler path
// is exercised without a live loop.
// ---------------------------------------------------------------------------

// fakeExec records commands and coarse state transitions.
type fakeExec struct {
	mu       sync.Mutex
	state    engine.State
	lastErr  string
	commands []engine.Command
	reloadFn func(engine.ReloadBytecode)
}

func newFakeExec() *fakeExec {
	return &fakeExec{state: engine.StateRunning}
}

func (f *fakeExec) State() engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeExec) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeExec) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = engine.StatePaused
}

func (f *fakeExec) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = engine.StateRunning
}

func (f *fakeExec) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = engine.StateStopped
}

func (f *fakeExec) Send(cmd engine.Command) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	reloadFn := f.reloadFn
	f.mu.Unlock()

	if reload, ok := cmd.(engine.ReloadBytecode); ok {
		if reloadFn != nil {
			reloadFn(reload)
		} else {
			reload.Reply <- nil
		}
	}
}

func (f *fakeExec) sent() []engine.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Command(nil), f.commands...)
}

// testEnv bundles a control state with its collaborators.
type testEnv struct {
	State   *ControlState
	Exec    *fakeExec
	Debug   *engine.DebugController
	Storage *engine.Storage
	Audit   chan AuditEvent
}

// newTestEnv builds a populated runtime: two source files, globals,
// retain, two instances, IO points, a reference, and one paused-style
// frame, with a snapshot already published.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sources := engine.NewSourceRegistry(
		[]string{"/prog/main.st", "/prog/motor.st"},
		[]string{"PROGRAM Main\n  i := 0;\n  i := i + 1;\nEND_PROGRAM\n", "FUNCTION_BLOCK Motor\nEND_FUNCTION_BLOCK\n"},
	)

	meta := engine.NewMetadata()
	meta.SetStatements(1, []engine.StmtLoc{
		{Line: 3, Column: 5},
		{Line: 5, Column: 5},
		{Line: 8, Column: 9},
		{Line: 12, Column: 5},
	})
	meta.SetStatements(2, []engine.StmtLoc{
		{Line: 2, Column: 3},
		{Line: 4, Column: 3},
	})
	meta.SetNamespaces("Main", []string{"Station"})
	meta.Types().Register(engine.TypeInfo{Name: "MotorDrive", Kind: engine.KindStruct, Fields: []string{"Setpoint", "RPM"}})

	st := engine.NewStorage()
	st.Globals.Set("Speed", engine.IntValue("DINT", 1200))
	st.Globals.Set("Running", engine.BoolValue(true))
	st.Globals.Set("Station.Conveyor", engine.IntValue("DINT", 77))
	st.Globals.Set("Drive", engine.StructValue("MotorDrive", []engine.Field{
		{Name: "Setpoint", Value: engine.RealValue("REAL", 55.5)},
		{Name: "RPM", Value: engine.IntValue("DINT", 1180)},
	}))
	st.Globals.Set("Buffer", engine.ArrayValue("ARRAY[0..2] OF INT", []engine.Value{
		engine.IntValue("INT", 10),
		engine.IntValue("INT", 20),
		engine.IntValue("INT", 30),
	}))
	st.Globals.Set("SpeedRef", engine.RefValue("REF_TO DINT", 1))
	st.Refs[1] = engine.RefTarget{Area: engine.AreaGlobal, Name: "Speed"}
	st.Retain.Set("TotalCount", engine.IntValue("DINT", 42))

	drive := &engine.Instance{ID: 1, Type: "Motor", Fields: engine.NewVarTable()}
	drive.Fields.Set("Setpoint", engine.RealValue("REAL", 55.5))
	drive.Fields.Set("Running", engine.BoolValue(true))
	st.AddInstance(drive)

	axis := &engine.Instance{ID: 2, Type: "Axis", Parent: 1, Fields: engine.NewVarTable()}
	axis.Fields.Set("Position", engine.RealValue("LREAL", 12.25))
	st.AddInstance(axis)

	st.IO.Inputs.Set("StartButton", engine.BoolValue(false))
	st.IO.Outputs.Set("Contactor", engine.BoolValue(true))
	st.IO.Memory.Set("Flag", engine.BoolValue(false))

	locals := engine.NewVarTable()
	locals.Set("i", engine.IntValue("DINT", 3))
	locals.Set("limit", engine.IntValue("DINT", 10))
	frames := []engine.Frame{
		{ID: 1, Name: "Main", Instance: 1, Locals: locals, File: 1, Line: 5, Column: 5},
	}

	debug := engine.NewDebugController()
	debug.SetSnapshot(engine.TakeSnapshot(st, frames, 1))

	exec := newFakeExec()
	auditCh := make(chan AuditEvent, 64)

	settings := config.Default()
	settings.Control.Endpoint = "unix:///tmp/rivet-test.sock"

	state := NewControlState(exec, debug, meta, sources, engine.NewLiveStorage(st), settings, auditCh)

	return &testEnv{
		State:   state,
		Exec:    exec,
		Debug:   debug,
		Storage: st,
		Audit:   auditCh,
	}
}

// do dispatches one raw request line.
func (e *testEnv) do(t *testing.T, line string) Response {
	t.Helper()
	return e.State.Dispatch([]byte(line), "test")
}

// call dispatches a typed request with the debug gate open.
func (e *testEnv) call(t *testing.T, id uint64, typ string, params interface{}) Response {
	t.Helper()
	e.State.SetDebugEnabled(true)
	req := Request{ID: id, Type: typ}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = data
	}
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return e.State.Dispatch(line, "test")
}

// resultMap asserts a successful response and returns its result as a
// map.
func resultMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	if !resp.OK {
		t.Fatalf("request failed: %s", resp.Error)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return out
}

// drainAudit empties the audit channel.
func (e *testEnv) drainAudit() []AuditEvent {
	var out []AuditEvent
	for {
		select {
		case ev := <-e.Audit:
			out = append(out, ev)
		default:
			return out
		}
	}
}
