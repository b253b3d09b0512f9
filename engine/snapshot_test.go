package engine

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Snapshot isolation
// ---------------------------------------------------------------------------

func TestTakeSnapshot_IsolatedFromLiveMutation(t *testing.T) {
	st := NewStorage()
	st.Globals.Set("Speed", IntValue("DINT", 100))
	locals := NewVarTable()
	locals.Set("i", IntValue("DINT", 1))
	frames := []Frame{{ID: 1, Name: "Main", Locals: locals, File: 1, Line: 3, Column: 5}}

	snap := TakeSnapshot(st, frames, 7)
	if snap.Cycle != 7 {
		t.Errorf("cycle = %d", snap.Cycle)
	}

	// The loop keeps running; the snapshot must not move.
	st.Globals.Set("Speed", IntValue("DINT", 999))
	locals.Set("i", IntValue("DINT", 2))

	if v, _ := snap.Storage.Globals.Get("Speed"); v.Int != 100 {
		t.Errorf("snapshot global = %d", v.Int)
	}
	f, _ := snap.Frame(1)
	if v, _ := f.Locals.Get("i"); v.Int != 1 {
		t.Errorf("snapshot local = %d", v.Int)
	}
}

func TestSnapshot_FrameLookup(t *testing.T) {
	st := NewStorage()
	frames := []Frame{
		{ID: 1, Name: "Main"},
		{ID: 2, Name: "Motor.Run"},
	}
	snap := TakeSnapshot(st, frames, 1)

	if f, ok := snap.Frame(2); !ok || f.Name != "Motor.Run" {
		t.Errorf("frame 2 = %+v %t", f, ok)
	}
	if _, ok := snap.Frame(9); ok {
		t.Error("unknown frame found")
	}
	// The innermost frame is the last one pushed.
	if f, ok := snap.CurrentFrame(); !ok || f.ID != 2 {
		t.Errorf("current frame = %+v %t", f, ok)
	}

	empty := TakeSnapshot(st, nil, 1)
	if _, ok := empty.CurrentFrame(); ok {
		t.Error("empty stack has a current frame")
	}
}
