package engine

import "time"

// ---------------------------------------------------------------------------
// Snapshots and frames
// ---------------------------------------------------------------------------

// Frame is one call-level activation record.
type Frame struct {
	ID       int
	Name     string // program / function-block entry name
	Instance int    // owning instance id, 0 when none
	Locals   *VarTable
	File     FileID
	Line     int
	Column   int
}

// Snapshot is an immutable point-in-time clone of variable storage
// plus the frame stack. Once taken it is never mutated; readers may
// share it freely across goroutines.
type Snapshot struct {
	TakenAt time.Time
	Cycle   uint64
	Storage *Storage
	Frames  []Frame
}

// TakeSnapshot clones storage and frames into a new snapshot.
func TakeSnapshot(st *Storage, frames []Frame, cycle uint64) *Snapshot {
	cloned := make([]Frame, len(frames))
	for i, f := range frames {
		cloned[i] = f
		if f.Locals != nil {
			cloned[i].Locals = f.Locals.Clone()
		}
	}
	return &Snapshot{
		TakenAt: time.Now(),
		Cycle:   cycle,
		Storage: st.Clone(),
		Frames:  cloned,
	}
}

// Frame returns the frame with the given id.
func (s *Snapshot) Frame(id int) (Frame, bool) {
	for _, f := range s.Frames {
		if f.ID == id {
			return f, true
		}
	}
	return Frame{}, false
}

// CurrentFrame returns the innermost frame, or false when the stack
// is empty.
func (s *Snapshot) CurrentFrame() (Frame, bool) {
	if len(s.Frames) == 0 {
		return Frame{}, false
	}
	return s.Frames[len(s.Frames)-1], true
}
