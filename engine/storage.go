package engine

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Variable storage: globals, retain, instances, references, IO image
// ---------------------------------------------------------------------------

// VarTable is an ordered name → value table. Iteration order is
// insertion (declaration) order, which debug clients rely on.
type VarTable struct {
	names []string
	vals  map[string]Value
}

// NewVarTable creates an empty table.
func NewVarTable() *VarTable {
	return &VarTable{vals: make(map[string]Value)}
}

// Set inserts or updates a variable, preserving first-insertion order.
func (t *VarTable) Set(name string, v Value) {
	if _, ok := t.vals[name]; !ok {
		t.names = append(t.names, name)
	}
	t.vals[name] = v
}

// Get returns the value for name.
func (t *VarTable) Get(name string) (Value, bool) {
	v, ok := t.vals[name]
	return v, ok
}

// Names returns variable names in declaration order.
func (t *VarTable) Names() []string {
	return t.names
}

// Len returns the number of variables.
func (t *VarTable) Len() int {
	return len(t.names)
}

// Clone returns a deep copy of the table.
func (t *VarTable) Clone() *VarTable {
	out := &VarTable{
		names: append([]string(nil), t.names...),
		vals:  make(map[string]Value, len(t.vals)),
	}
	for k, v := range t.vals {
		out.vals[k] = v.Clone()
	}
	return out
}

// Instance is a live function-block activation with persistent fields.
type Instance struct {
	ID     int
	Type   string
	Parent int // owning instance id, 0 when top-level
	Fields *VarTable
}

// Area names one addressable storage region.
type Area uint8

const (
	AreaGlobal Area = iota
	AreaRetain
	AreaInstance
	AreaInput
	AreaOutput
	AreaMemory
)

// String returns the wire name of the area.
func (a Area) String() string {
	switch a {
	case AreaGlobal:
		return "global"
	case AreaRetain:
		return "retain"
	case AreaInstance:
		return "instance"
	case AreaInput:
		return "input"
	case AreaOutput:
		return "output"
	case AreaMemory:
		return "memory"
	}
	return "unknown"
}

// RefTarget is one entry of the reference table: where a REF value
// points.
type RefTarget struct {
	Area     Area
	Instance int // valid when Area == AreaInstance
	Name     string
}

// IOImage holds the process-image tables for physical IO.
type IOImage struct {
	Inputs  *VarTable
	Outputs *VarTable
	Memory  *VarTable
}

// NewIOImage creates an empty IO image.
func NewIOImage() *IOImage {
	return &IOImage{
		Inputs:  NewVarTable(),
		Outputs: NewVarTable(),
		Memory:  NewVarTable(),
	}
}

// Clone returns a deep copy of the image.
func (io *IOImage) Clone() *IOImage {
	return &IOImage{
		Inputs:  io.Inputs.Clone(),
		Outputs: io.Outputs.Clone(),
		Memory:  io.Memory.Clone(),
	}
}

// IOHealth reports fieldbus health, read-only for the control service.
type IOHealth struct {
	Ok     bool
	Detail string
}

// Storage is the variable memory of one runtime resource. The
// execution loop owns the live instance; debug code only ever sees
// clones (snapshots).
type Storage struct {
	Globals   *VarTable
	Retain    *VarTable
	Instances []*Instance // discovery order
	Refs      map[int]RefTarget
	IO        *IOImage

	byID map[int]*Instance
}

// NewStorage creates empty storage.
func NewStorage() *Storage {
	return &Storage{
		Globals: NewVarTable(),
		Retain:  NewVarTable(),
		Refs:    make(map[int]RefTarget),
		IO:      NewIOImage(),
		byID:    make(map[int]*Instance),
	}
}

// AddInstance registers an instance, keeping discovery order.
func (s *Storage) AddInstance(inst *Instance) {
	s.Instances = append(s.Instances, inst)
	s.byID[inst.ID] = inst
}

// Instance returns the instance with the given id.
func (s *Storage) Instance(id int) (*Instance, bool) {
	inst, ok := s.byID[id]
	return inst, ok
}

// Clone returns a deep copy of the whole storage. Snapshots and the
// evaluator work exclusively on clones.
func (s *Storage) Clone() *Storage {
	out := &Storage{
		Globals: s.Globals.Clone(),
		Retain:  s.Retain.Clone(),
		Refs:    make(map[int]RefTarget, len(s.Refs)),
		IO:      s.IO.Clone(),
		byID:    make(map[int]*Instance, len(s.byID)),
	}
	for id, t := range s.Refs {
		out.Refs[id] = t
	}
	for _, inst := range s.Instances {
		c := &Instance{ID: inst.ID, Type: inst.Type, Parent: inst.Parent, Fields: inst.Fields.Clone()}
		out.AddInstance(c)
	}
	return out
}

// Resolve follows a reference-table target to its current value.
// Returns false for a dangling target.
func (s *Storage) Resolve(t RefTarget) (Value, bool) {
	switch t.Area {
	case AreaGlobal:
		return s.Globals.Get(t.Name)
	case AreaRetain:
		return s.Retain.Get(t.Name)
	case AreaInstance:
		inst, ok := s.Instance(t.Instance)
		if !ok {
			return Value{}, false
		}
		return inst.Fields.Get(t.Name)
	case AreaInput:
		return s.IO.Inputs.Get(t.Name)
	case AreaOutput:
		return s.IO.Outputs.Get(t.Name)
	case AreaMemory:
		return s.IO.Memory.Get(t.Name)
	}
	return Value{}, false
}

// WriteTarget addresses one writable variable.
type WriteTarget struct {
	Area     Area
	Instance int
	Name     string
}

// String returns the target in wire addressing form.
func (t WriteTarget) String() string {
	if t.Area == AreaInstance {
		return fmt.Sprintf("instance:%d:%s", t.Instance, t.Name)
	}
	return t.Area.String() + ":" + t.Name
}

// Read returns the current value at the target.
func (s *Storage) Read(t WriteTarget) (Value, bool) {
	return s.Resolve(RefTarget{Area: t.Area, Instance: t.Instance, Name: t.Name})
}

// Write stores a value at the target. The target must already exist;
// debug writes never declare new variables.
func (s *Storage) Write(t WriteTarget, v Value) error {
	table := s.tableFor(t)
	if table == nil {
		return fmt.Errorf("unknown target %s", t)
	}
	if _, ok := table.Get(t.Name); !ok {
		return fmt.Errorf("unknown variable %s", t)
	}
	table.Set(t.Name, v)
	return nil
}

func (s *Storage) tableFor(t WriteTarget) *VarTable {
	switch t.Area {
	case AreaGlobal:
		return s.Globals
	case AreaRetain:
		return s.Retain
	case AreaInstance:
		inst, ok := s.Instance(t.Instance)
		if !ok {
			return nil
		}
		return inst.Fields
	case AreaInput:
		return s.IO.Inputs
	case AreaOutput:
		return s.IO.Outputs
	case AreaMemory:
		return s.IO.Memory
	}
	return nil
}

// ---------------------------------------------------------------------------
// Guarded live storage
// ---------------------------------------------------------------------------

// LiveStorage pairs storage with the lock the execution loop holds
// while mutating it. Control handlers use it only for the legacy
// read-only lookups; everything else goes through snapshots.
type LiveStorage struct {
	mu sync.Mutex
	st *Storage
}

// NewLiveStorage wraps storage for shared access.
func NewLiveStorage(st *Storage) *LiveStorage {
	return &LiveStorage{st: st}
}

// WithLock runs fn with exclusive access to the storage.
func (l *LiveStorage) WithLock(fn func(*Storage)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.st)
}

// ReadVar reads one variable under the lock.
func (l *LiveStorage) ReadVar(t WriteTarget) (Value, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.Read(t)
}
