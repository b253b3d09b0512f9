package control

import (
	"encoding/json"
	"fmt"

	"github.com/tkallio/rivet/engine"
)

// ---------------------------------------------------------------------------
// debug.scopes / debug.variables
// ---------------------------------------------------------------------------

// scopeInfo is one top-level scope entry.
type scopeInfo struct {
	Name               string `json:"name"`
	VariablesReference int    `json:"variables_reference"`
	Line               int    `json:"line,omitempty"`
	Column             int    `json:"column,omitempty"`
	Path               string `json:"path,omitempty"`
}

// varEntry is one expanded variable. VariablesReference is 0 for
// leaves.
type varEntry struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type"`
	VariablesReference int    `json:"variables_reference"`
}

// handleDebugScopes starts a new arena generation and returns one
// handle per scope that has content, in fixed precedence: Locals,
// Globals, Retain, I/O, Instances.
func handleDebugScopes(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		FrameID int `json:"frame_id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	snap := s.Debug.Snapshot()

	s.arenaMu.Lock()
	defer s.arenaMu.Unlock()
	s.arena.reset()

	if snap == nil {
		return map[string]interface{}{"scopes": []scopeInfo{}}, nil
	}

	frame, ok := snap.Frame(p.FrameID)
	if !ok {
		// Stale frame id from an older stop: fall back to the
		// current frame rather than failing the whole call.
		frame, ok = snap.CurrentFrame()
	}

	var scopes []scopeInfo

	if ok && frameHasLocals(snap, frame) {
		sc := scopeInfo{
			Name:               "Locals",
			VariablesReference: s.arena.alloc(varHandle{kind: handleLocals, frame: frame.ID}),
		}
		if file, found := s.Sources.ByID(frame.File); found {
			sc.Line = frame.Line
			sc.Column = frame.Column
			sc.Path = file.Path
		}
		scopes = append(scopes, sc)
	}
	if snap.Storage.Globals.Len() > 0 {
		scopes = append(scopes, scopeInfo{
			Name:               "Globals",
			VariablesReference: s.arena.alloc(varHandle{kind: handleGlobals}),
		})
	}
	if snap.Storage.Retain.Len() > 0 {
		scopes = append(scopes, scopeInfo{
			Name:               "Retain",
			VariablesReference: s.arena.alloc(varHandle{kind: handleRetain}),
		})
	}
	if ioHasContent(snap.Storage.IO) {
		scopes = append(scopes, scopeInfo{
			Name:               "I/O",
			VariablesReference: s.arena.alloc(varHandle{kind: handleIORoot}),
		})
	}
	if len(snap.Storage.Instances) > 0 {
		scopes = append(scopes, scopeInfo{
			Name:               "Instances",
			VariablesReference: s.arena.alloc(varHandle{kind: handleInstances}),
		})
	}

	if scopes == nil {
		scopes = []scopeInfo{}
	}
	return map[string]interface{}{"scopes": scopes}, nil
}

// handleDebugVariables expands one handle into its child entries. An
// id the current generation never returned yields an empty list, not
// an error: clients race debug.scopes and tolerate stale references.
func handleDebugVariables(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		VariablesReference int `json:"variables_reference"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	snap := s.Debug.Snapshot()

	s.arenaMu.Lock()
	defer s.arenaMu.Unlock()

	empty := map[string]interface{}{"variables": []varEntry{}}
	if snap == nil {
		return empty, nil
	}
	h, ok := s.arena.lookup(p.VariablesReference)
	if !ok {
		return empty, nil
	}

	entries := s.expand(snap, h)
	if entries == nil {
		entries = []varEntry{}
	}
	return map[string]interface{}{"variables": entries}, nil
}

// expand produces child entries for a handle, lazily allocating
// handles for expandable children. Caller holds arenaMu.
func (s *ControlState) expand(snap *engine.Snapshot, h varHandle) []varEntry {
	st := snap.Storage
	switch h.kind {
	case handleLocals:
		var out []varEntry
		if frame, ok := snap.Frame(h.frame); ok {
			if inst, found := st.Instance(frame.Instance); found {
				out = append(out, s.tableEntries(inst.Fields)...)
			}
			if frame.Locals != nil {
				out = append(out, s.tableEntries(frame.Locals)...)
			}
		}
		return out

	case handleGlobals:
		return s.tableEntries(st.Globals)

	case handleRetain:
		return s.tableEntries(st.Retain)

	case handleInstances:
		var out []varEntry
		for _, inst := range st.Instances {
			out = append(out, varEntry{
				Name:               fmt.Sprintf("%s#%d", inst.Type, inst.ID),
				Value:              fmt.Sprintf("%s(%d fields)", inst.Type, inst.Fields.Len()),
				Type:               inst.Type,
				VariablesReference: s.arena.alloc(varHandle{kind: handleInstance, inst: inst.ID}),
			})
		}
		return out

	case handleInstance:
		inst, ok := st.Instance(h.inst)
		if !ok {
			return nil
		}
		out := s.tableEntries(inst.Fields)
		if inst.Parent != 0 {
			if parent, found := st.Instance(inst.Parent); found {
				out = append(out, varEntry{
					Name:               "parent",
					Value:              fmt.Sprintf("%s#%d", parent.Type, parent.ID),
					Type:               parent.Type,
					VariablesReference: s.arena.alloc(varHandle{kind: handleInstance, inst: parent.ID}),
				})
			}
		}
		return out

	case handleStruct:
		var out []varEntry
		for _, f := range h.value.Fields {
			out = append(out, s.valueEntry(f.Name, f.Value))
		}
		return out

	case handleArray:
		var out []varEntry
		for i, e := range h.value.Elems {
			out = append(out, s.valueEntry(fmt.Sprintf("[%d]", i), e))
		}
		return out

	case handleReference:
		target, ok := st.Refs[h.ref]
		if !ok {
			return nil
		}
		v, ok := st.Resolve(target)
		if !ok {
			return nil
		}
		return []varEntry{s.valueEntry(target.Name, v)}

	case handleIORoot:
		return []varEntry{
			{
				Name:               "Inputs",
				Value:              fmt.Sprintf("%d points", st.IO.Inputs.Len()),
				Type:               "IO",
				VariablesReference: s.arena.alloc(varHandle{kind: handleIOInputs}),
			},
			{
				Name:               "Outputs",
				Value:              fmt.Sprintf("%d points", st.IO.Outputs.Len()),
				Type:               "IO",
				VariablesReference: s.arena.alloc(varHandle{kind: handleIOOutputs}),
			},
			{
				Name:               "Memory",
				Value:              fmt.Sprintf("%d points", st.IO.Memory.Len()),
				Type:               "IO",
				VariablesReference: s.arena.alloc(varHandle{kind: handleIOMemory}),
			},
		}

	case handleIOInputs:
		return s.tableEntries(st.IO.Inputs)
	case handleIOOutputs:
		return s.tableEntries(st.IO.Outputs)
	case handleIOMemory:
		return s.tableEntries(st.IO.Memory)
	}
	return nil
}

// tableEntries expands a var table in declaration order.
func (s *ControlState) tableEntries(t *engine.VarTable) []varEntry {
	var out []varEntry
	for _, name := range t.Names() {
		v, _ := t.Get(name)
		out = append(out, s.valueEntry(name, v))
	}
	return out
}

// valueEntry formats one value, allocating a child handle when the
// value is expandable. Caller holds arenaMu.
func (s *ControlState) valueEntry(name string, v engine.Value) varEntry {
	e := varEntry{Name: name, Value: v.String(), Type: v.TypeName()}
	switch v.Kind {
	case engine.KindStruct:
		e.VariablesReference = s.arena.alloc(varHandle{kind: handleStruct, value: v})
	case engine.KindArray:
		e.VariablesReference = s.arena.alloc(varHandle{kind: handleArray, value: v})
	case engine.KindRef:
		if v.Ref != 0 {
			e.VariablesReference = s.arena.alloc(varHandle{kind: handleReference, ref: v.Ref})
		}
	}
	return e
}

func frameHasLocals(snap *engine.Snapshot, f engine.Frame) bool {
	if f.Locals != nil && f.Locals.Len() > 0 {
		return true
	}
	if inst, ok := snap.Storage.Instance(f.Instance); ok {
		return inst.Fields.Len() > 0
	}
	return false
}

func ioHasContent(io *engine.IOImage) bool {
	return io.Inputs.Len() > 0 || io.Outputs.Len() > 0 || io.Memory.Len() > 0
}
