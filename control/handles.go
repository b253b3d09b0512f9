package control

import "github.com/tkallio/rivet/engine"

// ---------------------------------------------------------------------------
// Variable reference arena
// ---------------------------------------------------------------------------

// handleKind discriminates what a variable reference names.
type handleKind uint8

const (
	handleLocals handleKind = iota
	handleGlobals
	handleRetain
	handleInstances
	handleInstance
	handleStruct
	handleArray
	handleReference
	handleIORoot
	handleIOInputs
	handleIOOutputs
	handleIOMemory
)

// varHandle is one arena entry: a closed variant over the scopes a
// client can page into.
type varHandle struct {
	kind  handleKind
	frame int          // handleLocals
	inst  int          // handleInstance
	value engine.Value // handleStruct / handleArray
	ref   int          // handleReference
}

// refArena is an integer-indexed handle table. It is cleared at the
// start of every debug.scopes call (one "generation"); ids are unique
// only within a generation and restart at 1. A stale id from an
// earlier generation must degrade to an empty expansion, never an
// error.
type refArena struct {
	entries []varHandle
}

// reset starts a new generation.
func (a *refArena) reset() {
	a.entries = a.entries[:0]
}

// alloc registers a handle and returns its id (1-based).
func (a *refArena) alloc(h varHandle) int {
	a.entries = append(a.entries, h)
	return len(a.entries)
}

// lookup resolves an id within the current generation.
func (a *refArena) lookup(id int) (varHandle, bool) {
	if id < 1 || id > len(a.entries) {
		return varHandle{}, false
	}
	return a.entries[id-1], true
}
