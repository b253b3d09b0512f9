package engine

import "sort"

// ---------------------------------------------------------------------------
// Program metadata: statement tables, namespaces, type registry
// ---------------------------------------------------------------------------

// StmtLoc is one valid statement location within a source file.
type StmtLoc struct {
	Line   int
	Column int
}

// TypeInfo describes one registered type.
type TypeInfo struct {
	Name   string
	Kind   Kind
	Fields []string // struct member names, declaration order
}

// TypeRegistry holds the compiled program's type table. Immutable
// after load.
type TypeRegistry struct {
	types map[string]TypeInfo
}

// NewTypeRegistry builds a registry seeded with the elementary types.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{types: make(map[string]TypeInfo)}
	for name, kind := range map[string]Kind{
		"BOOL": KindBool,
		"SINT": KindInt, "INT": KindInt, "DINT": KindInt, "LINT": KindInt,
		"REAL": KindReal, "LREAL": KindReal,
		"STRING": KindString,
		"TIME":   KindTime,
	} {
		r.types[name] = TypeInfo{Name: name, Kind: kind}
	}
	return r
}

// Register adds a user type.
func (r *TypeRegistry) Register(info TypeInfo) {
	r.types[info.Name] = info
}

// Lookup returns the type with the given name.
func (r *TypeRegistry) Lookup(name string) (TypeInfo, bool) {
	info, ok := r.types[name]
	return info, ok
}

// Metadata is the semantic-database view the control service
// consumes: statement locations per file, per-frame using-contexts,
// and the type registry. Built by the loader; immutable afterwards.
type Metadata struct {
	stmts      map[FileID][]StmtLoc
	namespaces map[string][]string // frame name → visible namespaces
	types      *TypeRegistry
}

// NewMetadata creates empty metadata with a seeded type registry.
func NewMetadata() *Metadata {
	return &Metadata{
		stmts:      make(map[FileID][]StmtLoc),
		namespaces: make(map[string][]string),
		types:      NewTypeRegistry(),
	}
}

// Types returns the type registry.
func (m *Metadata) Types() *TypeRegistry {
	return m.types
}

// SetStatements records the statement table for a file, sorted by
// line then column.
func (m *Metadata) SetStatements(file FileID, locs []StmtLoc) {
	sorted := append([]StmtLoc(nil), locs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].Column < sorted[j].Column
	})
	m.stmts[file] = sorted
}

// Statements returns the statement table for a file.
func (m *Metadata) Statements(file FileID) []StmtLoc {
	return m.stmts[file]
}

// SetNamespaces records the using-context visible inside a frame.
func (m *Metadata) SetNamespaces(frameName string, ns []string) {
	m.namespaces[frameName] = ns
}

// Namespaces returns the using-context for a frame name.
func (m *Metadata) Namespaces(frameName string) []string {
	return m.namespaces[frameName]
}

// ResolveBreakpoint snaps a requested line to the nearest statement
// location at or after it. Returns false when the file has no
// statement on or after the line.
func (m *Metadata) ResolveBreakpoint(file FileID, line int) (StmtLoc, bool) {
	locs := m.stmts[file]
	i := sort.Search(len(locs), func(i int) bool { return locs[i].Line >= line })
	if i == len(locs) {
		return StmtLoc{}, false
	}
	return locs[i], true
}

// LocationsInRange returns statement locations inside a rectangular
// line/column range. Zero end bounds mean "to the end"; a zero column
// range spans whole lines.
func (m *Metadata) LocationsInRange(file FileID, line, endLine, col, endCol int) []StmtLoc {
	if endLine == 0 {
		endLine = line
	}
	var out []StmtLoc
	for _, loc := range m.stmts[file] {
		if loc.Line < line || loc.Line > endLine {
			continue
		}
		if col > 0 && loc.Column < col {
			continue
		}
		if endCol > 0 && loc.Column > endCol {
			continue
		}
		out = append(out, loc)
	}
	return out
}
