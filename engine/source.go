package engine

// ---------------------------------------------------------------------------
// Source registry
// ---------------------------------------------------------------------------

// FileID identifies one loaded source file. IDs are stable for the
// registry's lifetime.
type FileID int

// SourceFile is one loaded source document.
type SourceFile struct {
	ID   FileID
	Path string
	Text string
}

// SourceRegistry maps paths, file ids, and text. Built once at
// startup or program reload; immutable afterwards, so lookups need no
// locking.
type SourceRegistry struct {
	files  []SourceFile
	byPath map[string]int
	byID   map[FileID]int
}

// NewSourceRegistry builds a registry assigning file ids in load
// order, starting at 1.
func NewSourceRegistry(paths []string, texts []string) *SourceRegistry {
	r := &SourceRegistry{
		byPath: make(map[string]int, len(paths)),
		byID:   make(map[FileID]int, len(paths)),
	}
	for i, p := range paths {
		f := SourceFile{ID: FileID(i + 1), Path: p}
		if i < len(texts) {
			f.Text = texts[i]
		}
		r.byPath[p] = len(r.files)
		r.byID[f.ID] = len(r.files)
		r.files = append(r.files, f)
	}
	return r
}

// ByPath looks up a file by its registered path.
func (r *SourceRegistry) ByPath(path string) (SourceFile, bool) {
	i, ok := r.byPath[path]
	if !ok {
		return SourceFile{}, false
	}
	return r.files[i], true
}

// ByID looks up a file by id.
func (r *SourceRegistry) ByID(id FileID) (SourceFile, bool) {
	i, ok := r.byID[id]
	if !ok {
		return SourceFile{}, false
	}
	return r.files[i], true
}

// Files returns all files in load order.
func (r *SourceRegistry) Files() []SourceFile {
	return r.files
}
