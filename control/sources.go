package control

import (
	"encoding/json"

	"github.com/tkallio/rivet/engine"
)

// ---------------------------------------------------------------------------
// Read-only introspection: sources, IO health, runtime events
// ---------------------------------------------------------------------------

func handleSourcesList(s *ControlState, params json.RawMessage) (interface{}, error) {
	files := s.Sources.Files()
	out := make([]map[string]interface{}, 0, len(files))
	for _, f := range files {
		out = append(out, map[string]interface{}{
			"file_id": int(f.ID),
			"path":    f.Path,
			"size":    len(f.Text),
		})
	}
	return map[string]interface{}{"sources": out}, nil
}

func handleSourceGet(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Path   string `json:"path"`
		FileID int    `json:"file_id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	var file engine.SourceFile
	var ok bool
	if p.Path != "" {
		file, ok = s.Sources.ByPath(p.Path)
	} else {
		file, ok = s.Sources.ByID(engine.FileID(p.FileID))
	}
	if !ok {
		return nil, ErrUnknownSource
	}
	return map[string]interface{}{
		"file_id": int(file.ID),
		"path":    file.Path,
		"text":    file.Text,
	}, nil
}

func handleIOState(s *ControlState, params json.RawMessage) (interface{}, error) {
	health := s.ioHealthSnapshot()
	result := map[string]interface{}{
		"ok":     health.Ok,
		"detail": health.Detail,
	}
	if snap := s.Debug.Snapshot(); snap != nil {
		result["inputs"] = snap.Storage.IO.Inputs.Len()
		result["outputs"] = snap.Storage.IO.Outputs.Len()
		result["memory"] = snap.Storage.IO.Memory.Len()
	}
	return result, nil
}

func handleEvents(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Max int `json:"max"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	events := s.drainEvents(p.Max)
	if events == nil {
		events = []RuntimeEvent{}
	}
	return map[string]interface{}{"events": events}, nil
}
