package control

import (
	"encoding/json"
	"errors"

	"github.com/tkallio/rivet/engine"
)

// ErrUnknownSource is returned for a path absent from the source
// registry.
var ErrUnknownSource = errors.New("unknown source path")

// ---------------------------------------------------------------------------
// breakpoints.set / breakpoints.clear / debug.breakpoint_locations
// ---------------------------------------------------------------------------

type resolvedBreakpoint struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// handleBreakpointsSet resolves each requested line to the nearest
// subsequent statement location and replaces the file's breakpoint
// set. Unmatched lines are silently dropped. Returns the resolved
// locations and the file's bumped generation.
func handleBreakpointsSet(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Source string `json:"source"`
		Lines  []int  `json:"lines"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	file, ok := s.Sources.ByPath(p.Source)
	if !ok {
		return nil, ErrUnknownSource
	}

	var bps []engine.Breakpoint
	var resolved []resolvedBreakpoint
	seen := make(map[engine.StmtLoc]bool)
	for _, line := range p.Lines {
		loc, found := s.Meta.ResolveBreakpoint(file.ID, line)
		if !found || seen[loc] {
			continue
		}
		seen[loc] = true
		bps = append(bps, engine.Breakpoint{File: file.ID, Line: loc.Line, Column: loc.Column})
		resolved = append(resolved, resolvedBreakpoint{Line: loc.Line, Column: loc.Column})
	}

	gen := s.Debug.SetBreakpointsForFile(file.ID, bps)
	if resolved == nil {
		resolved = []resolvedBreakpoint{}
	}
	return map[string]interface{}{
		"breakpoints": resolved,
		"generation":  gen,
	}, nil
}

// handleBreakpointsClear removes one file's breakpoints, or all of
// them when no source is given.
func handleBreakpointsClear(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Source string `json:"source"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Source == "" {
		s.Debug.ClearAllBreakpoints()
		return map[string]interface{}{"cleared": "all"}, nil
	}
	file, ok := s.Sources.ByPath(p.Source)
	if !ok {
		return nil, ErrUnknownSource
	}
	gen := s.Debug.ClearBreakpoints(file.ID)
	return map[string]interface{}{"cleared": p.Source, "generation": gen}, nil
}

// handleBreakpointLocations returns every valid statement location in
// a rectangular range, without touching breakpoint state. Clients use
// it to snap before setting.
func handleBreakpointLocations(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Source    string `json:"source"`
		Line      int    `json:"line"`
		EndLine   int    `json:"end_line"`
		Column    int    `json:"column"`
		EndColumn int    `json:"end_column"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	file, ok := s.Sources.ByPath(p.Source)
	if !ok {
		return nil, ErrUnknownSource
	}

	locs := s.Meta.LocationsInRange(file.ID, p.Line, p.EndLine, p.Column, p.EndColumn)
	out := make([]resolvedBreakpoint, 0, len(locs))
	for _, loc := range locs {
		out = append(out, resolvedBreakpoint{Line: loc.Line, Column: loc.Column})
	}
	return map[string]interface{}{"locations": out}, nil
}

// ---------------------------------------------------------------------------
// debug.stops / debug.state
// ---------------------------------------------------------------------------

type stopInfo struct {
	Reason     string        `json:"reason"`
	Thread     int           `json:"thread"`
	Generation uint64        `json:"generation,omitempty"`
	Location   *locationInfo `json:"location,omitempty"`
}

type locationInfo struct {
	FileID int    `json:"file_id"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Path   string `json:"path"`
}

// handleDebugStops drains the stop queue.
func handleDebugStops(s *ControlState, params json.RawMessage) (interface{}, error) {
	stops := s.Debug.DrainStops()
	out := make([]stopInfo, 0, len(stops))
	for _, st := range stops {
		out = append(out, s.formatStop(st))
	}
	return map[string]interface{}{"stops": out}, nil
}

// handleDebugState peeks the paused flag and last stop without
// consuming the queue.
func handleDebugState(s *ControlState, params json.RawMessage) (interface{}, error) {
	result := map[string]interface{}{
		"paused": s.Debug.IsPaused(),
	}
	if last, ok := s.Debug.LastStop(); ok {
		info := s.formatStop(last)
		result["last_stop"] = info
	}
	return result, nil
}

func (s *ControlState) formatStop(st engine.Stop) stopInfo {
	info := stopInfo{
		Reason:     string(st.Reason),
		Thread:     st.Thread,
		Generation: st.Generation,
	}
	if st.Loc != nil {
		loc := locationInfo{
			FileID: int(st.Loc.File),
			Line:   st.Loc.Line,
			Column: st.Loc.Column,
		}
		if file, ok := s.Sources.ByID(st.Loc.File); ok {
			loc.Path = file.Path
		}
		info.Location = &loc
	}
	return info
}
