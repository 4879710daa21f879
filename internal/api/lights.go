package api

import (
	"net/http"
	"sort"
)

// lightLevel is one entry of the level cache. Target is "light/N" or
// "group/N".
type lightLevel struct {
	Target string `json:"target"`
	Level  uint8  `json:"level"`
}

// handleListLights returns the last known level of every target the bridge
// has seen, sorted by target.
func (s *Server) handleListLights(w http.ResponseWriter, _ *http.Request) {
	if s.lights == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "light bridge is not running")
		return
	}

	snapshot := s.lights.Levels()
	levels := make([]lightLevel, 0, len(snapshot))
	for target, level := range snapshot {
		levels = append(levels, lightLevel{Target: target, Level: level})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Target < levels[j].Target })

	writeJSON(w, http.StatusOK, map[string]any{"lights": levels, "count": len(levels)})
}
