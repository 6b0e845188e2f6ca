package server

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/lumastream/luma/model"
	"github.com/lumastream/luma/version"
)

// HandleHealth serves the health check endpoint.
func (g *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	modes := make([]string, 0, len(model.AllModes))
	for _, m := range model.AllModes {
		modes = append(modes, m.String())
	}

	health := map[string]interface{}{
		"status":          "healthy",
		"active_sessions": g.ActiveSessions(),
		"available_modes": modes,
		"loaded_modes":    modeStrings(g.pool.LoadedModes()),
		"version":         version.Get().Version,
	}
	if rss, ok := processRSSMB(); ok {
		health["memory_mb"] = rss
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		g.log.Warnw("Health response write failed", "error", err)
	}
}

// HandleVersion serves build information.
func (g *Gateway) HandleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(version.Get()); err != nil {
		g.log.Warnw("Version response write failed", "error", err)
	}
}

func modeStrings(modes []model.Mode) []string {
	out := make([]string, 0, len(modes))
	for _, m := range modes {
		out = append(out, m.String())
	}
	return out
}

// processRSSMB reports this process's resident set size. Best-effort: the
// health endpoint works without it on platforms gopsutil cannot read.
func processRSSMB() (uint64, bool) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, false
	}
	mem, err := p.MemoryInfo()
	if err != nil || mem == nil {
		return 0, false
	}
	return mem.RSS / (1024 * 1024), true
}
