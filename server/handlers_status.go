package server

import (
	"net/http"
	"sort"
)

type timerStatus struct {
	Namespace string `json:"namespace"`
	Pending   int    `json:"pending"`
}

// HandleStatus summarizes pending scheduled work per timer namespace.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	timers := make([]timerStatus, 0, len(h.timers))
	for ns, t := range h.timers {
		timers = append(timers, timerStatus{Namespace: ns, Pending: t.Len()})
	}
	sort.Slice(timers, func(i, j int) bool { return timers[i].Namespace < timers[j].Namespace })

	cfg := h.deps.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"timers":      timers,
		"channels":    cfg.TwitchChannels,
		"audit_cache": cfg.AuditCache,
	})
}

// HandleModLog lists recent mod-log entries: /modlog?channel=&limit=.
func (h *Handlers) HandleModLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.ModLog == nil {
		http.Error(w, "mod log not configured", http.StatusServiceUnavailable)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	entries, err := h.deps.ModLog.Recent(r.Context(), r.URL.Query().Get("channel"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
