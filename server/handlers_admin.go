package server

import (
	"net/http"
	"sort"

	"github.com/onnwee/mod-tender/timer"
)

// HandleAdminTasks lists scheduled tasks (GET, optional ?namespace=) or
// aborts one (DELETE ?namespace=&key=).
func (h *Handlers) HandleAdminTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ns := q.Get("namespace")

	switch r.Method {
	case http.MethodGet:
		tasks := []timer.TaskInfo{}
		for name, t := range h.timers {
			if ns != "" && ns != name {
				continue
			}
			tasks = append(tasks, t.Tasks()...)
		}
		sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].FireAt.Before(tasks[j].FireAt) })
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})

	case http.MethodDelete:
		key := q.Get("key")
		if ns == "" || key == "" {
			http.Error(w, "namespace and key are required", http.StatusBadRequest)
			return
		}
		t, ok := h.timers[ns]
		if !ok {
			http.Error(w, "unknown namespace", http.StatusNotFound)
			return
		}
		if !t.Pending(key) {
			http.Error(w, "no pending task with that key", http.StatusNotFound)
			return
		}
		t.Abort(key)
		writeJSON(w, http.StatusOK, map[string]string{"status": "aborted", "namespace": ns, "key": key})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
