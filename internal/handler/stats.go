package handler

import (
	"net/http"
	"time"

	"github.com/voicelink/session-server-go/internal/realtime"
	"github.com/voicelink/session-server-go/internal/registry"
)

type StatsHandler struct {
	manager   *realtime.Manager
	registry  *registry.Registry
	startedAt time.Time
}

func NewStatsHandler(manager *realtime.Manager, reg *registry.Registry) *StatsHandler {
	return &StatsHandler{
		manager:   manager,
		registry:  reg,
		startedAt: time.Now(),
	}
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	states := h.manager.StateCounts()

	byState := make(map[string]int, len(states))
	total := 0
	for state, count := range states {
		byState[string(state)] = count
		total += count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connections": map[string]any{
			"total":    total,
			"by_state": byState,
		},
		"active_codes":    h.registry.ActiveCodes(),
		"paired_sessions": h.registry.PairedCount(),
		"uptime_seconds":  int64(time.Since(h.startedAt).Seconds()),
	})
}
