package api

import (
	"net/http"
	"time"

	"github.com/alertstream/siem-engine/internal/ingest"
	"github.com/alertstream/siem-engine/internal/store"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Clients       int               `json:"clients"`
}

type HealthHandler struct {
	store     *store.Store
	pipeline  *ingest.Pipeline
	tailer    *ingest.Tailer
	version   string
	startTime time.Time
}

func NewHealthHandler(st *store.Store, p *ingest.Pipeline, t *ingest.Tailer, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		store:     st,
		pipeline:  p,
		tailer:    t,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		checks["store"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if h.tailer != nil {
		ts := h.tailer.Status()
		checks["tailer"] = ts
		if ts != "following" && status == "healthy" {
			status = "degraded"
		}
	} else {
		checks["tailer"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Clients:       h.pipeline.ClientCount(),
	})
}
