package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/alertstream/siem-engine/internal/alert"
	"github.com/alertstream/siem-engine/internal/ingest"
)

// AlertsHandler serves the push-ingest endpoint and the recent-alert query.
type AlertsHandler struct {
	pipeline *ingest.Pipeline
}

func NewAlertsHandler(p *ingest.Pipeline) *AlertsHandler {
	return &AlertsHandler{pipeline: p}
}

// IngestResponse is returned by POST /ingest. The status code is always
// 200 so the upstream forwarder never retries or buffers; failures are
// reported in the body.
type IngestResponse struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Ingest accepts one raw alert document and feeds it to the pipeline.
func (h *AlertsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := DecodeJSON(r, &raw); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("malformed ingest payload")
		WriteJSON(w, http.StatusOK, IngestResponse{Status: "error", Message: err.Error()})
		return
	}

	a := h.pipeline.Ingest(raw, alert.SourceWazuh)
	WriteJSON(w, http.StatusOK, IngestResponse{Status: "processed", ID: a.ID})
}

// Recent returns the most recent alerts, oldest first, straight from the
// in-memory replay ring.
func (h *AlertsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	frames := h.pipeline.Recent()
	if frames == nil {
		frames = []json.RawMessage{}
	}
	WriteJSON(w, http.StatusOK, frames)
}
