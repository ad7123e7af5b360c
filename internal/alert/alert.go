// Package alert defines the canonical alert schema and the normalization
// step that maps heterogeneous upstream documents onto it. An Alert is
// immutable once it leaves Normalize; every later stage (enrichment,
// correlation, persistence, fan-out) reads it or copies it but never
// rewrites the original raw document.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// Alert sources.
const (
	SourceWazuh       = "wazuh"
	SourceCorrelation = "correlation"
)

// Severity level buckets.
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// Agent identifies the monitored host an alert originated from.
type Agent struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// Mitre is the threat-framework tag attached by the enricher.
type Mitre struct {
	Tactic        string `json:"tactic"`
	TechniqueID   string `json:"technique_id"`
	TechniqueName string `json:"technique_name"`
}

// Alert is the canonical unit flowing through the pipeline.
type Alert struct {
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	Source      string         `json:"source"`
	Agent       Agent          `json:"agent"`
	Severity    int            `json:"severity"`
	Level       string         `json:"level"`
	Category    string         `json:"category"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Raw         map[string]any `json:"raw"`
	Mitre       *Mitre         `json:"mitre,omitempty"`
}

// LevelFor maps an upstream rule level onto a severity bucket.
func LevelFor(severity int) string {
	switch {
	case severity >= 12:
		return LevelCritical
	case severity >= 7:
		return LevelHigh
	case severity >= 5:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Normalize maps a raw upstream document onto the canonical schema. It is
// total: missing or mistyped fields fall back to defaults rather than
// failing, so an empty document still yields a valid alert. A fresh ID is
// always assigned; any upstream identifier survives only inside Raw.
func Normalize(raw map[string]any) Alert {
	a := Alert{
		ID:        uuid.NewString(),
		Source:    SourceWazuh,
		Timestamp: stringField(raw, "timestamp"),
		Category:  "unknown",
		Title:     "Unknown Alert",
		Agent:     Agent{Name: "Unknown", IP: "0.0.0.0"},
		Raw:       raw,
	}
	if a.Timestamp == "" {
		a.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if rule, ok := raw["rule"].(map[string]any); ok {
		a.Severity = intField(rule, "level")
		if desc := stringField(rule, "description"); desc != "" {
			a.Title = desc
		}
		if groups, ok := rule["groups"].([]any); ok && len(groups) > 0 {
			if g, ok := groups[0].(string); ok && g != "" {
				a.Category = g
			}
		}
	}
	a.Level = LevelFor(a.Severity)

	if agent, ok := raw["agent"].(map[string]any); ok {
		if name := stringField(agent, "name"); name != "" {
			a.Agent.Name = name
		}
		if ip := stringField(agent, "ip"); ip != "" {
			a.Agent.IP = ip
		}
	}

	a.Description = stringField(raw, "full_log")
	return a
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField reads a numeric field that may arrive as a JSON number (float64)
// or a native int when the document was built in-process.
func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
