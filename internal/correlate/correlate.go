// Package correlate implements the sliding-window threshold detector that
// synthesizes a high-level alert when a burst of alerts shares a key (agent
// IP or agent name) within the window. State is purely in-memory: a restart
// clears history and cooldowns, which is an accepted bounded loss.
package correlate

import (
	"fmt"
	"time"

	"github.com/alertstream/siem-engine/internal/alert"
	"github.com/google/uuid"
)

type event struct {
	t    int64
	ip   string
	name string
}

// Correlator is not safe for concurrent use; the pipeline worker owns it.
type Correlator struct {
	windowSeconds int64
	threshold     int

	history   []event
	cooldowns map[string]int64 // key → unix seconds of last fire

	now func() time.Time
}

// New creates a Correlator with the given window length and per-key
// event threshold.
func New(windowSeconds, threshold int) *Correlator {
	return &Correlator{
		windowSeconds: int64(windowSeconds),
		threshold:     threshold,
		cooldowns:     make(map[string]int64),
		now:           time.Now,
	}
}

// Process records a and returns a synthetic correlation alert if a key
// crossed the threshold, or nil. Synthetic alerts themselves are never
// correlated, which breaks the recursion when the pipeline re-processes the
// returned alert.
//
// The IP key is evaluated before the agent-name key and at most one
// synthetic alert is emitted per input. A key that meets the threshold but
// is inside its cooldown ends evaluation instead of falling through:
// otherwise the agent-name key would re-report the exact burst the IP key
// fired on one alert earlier.
func (c *Correlator) Process(a alert.Alert) *alert.Alert {
	if a.Source == alert.SourceCorrelation {
		return nil
	}

	now := c.now().UTC().Unix()
	c.history = append(c.history, event{t: now, ip: a.Agent.IP, name: a.Agent.Name})
	c.evict(now)

	keys := []struct {
		cooldownKey string
		value       string
		keyType     string
		count       int
	}{
		{"ip:" + a.Agent.IP, a.Agent.IP, "IP Address", c.countByIP(a.Agent.IP)},
		{"agent:" + a.Agent.Name, a.Agent.Name, "Agent Name", c.countByName(a.Agent.Name)},
	}

	for _, k := range keys {
		if k.count < c.threshold {
			continue
		}
		if last, ok := c.cooldowns[k.cooldownKey]; ok && now-last < c.windowSeconds {
			return nil
		}
		c.cooldowns[k.cooldownKey] = now
		syn := c.synthesize(now, k.keyType, k.value, k.count)
		return &syn
	}
	return nil
}

// evict drops history events at or beyond the window boundary.
func (c *Correlator) evict(now int64) {
	cutoff := now - c.windowSeconds
	kept := c.history[:0]
	for _, e := range c.history {
		if e.t > cutoff {
			kept = append(kept, e)
		}
	}
	c.history = kept
}

func (c *Correlator) countByIP(ip string) int {
	n := 0
	for _, e := range c.history {
		if e.ip == ip {
			n++
		}
	}
	return n
}

func (c *Correlator) countByName(name string) int {
	n := 0
	for _, e := range c.history {
		if e.name == name {
			n++
		}
	}
	return n
}

func (c *Correlator) synthesize(now int64, keyType, key string, count int) alert.Alert {
	mitre := alert.CorrelationMitre()
	return alert.Alert{
		ID:        uuid.NewString(),
		Timestamp: time.Unix(now, 0).UTC().Format(time.RFC3339),
		Source:    alert.SourceCorrelation,
		Agent:     alert.Agent{Name: "SIEM Engine", IP: "127.0.0.1"},
		Severity:  10,
		Level:     alert.LevelHigh,
		Category:  "correlation",
		Title:     "Suspicious Activity Detected: " + keyType,
		Description: fmt.Sprintf("Observed %d alerts for %s %q within %d seconds",
			count, keyType, key, c.windowSeconds),
		Raw: map[string]any{
			"type":            "threshold",
			"correlation_key": key,
			"count":           count,
			"window":          c.windowSeconds,
		},
		Mitre: &mitre,
	}
}
