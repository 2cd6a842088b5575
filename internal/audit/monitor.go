package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// monitorRetention is how long observed actions stay in the log.
	monitorRetention = 5 * time.Minute

	// burstThreshold flags more actions than this inside the window.
	burstThreshold = 10

	// maxClockSkew flags action timestamps too far from local time.
	maxClockSkew = 5 * time.Minute
)

type observation struct {
	action string
	at     time.Time
}

// Monitor keeps a rolling log of actions per identifier and flags
// patterns worth logging: bursts and skewed timestamps.
type Monitor struct {
	now func() time.Time

	mu      sync.Mutex
	actions map[string][]observation
}

func NewMonitor() *Monitor {
	return &Monitor{
		now:     time.Now,
		actions: make(map[string][]observation),
	}
}

// Observe records one action and returns any suspicion findings. The
// findings are advisory; callers log them and proceed.
func (m *Monitor) Observe(id, action string, at time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var findings []string

	skew := now.Sub(at)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		findings = append(findings, fmt.Sprintf("timestamp for %q deviates %s from local time", action, skew.Round(time.Second)))
	}

	cutoff := now.Add(-monitorRetention)
	recent := make([]observation, 0, len(m.actions[id])+1)
	for _, o := range m.actions[id] {
		if o.at.After(cutoff) {
			recent = append(recent, o)
		}
	}
	recent = append(recent, observation{action: action, at: now})
	m.actions[id] = recent

	if len(recent) > burstThreshold {
		findings = append(findings, fmt.Sprintf("%d actions within %s", len(recent), monitorRetention))
	}

	for _, f := range findings {
		log.Warn().Str("id", id).Str("action", action).Msg("suspicious activity: " + f)
	}
	return findings
}
