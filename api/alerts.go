package api

import (
	"slices"
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertAssertionFailureSpike AlertType = "assertion_failure_spike"
	AlertHandshakeRejectSpike  AlertType = "handshake_reject_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// spikeRule fires when threshold matching events land within window.
type spikeRule struct {
	alert     AlertType
	message   string
	window    time.Duration
	threshold int
	hits      []time.Time
}

// observe records a hit at now and reports whether the rule fired. Hits
// are cleared on firing so one spike raises one alert.
func (s *spikeRule) observe(now time.Time) (count int, fired bool) {
	cutoff := now.Add(-s.window)
	if i := slices.IndexFunc(s.hits, func(t time.Time) bool { return !t.Before(cutoff) }); i > 0 {
		s.hits = s.hits[i:]
	} else if i < 0 {
		s.hits = s.hits[:0]
	}
	s.hits = append(s.hits, now)
	count = len(s.hits)
	if count < s.threshold {
		return count, false
	}
	s.hits = s.hits[:0]
	return count, true
}

// alertCollector watches the audit stream for bursts of rejected pads.
type alertCollector struct {
	mu      sync.Mutex
	rules   map[AuditEvent]*spikeRule
	now     func() time.Time
	alertFn AlertFunc
}

func newAlertCollector(alertFn AlertFunc) *alertCollector {
	return &alertCollector{
		rules: map[AuditEvent]*spikeRule{
			AuditAssertionRejected: {
				alert:     AlertAssertionFailureSpike,
				message:   "rejected pad assertion rate exceeds threshold",
				window:    time.Minute,
				threshold: 25,
			},
			AuditWebSocketRejected: {
				alert:     AlertHandshakeRejectSpike,
				message:   "rejected websocket handshake rate exceeds threshold",
				window:    time.Minute,
				threshold: 50,
			},
		},
		now:     time.Now,
		alertFn: alertFn,
	}
}

// recordEvent feeds one audit event to the matching rule. Safe on a nil
// collector and without a callback.
func (m *alertCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	m.mu.Lock()
	rule, ok := m.rules[event]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := m.now()
	count, fired := rule.observe(now)
	m.mu.Unlock()

	if fired {
		m.alertFn(AlertEvent{
			Type:      rule.alert,
			Message:   rule.message,
			Count:     count,
			Threshold: rule.threshold,
			Timestamp: now,
		})
	}
}
