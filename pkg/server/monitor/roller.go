package monitor

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nicktill/marketpulse/pkg/config"
)

// maxConsecutiveErrors is the failure streak a healthy roller may have.
const maxConsecutiveErrors = 3

// RollerMonitor tracks roller health and failures. It implements roller.Recorder.
type RollerMonitor struct {
	name     string
	interval time.Duration
	clock    clockwork.Clock

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewRollerMonitor creates a monitor for a roller firing every interval.
func NewRollerMonitor(name string, interval time.Duration, clock clockwork.Clock) *RollerMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RollerMonitor{name: name, interval: interval, clock: clock}
}

// RecordSuccess records a successful run.
func (m *RollerMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.lastSuccess = now
	m.lastAttempt = now
	m.consecutiveErrors = 0
	m.lastError = ""
}

// RecordFailure records a failed run.
func (m *RollerMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = m.clock.Now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy returns true if the roller is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within RollerHealthyMultiple intervals
//   - More than 3 consecutive failures
func (m *RollerMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy()
}

func (m *RollerMonitor) healthy() bool {
	if m.lastSuccess.IsZero() {
		return false
	}
	if m.clock.Since(m.lastSuccess) > config.RollerHealthyMultiple*m.interval {
		return false
	}
	return m.consecutiveErrors <= maxConsecutiveErrors
}

// RollerStatus is the health report of one roller.
type RollerStatus struct {
	Name              string `json:"name"`
	Interval          string `json:"interval"`
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current roller status for health checks.
func (m *RollerMonitor) Status() RollerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := RollerStatus{
		Name:     m.name,
		Interval: m.interval.String(),
		Healthy:  m.healthy(),
	}

	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.UTC().Format(time.RFC3339)
		status.TimeSinceSuccess = m.clock.Since(m.lastSuccess).String()
	}

	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.UTC().Format(time.RFC3339)
	}

	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}

	return status
}
