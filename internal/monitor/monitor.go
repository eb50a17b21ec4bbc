// Package monitor observes pattern executions without influencing their
// outcome: lifecycle events, real-time resource sampling, performance
// profiles, and best-effort fan-out to subscribers.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/akontos/syntonia/internal/config"
	"github.com/akontos/syntonia/internal/eventbus"
	"github.com/akontos/syntonia/internal/pattern"
	"github.com/google/uuid"
)

// EventType classifies monitoring events.
type EventType string

const (
	EventPatternStarted     EventType = "pattern_started"
	EventPatternCompleted   EventType = "pattern_completed"
	EventPatternFailed      EventType = "pattern_failed"
	EventPhaseChanged       EventType = "phase_changed"
	EventAgentStatusChanged EventType = "agent_status_changed"
	EventResourceUsage      EventType = "resource_usage"
	EventPerformanceMetric  EventType = "performance_metric"
	EventError              EventType = "error"
	EventWarning            EventType = "warning"
	EventRealTimeMetrics    EventType = "real_time_metrics"
	EventValidation         EventType = "validation_result"
	EventRecovery           EventType = "recovery_attempted"
)

// Event is one observation. Data is free-form and also what gets published
// on the NATS bridge and websocket stream.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	PatternID string         `json:"pattern_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ResourceUsageSnapshot is one sampling of the context's resource pool.
type ResourceUsageSnapshot struct {
	Timestamp          time.Time          `json:"timestamp"`
	MemoryUtilization  float64            `json:"memory_utilization"`
	CPUUtilization     float64            `json:"cpu_utilization"`
	NetworkUtilization float64            `json:"network_utilization"`
	ActiveFileLocks    int                `json:"active_file_locks"`
	Custom             map[string]float64 `json:"custom,omitempty"`
}

// RealTimeMetrics is the latest sampled view of a running pattern.
type RealTimeMetrics struct {
	PatternID string                `json:"pattern_id"`
	Snapshot  ResourceUsageSnapshot `json:"snapshot"`
	Elapsed   time.Duration         `json:"elapsed"`
}

const profileSampleLimit = 1000

// PerformanceProfile tracks min/max/running-average of one named metric
// over the last 1000 samples.
type PerformanceProfile struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`

	samples []float64
}

func (p *PerformanceProfile) add(value float64) {
	if p.Count == 0 || value < p.Min {
		p.Min = value
	}
	if p.Count == 0 || value > p.Max {
		p.Max = value
	}
	p.Count++
	p.samples = append(p.samples, value)
	if len(p.samples) > profileSampleLimit {
		p.samples = p.samples[len(p.samples)-profileSampleLimit:]
	}
	var sum float64
	for _, s := range p.samples {
		sum += s
	}
	p.Average = sum / float64(len(p.samples))
}

// Statistics are derived by replaying the buffered events.
type Statistics struct {
	TotalEvents          int               `json:"total_events"`
	EventsByType         map[EventType]int `json:"events_by_type"`
	ActivePatterns       int               `json:"active_patterns"`
	AverageExecutionTime time.Duration     `json:"average_execution_time"`
	SuccessRate          float64           `json:"success_rate"`
	ErrorRate            float64           `json:"error_rate"`
}

const subscriberBuffer = 64

// Monitor records lifecycle events into a bounded ring buffer, fans them
// out to subscribers, and optionally bridges them onto the engine's NATS
// bus. Delivery is at-most-once: subscribers that are not draining their
// channel lose events, and there is no replay beyond the buffer query API.
type Monitor struct {
	cfg config.MonitorConfig
	bus *eventbus.Client // nil disables the bridge

	mu          sync.RWMutex
	events      []Event
	startTimes  map[string]time.Time
	realtime    map[string]RealTimeMetrics
	profiles    map[string]map[string]*PerformanceProfile // pattern -> metric -> profile
	pools       map[string]*trackedPool
	subscribers map[int]chan Event
	nextSubID   int
}

// trackedPool is the sampler's private copy of an execution's resource
// pool. The live pool in the context is mutated by the pattern goroutine
// without synchronization, so the sampler never touches it directly; the
// copy is refreshed whenever the executing side reports usage through
// UpdateResourceUsage.
type trackedPool struct {
	mu   sync.Mutex
	pool *pattern.ResourcePool
}

// New returns a monitor. A nil bus client disables the NATS bridge.
func New(cfg config.MonitorConfig, bus *eventbus.Client) *Monitor {
	if cfg.MaxEventsInMemory <= 0 {
		cfg.MaxEventsInMemory = 10000
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 5 * time.Second
	}
	return &Monitor{
		cfg:         cfg,
		bus:         bus,
		startTimes:  make(map[string]time.Time),
		realtime:    make(map[string]RealTimeMetrics),
		profiles:    make(map[string]map[string]*PerformanceProfile),
		pools:       make(map[string]*trackedPool),
		subscribers: make(map[int]chan Event),
	}
}

// StartMonitoring records a PatternStarted event and, when real-time
// sampling is enabled, spawns a periodic sampler for the pattern. The
// sampler works from its own copy of the resource pool and terminates on
// its own once the pattern is no longer monitored.
func (m *Monitor) StartMonitoring(patternID string, pc *pattern.Context) {
	tp := &trackedPool{pool: pc.Resources.Clone()}
	m.mu.Lock()
	m.startTimes[patternID] = time.Now()
	m.pools[patternID] = tp
	m.mu.Unlock()

	data := map[string]any{
		"agents": len(pc.Agents),
	}
	if pc.SessionID != "" {
		data["session_id"] = pc.SessionID
	}
	m.publish(Event{
		Type:      EventPatternStarted,
		PatternID: patternID,
		Data:      data,
	})

	if m.cfg.EnableRealTime {
		go m.sample(patternID, tp)
	}
}

// StopMonitoring records the terminal event for the pattern and releases
// its sampling and profile state. Every StartMonitoring is matched by
// exactly one StopMonitoring per execution.
func (m *Monitor) StopMonitoring(patternID string, res *pattern.Result) {
	m.mu.Lock()
	started, ok := m.startTimes[patternID]
	delete(m.startTimes, patternID)
	delete(m.realtime, patternID)
	delete(m.profiles, patternID)
	delete(m.pools, patternID)
	m.mu.Unlock()

	if !ok {
		return
	}

	elapsed := time.Since(started)
	evType := EventPatternFailed
	data := map[string]any{
		"duration_ms": elapsed.Milliseconds(),
	}
	if res != nil && res.Success {
		evType = EventPatternCompleted
	} else if res != nil && res.ErrorMessage != "" {
		data["error"] = res.ErrorMessage
	}
	m.publish(Event{
		Type:      evType,
		PatternID: patternID,
		Data:      data,
	})
}

// UpdatePhase records a phase transition.
func (m *Monitor) UpdatePhase(patternID string, phase pattern.Phase, progress float64) {
	m.publish(Event{
		Type:      EventPhaseChanged,
		PatternID: patternID,
		Data: map[string]any{
			"phase":    string(phase),
			"progress": progress,
		},
	})
}

// UpdateAgentStatus records an agent status change observed during an
// execution.
func (m *Monitor) UpdateAgentStatus(patternID, agentID string, status pattern.AgentStatus) {
	m.publish(Event{
		Type:      EventAgentStatusChanged,
		PatternID: patternID,
		Data: map[string]any{
			"agent_id": agentID,
			"status":   string(status),
		},
	})
}

// UpdateResourceUsage samples the pool, records a ResourceUsage event, and
// synthesizes Warning events for threshold breaches. The caller must own
// the pool when calling; the sampler's private copy is refreshed here.
func (m *Monitor) UpdateResourceUsage(patternID string, pool *pattern.ResourcePool) ResourceUsageSnapshot {
	snap := snapshot(pool)

	m.mu.RLock()
	tp := m.pools[patternID]
	m.mu.RUnlock()
	if tp != nil {
		clone := pool.Clone()
		tp.mu.Lock()
		tp.pool = clone
		tp.mu.Unlock()
	}

	m.publish(Event{
		Type:      EventResourceUsage,
		PatternID: patternID,
		Data: map[string]any{
			"memory_utilization":  snap.MemoryUtilization,
			"cpu_utilization":     snap.CPUUtilization,
			"network_utilization": snap.NetworkUtilization,
			"active_file_locks":   snap.ActiveFileLocks,
		},
	})
	m.checkThresholds(patternID, snap)
	return snap
}

// RecordPerformanceMetric appends a named sample to the pattern's profile.
func (m *Monitor) RecordPerformanceMetric(patternID, name string, value float64) {
	m.mu.Lock()
	byMetric := m.profiles[patternID]
	if byMetric == nil {
		byMetric = make(map[string]*PerformanceProfile)
		m.profiles[patternID] = byMetric
	}
	p := byMetric[name]
	if p == nil {
		p = &PerformanceProfile{Name: name}
		byMetric[name] = p
	}
	p.add(value)
	m.mu.Unlock()

	m.publish(Event{
		Type:      EventPerformanceMetric,
		PatternID: patternID,
		Data: map[string]any{
			"metric": name,
			"value":  value,
		},
	})
}

// RecordValidation records the outcome of pre-execution validation.
func (m *Monitor) RecordValidation(patternID string, valid bool, errs, warnings []string) {
	m.publish(Event{
		Type:      EventValidation,
		PatternID: patternID,
		Data: map[string]any{
			"valid":    valid,
			"errors":   len(errs),
			"warnings": len(warnings),
		},
	})
}

// RecordRecovery records a recovery strategy outcome.
func (m *Monitor) RecordRecovery(patternID string, strategy string, success bool) {
	m.publish(Event{
		Type:      EventRecovery,
		PatternID: patternID,
		Data: map[string]any{
			"strategy": strategy,
			"success":  success,
		},
	})
}

// RecordError records an error observation.
func (m *Monitor) RecordError(patternID, message string) {
	m.publish(Event{
		Type:      EventError,
		PatternID: patternID,
		Data: map[string]any{
			"message": message,
		},
	})
}

// Subscribe returns a channel of future events plus a cancel func.
// Delivery is best-effort: a full subscriber channel drops events.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// Events returns buffered events, oldest first, optionally filtered by
// pattern id and bounded by limit.
func (m *Monitor) Events(patternID string, limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if patternID == "" || e.PatternID == patternID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// RealTime returns the latest sampled metrics for a running pattern.
func (m *Monitor) RealTime(patternID string) (RealTimeMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.realtime[patternID]
	return rt, ok
}

// Profile returns a copy of the named performance profile for a running
// pattern. Profiles are released when monitoring stops.
func (m *Monitor) Profile(patternID, metric string) (PerformanceProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byMetric, ok := m.profiles[patternID]
	if !ok {
		return PerformanceProfile{}, false
	}
	p, ok := byMetric[metric]
	if !ok {
		return PerformanceProfile{}, false
	}
	out := *p
	out.samples = nil
	return out, true
}

// Monitored reports whether the pattern is currently monitored.
func (m *Monitor) Monitored(patternID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.startTimes[patternID]
	return ok
}

// Statistics replays the buffered events into aggregate counters.
func (m *Monitor) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Statistics{
		EventsByType:   make(map[EventType]int),
		ActivePatterns: len(m.startTimes),
	}
	var completed, failed, errs int
	var totalDuration time.Duration
	for _, e := range m.events {
		st.TotalEvents++
		st.EventsByType[e.Type]++
		switch e.Type {
		case EventPatternCompleted:
			completed++
			if ms, ok := e.Data["duration_ms"].(int64); ok {
				totalDuration += time.Duration(ms) * time.Millisecond
			}
		case EventPatternFailed:
			failed++
		case EventError:
			errs++
		}
	}
	if completed > 0 {
		st.AverageExecutionTime = totalDuration / time.Duration(completed)
	}
	if completed+failed > 0 {
		st.SuccessRate = float64(completed) / float64(completed+failed)
	}
	if st.TotalEvents > 0 {
		st.ErrorRate = float64(errs) / float64(st.TotalEvents)
	}
	return st
}

// sample is the per-pattern background sampler. It terminates once the
// pattern id leaves startTimes.
func (m *Monitor) sample(patternID string, tp *trackedPool) {
	ticker := time.NewTicker(m.cfg.MetricsInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.RLock()
		started, ok := m.startTimes[patternID]
		m.mu.RUnlock()
		if !ok {
			return
		}

		tp.mu.Lock()
		snap := snapshot(tp.pool)
		tp.mu.Unlock()
		rt := RealTimeMetrics{
			PatternID: patternID,
			Snapshot:  snap,
			Elapsed:   time.Since(started),
		}

		m.mu.Lock()
		m.realtime[patternID] = rt
		m.mu.Unlock()

		m.publish(Event{
			Type:      EventRealTimeMetrics,
			PatternID: patternID,
			Data: map[string]any{
				"memory_utilization":  snap.MemoryUtilization,
				"cpu_utilization":     snap.CPUUtilization,
				"network_utilization": snap.NetworkUtilization,
				"elapsed_ms":          rt.Elapsed.Milliseconds(),
			},
		})
		m.checkThresholds(patternID, snap)
	}
}

func (m *Monitor) checkThresholds(patternID string, snap ResourceUsageSnapshot) {
	warn := func(resource string, value, threshold float64) {
		m.publish(Event{
			Type:      EventWarning,
			PatternID: patternID,
			Data: map[string]any{
				"resource":  resource,
				"value":     value,
				"threshold": threshold,
			},
		})
	}
	if t := m.cfg.Alerts.MemoryUtilization; t > 0 && snap.MemoryUtilization > t {
		warn("memory", snap.MemoryUtilization, t)
	}
	if t := m.cfg.Alerts.CPUUtilization; t > 0 && snap.CPUUtilization > t {
		warn("cpu", snap.CPUUtilization, t)
	}
	if t := m.cfg.Alerts.NetworkUtilization; t > 0 && snap.NetworkUtilization > t {
		warn("network", snap.NetworkUtilization, t)
	}
}

func (m *Monitor) publish(ev Event) {
	ev.ID = uuid.New().String()
	ev.Timestamp = time.Now()

	m.mu.Lock()
	m.events = append(m.events, ev)
	if len(m.events) > m.cfg.MaxEventsInMemory {
		m.events = m.events[len(m.events)-m.cfg.MaxEventsInMemory:]
	}
	m.mu.Unlock()

	// Sends stay under the read lock so a cancel (which closes the channel
	// under the write lock) cannot interleave with them.
	m.mu.RLock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber, drop.
		}
	}
	m.mu.RUnlock()

	if m.bus != nil {
		topic := eventbus.TopicPatternEvents(ev.PatternID)
		switch ev.Type {
		case EventRealTimeMetrics, EventPerformanceMetric:
			topic = eventbus.TopicMetrics(ev.PatternID)
		case EventValidation:
			topic = eventbus.TopicValidation(ev.PatternID)
		case EventRecovery:
			topic = eventbus.TopicRecovery(ev.PatternID)
		}
		if err := m.bus.PublishJSON(topic, ev); err != nil {
			slog.Debug("event bridge publish failed", "pattern", ev.PatternID, "error", err)
		}
	}
}

func snapshot(pool *pattern.ResourcePool) ResourceUsageSnapshot {
	snap := ResourceUsageSnapshot{Timestamp: time.Now()}
	if pool == nil {
		return snap
	}
	snap.MemoryUtilization = pool.MemoryUtilization()
	snap.CPUUtilization = pool.CPUUtilization()
	snap.NetworkUtilization = pool.NetworkUtilization()
	now := time.Now()
	for _, l := range pool.FileLocks {
		if !l.Expired(now) {
			snap.ActiveFileLocks++
		}
	}
	if len(pool.Custom) > 0 {
		snap.Custom = make(map[string]float64, len(pool.Custom))
		for name, cr := range pool.Custom {
			snap.Custom[name] = cr.Available
		}
	}
	return snap
}
