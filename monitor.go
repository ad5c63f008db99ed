package conductor

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// TokenKind weights the token estimate by payload type.
type TokenKind string

const (
	KindGeneral    TokenKind = "general"
	KindCode       TokenKind = "code"
	KindEmbedding  TokenKind = "embedding"
	KindMultimodal TokenKind = "multimodal"
)

// PressureLevel classifies heap pressure relative to the soft limit.
type PressureLevel string

const (
	PressureOK       PressureLevel = "ok"
	PressureWarning  PressureLevel = "warning"
	PressureCritical PressureLevel = "critical"
)

// DefaultTokenCeiling caps concurrent token reservations across the server.
const DefaultTokenCeiling = 500_000

const (
	monitorInterval = 5 * time.Second
	alertCooldown   = time.Minute

	warningFraction  = 0.80
	criticalFraction = 0.90
)

// Snapshot is a point-in-time view of resource state.
type Snapshot struct {
	Reserved  int64         `json:"reserved_tokens"`
	Ceiling   int64         `json:"token_ceiling"`
	Headroom  int64         `json:"headroom_tokens"`
	HeapBytes uint64        `json:"heap_bytes"`
	Level     PressureLevel `json:"level"`
}

// Monitor tracks concurrent token reservations against a hard ceiling and
// samples heap pressure. Reserve fails once the ceiling would be exceeded;
// callers must Release what they reserved.
type Monitor struct {
	ceiling       int64
	softHeapBytes uint64
	interval      time.Duration
	onAlert       func(PressureLevel, Snapshot)
	logger        *slog.Logger

	mu        sync.Mutex
	reserved  int64
	lastAlert time.Time
	lastGC    time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// TokenCeiling overrides the reservation ceiling (default 500,000).
func TokenCeiling(n int64) MonitorOption {
	return func(m *Monitor) { m.ceiling = n }
}

// SoftHeapLimit sets the heap size the pressure levels are computed against.
// Zero disables pressure sampling.
func SoftHeapLimit(bytes uint64) MonitorOption {
	return func(m *Monitor) { m.softHeapBytes = bytes }
}

// AlertFunc sets the callback invoked on warning and critical pressure, at
// most once per minute.
func AlertFunc(fn func(PressureLevel, Snapshot)) MonitorOption {
	return func(m *Monitor) { m.onAlert = fn }
}

// MonitorLogger sets the structured logger.
func MonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a monitor. Call Start to begin pressure sampling and
// Close to stop it; the token ledger works without Start.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		ceiling:  DefaultTokenCeiling,
		interval: monitorInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = nopLogger
	}
	return m
}

// Reserve claims n tokens. Fails with ErrResourceExhausted when the claim
// would push reservations past the ceiling.
func (m *Monitor) Reserve(n int64) error {
	if n < 0 {
		return fmt.Errorf("reserve: negative token count %d", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved+n > m.ceiling {
		return fmt.Errorf("%w: reserved %d + requested %d > ceiling %d",
			ErrResourceExhausted, m.reserved, n, m.ceiling)
	}
	m.reserved += n
	return nil
}

// Release returns n tokens to the ledger. Never goes below zero.
func (m *Monitor) Release(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved -= n
	if m.reserved < 0 {
		m.reserved = 0
	}
}

// Estimate converts text length to a token count using a 4-chars-per-token
// baseline, weighted by kind. Always at least 1 for non-empty text.
func (m *Monitor) Estimate(text string, kind TokenKind) int64 {
	if text == "" {
		return 0
	}
	weight := 1.0
	switch kind {
	case KindCode:
		weight = 1.5
	case KindMultimodal:
		weight = 2.5
	case KindEmbedding:
		weight = 0.5
	}
	tokens := int64(float64(len(text)) / 4 * weight)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// Snapshot returns the current resource state.
func (m *Monitor) Snapshot() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	reserved := m.reserved
	m.mu.Unlock()

	s := Snapshot{
		Reserved:  reserved,
		Ceiling:   m.ceiling,
		Headroom:  m.ceiling - reserved,
		HeapBytes: ms.HeapInuse,
		Level:     PressureOK,
	}
	if m.softHeapBytes > 0 {
		used := float64(ms.HeapInuse) / float64(m.softHeapBytes)
		switch {
		case used >= criticalFraction:
			s.Level = PressureCritical
		case used >= warningFraction:
			s.Level = PressureWarning
		}
	}
	return s
}

// Start launches the background pressure sampler. No-op when no soft heap
// limit is configured.
func (m *Monitor) Start() {
	if m.softHeapBytes == 0 {
		return
	}
	go m.sample()
}

// Close stops the sampler.
func (m *Monitor) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) sample() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			s := m.Snapshot()
			if s.Level == PressureOK {
				continue
			}
			m.logger.Warn("resource pressure",
				"level", string(s.Level),
				"heap_bytes", s.HeapBytes,
				"reserved_tokens", s.Reserved)
			if s.Level == PressureCritical {
				m.maybeGC()
			}
			m.alert(s)
		}
	}
}

// maybeGC nudges the collector on critical pressure, at most once per minute.
func (m *Monitor) maybeGC() {
	m.mu.Lock()
	due := time.Since(m.lastGC) >= alertCooldown
	if due {
		m.lastGC = time.Now()
	}
	m.mu.Unlock()
	if due {
		runtime.GC()
	}
}

func (m *Monitor) alert(s Snapshot) {
	if m.onAlert == nil {
		return
	}
	m.mu.Lock()
	due := time.Since(m.lastAlert) >= alertCooldown
	if due {
		m.lastAlert = time.Now()
	}
	m.mu.Unlock()
	if due {
		m.onAlert(s.Level, s)
	}
}
