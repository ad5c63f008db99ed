package conductor

import (
	"errors"
	"testing"
)

func TestMonitorReserveRelease(t *testing.T) {
	m := NewMonitor(TokenCeiling(100))
	if err := m.Reserve(60); err != nil {
		t.Fatalf("Reserve(60): %v", err)
	}
	if err := m.Reserve(50); !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("over-ceiling err = %v, want ErrResourceExhausted", err)
	}
	m.Release(60)
	if err := m.Reserve(100); err != nil {
		t.Errorf("Reserve after release: %v", err)
	}
}

func TestMonitorReserveExactCeiling(t *testing.T) {
	m := NewMonitor(TokenCeiling(100))
	if err := m.Reserve(100); err != nil {
		t.Errorf("exact-ceiling reserve failed: %v", err)
	}
	if err := m.Reserve(1); !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("err = %v, want ErrResourceExhausted", err)
	}
}

func TestMonitorReleaseFloorsAtZero(t *testing.T) {
	m := NewMonitor(TokenCeiling(100))
	m.Release(500)
	if got := m.Snapshot().Reserved; got != 0 {
		t.Errorf("Reserved = %d, want 0", got)
	}
	if err := m.Reserve(100); err != nil {
		t.Errorf("Reserve after over-release: %v", err)
	}
}

func TestMonitorReserveNegative(t *testing.T) {
	m := NewMonitor()
	if err := m.Reserve(-1); err == nil {
		t.Error("negative reserve should fail")
	}
}

func TestMonitorEstimateWeights(t *testing.T) {
	m := NewMonitor()
	text := make([]byte, 400)
	for i := range text {
		text[i] = 'a'
	}
	s := string(text)

	tests := []struct {
		kind TokenKind
		want int64
	}{
		{KindGeneral, 100},
		{KindCode, 150},
		{KindMultimodal, 250},
		{KindEmbedding, 50},
	}
	for _, tt := range tests {
		if got := m.Estimate(s, tt.kind); got != tt.want {
			t.Errorf("Estimate(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestMonitorEstimateEdges(t *testing.T) {
	m := NewMonitor()
	if got := m.Estimate("", KindGeneral); got != 0 {
		t.Errorf("empty text = %d, want 0", got)
	}
	if got := m.Estimate("ab", KindGeneral); got != 1 {
		t.Errorf("tiny text = %d, want 1 (floor)", got)
	}
}

func TestMonitorSnapshot(t *testing.T) {
	m := NewMonitor(TokenCeiling(1000))
	m.Reserve(400)
	s := m.Snapshot()
	if s.Reserved != 400 {
		t.Errorf("Reserved = %d, want 400", s.Reserved)
	}
	if s.Ceiling != 1000 {
		t.Errorf("Ceiling = %d, want 1000", s.Ceiling)
	}
	if s.Headroom != 600 {
		t.Errorf("Headroom = %d, want 600", s.Headroom)
	}
	if s.Level != PressureOK {
		t.Errorf("Level = %s, want ok (no soft heap limit)", s.Level)
	}
}

func TestMonitorPressureLevels(t *testing.T) {
	// A 1-byte soft limit puts any real heap firmly past critical.
	m := NewMonitor(SoftHeapLimit(1))
	if got := m.Snapshot().Level; got != PressureCritical {
		t.Errorf("Level = %s, want critical", got)
	}
	// An enormous limit keeps pressure at ok.
	m = NewMonitor(SoftHeapLimit(1 << 60))
	if got := m.Snapshot().Level; got != PressureOK {
		t.Errorf("Level = %s, want ok", got)
	}
}
