package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRegistryRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool(ToolCoder), ToolLimits{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(echoTool(ToolCoder), ToolLimits{}); err == nil {
		t.Error("duplicate register should fail")
	}
}

func TestRegistryDefaultLimits(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{ToolCoder, ToolMultimodal, ToolLightSearch, ToolMediumSearch} {
		if err := r.Register(echoTool(name), ToolLimits{}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	tests := []struct {
		name          string
		maxConcurrent int
		timeout       time.Duration
	}{
		{ToolCoder, 1, 30 * time.Minute},
		{ToolMultimodal, 1, 5 * time.Minute},
		{ToolLightSearch, 2, 30 * time.Second},
		{ToolMediumSearch, 2, 2 * time.Minute},
	}
	for _, tt := range tests {
		limits, err := r.Limits(tt.name)
		if err != nil {
			t.Fatalf("Limits(%s): %v", tt.name, err)
		}
		if limits.MaxConcurrent != tt.maxConcurrent {
			t.Errorf("%s MaxConcurrent = %d, want %d", tt.name, limits.MaxConcurrent, tt.maxConcurrent)
		}
		if limits.Timeout != tt.timeout {
			t.Errorf("%s Timeout = %v, want %v", tt.name, limits.Timeout, tt.timeout)
		}
	}
}

func TestRegistryLimitsUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Limits("nope"); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", err)
	}
}

func TestAccessMatrix(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{ToolCoder, ToolMultimodal, ToolLightSearch, ToolMediumSearch} {
		if err := r.Register(echoTool(name), ToolLimits{}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		model     string
		webSearch bool
		want      []string
	}{
		{ModelXL, false, []string{ToolCoder, ToolMultimodal}},
		{ModelXL, true, []string{ToolCoder, ToolMultimodal, ToolLightSearch, ToolMediumSearch}},
		{ModelLight, false, []string{ToolCoder, ToolMultimodal}},
		{ModelCode, false, []string{ToolMultimodal}},
		{ModelCode, true, []string{ToolMultimodal, ToolLightSearch, ToolMediumSearch}},
		{"conductor-vision", true, nil},
	}
	for _, tt := range tests {
		got := r.AccessFor(tt.model, tt.webSearch)
		if len(got) != len(tt.want) {
			t.Errorf("AccessFor(%s, %v) = %v, want %v", tt.model, tt.webSearch, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("AccessFor(%s, %v) = %v, want %v", tt.model, tt.webSearch, got, tt.want)
				break
			}
		}
	}
}

func TestAccessMatrixSkipsUnregistered(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool(ToolMultimodal), ToolLimits{}); err != nil {
		t.Fatal(err)
	}
	got := r.AccessFor(ModelXL, true)
	if len(got) != 1 || got[0] != ToolMultimodal {
		t.Errorf("AccessFor = %v, want [multimodal]", got)
	}
}

func TestRegistryExecuteUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Execute(context.Background(), "nope", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", err)
	}
}

func TestRegistryExecuteAppliesTimeout(t *testing.T) {
	r := NewRegistry()
	blocker := &stubTool{name: "slow", fn: func(ctx context.Context, _ json.RawMessage) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	if err := r.Register(blocker, ToolLimits{MaxConcurrent: 1, Timeout: 20 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := r.Execute(context.Background(), "slow", nil); err == nil {
		t.Error("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v, expected ~20ms", elapsed)
	}
}

func TestRegistrySemaphoreBlocksUntilCtx(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	hold := &stubTool{name: "held", fn: func(ctx context.Context, _ json.RawMessage) (string, error) {
		<-release
		return "done", nil
	}}
	if err := r.Register(hold, ToolLimits{MaxConcurrent: 1, Timeout: time.Minute}); err != nil {
		t.Fatal(err)
	}

	go r.Execute(context.Background(), "held", nil)
	time.Sleep(20 * time.Millisecond) // let the first call take the slot

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.Execute(ctx, "held", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	close(release)
}
