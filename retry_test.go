package conductor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryRecoversFromTransient(t *testing.T) {
	stub := newStubAdapter(ModelXL)
	stub.fail(&ErrHTTP{Status: 500, Body: "boom"})
	stub.reply(textEnvelope(ModelXL, "hi"))

	a := WithRetry(stub, RetryBaseDelay(time.Millisecond))
	env, err := a.Generate(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("hello")},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := env.Text(); got != "hi" {
		t.Errorf("Text() = %q, want %q", got, "hi")
	}
	if stub.callCount() != 2 {
		t.Errorf("calls = %d, want 2", stub.callCount())
	}
}

func TestRetryDoesNotRetryClientErrors(t *testing.T) {
	stub := newStubAdapter(ModelXL)
	stub.fail(&ErrHTTP{Status: 400, Body: "bad request"})

	a := WithRetry(stub, RetryBaseDelay(time.Millisecond))
	_, err := a.Generate(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("hello")},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if stub.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", stub.callCount())
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	stub := newStubAdapter(ModelXL)
	stub.fail(&ErrHTTP{Status: 503, Body: "down"})

	a := WithRetry(stub, RetryMaxAttempts(3), RetryBaseDelay(time.Millisecond))
	_, err := a.Generate(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("hello")},
	})
	var he *ErrHTTP
	if !errors.As(err, &he) || he.Status != 503 {
		t.Fatalf("err = %v, want final 503", err)
	}
	if stub.callCount() != 3 {
		t.Errorf("calls = %d, want 3", stub.callCount())
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	stub := newStubAdapter(ModelXL)
	stub.fail(&ErrHTTP{Status: 500, Body: "down"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := WithRetry(stub, RetryBaseDelay(time.Hour))
	_, err := a.Generate(ctx, ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("hello")},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if stub.callCount() > 1 {
		t.Errorf("calls = %d, want at most 1 after cancellation", stub.callCount())
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&ErrHTTP{Status: 429}, true},
		{&ErrHTTP{Status: 500}, true},
		{&ErrHTTP{Status: 503}, true},
		{&ErrHTTP{Status: 400}, false},
		{&ErrHTTP{Status: 404}, false},
		{context.DeadlineExceeded, true},
		{errors.New("something else"), false},
	}
	for _, tt := range tests {
		if got := isTransient(tt.err); got != tt.want {
			t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryAfterOf(t *testing.T) {
	// Explicit header wins.
	if got := retryAfterOf(&ErrHTTP{Status: 429, RetryAfter: 5 * time.Second}); got != 5*time.Second {
		t.Errorf("retryAfterOf = %v, want 5s", got)
	}
	// Headerless 429 falls back to the 60s default.
	if got := retryAfterOf(&ErrHTTP{Status: 429}); got != defaultRetryAfter {
		t.Errorf("retryAfterOf = %v, want %v", got, defaultRetryAfter)
	}
	// 5xx without a header has no floor.
	if got := retryAfterOf(&ErrHTTP{Status: 500}); got != 0 {
		t.Errorf("retryAfterOf = %v, want 0", got)
	}
	if got := retryAfterOf(errors.New("plain")); got != 0 {
		t.Errorf("retryAfterOf = %v, want 0", got)
	}
}

func TestRetryDelayHonorsRetryAfterFloor(t *testing.T) {
	err := &ErrHTTP{Status: 429, RetryAfter: 10 * time.Second}
	if got := retryDelay(time.Millisecond, 0, err); got < 10*time.Second {
		t.Errorf("retryDelay = %v, want >= 10s", got)
	}
}

func TestRetryBackoffGrows(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 4; i++ {
		d := retryBackoff(base, i)
		exp := base * (1 << i)
		if d < exp {
			t.Errorf("backoff(%d) = %v, want >= %v", i, d, exp)
		}
		if d > exp+exp/2 {
			t.Errorf("backoff(%d) = %v, want <= %v (50%% jitter cap)", i, d, exp+exp/2)
		}
	}
}
