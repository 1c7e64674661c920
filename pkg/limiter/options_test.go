package limiter

import (
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	lim, err := New(NewMemoryStore(), testPolicy())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if lim.maxAttempts != defaultMaxAttempts {
		t.Errorf("expected default max attempts %d, got %d", defaultMaxAttempts, lim.maxAttempts)
	}
	if lim.backoffBase != defaultBackoffBase || lim.backoffCap != defaultBackoffCap {
		t.Errorf("expected default backoff %v/%v, got %v/%v",
			defaultBackoffBase, defaultBackoffCap, lim.backoffBase, lim.backoffCap)
	}
	if lim.onExhaustion != FailClosed {
		t.Error("expected FailClosed by default")
	}
	if lim.policyTTL != defaultPolicyTTL {
		t.Errorf("expected default policy TTL %v, got %v", defaultPolicyTTL, lim.policyTTL)
	}
	if _, ok := lim.recorder.(*NoOpMetricsRecorder); !ok {
		t.Errorf("expected NoOpMetricsRecorder by default, got %T", lim.recorder)
	}
}

func TestNew_OptionsApplied(t *testing.T) {
	rec := NewMockRecorder()
	fixed := time.Unix(1_700_000_000, 0)

	lim, err := New(NewMemoryStore(), testPolicy(),
		WithMaxAttempts(7),
		WithBackoff(5*time.Millisecond, 250*time.Millisecond),
		WithOnExhaustion(FailOpen),
		WithPolicyTTL(time.Minute),
		WithRecorder(rec),
		WithTimeSource(func() time.Time { return fixed }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if lim.maxAttempts != 7 {
		t.Errorf("WithMaxAttempts not applied: %d", lim.maxAttempts)
	}
	if lim.backoffBase != 5*time.Millisecond || lim.backoffCap != 250*time.Millisecond {
		t.Errorf("WithBackoff not applied: %v/%v", lim.backoffBase, lim.backoffCap)
	}
	if lim.onExhaustion != FailOpen {
		t.Error("WithOnExhaustion not applied")
	}
	if lim.policyTTL != time.Minute {
		t.Errorf("WithPolicyTTL not applied: %v", lim.policyTTL)
	}
	if lim.recorder != rec {
		t.Error("WithRecorder not applied")
	}
	if !lim.now().Equal(fixed) {
		t.Error("WithTimeSource not applied")
	}
}

func TestOptions_NilArgumentsIgnored(t *testing.T) {
	lim, err := New(NewMemoryStore(), testPolicy(),
		WithRecorder(nil),
		WithTimeSource(nil),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if lim.recorder == nil || lim.now == nil {
		t.Error("nil option arguments should keep the defaults")
	}
}
