package audit

import (
	"testing"
	"time"

	"github.com/emberwallet/vaultd/internal/storage"
)

func TestLimiterBudget(t *testing.T) {
	l := NewLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		if !l.Allow("user") {
			t.Fatalf("attempt %d denied inside budget", i+1)
		}
	}
	if l.Allow("user") {
		t.Error("sixth attempt allowed")
	}
	if got := l.Remaining("user"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}

	// Other identifiers have their own budget.
	if !l.Allow("other") {
		t.Error("independent identifier denied")
	}

	l.Reset("user")
	if !l.Allow("user") {
		t.Error("attempt denied after reset")
	}
}

func TestLimiterWindowExpiry(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	l := NewLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("user") || !l.Allow("user") {
		t.Fatal("initial attempts denied")
	}
	if l.Allow("user") {
		t.Fatal("over-budget attempt allowed")
	}

	// Denied attempts are free: after the window the full budget is back.
	now = now.Add(61 * time.Second)
	if got := l.Remaining("user"); got != 2 {
		t.Errorf("Remaining after window = %d, want 2", got)
	}
	if !l.Allow("user") {
		t.Error("attempt denied after window expiry")
	}
}

func TestMonitorBurst(t *testing.T) {
	m := NewMonitor()
	now := time.Unix(2_000_000, 0)
	m.now = func() time.Time { return now }

	for i := 0; i < burstThreshold; i++ {
		if findings := m.Observe("user", "unlock", now); len(findings) != 0 {
			t.Fatalf("finding before threshold: %v", findings)
		}
	}
	if findings := m.Observe("user", "unlock", now); len(findings) == 0 {
		t.Error("burst above threshold not flagged")
	}

	// Old observations age out of the window.
	now = now.Add(monitorRetention + time.Second)
	if findings := m.Observe("user", "unlock", now); len(findings) != 0 {
		t.Errorf("finding after retention expiry: %v", findings)
	}
}

func TestMonitorClockSkew(t *testing.T) {
	m := NewMonitor()
	now := time.Unix(2_000_000, 0)
	m.now = func() time.Time { return now }

	if findings := m.Observe("user", "unlock", now.Add(-time.Minute)); len(findings) != 0 {
		t.Errorf("small skew flagged: %v", findings)
	}
	if findings := m.Observe("user", "unlock", now.Add(-10*time.Minute)); len(findings) == 0 {
		t.Error("past skew not flagged")
	}
	if findings := m.Observe("user", "unlock", now.Add(10*time.Minute)); len(findings) == 0 {
		t.Error("future skew not flagged")
	}
}

func TestRunHealthySystem(t *testing.T) {
	if testing.Short() {
		t.Skip("self-check derives keys repeatedly")
	}

	kv := storage.NewMemoryKV()
	report := Run(kv)

	if !report.Passed {
		t.Errorf("healthy system failed self-check: %+v", report.Issues)
	}
	if len(report.Recommendations) == 0 {
		t.Error("expected standing recommendations")
	}

	// MemoryKV has no write counter; that is a warning, not a failure.
	found := false
	for _, w := range report.Warnings {
		if w != "" {
			found = true
		}
	}
	if !found {
		t.Error("expected a write-counter warning for the memory backend")
	}

	// The probe key must not linger.
	if _, err := kv.Get("_audit_probe"); err != storage.ErrKeyNotFound {
		t.Error("audit probe key left behind")
	}
}

func TestRunNilStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("self-check derives keys repeatedly")
	}
	report := Run(nil)
	if !report.Passed {
		t.Errorf("nil storage must degrade to a warning, got issues: %+v", report.Issues)
	}
	if len(report.Warnings) == 0 {
		t.Error("expected a skipped-storage warning")
	}
}
