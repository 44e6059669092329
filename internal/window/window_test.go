package window

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func at(t time.Time) *time.Time { return &t }

func TestCompute(t *testing.T) {
	tests := []struct {
		name          string
		last          *time.Time
		wantOpen      bool
		wantRemaining int
	}{
		{
			name:          "never received",
			last:          nil,
			wantOpen:      false,
			wantRemaining: 0,
		},
		{
			name:          "inbound right now",
			last:          at(now),
			wantOpen:      true,
			wantRemaining: 86400,
		},
		{
			name:          "one hour ago",
			last:          at(now.Add(-time.Hour)),
			wantOpen:      true,
			wantRemaining: 23 * 3600,
		},
		{
			name:          "exactly 24h ago closes the window",
			last:          at(now.Add(-24 * time.Hour)),
			wantOpen:      false,
			wantRemaining: 0,
		},
		{
			name:          "two days ago",
			last:          at(now.Add(-48 * time.Hour)),
			wantOpen:      false,
			wantRemaining: 0,
		},
		{
			name:          "future timestamp is clamped",
			last:          at(now.Add(2 * time.Hour)),
			wantOpen:      true,
			wantRemaining: 86400,
		},
		{
			name:          "one second before close",
			last:          at(now.Add(-24*time.Hour + time.Second)),
			wantOpen:      true,
			wantRemaining: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.last, now)
			if diff := cmp.Diff(tt.wantOpen, got.IsOpen); diff != "" {
				t.Errorf("IsOpen mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantRemaining, got.RemainingSeconds()); diff != "" {
				t.Errorf("RemainingSeconds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestComputeOlderThanWindowAlwaysClosed(t *testing.T) {
	for h := 25; h < 24*40; h += 7 {
		st := Compute(at(now.Add(-time.Duration(h)*time.Hour)), now)
		if st.IsOpen || st.RemainingSeconds() != 0 {
			t.Fatalf("%dh ago: got open=%v remaining=%d", h, st.IsOpen, st.RemainingSeconds())
		}
	}
}

func TestEngineCustomLength(t *testing.T) {
	e := New(2 * time.Hour)

	got := e.Compute(at(now), now)
	if diff := cmp.Diff(7200, got.RemainingSeconds()); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}

	got = e.Compute(at(now.Add(-3*time.Hour)), now)
	if got.IsOpen {
		t.Error("expected closed window after 3h with 2h length")
	}

	if diff := cmp.Diff(now.Add(2*time.Hour), e.ClosesAt(at(now))); diff != "" {
		t.Errorf("ClosesAt mismatch (-want +got):\n%s", diff)
	}
	if !e.ClosesAt(nil).IsZero() {
		t.Error("expected zero ClosesAt for nil")
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	last := at(now.Add(-5 * time.Hour))
	first := Compute(last, now)
	second := Compute(last, now)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated Compute mismatch (-first +second):\n%s", diff)
	}
}

func TestComputeCopiesTimestamp(t *testing.T) {
	last := now.Add(-time.Hour)
	st := Compute(&last, now)
	last = last.Add(-100 * time.Hour)
	if !st.LastInboundAt.Equal(now.Add(-time.Hour)) {
		t.Errorf("status aliased caller timestamp: %v", st.LastInboundAt)
	}
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want string
	}{
		{name: "closed", st: Status{}, want: "0h 0m"},
		{name: "full window", st: Status{IsOpen: true, Remaining: 24 * time.Hour}, want: "24h 0m"},
		{name: "floors seconds", st: Status{IsOpen: true, Remaining: 3*time.Hour + 25*time.Minute + 59*time.Second}, want: "3h 25m"},
		{name: "under a minute", st: Status{IsOpen: true, Remaining: 59 * time.Second}, want: "0h 0m"},
		{name: "negative never shown", st: Status{IsOpen: true, Remaining: -time.Minute}, want: "0h 0m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatRemaining(tt.st)); diff != "" {
				t.Errorf("FormatRemaining mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestModeAndExpiry(t *testing.T) {
	open := Compute(at(now.Add(-23*time.Hour-30*time.Minute)), now)
	closed := Compute(nil, now)

	if diff := cmp.Diff(ModeFreeForm, ModeFor(open)); diff != "" {
		t.Errorf("open mode mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ModeTemplate, ModeFor(closed)); diff != "" {
		t.Errorf("closed mode mismatch (-want +got):\n%s", diff)
	}
	if !ExpiresWithin(open, time.Hour) {
		t.Error("expected window closing within 1h")
	}
	if ExpiresWithin(open, 10*time.Minute) {
		t.Error("window should not close within 10m")
	}
	if ExpiresWithin(closed, time.Hour) {
		t.Error("closed window never expires within")
	}
}
