// Package window computes the WhatsApp customer-service window of a lead.
//
// A business may send free-form messages only while the window opened by
// the customer's last inbound message is still running. Outside it, only
// pre-approved templates are allowed. Status is derived on every call and
// must never be cached: it goes stale as soon as the clock moves.
package window

import (
	"fmt"
	"time"
)

// DefaultLength is the WhatsApp session window.
const DefaultLength = 24 * time.Hour

// Mode is the kind of message that may be sent right now.
type Mode string

// Send modes.
const (
	ModeFreeForm Mode = "free_form"
	ModeTemplate Mode = "template"
)

// Status is the window state at a given instant.
type Status struct {
	LastInboundAt *time.Time
	IsOpen        bool
	Remaining     time.Duration
}

// RemainingSeconds returns the remaining time in whole seconds.
func (s Status) RemainingSeconds() int {
	if !s.IsOpen || s.Remaining <= 0 {
		return 0
	}
	return int(s.Remaining / time.Second)
}

// Engine evaluates windows of a fixed length.
type Engine struct {
	Length time.Duration
}

// New returns an Engine for the given length; non-positive means DefaultLength.
func New(length time.Duration) Engine {
	return Engine{Length: length}
}

// Duration returns the effective window length.
func (e Engine) Duration() time.Duration {
	if e.Length <= 0 {
		return DefaultLength
	}
	return e.Length
}

// Compute returns the window state for a lead whose last inbound message
// arrived at lastInboundAt, evaluated at now. A nil lastInboundAt means no
// window was ever opened. A timestamp in the future counts as zero elapsed.
func (e Engine) Compute(lastInboundAt *time.Time, now time.Time) Status {
	if lastInboundAt == nil {
		return Status{}
	}
	last := *lastInboundAt
	st := Status{LastInboundAt: &last}

	elapsed := now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= e.Duration() {
		return st
	}
	st.IsOpen = true
	st.Remaining = e.Duration() - elapsed
	return st
}

// Compute evaluates the default 24h window.
func Compute(lastInboundAt *time.Time, now time.Time) Status {
	return Engine{}.Compute(lastInboundAt, now)
}

// FormatRemaining renders the remaining time as "Xh Ym", floored to the minute.
func FormatRemaining(s Status) string {
	if !s.IsOpen || s.Remaining <= 0 {
		return "0h 0m"
	}
	mins := int(s.Remaining / time.Minute)
	return fmt.Sprintf("%dh %dm", mins/60, mins%60)
}

// ModeFor tells which kind of message the status allows.
func ModeFor(s Status) Mode {
	if s.IsOpen {
		return ModeFreeForm
	}
	return ModeTemplate
}

// ExpiresWithin reports whether an open window closes within d.
func ExpiresWithin(s Status, d time.Duration) bool {
	return s.IsOpen && s.Remaining <= d
}

// ClosesAt returns the instant the window closes, or zero time if it never opened.
func (e Engine) ClosesAt(lastInboundAt *time.Time) time.Time {
	if lastInboundAt == nil {
		return time.Time{}
	}
	return lastInboundAt.Add(e.Duration())
}
