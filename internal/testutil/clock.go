package testutil

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Epoch is the instant every test clock starts at.
var Epoch = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

// NewClock returns a fake clock frozen at Epoch.
//
// Tests that exercise date operators (Today, PreviousMonth, ...) must use
// it so that results do not depend on when the suite runs.
func NewClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(Epoch)
}

// NewClockAt returns a fake clock frozen at t.
func NewClockAt(t time.Time) *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(t)
}
