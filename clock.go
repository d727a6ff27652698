package tierq

import "time"

// Clock supplies the current time. Wall time is an injected collaborator
// so admission timestamps and tie-break ordering are deterministic under
// test.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the operating system clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }
