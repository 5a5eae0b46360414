// Package clock provides the shared monotonic microsecond timebase used by
// every component that timestamps frames, control packets, or datagrams.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is a lock-free, NTP-correctable microsecond clock. The zero value is
// ready to use and reports raw wall-clock time until SetOffset is called.
type Clock struct {
	offsetUS atomic.Int64
}

// New returns a Clock with zero correction offset.
func New() *Clock {
	return &Clock{}
}

// NowRawUS returns the local wall clock in microseconds since the Unix epoch,
// uncorrected by any NTP offset.
func (c *Clock) NowRawUS() int64 {
	return time.Now().UnixMicro()
}

// NowCorrectedUS returns NowRawUS minus the current NTP offset. Until the
// first successful sync, this equals NowRawUS.
func (c *Clock) NowCorrectedUS() int64 {
	return c.NowRawUS() - c.offsetUS.Load()
}

// Offset returns the currently applied correction offset in microseconds.
func (c *Clock) Offset() int64 {
	return c.offsetUS.Load()
}

// SetOffset atomically installs a new correction offset. Only the sync
// goroutine should call this; readers only ever observe a fully-formed old
// or new value, never a partial write.
func (c *Clock) SetOffset(offsetUS int64) {
	c.offsetUS.Store(offsetUS)
}
