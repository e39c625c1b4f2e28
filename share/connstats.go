package gwshare

import (
	"fmt"
	"sync/atomic"

	"github.com/jpillora/sizestr"
)

// ConnStats counts the connections accepted by one listener
type ConnStats struct {
	count    int32
	open     int32
	rejected int32
	read     int64
	written  int64
}

// New adds one to the total connection count and returns the new total,
// which callers use as a connection number
func (c *ConnStats) New() int32 {
	return atomic.AddInt32(&c.count, 1)
}

// Reject counts a connection attempt that never became a session
func (c *ConnStats) Reject() {
	atomic.AddInt32(&c.rejected, 1)
}

// Open adds one to the current open connection count
func (c *ConnStats) Open() {
	atomic.AddInt32(&c.open, 1)
}

// Close subtracts one from the open count and adds the connection's
// traffic to the listener totals
func (c *ConnStats) Close(bytesRead, bytesWritten int64) {
	atomic.AddInt32(&c.open, -1)
	atomic.AddInt64(&c.read, bytesRead)
	atomic.AddInt64(&c.written, bytesWritten)
}

// NumOpen returns the current open connection count
func (c *ConnStats) NumOpen() int32 {
	return atomic.LoadInt32(&c.open)
}

// NumRejected returns the number of rejected connection attempts
func (c *ConnStats) NumRejected() int32 {
	return atomic.LoadInt32(&c.rejected)
}

// Traffic returns the bytes read and written by closed connections
func (c *ConnStats) Traffic() (int64, int64) {
	return atomic.LoadInt64(&c.read), atomic.LoadInt64(&c.written)
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d]", atomic.LoadInt32(&c.open), atomic.LoadInt32(&c.count))
}

// Summary describes the totals for a shutdown log line
func (c *ConnStats) Summary() string {
	read, written := c.Traffic()
	return fmt.Sprintf("%d connections, %d rejected, received %s, sent %s",
		atomic.LoadInt32(&c.count), c.NumRejected(), sizestr.ToString(read), sizestr.ToString(written))
}
