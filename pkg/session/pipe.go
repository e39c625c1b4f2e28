package session

import (
	"io"
	"sync"
	"sync/atomic"

	gwshare "github.com/sammck-go/wsgateway/share"
)

const pipeBuffer = 256

type pipeShared struct {
	closeOnce sync.Once
	closed    chan struct{}
}

// PipeConn is one end of an in-memory Conn pair. Closing either end
// closes both; messages already written can still be read.
type PipeConn struct {
	BasicConn
	in     chan Message
	out    chan Message
	shared *pipeShared
}

// NewPipe creates a connected pair of in-memory Conns
func NewPipe(logger gwshare.Logger) (*PipeConn, *PipeConn) {
	shared := &pipeShared{closed: make(chan struct{})}
	ab := make(chan Message, pipeBuffer)
	ba := make(chan Message, pipeBuffer)
	a := &PipeConn{in: ba, out: ab, shared: shared}
	b := &PipeConn{in: ab, out: ba, shared: shared}
	a.InitBasicConn(logger, a, "PipeConn(a)")
	b.InitBasicConn(logger, b, "PipeConn(b)")
	go func() {
		<-shared.closed
		a.StartShutdown(nil)
		b.StartShutdown(nil)
	}()
	return a, b
}

// ReadMessage implements Conn
func (c *PipeConn) ReadMessage() (Message, error) {
	select {
	case m := <-c.in:
		atomic.AddInt64(&c.NumBytesRead, int64(len(m.Data)))
		return m, nil
	default:
	}
	select {
	case m := <-c.in:
		atomic.AddInt64(&c.NumBytesRead, int64(len(m.Data)))
		return m, nil
	case <-c.shared.closed:
		return Message{}, io.EOF
	}
}

// WriteMessage implements Conn
func (c *PipeConn) WriteMessage(m Message) error {
	select {
	case <-c.shared.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.out <- m:
		atomic.AddInt64(&c.NumBytesWritten, int64(len(m.Data)))
		return nil
	case <-c.shared.closed:
		return io.ErrClosedPipe
	}
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (c *PipeConn) HandleOnceShutdown(completionErr error) error {
	c.shared.closeOnce.Do(func() {
		close(c.shared.closed)
	})
	return completionErr
}
