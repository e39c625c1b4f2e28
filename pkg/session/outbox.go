package session

import (
	"errors"
	"sync"
	"time"

	gwshare "github.com/sammck-go/wsgateway/share"
)

// ErrBacklog is returned by Outbox.Send when the peer has too many frames
// queued. The connection is shut down when this happens.
var ErrBacklog = errors.New("outbound backlog limit exceeded")

// Outbox queues outbound messages for a Conn and writes them from a single
// goroutine, so Send never blocks on the network. An Outbox starts held:
// messages queue up but nothing is written until Release.
type Outbox struct {
	gwshare.Logger
	conn       Conn
	maxBacklog int

	mu      sync.Mutex
	queue   []Message
	held    bool
	closing bool
	err     error

	wake chan struct{}
	done chan struct{}
}

// NewOutbox creates a held Outbox and starts its writer
func NewOutbox(logger gwshare.Logger, conn Conn, maxBacklog int) *Outbox {
	o := &Outbox{
		Logger:     logger,
		conn:       conn,
		maxBacklog: maxBacklog,
		held:       true,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go o.run()
	return o
}

// Send queues m. It fails once the Outbox is closing, and fails with
// ErrBacklog (shutting the connection down) when the backlog is full.
func (o *Outbox) Send(m Message) error {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return ErrTerminated
	}
	if o.maxBacklog > 0 && len(o.queue) >= o.maxBacklog {
		o.closing = true
		o.err = ErrBacklog
		o.mu.Unlock()
		o.WLogf("peer too slow, %d frames queued; disconnecting", o.maxBacklog)
		o.conn.StartShutdown(ErrBacklog)
		o.signal()
		return ErrBacklog
	}
	o.queue = append(o.queue, m)
	o.mu.Unlock()
	o.signal()
	return nil
}

// Release puts first at the head of the queue and lets the writer start
func (o *Outbox) Release(first ...Message) {
	o.mu.Lock()
	if len(first) > 0 {
		o.queue = append(append([]Message{}, first...), o.queue...)
	}
	o.held = false
	o.mu.Unlock()
	o.signal()
}

// Close stops accepting messages. Already queued messages are still
// written; Done is closed once they have been.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closing = true
	o.held = false
	o.mu.Unlock()
	o.signal()
}

// Done returns a channel that is closed when the writer has exited
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Flush closes the Outbox and waits up to timeout for the queue to drain
func (o *Outbox) Flush(timeout time.Duration) bool {
	o.Close()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-o.done:
		return true
	case <-t.C:
		return false
	}
}

// Err returns the error that stopped the writer, if any
func (o *Outbox) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Len returns the number of queued messages
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *Outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		var batch []Message
		if !o.held {
			batch = o.queue
			o.queue = nil
		}
		closing := o.closing
		failed := o.err != nil
		o.mu.Unlock()

		if failed {
			return
		}
		for _, m := range batch {
			if err := o.conn.WriteMessage(m); err != nil {
				o.mu.Lock()
				o.closing = true
				o.err = err
				o.queue = nil
				o.mu.Unlock()
				o.DLogf("write failed: %s", err)
				o.conn.StartShutdown(err)
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closing {
			return
		}
		select {
		case <-o.wake:
		case <-o.conn.ShutdownDoneChan():
			return
		}
	}
}
