package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jpillora/sizestr"
	"github.com/sammck-go/wsgateway/pkg/broker"
	"github.com/sammck-go/wsgateway/pkg/wire"
	gwshare "github.com/sammck-go/wsgateway/share"
)

var (
	// ErrBadMagic is the fatal error for a handshake with the wrong magic string
	ErrBadMagic = errors.New("bad handshake magic")
	// ErrBadVersion is the fatal error for an unsupported protocol version
	ErrBadVersion = errors.New("unsupported protocol version")
	// ErrTerminated is returned when sending on a session that has ended
	ErrTerminated = errors.New("session terminated")
	// ErrHandshakeTimeout is the fatal error for a peer that never sends a handshake
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrUnexpectedText is the fatal error for a text frame from the peer
	ErrUnexpectedText = errors.New("unexpected text frame")
)

// State is the lifecycle state of a session
type State int

const (
	// StateAwaitingHandshake is the initial state; no proxy exists yet
	StateAwaitingHandshake State = iota
	// StateActive means the proxy is registered and frames are dispatched to it
	StateActive
	// StateTerminated is final; the proxy has been unregistered
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting-handshake"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a session
type Options struct {
	Codec *wire.Codec
	// HandshakeTimeout bounds the wait for the first frame; zero disables it
	HandshakeTimeout time.Duration
	// MaxBacklog is the outbound queue limit; zero means unlimited
	MaxBacklog int
	// DrainTimeout bounds how long a closing session waits to flush its queue
	DrainTimeout time.Duration
}

// protocol is the side-specific half of a session
type protocol interface {
	// handshake validates the first frame and registers the proxy
	handshake(data []byte) error
	// dispatch decodes one frame and applies it to the proxy
	dispatch(data []byte) error
	// unregister tears the proxy down
	unregister()
}

// basicSession drives the AwaitingHandshake -> Active -> Terminated state
// machine shared by gateway and service sessions
type basicSession struct {
	gwshare.ShutdownHelper
	broker   *broker.Broker
	conn     Conn
	outbox   *Outbox
	opts     Options
	protocol protocol
	state    State
	frames   int64 // atomic
}

func (s *basicSession) initBasicSession(logger gwshare.Logger, b *broker.Broker, conn Conn, opts Options, p protocol) {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = time.Second
	}
	s.broker = b
	s.conn = conn
	s.opts = opts
	s.protocol = p
	s.InitShutdownHelper(logger, s)
	s.outbox = NewOutbox(logger, conn, opts.MaxBacklog)
}

func (s *basicSession) String() string {
	return s.conn.String()
}

// State returns the current lifecycle state
func (s *basicSession) State() State {
	s.Lock.Lock()
	defer s.Lock.Unlock()
	return s.state
}

// activate runs register and moves from AwaitingHandshake to Active as one
// step, so a concurrent terminate either sees no proxy or unregisters it
func (s *basicSession) activate(register func() error) error {
	s.Lock.Lock()
	defer s.Lock.Unlock()
	if s.state != StateAwaitingHandshake {
		return ErrTerminated
	}
	if err := register(); err != nil {
		return err
	}
	s.state = StateActive
	return nil
}

// terminate enters the Terminated state. The proxy is unregistered only if
// it was registered, and only by the first call.
func (s *basicSession) terminate(err error) {
	s.Lock.Lock()
	prev := s.state
	s.state = StateTerminated
	s.Lock.Unlock()
	if prev == StateTerminated {
		return
	}
	if prev == StateActive {
		s.protocol.unregister()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.outbox.Send(Text(err.Error()))
	}
	s.outbox.Close()
}

// sendBinary queues an encoded protocol message
func (s *basicSession) sendBinary(data []byte, err error) error {
	if err != nil {
		return err
	}
	return s.outbox.Send(Binary(data))
}

// Run runs the session to completion on its connection. It returns nil
// when the peer closes the connection normally.
func (s *basicSession) Run(ctx context.Context) error {
	if err := s.PauseShutdown(); err != nil {
		return s.DLogErrorf("Run() failed: %s", err)
	}
	s.ShutdownOnContext(ctx)
	s.ResumeShutdown()

	err := s.loop()
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		s.DLogf("session failed: %s", err)
	}
	s.terminate(err)
	return s.Shutdown(err)
}

func (s *basicSession) loop() error {
	data, err := s.readHandshake()
	if err != nil {
		return err
	}
	if err := s.protocol.handshake(data); err != nil {
		return err
	}
	s.DLogf("handshake complete")

	for {
		m, err := s.conn.ReadMessage()
		if err != nil {
			if s.IsStartedShutdown() {
				return nil
			}
			return err
		}
		if s.State() != StateActive {
			// terminated while the frame was in flight; the proxy is gone
			return nil
		}
		if m.Type == TextMessage {
			return ErrUnexpectedText
		}
		atomic.AddInt64(&s.frames, 1)
		if err := s.protocol.dispatch(m.Data); err != nil {
			if !errors.Is(err, wire.ErrUnknownOpcode) {
				return err
			}
			s.DLogf("%s", err)
			if err := s.outbox.Send(Text(wire.NotImplemented)); err != nil {
				return err
			}
		}
	}
}

func (s *basicSession) readHandshake() ([]byte, error) {
	timedOut := make(chan struct{})
	if s.opts.HandshakeTimeout > 0 {
		timer := time.AfterFunc(s.opts.HandshakeTimeout, func() {
			close(timedOut)
			s.conn.StartShutdown(ErrHandshakeTimeout)
		})
		defer timer.Stop()
	}
	m, err := s.conn.ReadMessage()
	if err != nil {
		select {
		case <-timedOut:
			return nil, ErrHandshakeTimeout
		default:
		}
		return nil, err
	}
	if m.Type == TextMessage {
		return nil, ErrUnexpectedText
	}
	return m.Data, nil
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (s *basicSession) HandleOnceShutdown(completionErr error) error {
	s.terminate(completionErr)
	if !s.outbox.Flush(s.opts.DrainTimeout) {
		s.DLogf("gave up flushing %d queued frames", s.outbox.Len())
	}
	err := s.conn.Close()
	s.ILogf("closed after %d frames (sent %s, received %s)",
		atomic.LoadInt64(&s.frames),
		sizestr.ToString(s.conn.GetNumBytesWritten()),
		sizestr.ToString(s.conn.GetNumBytesRead()))
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
