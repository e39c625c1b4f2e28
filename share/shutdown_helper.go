package gwshare

import (
	"context"
	"sync"
)

// OnceActivateHandler is called exactly once, with shutdown paused, to
// activate an object. A non-nil return aborts activation and starts shutdown
// with that error.
type OnceActivateHandler func() error

// OnceShutdownHandler must be implemented by the object managed by ShutdownHelper
type OnceShutdownHandler interface {
	// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
	// as an advisory completion value, actually shut down, then return the real completion value.
	HandleOnceShutdown(completionErr error) error
}

// AsyncShutdowner is implemented by objects that can be shut down
// asynchronously and waited on
type AsyncShutdowner interface {
	// StartShutdown schedules asynchronous shutdown of the object. If the object
	// has already been scheduled for shutdown, it has no effect.
	StartShutdown(completionErr error)

	// ShutdownDoneChan returns a chan that is closed after shutdown is complete.
	ShutdownDoneChan() <-chan struct{}

	// WaitShutdown blocks until the object is completely shut down, and
	// returns the final completion status
	WaitShutdown() error
}

// ShutdownHelper is a base that manages clean asynchronous object shutdown for an
// object that implements OnceShutdownHandler. Shutdown runs in three steps:
// the handler, then the registered children, then the wait group.
type ShutdownHelper struct {
	Logger

	// Lock is a general-purpose mutex for this helper; it may be used
	// by derived objects as well
	Lock sync.Mutex

	shutdownHandler OnceShutdownHandler

	// shutdownPauseCount is the number of ResumeShutdown calls still owed
	// before shutdown can begin
	shutdownPauseCount  int
	isActivated         bool
	isScheduledShutdown bool
	isStartedShutdown   bool
	shutdownErr         error

	shutdownStartedChan     chan struct{}
	shutdownHandlerDoneChan chan struct{}
	shutdownDoneChan        chan struct{}

	// wg counts children that must finish before shutdown is complete
	wg sync.WaitGroup
}

// InitShutdownHelper initializes a new ShutdownHelper in place
func (h *ShutdownHelper) InitShutdownHelper(logger Logger, shutdownHandler OnceShutdownHandler) {
	h.Logger = logger
	h.shutdownHandler = shutdownHandler
	h.shutdownStartedChan = make(chan struct{})
	h.shutdownHandlerDoneChan = make(chan struct{})
	h.shutdownDoneChan = make(chan struct{})
}

// asyncDoStartedShutdown runs the shutdown sequence in the background. It must
// be called exactly once, after isStartedShutdown has been set.
func (h *ShutdownHelper) asyncDoStartedShutdown() {
	h.TLogf("->shutdownStarted")
	close(h.shutdownStartedChan)
	go func() {
		err := h.shutdownHandler.HandleOnceShutdown(h.shutdownErr)
		h.Lock.Lock()
		h.shutdownErr = err
		h.Lock.Unlock()
		close(h.shutdownHandlerDoneChan)
		h.wg.Wait()
		h.TLogf("->shutdownDone")
		close(h.shutdownDoneChan)
	}()
}

// PauseShutdown prevents shutdown from starting until a matching
// ResumeShutdown. It fails if shutdown has already started.
func (h *ShutdownHelper) PauseShutdown() error {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	if h.isStartedShutdown {
		return h.Errorf("Shutdown already started; cannot pause")
	}
	h.shutdownPauseCount++
	return nil
}

// ResumeShutdown undoes one PauseShutdown, starting a scheduled shutdown
// when the count reaches zero
func (h *ShutdownHelper) ResumeShutdown() {
	h.Lock.Lock()
	if h.shutdownPauseCount < 1 {
		h.Lock.Unlock()
		h.Panicf("ResumeShutdown before PauseShutdown")
		return
	}
	h.shutdownPauseCount--
	doShutdownNow := h.shutdownPauseCount == 0 && h.isScheduledShutdown && !h.isStartedShutdown
	if doShutdownNow {
		h.isStartedShutdown = true
	}
	h.Lock.Unlock()

	if doShutdownNow {
		h.asyncDoStartedShutdown()
	}
}

// DoOnceActivate runs onceActivateHandler with shutdown paused and marks the
// object activated if it succeeds. If the handler fails, or shutdown had
// already started, shutdown proceeds and an error is returned; with
// waitOnFail the call also waits for shutdown to finish.
func (h *ShutdownHelper) DoOnceActivate(onceActivateHandler OnceActivateHandler, waitOnFail bool) error {
	h.Lock.Lock()
	if h.isActivated {
		h.Lock.Unlock()
		return nil
	}
	if h.isStartedShutdown {
		h.Lock.Unlock()
		var err error
		if waitOnFail {
			err = h.WaitShutdown()
		}
		if err == nil {
			err = h.Errorf("Shutdown already started; cannot Activate")
		}
		return err
	}
	h.shutdownPauseCount++
	h.Lock.Unlock()

	err := onceActivateHandler()
	if err == nil {
		h.Lock.Lock()
		h.isActivated = true
		h.Lock.Unlock()
	} else {
		h.StartShutdown(err)
	}
	h.ResumeShutdown()
	if err != nil && waitOnFail {
		h.WaitShutdown()
	}
	return err
}

// ShutdownOnContext begins background monitoring of ctx and starts
// shutdown with the context's error when it is done
func (h *ShutdownHelper) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.shutdownStartedChan:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// IsStartedShutdown returns true if shutdown has begun. It continues to return true after shutdown
// is complete
func (h *ShutdownHelper) IsStartedShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.isStartedShutdown
}

// ShutdownStartedChan returns a channel that will be closed as soon as shutdown is initiated
func (h *ShutdownHelper) ShutdownStartedChan() <-chan struct{} {
	return h.shutdownStartedChan
}

// ShutdownDoneChan returns a channel that will be closed after shutdown is done
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} {
	return h.shutdownDoneChan
}

// WaitShutdown waits for the shutdown to complete, then returns the shutdown status.
// It does not initiate shutdown.
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.shutdownDoneChan
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.shutdownErr
}

// Shutdown performs a synchronous shutdown and returns the final status
func (h *ShutdownHelper) Shutdown(completionErr error) error {
	h.StartShutdown(completionErr)
	return h.WaitShutdown()
}

// StartShutdown schedules asynchronous shutdown of the object. Only the
// first call has any effect; completionErr is the advisory status handed to
// HandleOnceShutdown. If shutdown is paused, it begins when the last pause
// is resumed.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	var doShutdownNow bool
	h.Lock.Lock()
	if !h.isScheduledShutdown {
		h.shutdownErr = completionErr
		h.isScheduledShutdown = true
		doShutdownNow = h.shutdownPauseCount == 0
		h.isStartedShutdown = doShutdownNow
	}
	h.Lock.Unlock()

	if doShutdownNow {
		h.asyncDoStartedShutdown()
	}
}

// Close shuts down with an advisory completion status of nil, and returns
// the final completion status
func (h *ShutdownHelper) Close() error {
	return h.Shutdown(nil)
}

// AddShutdownChild registers a child that is shut down after
// HandleOnceShutdown returns and must finish before this object's shutdown
// is complete. A child that finishes on its own is simply released.
func (h *ShutdownHelper) AddShutdownChild(child AsyncShutdowner) {
	h.Lock.Lock()
	if h.isStartedShutdown {
		err := h.shutdownErr
		h.Lock.Unlock()
		child.StartShutdown(err)
		return
	}
	h.wg.Add(1)
	h.Lock.Unlock()
	go func() {
		defer h.wg.Done()
		select {
		case <-child.ShutdownDoneChan():
		case <-h.shutdownHandlerDoneChan:
			h.Lock.Lock()
			err := h.shutdownErr
			h.Lock.Unlock()
			child.StartShutdown(err)
			child.WaitShutdown()
		}
	}()
}
