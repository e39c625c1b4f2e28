package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sammck-go/wsgateway/pkg/session"
	"github.com/sammck-go/wsgateway/pkg/wire"
	gwshare "github.com/sammck-go/wsgateway/share"
)

var (
	// ErrServiceNotFound is returned when calling a service that is not online
	ErrServiceNotFound = errors.New("service not found")
	// ErrCallCancelled is the result of a call that was cancelled, either by
	// the caller or because the service went offline
	ErrCallCancelled = errors.New("call cancelled")
)

// RemoteError is the result of a call the service answered with an exception
type RemoteError struct {
	Service string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// EventHandler receives broadcasts for a subscription. Handlers run on the
// client's read goroutine and must not wait on Client operations.
type EventHandler func(payload []byte)

// Call is an outstanding remote call
type Call struct {
	Service string
	ID      uint32

	once    sync.Once
	done    chan struct{}
	payload []byte
	err     error
}

func newCall(service string, id uint32) *Call {
	return &Call{Service: service, ID: id, done: make(chan struct{})}
}

func (c *Call) complete(payload []byte, err error) {
	c.once.Do(func() {
		c.payload = payload
		c.err = err
		close(c.done)
	})
}

// Done returns a channel that is closed when the call has a result
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result waits for the call's response payload. A service exception is
// returned as a *RemoteError.
func (c *Call) Result(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return c.payload, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type callKey struct {
	service string
	id      uint32
}

type subKey struct {
	service string
	key     string
}

// syncWaiter receives the next Sync reply. onReply, if set, runs on the
// read goroutine before any later frame is processed.
type syncWaiter struct {
	ch      chan wire.ClientEvent
	onReply func(wire.ClientEvent)
}

// Client is a connection to the gateway's client listener
type Client struct {
	gwshare.ShutdownHelper
	conn  session.Conn
	codec *wire.Codec

	// writeMu keeps request order and waiter order identical
	writeMu sync.Mutex

	mu                sync.Mutex
	waiters           []*syncWaiter
	calls             map[callKey]*Call
	subs              map[subKey]EventHandler
	onWait            func(service string, online bool)
	onSubscriptionEnd func(service, key string)
}

// Dial connects and handshakes with a gateway
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	codec, err := cfg.codec()
	if err != nil {
		return nil, err
	}
	logger := cfg.logger("client")
	conn, err := dial(ctx, logger, &cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:  conn,
		codec: codec,
		calls: make(map[callKey]*Call),
		subs:  make(map[subKey]EventHandler),
	}
	c.InitShutdownHelper(logger, c)

	hs, err := codec.EncodeClientHandshake(wire.ClientHandshake{Magic: wire.ClientMagic, Version: wire.ClientVersion})
	if err == nil {
		err = conn.WriteMessage(session.Binary(hs))
	}
	if err == nil {
		err = readAck(ctx, conn, codec)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.DLogf("Connected to %s", conn)
	go c.readLoop()
	return c, nil
}

// OnWait sets the handler for online/offline transitions of waited services
func (c *Client) OnWait(f func(service string, online bool)) {
	c.mu.Lock()
	c.onWait = f
	c.mu.Unlock()
}

// OnSubscriptionEnd sets the handler called when a subscription is dropped
// because its service went offline
func (c *Client) OnSubscriptionEnd(f func(service, key string)) {
	c.mu.Lock()
	c.onSubscriptionEnd = f
	c.mu.Unlock()
}

// request sends req and waits for its Sync reply
func (c *Client) request(ctx context.Context, req wire.ClientRequest, onReply func(wire.ClientEvent)) (wire.ClientEvent, error) {
	data, err := c.codec.EncodeClientRequest(req)
	if err != nil {
		return nil, err
	}
	w := &syncWaiter{ch: make(chan wire.ClientEvent, 1), onReply: onReply}

	c.writeMu.Lock()
	if c.IsStartedShutdown() {
		c.writeMu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	err = c.conn.WriteMessage(session.Binary(data))
	c.writeMu.Unlock()
	if err != nil {
		c.StartShutdown(err)
		return nil, err
	}

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ShutdownStartedChan():
		return nil, ErrClosed
	}
}

func (c *Client) requestBool(ctx context.Context, req wire.ClientRequest) (bool, error) {
	ev, err := c.request(ctx, req, nil)
	if err != nil {
		return false, err
	}
	res, ok := ev.(wire.BoolResult)
	if !ok {
		return false, fmt.Errorf("unexpected reply %T to %T", ev, req)
	}
	return res.OK, nil
}

// ListServices returns the services currently online
func (c *Client) ListServices(ctx context.Context) ([]wire.ServiceInfo, error) {
	ev, err := c.request(ctx, wire.GetServiceList{}, nil)
	if err != nil {
		return nil, err
	}
	list, ok := ev.(wire.ServiceList)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %T to service list", ev)
	}
	return list.Services, nil
}

// Wait reports whether service is online and asks to be told of future
// transitions through the OnWait handler
func (c *Client) Wait(ctx context.Context, service string) (bool, error) {
	return c.requestBool(ctx, wire.WaitService{Name: service})
}

// CancelWait stops transition notifications for service
func (c *Client) CancelWait(ctx context.Context, service string) (bool, error) {
	return c.requestBool(ctx, wire.CancelWaitService{Name: service})
}

// Call invokes method key on service. It returns once the gateway has
// accepted the call; use the returned Call to wait for the result.
func (c *Client) Call(ctx context.Context, service, key string, payload []byte) (*Call, error) {
	var call *Call
	ev, err := c.request(ctx, wire.CallService{Name: service, Key: key, Payload: payload},
		func(ev wire.ClientEvent) {
			res, ok := ev.(wire.CallResult)
			if !ok || !res.Found {
				return
			}
			call = newCall(service, res.ID)
			c.mu.Lock()
			c.calls[callKey{service, res.ID}] = call
			c.mu.Unlock()
		})
	if err != nil {
		return nil, err
	}
	res, ok := ev.(wire.CallResult)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %T to call", ev)
	}
	if !res.Found {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
	}
	return call, nil
}

// Invoke calls key on service and waits for the result
func (c *Client) Invoke(ctx context.Context, service, key string, payload []byte) ([]byte, error) {
	call, err := c.Call(ctx, service, key, payload)
	if err != nil {
		return nil, err
	}
	return call.Result(ctx)
}

// Cancel abandons a pending call. It reports whether the gateway still had
// the call pending; if so the call completes with ErrCallCancelled.
func (c *Client) Cancel(ctx context.Context, call *Call) (bool, error) {
	ok, err := c.requestBool(ctx, wire.CancelCallService{Name: call.Service, ID: call.ID})
	if err != nil {
		return false, err
	}
	if ok {
		c.mu.Lock()
		delete(c.calls, callKey{call.Service, call.ID})
		c.mu.Unlock()
		call.complete(nil, ErrCallCancelled)
	}
	return ok, nil
}

// Subscribe registers handler for broadcasts of key by service. It fails
// softly, returning false, if the service is not online.
func (c *Client) Subscribe(ctx context.Context, service, key string, handler EventHandler) (bool, error) {
	k := subKey{service, key}
	c.mu.Lock()
	c.subs[k] = handler
	c.mu.Unlock()
	ok, err := c.requestBool(ctx, wire.SubscribeService{Name: service, Key: key})
	if err != nil || !ok {
		c.mu.Lock()
		delete(c.subs, k)
		c.mu.Unlock()
	}
	return ok, err
}

// Unsubscribe drops a subscription
func (c *Client) Unsubscribe(ctx context.Context, service, key string) (bool, error) {
	c.mu.Lock()
	delete(c.subs, subKey{service, key})
	c.mu.Unlock()
	return c.requestBool(ctx, wire.UnsubscribeService{Name: service, Key: key})
}

func (c *Client) readLoop() {
	for {
		m, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			c.StartShutdown(err)
			return
		}
		if m.Type == session.TextMessage {
			c.WLogf("gateway: %s", m.Data)
			continue
		}
		ev, err := c.codec.DecodeClientEvent(m.Data)
		if err != nil {
			c.StartShutdown(c.DLogErrorf("bad frame from gateway: %s", err))
			return
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev wire.ClientEvent) {
	if ev.ClientSignature() == wire.SigSync {
		c.mu.Lock()
		if len(c.waiters) == 0 {
			c.mu.Unlock()
			c.WLogf("unsolicited reply %T", ev)
			return
		}
		w := c.waiters[0]
		c.waiters = c.waiters[1:]
		c.mu.Unlock()
		if w.onReply != nil {
			w.onReply(ev)
		}
		w.ch <- ev
		return
	}

	switch e := ev.(type) {
	case wire.Response:
		if call := c.takeCall(e.Name, e.ID); call != nil {
			call.complete(e.Payload, nil)
		}
	case wire.Exception:
		if call := c.takeCall(e.Name, e.ID); call != nil {
			call.complete(nil, &RemoteError{Service: e.Name, Message: e.Message})
		}
	case wire.CallCancelled:
		if call := c.takeCall(e.Name, e.ID); call != nil {
			call.complete(nil, ErrCallCancelled)
		}
	case wire.Event:
		c.mu.Lock()
		handler := c.subs[subKey{e.Name, e.Key}]
		c.mu.Unlock()
		if handler != nil {
			handler(e.Payload)
		}
	case wire.WaitStatus:
		c.mu.Lock()
		f := c.onWait
		c.mu.Unlock()
		if f != nil {
			f(e.Name, e.Online)
		}
	case wire.SubscriptionCancelled:
		c.mu.Lock()
		delete(c.subs, subKey{e.Name, e.Key})
		f := c.onSubscriptionEnd
		c.mu.Unlock()
		if f != nil {
			f(e.Name, e.Key)
		}
	}
}

func (c *Client) takeCall(service string, id uint32) *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := callKey{service, id}
	call := c.calls[k]
	delete(c.calls, k)
	return call
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (c *Client) HandleOnceShutdown(completionErr error) error {
	err := c.conn.Close()
	c.mu.Lock()
	calls := c.calls
	c.calls = make(map[callKey]*Call)
	c.mu.Unlock()
	for _, call := range calls {
		call.complete(nil, ErrClosed)
	}
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
