package broker

import (
	"github.com/sammck-go/wsgateway/pkg/wire"
)

// ClientConn is the broker's proxy for one connected client. Every
// operation replies to the client with exactly one Sync event before
// returning, and returns the same result to the caller. After Unregister
// every operation fails softly and leaves the registries untouched.
type ClientConn struct {
	broker     *Broker
	peer       ClientPeer
	registered bool
}

func (c *ClientConn) String() string {
	return c.peer.String()
}

// ListServices replies with the online service directory
func (c *ClientConn) ListServices() []wire.ServiceInfo {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !c.registered {
		c.deliver(wire.ServiceList{Services: []wire.ServiceInfo{}})
		return nil
	}
	infos := b.serviceInfos()
	c.deliver(wire.ServiceList{Services: infos})
	return infos
}

// Wait registers interest in online/offline transitions of name and
// reports whether it is online now. Waiting twice is a no-op.
func (c *ClientConn) Wait(name string) bool {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !c.registered {
		c.deliver(wire.BoolResult{OK: false})
		return false
	}
	_, online := b.services[name]
	if b.waiters.Add(name, c) {
		b.traces.Add(c, waitLink(name))
	}
	c.deliver(wire.BoolResult{OK: online})
	return online
}

// CancelWait drops a wait registration and reports whether one existed
func (c *ClientConn) CancelWait(name string) bool {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := b.waiters.Remove(name, c)
	if ok {
		b.traces.Remove(c, waitLink(name))
	}
	c.deliver(wire.BoolResult{OK: ok})
	return ok
}

// Call forwards a request to service name. It returns the assigned call id,
// or false if the service is not online.
func (c *ClientConn) Call(name, key string, payload []byte) (uint32, bool) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	svc, ok := b.services[name]
	if !ok || !c.registered {
		b.metrics.callsNotFound.Inc()
		c.deliver(wire.CallResult{Found: false})
		return 0, false
	}
	id := svc.call(key, payload, c)
	b.metrics.calls.Inc()
	c.deliver(wire.CallResult{Found: true, ID: id})
	return id, true
}

// CancelCall cancels one of the client's own pending calls. The service is
// only told when a call was actually removed.
func (c *ClientConn) CancelCall(name string, id uint32) bool {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := false
	if svc, found := b.services[name]; found {
		ok = svc.cancel(id, c)
	}
	if ok {
		b.metrics.cancels.Inc()
	}
	c.deliver(wire.BoolResult{OK: ok})
	return ok
}

// Subscribe adds the client to the subscribers of key on service name.
// It fails if the service is not online.
func (c *ClientConn) Subscribe(name, key string) bool {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := false
	if svc, found := b.services[name]; found && c.registered {
		// a repeated subscribe is a no-op that still succeeds
		svc.subscribe(key, c)
		ok = true
	}
	c.deliver(wire.BoolResult{OK: ok})
	return ok
}

// Unsubscribe removes a subscription and reports whether it existed
func (c *ClientConn) Unsubscribe(name, key string) bool {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := false
	if svc, found := b.services[name]; found {
		ok = svc.unsubscribe(key, c)
	}
	c.deliver(wire.BoolResult{OK: ok})
	return ok
}

// Unregister removes every trace of the client: pending calls are cancelled
// at their services, subscriptions and wait registrations are dropped.
// Calling Unregister more than once has no further effect.
func (c *ClientConn) Unregister() {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !c.registered {
		return
	}
	c.registered = false
	for _, link := range b.traces.Values(c) {
		switch link.Kind {
		case LinkCall:
			if svc, ok := b.services[link.Name]; ok {
				svc.cancel(link.ID, c)
			}
		case LinkSubscription:
			if svc, ok := b.services[link.Name]; ok {
				svc.subscribers.Remove(link.Key, c)
			}
		case LinkWait:
			b.waiters.Remove(link.Name, c)
		}
	}
	b.traces.RemoveKey(c)
	delete(b.clients, c)
	b.DLogf("client disconnected %s", c.peer)
}

// deliver hands ev to the peer. Caller holds the broker lock.
func (c *ClientConn) deliver(ev wire.ClientEvent) {
	if err := c.peer.Deliver(ev); err != nil {
		c.broker.DLogf("client %s: deliver failed: %s", c.peer, err)
	}
}
