package broker

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/sammck-go/wsgateway/pkg/multimap"
	"github.com/sammck-go/wsgateway/pkg/wire"
)

type pendingCall struct {
	client  *ClientConn
	key     string
	started time.Time
}

// ServiceConn is the broker's proxy for one registered service. It owns
// the service's pending-call table and subscriber set. Fields are guarded
// by the owning Broker's mutex.
type ServiceConn struct {
	broker  *Broker
	name    string
	typ     string
	version string
	peer    ServicePeer

	registered  bool
	pending     map[uint32]pendingCall
	subscribers *multimap.MultiMap[string, *ClientConn]
}

func newServiceConn(b *Broker, name, typ, version string, peer ServicePeer) *ServiceConn {
	return &ServiceConn{
		broker:      b,
		name:        name,
		typ:         typ,
		version:     version,
		peer:        peer,
		pending:     make(map[uint32]pendingCall),
		subscribers: multimap.New[string, *ClientConn](),
	}
}

// Name returns the registered service name
func (s *ServiceConn) Name() string {
	return s.name
}

// Info returns the service's directory entry
func (s *ServiceConn) Info() wire.ServiceInfo {
	return wire.ServiceInfo{Name: s.name, Type: s.typ, Version: s.version}
}

// Response resolves pending call id with a payload. Unknown ids are
// dropped and false is returned.
func (s *ServiceConn) Response(id uint32, payload []byte) bool {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	pc, ok := s.resolve(id)
	if !ok {
		b.metrics.droppedResults.Inc()
		b.DLogf("service %s: dropping response for unknown call %d", s.name, id)
		return false
	}
	b.metrics.responses.Inc()
	pc.client.deliver(wire.Response{Name: s.name, ID: id, Payload: payload})
	return true
}

// Exception resolves pending call id with an error message. Unknown ids are
// dropped and false is returned.
func (s *ServiceConn) Exception(id uint32, message string) bool {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	pc, ok := s.resolve(id)
	if !ok {
		b.metrics.droppedResults.Inc()
		b.DLogf("service %s: dropping exception for unknown call %d", s.name, id)
		return false
	}
	b.metrics.exceptions.Inc()
	pc.client.deliver(wire.Exception{Name: s.name, ID: id, Message: message})
	return true
}

// Broadcast sends an event to every subscriber of key and returns the
// number of clients it was delivered to
func (s *ServiceConn) Broadcast(key string, payload []byte) int {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := s.subscribers.Values(key)
	for _, client := range subs {
		client.deliver(wire.Event{Name: s.name, Key: key, Payload: payload})
	}
	b.metrics.broadcasts.Inc()
	b.metrics.events.Add(len(subs))
	return len(subs)
}

// Unregister takes the service offline. Clients with pending calls or
// subscriptions are told they were cancelled and lose those links; waiting
// clients are told the service is offline and keep waiting. Calling
// Unregister more than once has no further effect.
func (s *ServiceConn) Unregister() {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !s.registered {
		return
	}
	s.registered = false
	delete(b.services, s.name)

	for _, e := range b.traces.All() {
		link := e.Value
		if link.Name != s.name {
			continue
		}
		client := e.Key
		switch link.Kind {
		case LinkCall:
			b.traces.Remove(client, link)
			client.deliver(wire.CallCancelled{Name: s.name, ID: link.ID})
		case LinkSubscription:
			b.traces.Remove(client, link)
			client.deliver(wire.SubscriptionCancelled{Name: s.name, Key: link.Key})
		case LinkWait:
			client.deliver(wire.WaitStatus{Name: s.name, Online: false})
		}
	}
	b.metrics.cancelledByOffline.Add(len(s.pending))
	s.pending = make(map[uint32]pendingCall)
	s.subscribers.Clear()
	b.ILogf("unregister service %s", s.name)
}

// nextID picks a random id that is not in use by a pending call.
// Caller holds the broker lock.
func (s *ServiceConn) nextID() uint32 {
	var buf [4]byte
	for {
		_, err := io.ReadFull(s.broker.idSource, buf[:])
		s.broker.PanicOnError(err)
		id := binary.LittleEndian.Uint32(buf[:])
		if _, taken := s.pending[id]; !taken {
			return id
		}
	}
}

// call records a pending call for client and forwards the request to the
// service. Caller holds the broker lock.
func (s *ServiceConn) call(key string, payload []byte, client *ClientConn) uint32 {
	id := s.nextID()
	s.pending[id] = pendingCall{client: client, key: key, started: time.Now()}
	s.broker.traces.Add(client, callLink(s.name, key, id))
	s.send(wire.Request{Key: key, ID: id, Payload: payload})
	return id
}

// cancel drops pending call id if client owns it and tells the service.
// Caller holds the broker lock.
func (s *ServiceConn) cancel(id uint32, client *ClientConn) bool {
	pc, ok := s.pending[id]
	if !ok || pc.client != client {
		return false
	}
	delete(s.pending, id)
	s.broker.traces.Remove(client, callLink(s.name, pc.key, id))
	s.send(wire.CancelRequest{Key: pc.key, ID: id})
	return true
}

// resolve removes pending call id and its trace link.
// Caller holds the broker lock.
func (s *ServiceConn) resolve(id uint32) (pendingCall, bool) {
	pc, ok := s.pending[id]
	if !ok {
		return pc, false
	}
	delete(s.pending, id)
	s.broker.traces.Remove(pc.client, callLink(s.name, pc.key, id))
	s.broker.metrics.callDuration.UpdateDuration(pc.started)
	return pc, true
}

func (s *ServiceConn) subscribe(key string, client *ClientConn) bool {
	if !s.subscribers.Add(key, client) {
		return false
	}
	s.broker.traces.Add(client, subscriptionLink(s.name, key))
	return true
}

func (s *ServiceConn) unsubscribe(key string, client *ClientConn) bool {
	if !s.subscribers.Remove(key, client) {
		return false
	}
	s.broker.traces.Remove(client, subscriptionLink(s.name, key))
	return true
}

func (s *ServiceConn) send(cmd wire.ServiceCommand) {
	if err := s.peer.Deliver(cmd); err != nil {
		s.broker.DLogf("service %s: deliver failed: %s", s.name, err)
	}
}
