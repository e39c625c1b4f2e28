// Package broker holds the rendezvous state of the gateway: which services
// are online, which clients are connected, and every relationship (pending
// call, subscription, wait) a client holds against a service name.
//
// All state lives behind one mutex owned by the Broker. Proxy operations
// deliver outbound messages while holding it, so peers must implement
// Deliver as a non-blocking enqueue; the network write happens elsewhere.
// Holding the lock while enqueueing is what orders a Sync reply before any
// notification caused by a later state change.
package broker

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sammck-go/wsgateway/pkg/multimap"
	"github.com/sammck-go/wsgateway/pkg/wire"
	gwshare "github.com/sammck-go/wsgateway/share"
)

// ErrNameCollision is returned when a service registers a name that is
// already online
var ErrNameCollision = errors.New("service name already registered")

// ClientPeer is the outbound side of a client connection
type ClientPeer interface {
	fmt.Stringer
	// Deliver queues ev for sending. It must not block on network I/O.
	Deliver(ev wire.ClientEvent) error
}

// ServicePeer is the outbound side of a service connection
type ServicePeer interface {
	fmt.Stringer
	// Deliver queues cmd for sending. It must not block on network I/O.
	Deliver(cmd wire.ServiceCommand) error
}

// Broker owns the process-wide registries. The zero value is not usable;
// create one with New.
type Broker struct {
	gwshare.Logger

	mu       sync.Mutex
	services map[string]*ServiceConn
	waiters  *multimap.MultiMap[string, *ClientConn]
	clients  map[*ClientConn]struct{}
	// traces is the reverse index of every relationship a client holds
	traces *multimap.MultiMap[*ClientConn, Link]

	idSource io.Reader
	metrics  *Metrics
}

// Option customizes a Broker
type Option func(*Broker)

// WithIDSource replaces crypto/rand as the source of call ids
func WithIDSource(r io.Reader) Option {
	return func(b *Broker) {
		b.idSource = r
	}
}

// New creates an empty Broker
func New(logger gwshare.Logger, opts ...Option) *Broker {
	b := &Broker{
		Logger:   logger,
		services: make(map[string]*ServiceConn),
		waiters:  multimap.New[string, *ClientConn](),
		clients:  make(map[*ClientConn]struct{}),
		traces:   multimap.New[*ClientConn, Link](),
		idSource: rand.Reader,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics = newMetrics(b)
	return b
}

// Metrics returns the broker's metric set
func (b *Broker) Metrics() *Metrics {
	return b.metrics
}

// RegisterService brings a service online under name and tells every
// client waiting on that name. It fails with ErrNameCollision if the name
// is taken, leaving the existing registration untouched.
func (b *Broker) RegisterService(name, typ, version string, peer ServicePeer) (*ServiceConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.services[name]; ok {
		b.metrics.collisions.Inc()
		return nil, fmt.Errorf("%w: %q", ErrNameCollision, name)
	}
	s := newServiceConn(b, name, typ, version, peer)
	s.registered = true
	b.services[name] = s
	b.metrics.registrations.Inc()
	b.ILogf("register service %s (%s: %s) from %s", name, typ, version, peer)

	for _, client := range b.waiters.Values(name) {
		client.deliver(wire.WaitStatus{Name: name, Online: true})
	}
	return s, nil
}

// RegisterClient adds a connected client
func (b *Broker) RegisterClient(peer ClientPeer) *ClientConn {
	c := &ClientConn{broker: b, peer: peer, registered: true}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	b.DLogf("client connected %s", peer)
	return c
}

// Services returns a snapshot of the online services, sorted by name
func (b *Broker) Services() []wire.ServiceInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serviceInfos()
}

func (b *Broker) serviceInfos() []wire.ServiceInfo {
	infos := make([]wire.ServiceInfo, 0, len(b.services))
	for _, s := range b.services {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// IsOnline reports whether a service is registered under name
func (b *Broker) IsOnline(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.services[name]
	return ok
}

// Stats is a point-in-time census of the registries
type Stats struct {
	Services      int
	Clients       int
	PendingCalls  int
	Subscriptions int
	Waits         int
	Links         int
}

// Stats returns a census of the registries
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Stats{
		Services: len(b.services),
		Clients:  len(b.clients),
		Waits:    b.waiters.Len(),
		Links:    b.traces.Len(),
	}
	for _, s := range b.services {
		st.PendingCalls += len(s.pending)
		st.Subscriptions += s.subscribers.Len()
	}
	return st
}
