package broker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammck-go/wsgateway/pkg/wire"
	gwshare "github.com/sammck-go/wsgateway/share"
)

type fakeClient struct {
	name   string
	mu     sync.Mutex
	events []wire.ClientEvent
}

func (f *fakeClient) String() string { return f.name }

func (f *fakeClient) Deliver(ev wire.ClientEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

// take returns and clears the recorded events
func (f *fakeClient) take() []wire.ClientEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.events
	f.events = nil
	return evs
}

type fakeService struct {
	name     string
	mu       sync.Mutex
	commands []wire.ServiceCommand
}

func (f *fakeService) String() string { return f.name }

func (f *fakeService) Deliver(cmd wire.ServiceCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeService) take() []wire.ServiceCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmds := f.commands
	f.commands = nil
	return cmds
}

type closedPeer struct{}

func (closedPeer) String() string                 { return "closed" }
func (closedPeer) Deliver(wire.ClientEvent) error { return errors.New("peer closed") }

func newTestBroker(opts ...Option) *Broker {
	return New(gwshare.NewLogger("broker", gwshare.LogLevelError), opts...)
}

func idSource(ids ...uint32) io.Reader {
	var buf bytes.Buffer
	for _, id := range ids {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], id)
		buf.Write(b[:])
	}
	return &buf
}

func registerEcho(t *testing.T, b *Broker) (*ServiceConn, *fakeService) {
	t.Helper()
	peer := &fakeService{name: "echo-peer"}
	svc, err := b.RegisterService("echo", "demo", "1.0", peer)
	require.NoError(t, err)
	return svc, peer
}

// assertConsistent checks that the trace table and the relationship tables
// describe exactly the same set of relationships
func assertConsistent(t *testing.T, b *Broker) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	want := make(map[string]bool)
	for name, svc := range b.services {
		for id, pc := range svc.pending {
			want[fmt.Sprintf("%p call %s %s %d", pc.client, name, pc.key, id)] = true
		}
		for _, e := range svc.subscribers.All() {
			want[fmt.Sprintf("%p subscription %s %s %d", e.Value, name, e.Key, 0)] = true
		}
	}
	for _, e := range b.waiters.All() {
		want[fmt.Sprintf("%p wait %s %s %d", e.Value, e.Key, "", 0)] = true
	}

	got := make(map[string]bool)
	for _, e := range b.traces.All() {
		got[fmt.Sprintf("%p %s %s %s %d", e.Key, e.Value.Kind, e.Value.Name, e.Value.Key, e.Value.ID)] = true
	}
	assert.Equal(t, want, got)
}

func TestRegisterServiceCollision(t *testing.T) {
	b := newTestBroker()
	first, _ := registerEcho(t, b)

	_, err := b.RegisterService("echo", "other", "2.0", &fakeService{name: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNameCollision))

	infos := b.Services()
	require.Len(t, infos, 1)
	assert.Equal(t, wire.ServiceInfo{Name: "echo", Type: "demo", Version: "1.0"}, infos[0])
	assert.Same(t, first, b.services["echo"])
}

func TestListServicesSorted(t *testing.T) {
	b := newTestBroker()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := b.RegisterService(name, "t", "v", &fakeService{name: name})
		require.NoError(t, err)
	}
	peer := &fakeClient{name: "a"}
	c := b.RegisterClient(peer)

	infos := c.ListServices()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
	assert.Equal(t, []wire.ClientEvent{wire.ServiceList{Services: infos}}, peer.take())
}

func TestWaitTransitions(t *testing.T) {
	b := newTestBroker()
	peer := &fakeClient{name: "a"}
	c := b.RegisterClient(peer)

	assert.False(t, c.Wait("echo"))
	assert.False(t, c.Wait("echo"), "second wait is a no-op")
	assert.Equal(t, []wire.ClientEvent{wire.BoolResult{OK: false}, wire.BoolResult{OK: false}}, peer.take())

	svc, _ := registerEcho(t, b)
	assert.Equal(t, []wire.ClientEvent{wire.WaitStatus{Name: "echo", Online: true}}, peer.take())

	svc.Unregister()
	svc.Unregister()
	assert.Equal(t, []wire.ClientEvent{wire.WaitStatus{Name: "echo", Online: false}}, peer.take())

	// the wait survives the service going away
	registerEcho(t, b)
	assert.Equal(t, []wire.ClientEvent{wire.WaitStatus{Name: "echo", Online: true}}, peer.take())
	assertConsistent(t, b)
}

func TestCancelWait(t *testing.T) {
	b := newTestBroker()
	peer := &fakeClient{name: "a"}
	c := b.RegisterClient(peer)

	assert.False(t, c.CancelWait("echo"))
	c.Wait("echo")
	assert.True(t, c.CancelWait("echo"))
	peer.take()

	registerEcho(t, b)
	assert.Empty(t, peer.take())
	assertConsistent(t, b)
}

func TestCallNotFound(t *testing.T) {
	b := newTestBroker()
	peer := &fakeClient{name: "a"}
	c := b.RegisterClient(peer)

	_, ok := c.Call("missing", "ping", []byte("x"))
	assert.False(t, ok)
	assert.Equal(t, []wire.ClientEvent{wire.CallResult{Found: false}}, peer.take())
	assert.Empty(t, b.traces.Values(c))
}

func TestCallCorrelation(t *testing.T) {
	b := newTestBroker()
	_, svcPeer := registerEcho(t, b)
	svc := b.services["echo"]

	peers := make([]*fakeClient, 8)
	ids := make([]uint32, len(peers))
	for i := range peers {
		peers[i] = &fakeClient{name: fmt.Sprintf("client-%d", i)}
		c := b.RegisterClient(peers[i])
		id, ok := c.Call("echo", "ping", []byte{byte(i)})
		require.True(t, ok)
		ids[i] = id
		assert.Equal(t, []wire.ClientEvent{wire.CallResult{Found: true, ID: id}}, peers[i].take())
	}
	assertConsistent(t, b)

	cmds := svcPeer.take()
	require.Len(t, cmds, len(peers))
	// answer in reverse order
	for i := len(cmds) - 1; i >= 0; i-- {
		req := cmds[i].(wire.Request)
		assert.Equal(t, "ping", req.Key)
		assert.True(t, svc.Response(req.ID, req.Payload))
	}
	for i, peer := range peers {
		assert.Equal(t, []wire.ClientEvent{wire.Response{Name: "echo", ID: ids[i], Payload: []byte{byte(i)}}}, peer.take())
	}
	assert.Equal(t, 0, b.Stats().PendingCalls)
	assert.Equal(t, 0, b.Stats().Links)
}

func TestConcurrentCalls(t *testing.T) {
	b := newTestBroker()
	_, svcPeer := registerEcho(t, b)
	svc := b.services["echo"]

	const n = 50
	peers := make([]*fakeClient, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		peers[i] = &fakeClient{name: fmt.Sprintf("client-%d", i)}
		c := b.RegisterClient(peers[i])
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := c.Call("echo", "ping", []byte(fmt.Sprint(i)))
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	cmds := svcPeer.take()
	require.Len(t, cmds, n)
	seen := make(map[uint32]bool)
	for _, cmd := range cmds {
		req := cmd.(wire.Request)
		assert.False(t, seen[req.ID], "duplicate id %d", req.ID)
		seen[req.ID] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Response(req.ID, req.Payload)
		}()
	}
	wg.Wait()

	for i, peer := range peers {
		evs := peer.take()
		require.Len(t, evs, 2)
		res := evs[1].(wire.Response)
		assert.Equal(t, evs[0].(wire.CallResult).ID, res.ID)
		assert.Equal(t, []byte(fmt.Sprint(i)), res.Payload)
	}
}

func TestExceptionResolvesCall(t *testing.T) {
	b := newTestBroker()
	svc, _ := registerEcho(t, b)
	peer := &fakeClient{name: "a"}
	c := b.RegisterClient(peer)

	id, _ := c.Call("echo", "fail", nil)
	peer.take()
	assert.True(t, svc.Exception(id, "boom"))
	assert.False(t, svc.Response(id, []byte("late")))
	assert.Equal(t, []wire.ClientEvent{wire.Exception{Name: "echo", ID: id, Message: "boom"}}, peer.take())
	assert.Equal(t, uint64(1), b.Metrics().DroppedResults())
	assertConsistent(t, b)
}

func TestCancelCall(t *testing.T) {
	b := newTestBroker()
	svc, svcPeer := registerEcho(t, b)
	peer := &fakeClient{name: "a"}
	c := b.RegisterClient(peer)

	id, _ := c.Call("echo", "slow", nil)
	svcPeer.take()
	peer.take()

	assert.True(t, c.CancelCall("echo", id))
	assert.Equal(t, []wire.ServiceCommand{wire.CancelRequest{Key: "slow", ID: id}}, svcPeer.take())

	// the late response is dropped
	assert.False(t, svc.Response(id, []byte("late")))
	assert.Equal(t, []wire.ClientEvent{wire.BoolResult{OK: true}}, peer.take())

	// a second cancel is a soft failure and the service hears nothing
	assert.False(t, c.CancelCall("echo", id))
	assert.Empty(t, svcPeer.take())
	assert.False(t, c.CancelCall("missing", id))
	assertConsistent(t, b)
}

func TestCancelOtherClientsCall(t *testing.T) {
	b := newTestBroker()
	svc, svcPeer := registerEcho(t, b)
	owner := &fakeClient{name: "owner"}
	other := &fakeClient{name: "other"}
	co := b.RegisterClient(owner)
	cx := b.RegisterClient(other)

	id, _ := co.Call("echo", "k", nil)
	svcPeer.take()
	assert.False(t, cx.CancelCall("echo", id))
	assert.Empty(t, svcPeer.take())

	assert.True(t, svc.Response(id, nil))
	evs := owner.take()
	assert.Equal(t, wire.Response{Name: "echo", ID: id}, evs[len(evs)-1])
}

func TestIDSkipsPendingValues(t *testing.T) {
	b := newTestBroker(WithIDSource(idSource(7, 7, 7, 9)))
	_, svcPeer := registerEcho(t, b)
	c := b.RegisterClient(&fakeClient{name: "a"})

	first, _ := c.Call("echo", "k", nil)
	second, _ := c.Call("echo", "k", nil)
	assert.Equal(t, uint32(7), first)
	assert.Equal(t, uint32(9), second)
	assert.Len(t, svcPeer.take(), 2)
}

func TestSubscribeAndBroadcast(t *testing.T) {
	b := newTestBroker()
	svc, _ := registerEcho(t, b)
	pa := &fakeClient{name: "a"}
	pb := &fakeClient{name: "b"}
	ca := b.RegisterClient(pa)
	cb := b.RegisterClient(pb)

	assert.True(t, ca.Subscribe("echo", "tick"))
	assert.True(t, ca.Subscribe("echo", "tick"), "duplicate subscribe succeeds")
	assert.True(t, cb.Subscribe("echo", "tick"))
	assert.False(t, cb.Subscribe("missing", "tick"))
	pa.take()
	pb.take()
	assert.Len(t, b.traces.Values(ca), 1)

	assert.Equal(t, 2, svc.Broadcast("tick", []byte("1")))
	assert.Equal(t, 0, svc.Broadcast("tock", []byte("1")))
	ev := wire.Event{Name: "echo", Key: "tick", Payload: []byte("1")}
	assert.Equal(t, []wire.ClientEvent{ev}, pa.take())
	assert.Equal(t, []wire.ClientEvent{ev}, pb.take())

	assert.True(t, ca.Unsubscribe("echo", "tick"))
	assert.False(t, ca.Unsubscribe("echo", "tick"))
	assert.Equal(t, 1, svc.Broadcast("tick", []byte("2")))
	assert.Equal(t, []wire.ClientEvent{wire.BoolResult{OK: true}, wire.BoolResult{OK: false}}, pa.take())
	assertConsistent(t, b)
}

func TestClientUnregisterCleansUp(t *testing.T) {
	b := newTestBroker()
	svc, svcPeer := registerEcho(t, b)
	peer := &fakeClient{name: "a"}
	c := b.RegisterClient(peer)

	c.Wait("echo")
	c.Wait("other")
	c.Subscribe("echo", "tick")
	id, _ := c.Call("echo", "slow", nil)
	svcPeer.take()

	c.Unregister()
	c.Unregister()

	assert.Equal(t, []wire.ServiceCommand{wire.CancelRequest{Key: "slow", ID: id}}, svcPeer.take())
	assert.Empty(t, svc.pending)
	assert.Equal(t, 0, svc.subscribers.Len())
	assert.False(t, b.waiters.HasKey("echo"))
	assert.False(t, b.waiters.HasKey("other"))
	assert.Empty(t, b.traces.Values(c))
	assert.Equal(t, 0, b.Stats().Clients)

	peer.take()
	assert.False(t, svc.Response(id, nil))
	assert.Equal(t, 0, svc.Broadcast("tick", nil))
	assert.Empty(t, peer.take())
}

func TestUnregisteredClientFailsSoftly(t *testing.T) {
	b := newTestBroker()
	svc, svcPeer := registerEcho(t, b)
	peer := &fakeClient{name: "a"}
	c := b.RegisterClient(peer)
	c.Unregister()

	assert.Empty(t, c.ListServices())
	assert.False(t, c.Wait("echo"))
	_, ok := c.Call("echo", "ping", nil)
	assert.False(t, ok)
	assert.False(t, c.Subscribe("echo", "tick"))
	assert.False(t, c.CancelWait("echo"))
	assert.False(t, c.Unsubscribe("echo", "tick"))

	assert.Equal(t, []wire.ClientEvent{
		wire.ServiceList{Services: []wire.ServiceInfo{}},
		wire.BoolResult{OK: false},
		wire.CallResult{Found: false},
		wire.BoolResult{OK: false},
		wire.BoolResult{OK: false},
		wire.BoolResult{OK: false},
	}, peer.take())
	assert.Empty(t, svcPeer.take())
	assert.Equal(t, 0, svc.Broadcast("tick", nil))
	assert.Equal(t, Stats{Services: 1}, b.Stats())
	assertConsistent(t, b)
}

func TestServiceUnregisterNotifiesEachOnce(t *testing.T) {
	b := newTestBroker()
	svc, _ := registerEcho(t, b)
	_, err := b.RegisterService("other", "t", "v", &fakeService{name: "other"})
	require.NoError(t, err)

	peer := &fakeClient{name: "a"}
	c := b.RegisterClient(peer)
	c.Wait("echo")
	c.Subscribe("echo", "tick")
	c.Subscribe("echo", "tock")
	c.Subscribe("other", "tick")
	id, _ := c.Call("echo", "slow", nil)
	peer.take()

	svc.Unregister()
	svc.Unregister()

	evs := peer.take()
	assert.ElementsMatch(t, []wire.ClientEvent{
		wire.WaitStatus{Name: "echo", Online: false},
		wire.SubscriptionCancelled{Name: "echo", Key: "tick"},
		wire.SubscriptionCancelled{Name: "echo", Key: "tock"},
		wire.CallCancelled{Name: "echo", ID: id},
	}, evs)

	links := b.traces.Values(c)
	assert.ElementsMatch(t, []Link{waitLink("echo"), subscriptionLink("other", "tick")}, links)
	assert.False(t, b.IsOnline("echo"))
	assertConsistent(t, b)

	// name is free again
	_, err = b.RegisterService("echo", "demo", "2.0", &fakeService{name: "again"})
	require.NoError(t, err)
}

func TestDeliverFailureIsSwallowed(t *testing.T) {
	b := newTestBroker()
	svc, _ := registerEcho(t, b)
	c := b.RegisterClient(closedPeer{})

	c.Wait("echo")
	c.Subscribe("echo", "tick")
	assert.Equal(t, 1, svc.Broadcast("tick", nil))
	svc.Unregister()
	c.Unregister()
	assert.Equal(t, Stats{}, b.Stats())
}

func TestScenario(t *testing.T) {
	b := newTestBroker()
	a := &fakeClient{name: "A"}
	ca := b.RegisterClient(a)

	assert.False(t, ca.Wait("echo"))
	svc, svcPeer := registerEcho(t, b)
	assert.Equal(t, []wire.ClientEvent{
		wire.BoolResult{OK: false},
		wire.WaitStatus{Name: "echo", Online: true},
	}, a.take())

	id, ok := ca.Call("echo", "ping", []byte("x"))
	require.True(t, ok)
	req := svcPeer.take()[0].(wire.Request)
	assert.Equal(t, wire.Request{Key: "ping", ID: id, Payload: []byte("x")}, req)
	svc.Response(req.ID, []byte("x"))
	assert.Equal(t, []wire.ClientEvent{
		wire.CallResult{Found: true, ID: id},
		wire.Response{Name: "echo", ID: id, Payload: []byte("x")},
	}, a.take())

	ca.Subscribe("echo", "tick")
	svc.Broadcast("tick", []byte("1"))
	assert.Equal(t, []wire.ClientEvent{
		wire.BoolResult{OK: true},
		wire.Event{Name: "echo", Key: "tick", Payload: []byte("1")},
	}, a.take())

	svc.Unregister()
	assert.ElementsMatch(t, []wire.ClientEvent{
		wire.WaitStatus{Name: "echo", Online: false},
		wire.SubscriptionCancelled{Name: "echo", Key: "tick"},
	}, a.take())
	assert.Equal(t, []Link{waitLink("echo")}, b.traces.Values(ca))
	assertConsistent(t, b)
}

func TestMetricsExposition(t *testing.T) {
	b := newTestBroker()
	registerEcho(t, b)
	c := b.RegisterClient(&fakeClient{name: "a"})
	c.Call("echo", "k", nil)

	var out bytes.Buffer
	b.Metrics().WritePrometheus(&out)
	text := out.String()
	assert.True(t, strings.Contains(text, "wsgw_calls_total 1"), text)
	assert.True(t, strings.Contains(text, "wsgw_services_online 1"), text)
	assert.True(t, strings.Contains(text, "wsgw_calls_pending 1"), text)
	assert.Equal(t, uint64(1), b.Metrics().Calls())
}
