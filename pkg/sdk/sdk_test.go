package sdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammck-go/wsgateway/pkg/sdk"
	"github.com/sammck-go/wsgateway/pkg/server"
	"github.com/sammck-go/wsgateway/pkg/wire"
	gwshare "github.com/sammck-go/wsgateway/share"
)

const testTimeout = 10 * time.Second

type gateway struct {
	serviceURL string
	gatewayURL string
	wire       string
}

func startGateway(t *testing.T, format string) *gateway {
	cfg := &gwshare.Config{
		ServiceAddr:      "127.0.0.1:0",
		GatewayAddr:      "localhost:0",
		LogLevel:         "error",
		Wire:             format,
		PingInterval:     time.Second,
		WriteTimeout:     time.Second,
		HandshakeTimeout: time.Second,
		MaxBacklog:       256,
	}
	s, err := server.NewServer(cfg, gwshare.NewLogger("server", gwshare.LogLevelError))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	svc := httptest.NewServer(s.ServiceHandler(ctx))
	gw := httptest.NewServer(s.GatewayHandler(ctx))
	t.Cleanup(func() {
		cancel()
		svc.Close()
		gw.Close()
		s.Close()
	})
	return &gateway{serviceURL: svc.URL, gatewayURL: gw.URL, wire: format}
}

func (g *gateway) config(url string) sdk.Config {
	return sdk.Config{
		URL:    url,
		Wire:   g.wire,
		Logger: gwshare.NewLogger("sdk", gwshare.LogLevelError),
	}
}

func (g *gateway) register(t *testing.T, ctx context.Context, name string, handlers map[string]sdk.Handler) *sdk.Service {
	t.Helper()
	svc, err := sdk.Register(ctx, sdk.ServiceConfig{
		Config:  g.config(g.serviceURL),
		Name:    name,
		Type:    "demo",
		Version: "1.0",
	}, handlers)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func (g *gateway) dial(t *testing.T, ctx context.Context) *sdk.Client {
	t.Helper()
	c, err := sdk.Dial(ctx, g.config(g.gatewayURL))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func echo(ctx context.Context, req *sdk.Request) ([]byte, error) {
	return req.Payload, nil
}

func block(ctx context.Context, req *sdk.Request) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type waitEvent struct {
	name   string
	online bool
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestScenario(t *testing.T) {
	for _, format := range wire.FormatNames() {
		t.Run(format, func(t *testing.T) {
			g := startGateway(t, format)
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()

			client := g.dial(t, ctx)
			waits := make(chan waitEvent, 4)
			client.OnWait(func(name string, online bool) { waits <- waitEvent{name, online} })
			ended := make(chan string, 4)
			client.OnSubscriptionEnd(func(name, key string) { ended <- name + "/" + key })

			online, err := client.Wait(ctx, "echo")
			require.NoError(t, err)
			assert.False(t, online)

			svc := g.register(t, ctx, "echo", map[string]sdk.Handler{"ping": echo})
			assert.Equal(t, waitEvent{"echo", true}, recv(t, waits))

			out, err := client.Invoke(ctx, "echo", "ping", []byte("x"))
			require.NoError(t, err)
			assert.Equal(t, []byte("x"), out)

			events := make(chan []byte, 4)
			ok, err := client.Subscribe(ctx, "echo", "tick", func(p []byte) { events <- p })
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, svc.Broadcast("tick", []byte("1")))
			assert.Equal(t, []byte("1"), recv(t, events))

			require.NoError(t, svc.Close())
			assert.Equal(t, waitEvent{"echo", false}, recv(t, waits))
			assert.Equal(t, "echo/tick", recv(t, ended))
		})
	}
}

func TestListServices(t *testing.T) {
	g := startGateway(t, "msgpack")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	g.register(t, ctx, "zeta", nil)
	g.register(t, ctx, "alpha", nil)
	client := g.dial(t, ctx)

	list, err := client.ListServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []wire.ServiceInfo{
		{Name: "alpha", Type: "demo", Version: "1.0"},
		{Name: "zeta", Type: "demo", Version: "1.0"},
	}, list)
}

func TestCallErrors(t *testing.T) {
	g := startGateway(t, "msgpack")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	g.register(t, ctx, "echo", map[string]sdk.Handler{
		"fail": func(ctx context.Context, req *sdk.Request) ([]byte, error) {
			return nil, errors.New("boom")
		},
	})
	client := g.dial(t, ctx)

	_, err := client.Call(ctx, "missing", "ping", nil)
	assert.True(t, errors.Is(err, sdk.ErrServiceNotFound), "%v", err)

	_, err = client.Invoke(ctx, "echo", "fail", nil)
	var remote *sdk.RemoteError
	require.True(t, errors.As(err, &remote), "%v", err)
	assert.Equal(t, "boom", remote.Message)

	_, err = client.Invoke(ctx, "echo", "unknown", nil)
	require.True(t, errors.As(err, &remote), "%v", err)
	assert.Contains(t, remote.Message, "no handler")
}

func TestCancelCall(t *testing.T) {
	g := startGateway(t, "msgpack")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	svc := g.register(t, ctx, "echo", map[string]sdk.Handler{"slow": block})
	cancelled := make(chan uint32, 1)
	svc.OnCancel(func(req *sdk.Request) { cancelled <- req.ID })
	client := g.dial(t, ctx)

	call, err := client.Call(ctx, "echo", "slow", nil)
	require.NoError(t, err)
	ok, err := client.Cancel(ctx, call)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = call.Result(ctx)
	assert.True(t, errors.Is(err, sdk.ErrCallCancelled))
	assert.Equal(t, call.ID, recv(t, cancelled))

	ok, err = client.Cancel(ctx, call)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServiceOfflineCancelsCall(t *testing.T) {
	g := startGateway(t, "msgpack")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	svc := g.register(t, ctx, "echo", map[string]sdk.Handler{"slow": block})
	client := g.dial(t, ctx)

	call, err := client.Call(ctx, "echo", "slow", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	_, err = call.Result(ctx)
	assert.True(t, errors.Is(err, sdk.ErrCallCancelled), "%v", err)
}

func TestNameCollision(t *testing.T) {
	g := startGateway(t, "msgpack")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	g.register(t, ctx, "echo", nil)
	_, err := sdk.Register(ctx, sdk.ServiceConfig{
		Config: g.config(g.serviceURL),
		Name:   "echo",
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestConcurrentCalls(t *testing.T) {
	g := startGateway(t, "protowire")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	g.register(t, ctx, "echo", map[string]sdk.Handler{"ping": echo})
	clients := []*sdk.Client{g.dial(t, ctx), g.dial(t, ctx), g.dial(t, ctx)}

	type result struct {
		want, got []byte
		err       error
	}
	results := make(chan result, 30)
	for i := 0; i < 30; i++ {
		c := clients[i%len(clients)]
		payload := []byte{byte(i)}
		go func() {
			out, err := c.Invoke(ctx, "echo", "ping", payload)
			results <- result{payload, out, err}
		}()
	}
	for i := 0; i < 30; i++ {
		r := recv(t, results)
		require.NoError(t, r.err)
		assert.Equal(t, r.want, r.got)
	}
}

func TestDialGivesUp(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err := sdk.Dial(ctx, sdk.Config{URL: url, Logger: gwshare.NewLogger("sdk", gwshare.LogLevelError)})
	assert.Error(t, err)
}
