// Package sdk provides Go client and service libraries for the gateway
// protocol.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/sammck-go/wsgateway/pkg/session"
	"github.com/sammck-go/wsgateway/pkg/wire"
	gwshare "github.com/sammck-go/wsgateway/share"
)

// ErrClosed is returned by operations on a closed Client or Service
var ErrClosed = errors.New("connection closed")

// Config holds the connection settings shared by Client and Service
type Config struct {
	// URL of the gateway listener; http(s) schemes are swapped to ws(s)
	URL string
	// Wire is the field format name; it must match the gateway's
	Wire string
	// MaxRetryCount is the number of redials after a failed attempt;
	// negative retries forever
	MaxRetryCount    int
	MaxRetryInterval time.Duration
	PingInterval     time.Duration
	Header           http.Header
	Logger           gwshare.Logger
}

func (c *Config) codec() (*wire.Codec, error) {
	name := c.Wire
	if name == "" {
		name = "msgpack"
	}
	return wire.CodecByName(name)
}

func (c *Config) logger(prefix string) gwshare.Logger {
	if c.Logger != nil {
		return c.Logger.Fork("%s", prefix)
	}
	return gwshare.NewLogger(prefix, gwshare.LogLevelInfo)
}

var hasPort = regexp.MustCompile(`:\d+$`)

// websocketURL applies the default scheme and port and swaps to the
// websocket scheme
func websocketURL(server string) (string, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	if !hasPort.MatchString(u.Host) {
		if u.Scheme == "https" || u.Scheme == "wss" {
			u.Host = u.Host + ":443"
		} else {
			u.Host = u.Host + ":80"
		}
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	return u.String(), nil
}

// dial connects to the gateway, backing off between failed attempts
func dial(ctx context.Context, logger gwshare.Logger, cfg *Config) (session.Conn, error) {
	server, err := websocketURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL %q: %w", cfg.URL, err)
	}
	maxInterval := cfg.MaxRetryInterval
	if maxInterval < time.Second {
		maxInterval = 5 * time.Minute
	}
	b := &backoff.Backoff{Max: maxInterval}
	d := websocket.Dialer{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 45 * time.Second,
	}
	for {
		logger.DLogf("Connecting to %s", server)
		wsConn, _, err := d.DialContext(ctx, server, cfg.Header)
		if err == nil {
			return session.NewWebSocketConn(logger, wsConn, session.ConnOptions{PingInterval: cfg.PingInterval}), nil
		}
		attempt := int(b.Attempt())
		maxAttempt := cfg.MaxRetryCount
		msg := fmt.Sprintf("Connection error: %s", err)
		if attempt > 0 {
			msg += fmt.Sprintf(" (Attempt: %d", attempt)
			if maxAttempt > 0 {
				msg += fmt.Sprintf("/%d", maxAttempt)
			}
			msg += ")"
		}
		logger.DLogf("%s", msg)
		if maxAttempt >= 0 && attempt >= maxAttempt {
			return nil, err
		}
		delay := b.Duration()
		logger.ILogf("Retrying in %s...", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// readAck reads the gateway's handshake acknowledgement. A text frame in
// its place carries the reason the handshake was refused.
func readAck(ctx context.Context, conn session.Conn, codec *wire.Codec) error {
	type result struct {
		m   session.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := conn.ReadMessage()
		ch <- result{m, err}
	}()
	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		conn.StartShutdown(ctx.Err())
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}
	if r.m.Type == session.TextMessage {
		return fmt.Errorf("gateway refused handshake: %s", r.m.Data)
	}
	ack, err := codec.DecodeHandshakeAck(r.m.Data)
	if err != nil {
		return err
	}
	if ack.Text != wire.HandshakeResponse {
		return fmt.Errorf("unexpected handshake acknowledgement %q", ack.Text)
	}
	return nil
}
