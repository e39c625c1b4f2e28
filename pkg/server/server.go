// Package server runs the gateway: one listener accepts service
// connections, another accepts client connections, and both share a Broker.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jpillora/requestlog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/sammck-go/wsgateway/pkg/broker"
	"github.com/sammck-go/wsgateway/pkg/session"
	"github.com/sammck-go/wsgateway/pkg/wire"
	gwshare "github.com/sammck-go/wsgateway/share"
)

// Server is a running gateway
type Server struct {
	gwshare.ShutdownHelper
	config       *gwshare.Config
	broker       *broker.Broker
	codec        *wire.Codec
	serviceHTTP  *gwshare.HTTPServer
	gatewayHTTP  *gwshare.HTTPServer
	serviceStats gwshare.ConnStats
	gatewayStats gwshare.ConnStats
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewServer creates a gateway server from a validated configuration
func NewServer(config *gwshare.Config, logger gwshare.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	codec, err := wire.CodecByName(config.Wire)
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:      config,
		codec:       codec,
		broker:      broker.New(logger.Fork("broker")),
		serviceHTTP: gwshare.NewHTTPServer(logger.Fork("service-listener")),
		gatewayHTTP: gwshare.NewHTTPServer(logger.Fork("gateway-listener")),
	}
	s.InitShutdownHelper(logger, s)
	return s, nil
}

// Broker returns the server's broker
func (s *Server) Broker() *broker.Broker {
	return s.broker
}

func (s *Server) sessionOptions() session.Options {
	return session.Options{
		Codec:            s.codec,
		HandshakeTimeout: s.config.HandshakeTimeout,
		MaxBacklog:       s.config.MaxBacklog,
		DrainTimeout:     s.config.WriteTimeout,
	}
}

func (s *Server) connOptions() session.ConnOptions {
	return session.ConnOptions{
		PingInterval: s.config.PingInterval,
		WriteTimeout: s.config.WriteTimeout,
	}
}

func (s *Server) wrap(h http.HandlerFunc) http.Handler {
	if s.GetLogLevel() >= gwshare.LogLevelDebug {
		return requestlog.Wrap(h)
	}
	return h
}

// ServiceHandler returns the handler for the service listener. Sessions it
// starts end when ctx is done.
func (s *Server) ServiceHandler(ctx context.Context) http.Handler {
	return s.wrap(func(w http.ResponseWriter, r *http.Request) {
		s.handleService(ctx, w, r)
	})
}

// GatewayHandler returns the handler for the client listener. Sessions it
// starts end when ctx is done.
func (s *Server) GatewayHandler(ctx context.Context) http.Handler {
	return s.wrap(func(w http.ResponseWriter, r *http.Request) {
		s.handleGateway(ctx, w, r)
	})
}

// Run serves both listeners until ctx is done or either listener fails
func (s *Server) Run(ctx context.Context) error {
	err := s.DoOnceActivate(
		func() error {
			s.ILogf("Wire format %s", s.codec.Format.Name())
			return nil
		},
		true,
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.ILogf("Listening for services on %s...", s.config.ServiceAddr)
		return s.serviceHTTP.ListenAndServe(gctx, s.config.ServiceAddr, s.ServiceHandler(gctx))
	})
	g.Go(func() error {
		s.ILogf("Listening for clients on %s...", s.config.GatewayAddr)
		return s.gatewayHTTP.ListenAndServe(gctx, s.config.GatewayAddr, s.GatewayHandler(gctx))
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	return s.Shutdown(err)
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (s *Server) HandleOnceShutdown(completionErr error) error {
	s.ILogf("Service listener: %s", s.serviceStats.Summary())
	s.ILogf("Client listener: %s", s.gatewayStats.Summary())
	err := multierr.Combine(
		ignoreCanceled(s.serviceHTTP.Close()),
		ignoreCanceled(s.gatewayHTTP.Close()),
	)
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
