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

// Request is one call delivered to a service
type Request struct {
	Key     string
	ID      uint32
	Payload []byte
}

// Handler answers a request. A non-nil error is sent to the caller as an
// exception. ctx is cancelled if the caller cancels the call or the
// service shuts down.
type Handler func(ctx context.Context, req *Request) ([]byte, error)

// ServiceConfig describes a service to register
type ServiceConfig struct {
	Config
	Name    string
	Type    string
	Version string
}

// Service is a registered service connection
type Service struct {
	gwshare.ShutdownHelper
	conn  session.Conn
	codec *wire.Codec
	info  wire.ServiceInfo

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[string]Handler
	inflight map[uint32]context.CancelFunc
	onCancel func(req *Request)
}

// Register connects to the gateway's service listener and registers under
// cfg.Name. Handlers should be added before requests can arrive, so
// initial handlers may be passed in.
func Register(ctx context.Context, cfg ServiceConfig, handlers map[string]Handler) (*Service, error) {
	codec, err := cfg.codec()
	if err != nil {
		return nil, err
	}
	logger := cfg.logger("service(" + cfg.Name + ")")
	conn, err := dial(ctx, logger, &cfg.Config)
	if err != nil {
		return nil, err
	}
	s := &Service{
		conn:     conn,
		codec:    codec,
		info:     wire.ServiceInfo{Name: cfg.Name, Type: cfg.Type, Version: cfg.Version},
		handlers: make(map[string]Handler),
		inflight: make(map[uint32]context.CancelFunc),
	}
	for key, h := range handlers {
		s.handlers[key] = h
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.InitShutdownHelper(logger, s)

	hs, err := codec.EncodeServiceHandshake(wire.ServiceHandshake{
		Magic:          wire.ServiceMagic,
		Version:        wire.ServiceVersion,
		Name:           cfg.Name,
		Type:           cfg.Type,
		ServiceVersion: cfg.Version,
	})
	if err == nil {
		err = conn.WriteMessage(session.Binary(hs))
	}
	if err == nil {
		err = readAck(ctx, conn, codec)
	}
	if err != nil {
		s.cancel()
		conn.Close()
		return nil, err
	}
	s.ILogf("Registered as %s (%s: %s)", cfg.Name, cfg.Type, cfg.Version)
	go s.readLoop()
	return s, nil
}

// Info returns the registered identity
func (s *Service) Info() wire.ServiceInfo {
	return s.info
}

// Handle sets the handler for method key
func (s *Service) Handle(key string, h Handler) {
	s.mu.Lock()
	s.handlers[key] = h
	s.mu.Unlock()
}

// OnCancel sets a function called when a caller cancels a request
func (s *Service) OnCancel(f func(req *Request)) {
	s.mu.Lock()
	s.onCancel = f
	s.mu.Unlock()
}

// Broadcast sends an event to all subscribers of key
func (s *Service) Broadcast(key string, payload []byte) error {
	return s.send(wire.ServiceBroadcast{Key: key, Payload: payload})
}

func (s *Service) send(msg wire.ServiceMessage) error {
	if s.IsStartedShutdown() {
		return ErrClosed
	}
	data, err := s.codec.EncodeServiceMessage(msg)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(session.Binary(data))
}

func (s *Service) readLoop() {
	for {
		m, err := s.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			s.StartShutdown(err)
			return
		}
		if m.Type == session.TextMessage {
			s.WLogf("gateway: %s", m.Data)
			continue
		}
		cmd, err := s.codec.DecodeServiceCommand(m.Data)
		if err != nil {
			s.StartShutdown(s.DLogErrorf("bad frame from gateway: %s", err))
			return
		}
		switch c := cmd.(type) {
		case wire.Request:
			s.serve(&Request{Key: c.Key, ID: c.ID, Payload: c.Payload})
		case wire.CancelRequest:
			s.cancelRequest(&Request{Key: c.Key, ID: c.ID})
		}
	}
}

func (s *Service) serve(req *Request) {
	s.mu.Lock()
	h := s.handlers[req.Key]
	ctx, cancel := context.WithCancel(s.ctx)
	s.inflight[req.ID] = cancel
	s.mu.Unlock()

	go func() {
		var payload []byte
		var err error
		if h == nil {
			err = fmt.Errorf("no handler for %q", req.Key)
		} else {
			payload, err = h(ctx, req)
		}

		s.mu.Lock()
		_, live := s.inflight[req.ID]
		delete(s.inflight, req.ID)
		s.mu.Unlock()
		cancel()
		if !live {
			// cancelled; the gateway has already dropped the call
			return
		}

		var msg wire.ServiceMessage = wire.ServiceResponse{ID: req.ID, Payload: payload}
		if err != nil {
			msg = wire.ServiceException{ID: req.ID, Message: err.Error()}
		}
		if err := s.send(msg); err != nil {
			s.DLogf("reply to %d failed: %s", req.ID, err)
		}
	}()
}

func (s *Service) cancelRequest(req *Request) {
	s.mu.Lock()
	cancel, ok := s.inflight[req.ID]
	delete(s.inflight, req.ID)
	f := s.onCancel
	s.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	if f != nil {
		f(req)
	}
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (s *Service) HandleOnceShutdown(completionErr error) error {
	s.cancel()
	err := s.conn.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
