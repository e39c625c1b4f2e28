package session

import (
	"fmt"

	"github.com/sammck-go/wsgateway/pkg/broker"
	"github.com/sammck-go/wsgateway/pkg/wire"
	gwshare "github.com/sammck-go/wsgateway/share"
)

// ServiceSession serves one service connection
type ServiceSession struct {
	basicSession
	service *broker.ServiceConn
}

// NewServiceSession creates a session for a freshly accepted service connection
func NewServiceSession(logger gwshare.Logger, b *broker.Broker, conn Conn, opts Options) *ServiceSession {
	s := &ServiceSession{}
	s.initBasicSession(logger, b, conn, opts, s)
	return s
}

// Deliver implements broker.ServicePeer
func (s *ServiceSession) Deliver(cmd wire.ServiceCommand) error {
	return s.sendBinary(s.opts.Codec.EncodeServiceCommand(cmd))
}

// Name returns the registered service name, or "" before the handshake
func (s *ServiceSession) Name() string {
	s.Lock.Lock()
	defer s.Lock.Unlock()
	if s.service == nil {
		return ""
	}
	return s.service.Name()
}

func (s *ServiceSession) handshake(data []byte) error {
	h, err := s.opts.Codec.DecodeServiceHandshake(data)
	if err != nil {
		return err
	}
	if h.Magic != wire.ServiceMagic {
		return fmt.Errorf("%w: %q", ErrBadMagic, h.Magic)
	}
	if h.Version != wire.ServiceVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	ack, err := s.opts.Codec.EncodeHandshakeAck(wire.HandshakeAck{Text: wire.HandshakeResponse})
	if err != nil {
		return err
	}
	err = s.activate(func() error {
		svc, err := s.broker.RegisterService(h.Name, h.Type, h.ServiceVersion, s)
		s.service = svc
		return err
	})
	if err != nil {
		return err
	}
	s.outbox.Release(Binary(ack))
	return nil
}

func (s *ServiceSession) dispatch(data []byte) error {
	msg, err := s.opts.Codec.DecodeServiceMessage(data)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case wire.ServiceResponse:
		s.service.Response(m.ID, m.Payload)
	case wire.ServiceException:
		s.service.Exception(m.ID, m.Message)
	case wire.ServiceBroadcast:
		s.service.Broadcast(m.Key, m.Payload)
	default:
		return &wire.UnknownOpcodeError{Op: int64(msg.ServiceOp())}
	}
	return nil
}

func (s *ServiceSession) unregister() {
	s.service.Unregister()
}
