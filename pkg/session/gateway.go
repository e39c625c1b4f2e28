package session

import (
	"fmt"

	"github.com/sammck-go/wsgateway/pkg/broker"
	"github.com/sammck-go/wsgateway/pkg/wire"
	gwshare "github.com/sammck-go/wsgateway/share"
)

// GatewaySession serves one client connection
type GatewaySession struct {
	basicSession
	client *broker.ClientConn
}

// NewGatewaySession creates a session for a freshly accepted client connection
func NewGatewaySession(logger gwshare.Logger, b *broker.Broker, conn Conn, opts Options) *GatewaySession {
	s := &GatewaySession{}
	s.initBasicSession(logger, b, conn, opts, s)
	return s
}

// Deliver implements broker.ClientPeer
func (s *GatewaySession) Deliver(ev wire.ClientEvent) error {
	return s.sendBinary(s.opts.Codec.EncodeClientEvent(ev))
}

func (s *GatewaySession) handshake(data []byte) error {
	h, err := s.opts.Codec.DecodeClientHandshake(data)
	if err != nil {
		return err
	}
	if h.Magic != wire.ClientMagic {
		return fmt.Errorf("%w: %q", ErrBadMagic, h.Magic)
	}
	if h.Version != wire.ClientVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	ack, err := s.opts.Codec.EncodeHandshakeAck(wire.HandshakeAck{Text: wire.HandshakeResponse})
	if err != nil {
		return err
	}
	err = s.activate(func() error {
		s.client = s.broker.RegisterClient(s)
		return nil
	})
	if err != nil {
		return err
	}
	s.outbox.Release(Binary(ack))
	return nil
}

func (s *GatewaySession) dispatch(data []byte) error {
	req, err := s.opts.Codec.DecodeClientRequest(data)
	if err != nil {
		return err
	}
	s.TLogf("%T %+v", req, req)
	c := s.client
	switch r := req.(type) {
	case wire.GetServiceList:
		c.ListServices()
	case wire.WaitService:
		c.Wait(r.Name)
	case wire.CancelWaitService:
		c.CancelWait(r.Name)
	case wire.CallService:
		c.Call(r.Name, r.Key, r.Payload)
	case wire.CancelCallService:
		c.CancelCall(r.Name, r.ID)
	case wire.SubscribeService:
		c.Subscribe(r.Name, r.Key)
	case wire.UnsubscribeService:
		c.Unsubscribe(r.Name, r.Key)
	default:
		return &wire.UnknownOpcodeError{Op: int64(req.ClientOp())}
	}
	return nil
}

func (s *GatewaySession) unregister() {
	s.client.Unregister()
}
