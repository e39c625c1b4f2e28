package wire

import (
	"fmt"
	"math"
)

// Codec encodes and decodes protocol messages on top of a Format
type Codec struct {
	Format Format
}

// NewCodec creates a Codec for a Format
func NewCodec(f Format) *Codec {
	return &Codec{Format: f}
}

// CodecByName creates a Codec for a registered format name
func CodecByName(name string) (*Codec, error) {
	f, err := FormatByName(name)
	if err != nil {
		return nil, err
	}
	return NewCodec(f), nil
}

// UnknownOpcodeError carries the opcode of a frame that could not be
// dispatched. It matches ErrUnknownOpcode with errors.Is.
type UnknownOpcodeError struct {
	Op int64
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("%s: %d", ErrUnknownOpcode, e.Op)
}

// Is makes errors.Is(err, ErrUnknownOpcode) true
func (e *UnknownOpcodeError) Is(target error) bool {
	return target == ErrUnknownOpcode
}

func (c *Codec) readID(r Reader) uint32 {
	v := r.Uint()
	if v > math.MaxUint32 {
		r.Fail(fmt.Errorf("call id %d out of range", v))
		return 0
	}
	return uint32(v)
}

func finish(r Reader, what string) error {
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

// EncodeClientHandshake encodes a ClientHandshake
func (c *Codec) EncodeClientHandshake(h ClientHandshake) ([]byte, error) {
	w := c.Format.NewWriter()
	w.PutString(h.Magic)
	w.PutInt(h.Version)
	return w.Finish()
}

// DecodeClientHandshake decodes a ClientHandshake
func (c *Codec) DecodeClientHandshake(data []byte) (ClientHandshake, error) {
	r := c.Format.NewReader(data)
	h := ClientHandshake{Magic: r.String(), Version: r.Int()}
	return h, finish(r, "client handshake")
}

// EncodeServiceHandshake encodes a ServiceHandshake
func (c *Codec) EncodeServiceHandshake(h ServiceHandshake) ([]byte, error) {
	w := c.Format.NewWriter()
	w.PutString(h.Magic)
	w.PutInt(h.Version)
	w.PutString(h.Name)
	w.PutString(h.Type)
	w.PutString(h.ServiceVersion)
	return w.Finish()
}

// DecodeServiceHandshake decodes a ServiceHandshake. Magic and version are
// read first so a peer speaking the wrong protocol fails on those fields.
func (c *Codec) DecodeServiceHandshake(data []byte) (ServiceHandshake, error) {
	r := c.Format.NewReader(data)
	h := ServiceHandshake{Magic: r.String(), Version: r.Int()}
	if r.Err() == nil && (h.Magic != ServiceMagic || h.Version != ServiceVersion) {
		return h, nil
	}
	h.Name = r.String()
	h.Type = r.String()
	h.ServiceVersion = r.String()
	return h, finish(r, "service handshake")
}

// EncodeHandshakeAck encodes a HandshakeAck
func (c *Codec) EncodeHandshakeAck(a HandshakeAck) ([]byte, error) {
	w := c.Format.NewWriter()
	w.PutString(a.Text)
	return w.Finish()
}

// DecodeHandshakeAck decodes a HandshakeAck
func (c *Codec) DecodeHandshakeAck(data []byte) (HandshakeAck, error) {
	r := c.Format.NewReader(data)
	a := HandshakeAck{Text: r.String()}
	return a, finish(r, "handshake ack")
}

// EncodeClientRequest encodes a client to gateway message
func (c *Codec) EncodeClientRequest(req ClientRequest) ([]byte, error) {
	w := c.Format.NewWriter()
	w.PutInt(int64(req.ClientOp()))
	switch m := req.(type) {
	case GetServiceList:
	case WaitService:
		w.PutString(m.Name)
	case CancelWaitService:
		w.PutString(m.Name)
	case CallService:
		w.PutString(m.Name)
		w.PutString(m.Key)
		w.PutBytes(m.Payload)
	case CancelCallService:
		w.PutString(m.Name)
		w.PutUint(uint64(m.ID))
	case SubscribeService:
		w.PutString(m.Name)
		w.PutString(m.Key)
	case UnsubscribeService:
		w.PutString(m.Name)
		w.PutString(m.Key)
	default:
		return nil, fmt.Errorf("encode client request: unsupported type %T", req)
	}
	return w.Finish()
}

// DecodeClientRequest decodes a client to gateway message. An opcode this
// revision does not define yields an *UnknownOpcodeError.
func (c *Codec) DecodeClientRequest(data []byte) (ClientRequest, error) {
	r := c.Format.NewReader(data)
	op := ClientOp(r.Int())
	if err := finish(r, "client request"); err != nil {
		return nil, err
	}
	var req ClientRequest
	switch op {
	case OpGetServiceList:
		req = GetServiceList{}
	case OpWaitService:
		req = WaitService{Name: r.String()}
	case OpCancelWaitService:
		req = CancelWaitService{Name: r.String()}
	case OpCallService:
		req = CallService{Name: r.String(), Key: r.String(), Payload: r.Bytes()}
	case OpCancelCallService:
		req = CancelCallService{Name: r.String(), ID: c.readID(r)}
	case OpSubscribeService:
		req = SubscribeService{Name: r.String(), Key: r.String()}
	case OpUnsubscribeService:
		req = UnsubscribeService{Name: r.String(), Key: r.String()}
	default:
		return nil, &UnknownOpcodeError{Op: int64(op)}
	}
	if err := finish(r, "client request"); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeClientEvent encodes a gateway to client message
func (c *Codec) EncodeClientEvent(ev ClientEvent) ([]byte, error) {
	w := c.Format.NewWriter()
	w.PutInt(int64(ev.ClientSignature()))
	switch m := ev.(type) {
	case ServiceList:
		w.PutInt(int64(SyncServiceList))
		w.PutLen(len(m.Services))
		for _, s := range m.Services {
			w.PutString(s.Name)
			w.PutString(s.Type)
			w.PutString(s.Version)
		}
	case BoolResult:
		w.PutInt(int64(SyncBool))
		w.PutBool(m.OK)
	case CallResult:
		w.PutInt(int64(SyncCall))
		w.PutBool(m.Found)
		if m.Found {
			w.PutUint(uint64(m.ID))
		}
	case Response:
		w.PutString(m.Name)
		w.PutUint(uint64(m.ID))
		w.PutBytes(m.Payload)
	case Exception:
		w.PutString(m.Name)
		w.PutUint(uint64(m.ID))
		w.PutString(m.Message)
	case Event:
		w.PutString(m.Name)
		w.PutString(m.Key)
		w.PutBytes(m.Payload)
	case WaitStatus:
		w.PutString(m.Name)
		w.PutBool(m.Online)
	case CallCancelled:
		w.PutString(m.Name)
		w.PutUint(uint64(m.ID))
	case SubscriptionCancelled:
		w.PutString(m.Name)
		w.PutString(m.Key)
	default:
		return nil, fmt.Errorf("encode client event: unsupported type %T", ev)
	}
	return w.Finish()
}

// DecodeClientEvent decodes a gateway to client message
func (c *Codec) DecodeClientEvent(data []byte) (ClientEvent, error) {
	r := c.Format.NewReader(data)
	sig := ClientSignature(r.Int())
	if err := finish(r, "client event"); err != nil {
		return nil, err
	}
	var ev ClientEvent
	switch sig {
	case SigSync:
		kind := SyncKind(r.Int())
		switch kind {
		case SyncServiceList:
			n := r.Len()
			list := ServiceList{Services: make([]ServiceInfo, 0, n)}
			for i := 0; i < n && r.Err() == nil; i++ {
				list.Services = append(list.Services, ServiceInfo{Name: r.String(), Type: r.String(), Version: r.String()})
			}
			ev = list
		case SyncBool:
			ev = BoolResult{OK: r.Bool()}
		case SyncCall:
			res := CallResult{Found: r.Bool()}
			if res.Found {
				res.ID = c.readID(r)
			}
			ev = res
		default:
			if r.Err() == nil {
				return nil, &UnknownOpcodeError{Op: int64(kind)}
			}
		}
	case SigResponse:
		ev = Response{Name: r.String(), ID: c.readID(r), Payload: r.Bytes()}
	case SigException:
		ev = Exception{Name: r.String(), ID: c.readID(r), Message: r.String()}
	case SigBroadcast:
		ev = Event{Name: r.String(), Key: r.String(), Payload: r.Bytes()}
	case SigWait:
		ev = WaitStatus{Name: r.String(), Online: r.Bool()}
	case SigCancelRequest:
		ev = CallCancelled{Name: r.String(), ID: c.readID(r)}
	case SigCancelSubscribe:
		ev = SubscriptionCancelled{Name: r.String(), Key: r.String()}
	default:
		return nil, &UnknownOpcodeError{Op: int64(sig)}
	}
	if err := finish(r, "client event"); err != nil {
		return nil, err
	}
	return ev, nil
}

// EncodeServiceMessage encodes a service to gateway message
func (c *Codec) EncodeServiceMessage(msg ServiceMessage) ([]byte, error) {
	w := c.Format.NewWriter()
	w.PutInt(int64(msg.ServiceOp()))
	switch m := msg.(type) {
	case ServiceResponse:
		w.PutUint(uint64(m.ID))
		w.PutBytes(m.Payload)
	case ServiceException:
		w.PutUint(uint64(m.ID))
		w.PutString(m.Message)
	case ServiceBroadcast:
		w.PutString(m.Key)
		w.PutBytes(m.Payload)
	default:
		return nil, fmt.Errorf("encode service message: unsupported type %T", msg)
	}
	return w.Finish()
}

// DecodeServiceMessage decodes a service to gateway message
func (c *Codec) DecodeServiceMessage(data []byte) (ServiceMessage, error) {
	r := c.Format.NewReader(data)
	op := ServiceOp(r.Int())
	if err := finish(r, "service message"); err != nil {
		return nil, err
	}
	var msg ServiceMessage
	switch op {
	case OpResponse:
		msg = ServiceResponse{ID: c.readID(r), Payload: r.Bytes()}
	case OpException:
		msg = ServiceException{ID: c.readID(r), Message: r.String()}
	case OpBroadcast:
		msg = ServiceBroadcast{Key: r.String(), Payload: r.Bytes()}
	default:
		return nil, &UnknownOpcodeError{Op: int64(op)}
	}
	if err := finish(r, "service message"); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodeServiceCommand encodes a gateway to service message
func (c *Codec) EncodeServiceCommand(cmd ServiceCommand) ([]byte, error) {
	w := c.Format.NewWriter()
	w.PutInt(int64(cmd.ServiceSignature()))
	switch m := cmd.(type) {
	case Request:
		w.PutString(m.Key)
		w.PutUint(uint64(m.ID))
		w.PutBytes(m.Payload)
	case CancelRequest:
		w.PutString(m.Key)
		w.PutUint(uint64(m.ID))
	default:
		return nil, fmt.Errorf("encode service command: unsupported type %T", cmd)
	}
	return w.Finish()
}

// DecodeServiceCommand decodes a gateway to service message
func (c *Codec) DecodeServiceCommand(data []byte) (ServiceCommand, error) {
	r := c.Format.NewReader(data)
	sig := ServiceSignature(r.Int())
	if err := finish(r, "service command"); err != nil {
		return nil, err
	}
	var cmd ServiceCommand
	switch sig {
	case SigRequest:
		cmd = Request{Key: r.String(), ID: c.readID(r), Payload: r.Bytes()}
	case SigServiceCancelRequest:
		cmd = CancelRequest{Key: r.String(), ID: c.readID(r)}
	default:
		return nil, &UnknownOpcodeError{Op: int64(sig)}
	}
	if err := finish(r, "service command"); err != nil {
		return nil, err
	}
	return cmd, nil
}
