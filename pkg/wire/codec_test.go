package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codecs() []*Codec {
	return []*Codec{NewCodec(MsgpackFormat), NewCodec(ProtowireFormat)}
}

func TestFormatByName(t *testing.T) {
	f, err := FormatByName("msgpack")
	require.NoError(t, err)
	assert.Equal(t, MsgpackFormat, f)

	_, err = FormatByName("flatbuffers")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
	assert.Equal(t, []string{"msgpack", "protowire"}, FormatNames())
}

func TestClientTrafficSurvivesEncoding(t *testing.T) {
	for _, c := range codecs() {
		t.Run(c.Format.Name(), func(t *testing.T) {
			reqs := []ClientRequest{
				GetServiceList{},
				WaitService{Name: "echo"},
				CallService{Name: "echo", Key: "ping", Payload: []byte("x")},
				CancelCallService{Name: "echo", ID: 0xfffffffe},
				UnsubscribeService{Name: "echo", Key: "tick"},
			}
			for _, req := range reqs {
				data, err := c.EncodeClientRequest(req)
				require.NoError(t, err)
				got, err := c.DecodeClientRequest(data)
				require.NoError(t, err)
				assert.Equal(t, req, got)
			}

			events := []ClientEvent{
				ServiceList{Services: []ServiceInfo{{Name: "a", Type: "t", Version: "1"}, {Name: "b", Type: "u", Version: "2"}}},
				BoolResult{OK: true},
				CallResult{Found: true, ID: 42},
				CallResult{Found: false},
				Exception{Name: "echo", ID: 7, Message: "boom"},
				Event{Name: "echo", Key: "tick", Payload: []byte{1, 2, 3}},
				WaitStatus{Name: "echo", Online: true},
				SubscriptionCancelled{Name: "echo", Key: "tick"},
			}
			for _, ev := range events {
				data, err := c.EncodeClientEvent(ev)
				require.NoError(t, err)
				got, err := c.DecodeClientEvent(data)
				require.NoError(t, err)
				assert.Equal(t, ev, got)
			}
		})
	}
}

func TestServiceTrafficSurvivesEncoding(t *testing.T) {
	for _, c := range codecs() {
		t.Run(c.Format.Name(), func(t *testing.T) {
			msg := ServiceException{ID: 9, Message: "no such method"}
			data, err := c.EncodeServiceMessage(msg)
			require.NoError(t, err)
			got, err := c.DecodeServiceMessage(data)
			require.NoError(t, err)
			assert.Equal(t, msg, got)

			cmd := CancelRequest{Key: "ping", ID: 3}
			data, err = c.EncodeServiceCommand(cmd)
			require.NoError(t, err)
			gotCmd, err := c.DecodeServiceCommand(data)
			require.NoError(t, err)
			assert.Equal(t, cmd, gotCmd)

			hs := ServiceHandshake{Magic: ServiceMagic, Version: ServiceVersion, Name: "echo", Type: "demo", ServiceVersion: "1.0"}
			data, err = c.EncodeServiceHandshake(hs)
			require.NoError(t, err)
			gotHs, err := c.DecodeServiceHandshake(data)
			require.NoError(t, err)
			assert.Equal(t, hs, gotHs)
		})
	}
}

func TestUnknownOpcode(t *testing.T) {
	for _, c := range codecs() {
		w := c.Format.NewWriter()
		w.PutInt(99)
		data, err := w.Finish()
		require.NoError(t, err)

		_, err = c.DecodeClientRequest(data)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownOpcode), c.Format.Name())
		var uerr *UnknownOpcodeError
		require.True(t, errors.As(err, &uerr))
		assert.Equal(t, int64(99), uerr.Op)

		_, err = c.DecodeServiceMessage(data)
		assert.True(t, errors.Is(err, ErrUnknownOpcode))
	}
}

func TestTruncatedFrame(t *testing.T) {
	for _, c := range codecs() {
		data, err := c.EncodeClientRequest(CallService{Name: "echo", Key: "ping", Payload: []byte("payload")})
		require.NoError(t, err)

		_, err = c.DecodeClientRequest(data[:len(data)-3])
		require.Error(t, err, c.Format.Name())
		assert.True(t, errors.Is(err, ErrTruncated), "%s: %v", c.Format.Name(), err)
		assert.False(t, errors.Is(err, ErrUnknownOpcode))

		_, err = c.DecodeClientRequest(nil)
		assert.True(t, errors.Is(err, ErrTruncated), c.Format.Name())
	}
}

func TestListLengthBeyondFrame(t *testing.T) {
	// sync, service list, array32 announcing 0x7fffffff entries
	_, err := NewCodec(MsgpackFormat).DecodeClientEvent([]byte{0x00, 0x00, 0xdd, 0x7f, 0xff, 0xff, 0xff})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncated), "%v", err)

	for _, c := range codecs() {
		w := c.Format.NewWriter()
		w.PutInt(int64(SigSync))
		w.PutInt(int64(SyncServiceList))
		w.PutLen(1 << 30)
		data, err := w.Finish()
		require.NoError(t, err)

		_, err = c.DecodeClientEvent(data)
		require.Error(t, err, c.Format.Name())
		assert.True(t, errors.Is(err, ErrTruncated), "%s: %v", c.Format.Name(), err)
	}
}

func TestCancelSignaturesPerDirection(t *testing.T) {
	for _, c := range codecs() {
		t.Run(c.Format.Name(), func(t *testing.T) {
			toService, err := c.EncodeServiceCommand(CancelRequest{Key: "ping", ID: 3})
			require.NoError(t, err)
			r := c.Format.NewReader(toService)
			assert.Equal(t, int64(SigServiceCancelRequest), r.Int())

			toClient, err := c.EncodeClientEvent(CallCancelled{Name: "echo", ID: 3})
			require.NoError(t, err)
			r = c.Format.NewReader(toClient)
			assert.Equal(t, int64(SigCancelRequest), r.Int())

			got, err := c.DecodeClientEvent(toClient)
			require.NoError(t, err)
			assert.Equal(t, CallCancelled{Name: "echo", ID: 3}, got)
		})
	}
}

func TestCallIDOutOfRange(t *testing.T) {
	for _, c := range codecs() {
		w := c.Format.NewWriter()
		w.PutInt(int64(OpCancelCallService))
		w.PutString("echo")
		w.PutUint(1 << 40)
		data, err := w.Finish()
		require.NoError(t, err)

		_, err = c.DecodeClientRequest(data)
		assert.Error(t, err, c.Format.Name())
	}
}

func TestServiceHandshakeWithWrongMagicStopsEarly(t *testing.T) {
	for _, c := range codecs() {
		data, err := c.EncodeClientHandshake(ClientHandshake{Magic: ClientMagic, Version: ClientVersion})
		require.NoError(t, err)

		// a client handshake sent to the service listener has no name fields
		hs, err := c.DecodeServiceHandshake(data)
		require.NoError(t, err)
		assert.Equal(t, ClientMagic, hs.Magic)
		assert.Empty(t, hs.Name)
	}
}
