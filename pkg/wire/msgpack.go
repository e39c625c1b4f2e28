package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackFormat writes each field as a standalone msgpack value, one after
// another, with no enclosing array
var MsgpackFormat Format = msgpackFormat{}

func init() {
	registerFormat(MsgpackFormat)
}

type msgpackFormat struct{}

func (msgpackFormat) Name() string { return "msgpack" }

func (msgpackFormat) NewWriter() Writer {
	w := &msgpackWriter{}
	w.enc = msgpack.NewEncoder(&w.buf)
	return w
}

func (msgpackFormat) NewReader(data []byte) Reader {
	src := bytes.NewReader(data)
	return &msgpackReader{src: src, dec: msgpack.NewDecoder(src)}
}

type msgpackWriter struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
	err error
}

func (w *msgpackWriter) put(f func() error) {
	if w.err == nil {
		w.err = f()
	}
}

func (w *msgpackWriter) PutInt(v int64)     { w.put(func() error { return w.enc.EncodeInt(v) }) }
func (w *msgpackWriter) PutUint(v uint64)   { w.put(func() error { return w.enc.EncodeUint(v) }) }
func (w *msgpackWriter) PutString(s string) { w.put(func() error { return w.enc.EncodeString(s) }) }
func (w *msgpackWriter) PutBool(b bool)     { w.put(func() error { return w.enc.EncodeBool(b) }) }
func (w *msgpackWriter) PutBytes(b []byte)  { w.put(func() error { return w.enc.EncodeBytes(b) }) }
func (w *msgpackWriter) PutLen(n int)       { w.put(func() error { return w.enc.EncodeArrayLen(n) }) }

func (w *msgpackWriter) Finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

type msgpackReader struct {
	src *bytes.Reader
	dec *msgpack.Decoder
	err error
}

func (r *msgpackReader) Fail(err error) {
	if r.err != nil {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrTruncated
	}
	r.err = fmt.Errorf("msgpack: %w", err)
}

func (r *msgpackReader) Int() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeInt64()
	if err != nil {
		r.Fail(err)
	}
	return v
}

func (r *msgpackReader) Uint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeUint64()
	if err != nil {
		r.Fail(err)
	}
	return v
}

func (r *msgpackReader) String() string {
	if r.err != nil {
		return ""
	}
	v, err := r.dec.DecodeString()
	if err != nil {
		r.Fail(err)
	}
	return v
}

func (r *msgpackReader) Bool() bool {
	if r.err != nil {
		return false
	}
	v, err := r.dec.DecodeBool()
	if err != nil {
		r.Fail(err)
	}
	return v
}

func (r *msgpackReader) Bytes() []byte {
	if r.err != nil {
		return nil
	}
	v, err := r.dec.DecodeBytes()
	if err != nil {
		r.Fail(err)
	}
	return v
}

func (r *msgpackReader) Len() int {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeArrayLen()
	if err != nil {
		r.Fail(err)
		return 0
	}
	if v < 0 {
		// nil array
		return 0
	}
	// every element takes at least one byte; src is read directly since
	// bytes.Reader is an io.ByteScanner
	if v > r.src.Len() {
		r.Fail(fmt.Errorf("list length %d exceeds frame: %w", v, ErrTruncated))
		return 0
	}
	return v
}

func (r *msgpackReader) Err() error {
	return r.err
}
