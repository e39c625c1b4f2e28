package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/golang/protobuf/proto"
)

// ProtowireFormat writes fields with protobuf wire primitives and no field
// tags: signed ints as zigzag varints, unsigned ints, bools and lengths as
// varints, strings and bytes length-prefixed.
var ProtowireFormat Format = protowireFormat{}

func init() {
	registerFormat(ProtowireFormat)
}

type protowireFormat struct{}

func (protowireFormat) Name() string { return "protowire" }

func (protowireFormat) NewWriter() Writer {
	return &protowireWriter{buf: proto.NewBuffer(nil)}
}

func (protowireFormat) NewReader(data []byte) Reader {
	return &protowireReader{buf: proto.NewBuffer(data), size: len(data)}
}

type protowireWriter struct {
	buf *proto.Buffer
	err error
}

func (w *protowireWriter) put(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *protowireWriter) PutInt(v int64) {
	if w.err == nil {
		w.put(w.buf.EncodeZigzag64(uint64(v)))
	}
}

func (w *protowireWriter) PutUint(v uint64) {
	if w.err == nil {
		w.put(w.buf.EncodeVarint(v))
	}
}

func (w *protowireWriter) PutString(s string) {
	if w.err == nil {
		w.put(w.buf.EncodeStringBytes(s))
	}
}

func (w *protowireWriter) PutBool(b bool) {
	var v uint64
	if b {
		v = 1
	}
	w.PutUint(v)
}

func (w *protowireWriter) PutBytes(b []byte) {
	if w.err == nil {
		w.put(w.buf.EncodeRawBytes(b))
	}
}

func (w *protowireWriter) PutLen(n int) {
	w.PutUint(uint64(n))
}

func (w *protowireWriter) Finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

type protowireReader struct {
	buf  *proto.Buffer
	size int
	err  error
}

func (r *protowireReader) Fail(err error) {
	if r.err != nil {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrTruncated
	}
	r.err = fmt.Errorf("protowire: %w", err)
}

func (r *protowireReader) varint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.buf.DecodeVarint()
	if err != nil {
		r.Fail(err)
		return 0
	}
	return v
}

func (r *protowireReader) Int() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.buf.DecodeZigzag64()
	if err != nil {
		r.Fail(err)
		return 0
	}
	return int64(v)
}

func (r *protowireReader) Uint() uint64 {
	return r.varint()
}

func (r *protowireReader) String() string {
	if r.err != nil {
		return ""
	}
	v, err := r.buf.DecodeStringBytes()
	if err != nil {
		r.Fail(err)
		return ""
	}
	return v
}

func (r *protowireReader) Bool() bool {
	v := r.varint()
	if v > 1 {
		r.Fail(fmt.Errorf("bad bool value %d", v))
		return false
	}
	return v == 1
}

func (r *protowireReader) Bytes() []byte {
	if r.err != nil {
		return nil
	}
	v, err := r.buf.DecodeRawBytes(true)
	if err != nil {
		r.Fail(err)
		return nil
	}
	return v
}

func (r *protowireReader) Len() int {
	v := r.varint()
	if v > uint64(r.size) {
		// every element takes at least one byte
		r.Fail(fmt.Errorf("list length %d exceeds frame: %w", v, ErrTruncated))
		return 0
	}
	return int(v)
}

func (r *protowireReader) Err() error {
	return r.err
}
