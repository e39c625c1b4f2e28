package wire

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrTruncated is returned when a frame ends before all expected fields
	// have been read
	ErrTruncated = errors.New("truncated frame")

	// ErrUnknownOpcode is returned when a frame carries an opcode this
	// protocol revision does not define
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrUnknownFormat is returned by FormatByName for unregistered names
	ErrUnknownFormat = errors.New("unknown wire format")
)

// Writer appends primitive fields to a frame. Errors are sticky: after the
// first failure further Puts are ignored and Finish returns that failure.
type Writer interface {
	PutInt(v int64)
	PutUint(v uint64)
	PutString(s string)
	PutBool(b bool)
	PutBytes(b []byte)
	// PutLen writes the element count of a following list
	PutLen(n int)
	Finish() ([]byte, error)
}

// Reader consumes primitive fields from a frame. Errors are sticky: after
// the first failure every getter returns a zero value and Err reports the
// failure.
type Reader interface {
	Int() int64
	Uint() uint64
	String() string
	Bool() bool
	Bytes() []byte
	Len() int
	// Fail records err as the sticky error unless one is already set
	Fail(err error)
	Err() error
}

// Format is a byte-level encoding for the primitive field kinds the
// protocol uses
type Format interface {
	Name() string
	NewWriter() Writer
	NewReader(data []byte) Reader
}

var formats = map[string]Format{}

func registerFormat(f Format) {
	formats[f.Name()] = f
}

// FormatByName returns a registered Format
func FormatByName(name string) (Format, error) {
	f, ok := formats[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownFormat, name, FormatNames())
	}
	return f, nil
}

// FormatNames lists the registered format names
func FormatNames() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
