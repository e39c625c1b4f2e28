// Package session runs the per-connection protocol state machines of the
// gateway on top of a message-oriented Conn.
package session

import (
	"fmt"
	"sync/atomic"

	gwshare "github.com/sammck-go/wsgateway/share"
)

// MessageType distinguishes protocol frames from human readable reports
type MessageType int

const (
	// BinaryMessage carries one encoded protocol message
	BinaryMessage MessageType = iota
	// TextMessage carries a diagnostic string for the peer
	TextMessage
)

func (t MessageType) String() string {
	if t == TextMessage {
		return "text"
	}
	return "binary"
}

// Message is one discrete frame on a Conn
type Message struct {
	Type MessageType
	Data []byte
}

// Binary wraps an encoded protocol message
func Binary(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Text wraps a diagnostic string
func Text(s string) Message {
	return Message{Type: TextMessage, Data: []byte(s)}
}

// Conn is a duplex connection that carries discrete messages
type Conn interface {
	gwshare.AsyncShutdowner
	fmt.Stringer

	// ReadMessage blocks for the next inbound message. It returns io.EOF
	// when the peer closed the connection normally.
	ReadMessage() (Message, error)

	// WriteMessage sends one message. At most one goroutine may write at a time.
	WriteMessage(m Message) error

	// Close shuts the connection down and waits for it to finish
	Close() error

	// GetNumBytesRead returns the number of payload bytes read so far
	GetNumBytesRead() int64

	// GetNumBytesWritten returns the number of payload bytes written so far
	GetNumBytesWritten() int64
}

var nextBasicConnID int32

// AllocBasicConnID allocates a unique Conn ID number, for logging purposes
func AllocBasicConnID() int32 {
	return atomic.AddInt32(&nextBasicConnID, 1)
}

// BasicConn is the common base of Conn implementations
type BasicConn struct {
	gwshare.ShutdownHelper
	ID              int32
	Strname         string
	NumBytesRead    int64
	NumBytesWritten int64
}

// InitBasicConn initializes the BasicConn portion of a new connection object
func (c *BasicConn) InitBasicConn(
	logger gwshare.Logger,
	shutdownHandler gwshare.OnceShutdownHandler,
	namef string, args ...interface{}) {
	c.ID = AllocBasicConnID()
	c.Strname = fmt.Sprintf("[%d]", c.ID) + fmt.Sprintf(namef, args...)
	c.InitShutdownHelper(logger.Fork("%s", c.Strname), shutdownHandler)
}

// GetNumBytesRead returns the number of payload bytes read so far
func (c *BasicConn) GetNumBytesRead() int64 {
	return atomic.LoadInt64(&c.NumBytesRead)
}

// GetNumBytesWritten returns the number of payload bytes written so far
func (c *BasicConn) GetNumBytesWritten() int64 {
	return atomic.LoadInt64(&c.NumBytesWritten)
}

func (c *BasicConn) String() string {
	return c.Strname
}
