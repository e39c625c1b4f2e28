package wire

// Handshake constants shared by the broker and its peers
const (
	// ServiceMagic is the magic string a service sends in its handshake
	ServiceMagic = "WS-GATEWAY"
	// ClientMagic is the magic string a client sends in its handshake
	ClientMagic = "WS-GATEWAY-CLIENT"

	// ServiceVersion is the service-side protocol version
	ServiceVersion int64 = 0
	// ClientVersion is the client-side protocol version
	ClientVersion int64 = 0

	// HandshakeResponse is the acknowledgement text sent once a handshake
	// has been accepted
	HandshakeResponse = "WS-GATEWAY OK"

	// NotImplemented is the text reply to an unknown opcode
	NotImplemented = "Not implemented"
)

// ClientOp identifies a client to gateway operation
type ClientOp int64

// Client to gateway operations
const (
	OpGetServiceList     ClientOp = 0
	OpWaitService        ClientOp = 1
	OpCallService        ClientOp = 2
	OpSubscribeService   ClientOp = 3
	OpCancelWaitService  ClientOp = -1
	OpCancelCallService  ClientOp = -2
	OpUnsubscribeService ClientOp = -3
)

// ClientSignature identifies a gateway to client message
type ClientSignature int64

// Gateway to client signatures
const (
	SigSync            ClientSignature = 0
	SigResponse        ClientSignature = 1
	SigBroadcast       ClientSignature = 2
	SigWait            ClientSignature = 3
	SigCancelRequest   ClientSignature = 4
	SigCancelSubscribe ClientSignature = 5
	SigException       ClientSignature = -1
)

// SyncKind discriminates the variants carried by a SigSync envelope
type SyncKind int64

// Sync envelope variants
const (
	SyncServiceList SyncKind = 0
	SyncBool        SyncKind = 1
	SyncCall        SyncKind = 2
)

// ServiceOp identifies a service to gateway message
type ServiceOp int64

// Service to gateway operations
const (
	OpResponse  ServiceOp = 0
	OpBroadcast ServiceOp = 1
	OpException ServiceOp = -1
)

// ServiceSignature identifies a gateway to service message
type ServiceSignature int64

// Gateway to service signatures
const (
	SigRequest              ServiceSignature = 0
	SigServiceCancelRequest ServiceSignature = 1
)
