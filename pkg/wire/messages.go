package wire

// ServiceInfo describes one registered service as reported to clients
type ServiceInfo struct {
	Name    string
	Type    string
	Version string
}

// ClientHandshake is the first frame a client sends
type ClientHandshake struct {
	Magic   string
	Version int64
}

// ServiceHandshake is the first frame a service sends
type ServiceHandshake struct {
	Magic   string
	Version int64
	Name    string
	Type    string
	// ServiceVersion is the version string the service declares for itself
	ServiceVersion string
}

// HandshakeAck is sent by the broker once a handshake has been accepted
type HandshakeAck struct {
	Text string
}

// ClientRequest is a client to gateway message
type ClientRequest interface {
	ClientOp() ClientOp
}

// GetServiceList asks for a snapshot of registered services
type GetServiceList struct{}

// WaitService asks for the status of a service and future transitions
type WaitService struct{ Name string }

// CancelWaitService stops transition notifications for a service
type CancelWaitService struct{ Name string }

// CallService invokes a method on a service
type CallService struct {
	Name    string
	Key     string
	Payload []byte
}

// CancelCallService abandons a pending call
type CancelCallService struct {
	Name string
	ID   uint32
}

// SubscribeService subscribes to a named event stream of a service
type SubscribeService struct{ Name, Key string }

// UnsubscribeService drops a subscription
type UnsubscribeService struct{ Name, Key string }

func (GetServiceList) ClientOp() ClientOp     { return OpGetServiceList }
func (WaitService) ClientOp() ClientOp        { return OpWaitService }
func (CancelWaitService) ClientOp() ClientOp  { return OpCancelWaitService }
func (CallService) ClientOp() ClientOp        { return OpCallService }
func (CancelCallService) ClientOp() ClientOp  { return OpCancelCallService }
func (SubscribeService) ClientOp() ClientOp   { return OpSubscribeService }
func (UnsubscribeService) ClientOp() ClientOp { return OpUnsubscribeService }

// ClientEvent is a gateway to client message, either a Sync reply to the
// client's last request or an asynchronous notification
type ClientEvent interface {
	ClientSignature() ClientSignature
}

// ServiceList is the Sync reply to GetServiceList
type ServiceList struct{ Services []ServiceInfo }

// BoolResult is the Sync reply to wait, cancel-wait, cancel-call,
// subscribe and unsubscribe
type BoolResult struct{ OK bool }

// CallResult is the Sync reply to CallService. ID is meaningful only when
// Found is true.
type CallResult struct {
	Found bool
	ID    uint32
}

// Response delivers the result of a call
type Response struct {
	Name    string
	ID      uint32
	Payload []byte
}

// Exception delivers the failure of a call
type Exception struct {
	Name    string
	ID      uint32
	Message string
}

// Event delivers one broadcast to a subscriber
type Event struct {
	Name    string
	Key     string
	Payload []byte
}

// WaitStatus reports a service going online or offline
type WaitStatus struct {
	Name   string
	Online bool
}

// CallCancelled reports that a pending call was dropped because its
// service went away
type CallCancelled struct {
	Name string
	ID   uint32
}

// SubscriptionCancelled reports that a subscription was dropped because
// its service went away
type SubscriptionCancelled struct{ Name, Key string }

func (ServiceList) ClientSignature() ClientSignature           { return SigSync }
func (BoolResult) ClientSignature() ClientSignature            { return SigSync }
func (CallResult) ClientSignature() ClientSignature            { return SigSync }
func (Response) ClientSignature() ClientSignature              { return SigResponse }
func (Exception) ClientSignature() ClientSignature             { return SigException }
func (Event) ClientSignature() ClientSignature                 { return SigBroadcast }
func (WaitStatus) ClientSignature() ClientSignature            { return SigWait }
func (CallCancelled) ClientSignature() ClientSignature         { return SigCancelRequest }
func (SubscriptionCancelled) ClientSignature() ClientSignature { return SigCancelSubscribe }

// ServiceMessage is a service to gateway message
type ServiceMessage interface {
	ServiceOp() ServiceOp
}

// ServiceResponse answers a Request
type ServiceResponse struct {
	ID      uint32
	Payload []byte
}

// ServiceException fails a Request
type ServiceException struct {
	ID      uint32
	Message string
}

// ServiceBroadcast publishes an event to the subscribers of Key
type ServiceBroadcast struct {
	Key     string
	Payload []byte
}

func (ServiceResponse) ServiceOp() ServiceOp  { return OpResponse }
func (ServiceException) ServiceOp() ServiceOp { return OpException }
func (ServiceBroadcast) ServiceOp() ServiceOp { return OpBroadcast }

// ServiceCommand is a gateway to service message
type ServiceCommand interface {
	ServiceSignature() ServiceSignature
}

// Request asks a service to run method Key
type Request struct {
	Key     string
	ID      uint32
	Payload []byte
}

// CancelRequest tells a service that nobody is waiting for call ID anymore
type CancelRequest struct {
	Key string
	ID  uint32
}

func (Request) ServiceSignature() ServiceSignature       { return SigRequest }
func (CancelRequest) ServiceSignature() ServiceSignature { return SigServiceCancelRequest }
