package broker

// LinkKind is the kind of relationship a client holds against a service name
type LinkKind int

const (
	// LinkCall is a pending call, identified by its id
	LinkCall LinkKind = iota
	// LinkSubscription is a subscription to an event key
	LinkSubscription
	// LinkWait is a registration for online/offline transitions
	LinkWait
)

func (k LinkKind) String() string {
	switch k {
	case LinkCall:
		return "call"
	case LinkSubscription:
		return "subscription"
	case LinkWait:
		return "wait"
	}
	return "unknown"
}

// Link is one entry of a client's trace. Every pending call, subscription
// and wait registration held by a client has exactly one Link, and every
// Link has exactly one such relationship.
type Link struct {
	Kind LinkKind
	Name string
	// Key is the method key of a call or the event key of a subscription
	Key string
	// ID is the call id; zero for other kinds
	ID uint32
}

func callLink(name, key string, id uint32) Link {
	return Link{Kind: LinkCall, Name: name, Key: key, ID: id}
}

func subscriptionLink(name, key string) Link {
	return Link{Kind: LinkSubscription, Name: name, Key: key}
}

func waitLink(name string) Link {
	return Link{Kind: LinkWait, Name: name}
}
