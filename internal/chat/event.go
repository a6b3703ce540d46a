package chat

// Event is a notification from the networking layer. The concrete types
// below are the only implementations.
type Event interface {
	isEvent()
}

// PeerDiscovered reports a peer found on the local link
type PeerDiscovered struct {
	Peer  string
	Addrs []string
}

// PeerExpired reports that a discovered peer has not been seen recently
type PeerExpired struct {
	Peer  string
	Addrs []string
}

// PeerSubscribed reports that a peer joined the chat topic
type PeerSubscribed struct {
	Peer string
}

// PeerUnsubscribed reports that a peer left the chat topic
type PeerUnsubscribed struct {
	Peer string
}

// PayloadReceived carries raw bytes published on the chat topic
type PayloadReceived struct {
	From string
	Data []byte
}

func (PeerDiscovered) isEvent()   {}
func (PeerExpired) isEvent()      {}
func (PeerSubscribed) isEvent()   {}
func (PeerUnsubscribed) isEvent() {}
func (PayloadReceived) isEvent()  {}
