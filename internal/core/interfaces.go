package core

// Transport abstracts the message-oriented connection to the signaling
// gateway. Owned by the adapter; the adapter must Disconnect() it.
type Transport interface {
	Connect() error
	Disconnect()
	Send(text []byte) error
}

// TransportEvents is the inbound side of the transport boundary. The
// signaling client implements it; the adapter calls it from its read loop.
type TransportEvents interface {
	OnConnected()
	OnDisconnected(reason string, code int)
	OnMessage(text []byte)
	OnError(err error)
}
