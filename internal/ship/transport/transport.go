// Package transport declares the capability interfaces the SHIP layer needs
// from a socket and certificate implementation, without depending on any
// concrete library. Concrete adapters live outside the core (see wsadapter).
package transport

import "context"

// Websocket is the minimal duplex-message socket the Session drives. It
// mirrors gorilla/websocket's own Conn surface closely enough that a thin
// pass-through adapter is all a concrete implementation needs to supply.
type Websocket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// WebsocketCreator opens outbound sockets and accepts inbound ones.
type WebsocketCreator interface {
	// Dial opens a client connection to uri, returning the connected
	// socket and the SKI the peer's certificate presented.
	Dial(ctx context.Context, uri string) (conn Websocket, peerSKI string, err error)
}

// TlsCertificate exposes this side's own SKI, used when advertising via
// accessMethods and mDNS.
type TlsCertificate interface {
	SKI() string
}

// DataReader receives decoded SPINE payloads handed up from a Session once
// it reaches the DATA state. In this core the Dispatcher implements it.
type DataReader interface {
	HandleSpineDatagram(fromSKI string, payload []byte)
}
