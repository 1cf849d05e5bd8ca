// Package wsadapter is the concrete gorilla/websocket transport: it
// implements ship/transport's Websocket and WebsocketCreator over a real
// TLS socket, plus the HTTP-side upgrade helper an embedder's server uses
// to accept inbound connections. Ping/pong and idle-close handling is
// adapted from the teacher's websocket.hub writePump/readPump pair.
package wsadapter

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/philipptrenz/openeebus-sub004/internal/ship/transport"
)

const (
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
	idleTimeout  = 5 * time.Minute
	writeTimeout = 10 * time.Second
	readLimit    = 1 << 20
)

// Conn adapts a *websocket.Conn to transport.Websocket, running its own
// ping keepalive and idle-close goroutine alongside the caller-driven
// ReadMessage/WriteMessage loop (the Session owns that loop; this type
// only supplies the liveness pump underneath it).
type Conn struct {
	conn *ws.Conn

	writeMu sync.Mutex
	done    chan struct{}
	closeOnce sync.Once
}

// NewConn wraps an already-upgraded gorilla connection and starts its
// keepalive pump.
func NewConn(c *ws.Conn) *Conn {
	conn := &Conn{conn: c, done: make(chan struct{})}
	c.SetReadLimit(readLimit)
	c.SetReadDeadline(time.Now().Add(pongTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	go conn.keepalivePump()
	return conn
}

// ReadMessage implements transport.Websocket.
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// WriteMessage implements transport.Websocket. Writes are serialised on
// writeMu, which the keepalive pump also holds while it writes its pings.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	return c.conn.WriteMessage(messageType, data)
}

// Close implements transport.Websocket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *Conn) keepalivePump() {
	pingTicker := time.NewTicker(pingInterval)
	idleTimer := time.NewTimer(idleTimeout)
	defer func() {
		pingTicker.Stop()
		idleTimer.Stop()
	}()
	for {
		select {
		case <-c.done:
			return
		case <-idleTimer.C:
			_ = c.Close()
			return
		case <-pingTicker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			err := c.conn.WriteMessage(ws.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// SKIFromCertificate derives a SHIP/SPINE SKI from an X.509 certificate's
// Subject Key Identifier extension (falling back to a SHA-1 of the public
// key if the extension is absent, matching common x509 tooling), rendered
// as lowercase hex - the form EEBUS device identifiers use on the wire.
func SKIFromCertificate(cert *x509.Certificate) string {
	if len(cert.SubjectKeyId) > 0 {
		return hex.EncodeToString(cert.SubjectKeyId)
	}
	sum := sha1.Sum(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:])
}

func skiFromConnState(state tls.ConnectionState) (string, error) {
	if len(state.PeerCertificates) == 0 {
		return "", errors.New("wsadapter: no peer certificate presented")
	}
	return SKIFromCertificate(state.PeerCertificates[0]), nil
}

// Dialer implements transport.WebsocketCreator over a real mutual-TLS
// WebSocket dial.
type Dialer struct {
	TLSConfig *tls.Config
}

// Dial implements transport.WebsocketCreator.
func (d *Dialer) Dial(ctx context.Context, uri string) (transport.Websocket, string, error) {
	dialer := ws.Dialer{
		TLSClientConfig:  d.TLSConfig,
		HandshakeTimeout: writeTimeout,
	}
	c, resp, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("wsadapter: dial %s: %w", uri, err)
	}
	if resp.TLS == nil {
		_ = c.Close()
		return nil, "", errors.New("wsadapter: dial did not negotiate TLS")
	}
	ski, err := skiFromConnState(*resp.TLS)
	if err != nil {
		_ = c.Close()
		return nil, "", err
	}
	return NewConn(c), ski, nil
}

// Upgrader accepts inbound HTTP requests as SHIP WebSocket connections,
// requiring and extracting the client's TLS certificate SKI.
type Upgrader struct {
	upgrader ws.Upgrader
}

// NewUpgrader constructs an Upgrader that selects the "ship" subprotocol
// when the client offers it. A client that offers no subprotocol is still
// accepted.
func NewUpgrader() *Upgrader {
	return &Upgrader{upgrader: ws.Upgrader{Subprotocols: []string{"ship"}}}
}

// Accept upgrades r/w to a WebSocket connection and returns it alongside
// the peer SKI read from the request's client certificate.
func (u *Upgrader) Accept(w http.ResponseWriter, r *http.Request) (transport.Websocket, string, error) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, "", errors.New("wsadapter: no client certificate presented")
	}
	ski := SKIFromCertificate(r.TLS.PeerCertificates[0])

	c, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, "", fmt.Errorf("wsadapter: upgrade: %w", err)
	}
	return NewConn(c), ski, nil
}
