package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/philipptrenz/openeebus-sub004/internal/ship/mdns"
	"github.com/philipptrenz/openeebus-sub004/internal/ship/session"
	"github.com/philipptrenz/openeebus-sub004/internal/ship/transport"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/device"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/events"
)

// pipeConn is an in-memory transport.Websocket, mirroring ship/session's test
// fake, used here to join a fake dial to a fake inbound accept.
type pipeConn struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
}

func newPipePair() (*pipeConn, *pipeConn) {
	ab := make(chan []byte, 32)
	ba := make(chan []byte, 32)
	a := &pipeConn{out: ab, in: ba, closed: make(chan struct{})}
	b := &pipeConn{out: ba, in: ab, closed: make(chan struct{})}
	return a, b
}

func (p *pipeConn) ReadMessage() (int, []byte, error) {
	select {
	case d, ok := <-p.in:
		if !ok {
			return 0, nil, errPipeClosed
		}
		return 2, d, nil
	case <-p.closed:
		return 0, nil, errPipeClosed
	}
}

func (p *pipeConn) WriteMessage(_ int, data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return errPipeClosed
	}
}

func (p *pipeConn) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

type pipeClosedErr struct{}

func (pipeClosedErr) Error() string { return "pipe closed" }

var errPipeClosed = pipeClosedErr{}

// fakeDialer joins an outbound Dial directly to a peer Node's AcceptInbound,
// simulating a successful TLS+WebSocket upgrade without a real socket.
type fakeDialer struct {
	peer      *Node
	peerSKI   string
	clientSKI string
}

func (d *fakeDialer) Dial(ctx context.Context, uri string) (transport.Websocket, string, error) {
	clientConn, serverConn := newPipePair()
	go d.peer.AcceptInbound(ctx, serverConn, d.clientSKI)
	return clientConn, d.peerSKI, nil
}

type fakeTrust struct{ trusted map[string]bool }

func newFakeTrust(skis ...string) *fakeTrust {
	t := &fakeTrust{trusted: make(map[string]bool)}
	for _, s := range skis {
		t.trusted[s] = true
	}
	return t
}

func (t *fakeTrust) IsTrusted(ski string) bool { return t.trusted[ski] }
func (t *fakeTrust) Register(ski string) error { t.trusted[ski] = true; return nil }
func (t *fakeTrust) Unregister(ski string) error {
	delete(t.trusted, ski)
	return nil
}

func TestNodePairsViaMdnsDiscovery(t *testing.T) {
	const clientSKI = "client-ski"
	const serverSKI = "server-ski"

	serverDevice := device.NewDeviceLocal(address.Device(serverSKI), events.NewBus())
	clientDevice := device.NewDeviceLocal(address.Device(clientSKI), events.NewBus())

	serverNode := New(Config{
		Role:        RoleServer,
		LocalSKI:    serverSKI,
		LocalShipID: "server-ship-id",
		Device:      serverDevice,
		Bus:         events.NewBus(),
		Trust:       newFakeTrust(clientSKI),
	})

	clientMdns := mdns.NewFake()
	clientNode := New(Config{
		Role:        RoleClient,
		LocalSKI:    clientSKI,
		LocalShipID: "client-ship-id",
		Device:      clientDevice,
		Bus:         events.NewBus(),
		Trust:       newFakeTrust(serverSKI),
		Mdns:        clientMdns,
		Dialer:      &fakeDialer{peer: serverNode, peerSKI: serverSKI, clientSKI: clientSKI},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, serverNode.Start(ctx))
	require.NoError(t, clientNode.Start(ctx))

	clientMdns.Publish([]mdns.Entry{{SKI: serverSKI, Host: "127.0.0.1", Port: 4712, Path: "/ship/"}})

	require.Eventually(t, func() bool {
		return len(clientNode.Peers()) == 1 && len(serverNode.Peers()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		cp := clientNode.Peers()[serverSKI]
		sp := serverNode.Peers()[clientSKI]
		return cp != nil && sp != nil &&
			cp.Session.State() == session.StateData &&
			sp.Session.State() == session.StateData
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := clientNode.SenderFor(address.Device(serverSKI))
	require.True(t, ok)
}

func TestNodeRejectsUntrustedInboundSki(t *testing.T) {
	const serverSKI = "server-ski"
	const strangerSKI = "stranger-ski"

	serverDevice := device.NewDeviceLocal(address.Device(serverSKI), events.NewBus())
	serverNode := New(Config{
		Role:        RoleServer,
		LocalSKI:    serverSKI,
		LocalShipID: "server-ship-id",
		Device:      serverDevice,
		Bus:         events.NewBus(),
		Trust:       newFakeTrust(), // stranger is not registered
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, serverNode.Start(ctx))

	_, conn := newPipePair()
	err := serverNode.AcceptInbound(ctx, conn, strangerSKI)
	require.Error(t, err)
	require.Empty(t, serverNode.Peers())
}
