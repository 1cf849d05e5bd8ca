// Package node implements the Peer Registry and Node controller: the
// top-level object that owns discovery, accepts inbound SHIP sessions,
// opens outbound ones, and demultiplexes per-peer traffic. Grounded on
// original_source/src/ship/ship_node/ship_node.c's connection-lifecycle
// handling, re-expressed as a single control-queue goroutine per spec
// §4.6.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/philipptrenz/openeebus-sub004/internal/metrics"
	"github.com/philipptrenz/openeebus-sub004/internal/ship/mdns"
	"github.com/philipptrenz/openeebus-sub004/internal/ship/session"
	"github.com/philipptrenz/openeebus-sub004/internal/ship/transport"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/device"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/dispatcher"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/events"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/nodemanagement"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/sender"
)

// Role is the Node's connection-direction policy.
type Role int

const (
	RoleServer Role = iota
	RoleClient
	RoleAuto
)

// TrustStore reports and maintains the set of SKIs the Node will pair with.
// Satisfied by *internal/trust.Store; declared here so node does not import
// the concrete file-backed implementation.
type TrustStore interface {
	IsTrusted(ski string) bool
	Register(ski string) error
	Unregister(ski string) error
}

// Peer is one paired remote: its mirrored device graph, the Session driving
// its WebSocket, the Sender that addresses it, and the Dispatcher routing
// its inbound datagrams.
type Peer struct {
	SKI        string
	DeviceRemote *device.DeviceRemote
	Session    *session.Session
	Sender     *sender.Sender
	Dispatcher *dispatcher.Dispatcher
}

// Config parameterises a Node.
type Config struct {
	Role Role

	LocalSKI    string
	LocalShipID string

	Device  *device.DeviceLocal
	Bus     *events.Bus
	Trust   TrustStore
	Mdns    mdns.Browser
	Dialer  transport.WebsocketCreator

	// HelloTimeout, CloseTimeout and ResponseTimeout override the
	// Session/Dispatcher defaults when non-zero.
	HelloTimeout    time.Duration
	CloseTimeout    time.Duration
	ResponseTimeout time.Duration

	Logger *slog.Logger
}

type controlMsg struct {
	mdnsEntries      []mdns.Entry
	connectionClosed *connectionClosedMsg
	registerSki      string
	unregisterSki    string
}

type connectionClosedMsg struct {
	ski       string
	sessionID string
	reason    session.Reason
}

// Node is the top-level controller: peer registry, discovery consumer and
// control-queue owner.
type Node struct {
	cfg Config
	log *slog.Logger

	mu               sync.Mutex
	peers            map[string]*Peer
	attemptInFlight  map[string]bool
	snapshot         []mdns.Entry

	control chan controlMsg
	done    chan struct{}
}

// New constructs a Node. Call Start to begin discovery and the control loop.
func New(cfg Config) *Node {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Node{
		cfg:             cfg,
		log:             log.With("component", "node", "local_ski", cfg.LocalSKI),
		peers:           make(map[string]*Peer),
		attemptInFlight: make(map[string]bool),
		control:         make(chan controlMsg, 32),
		done:            make(chan struct{}),
	}
}

// Start begins mDNS discovery (if the role allows outbound connects) and
// launches the single control-queue goroutine.
func (n *Node) Start(ctx context.Context) error {
	go n.controlLoop(ctx)
	if n.cfg.Role == RoleClient || n.cfg.Role == RoleAuto {
		if n.cfg.Mdns != nil {
			if err := n.cfg.Mdns.Start(n.onMdnsSnapshot); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop stops mDNS browsing, closes the done channel that ends the control
// loop, then requests Close on every active Peer's Session. It returns
// without waiting for the control loop or the Sessions to finish.
func (n *Node) Stop() {
	if n.cfg.Mdns != nil {
		_ = n.cfg.Mdns.Stop()
	}
	close(n.done)
	n.mu.Lock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()
	for _, p := range peers {
		p.Session.Close(session.ReasonLocalClose)
	}
}

// Peers returns a snapshot of the currently active peers, keyed by SKI.
func (n *Node) Peers() map[string]*Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]*Peer, len(n.peers))
	for k, v := range n.peers {
		out[k] = v
	}
	return out
}

// SenderFor implements dispatcher.SenderLookup: resolving the Sender that
// reaches a given remote device by treating its address as that peer's SKI.
func (n *Node) SenderFor(remoteDevice address.Device) (*sender.Sender, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[string(remoteDevice)]
	if !ok {
		return nil, false
	}
	return p.Sender, true
}

func (n *Node) onMdnsSnapshot(entries []mdns.Entry) {
	n.mu.Lock()
	n.snapshot = entries
	n.mu.Unlock()
	metrics.MdnsDiscoveryEvents.Inc()
	n.cfg.Bus.Publish(events.Payload{Type: events.EntityChange, Change: events.ChangeAdd, Detail: entries})
	select {
	case n.control <- controlMsg{mdnsEntries: entries}:
	case <-n.done:
	}
}

// notifyConnectionClosed is the OnClosed hook wired into every Peer's
// Session, posting ShipConnectionClosed to the control queue.
func (n *Node) notifyConnectionClosed(ski, sessionID string, reason session.Reason) {
	select {
	case n.control <- controlMsg{connectionClosed: &connectionClosedMsg{ski: ski, sessionID: sessionID, reason: reason}}:
	case <-n.done:
	}
}

// RegisterSki posts a trusted-SKI addition to the control queue.
func (n *Node) RegisterSki(ski string) {
	select {
	case n.control <- controlMsg{registerSki: ski}:
	case <-n.done:
	}
}

// UnregisterSki posts a trusted-SKI removal to the control queue.
func (n *Node) UnregisterSki(ski string) {
	select {
	case n.control <- controlMsg{unregisterSki: ski}:
	case <-n.done:
	}
}

func (n *Node) controlLoop(ctx context.Context) {
	for {
		select {
		case <-n.done:
			return
		case <-ctx.Done():
			return
		case msg := <-n.control:
			switch {
			case msg.mdnsEntries != nil:
				n.handleMdnsEntriesFound(ctx, msg.mdnsEntries)
			case msg.connectionClosed != nil:
				n.handleConnectionClosed(*msg.connectionClosed)
			case msg.registerSki != "":
				if err := n.cfg.Trust.Register(msg.registerSki); err != nil {
					n.log.Warn("register ski failed", "event", "node.register_error", "err", err)
				}
			case msg.unregisterSki != "":
				if err := n.cfg.Trust.Unregister(msg.unregisterSki); err != nil {
					n.log.Warn("unregister ski failed", "event", "node.unregister_error", "err", err)
				}
				n.teardownPeer(msg.unregisterSki)
			}
		}
	}
}

func (n *Node) handleMdnsEntriesFound(ctx context.Context, entries []mdns.Entry) {
	for _, e := range entries {
		if !n.cfg.Trust.IsTrusted(e.SKI) {
			continue
		}
		n.mu.Lock()
		_, active := n.peers[e.SKI]
		inFlight := n.attemptInFlight[e.SKI]
		if !active && !inFlight {
			n.attemptInFlight[e.SKI] = true
		}
		shouldDial := !active && !inFlight
		n.mu.Unlock()
		if shouldDial {
			go n.dial(ctx, e)
		}
	}
}

func (n *Node) dial(ctx context.Context, e mdns.Entry) {
	defer func() {
		n.mu.Lock()
		delete(n.attemptInFlight, e.SKI)
		n.mu.Unlock()
	}()
	uri := fmt.Sprintf("wss://%s:%d%s", e.Host, e.Port, e.Path)
	conn, peerSKI, err := n.cfg.Dialer.Dial(ctx, uri)
	if err != nil {
		n.log.Warn("dial failed", "event", "node.dial_error", "uri", uri, "err", err)
		return
	}
	if peerSKI != e.SKI {
		n.log.Warn("dialed peer SKI mismatch", "event", "node.dial_ski_mismatch", "expected", e.SKI, "got", peerSKI)
		_ = conn.Close()
		return
	}
	n.mu.Lock()
	_, active := n.peers[e.SKI]
	n.mu.Unlock()
	if active {
		_ = conn.Close()
		return
	}
	n.newPeer(ctx, conn, e.SKI, session.RoleClient)
}

// AcceptInbound is called by the embedder's HTTP/WebSocket upgrade handler
// once it has verified peerSKI from the client certificate. It is the sole
// authentication check in the stack: the SKI must already be trusted and no
// Peer for it may be active.
func (n *Node) AcceptInbound(ctx context.Context, conn transport.Websocket, peerSKI string) error {
	if !n.cfg.Trust.IsTrusted(peerSKI) {
		_ = conn.Close()
		return fmt.Errorf("node: ski %q is not trusted", peerSKI)
	}
	n.mu.Lock()
	_, active := n.peers[peerSKI]
	n.mu.Unlock()
	if active {
		_ = conn.Close()
		return fmt.Errorf("node: ski %q already has an active peer", peerSKI)
	}
	n.newPeer(ctx, conn, peerSKI, session.RoleServer)
	return nil
}

func (n *Node) newPeer(ctx context.Context, conn transport.Websocket, ski string, role session.Role) {
	remoteDevice := address.Device(ski)
	deviceRemote := n.cfg.Device.AddRemote(remoteDevice)

	disp := dispatcher.New(dispatcher.Config{
		Device:          n.cfg.Device,
		LocalDevice:     address.Device(n.cfg.LocalSKI),
		RemoteDevice:    remoteDevice,
		Lookup:          n,
		ResponseTimeout: n.cfg.ResponseTimeout,
		Logger:          n.log,
	})

	var (
		bootstrapOnce sync.Once
		snd           *sender.Sender
	)
	sess := session.New(conn, session.Config{
		Role:         role,
		LocalSKI:     n.cfg.LocalSKI,
		PeerSKI:      ski,
		LocalShipID:  n.cfg.LocalShipID,
		HelloTimeout: n.cfg.HelloTimeout,
		CloseTimeout: n.cfg.CloseTimeout,
		DataReader:   disp,
		Logger:       n.log,
		OnClosed: func(s *session.Session, reason session.Reason) {
			n.notifyConnectionClosed(ski, s.ID(), reason)
		},
		OnStateChange: func(s *session.Session, from, to session.State) {
			if role != session.RoleClient || to != session.StateData {
				return
			}
			bootstrapOnce.Do(func() {
				go func() {
					if err := nodemanagement.Bootstrap(ctx, snd, address.Device(n.cfg.LocalSKI), remoteDevice); err != nil {
						n.log.Warn("bootstrap failed", "event", "node.bootstrap_error", "ski", ski, "err", err)
					}
				}()
			})
		},
	})

	snd = sender.New(sess, 1)
	disp.SetSender(snd)
	nmFeature := nodemanagement.New(n.cfg.Device, address.Device(n.cfg.LocalSKI), n.cfg.LocalShipID)
	disp.SetNodeManagement(nmFeature.Handle)

	p := &Peer{SKI: ski, DeviceRemote: deviceRemote, Session: sess, Sender: snd, Dispatcher: disp}
	n.mu.Lock()
	n.peers[ski] = p
	count := len(n.peers)
	n.mu.Unlock()
	metrics.ActivePeers.Set(float64(count))

	if err := sess.Start(ctx); err != nil {
		n.log.Warn("session start failed", "event", "node.session_start_error", "ski", ski, "err", err)
		n.teardownPeer(ski)
	}
}

func (n *Node) handleConnectionClosed(msg connectionClosedMsg) {
	n.mu.Lock()
	p, ok := n.peers[msg.ski]
	n.mu.Unlock()
	if !ok || p.Session.ID() != msg.sessionID {
		return
	}
	n.teardownPeer(msg.ski)
	n.cfg.Bus.Publish(events.Payload{Type: events.SkiDisconnected, SKI: msg.ski, Detail: msg.reason})
}

func (n *Node) teardownPeer(ski string) {
	n.mu.Lock()
	p, ok := n.peers[ski]
	if ok {
		delete(n.peers, ski)
	}
	count := len(n.peers)
	n.mu.Unlock()
	if !ok {
		return
	}
	metrics.ActivePeers.Set(float64(count))
	p.Dispatcher.CancelAll()
	n.cfg.Device.RemoveRemote(address.Device(ski))
}
