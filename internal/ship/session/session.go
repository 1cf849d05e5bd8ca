// Package session implements the SHIP per-connection state machine: the
// pairing handshake that every WebSocket must complete before SPINE
// datagrams may flow, and the orderly close procedure.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/philipptrenz/openeebus-sub004/internal/metrics"
	"github.com/philipptrenz/openeebus-sub004/internal/ship/codec"
	"github.com/philipptrenz/openeebus-sub004/internal/ship/model"
	"github.com/philipptrenz/openeebus-sub004/internal/ship/transport"
)

// State is a SHIP session state.
type State int

const (
	StateInit State = iota
	StateHelloSent
	StateHandshake
	StatePin
	StateAccess
	StateData
	StateClosing
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHelloSent:
		return "HELLO_SENT"
	case StateHandshake:
		return "HANDSHAKE"
	case StatePin:
		return "PIN"
	case StateAccess:
		return "ACCESS"
	case StateData:
		return "DATA"
	case StateClosing:
		return "CLOSING"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Role is the side of the connection a Session plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Reason explains why a session ended.
type Reason int

const (
	ReasonUnspecific Reason = iota
	ReasonRemoteClosed
	ReasonTimeout
	ReasonProtocolViolation
	ReasonLocalClose
	ReasonTransportError
)

// default timer durations, overridable via Config.
const (
	DefaultHelloTimeout = 10 * time.Second
	DefaultCloseTimeout = 3 * time.Second
)

// Config parameterises a Session.
type Config struct {
	Role Role

	// LocalSKI identifies this side; the Session itself does not read it
	// (accessMethods carries LocalShipID, the logger is tagged with PeerSKI).
	LocalSKI string
	// PeerSKI is the SKI the transport verified before upgrade.
	PeerSKI string

	LocalShipID          string
	SupportedFormats      []model.MessageProtocolFormatType
	HelloTimeout          time.Duration
	CloseTimeout          time.Duration

	// DataReader receives SPINE payloads once the session reaches DATA.
	DataReader transport.DataReader

	// OnStateChange is invoked (off the session's own goroutine is never
	// guaranteed; callers must not block) on every transition.
	OnStateChange func(s *Session, from, to State)
	// OnClosed is invoked exactly once when the session reaches ABORTED.
	OnClosed func(s *Session, reason Reason)

	Logger *slog.Logger
}

type queuedFrame struct {
	msg model.Message
	err error
}

// Session drives one WebSocket through the SHIP handshake and DATA phases.
type Session struct {
	cfg  Config
	conn transport.Websocket
	id   string
	log  *slog.Logger

	mu    sync.Mutex
	state State

	peerMaxVersion model.Version
	peerFormats    []model.MessageProtocolFormatType
	negotiated     struct {
		version model.Version
		format  model.MessageProtocolFormatType
	}

	outbound chan []byte
	frames   chan queuedFrame
	closeReq chan Reason
	done     chan struct{}
	closedOnce sync.Once
}

// New constructs a Session bound to an already-connected socket. Call Start
// to begin driving it.
func New(conn transport.Websocket, cfg Config) *Session {
	if cfg.HelloTimeout == 0 {
		cfg.HelloTimeout = DefaultHelloTimeout
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	if len(cfg.SupportedFormats) == 0 {
		cfg.SupportedFormats = []model.MessageProtocolFormatType{model.FormatJSONUTF8}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	id := uuid.New().String()
	return &Session{
		cfg:      cfg,
		conn:     conn,
		id:       id,
		log:      log.With("component", "ship.session", "session_id", id, "peer_ski", cfg.PeerSKI),
		state:    StateInit,
		outbound: make(chan []byte, 16),
		frames:   make(chan queuedFrame, 16),
		closeReq: make(chan Reason, 1),
		done:     make(chan struct{}),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID is the session's log-correlation identifier (not protocol-visible).
func (s *Session) ID() string { return s.id }

// Start launches the reader, writer and state machine goroutines. It
// returns once the INIT ping has been queued for the writer.
func (s *Session) Start(ctx context.Context) error {
	go s.writerLoop()
	go s.readerLoop()
	go s.machineLoop(ctx)

	s.log.Info("session starting", "event", "session.start", "role", s.roleString())
	return s.enqueueInitPing()
}

func (s *Session) roleString() string {
	if s.cfg.Role == RoleClient {
		return "client"
	}
	return "server"
}

// Close requests an orderly shutdown: announce/confirm close handshake if in
// DATA, or an immediate abort otherwise.
func (s *Session) Close(reason Reason) {
	select {
	case s.closeReq <- reason:
	default:
	}
}

// Done is closed once the session reaches ABORTED and all goroutines exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// SendData enqueues a SPINE payload as an outbound DATA frame. Only valid
// once the Session has reached StateData; otherwise returns an error.
func (s *Session) SendData(payload []byte) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != StateData {
		return fmt.Errorf("ship session: cannot send data in state %s", st)
	}
	frame, err := codec.Encode(model.Message{
		Type: model.MsgTypeData,
		Data: &model.Data{Header: model.DataHeader{ProtocolID: model.ProtocolID}, Payload: payload},
	})
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *Session) write(frame []byte) error {
	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return errors.New("ship session: closed")
	}
}

func (s *Session) enqueueInitPing() error {
	frame, err := codec.Encode(model.Message{Type: model.MsgTypeInit})
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *Session) writerLoop() {
	for {
		select {
		case frame, ok := <-s.outbound:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(2, frame); err != nil {
				s.log.Warn("write failed", "event", "session.write_error", "err", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) readerLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.frames <- queuedFrame{err: err}:
			case <-s.done:
			}
			return
		}
		msg, decErr := codec.Decode(data)
		select {
		case s.frames <- queuedFrame{msg: msg, err: decErr}:
		case <-s.done:
			return
		}
	}
}

func (s *Session) machineLoop(ctx context.Context) {
	timer := time.NewTimer(s.cfg.HelloTimeout)
	defer timer.Stop()
	s.transition(StateInit, StateHelloSent)
	// Both roles advertise readiness as soon as the ping is sent, rather
	// than waiting to hear the peer's connectionHello first - otherwise
	// neither side would ever speak first.
	if frame, err := codec.Encode(model.Message{
		Type:            model.MsgTypeControl,
		ConnectionHello: &model.ConnectionHello{Phase: model.HelloReady},
	}); err == nil {
		_ = s.write(frame)
	}

	for {
		select {
		case <-ctx.Done():
			s.abort(ReasonLocalClose)
			return
		case qf := <-s.frames:
			if qf.err != nil {
				s.handleFrameError(qf.err, timer)
				if s.State() == StateAborted {
					return
				}
				continue
			}
			stop := s.handleMessage(qf.msg, timer)
			if stop {
				return
			}
		case reason := <-s.closeReq:
			s.handleLocalClose(reason, timer)
			if s.State() == StateAborted {
				return
			}
		case <-timer.C:
			s.handleTimerExpiry()
			if s.State() == StateAborted {
				return
			}
		}
	}
}

func (s *Session) handleFrameError(err error, timer *time.Timer) {
	var pe *codec.ErrParse
	if errors.As(err, &pe) {
		metrics.CodecParseFailures.WithLabelValues("ship").Inc()
		st := s.State()
		s.log.Warn("frame decode failed", "event", "session.parse_error", "err", err, "state", st.String())
		if st == StateData {
			// In DATA phase malformed frames are dropped, session stays open.
			return
		}
		s.abort(ReasonProtocolViolation)
		return
	}
	s.log.Info("transport closed", "event", "session.transport_closed", "err", err)
	s.abort(ReasonTransportError)
}

func (s *Session) handleLocalClose(reason Reason, timer *time.Timer) {
	st := s.State()
	if st != StateData {
		s.abort(reason)
		return
	}
	frame, err := codec.Encode(model.Message{
		Type:            model.MsgTypeEnd,
		ConnectionClose: &model.ConnectionClose{Phase: model.CloseAnnounce},
	})
	if err != nil {
		s.abort(reason)
		return
	}
	_ = s.write(frame)
	s.transition(StateData, StateClosing)
	resetTimer(timer, s.cfg.CloseTimeout)
}

func (s *Session) handleTimerExpiry() {
	switch s.State() {
	case StateHelloSent:
		frame, _ := codec.Encode(model.Message{
			Type:            model.MsgTypeControl,
			ConnectionHello: &model.ConnectionHello{Phase: model.HelloAborted},
		})
		_ = s.write(frame)
		s.abort(ReasonTimeout)
	case StateClosing:
		s.abort(ReasonTimeout)
	}
}

// handleMessage processes one decoded message against the current state and
// role. Returns true if the machine loop should exit (session aborted).
func (s *Session) handleMessage(msg model.Message, timer *time.Timer) bool {
	if msg.Type == model.MsgTypeInit {
		// The peer's opening ping carries no actionable content once this
		// side has already sent its own; simply absorb it.
		return false
	}
	st := s.State()
	switch st {
	case StateHelloSent:
		s.handleHelloSent(msg, timer)
	case StateHandshake:
		s.handleHandshake(msg, timer)
	case StatePin:
		s.handlePin(msg, timer)
	case StateAccess:
		s.handleAccess(msg, timer)
	case StateData:
		s.handleData(msg, timer)
	case StateClosing:
		s.handleClosing(msg, timer)
	default:
		s.log.Warn("message in terminal state ignored", "state", st.String())
	}
	return s.State() == StateAborted
}

func (s *Session) handleHelloSent(msg model.Message, timer *time.Timer) {
	if msg.ConnectionHello == nil {
		s.abort(ReasonProtocolViolation)
		return
	}
	switch msg.ConnectionHello.Phase {
	case model.HelloReady:
		s.transition(StateHelloSent, StateHandshake)
		resetTimer(timer, s.cfg.HelloTimeout)
		if s.cfg.Role == RoleClient {
			s.sendHandshakeAnnounce()
		}
	case model.HelloPending:
		wait := s.cfg.HelloTimeout
		if msg.ConnectionHello.Waiting != nil {
			wait = time.Duration(*msg.ConnectionHello.Waiting) * time.Millisecond
		}
		resetTimer(timer, wait)
	case model.HelloAborted:
		s.abort(ReasonRemoteClosed)
	default:
		s.abort(ReasonProtocolViolation)
	}
}

func (s *Session) sendHandshakeAnnounce() {
	frame, err := codec.Encode(model.Message{
		Type: model.MsgTypeControl,
		MessageProtocolHandshake: &model.MessageProtocolHandshake{
			HandshakeType: model.HandshakeAnnounceMax,
			Version:       model.Version{Major: model.SupportedMajor, Minor: model.SupportedMinor},
			Formats:       s.cfg.SupportedFormats,
		},
	})
	if err != nil {
		s.abort(ReasonProtocolViolation)
		return
	}
	_ = s.write(frame)
}

func (s *Session) handleHandshake(msg model.Message, timer *time.Timer) {
	if msg.MessageProtocolHandshake == nil {
		s.abort(ReasonProtocolViolation)
		return
	}
	h := msg.MessageProtocolHandshake
	if s.cfg.Role == RoleServer && h.HandshakeType == model.HandshakeAnnounceMax {
		version, ok := negotiateVersion(h.Version)
		format, formatOK := negotiateFormat(h.Formats, s.cfg.SupportedFormats)
		if !ok || !formatOK {
			s.sendMismatch()
			return
		}
		s.negotiated.version = version
		s.negotiated.format = format
		frame, err := codec.Encode(model.Message{
			Type: model.MsgTypeControl,
			MessageProtocolHandshake: &model.MessageProtocolHandshake{
				HandshakeType: model.HandshakeSelect,
				Version:       version,
				Formats:       []model.MessageProtocolFormatType{format},
			},
		})
		if err != nil {
			s.abort(ReasonProtocolViolation)
			return
		}
		_ = s.write(frame)
		s.transition(StateHandshake, StatePin)
		s.sendPinStateNone()
		return
	}
	if s.cfg.Role == RoleClient && h.HandshakeType == model.HandshakeSelect {
		if h.Version.Major > model.SupportedMajor {
			s.sendMismatch()
			return
		}
		if len(h.Formats) != 1 {
			s.sendMismatch()
			return
		}
		supported := false
		for _, f := range s.cfg.SupportedFormats {
			if f == h.Formats[0] {
				supported = true
				break
			}
		}
		if !supported {
			s.sendMismatch()
			return
		}
		s.negotiated.version = h.Version
		s.negotiated.format = h.Formats[0]
		s.transition(StateHandshake, StatePin)
		s.sendPinStateNone()
		return
	}
	s.abort(ReasonProtocolViolation)
}

// sendPinStateNone advertises that this side never requires a PIN (Open
// Question iii: a required PIN is not supported and aborts the session).
func (s *Session) sendPinStateNone() {
	if frame, err := codec.Encode(model.Message{
		Type:               model.MsgTypeControl,
		ConnectionPinState: &model.ConnectionPinState{PinState: model.PinNone},
	}); err == nil {
		_ = s.write(frame)
	}
}

func (s *Session) sendMismatch() {
	frame, _ := codec.Encode(model.Message{
		Type:                          model.MsgTypeControl,
		MessageProtocolHandshakeError: &model.MessageProtocolHandshakeError{Error: model.HandshakeErrorSelectionMismatch},
	})
	_ = s.write(frame)
	s.abort(ReasonProtocolViolation)
}

// negotiateVersion implements min(local_max, peer_max) per-component,
// bounded to the supported 1/0 pair.
func negotiateVersion(peerMax model.Version) (model.Version, bool) {
	if peerMax.Major != model.SupportedMajor {
		if peerMax.Major < model.SupportedMajor {
			return model.Version{}, false
		}
		return model.Version{Major: model.SupportedMajor, Minor: model.SupportedMinor}, true
	}
	minor := peerMax.Minor
	if minor > model.SupportedMinor {
		minor = model.SupportedMinor
	}
	return model.Version{Major: model.SupportedMajor, Minor: minor}, true
}

// negotiateFormat picks the first client-announced format the server also
// supports.
func negotiateFormat(announced, localSupported []model.MessageProtocolFormatType) (model.MessageProtocolFormatType, bool) {
	for _, a := range announced {
		for _, l := range localSupported {
			if a == l {
				return a, true
			}
		}
	}
	return "", false
}

func (s *Session) handlePin(msg model.Message, timer *time.Timer) {
	if msg.ConnectionPinState == nil {
		s.abort(ReasonProtocolViolation)
		return
	}
	switch msg.ConnectionPinState.PinState {
	case model.PinNone, model.PinOk:
		s.transition(StatePin, StateAccess)
		if s.cfg.Role == RoleClient {
			frame, err := codec.Encode(model.Message{
				Type:                 model.MsgTypeControl,
				AccessMethodsRequest: &model.AccessMethodsRequest{},
			})
			if err == nil {
				_ = s.write(frame)
			}
		}
	case model.PinRequired:
		// Not supported by this core (Open Question iii): abort.
		s.abort(ReasonProtocolViolation)
	default:
		s.abort(ReasonProtocolViolation)
	}
}

func (s *Session) handleAccess(msg model.Message, timer *time.Timer) {
	switch {
	case msg.AccessMethodsRequest != nil && s.cfg.Role == RoleServer:
		frame, err := codec.Encode(model.Message{
			Type:          model.MsgTypeControl,
			AccessMethods: &model.AccessMethods{ID: s.cfg.LocalShipID},
		})
		if err != nil {
			s.abort(ReasonProtocolViolation)
			return
		}
		_ = s.write(frame)
		s.transition(StateAccess, StateData)
	case msg.AccessMethods != nil && s.cfg.Role == RoleClient:
		s.transition(StateAccess, StateData)
	default:
		s.abort(ReasonProtocolViolation)
	}
}

func (s *Session) handleData(msg model.Message, timer *time.Timer) {
	switch {
	case msg.Data != nil:
		if s.cfg.DataReader != nil {
			s.cfg.DataReader.HandleSpineDatagram(s.cfg.PeerSKI, msg.Data.Payload)
		}
	case msg.ConnectionClose != nil && msg.ConnectionClose.Phase == model.CloseAnnounce:
		frame, err := codec.Encode(model.Message{
			Type:            model.MsgTypeEnd,
			ConnectionClose: &model.ConnectionClose{Phase: model.CloseConfirm},
		})
		if err == nil {
			_ = s.write(frame)
		}
		s.abort(ReasonRemoteClosed)
	default:
		s.log.Warn("unexpected message in DATA state, dropped", "event", "session.data_drop")
	}
}

func (s *Session) handleClosing(msg model.Message, timer *time.Timer) {
	if msg.ConnectionClose != nil && msg.ConnectionClose.Phase == model.CloseConfirm {
		s.abort(ReasonLocalClose)
		return
	}
	s.log.Warn("unexpected message while closing, ignored", "event", "session.closing_drop")
}

func (s *Session) transition(from, to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
	s.log.Info("state transition", "event", "session.state_change", "from", from.String(), "to", to.String())
	metrics.SessionStateTransitions.WithLabelValues(to.String()).Inc()
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(s, from, to)
	}
}

func (s *Session) abort(reason Reason) {
	s.mu.Lock()
	if s.state == StateAborted {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = StateAborted
	s.mu.Unlock()

	s.log.Info("session aborted", "event", "session.state_change", "from", from.String(), "to", "ABORTED", "reason", reason)
	metrics.SessionStateTransitions.WithLabelValues(StateAborted.String()).Inc()
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(s, from, StateAborted)
	}
	s.closedOnce.Do(func() {
		close(s.done)
		if s.cfg.OnClosed != nil {
			s.cfg.OnClosed(s, reason)
		}
		_ = s.conn.Close()
	})
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
