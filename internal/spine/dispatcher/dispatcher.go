// Package dispatcher implements SPINE datagram dispatch: resolving the
// addressed feature, correlating replies/results with outstanding
// requests, routing to feature handlers, and fanning notifies out to
// subscribers. Grounded on original_source/src/spine/device/sender.c's
// companion dispatch logic and node_management_* handler wiring.
package dispatcher

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/philipptrenz/openeebus-sub004/internal/metrics"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/device"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/sender"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/wire"
)

// DefaultResponseTimeout is used when a caller does not override it.
const DefaultResponseTimeout = 10 * time.Second

// ReplyCallback receives the correlated datagram, or a non-nil err
// (ErrTimeout or ErrCancelled) if no reply arrived.
type ReplyCallback func(dg model.Datagram, err error)

// SenderLookup resolves the Sender that can reach a given remote device -
// needed because a notify's subscribers may live on a session other than
// the one that produced the change.
type SenderLookup interface {
	SenderFor(remoteDevice address.Device) (*sender.Sender, bool)
}

type outstanding struct {
	cb    ReplyCallback
	timer *time.Timer
}

// Dispatcher routes inbound SPINE datagrams for one Session/peer and
// manages that session's outstanding-request table.
type Dispatcher struct {
	device       *device.DeviceLocal
	localDevice  address.Device
	remoteDevice address.Device
	sender       *sender.Sender
	lookup       SenderLookup
	nodeMgmt     device.MessageHandler
	timeout      time.Duration
	log          *slog.Logger

	mu          sync.Mutex
	outstanding map[uint64]*outstanding
}

// Config parameterises a Dispatcher.
type Config struct {
	Device         *device.DeviceLocal
	LocalDevice    address.Device
	RemoteDevice   address.Device
	Sender         *sender.Sender
	Lookup         SenderLookup
	NodeManagement device.MessageHandler
	ResponseTimeout time.Duration
	Logger         *slog.Logger
}

// New constructs a Dispatcher for one peer's Session.
func New(cfg Config) *Dispatcher {
	timeout := cfg.ResponseTimeout
	if timeout == 0 {
		timeout = DefaultResponseTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		device:       cfg.Device,
		localDevice:  cfg.LocalDevice,
		remoteDevice: cfg.RemoteDevice,
		sender:       cfg.Sender,
		lookup:       cfg.Lookup,
		nodeMgmt:     cfg.NodeManagement,
		timeout:      timeout,
		log:          log.With("component", "spine.dispatcher", "remote_device", string(cfg.RemoteDevice)),
		outstanding:  make(map[uint64]*outstanding),
	}
}

// SetSender binds the Sender used to reply/result and fan out notifies.
// Needed because the Sender itself wraps the Session that names this
// Dispatcher as its DataReader - the two must be constructed back to back.
func (d *Dispatcher) SetSender(s *sender.Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sender = s
}

// SetNodeManagement binds the handler for the reserved node-management
// address, for the same construction-order reason as SetSender.
func (d *Dispatcher) SetNodeManagement(h device.MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodeMgmt = h
}

// RegisterOutstanding records a callback for a just-sent counter, started
// with this Dispatcher's default response timeout.
func (d *Dispatcher) RegisterOutstanding(counter uint64, cb ReplyCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := time.AfterFunc(d.timeout, func() { d.expire(counter) })
	d.outstanding[counter] = &outstanding{cb: cb, timer: t}
}

func (d *Dispatcher) expire(counter uint64) {
	d.mu.Lock()
	o, ok := d.outstanding[counter]
	if ok {
		delete(d.outstanding, counter)
	}
	d.mu.Unlock()
	if ok {
		metrics.OutstandingRequestTimeouts.Inc()
		o.cb(model.Datagram{}, ErrTimeout)
	}
}

// CancelAll invokes every outstanding callback with ErrCancelled - called
// when the owning Session aborts.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	pending := d.outstanding
	d.outstanding = make(map[uint64]*outstanding)
	d.mu.Unlock()
	for _, o := range pending {
		o.timer.Stop()
		o.cb(model.Datagram{}, ErrCancelled)
	}
}

func (d *Dispatcher) correlate(counterRef uint64, dg model.Datagram) bool {
	d.mu.Lock()
	o, ok := d.outstanding[counterRef]
	if ok {
		delete(d.outstanding, counterRef)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	o.timer.Stop()
	o.cb(dg, nil)
	return true
}

// HandleSpineDatagram implements ship/transport.DataReader: it decodes the
// raw SHIP DATA payload and dispatches it.
func (d *Dispatcher) HandleSpineDatagram(_ string, payload []byte) {
	dg, err := wire.Decode(payload)
	if err != nil {
		metrics.CodecParseFailures.WithLabelValues("spine").Inc()
		d.log.Warn("dropped malformed datagram", "event", "dispatcher.parse_error", "err", err)
		return
	}
	d.Dispatch(context.Background(), dg)
}

// Dispatch performs the four-step routing described in the spec: reply/
// result correlation, destination resolution, feature handler invocation,
// and notify fan-out to subscribers.
func (d *Dispatcher) Dispatch(ctx context.Context, dg model.Datagram) {
	classifier := dg.Header.CmdClassifier
	if (classifier == model.CmdResult || classifier == model.CmdReply) && dg.Header.MsgCounterRef != nil {
		if d.correlate(*dg.Header.MsgCounterRef, dg) {
			return
		}
	}

	handler := d.resolveHandler(dg.Header.Dest)
	if handler == nil {
		if classifier != model.CmdResult {
			metrics.DispatchResultErrors.WithLabelValues(strconv.FormatUint(uint64(model.ErrorNumberNoDestination), 10)).Inc()
			_ = d.sender.ResultError(dg.Header, dg.Header.Dest, model.ErrorNumberNoDestination, "no destination")
		}
		return
	}

	for _, cmd := range dg.Payload {
		d.dispatchCmd(dg.Header, handler, cmd)
	}
}

func (d *Dispatcher) resolveHandler(dest address.Feature) device.MessageHandler {
	if address.IsNodeManagement(dest) {
		return d.nodeMgmt
	}
	f := d.device.FindFeature(dest)
	if f == nil {
		return nil
	}
	return f.Handler
}

func (d *Dispatcher) dispatchCmd(h model.Header, handler device.MessageHandler, cmd model.Cmd) {
	reply, err := handler(h.Src.Entity.Device, h.CmdClassifier, cmd)
	if err != nil {
		if h.CmdClassifier != model.CmdResult {
			metrics.DispatchResultErrors.WithLabelValues(strconv.FormatUint(uint64(model.ErrorNumberGeneral), 10)).Inc()
			_ = d.sender.ResultError(h, h.Dest, model.ErrorNumberGeneral, err.Error())
		}
		return
	}
	if reply != nil {
		_ = d.sender.Reply(h, h.Dest, *reply)
	}
	if h.CmdClassifier == model.CmdNotify {
		d.fanOutNotify(h.Dest, cmd)
	}
}

func (d *Dispatcher) fanOutNotify(serverAddr address.Feature, cmd model.Cmd) {
	subscribers, err := d.device.UpdateFeatureCacheAndCollectSubscribers(serverAddr, cmd.Function, cmd)
	if err != nil {
		return
	}
	for _, client := range subscribers {
		s, ok := d.lookup.SenderFor(client.Entity.Device)
		if !ok {
			continue
		}
		if err := s.Notify(serverAddr, client, cmd); err != nil {
			d.log.Warn("notify fan-out failed", "event", "dispatcher.notify_error", "err", err)
		}
	}
}
