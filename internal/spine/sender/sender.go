// Package sender implements the Sender: per-session monotonic message
// counters and the outbound operations (read/reply/notify/write/call/
// result) that build a SPINE datagram and hand it to the transport.
// Grounded on original_source/src/spine/device/sender.c.
package sender

import (
	"sync/atomic"

	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/wire"
)

// Writer is the capability a Sender needs from its owning transport - in
// this core, a *ship/session.Session.
type Writer interface {
	SendData(payload []byte) error
}

// Sender allocates message counters and writes SPINE datagrams for one
// Session.
type Sender struct {
	writer  Writer
	counter uint64
}

// New constructs a Sender with the given seed counter value (tests may seed
// it; production code should start at 1).
func New(writer Writer, seed uint64) *Sender {
	return &Sender{writer: writer, counter: seed}
}

func (s *Sender) nextCounter() uint64 {
	return atomic.AddUint64(&s.counter, 1)
}

func (s *Sender) send(h model.Header, cmds ...model.Cmd) (uint64, error) {
	d := model.Datagram{Header: h, Payload: cmds}
	payload, err := wire.Encode(d)
	if err != nil {
		return 0, err
	}
	return h.MsgCounter, s.writer.SendData(payload)
}

// Read sends classifier=read, no ack requested. Returns the allocated
// counter so the caller can register a reply callback.
func (s *Sender) Read(src, dst address.Feature, cmd model.Cmd) (uint64, error) {
	h := model.Header{SpecVersion: model.SpecVersion, Src: src, Dest: dst, MsgCounter: s.nextCounter(), CmdClassifier: model.CmdRead}
	return s.send(h, cmd)
}

// Reply answers requestHeader with cmd, echoing its counter as counter-ref.
func (s *Sender) Reply(requestHeader model.Header, src address.Feature, cmd model.Cmd) error {
	ref := requestHeader.MsgCounter
	h := model.Header{
		SpecVersion:   model.SpecVersion,
		Src:           src,
		Dest:          requestHeader.Src,
		MsgCounter:    s.nextCounter(),
		MsgCounterRef: &ref,
		CmdClassifier: model.CmdReply,
	}
	_, err := s.send(h, cmd)
	return err
}

// Notify sends classifier=notify, no ack.
func (s *Sender) Notify(src, dst address.Feature, cmd model.Cmd) error {
	h := model.Header{SpecVersion: model.SpecVersion, Src: src, Dest: dst, MsgCounter: s.nextCounter(), CmdClassifier: model.CmdNotify}
	_, err := s.send(h, cmd)
	return err
}

// Write sends classifier=write with ack requested. Returns the allocated
// counter for result correlation.
func (s *Sender) Write(src, dst address.Feature, cmd model.Cmd) (uint64, error) {
	ack := true
	h := model.Header{SpecVersion: model.SpecVersion, Src: src, Dest: dst, MsgCounter: s.nextCounter(), CmdClassifier: model.CmdWrite, AckRequest: &ack}
	return s.send(h, cmd)
}

func (s *Sender) call(src address.Feature, remoteDevice address.Device, cmd model.Cmd) (uint64, error) {
	ack := true
	dst := address.NodeManagementFeature(remoteDevice)
	h := model.Header{SpecVersion: model.SpecVersion, Src: src, Dest: dst, MsgCounter: s.nextCounter(), CmdClassifier: model.CmdCall, AckRequest: &ack}
	return s.send(h, cmd)
}

// CallSubscribe issues a subscription add call against remoteDevice's
// node-management feature.
func (s *Sender) CallSubscribe(src address.Feature, remoteDevice address.Device, req model.SubscriptionRequest) (uint64, error) {
	return s.call(src, remoteDevice, model.Cmd{
		Function:                              model.FunctionNodeManagementSubscriptionRequestCall,
		NodeManagementSubscriptionRequestCall: &model.NodeManagementSubscriptionRequestCall{SubscriptionRequest: req},
	})
}

// CallUnsubscribe issues a subscription delete call.
func (s *Sender) CallUnsubscribe(src address.Feature, remoteDevice address.Device, del model.SubscriptionDelete) (uint64, error) {
	return s.call(src, remoteDevice, model.Cmd{
		Function:                             model.FunctionNodeManagementSubscriptionDeleteCall,
		NodeManagementSubscriptionDeleteCall: &model.NodeManagementSubscriptionDeleteCall{SubscriptionDelete: del},
	})
}

// CallBind issues a binding add call.
func (s *Sender) CallBind(src address.Feature, remoteDevice address.Device, req model.BindingRequest) (uint64, error) {
	return s.call(src, remoteDevice, model.Cmd{
		Function:                          model.FunctionNodeManagementBindingRequestCall,
		NodeManagementBindingRequestCall: &model.NodeManagementBindingRequestCall{BindingRequest: req},
	})
}

// CallUnbind issues a binding delete call.
func (s *Sender) CallUnbind(src address.Feature, remoteDevice address.Device, del model.BindingDelete) (uint64, error) {
	return s.call(src, remoteDevice, model.Cmd{
		Function:                         model.FunctionNodeManagementBindingDeleteCall,
		NodeManagementBindingDeleteCall: &model.NodeManagementBindingDeleteCall{BindingDelete: del},
	})
}

// ResultSuccess acknowledges requestHeader with errorNumber 0.
func (s *Sender) ResultSuccess(requestHeader model.Header, src address.Feature) error {
	return s.result(requestHeader, src, 0, nil)
}

// ResultError acknowledges requestHeader with a non-zero error number and
// optional human-readable description.
func (s *Sender) ResultError(requestHeader model.Header, src address.Feature, errorNumber uint32, description string) error {
	var desc *string
	if description != "" {
		desc = &description
	}
	return s.result(requestHeader, src, errorNumber, desc)
}

func (s *Sender) result(requestHeader model.Header, src address.Feature, errorNumber uint32, description *string) error {
	ref := requestHeader.MsgCounter
	h := model.Header{
		SpecVersion:   model.SpecVersion,
		Src:           src,
		Dest:          requestHeader.Src,
		MsgCounter:    s.nextCounter(),
		MsgCounterRef: &ref,
		CmdClassifier: model.CmdResult,
	}
	_, err := s.send(h, model.Cmd{ResultData: &model.ResultData{ErrorNumber: errorNumber, Description: description}})
	return err
}
