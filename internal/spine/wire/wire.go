// Package wire converts between a SPINE model.Datagram and the JSON object
// carried verbatim inside a SHIP DATA frame's payload: two top-level keys
// "header" and "payload", with payload.cmd an ordered array of commands
// each tagged by exactly one function-specific key (§6 of the spec).
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
)

type wireFeatureAddress struct {
	Device  address.Device `json:"device"`
	Entity  []uint         `json:"entity"`
	Feature uint           `json:"feature"`
}

func toWireFeature(f address.Feature) wireFeatureAddress {
	return wireFeatureAddress{Device: f.Entity.Device, Entity: f.Entity.ID, Feature: f.ID}
}

func (w wireFeatureAddress) toAddress() address.Feature {
	return address.Feature{Entity: address.Entity{Device: w.Device, ID: w.Entity}, ID: w.Feature}
}

type wireHeader struct {
	SpecificationVersion string              `json:"specificationVersion"`
	AddressSource        wireFeatureAddress  `json:"addressSource"`
	AddressDestination   wireFeatureAddress  `json:"addressDestination"`
	MsgCounter           uint64              `json:"msgCounter"`
	MsgCounterReference  *uint64             `json:"msgCounterReference,omitempty"`
	CmdClassifier        model.CmdClassifier `json:"cmdClassifier"`
	AckRequest           *bool               `json:"ackRequest,omitempty"`
}

// Encode renders a Datagram to its JSON wire form.
func Encode(d model.Datagram) ([]byte, error) {
	wh := wireHeader{
		SpecificationVersion: d.Header.SpecVersion,
		AddressSource:        toWireFeature(d.Header.Src),
		AddressDestination:   toWireFeature(d.Header.Dest),
		MsgCounter:           d.Header.MsgCounter,
		MsgCounterReference:  d.Header.MsgCounterRef,
		CmdClassifier:        d.Header.CmdClassifier,
		AckRequest:           d.Header.AckRequest,
	}

	cmds := make([]json.RawMessage, 0, len(d.Payload))
	for _, c := range d.Payload {
		raw, err := encodeCmd(c)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, raw)
	}

	out := struct {
		Header  wireHeader        `json:"header"`
		Payload struct {
			Cmd []json.RawMessage `json:"cmd"`
		} `json:"payload"`
	}{Header: wh}
	out.Payload.Cmd = cmds

	return json.Marshal(out)
}

func encodeCmd(c model.Cmd) (json.RawMessage, error) {
	m := map[string]any{}
	switch c.Function {
	case model.FunctionNodeManagementDetailedDiscoveryData:
		m[string(c.Function)] = c.NodeManagementDetailedDiscoveryData
	case model.FunctionNodeManagementSubscriptionData:
		m[string(c.Function)] = c.NodeManagementSubscriptionData
	case model.FunctionNodeManagementSubscriptionRequestCall:
		m[string(c.Function)] = c.NodeManagementSubscriptionRequestCall
	case model.FunctionNodeManagementSubscriptionDeleteCall:
		m[string(c.Function)] = c.NodeManagementSubscriptionDeleteCall
	case model.FunctionNodeManagementBindingData:
		m[string(c.Function)] = c.NodeManagementBindingData
	case model.FunctionNodeManagementBindingRequestCall:
		m[string(c.Function)] = c.NodeManagementBindingRequestCall
	case model.FunctionNodeManagementBindingDeleteCall:
		m[string(c.Function)] = c.NodeManagementBindingDeleteCall
	case model.FunctionNodeManagementUseCaseData:
		m[string(c.Function)] = c.NodeManagementUseCaseData
	case model.FunctionNodeManagementDestinationListData:
		m[string(c.Function)] = c.NodeManagementDestinationListData
	case model.FunctionMeasurementListData:
		m[string(c.Function)] = c.MeasurementListData
	case "":
		// A result-only cmd carries resultData and no function key.
		if c.ResultData == nil {
			return nil, fmt.Errorf("wire: cmd has neither a function type nor resultData")
		}
	default:
		return nil, fmt.Errorf("wire: unknown function type %q", c.Function)
	}
	if c.ResultData != nil {
		m["resultData"] = c.ResultData
	}
	return json.Marshal(m)
}

var functionKeys = []model.FunctionType{
	model.FunctionNodeManagementDetailedDiscoveryData,
	model.FunctionNodeManagementSubscriptionData,
	model.FunctionNodeManagementSubscriptionRequestCall,
	model.FunctionNodeManagementSubscriptionDeleteCall,
	model.FunctionNodeManagementBindingData,
	model.FunctionNodeManagementBindingRequestCall,
	model.FunctionNodeManagementBindingDeleteCall,
	model.FunctionNodeManagementUseCaseData,
	model.FunctionNodeManagementDestinationListData,
	model.FunctionMeasurementListData,
}

// Decode parses a Datagram from its JSON wire form.
func Decode(data []byte) (model.Datagram, error) {
	var in struct {
		Header  wireHeader `json:"header"`
		Payload struct {
			Cmd []json.RawMessage `json:"cmd"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return model.Datagram{}, fmt.Errorf("wire: invalid datagram: %w", err)
	}

	d := model.Datagram{Header: model.Header{
		SpecVersion:   in.Header.SpecificationVersion,
		Src:           in.Header.AddressSource.toAddress(),
		Dest:          in.Header.AddressDestination.toAddress(),
		MsgCounter:    in.Header.MsgCounter,
		MsgCounterRef: in.Header.MsgCounterReference,
		CmdClassifier: in.Header.CmdClassifier,
		AckRequest:    in.Header.AckRequest,
	}}

	for _, raw := range in.Payload.Cmd {
		c, err := decodeCmd(raw)
		if err != nil {
			return model.Datagram{}, err
		}
		d.Payload = append(d.Payload, c)
	}
	return d, nil
}

func decodeCmd(raw json.RawMessage) (model.Cmd, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.Cmd{}, fmt.Errorf("wire: cmd is not an object: %w", err)
	}

	var c model.Cmd
	if rd, ok := fields["resultData"]; ok {
		var rdv model.ResultData
		if err := json.Unmarshal(rd, &rdv); err != nil {
			return model.Cmd{}, fmt.Errorf("wire: invalid resultData: %w", err)
		}
		c.ResultData = &rdv
	}

	for _, fn := range functionKeys {
		raw, ok := fields[string(fn)]
		if !ok {
			continue
		}
		c.Function = fn
		var err error
		switch fn {
		case model.FunctionNodeManagementDetailedDiscoveryData:
			c.NodeManagementDetailedDiscoveryData = new(model.NodeManagementDetailedDiscoveryData)
			err = json.Unmarshal(raw, c.NodeManagementDetailedDiscoveryData)
		case model.FunctionNodeManagementSubscriptionData:
			c.NodeManagementSubscriptionData = new(model.NodeManagementSubscriptionData)
			err = json.Unmarshal(raw, c.NodeManagementSubscriptionData)
		case model.FunctionNodeManagementSubscriptionRequestCall:
			c.NodeManagementSubscriptionRequestCall = new(model.NodeManagementSubscriptionRequestCall)
			err = json.Unmarshal(raw, c.NodeManagementSubscriptionRequestCall)
		case model.FunctionNodeManagementSubscriptionDeleteCall:
			c.NodeManagementSubscriptionDeleteCall = new(model.NodeManagementSubscriptionDeleteCall)
			err = json.Unmarshal(raw, c.NodeManagementSubscriptionDeleteCall)
		case model.FunctionNodeManagementBindingData:
			c.NodeManagementBindingData = new(model.NodeManagementBindingData)
			err = json.Unmarshal(raw, c.NodeManagementBindingData)
		case model.FunctionNodeManagementBindingRequestCall:
			c.NodeManagementBindingRequestCall = new(model.NodeManagementBindingRequestCall)
			err = json.Unmarshal(raw, c.NodeManagementBindingRequestCall)
		case model.FunctionNodeManagementBindingDeleteCall:
			c.NodeManagementBindingDeleteCall = new(model.NodeManagementBindingDeleteCall)
			err = json.Unmarshal(raw, c.NodeManagementBindingDeleteCall)
		case model.FunctionNodeManagementUseCaseData:
			c.NodeManagementUseCaseData = new(model.NodeManagementUseCaseData)
			err = json.Unmarshal(raw, c.NodeManagementUseCaseData)
		case model.FunctionNodeManagementDestinationListData:
			c.NodeManagementDestinationListData = new(model.NodeManagementDestinationListData)
			err = json.Unmarshal(raw, c.NodeManagementDestinationListData)
		case model.FunctionMeasurementListData:
			c.MeasurementListData = new(model.MeasurementListData)
			err = json.Unmarshal(raw, c.MeasurementListData)
		}
		if err != nil {
			return model.Cmd{}, fmt.Errorf("wire: invalid %s: %w", fn, err)
		}
		return c, nil
	}
	if c.ResultData != nil {
		c.Function = ""
		return c, nil
	}
	return model.Cmd{}, fmt.Errorf("wire: cmd carries no recognised function key")
}
