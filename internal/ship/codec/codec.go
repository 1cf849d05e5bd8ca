// Package codec converts between SHIP wire frames and typed model.Message
// values. The wire shape for every CONTROL/DATA/END variant is a JSON object
// with exactly one key naming the variant, whose value is an ARRAY of
// single-key objects - not a flat object - matching the reference
// implementation byte for byte.
package codec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/philipptrenz/openeebus-sub004/internal/ship/model"
)

// ErrParse is returned (wrapped) for any malformed frame.
type ErrParse struct {
	Reason string
}

func (e *ErrParse) Error() string { return "ship codec: parse: " + e.Reason }

func parseErr(format string, args ...any) error {
	return &ErrParse{Reason: fmt.Sprintf(format, args...)}
}

const (
	keyConnectionHello               = "connectionHello"
	keyMessageProtocolHandshake      = "messageProtocolHandshake"
	keyMessageProtocolHandshakeError = "messageProtocolHandshakeError"
	keyConnectionPinState            = "connectionPinState"
	keyConnectionPinInput            = "connectionPinInput"
	keyConnectionPinError            = "connectionPinError"
	keyAccessMethodsRequest          = "accessMethodsRequest"
	keyAccessMethods                 = "accessMethods"
	keyData                          = "data"
	keyConnectionClose               = "connectionClose"
)

// kvPair is one element of a wire array: a JSON object with exactly one key.
type kvPair struct {
	key   string
	value any
}

func encodeArray(pairs []kvPair) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, p := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		keyJSON, err := json.Marshal(p.key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := json.Marshal(p.value)
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func encodeVariant(variantKey string, pairs []kvPair) ([]byte, error) {
	arr, err := encodeArray(pairs)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	keyJSON, _ := json.Marshal(variantKey)
	buf.Write(keyJSON)
	buf.WriteByte(':')
	buf.Write(arr)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeFields parses a variant's array-of-single-key-objects body into a
// field->raw map. It rejects any element that does not carry exactly one key.
func decodeFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var arr []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, parseErr("variant body is not an array of objects: %v", err)
	}
	out := make(map[string]json.RawMessage, len(arr))
	for _, elem := range arr {
		if len(elem) != 1 {
			return nil, parseErr("variant array element has %d keys, want 1", len(elem))
		}
		for k, v := range elem {
			out[k] = v
		}
	}
	return out, nil
}

// Encode converts a typed Message into its wire frame: tag byte followed by
// minified JSON.
func Encode(msg model.Message) ([]byte, error) {
	if msg.Type == model.MsgTypeInit {
		// The INIT ping is the two-byte frame 0x00 0x00 - tag plus a single
		// zero payload byte, never a JSON body.
		return []byte{byte(model.MsgTypeInit), 0x00}, nil
	}

	body, err := encodeBody(msg)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, byte(msg.Type))
	frame = append(frame, body...)
	return frame, nil
}

func encodeBody(msg model.Message) ([]byte, error) {
	switch {
	case msg.ConnectionHello != nil:
		return encodeConnectionHello(msg.ConnectionHello)
	case msg.MessageProtocolHandshake != nil:
		return encodeMessageProtocolHandshake(msg.MessageProtocolHandshake)
	case msg.MessageProtocolHandshakeError != nil:
		return encodeVariant(keyMessageProtocolHandshakeError, []kvPair{
			{"error", msg.MessageProtocolHandshakeError.Error},
		})
	case msg.ConnectionPinState != nil:
		return encodeConnectionPinState(msg.ConnectionPinState)
	case msg.ConnectionPinInput != nil:
		return encodeConnectionPinInput(msg.ConnectionPinInput)
	case msg.ConnectionPinError != nil:
		return encodeVariant(keyConnectionPinError, []kvPair{
			{"error", msg.ConnectionPinError.Error},
		})
	case msg.AccessMethodsRequest != nil:
		return encodeVariant(keyAccessMethodsRequest, nil)
	case msg.AccessMethods != nil:
		return encodeAccessMethods(msg.AccessMethods)
	case msg.Data != nil:
		return encodeData(msg.Data)
	case msg.ConnectionClose != nil:
		return encodeConnectionClose(msg.ConnectionClose)
	default:
		return nil, parseErr("message carries no variant")
	}
}

func encodeConnectionHello(v *model.ConnectionHello) ([]byte, error) {
	if v.Phase != model.HelloPending && v.Phase != model.HelloReady && v.Phase != model.HelloAborted {
		return nil, parseErr("connectionHello: invalid phase %q", v.Phase)
	}
	pairs := []kvPair{{"phase", v.Phase}}
	if v.Waiting != nil {
		pairs = append(pairs, kvPair{"waiting", *v.Waiting})
	}
	if v.ProlongationRequest != nil {
		pairs = append(pairs, kvPair{"prolongationRequest", *v.ProlongationRequest})
	}
	return encodeVariant(keyConnectionHello, pairs)
}

func encodeMessageProtocolHandshake(v *model.MessageProtocolHandshake) ([]byte, error) {
	if v.HandshakeType != model.HandshakeAnnounceMax && v.HandshakeType != model.HandshakeSelect {
		return nil, parseErr("messageProtocolHandshake: invalid handshakeType %q", v.HandshakeType)
	}
	for _, f := range v.Formats {
		if f != model.FormatJSONUTF8 && f != model.FormatJSONUTF16 {
			return nil, parseErr("messageProtocolHandshake: invalid format %q", f)
		}
	}
	pairs := []kvPair{
		{"handshakeType", v.HandshakeType},
		{"version", map[string]uint8{"major": v.Version.Major, "minor": v.Version.Minor}},
		{"formats", v.Formats},
	}
	return encodeVariant(keyMessageProtocolHandshake, pairs)
}

func encodeConnectionPinState(v *model.ConnectionPinState) ([]byte, error) {
	switch v.PinState {
	case model.PinRequired, model.PinOptional, model.PinOk, model.PinNone:
	default:
		return nil, parseErr("connectionPinState: invalid pinState %q", v.PinState)
	}
	pairs := []kvPair{{"pinState", v.PinState}}
	if v.InputPermission != nil {
		pairs = append(pairs, kvPair{"inputPermission", *v.InputPermission})
	}
	return encodeVariant(keyConnectionPinState, pairs)
}

// encodeConnectionPinInput renders Pin as uppercase hex without leading-zero
// padding, so the digit count depends on the value; a Pin that renders to
// fewer than 8 or more than 16 digits is rejected with a parse error.
func encodeConnectionPinInput(v *model.ConnectionPinInput) ([]byte, error) {
	s := fmt.Sprintf("%X", v.Pin)
	if len(s) < 8 || len(s) > 16 {
		return nil, parseErr("connectionPinInput: pin %d renders to %d hex digits, want 8-16", v.Pin, len(s))
	}
	return encodeVariant(keyConnectionPinInput, []kvPair{{"pin", s}})
}

func encodeAccessMethods(v *model.AccessMethods) ([]byte, error) {
	if v.ID == "" {
		return nil, parseErr("accessMethods: id required")
	}
	pairs := []kvPair{{"id", v.ID}}
	if v.DNSSdMdns != nil {
		pairs = append(pairs, kvPair{"dnsSdMdns", *v.DNSSdMdns})
	}
	if v.DNS != nil {
		dnsArr, err := encodeArray([]kvPair{{"uri", v.DNS.URI}})
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, kvPair{"dns", json.RawMessage(dnsArr)})
	}
	return encodeVariant(keyAccessMethods, pairs)
}

func encodeData(v *model.Data) ([]byte, error) {
	if len(v.Header.ProtocolID) == 0 || len(v.Header.ProtocolID) > 7 {
		return nil, parseErr("data: protocolId %q must be 1-7 chars", v.Header.ProtocolID)
	}
	headerArr, err := encodeArray([]kvPair{{"protocolId", v.Header.ProtocolID}})
	if err != nil {
		return nil, err
	}
	payload := v.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	pairs := []kvPair{
		{"header", json.RawMessage(headerArr)},
		{"payload", json.RawMessage(payload)},
	}
	return encodeVariant(keyData, pairs)
}

func encodeConnectionClose(v *model.ConnectionClose) ([]byte, error) {
	if v.Phase != model.CloseAnnounce && v.Phase != model.CloseConfirm {
		return nil, parseErr("connectionClose: invalid phase %q", v.Phase)
	}
	pairs := []kvPair{{"phase", v.Phase}}
	if v.MaxTime != nil {
		pairs = append(pairs, kvPair{"maxTime", *v.MaxTime})
	}
	if v.Reason != nil {
		pairs = append(pairs, kvPair{"reason", *v.Reason})
	}
	return encodeVariant(keyConnectionClose, pairs)
}

// Decode converts a wire frame into a typed Message.
func Decode(frame []byte) (model.Message, error) {
	if len(frame) == 0 {
		return model.Message{}, parseErr("empty frame")
	}
	tag := frame[0]
	if tag > byte(model.MsgTypeEnd) {
		return model.Message{}, parseErr("unknown message type tag %d", tag)
	}
	msgType := model.MsgType(tag)
	if msgType == model.MsgTypeInit {
		return model.Message{Type: model.MsgTypeInit}, nil
	}
	body := frame[1:]
	if len(body) == 0 {
		return model.Message{}, parseErr("missing body for message type %d", tag)
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return model.Message{}, parseErr("body is not a JSON object: %v", err)
	}
	if len(root) != 1 {
		return model.Message{}, parseErr("root object has %d keys, want 1", len(root))
	}

	var variantKey string
	var variantRaw json.RawMessage
	for k, v := range root {
		variantKey, variantRaw = k, v
	}

	fields, err := decodeFields(variantRaw)
	if err != nil {
		return model.Message{}, err
	}

	msg := model.Message{Type: msgType}
	switch variantKey {
	case keyConnectionHello:
		msg.ConnectionHello, err = decodeConnectionHello(fields)
	case keyMessageProtocolHandshake:
		msg.MessageProtocolHandshake, err = decodeMessageProtocolHandshake(fields)
	case keyMessageProtocolHandshakeError:
		msg.MessageProtocolHandshakeError, err = decodeHandshakeError(fields)
	case keyConnectionPinState:
		msg.ConnectionPinState, err = decodeConnectionPinState(fields)
	case keyConnectionPinInput:
		msg.ConnectionPinInput, err = decodeConnectionPinInput(fields)
	case keyConnectionPinError:
		msg.ConnectionPinError, err = decodeConnectionPinError(fields)
	case keyAccessMethodsRequest:
		msg.AccessMethodsRequest = &model.AccessMethodsRequest{}
	case keyAccessMethods:
		msg.AccessMethods, err = decodeAccessMethods(fields)
	case keyData:
		msg.Data, err = decodeData(fields)
	case keyConnectionClose:
		msg.ConnectionClose, err = decodeConnectionClose(fields)
	default:
		err = parseErr("unknown variant key %q", variantKey)
	}
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func requireString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", parseErr("missing required field %q", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", parseErr("field %q is not a string: %v", key, err)
	}
	return s, nil
}

func decodeConnectionHello(fields map[string]json.RawMessage) (*model.ConnectionHello, error) {
	phaseStr, err := requireString(fields, "phase")
	if err != nil {
		return nil, err
	}
	phase := model.ConnectionHelloPhase(phaseStr)
	switch phase {
	case model.HelloPending, model.HelloReady, model.HelloAborted:
	default:
		return nil, parseErr("connectionHello: invalid phase %q", phaseStr)
	}
	v := &model.ConnectionHello{Phase: phase}
	if raw, ok := fields["waiting"]; ok {
		var w uint32
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, parseErr("connectionHello: invalid waiting: %v", err)
		}
		v.Waiting = &w
	}
	if raw, ok := fields["prolongationRequest"]; ok {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, parseErr("connectionHello: invalid prolongationRequest: %v", err)
		}
		v.ProlongationRequest = &b
	}
	return v, nil
}

func decodeMessageProtocolHandshake(fields map[string]json.RawMessage) (*model.MessageProtocolHandshake, error) {
	typeStr, err := requireString(fields, "handshakeType")
	if err != nil {
		return nil, err
	}
	ht := model.ProtocolHandshakeType(typeStr)
	if ht != model.HandshakeAnnounceMax && ht != model.HandshakeSelect {
		return nil, parseErr("messageProtocolHandshake: invalid handshakeType %q", typeStr)
	}
	versionRaw, ok := fields["version"]
	if !ok {
		return nil, parseErr("messageProtocolHandshake: missing version")
	}
	var version model.Version
	if err := json.Unmarshal(versionRaw, &version); err != nil {
		return nil, parseErr("messageProtocolHandshake: invalid version: %v", err)
	}
	formatsRaw, ok := fields["formats"]
	if !ok {
		return nil, parseErr("messageProtocolHandshake: missing formats")
	}
	var formatStrs []string
	if err := json.Unmarshal(formatsRaw, &formatStrs); err != nil {
		return nil, parseErr("messageProtocolHandshake: invalid formats: %v", err)
	}
	formats := make([]model.MessageProtocolFormatType, 0, len(formatStrs))
	for _, f := range formatStrs {
		ft := model.MessageProtocolFormatType(f)
		if ft != model.FormatJSONUTF8 && ft != model.FormatJSONUTF16 {
			return nil, parseErr("messageProtocolHandshake: invalid format %q", f)
		}
		formats = append(formats, ft)
	}
	return &model.MessageProtocolHandshake{HandshakeType: ht, Version: version, Formats: formats}, nil
}

func decodeHandshakeError(fields map[string]json.RawMessage) (*model.MessageProtocolHandshakeError, error) {
	s, err := requireString(fields, "error")
	if err != nil {
		return nil, err
	}
	e := model.MessageProtocolHandshakeErrorType(s)
	switch e {
	case model.HandshakeErrorRFU, model.HandshakeErrorTimeout, model.HandshakeErrorUnexpectedMessage, model.HandshakeErrorSelectionMismatch:
	default:
		return nil, parseErr("messageProtocolHandshakeError: invalid error %q", s)
	}
	return &model.MessageProtocolHandshakeError{Error: e}, nil
}

func decodeConnectionPinState(fields map[string]json.RawMessage) (*model.ConnectionPinState, error) {
	s, err := requireString(fields, "pinState")
	if err != nil {
		return nil, err
	}
	ps := model.PinStateType(s)
	switch ps {
	case model.PinRequired, model.PinOptional, model.PinOk, model.PinNone:
	default:
		return nil, parseErr("connectionPinState: invalid pinState %q", s)
	}
	v := &model.ConnectionPinState{PinState: ps}
	if raw, ok := fields["inputPermission"]; ok {
		var ip string
		if err := json.Unmarshal(raw, &ip); err != nil {
			return nil, parseErr("connectionPinState: invalid inputPermission: %v", err)
		}
		ipt := model.PinInputPermissionType(ip)
		if ipt != model.PinInputBusy && ipt != model.PinInputOk {
			return nil, parseErr("connectionPinState: invalid inputPermission %q", ip)
		}
		v.InputPermission = &ipt
	}
	return v, nil
}

// decodeConnectionPinInput parses an 8-16 digit hex string with no leading
// zero into a uint64 - the rule behind concrete scenario 1.
func decodeConnectionPinInput(fields map[string]json.RawMessage) (*model.ConnectionPinInput, error) {
	s, err := requireString(fields, "pin")
	if err != nil {
		return nil, err
	}
	if len(s) < 8 || len(s) > 16 {
		return nil, parseErr("connectionPinInput: pin %q must be 8-16 hex digits", s)
	}
	if s[0] == '0' {
		return nil, parseErr("connectionPinInput: pin %q has leading zero", s)
	}
	if _, err := hex.DecodeString(padEven(s)); err != nil {
		return nil, parseErr("connectionPinInput: pin %q is not hex: %v", s, err)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return nil, parseErr("connectionPinInput: pin %q: %v", s, err)
	}
	return &model.ConnectionPinInput{Pin: v}, nil
}

func padEven(s string) string {
	if len(s)%2 == 1 {
		return "0" + s
	}
	return s
}

func decodeConnectionPinError(fields map[string]json.RawMessage) (*model.ConnectionPinError, error) {
	s, err := requireString(fields, "error")
	if err != nil {
		return nil, err
	}
	e := model.ConnectionPinErrorType(s)
	switch e {
	case model.PinErrorRFU0, model.PinErrorWrongPin, model.PinErrorRFU4:
	default:
		return nil, parseErr("connectionPinError: invalid error %q", s)
	}
	return &model.ConnectionPinError{Error: e}, nil
}

func decodeAccessMethods(fields map[string]json.RawMessage) (*model.AccessMethods, error) {
	id, err := requireString(fields, "id")
	if err != nil {
		return nil, err
	}
	v := &model.AccessMethods{ID: id}
	if raw, ok := fields["dnsSdMdns"]; ok {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, parseErr("accessMethods: invalid dnsSdMdns: %v", err)
		}
		v.DNSSdMdns = &b
	}
	if raw, ok := fields["dns"]; ok {
		dnsFields, err := decodeFields(raw)
		if err != nil {
			return nil, err
		}
		uri, err := requireString(dnsFields, "uri")
		if err != nil {
			return nil, err
		}
		v.DNS = &model.AccessMethodDNS{URI: uri}
	}
	return v, nil
}

func decodeData(fields map[string]json.RawMessage) (*model.Data, error) {
	headerRaw, ok := fields["header"]
	if !ok {
		return nil, parseErr("data: missing header")
	}
	headerFields, err := decodeFields(headerRaw)
	if err != nil {
		return nil, err
	}
	protocolID, err := requireString(headerFields, "protocolId")
	if err != nil {
		return nil, err
	}
	if len(protocolID) > 7 {
		return nil, parseErr("data: protocolId %q longer than 7 chars", protocolID)
	}
	payloadRaw, ok := fields["payload"]
	if !ok {
		return nil, parseErr("data: missing payload")
	}
	payload := make([]byte, len(payloadRaw))
	copy(payload, payloadRaw)
	return &model.Data{Header: model.DataHeader{ProtocolID: protocolID}, Payload: payload}, nil
}

func decodeConnectionClose(fields map[string]json.RawMessage) (*model.ConnectionClose, error) {
	s, err := requireString(fields, "phase")
	if err != nil {
		return nil, err
	}
	phase := model.ConnectionClosePhaseType(s)
	if phase != model.CloseAnnounce && phase != model.CloseConfirm {
		return nil, parseErr("connectionClose: invalid phase %q", s)
	}
	v := &model.ConnectionClose{Phase: phase}
	if raw, ok := fields["maxTime"]; ok {
		var mt uint32
		if err := json.Unmarshal(raw, &mt); err != nil {
			return nil, parseErr("connectionClose: invalid maxTime: %v", err)
		}
		v.MaxTime = &mt
	}
	if raw, ok := fields["reason"]; ok {
		var r string
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, parseErr("connectionClose: invalid reason: %v", err)
		}
		rt := model.ConnectionCloseReasonType(r)
		if rt != model.CloseReasonUnspecific && rt != model.CloseReasonRemovedConnection {
			return nil, parseErr("connectionClose: invalid reason %q", r)
		}
		v.Reason = &rt
	}
	return v, nil
}
