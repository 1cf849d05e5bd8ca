// Package model defines the typed values carried by SHIP frames.
package model

// MsgType is the single-byte frame tag.
type MsgType byte

const (
	MsgTypeInit    MsgType = 0
	MsgTypeControl MsgType = 1
	MsgTypeData    MsgType = 2
	MsgTypeEnd     MsgType = 3
)

// ProtocolID is the only protocol identifier this core understands.
const ProtocolID = "ee1.0"

// SupportedMajor/SupportedMinor are this side's maximum handshake version.
const (
	SupportedMajor uint8 = 1
	SupportedMinor uint8 = 0
)

// ConnectionHelloPhase enumerates the phase field of connectionHello.
type ConnectionHelloPhase string

const (
	HelloPending ConnectionHelloPhase = "pending"
	HelloReady   ConnectionHelloPhase = "ready"
	HelloAborted ConnectionHelloPhase = "aborted"
)

// ConnectionHello is the HELLO_SENT phase message.
type ConnectionHello struct {
	Phase               ConnectionHelloPhase
	Waiting             *uint32
	ProlongationRequest *bool
}

// MessageProtocolFormatType enumerates supported wire encodings.
type MessageProtocolFormatType string

const (
	FormatJSONUTF8  MessageProtocolFormatType = "JSON-UTF8"
	FormatJSONUTF16 MessageProtocolFormatType = "JSON-UTF16"
)

// ProtocolHandshakeType distinguishes the two handshake messages.
type ProtocolHandshakeType string

const (
	HandshakeAnnounceMax ProtocolHandshakeType = "announceMax"
	HandshakeSelect      ProtocolHandshakeType = "select"
)

// Version is a major.minor protocol version pair.
type Version struct {
	Major uint8
	Minor uint8
}

// MessageProtocolHandshake is the HANDSHAKE phase message.
type MessageProtocolHandshake struct {
	HandshakeType ProtocolHandshakeType
	Version       Version
	Formats       []MessageProtocolFormatType
}

// MessageProtocolHandshakeErrorType enumerates handshake failure reasons.
type MessageProtocolHandshakeErrorType string

const (
	HandshakeErrorRFU               MessageProtocolHandshakeErrorType = "RFU"
	HandshakeErrorTimeout           MessageProtocolHandshakeErrorType = "timeout"
	HandshakeErrorUnexpectedMessage MessageProtocolHandshakeErrorType = "unexpectedMessage"
	HandshakeErrorSelectionMismatch MessageProtocolHandshakeErrorType = "selectionMismatch"
)

// MessageProtocolHandshakeError reports a failed handshake.
type MessageProtocolHandshakeError struct {
	Error MessageProtocolHandshakeErrorType
}

// PinStateType enumerates the PIN phase state.
type PinStateType string

const (
	PinRequired PinStateType = "required"
	PinOptional PinStateType = "optional"
	PinOk       PinStateType = "pinOk"
	PinNone     PinStateType = "none"
)

// PinInputPermissionType enumerates whether PIN input is currently accepted.
type PinInputPermissionType string

const (
	PinInputBusy PinInputPermissionType = "busy"
	PinInputOk   PinInputPermissionType = "ok"
)

// ConnectionPinState is the PIN phase state announcement.
type ConnectionPinState struct {
	PinState        PinStateType
	InputPermission *PinInputPermissionType
}

// ConnectionPinInput carries a 64-bit PIN value parsed from 8-16 hex digits.
type ConnectionPinInput struct {
	Pin uint64
}

// ConnectionPinErrorType enumerates PIN rejection reasons.
type ConnectionPinErrorType string

const (
	PinErrorRFU0     ConnectionPinErrorType = "rfu0"
	PinErrorWrongPin ConnectionPinErrorType = "wrongPin"
	PinErrorRFU4     ConnectionPinErrorType = "rfu4"
)

// ConnectionPinError reports a rejected PIN.
type ConnectionPinError struct {
	Error ConnectionPinErrorType
}

// AccessMethodsRequest requests the peer's access methods; it carries no fields.
type AccessMethodsRequest struct{}

// AccessMethodDNS is the optional DNS access method.
type AccessMethodDNS struct {
	URI string
}

// AccessMethods advertises a ship id and optional discovery access methods.
type AccessMethods struct {
	ID        string
	DNSSdMdns *bool
	DNS       *AccessMethodDNS
}

// DataHeader carries the SHIP-level protocol identifier of a DATA frame.
type DataHeader struct {
	ProtocolID string
}

// Data is the DATA-phase frame; Payload is raw, unparsed SPINE JSON.
type Data struct {
	Header  DataHeader
	Payload []byte
}

// ConnectionClosePhaseType enumerates the close-handshake phase.
type ConnectionClosePhaseType string

const (
	CloseAnnounce ConnectionClosePhaseType = "announce"
	CloseConfirm  ConnectionClosePhaseType = "confirm"
)

// ConnectionCloseReasonType enumerates why a connection is closing.
type ConnectionCloseReasonType string

const (
	CloseReasonUnspecific       ConnectionCloseReasonType = "unspecific"
	CloseReasonRemovedConnection ConnectionCloseReasonType = "removedConnection"
)

// ConnectionClose is the END-phase close handshake message.
type ConnectionClose struct {
	Phase   ConnectionClosePhaseType
	MaxTime *uint32
	Reason  *ConnectionCloseReasonType
}

// Message is the discriminated union of every SHIP variant. Exactly one
// field other than Type is meaningful for a given value; Type drives both
// the frame tag and the wire key when encoding.
type Message struct {
	Type MsgType

	ConnectionHello               *ConnectionHello
	MessageProtocolHandshake      *MessageProtocolHandshake
	MessageProtocolHandshakeError *MessageProtocolHandshakeError
	ConnectionPinState            *ConnectionPinState
	ConnectionPinInput            *ConnectionPinInput
	ConnectionPinError            *ConnectionPinError
	AccessMethodsRequest          *AccessMethodsRequest
	AccessMethods                 *AccessMethods
	Data                          *Data
	ConnectionClose               *ConnectionClose
}
