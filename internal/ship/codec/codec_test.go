package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipptrenz/openeebus-sub004/internal/ship/model"
)

func TestConnectionHelloEncodeExactBytes(t *testing.T) {
	waiting := uint32(6000)
	msg := model.Message{
		Type: model.MsgTypeControl,
		ConnectionHello: &model.ConnectionHello{
			Phase:   model.HelloReady,
			Waiting: &waiting,
		},
	}
	frame, err := Encode(msg)
	require.NoError(t, err)
	want := "\x01{\"connectionHello\":[{\"phase\":\"ready\"},{\"waiting\":6000}]}"
	assert.Equal(t, want, string(frame))
	assert.Len(t, frame, 57)
}

func TestInitFrameIsTagPlusZeroByte(t *testing.T) {
	frame, err := Encode(model.Message{Type: model.MsgTypeInit})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, frame)
}

func TestRoundTripAllVariants(t *testing.T) {
	waiting := uint32(1500)
	prolong := true
	inputPerm := model.PinInputOk
	maxTime := uint32(3000)
	reason := model.CloseReasonUnspecific
	dnsFlag := true

	cases := []model.Message{
		{Type: model.MsgTypeControl, ConnectionHello: &model.ConnectionHello{Phase: model.HelloPending, Waiting: &waiting, ProlongationRequest: &prolong}},
		{Type: model.MsgTypeControl, MessageProtocolHandshake: &model.MessageProtocolHandshake{
			HandshakeType: model.HandshakeAnnounceMax,
			Version:       model.Version{Major: 1, Minor: 0},
			Formats:       []model.MessageProtocolFormatType{model.FormatJSONUTF8},
		}},
		{Type: model.MsgTypeControl, MessageProtocolHandshakeError: &model.MessageProtocolHandshakeError{Error: model.HandshakeErrorSelectionMismatch}},
		{Type: model.MsgTypeControl, ConnectionPinState: &model.ConnectionPinState{PinState: model.PinOptional, InputPermission: &inputPerm}},
		{Type: model.MsgTypeControl, ConnectionPinInput: &model.ConnectionPinInput{Pin: 0xABCD735555AAAAFF}},
		{Type: model.MsgTypeControl, ConnectionPinError: &model.ConnectionPinError{Error: model.PinErrorWrongPin}},
		{Type: model.MsgTypeControl, AccessMethodsRequest: &model.AccessMethodsRequest{}},
		{Type: model.MsgTypeControl, AccessMethods: &model.AccessMethods{ID: "PeerShipID", DNSSdMdns: &dnsFlag, DNS: &model.AccessMethodDNS{URI: "wss://x:4769"}}},
		{Type: model.MsgTypeData, Data: &model.Data{Header: model.DataHeader{ProtocolID: "ee1.0"}, Payload: []byte(`{"header":{},"payload":{}}`)}},
		{Type: model.MsgTypeEnd, ConnectionClose: &model.ConnectionClose{Phase: model.CloseAnnounce, MaxTime: &maxTime, Reason: &reason}},
	}

	for _, in := range cases {
		frame, err := Encode(in)
		require.NoError(t, err)
		assert.True(t, frame[0] == byte(in.Type))

		out, err := Decode(frame)
		require.NoError(t, err)
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeAccessMethodsScenario(t *testing.T) {
	frame := []byte("\x01{\"accessMethods\":[{\"id\":\"PeerShipID\"},{\"dns\":[{\"uri\":\"wss://x:4769\"}]}]}")
	msg, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, msg.AccessMethods)
	assert.Equal(t, "PeerShipID", msg.AccessMethods.ID)
	assert.Nil(t, msg.AccessMethods.DNSSdMdns)
	require.NotNil(t, msg.AccessMethods.DNS)
	assert.Equal(t, "wss://x:4769", msg.AccessMethods.DNS.URI)
}

func TestPinInputHexParsing(t *testing.T) {
	ok, err := Decode([]byte("\x01{\"connectionPinInput\":[{\"pin\":\"ABCD735555AAAAFF\"}]}"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xABCD735555AAAAFF), ok.ConnectionPinInput.Pin)

	badCases := []string{
		"\x01{\"connectionPinInput\":[{\"pin\":\"0123456\"}]}",
		"\x01{\"connectionPinInput\":[{\"pin\":\"1234567\"}]}",
		"\x01{\"connectionPinInput\":[{\"pin\":\"G1234567\"}]}",
	}
	for _, f := range badCases {
		_, err := Decode([]byte(f))
		assert.Error(t, err)
	}
}

func TestDecodeRejectsBadTag(t *testing.T) {
	_, err := Decode([]byte{0x04, '{', '}'})
	assert.Error(t, err)
}

func TestDecodeRejectsMultiKeyVariantElement(t *testing.T) {
	_, err := Decode([]byte("\x01{\"connectionHello\":[{\"phase\":\"ready\",\"waiting\":1}]}"))
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownEnumLiteral(t *testing.T) {
	_, err := Decode([]byte("\x01{\"connectionHello\":[{\"phase\":\"bogus\"}]}"))
	assert.Error(t, err)
}
