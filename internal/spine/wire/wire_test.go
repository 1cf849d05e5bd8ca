package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
)

func TestEncodeDecodeRoundTripsDetailedDiscovery(t *testing.T) {
	src := address.NodeManagementFeature("local-ski")
	dst := address.NodeManagementFeature("remote-ski")
	counterRef := uint64(7)

	d := model.Datagram{
		Header: model.Header{
			SpecVersion:   model.SpecVersion,
			Src:           src,
			Dest:          dst,
			MsgCounter:    9,
			MsgCounterRef: &counterRef,
			CmdClassifier: model.CmdReply,
		},
		Payload: []model.Cmd{{
			Function: model.FunctionNodeManagementDetailedDiscoveryData,
			NodeManagementDetailedDiscoveryData: &model.NodeManagementDetailedDiscoveryData{
				Entities: []model.DetailedDiscoveryEntityDescription{{
					EntityAddress: address.Entity{Device: "local-ski", ID: []uint{1}},
				}},
			},
		}},
	}

	raw, err := Encode(d)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)

	require.Equal(t, d.Header.SpecVersion, got.Header.SpecVersion)
	require.True(t, got.Header.Src.Equal(src))
	require.True(t, got.Header.Dest.Equal(dst))
	require.Equal(t, d.Header.MsgCounter, got.Header.MsgCounter)
	require.NotNil(t, got.Header.MsgCounterRef)
	require.Equal(t, counterRef, *got.Header.MsgCounterRef)
	require.Equal(t, model.CmdReply, got.Header.CmdClassifier)
	require.Len(t, got.Payload, 1)
	require.Equal(t, model.FunctionNodeManagementDetailedDiscoveryData, got.Payload[0].Function)
	require.NotNil(t, got.Payload[0].NodeManagementDetailedDiscoveryData)
	require.Len(t, got.Payload[0].NodeManagementDetailedDiscoveryData.Entities, 1)
}

func TestEncodeDecodeRoundTripsResultOnlyCmd(t *testing.T) {
	d := model.Datagram{
		Header: model.Header{
			SpecVersion:   model.SpecVersion,
			Src:           address.NodeManagementFeature("local-ski"),
			Dest:          address.NodeManagementFeature("remote-ski"),
			CmdClassifier: model.CmdResult,
		},
		Payload: []model.Cmd{{
			ResultData: &model.ResultData{ErrorNumber: model.ErrorNumberGeneral},
		}},
	}

	raw, err := Encode(d)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, got.Payload, 1)
	require.Empty(t, got.Payload[0].Function)
	require.NotNil(t, got.Payload[0].ResultData)
	require.Equal(t, model.ErrorNumberGeneral, got.Payload[0].ResultData.ErrorNumber)
}

func TestDecodeRejectsCmdWithNoRecognisedKey(t *testing.T) {
	_, err := Decode([]byte(`{"header":{"specificationVersion":"1.3.0","addressSource":{"device":"a","entity":[0],"feature":0},"addressDestination":{"device":"b","entity":[0],"feature":0},"msgCounter":1,"cmdClassifier":"read"},"payload":{"cmd":[{"bogusFunction":{}}]}}`))
	require.Error(t, err)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
}
