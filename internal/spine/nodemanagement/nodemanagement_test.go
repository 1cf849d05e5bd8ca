package nodemanagement

import (
	"testing"

	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/device"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/events"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
	"github.com/stretchr/testify/require"
)

func newLocalDevice() (*device.DeviceLocal, address.Feature) {
	bus := events.NewBus()
	dev := device.NewDeviceLocal("local-ski", bus)
	measAddr := address.Feature{Entity: address.Entity{Device: "local-ski", ID: []uint{1}}, ID: 1}
	dev.AddEntity(&device.EntityLocal{
		Address: measAddr.Entity,
		Features: []*device.FeatureLocal{
			device.NewFeatureLocal(measAddr, model.FeatureTypeMeasurement, model.RoleServer, nil),
		},
	})
	return dev, measAddr
}

func TestHandleDetailedDiscoveryRead(t *testing.T) {
	dev, _ := newLocalDevice()
	f := New(dev, "local-ski", "local-ship-id")

	reply, err := f.Handle("remote-ski", model.CmdRead, model.Cmd{Function: model.FunctionNodeManagementDetailedDiscoveryData})
	require.NoError(t, err)
	require.NotNil(t, reply.NodeManagementDetailedDiscoveryData)
	require.Len(t, reply.NodeManagementDetailedDiscoveryData.Entities, 1)
	require.Len(t, reply.NodeManagementDetailedDiscoveryData.Entities[0].Features, 1)
}

func TestHandleDetailedDiscoveryIngestsRemoteTree(t *testing.T) {
	dev, _ := newLocalDevice()
	f := New(dev, "local-ski", "local-ship-id")

	remoteEntity := address.Entity{Device: "remote-ski", ID: []uint{1}}
	cmd := model.Cmd{
		Function: model.FunctionNodeManagementDetailedDiscoveryData,
		NodeManagementDetailedDiscoveryData: &model.NodeManagementDetailedDiscoveryData{
			Entities: []model.DetailedDiscoveryEntityDescription{{
				EntityAddress: remoteEntity,
				Features: []model.DetailedDiscoveryFeatureDescription{{
					FeatureAddress: address.Feature{Entity: remoteEntity, ID: 1},
					FeatureType:    model.FeatureTypeMeasurement,
					Role:           model.RoleClient,
				}},
			}},
		},
	}
	_, err := f.Handle("remote-ski", model.CmdNotify, cmd)
	require.NoError(t, err)

	rd, ok := dev.Remote("remote-ski")
	require.True(t, ok)
	require.Len(t, rd.Entities, 1)
}

func TestHandleSubscriptionRequestThenData(t *testing.T) {
	dev, measAddr := newLocalDevice()
	f := New(dev, "local-ski", "local-ship-id")

	remoteClient := address.Feature{Entity: address.Entity{Device: "remote-ski", ID: []uint{1}}, ID: 1}
	dev.AddRemote("remote-ski")
	// Make the remote feature visible to RemoteClientFeature validation by
	// ingesting it the way a real peer would via detailed discovery.
	ingest := model.Cmd{
		Function: model.FunctionNodeManagementDetailedDiscoveryData,
		NodeManagementDetailedDiscoveryData: &model.NodeManagementDetailedDiscoveryData{
			Entities: []model.DetailedDiscoveryEntityDescription{{
				EntityAddress: remoteClient.Entity,
				Features: []model.DetailedDiscoveryFeatureDescription{{
					FeatureAddress: remoteClient,
					FeatureType:    model.FeatureTypeMeasurement,
					Role:           model.RoleClient,
				}},
			}},
		},
	}
	_, err := f.Handle("remote-ski", model.CmdNotify, ingest)
	require.NoError(t, err)

	reqCmd := model.Cmd{
		Function: model.FunctionNodeManagementSubscriptionRequestCall,
		NodeManagementSubscriptionRequestCall: &model.NodeManagementSubscriptionRequestCall{
			SubscriptionRequest: model.SubscriptionRequest{
				ServerAddress:     measAddr,
				ServerFeatureType: model.FeatureTypeMeasurement,
				ClientAddress:     model.FeatureAddressRef{Entity: remoteClient.Entity.ID, Feature: uintPtr(1)},
				ClientFeatureType: model.FeatureTypeMeasurement,
			},
		},
	}
	reply, err := f.Handle("remote-ski", model.CmdCall, reqCmd)
	require.NoError(t, err)
	require.Nil(t, reply)

	dataCmd := model.Cmd{Function: model.FunctionNodeManagementSubscriptionData}
	reply, err = f.Handle("remote-ski", model.CmdCall, dataCmd)
	require.NoError(t, err)
	require.NotNil(t, reply.NodeManagementSubscriptionData)
	require.Len(t, reply.NodeManagementSubscriptionData.SubscriptionEntries, 1)
}

func TestHandleDestinationListData(t *testing.T) {
	dev, _ := newLocalDevice()
	f := New(dev, "local-ski", "local-ship-id")

	reply, err := f.Handle("remote-ski", model.CmdRead, model.Cmd{Function: model.FunctionNodeManagementDestinationListData})
	require.NoError(t, err)
	require.Equal(t, "local-ski", string(reply.NodeManagementDestinationListData.DeviceAddress))
	require.Equal(t, "local-ship-id", reply.NodeManagementDestinationListData.ShipID)
}

func TestHandleDestinationListDataRejectsWrongClassifier(t *testing.T) {
	dev, _ := newLocalDevice()
	f := New(dev, "local-ski", "local-ship-id")

	_, err := f.Handle("remote-ski", model.CmdWrite, model.Cmd{Function: model.FunctionNodeManagementDestinationListData})
	require.ErrorIs(t, err, ErrNotImplemented)
}

func uintPtr(v uint) *uint { return &v }
