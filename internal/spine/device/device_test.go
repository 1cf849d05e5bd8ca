package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/events"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
)

func newMeasurementDevice() (*DeviceLocal, address.Feature) {
	d := NewDeviceLocal(address.Device("local-ski"), events.NewBus())
	addr := address.Feature{Entity: address.Entity{Device: "local-ski", ID: []uint{1}}, ID: 1}
	d.AddEntity(&EntityLocal{
		Address:  addr.Entity,
		Features: []*FeatureLocal{NewFeatureLocal(addr, model.FeatureTypeMeasurement, model.RoleServer, nil)},
	})
	return d, addr
}

func TestLocalServerFeatureMatchesRoleAndType(t *testing.T) {
	d, addr := newMeasurementDevice()
	require.True(t, d.LocalServerFeature(addr, model.FeatureTypeMeasurement))
	require.False(t, d.LocalServerFeature(addr, model.FeatureTypeLoadControl))

	other := address.Feature{Entity: address.Entity{Device: "local-ski", ID: []uint{2}}, ID: 1}
	require.False(t, d.LocalServerFeature(other, model.FeatureTypeMeasurement))
}

func TestRemoteClientFeatureRequiresIngestedPeer(t *testing.T) {
	d, _ := newMeasurementDevice()
	clientAddr := address.Feature{Entity: address.Entity{Device: "remote-ski", ID: []uint{1}}, ID: 1}

	require.False(t, d.RemoteClientFeature(address.Device("remote-ski"), clientAddr, model.FeatureTypeMeasurement))

	rd := d.AddRemote(address.Device("remote-ski"))
	rd.ReplaceEntity(model.DetailedDiscoveryEntityDescription{
		EntityAddress: clientAddr.Entity,
		Features: []model.DetailedDiscoveryFeatureDescription{
			{FeatureAddress: clientAddr, FeatureType: model.FeatureTypeMeasurement, Role: model.RoleClient},
		},
	})

	require.True(t, d.RemoteClientFeature(address.Device("remote-ski"), clientAddr, model.FeatureTypeMeasurement))
	require.False(t, d.RemoteClientFeature(address.Device("remote-ski"), clientAddr, model.FeatureTypeLoadControl))
}

func TestReplaceEntityOverwritesExistingAddress(t *testing.T) {
	rd := &DeviceRemote{Address: "remote-ski"}
	entAddr := address.Entity{Device: "remote-ski", ID: []uint{1}}
	featAddr := address.Feature{Entity: entAddr, ID: 1}

	rd.ReplaceEntity(model.DetailedDiscoveryEntityDescription{EntityAddress: entAddr})
	require.Len(t, rd.Entities, 1)
	require.Empty(t, rd.Entities[0].Features)

	rd.ReplaceEntity(model.DetailedDiscoveryEntityDescription{
		EntityAddress: entAddr,
		Features:      []model.DetailedDiscoveryFeatureDescription{{FeatureAddress: featAddr, FeatureType: model.FeatureTypeMeasurement}},
	})
	require.Len(t, rd.Entities, 1)
	require.Len(t, rd.Entities[0].Features, 1)
}

func TestRemoveRemoteCascadesSubscriptions(t *testing.T) {
	d, serverAddr := newMeasurementDevice()
	clientAddr := address.Feature{Entity: address.Entity{Device: "remote-ski", ID: []uint{1}}, ID: 1}
	rd := d.AddRemote(address.Device("remote-ski"))
	rd.ReplaceEntity(model.DetailedDiscoveryEntityDescription{
		EntityAddress: clientAddr.Entity,
		Features:      []model.DetailedDiscoveryFeatureDescription{{FeatureAddress: clientAddr, FeatureType: model.FeatureTypeMeasurement, Role: model.RoleClient}},
	})

	require.NoError(t, d.Subscriptions().AddSubscription(address.Device("remote-ski"), model.SubscriptionRequest{
		ServerAddress:     serverAddr,
		ServerFeatureType: model.FeatureTypeMeasurement,
		ClientAddress:     model.FeatureAddressRef{Entity: clientAddr.Entity.ID, Feature: uintPtr(clientAddr.ID)},
		ClientFeatureType: model.FeatureTypeMeasurement,
	}))
	require.Len(t, d.Subscriptions().Subscribers(serverAddr), 1)

	d.RemoveRemote(address.Device("remote-ski"))

	require.Empty(t, d.Subscriptions().Subscribers(serverAddr))
	_, ok := d.Remote(address.Device("remote-ski"))
	require.False(t, ok)
}

func TestUpdateFeatureCacheAndCollectSubscribersReturnsSubscribers(t *testing.T) {
	d, serverAddr := newMeasurementDevice()
	clientAddr := address.Feature{Entity: address.Entity{Device: "remote-ski", ID: []uint{1}}, ID: 1}
	rd := d.AddRemote(address.Device("remote-ski"))
	rd.ReplaceEntity(model.DetailedDiscoveryEntityDescription{
		EntityAddress: clientAddr.Entity,
		Features:      []model.DetailedDiscoveryFeatureDescription{{FeatureAddress: clientAddr, FeatureType: model.FeatureTypeMeasurement, Role: model.RoleClient}},
	})
	require.NoError(t, d.Subscriptions().AddSubscription(address.Device("remote-ski"), model.SubscriptionRequest{
		ServerAddress:     serverAddr,
		ServerFeatureType: model.FeatureTypeMeasurement,
		ClientAddress:     model.FeatureAddressRef{Entity: clientAddr.Entity.ID, Feature: uintPtr(clientAddr.ID)},
		ClientFeatureType: model.FeatureTypeMeasurement,
	}))

	subs, err := d.UpdateFeatureCacheAndCollectSubscribers(serverAddr, model.FunctionMeasurementListData, model.Cmd{Function: model.FunctionMeasurementListData})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.True(t, subs[0].Equal(clientAddr))

	f := d.FindFeature(serverAddr)
	cached, ok := f.Cached(model.FunctionMeasurementListData)
	require.True(t, ok)
	require.Equal(t, model.FunctionMeasurementListData, cached.Function)
}

func TestUpdateFeatureCacheAndCollectSubscribersErrorsForUnknownFeature(t *testing.T) {
	d, _ := newMeasurementDevice()
	unknown := address.Feature{Entity: address.Entity{Device: "local-ski", ID: []uint{9}}, ID: 9}
	_, err := d.UpdateFeatureCacheAndCollectSubscribers(unknown, model.FunctionMeasurementListData, model.Cmd{})
	require.Error(t, err)
}

func uintPtr(v uint) *uint { return &v }
