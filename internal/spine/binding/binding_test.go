package binding

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/events"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
)

type fakeValidator struct {
	localOK  bool
	remoteOK bool
}

func (f fakeValidator) LocalServerFeature(address.Feature, model.FeatureType) bool { return f.localOK }
func (f fakeValidator) RemoteClientFeature(address.Device, address.Feature, model.FeatureType) bool {
	return f.remoteOK
}

func TestAddBindingRejectsUnknownServerFeature(t *testing.T) {
	m := NewManager(address.Device("local"), fakeValidator{localOK: false, remoteOK: true}, events.NewBus())
	err := m.AddBinding(address.Device("remote"), model.BindingRequest{
		ServerAddress:     address.Feature{Entity: address.Entity{Device: "local", ID: []uint{1}}, ID: 1},
		ServerFeatureType: model.FeatureTypeLoadControl,
		ClientFeatureType: model.FeatureTypeLoadControl,
	})
	require.ErrorIs(t, err, ErrNoChange)
}

func TestAddBindingRejectsSecondBindingOnSameServerFeature(t *testing.T) {
	m := NewManager(address.Device("local"), fakeValidator{localOK: true, remoteOK: true}, events.NewBus())
	server := address.Feature{Entity: address.Entity{Device: "local", ID: []uint{1}}, ID: 1}
	req := model.BindingRequest{ServerAddress: server, ServerFeatureType: model.FeatureTypeLoadControl, ClientFeatureType: model.FeatureTypeLoadControl}

	require.NoError(t, m.AddBinding(address.Device("remote-a"), req))
	err := m.AddBinding(address.Device("remote-b"), req)
	require.ErrorIs(t, err, ErrNoChange)
}

func TestAddBindingRejectsUnknownClientFeatureEvenWhenServerFree(t *testing.T) {
	m := NewManager(address.Device("local"), fakeValidator{localOK: true, remoteOK: false}, events.NewBus())
	err := m.AddBinding(address.Device("remote"), model.BindingRequest{
		ServerAddress:     address.Feature{Entity: address.Entity{Device: "local", ID: []uint{1}}, ID: 1},
		ServerFeatureType: model.FeatureTypeLoadControl,
		ClientFeatureType: model.FeatureTypeLoadControl,
	})
	require.ErrorIs(t, err, ErrNoChange)
}

func TestAddBindingPublishesAndListsForRemote(t *testing.T) {
	var published []events.Payload
	bus := events.NewBus()
	bus.Subscribe(events.BindingChange, func(p events.Payload) { published = append(published, p) })

	m := NewManager(address.Device("local"), fakeValidator{localOK: true, remoteOK: true}, bus)
	server := address.Feature{Entity: address.Entity{Device: "local", ID: []uint{1}}, ID: 1}
	req := model.BindingRequest{ServerAddress: server, ServerFeatureType: model.FeatureTypeLoadControl, ClientFeatureType: model.FeatureTypeLoadControl}

	require.NoError(t, m.AddBinding(address.Device("remote"), req))
	require.Len(t, published, 1)
	require.Equal(t, events.ChangeAdd, published[0].Change)

	data := m.CreateBindingData(address.Device("remote"))
	require.Len(t, data.BindingEntries, 1)
	require.True(t, data.BindingEntries[0].ServerAddress.Equal(server))
	require.Empty(t, m.CreateBindingData(address.Device("someone-else")).BindingEntries)
}

func TestRemoveBindingDefaultsDeviceAndPublishesRemove(t *testing.T) {
	bus := events.NewBus()
	var removed int
	bus.Subscribe(events.BindingChange, func(p events.Payload) {
		if p.Change == events.ChangeRemove {
			removed++
		}
	})
	m := NewManager(address.Device("local"), fakeValidator{localOK: true, remoteOK: true}, bus)
	server := address.Feature{Entity: address.Entity{Device: "local", ID: []uint{1}}, ID: 1}
	require.NoError(t, m.AddBinding(address.Device("remote"), model.BindingRequest{
		ServerAddress: server, ServerFeatureType: model.FeatureTypeLoadControl, ClientFeatureType: model.FeatureTypeLoadControl,
	}))

	err := m.RemoveBinding(address.Device("remote"), address.Device("local"), model.BindingDelete{
		ServerAddress: model.FeatureAddressRef{Entity: []uint{1}, Feature: uintPtr(1)},
		ClientAddress: model.FeatureAddressRef{Feature: uintPtr(0)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Empty(t, m.CreateBindingData(address.Device("remote")).BindingEntries)

	// the server feature is free again once the binding is removed
	require.NoError(t, m.AddBinding(address.Device("other"), model.BindingRequest{
		ServerAddress: server, ServerFeatureType: model.FeatureTypeLoadControl, ClientFeatureType: model.FeatureTypeLoadControl,
	}))
}

func TestRemoveBindingMissingIsNoChange(t *testing.T) {
	m := NewManager(address.Device("local"), fakeValidator{localOK: true, remoteOK: true}, events.NewBus())
	err := m.RemoveBinding(address.Device("remote"), address.Device("local"), model.BindingDelete{
		ServerAddress: model.FeatureAddressRef{Entity: []uint{1}, Feature: uintPtr(1)},
	})
	require.ErrorIs(t, err, ErrNoChange)
}

func TestRemoveEntityBindingsCascades(t *testing.T) {
	m := NewManager(address.Device("local"), fakeValidator{localOK: true, remoteOK: true}, events.NewBus())
	server := address.Feature{Entity: address.Entity{Device: "local", ID: []uint{1}}, ID: 1}
	require.NoError(t, m.AddBinding(address.Device("remote"), model.BindingRequest{
		ServerAddress: server, ServerFeatureType: model.FeatureTypeLoadControl, ClientFeatureType: model.FeatureTypeLoadControl,
	}))

	m.RemoveEntityBindings(address.Entity{Device: "remote", ID: nil})
	require.Empty(t, m.CreateBindingData(address.Device("remote")).BindingEntries)
}

func uintPtr(v uint) *uint { return &v }
