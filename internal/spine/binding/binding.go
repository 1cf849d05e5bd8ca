// Package binding implements the Binding Manager: structurally identical to
// the Subscription Manager but its links authorise writes rather than
// observation, and a local server feature may carry at most one binding.
// Grounded on original_source/src/spine/binding/binding_manager.c.
package binding

import (
	"errors"

	"github.com/philipptrenz/openeebus-sub004/internal/metrics"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/events"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/link"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
)

// ErrNoChange reports a well-formed idempotent no-op.
var ErrNoChange = errors.New("binding: no change")

// FeatureValidator is the capability the Binding Manager needs from its
// owning DeviceLocal. See subscription.FeatureValidator for the rationale.
type FeatureValidator interface {
	LocalServerFeature(addr address.Feature, featureType model.FeatureType) bool
	RemoteClientFeature(remoteDevice address.Device, addr address.Feature, featureType model.FeatureType) bool
}

// Manager owns one LinkContainer of binding entries. No lock of its own.
type Manager struct {
	localDevice address.Device
	validator   FeatureValidator
	links       *link.Container
	bus         *events.Bus
}

// NewManager constructs an empty Manager for localDevice's binding table.
func NewManager(localDevice address.Device, v FeatureValidator, bus *events.Bus) *Manager {
	return &Manager{localDevice: localDevice, validator: v, links: link.NewContainer(), bus: bus}
}

func (m *Manager) reportCount() {
	metrics.BindingEntries.WithLabelValues(string(m.localDevice)).Set(float64(m.links.Len()))
}

func resolveAddress(ref model.FeatureAddressRef, fallback address.Device) address.Feature {
	dev := fallback
	if ref.Device != nil {
		dev = *ref.Device
	}
	featureID := uint(0)
	if ref.Feature != nil {
		featureID = *ref.Feature
	}
	return address.Feature{Entity: address.Entity{Device: dev, ID: ref.Entity}, ID: featureID}
}

// AddBinding validates and inserts a new binding link. The server-feature
// uniqueness check runs before the client-feature validation, matching the
// original's check order exactly (a second binding attempt against an
// already-bound server feature is rejected even if the new client address
// would itself be invalid).
func (m *Manager) AddBinding(remoteDevice address.Device, req model.BindingRequest) error {
	if !m.validator.LocalServerFeature(req.ServerAddress, req.ServerFeatureType) {
		return ErrNoChange
	}
	if m.links.HasServer(req.ServerAddress) {
		return ErrNoChange
	}
	clientAddr := resolveAddress(req.ClientAddress, remoteDevice)
	if !m.validator.RemoteClientFeature(remoteDevice, clientAddr, req.ClientFeatureType) {
		return ErrNoChange
	}

	l := m.links.Add(req.ServerAddress, clientAddr)
	m.reportCount()
	m.bus.Publish(events.Payload{Type: events.BindingChange, Change: events.ChangeAdd, Detail: l})
	return nil
}

// RemoveBinding removes the entry matching the (defaulted) addresses in del.
func (m *Manager) RemoveBinding(remoteDevice, localDevice address.Device, del model.BindingDelete) error {
	serverAddr := resolveAddress(del.ServerAddress, localDevice)
	clientAddr := resolveAddress(del.ClientAddress, remoteDevice)

	l, exists := m.links.Find(serverAddr, clientAddr)
	if !exists {
		return ErrNoChange
	}
	m.links.Remove(l.ID)
	m.reportCount()
	m.bus.Publish(events.Payload{Type: events.BindingChange, Change: events.ChangeRemove, Detail: l})
	return nil
}

// RemoveDeviceBindings cascades removal of every entry whose client feature
// belongs to remoteDevice.
func (m *Manager) RemoveDeviceBindings(remoteDevice address.Device) {
	removed := m.links.RemoveWhere(func(l link.Link) bool {
		return l.Client.Entity.Device == remoteDevice
	})
	if len(removed) > 0 {
		m.reportCount()
	}
	for _, l := range removed {
		m.bus.Publish(events.Payload{Type: events.BindingChange, Change: events.ChangeRemove, Detail: l})
	}
}

// RemoveEntityBindings cascades removal of every entry whose client feature
// belongs to the given remote entity.
func (m *Manager) RemoveEntityBindings(entity address.Entity) {
	removed := m.links.RemoveWhere(func(l link.Link) bool {
		return l.Client.Entity.Equal(entity)
	})
	if len(removed) > 0 {
		m.reportCount()
	}
	for _, l := range removed {
		m.bus.Publish(events.Payload{Type: events.BindingChange, Change: events.ChangeRemove, Detail: l})
	}
}

// CreateBindingData enumerates every entry whose client belongs to
// remoteDevice into the wire structure for a node-management reply, using
// append rather than the original's full-container-indexed output array
// (see subscription.Manager.CreateSubscriptionData for the bug this avoids).
func (m *Manager) CreateBindingData(remoteDevice address.Device) model.NodeManagementBindingData {
	var out model.NodeManagementBindingData
	for _, l := range m.links.All() {
		if l.Client.Entity.Device != remoteDevice {
			continue
		}
		out.BindingEntries = append(out.BindingEntries, model.BindingEntry{
			BindingID:     l.ID,
			ServerAddress: l.Server,
			ClientAddress: l.Client,
		})
	}
	return out
}
