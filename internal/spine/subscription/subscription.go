// Package subscription implements the Subscription Manager: the per-device
// table of observation links between a local server feature and a remote
// client feature. Grounded on
// original_source/src/spine/subscription/subscription_manager.c.
package subscription

import (
	"errors"

	"github.com/philipptrenz/openeebus-sub004/internal/metrics"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/events"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/link"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
)

// ErrNoChange reports a call that was a well-formed idempotent no-op (e.g.
// a duplicate add), matching the original's kEebusErrorNoChange.
var ErrNoChange = errors.New("subscription: no change")

// FeatureValidator is the capability the Subscription Manager needs from its
// owning DeviceLocal: checking that addresses name live features of the
// expected role and type. Defined here (rather than imported from the
// device package) so device can embed Manager without an import cycle.
type FeatureValidator interface {
	LocalServerFeature(addr address.Feature, featureType model.FeatureType) bool
	RemoteClientFeature(remoteDevice address.Device, addr address.Feature, featureType model.FeatureType) bool
}

// Manager owns one LinkContainer of subscription entries. It has no lock of
// its own: callers (DeviceLocal) must hold their own lock around every call.
type Manager struct {
	localDevice address.Device
	validator   FeatureValidator
	links       *link.Container
	bus         *events.Bus
}

// NewManager constructs an empty Manager for localDevice's subscription
// table.
func NewManager(localDevice address.Device, v FeatureValidator, bus *events.Bus) *Manager {
	return &Manager{localDevice: localDevice, validator: v, links: link.NewContainer(), bus: bus}
}

func (m *Manager) reportCount() {
	metrics.SubscriptionEntries.WithLabelValues(string(m.localDevice)).Set(float64(m.links.Len()))
}

// resolveAddress fills in a possibly-absent device component on a
// FeatureAddressRef, defaulting to fallback - the rule behind
// remove_subscription's defaulting.
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

// AddSubscription validates and inserts a new subscription link. Returns
// ErrNoChange if the server feature is not a matching local server, the
// client feature is not a matching remote client, or the pair already
// exists.
func (m *Manager) AddSubscription(remoteDevice address.Device, req model.SubscriptionRequest) error {
	if !m.validator.LocalServerFeature(req.ServerAddress, req.ServerFeatureType) {
		return ErrNoChange
	}
	clientAddr := resolveAddress(req.ClientAddress, remoteDevice)
	if !m.validator.RemoteClientFeature(remoteDevice, clientAddr, req.ClientFeatureType) {
		return ErrNoChange
	}
	if _, exists := m.links.Find(req.ServerAddress, clientAddr); exists {
		return ErrNoChange
	}

	l := m.links.Add(req.ServerAddress, clientAddr)
	m.reportCount()
	m.bus.Publish(events.Payload{
		Type:   events.SubscriptionChange,
		Change: events.ChangeAdd,
		Detail: l,
	})
	return nil
}

// RemoveSubscription removes the entry matching the (defaulted) addresses
// in del, publishing a Remove event. localDevice is this side's own device
// address, used to default del.ServerAddress.Device when absent.
func (m *Manager) RemoveSubscription(remoteDevice, localDevice address.Device, del model.SubscriptionDelete) error {
	serverAddr := resolveAddress(del.ServerAddress, localDevice)
	clientAddr := resolveAddress(del.ClientAddress, remoteDevice)

	l, exists := m.links.Find(serverAddr, clientAddr)
	if !exists {
		return ErrNoChange
	}
	m.links.Remove(l.ID)
	m.reportCount()
	m.bus.Publish(events.Payload{
		Type:   events.SubscriptionChange,
		Change: events.ChangeRemove,
		Detail: l,
	})
	return nil
}

// RemoveDeviceSubscriptions cascades removal of every entry whose client
// feature belongs to remoteDevice.
func (m *Manager) RemoveDeviceSubscriptions(remoteDevice address.Device) {
	removed := m.links.RemoveWhere(func(l link.Link) bool {
		return l.Client.Entity.Device == remoteDevice
	})
	if len(removed) > 0 {
		m.reportCount()
	}
	for _, l := range removed {
		m.bus.Publish(events.Payload{Type: events.SubscriptionChange, Change: events.ChangeRemove, Detail: l})
	}
}

// RemoveEntitySubscriptions cascades removal of every entry whose client
// feature belongs to the given remote entity.
func (m *Manager) RemoveEntitySubscriptions(entity address.Entity) {
	removed := m.links.RemoveWhere(func(l link.Link) bool {
		return l.Client.Entity.Equal(entity)
	})
	if len(removed) > 0 {
		m.reportCount()
	}
	for _, l := range removed {
		m.bus.Publish(events.Payload{Type: events.SubscriptionChange, Change: events.ChangeRemove, Detail: l})
	}
}

// Subscribers returns the client feature addresses subscribed to server -
// the set a notify-on-change must fan out to.
func (m *Manager) Subscribers(server address.Feature) []address.Feature {
	var out []address.Feature
	for _, l := range m.links.All() {
		if l.Server.Equal(server) {
			out = append(out, l.Client)
		}
	}
	return out
}

// CreateSubscriptionData enumerates every entry whose client belongs to
// remoteDevice into the wire structure for a node-management reply. Built
// with append rather than a preallocated, full-container-indexed array: the
// original's equivalent routine sizes its output array to the number of
// matches but then writes at the *full container's* loop index, which
// leaves gaps or overwrites slots whenever earlier entries don't match this
// remote device. append avoids that class of bug by construction.
func (m *Manager) CreateSubscriptionData(remoteDevice address.Device) model.NodeManagementSubscriptionData {
	var out model.NodeManagementSubscriptionData
	for _, l := range m.links.All() {
		if l.Client.Entity.Device != remoteDevice {
			continue
		}
		out.SubscriptionEntries = append(out.SubscriptionEntries, model.SubscriptionEntry{
			SubscriptionID: l.ID,
			ServerAddress:  l.Server,
			ClientAddress:  l.Client,
		})
	}
	return out
}
