// Package device implements the local and remote device/entity/feature
// graphs: DeviceLocal owns the node's own tree plus the Subscription and
// Binding managers behind one mutex (the original's single coarse-grained
// DeviceLocal lock, re-expressed with sync.Mutex); DeviceRemote mirrors a
// paired peer's tree as populated by node-management discovery.
package device

import (
	"fmt"
	"sync"

	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/binding"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/events"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/subscription"
)

// MessageHandler processes one inbound command addressed to a FeatureLocal.
// It returns function data to reply with (nil if the command needs no
// reply, e.g. a successfully applied notify) or an error to be converted to
// result_error by the dispatcher.
type MessageHandler func(fromDevice address.Device, classifier model.CmdClassifier, cmd model.Cmd) (*model.Cmd, error)

// FeatureLocal is one function-bearing unit owned by this side.
type FeatureLocal struct {
	Address  address.Feature
	Type     model.FeatureType
	Role     model.FeatureRole
	Handler  MessageHandler
	cache    map[model.FunctionType]model.Cmd
}

// NewFeatureLocal constructs a FeatureLocal with an empty function-data
// cache.
func NewFeatureLocal(addr address.Feature, typ model.FeatureType, role model.FeatureRole, handler MessageHandler) *FeatureLocal {
	return &FeatureLocal{Address: addr, Type: typ, Role: role, Handler: handler, cache: make(map[model.FunctionType]model.Cmd)}
}

// SetCache records the last-known value for a function.
func (f *FeatureLocal) SetCache(fn model.FunctionType, cmd model.Cmd) { f.cache[fn] = cmd }

// Cached returns the last-known value for a function, if any.
func (f *FeatureLocal) Cached(fn model.FunctionType) (model.Cmd, bool) {
	c, ok := f.cache[fn]
	return c, ok
}

// EntityLocal groups an ordered set of FeatureLocals and the use-case
// support records the entity advertises.
type EntityLocal struct {
	Address  address.Entity
	Features []*FeatureLocal
	UseCases []model.UseCaseSupport
}

// AddUseCase inserts or replaces the record for (actor, useCaseName),
// enforcing at most one record per pair.
func (e *EntityLocal) AddUseCase(uc model.UseCaseSupport) {
	for i, existing := range e.UseCases {
		if existing.Actor == uc.Actor && existing.UseCaseName == uc.UseCaseName {
			e.UseCases[i] = uc
			return
		}
	}
	e.UseCases = append(e.UseCases, uc)
}

// FeatureRemote mirrors one feature exposed by a paired peer.
type FeatureRemote struct {
	Address address.Feature
	Type    model.FeatureType
	Role    model.FeatureRole
}

// EntityRemote mirrors one entity exposed by a paired peer.
type EntityRemote struct {
	Address  address.Entity
	Features []*FeatureRemote
	UseCases []model.UseCaseSupport
}

// DeviceRemote mirrors a paired peer's entity/feature tree.
type DeviceRemote struct {
	Address  address.Device
	Entities []*EntityRemote
}

func (d *DeviceRemote) findEntity(addr address.Entity) *EntityRemote {
	for _, e := range d.Entities {
		if e.Address.Equal(addr) {
			return e
		}
	}
	return nil
}

func (d *DeviceRemote) findFeature(addr address.Feature) *FeatureRemote {
	e := d.findEntity(addr.Entity)
	if e == nil {
		return nil
	}
	for _, f := range e.Features {
		if f.Address.ID == addr.ID {
			return f
		}
	}
	return nil
}

// ReplaceEntity inserts or overwrites the entity subtree at desc's address,
// the ingestion step for a DetailedDiscoveryData reply/notify.
func (d *DeviceRemote) ReplaceEntity(desc model.DetailedDiscoveryEntityDescription) {
	features := make([]*FeatureRemote, 0, len(desc.Features))
	for _, fd := range desc.Features {
		features = append(features, &FeatureRemote{Address: fd.FeatureAddress, Type: fd.FeatureType, Role: fd.Role})
	}
	for i, e := range d.Entities {
		if e.Address.Equal(desc.EntityAddress) {
			d.Entities[i] = &EntityRemote{Address: desc.EntityAddress, Features: features}
			return
		}
	}
	d.Entities = append(d.Entities, &EntityRemote{Address: desc.EntityAddress, Features: features})
}

// RemoveEntity deletes the entity subtree at addr, if present.
func (d *DeviceRemote) RemoveEntity(addr address.Entity) {
	for i, e := range d.Entities {
		if e.Address.Equal(addr) {
			d.Entities = append(d.Entities[:i], d.Entities[i+1:]...)
			return
		}
	}
}

// DeviceLocal owns this side's entity/feature tree, the paired-peer
// registry used for feature-address validation, and the Subscription and
// Binding managers, all behind one mutex.
type DeviceLocal struct {
	mu       sync.Mutex
	address  address.Device
	entities []*EntityLocal
	remotes  map[address.Device]*DeviceRemote

	bus          *events.Bus
	subscription *subscription.Manager
	binding      *binding.Manager
}

// NewDeviceLocal constructs a DeviceLocal with empty managers bound to bus.
func NewDeviceLocal(addr address.Device, bus *events.Bus) *DeviceLocal {
	d := &DeviceLocal{address: addr, remotes: make(map[address.Device]*DeviceRemote), bus: bus}
	d.subscription = subscription.NewManager(addr, d, bus)
	d.binding = binding.NewManager(addr, d, bus)
	return d
}

// Address returns this device's own address.
func (d *DeviceLocal) Address() address.Device { return d.address }

// Subscriptions returns the owned Subscription Manager.
func (d *DeviceLocal) Subscriptions() *subscription.Manager { return d.subscription }

// Bindings returns the owned Binding Manager.
func (d *DeviceLocal) Bindings() *binding.Manager { return d.binding }

// AddEntity registers a new local entity. Must be called before the device
// is exposed to any peer.
func (d *DeviceLocal) AddEntity(e *EntityLocal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entities = append(d.entities, e)
}

// Entities returns a snapshot of the local entity tree.
func (d *DeviceLocal) Entities() []*EntityLocal {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*EntityLocal, len(d.entities))
	copy(out, d.entities)
	return out
}

// FindFeature returns the local feature at addr, if any.
func (d *DeviceLocal) FindFeature(addr address.Feature) *FeatureLocal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findFeatureLocked(addr)
}

func (d *DeviceLocal) findFeatureLocked(addr address.Feature) *FeatureLocal {
	for _, e := range d.entities {
		if !e.Address.Equal(addr.Entity) {
			continue
		}
		for _, f := range e.Features {
			if f.Address.ID == addr.ID {
				return f
			}
		}
	}
	return nil
}

// LocalServerFeature implements subscription.FeatureValidator and
// binding.FeatureValidator.
func (d *DeviceLocal) LocalServerFeature(addr address.Feature, featureType model.FeatureType) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.findFeatureLocked(addr)
	return f != nil && f.Role == model.RoleServer && f.Type == featureType
}

// RemoteClientFeature implements subscription.FeatureValidator and
// binding.FeatureValidator.
func (d *DeviceLocal) RemoteClientFeature(remoteDevice address.Device, addr address.Feature, featureType model.FeatureType) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	rd, ok := d.remotes[remoteDevice]
	if !ok {
		return false
	}
	f := rd.findFeature(addr)
	return f != nil && f.Role == model.RoleClient && f.Type == featureType
}

// AddRemote registers a newly paired peer's (initially empty) device tree.
func (d *DeviceLocal) AddRemote(addr address.Device) *DeviceRemote {
	d.mu.Lock()
	defer d.mu.Unlock()
	rd := &DeviceRemote{Address: addr}
	d.remotes[addr] = rd
	return rd
}

// Remote returns the known tree for a paired peer, if any.
func (d *DeviceLocal) Remote(addr address.Device) (*DeviceRemote, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rd, ok := d.remotes[addr]
	return rd, ok
}

// RemoveRemote tears down a peer's device tree and cascades removal of
// every subscription/binding link that referenced it.
func (d *DeviceLocal) RemoveRemote(addr address.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.remotes, addr)
	d.subscription.RemoveDeviceSubscriptions(addr)
	d.binding.RemoveDeviceBindings(addr)
}

// WithLock runs fn while holding the device's single graph lock - used by
// the dispatcher and node-management handlers for compound operations
// (e.g. ingest-then-validate) that must be atomic against concurrent
// subscription/binding calls.
func (d *DeviceLocal) WithLock(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

// UpdateFeatureCacheAndCollectSubscribers applies an inbound notify/reply to
// the addressed feature's cache and returns the subscriber client addresses
// that must now be forwarded the update; it returns an error when no local
// feature exists at addr. It is the single
// locked operation composing feature-cache mutation with a subscription
// lookup, matching the "every public operation that mutates the graph
// takes this lock" rule.
func (d *DeviceLocal) UpdateFeatureCacheAndCollectSubscribers(addr address.Feature, fn model.FunctionType, cmd model.Cmd) ([]address.Feature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.findFeatureLocked(addr)
	if f == nil {
		return nil, fmt.Errorf("device: no local feature at %+v", addr)
	}
	f.SetCache(fn, cmd)
	return d.subscription.Subscribers(addr), nil
}
