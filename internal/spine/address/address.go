// Package address defines the three-level SPINE addressing model: device,
// entity and feature addresses, plus the well-known node-management address.
package address

// Device is an opaque identifier assigned at pairing time.
type Device string

// Entity is a device plus an ordered, hierarchical sequence of entity ids.
type Entity struct {
	Device Device
	ID     []uint
}

// Equal reports structural equality.
func (e Entity) Equal(o Entity) bool {
	if e.Device != o.Device || len(e.ID) != len(o.ID) {
		return false
	}
	for i := range e.ID {
		if e.ID[i] != o.ID[i] {
			return false
		}
	}
	return true
}

func (e Entity) clone() []uint {
	out := make([]uint, len(e.ID))
	copy(out, e.ID)
	return out
}

// Feature extends an Entity address with a feature id.
type Feature struct {
	Entity Entity
	ID     uint
}

// Equal reports structural equality.
func (f Feature) Equal(o Feature) bool {
	return f.ID == o.ID && f.Entity.Equal(o.Entity)
}

// NodeManagementEntity is entity [0], owned by every device.
func NodeManagementEntity(d Device) Entity {
	return Entity{Device: d, ID: []uint{0}}
}

// NodeManagementFeature is the reserved (entity=[0], feature=0) address
// every device exposes for discovery, subscription and binding control.
func NodeManagementFeature(d Device) Feature {
	return Feature{Entity: NodeManagementEntity(d), ID: 0}
}

// IsNodeManagement reports whether f is the reserved node-management address.
func IsNodeManagement(f Feature) bool {
	return f.ID == 0 && len(f.Entity.ID) == 1 && f.Entity.ID[0] == 0
}

// WithDevice returns a copy of e with its Device replaced - used when a
// subscription/binding delete defaults a missing device to one already
// known from context.
func (e Entity) WithDevice(d Device) Entity {
	return Entity{Device: d, ID: e.clone()}
}
