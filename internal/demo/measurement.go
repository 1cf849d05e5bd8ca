// Package demo implements the one illustrative non-node-management feature
// cmd/gateway exposes: a Measurement server that answers reads with a
// fixed-ish reading and accepts notifies, giving the dispatcher and
// subscription/binding managers a real server feature to exercise end to
// end (see SPEC_FULL.md).
package demo

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/device"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
)

// Measurement is a toy Measurement server feature: one reading, served on
// read and refreshed on a timer so subscribers see notify traffic.
type Measurement struct {
	mu    sync.Mutex
	value model.MeasurementListData
}

// NewMeasurement constructs a Measurement seeded with an initial reading.
func NewMeasurement() *Measurement {
	return &Measurement{value: model.MeasurementListData{MeasurementID: 1, Value: 230.0, Unit: "V"}}
}

// Handle implements device.MessageHandler.
func (m *Measurement) Handle(_ address.Device, classifier model.CmdClassifier, cmd model.Cmd) (*model.Cmd, error) {
	if cmd.Function != model.FunctionMeasurementListData {
		return nil, fmt.Errorf("demo: unsupported function %q", cmd.Function)
	}
	switch classifier {
	case model.CmdRead:
		m.mu.Lock()
		v := m.value
		m.mu.Unlock()
		return &model.Cmd{Function: model.FunctionMeasurementListData, MeasurementListData: &v}, nil
	case model.CmdNotify, model.CmdWrite:
		if cmd.MeasurementListData == nil {
			return nil, fmt.Errorf("demo: notify/write missing measurement data")
		}
		m.mu.Lock()
		m.value = *cmd.MeasurementListData
		m.mu.Unlock()
		return nil, nil
	default:
		return nil, fmt.Errorf("demo: unsupported classifier %q", classifier)
	}
}

// Jitter returns a lightly randomised copy of the current reading. Called by
// cmd/gateway's runMeasurementNotifyLoop on a timer to give subscribers
// visible motion to notify on.
func (m *Measurement) Jitter() model.MeasurementListData {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value.Value += (rand.Float64() - 0.5)
	return m.value
}

// NewEntity wires a Measurement onto a fresh EntityLocal at entityID.
func NewEntity(localDevice address.Device, entityID []uint, featureID uint, mfeature *Measurement) *device.EntityLocal {
	entity := &device.EntityLocal{Address: address.Entity{Device: localDevice, ID: entityID}}
	feature := device.NewFeatureLocal(
		address.Feature{Entity: entity.Address, ID: featureID},
		model.FeatureTypeMeasurement,
		model.RoleServer,
		mfeature.Handle,
	)
	entity.Features = append(entity.Features, feature)
	return entity
}
