// Package nodemanagement implements the special feature every device
// exposes at (entity=[0], feature=0): discovery, subscription/binding
// control and use-case advertisement. Grounded on
// original_source/src/spine/node_management/*.c.
package nodemanagement

import (
	"context"
	"errors"
	"fmt"

	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/device"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/sender"
)

// ErrNotImplemented mirrors the original's kEebusErrorNotImplemented for
// commands arriving with an unsupported classifier.
var ErrNotImplemented = errors.New("nodemanagement: not implemented for this classifier")

// Feature implements device.MessageHandler for the node-management address.
type Feature struct {
	dev         *device.DeviceLocal
	localDevice address.Device
	localShipID string
}

// New constructs the node-management feature for the given local device.
func New(dev *device.DeviceLocal, localDevice address.Device, localShipID string) *Feature {
	return &Feature{dev: dev, localDevice: localDevice, localShipID: localShipID}
}

// Handle routes one inbound command by its function data type.
func (f *Feature) Handle(fromDevice address.Device, classifier model.CmdClassifier, cmd model.Cmd) (*model.Cmd, error) {
	switch cmd.Function {
	case model.FunctionNodeManagementDetailedDiscoveryData:
		return f.handleDetailedDiscovery(fromDevice, classifier, cmd)
	case model.FunctionNodeManagementSubscriptionData:
		if classifier != model.CmdCall {
			return nil, ErrNotImplemented
		}
		data := f.dev.Subscriptions().CreateSubscriptionData(fromDevice)
		return &model.Cmd{Function: model.FunctionNodeManagementSubscriptionData, NodeManagementSubscriptionData: &data}, nil
	case model.FunctionNodeManagementSubscriptionRequestCall:
		if classifier != model.CmdCall {
			return nil, ErrNotImplemented
		}
		err := f.dev.Subscriptions().AddSubscription(fromDevice, cmd.NodeManagementSubscriptionRequestCall.SubscriptionRequest)
		return nil, ignoreNoChange(err)
	case model.FunctionNodeManagementSubscriptionDeleteCall:
		if classifier != model.CmdCall {
			return nil, ErrNotImplemented
		}
		err := f.dev.Subscriptions().RemoveSubscription(fromDevice, f.localDevice, cmd.NodeManagementSubscriptionDeleteCall.SubscriptionDelete)
		return nil, ignoreNoChange(err)
	case model.FunctionNodeManagementBindingData:
		if classifier != model.CmdCall {
			return nil, ErrNotImplemented
		}
		data := f.dev.Bindings().CreateBindingData(fromDevice)
		return &model.Cmd{Function: model.FunctionNodeManagementBindingData, NodeManagementBindingData: &data}, nil
	case model.FunctionNodeManagementBindingRequestCall:
		if classifier != model.CmdCall {
			return nil, ErrNotImplemented
		}
		err := f.dev.Bindings().AddBinding(fromDevice, cmd.NodeManagementBindingRequestCall.BindingRequest)
		return nil, ignoreNoChange(err)
	case model.FunctionNodeManagementBindingDeleteCall:
		if classifier != model.CmdCall {
			return nil, ErrNotImplemented
		}
		err := f.dev.Bindings().RemoveBinding(fromDevice, f.localDevice, cmd.NodeManagementBindingDeleteCall.BindingDelete)
		return nil, ignoreNoChange(err)
	case model.FunctionNodeManagementUseCaseData:
		return f.handleUseCaseData(fromDevice, classifier, cmd)
	case model.FunctionNodeManagementDestinationListData:
		if classifier != model.CmdRead {
			return nil, ErrNotImplemented
		}
		return &model.Cmd{
			Function: model.FunctionNodeManagementDestinationListData,
			NodeManagementDestinationListData: &model.NodeManagementDestinationListData{
				DeviceAddress: f.localDevice,
				ShipID:        f.localShipID,
			},
		}, nil
	default:
		return nil, fmt.Errorf("nodemanagement: unhandled function %q", cmd.Function)
	}
}

// ignoreNoChange treats a manager's idempotent no-op as success: the call
// was well-formed, just had nothing to do.
func ignoreNoChange(err error) error {
	if err == nil {
		return nil
	}
	// Both subscription.ErrNoChange and binding.ErrNoChange carry this
	// exact message shape by convention; compare by string to avoid an
	// import-cycle-prone dependency in either direction.
	if err.Error() == "subscription: no change" || err.Error() == "binding: no change" {
		return nil
	}
	return err
}

func (f *Feature) handleDetailedDiscovery(fromDevice address.Device, classifier model.CmdClassifier, cmd model.Cmd) (*model.Cmd, error) {
	switch classifier {
	case model.CmdRead:
		data := f.localDiscoveryData()
		return &model.Cmd{Function: model.FunctionNodeManagementDetailedDiscoveryData, NodeManagementDetailedDiscoveryData: &data}, nil
	case model.CmdReply, model.CmdNotify:
		if cmd.NodeManagementDetailedDiscoveryData == nil {
			return nil, errors.New("nodemanagement: empty detailed discovery data")
		}
		rd, ok := f.dev.Remote(fromDevice)
		if !ok {
			rd = f.dev.AddRemote(fromDevice)
		}
		for _, e := range cmd.NodeManagementDetailedDiscoveryData.Entities {
			rd.ReplaceEntity(e)
		}
		return nil, nil
	default:
		return nil, ErrNotImplemented
	}
}

// Bootstrap issues the fixed sequence a client-role peer runs on its first
// successful connection: a DetailedDiscovery read, a UseCase read, and a
// Subscription call for the node-management feature itself, so the peer
// will notify this side about future subscription changes.
func Bootstrap(ctx context.Context, snd *sender.Sender, localDevice, remoteDevice address.Device) error {
	src := address.NodeManagementFeature(localDevice)
	dst := address.NodeManagementFeature(remoteDevice)

	if _, err := snd.Read(src, dst, model.Cmd{Function: model.FunctionNodeManagementDetailedDiscoveryData}); err != nil {
		return fmt.Errorf("nodemanagement: bootstrap discovery read: %w", err)
	}
	if _, err := snd.Read(src, dst, model.Cmd{Function: model.FunctionNodeManagementUseCaseData}); err != nil {
		return fmt.Errorf("nodemanagement: bootstrap use case read: %w", err)
	}
	selfEntity := uint(0)
	if _, err := snd.CallSubscribe(src, remoteDevice, model.SubscriptionRequest{
		ServerAddress:     dst,
		ServerFeatureType: model.FeatureTypeNodeManagement,
		ClientAddress:     model.FeatureAddressRef{Device: deviceRefPtr(localDevice), Entity: []uint{0}, Feature: &selfEntity},
		ClientFeatureType: model.FeatureTypeNodeManagement,
	}); err != nil {
		return fmt.Errorf("nodemanagement: bootstrap self-subscribe: %w", err)
	}
	return nil
}

func deviceRefPtr(d address.Device) *address.Device { return &d }

func (f *Feature) localDiscoveryData() model.NodeManagementDetailedDiscoveryData {
	var data model.NodeManagementDetailedDiscoveryData
	for _, e := range f.dev.Entities() {
		var entDesc model.DetailedDiscoveryEntityDescription
		entDesc.EntityAddress = e.Address
		for _, feat := range e.Features {
			entDesc.Features = append(entDesc.Features, model.DetailedDiscoveryFeatureDescription{
				FeatureAddress: feat.Address,
				FeatureType:    feat.Type,
				Role:           feat.Role,
			})
		}
		data.Entities = append(data.Entities, entDesc)
	}
	return data
}

func (f *Feature) handleUseCaseData(fromDevice address.Device, classifier model.CmdClassifier, cmd model.Cmd) (*model.Cmd, error) {
	switch classifier {
	case model.CmdRead:
		var data model.NodeManagementUseCaseData
		for _, e := range f.dev.Entities() {
			if len(e.UseCases) == 0 {
				continue
			}
			data.UseCaseInformation = append(data.UseCaseInformation, model.UseCaseEntry{
				EntityAddress:  e.Address,
				UseCaseSupport: e.UseCases,
			})
		}
		return &model.Cmd{Function: model.FunctionNodeManagementUseCaseData, NodeManagementUseCaseData: &data}, nil
	case model.CmdReply, model.CmdNotify:
		if cmd.NodeManagementUseCaseData == nil {
			return nil, nil
		}
		rd, ok := f.dev.Remote(fromDevice)
		if !ok {
			rd = f.dev.AddRemote(fromDevice)
		}
		for _, entry := range cmd.NodeManagementUseCaseData.UseCaseInformation {
			for _, re := range rd.Entities {
				if re.Address.Equal(entry.EntityAddress) {
					re.UseCases = entry.UseCaseSupport
				}
			}
		}
		return nil, nil
	default:
		return nil, ErrNotImplemented
	}
}
