// Package model defines the SPINE datagram shape: header, command
// classifiers, function types and the function-data payloads the core's
// dispatch logic needs (node-management plus one illustrative use-case
// shape exercised by the demo gateway).
package model

import "github.com/philipptrenz/openeebus-sub004/internal/spine/address"

// SpecVersion is the SPINE datagram schema version this core emits.
const SpecVersion = "1.3.0"

// CmdClassifier enumerates how a command should be routed.
type CmdClassifier string

const (
	CmdRead   CmdClassifier = "read"
	CmdReply  CmdClassifier = "reply"
	CmdNotify CmdClassifier = "notify"
	CmdWrite  CmdClassifier = "write"
	CmdCall   CmdClassifier = "call"
	CmdResult CmdClassifier = "result"
)

// Header carries SPINE datagram routing and correlation metadata.
type Header struct {
	SpecVersion   string
	Src           address.Feature
	Dest          address.Feature
	MsgCounter    uint64
	MsgCounterRef *uint64
	CmdClassifier CmdClassifier
	AckRequest    *bool
}

// FunctionType identifies the shape of a command's function data.
type FunctionType string

const (
	FunctionNodeManagementDetailedDiscoveryData      FunctionType = "nodeManagementDetailedDiscoveryData"
	FunctionNodeManagementSubscriptionData            FunctionType = "nodeManagementSubscriptionData"
	FunctionNodeManagementSubscriptionRequestCall      FunctionType = "nodeManagementSubscriptionRequestCall"
	FunctionNodeManagementSubscriptionDeleteCall       FunctionType = "nodeManagementSubscriptionDeleteCall"
	FunctionNodeManagementBindingData                 FunctionType = "nodeManagementBindingData"
	FunctionNodeManagementBindingRequestCall           FunctionType = "nodeManagementBindingRequestCall"
	FunctionNodeManagementBindingDeleteCall            FunctionType = "nodeManagementBindingDeleteCall"
	FunctionNodeManagementUseCaseData                  FunctionType = "nodeManagementUseCaseData"
	FunctionNodeManagementDestinationListData          FunctionType = "nodeManagementDestinationListData"
	// FunctionMeasurementListData is the one non-node-management shape
	// wired in so the dispatcher and subscription/binding managers have a
	// real server feature to exercise end to end (see SPEC_FULL.md).
	FunctionMeasurementListData FunctionType = "measurementListData"
)

// FeatureType enumerates the domain a FeatureLocal/FeatureRemote implements.
type FeatureType string

const (
	FeatureTypeNodeManagement     FeatureType = "NodeManagement"
	FeatureTypeMeasurement         FeatureType = "Measurement"
	FeatureTypeLoadControl         FeatureType = "LoadControl"
	FeatureTypeDeviceConfiguration FeatureType = "DeviceConfiguration"
)

// FeatureRole enumerates the three roles a feature may play.
type FeatureRole string

const (
	RoleServer  FeatureRole = "server"
	RoleClient  FeatureRole = "client"
	RoleSpecial FeatureRole = "special"
)

// Cmd is one command within a datagram payload: exactly one of the typed
// fields below is populated, tagged by FunctionType.
type Cmd struct {
	Function FunctionType

	NodeManagementDetailedDiscoveryData *NodeManagementDetailedDiscoveryData
	NodeManagementSubscriptionData       *NodeManagementSubscriptionData
	NodeManagementSubscriptionRequestCall *NodeManagementSubscriptionRequestCall
	NodeManagementSubscriptionDeleteCall  *NodeManagementSubscriptionDeleteCall
	NodeManagementBindingData            *NodeManagementBindingData
	NodeManagementBindingRequestCall      *NodeManagementBindingRequestCall
	NodeManagementBindingDeleteCall       *NodeManagementBindingDeleteCall
	NodeManagementUseCaseData             *NodeManagementUseCaseData
	NodeManagementDestinationListData     *NodeManagementDestinationListData
	MeasurementListData                   *MeasurementListData

	ResultData *ResultData
}

// Datagram is the full SPINE wire unit carried inside a SHIP DATA frame.
type Datagram struct {
	Header  Header
	Payload []Cmd
}

// ResultData reports success or failure of a write/call, echoed via the
// result classifier.
type ResultData struct {
	ErrorNumber uint32
	Description *string
}

// Well-known result error numbers the Dispatcher emits.
const (
	ErrorNumberGeneral       uint32 = 1
	ErrorNumberNoDestination uint32 = 2
	ErrorNumberNotSupported  uint32 = 3
)

// FeatureAddressRef names a feature via its three address components on the
// wire (device may be absent, defaulted by the receiving manager).
type FeatureAddressRef struct {
	Device *address.Device
	Entity []uint
	Feature *uint
}

// DetailedDiscoveryFeatureDescription describes one feature exposed by a
// device during discovery.
type DetailedDiscoveryFeatureDescription struct {
	FeatureAddress address.Feature
	FeatureType    FeatureType
	Role           FeatureRole
	SupportedFunctions []FunctionType
}

// DetailedDiscoveryEntityDescription describes one entity and its features.
type DetailedDiscoveryEntityDescription struct {
	EntityAddress address.Entity
	Features      []DetailedDiscoveryFeatureDescription
}

// NodeManagementDetailedDiscoveryData is the device/entity/feature tree
// exchanged during peer discovery.
type NodeManagementDetailedDiscoveryData struct {
	Entities []DetailedDiscoveryEntityDescription
}

// SubscriptionEntry describes one active subscription link on the wire.
type SubscriptionEntry struct {
	SubscriptionID uint64
	ServerAddress  address.Feature
	ClientAddress  address.Feature
}

// NodeManagementSubscriptionData lists this side's subscription entries
// relevant to the requesting remote device.
type NodeManagementSubscriptionData struct {
	SubscriptionEntries []SubscriptionEntry
}

// SubscriptionRequest is the payload of a subscription add call.
type SubscriptionRequest struct {
	ServerAddress     address.Feature
	ServerFeatureType FeatureType
	ClientAddress     FeatureAddressRef
	ClientFeatureType FeatureType
}

// NodeManagementSubscriptionRequestCall requests a new subscription link.
type NodeManagementSubscriptionRequestCall struct {
	SubscriptionRequest SubscriptionRequest
}

// SubscriptionDelete identifies a subscription link to remove, with either
// address's device component optionally absent (defaulted by the manager).
type SubscriptionDelete struct {
	ServerAddress FeatureAddressRef
	ClientAddress FeatureAddressRef
}

// NodeManagementSubscriptionDeleteCall requests removal of a subscription.
type NodeManagementSubscriptionDeleteCall struct {
	SubscriptionDelete SubscriptionDelete
}

// BindingEntry describes one active binding link on the wire.
type BindingEntry struct {
	BindingID     uint64
	ServerAddress address.Feature
	ClientAddress address.Feature
}

// NodeManagementBindingData lists this side's binding entries relevant to
// the requesting remote device.
type NodeManagementBindingData struct {
	BindingEntries []BindingEntry
}

// BindingRequest is the payload of a binding add call.
type BindingRequest struct {
	ServerAddress     address.Feature
	ServerFeatureType FeatureType
	ClientAddress     FeatureAddressRef
	ClientFeatureType FeatureType
}

// NodeManagementBindingRequestCall requests a new binding link.
type NodeManagementBindingRequestCall struct {
	BindingRequest BindingRequest
}

// BindingDelete identifies a binding link to remove.
type BindingDelete struct {
	ServerAddress FeatureAddressRef
	ClientAddress FeatureAddressRef
}

// NodeManagementBindingDeleteCall requests removal of a binding.
type NodeManagementBindingDeleteCall struct {
	BindingDelete BindingDelete
}

// UseCaseSupport describes one use case an entity claims to support.
type UseCaseSupport struct {
	Actor        string
	UseCaseName  string
	Version      string
	SubRevision  string
	Available    bool
	ScenarioIDs  []uint
}

// UseCaseEntry binds an entity address to its use-case support records.
type UseCaseEntry struct {
	EntityAddress address.Entity
	UseCaseSupport []UseCaseSupport
}

// NodeManagementUseCaseData lists use-case support across local entities.
type NodeManagementUseCaseData struct {
	UseCaseInformation []UseCaseEntry
}

// NodeManagementDestinationListData describes one reachable device.
type NodeManagementDestinationListData struct {
	DeviceAddress address.Device
	ShipID        string
}

// MeasurementListData is the one non-node-management function data shape
// wired into this core to exercise dispatch/subscription/binding end to end.
type MeasurementListData struct {
	MeasurementID uint
	Value         float64
	Unit          string
}
