// Package metrics declares the promauto-registered metrics the core
// exposes, named eebus_*, covering session lifecycle, codec health,
// dispatch outcomes and the subscription/binding graph.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionStateTransitions counts every Session state machine
	// transition, labelled by the state entered - the primary signal for
	// handshake health (e.g. a climbing StateAborted rate).
	SessionStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eebus_session_state_transitions_total",
		Help: "SHIP session state transitions by state entered",
	}, []string{"state"})

	// ActivePeers tracks the current size of the Node's peer registry.
	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eebus_active_peers",
		Help: "Number of currently paired peers",
	})

	// CodecParseFailures counts payloads that failed to decode: SHIP frames
	// rejected by the session's codec (layer "ship") and SPINE datagrams the
	// dispatcher drops when wire.Decode fails (layer "spine").
	CodecParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eebus_codec_parse_failures_total",
		Help: "SHIP/SPINE payloads that failed to decode, by layer",
	}, []string{"layer"})

	// OutstandingRequestTimeouts counts dispatcher-tracked requests that
	// expired with no matching reply/result.
	OutstandingRequestTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eebus_outstanding_request_timeouts_total",
		Help: "Outstanding SPINE requests that timed out waiting for a reply or result",
	})

	// DispatchResultErrors counts result_error responses the dispatcher
	// emitted, by error number.
	DispatchResultErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eebus_dispatch_result_errors_total",
		Help: "result_error responses emitted by the dispatcher, by error number",
	}, []string{"error_number"})

	// SubscriptionEntries and BindingEntries track the live size of each
	// manager's link table, labelled by local device.
	SubscriptionEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eebus_subscription_entries",
		Help: "Active subscription links by local device",
	}, []string{"device"})

	BindingEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eebus_binding_entries",
		Help: "Active binding links by local device",
	}, []string{"device"})

	// MdnsDiscoveryEvents counts mDNS browse-result snapshots delivered to
	// the Node's control queue.
	MdnsDiscoveryEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eebus_mdns_discovery_events_total",
		Help: "mDNS discovery snapshots delivered to the node control queue",
	})
)
