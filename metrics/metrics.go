// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the bonding pipeline.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: packets, bytes, registration
//    attempts.
//  - the success or error status of any of the above.
//  - the distribution of processing latency and occupancy.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinkWindowGauge tracks each Link's current scaled congestion
	// window, labeled by transport type and link id.
	LinkWindowGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srtla_bond_link_window",
			Help: "Current scaled congestion window per link.",
		}, []string{"transport_type", "link_id"})

	// LinkInFlightGauge tracks each Link's current in-flight sequence
	// count.
	LinkInFlightGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srtla_bond_link_in_flight",
			Help: "Number of unacknowledged in-flight sequence numbers per link.",
		}, []string{"transport_type", "link_id"})

	// LinkRTTGauge tracks each Link's smoothed RTT in seconds.
	LinkRTTGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srtla_bond_link_rtt_seconds",
			Help: "Smoothed round-trip time per link, in seconds.",
		}, []string{"transport_type", "link_id"})

	// LinkScoreGauge tracks each Link's current selector score.
	LinkScoreGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srtla_bond_link_score",
			Help: "Current selector ranking score per link.",
		}, []string{"transport_type", "link_id"})

	// AckTotal counts ACKs handled per link.
	AckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srtla_bond_ack_total",
			Help: "Total ACKs handled, per link.",
		}, []string{"transport_type", "link_id"})

	// NakAttributedTotal counts NAKs correctly attributed via the
	// sequence index, per link.
	NakAttributedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srtla_bond_nak_attributed_total",
			Help: "Total NAKs attributed to the originating link via the sequence index.",
		}, []string{"transport_type", "link_id"})

	// NakFallbackTotal counts NAKs charged to the receiving link because
	// the sequence index had no (or an expired) entry.
	NakFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srtla_bond_nak_fallback_total",
			Help: "Total NAKs charged to the receiving link via fallback attribution.",
		}, []string{"transport_type", "link_id"})

	// BytesSentTotal and PacketsSentTotal mirror Link.BytesSent/PacketsSent
	// as Prometheus counters, per link.
	BytesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srtla_bond_bytes_sent_total",
			Help: "Total bytes sent, per link.",
		}, []string{"transport_type", "link_id"})
	PacketsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srtla_bond_packets_sent_total",
			Help: "Total packets sent, per link.",
		}, []string{"transport_type", "link_id"})

	// RegistrationRetryTotal counts reconnection attempts housekeeping
	// schedules for a Failed (or timed-out) link, per link. REG2/REG3
	// timeouts are not counted here.
	RegistrationRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srtla_bond_registration_retry_total",
			Help: "Total reconnection attempts scheduled for a failed link.",
		}, []string{"transport_type", "link_id"})

	// NoAvailableLinksTotal counts source packets dropped because the
	// selector had nothing eligible to return.
	NoAvailableLinksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "srtla_bond_no_available_links_total",
			Help: "Total source packets dropped with no eligible link.",
		},
	)

	// SeqIndexOccupancyHistogram tracks the number of entries held in the
	// sequence-to-link index, mirroring tcp-info's CacheSizeHistogram.
	SeqIndexOccupancyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "srtla_bond_seqindex_occupancy_histogram",
			Help:    "Sequence index occupancy histogram.",
			Buckets: prometheus.LinearBuckets(0, 1000, 11),
		})
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in bond.metrics are registered.")
}
