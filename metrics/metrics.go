// Package metrics exposes gosnet host statistics as Prometheus metrics.
//
// The engine is single-threaded, so the collector never touches a host
// directly: the application supplies a snapshot function that it arranges
// to be safe to call from the scrape goroutine (typically by publishing
// Host.Stats() from the service loop behind a mutex or atomic swap).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Stats mirrors the counters a snapshot function reports.
type Stats struct {
	TotalSentData         uint32
	TotalSentPackets      uint32
	TotalReceivedData     uint32
	TotalReceivedPackets  uint32
	ConnectedPeers        int
	BandwidthLimitedPeers int
}

// SnapshotFunc returns the current host statistics. It is called from
// the Prometheus scrape goroutine.
type SnapshotFunc func() Stats

// Collector implements prometheus.Collector over a host snapshot.
type Collector struct {
	snapshot SnapshotFunc

	sentData        *prometheus.Desc
	sentPackets     *prometheus.Desc
	receivedData    *prometheus.Desc
	receivedPackets *prometheus.Desc
	connectedPeers  *prometheus.Desc
	limitedPeers    *prometheus.Desc
}

// NewCollector creates a collector labelled with the host's bind
// address.
func NewCollector(hostAddress string, snapshot SnapshotFunc) *Collector {
	labels := prometheus.Labels{"host": hostAddress}
	return &Collector{
		snapshot: snapshot,
		sentData: prometheus.NewDesc(
			"gosnet_sent_bytes_total",
			"Total bytes handed to the datagram transport.",
			nil, labels),
		sentPackets: prometheus.NewDesc(
			"gosnet_sent_datagrams_total",
			"Total datagrams handed to the transport.",
			nil, labels),
		receivedData: prometheus.NewDesc(
			"gosnet_received_bytes_total",
			"Total bytes received from the datagram transport.",
			nil, labels),
		receivedPackets: prometheus.NewDesc(
			"gosnet_received_datagrams_total",
			"Total datagrams received from the transport.",
			nil, labels),
		connectedPeers: prometheus.NewDesc(
			"gosnet_connected_peers",
			"Peers currently in the connected state.",
			nil, labels),
		limitedPeers: prometheus.NewDesc(
			"gosnet_bandwidth_limited_peers",
			"Connected peers advertising a bandwidth limit.",
			nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sentData
	ch <- c.sentPackets
	ch <- c.receivedData
	ch <- c.receivedPackets
	ch <- c.connectedPeers
	ch <- c.limitedPeers
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.snapshot()

	ch <- prometheus.MustNewConstMetric(c.sentData, prometheus.CounterValue, float64(stats.TotalSentData))
	ch <- prometheus.MustNewConstMetric(c.sentPackets, prometheus.CounterValue, float64(stats.TotalSentPackets))
	ch <- prometheus.MustNewConstMetric(c.receivedData, prometheus.CounterValue, float64(stats.TotalReceivedData))
	ch <- prometheus.MustNewConstMetric(c.receivedPackets, prometheus.CounterValue, float64(stats.TotalReceivedPackets))
	ch <- prometheus.MustNewConstMetric(c.connectedPeers, prometheus.GaugeValue, float64(stats.ConnectedPeers))
	ch <- prometheus.MustNewConstMetric(c.limitedPeers, prometheus.GaugeValue, float64(stats.BandwidthLimitedPeers))
}

var _ prometheus.Collector = (*Collector)(nil)
