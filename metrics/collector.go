// Package metrics exports allocator occupancy as prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nmxmxh/buddyarena/buddy"
)

// Collector implements prometheus.Collector over one allocator. The core
// allocator is not synchronized; callers scraping a shared allocator must
// serialize scrapes with their own allocator calls.
type Collector struct {
	allocator *buddy.Allocator

	regionBytes      *prometheus.Desc
	availableBytes   *prometheus.Desc
	usedBytes        *prometheus.Desc
	largestAvailable *prometheus.Desc
	freeBlocks       *prometheus.Desc
}

// NewCollector builds a collector for allocator.
func NewCollector(allocator *buddy.Allocator) *Collector {
	return &Collector{
		allocator: allocator,
		regionBytes: prometheus.NewDesc(
			"buddy_region_bytes", "Total size of the managed region.", nil, nil),
		availableBytes: prometheus.NewDesc(
			"buddy_available_bytes", "Bytes currently free.", nil, nil),
		usedBytes: prometheus.NewDesc(
			"buddy_used_bytes", "Bytes currently allocated.", nil, nil),
		largestAvailable: prometheus.NewDesc(
			"buddy_largest_available_bytes", "Largest block a single allocation can return.", nil, nil),
		freeBlocks: prometheus.NewDesc(
			"buddy_free_blocks", "Free blocks per level.", []string{"level", "block_size"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.regionBytes
	ch <- c.availableBytes
	ch <- c.usedBytes
	ch <- c.largestAvailable
	ch <- c.freeBlocks
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.allocator.Stats()

	ch <- prometheus.MustNewConstMetric(c.regionBytes, prometheus.GaugeValue, float64(s.TotalSize))
	ch <- prometheus.MustNewConstMetric(c.availableBytes, prometheus.GaugeValue, float64(s.Available))
	ch <- prometheus.MustNewConstMetric(c.usedBytes, prometheus.GaugeValue, float64(s.Used))
	ch <- prometheus.MustNewConstMetric(c.largestAvailable, prometheus.GaugeValue, float64(s.LargestAvailable))

	for _, level := range s.Levels {
		ch <- prometheus.MustNewConstMetric(c.freeBlocks, prometheus.GaugeValue,
			float64(level.FreeBlocks),
			strconv.Itoa(level.Level), strconv.Itoa(level.BlockSize))
	}
}
