package adapter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/zerobuffer/api"
)

const metricsNamespace = "zerobuffer"

type gauge struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(snap snapshot) float64
}

type snapshot struct {
	metadataSize, metadataWritten uint64
	payloadSize, payloadFree      uint64
	written, read                 uint64
	writerPID, readerPID          uint64
	problems                      int
}

// Collector exports the control block of a buffer as Prometheus metrics.
// Every scrape takes a fresh snapshot.
type Collector struct {
	inspector api.Inspector
	gauges    []gauge
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for i. The metrics carry a constant
// "buffer" label with the buffer name.
func NewCollector(i api.Inspector) *Collector {
	labels := prometheus.Labels{"buffer": i.Name()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, labels)
	}
	return &Collector{
		inspector: i,
		gauges:    []gauge{
			{desc("metadata_size_bytes", "Size of the metadata block."), prometheus.GaugeValue,
				func(s snapshot) float64 { return float64(s.metadataSize) }},
			{desc("metadata_written_bytes", "Bytes used in the metadata block."), prometheus.GaugeValue,
				func(s snapshot) float64 { return float64(s.metadataWritten) }},
			{desc("payload_size_bytes", "Size of the payload ring."), prometheus.GaugeValue,
				func(s snapshot) float64 { return float64(s.payloadSize) }},
			{desc("payload_free_bytes", "Free bytes in the payload ring."), prometheus.GaugeValue,
				func(s snapshot) float64 { return float64(s.payloadFree) }},
			{desc("frames_written_total", "Frames committed by the writer."), prometheus.CounterValue,
				func(s snapshot) float64 { return float64(s.written) }},
			{desc("frames_read_total", "Frames released by the reader."), prometheus.CounterValue,
				func(s snapshot) float64 { return float64(s.read) }},
			{desc("frames_pending", "Frames written but not yet released."), prometheus.GaugeValue,
				func(s snapshot) float64 { return float64(s.written - s.read) }},
			{desc("writer_pid", "PID of the attached writer, 0 when detached."), prometheus.GaugeValue,
				func(s snapshot) float64 { return float64(s.writerPID) }},
			{desc("reader_pid", "PID of the attached reader, 0 when detached."), prometheus.GaugeValue,
				func(s snapshot) float64 { return float64(s.readerPID) }},
			{desc("oieb_problems", "Validation problems found in the control block."), prometheus.GaugeValue,
				func(s snapshot) float64 { return float64(s.problems) }},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	o := c.inspector.Snapshot()
	snap := snapshot{
		metadataSize:    o.MetadataSize,
		metadataWritten: o.MetadataWrittenBytes,
		payloadSize:     o.PayloadSize,
		payloadFree:     o.PayloadFreeBytes,
		written:         o.PayloadWrittenCount,
		read:            o.PayloadReadCount,
		writerPID:       o.WriterPID,
		readerPID:       o.ReaderPID,
		problems:        len(o.Validate()),
	}
	if snap.read > snap.written {
		snap.read = snap.written
	}
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, g.kind, g.value(snap))
	}
}
