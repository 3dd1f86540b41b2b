package workout

import "github.com/lowaak/vitruvian-trainer/internal/protocol"

// metricBuffer keeps the newest samples of a set, dropping the oldest once
// full.
type metricBuffer struct {
	samples []protocol.MonitorMetric
	start   int
	size    int
}

func newMetricBuffer(capacity int) *metricBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &metricBuffer{samples: make([]protocol.MonitorMetric, capacity)}
}

func (b *metricBuffer) append(m protocol.MonitorMetric) {
	if b.size < len(b.samples) {
		b.samples[(b.start+b.size)%len(b.samples)] = m
		b.size++
		return
	}
	b.samples[b.start] = m
	b.start = (b.start + 1) % len(b.samples)
}

func (b *metricBuffer) len() int { return b.size }

func (b *metricBuffer) reset() {
	b.start = 0
	b.size = 0
}

// snapshot copies the samples out oldest first.
func (b *metricBuffer) snapshot() []protocol.MonitorMetric {
	out := make([]protocol.MonitorMetric, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.samples[(b.start+i)%len(b.samples)]
	}
	return out
}
