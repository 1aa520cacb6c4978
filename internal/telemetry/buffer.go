// Package telemetry holds the rolling window of live samples shown while a test runs.
package telemetry

import "github.com/stormqa/stormqa/internal/types"

// DefaultCapacity is the number of samples kept for charting.
const DefaultCapacity = 20

// Buffer is a fixed-capacity FIFO ring. When full, Push evicts the oldest sample.
// Evicted samples are gone; the buffer never grows past its capacity.
// It is not safe for concurrent use.
type Buffer struct {
	samples []types.TelemetrySample
	head    int
	size    int
	pushed  int64
}

// NewBuffer creates a buffer holding up to capacity samples.
// A non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{samples: make([]types.TelemetrySample, capacity)}
}

// Push appends a sample, evicting the oldest one on overflow.
func (b *Buffer) Push(s types.TelemetrySample) {
	idx := (b.head + b.size) % len(b.samples)
	b.samples[idx] = s
	if b.size < len(b.samples) {
		b.size++
	} else {
		b.head = (b.head + 1) % len(b.samples)
	}
	b.pushed++
}

// Samples returns the retained samples, oldest first.
func (b *Buffer) Samples() []types.TelemetrySample {
	out := make([]types.TelemetrySample, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.samples[(b.head+i)%len(b.samples)]
	}
	return out
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.samples) }

// Pushed returns how many samples were pushed since the last Reset.
func (b *Buffer) Pushed() int64 { return b.pushed }

// Evicted returns how many samples were dropped to make room.
func (b *Buffer) Evicted() int64 { return b.pushed - int64(b.size) }

// Reset discards all samples.
func (b *Buffer) Reset() {
	clear(b.samples)
	b.head = 0
	b.size = 0
	b.pushed = 0
}

// LiveStats is the headline card shown during a run.
type LiveStats struct {
	Users  int     `json:"users"`
	RPS    float64 `json:"rps"`
	Failed int     `json:"failed"`
}

// Latest returns the stats of the newest sample, or zeros before any arrive.
func (b *Buffer) Latest() LiveStats {
	if b.size == 0 {
		return LiveStats{}
	}
	s := b.samples[(b.head+b.size-1)%len(b.samples)]
	return LiveStats{Users: s.ActiveUsers, RPS: s.RPS, Failed: s.FailedCount}
}

// ActiveUsersSeries returns exactly Cap points for the users chart, oldest
// first, left-padded with zeros until the window fills.
func (b *Buffer) ActiveUsersSeries() []int {
	series := make([]int, len(b.samples))
	offset := len(b.samples) - b.size
	for i := 0; i < b.size; i++ {
		series[offset+i] = b.samples[(b.head+i)%len(b.samples)].ActiveUsers
	}
	return series
}
