// Package mixer aligns the two call channels on a common time axis and
// produces a steady cadence of interleaved stereo frames for the recording
// and the recognition session.
package mixer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
)

// ChannelBuffer is a bounded single-writer/single-reader queue of demuxed
// audio chunks for one channel. The demuxer writes, the synchronizer reads.
// Overflow drops the oldest chunk with a warning; backpressure must never
// reach the demuxer's network read loop.
type ChannelBuffer struct {
	role     media.Role
	capacity int
	notify   chan struct{}
	logger   *slog.Logger

	mu        sync.Mutex
	chunks    []media.AudioChunk
	lastEnd   time.Duration
	lastWrite time.Time
	dropped   int
}

const defaultBufferCapacity = 256

func NewChannelBuffer(role media.Role, capacity int, notify chan struct{}, logger *slog.Logger) *ChannelBuffer {
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	return &ChannelBuffer{
		role:     role,
		capacity: capacity,
		notify:   notify,
		logger:   logging.NewComponentLogger(logger, "channel_buffer"),
	}
}

func (b *ChannelBuffer) Role() media.Role { return b.role }

// WriteChunk appends a chunk in arrival order.
func (b *ChannelBuffer) WriteChunk(c media.AudioChunk) {
	b.mu.Lock()
	if len(b.chunks) >= b.capacity {
		b.chunks = b.chunks[1:]
		b.dropped++
		b.logger.Warn("channel buffer full, dropping oldest chunk",
			slog.String("role", string(b.role)),
			slog.Int("dropped_total", b.dropped))
	}
	b.chunks = append(b.chunks, c)
	if end := c.End(); end > b.lastEnd {
		b.lastEnd = end
	}
	b.lastWrite = time.Now()
	b.mu.Unlock()

	if b.notify != nil {
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
}

// DrainBefore removes and returns the chunks starting before limit,
// preserving arrival order.
func (b *ChannelBuffer) DrainBefore(limit time.Duration) []media.AudioChunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	var kept, drained []media.AudioChunk
	for _, c := range b.chunks {
		if c.Timestamp < limit {
			drained = append(drained, c)
		} else {
			kept = append(kept, c)
		}
	}
	b.chunks = kept
	return drained
}

// PushFront returns the unconsumed remainder of a split chunk to the head of
// the queue.
func (b *ChannelBuffer) PushFront(c media.AudioChunk) {
	b.mu.Lock()
	b.chunks = append([]media.AudioChunk{c}, b.chunks...)
	b.mu.Unlock()
}

// Len returns the number of buffered chunks.
func (b *ChannelBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// EarliestTimestamp returns the media time of the oldest buffered chunk.
func (b *ChannelBuffer) EarliestTimestamp() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return 0, false
	}
	return b.chunks[0].Timestamp, true
}

// NextTimestamp is where keep-alive silence should be stamped: just past the
// latest audio this channel has seen.
func (b *ChannelBuffer) NextTimestamp() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastEnd
}

// IdleSince reports how long ago the writer last delivered a chunk. A zero
// lastWrite means nothing has ever arrived.
func (b *ChannelBuffer) IdleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastWrite.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(b.lastWrite)
}

// advanceLastEnd lets keep-alive injection move the silence cursor forward.
func (b *ChannelBuffer) advanceLastEnd(to time.Duration) {
	b.mu.Lock()
	if to > b.lastEnd {
		b.lastEnd = to
	}
	b.mu.Unlock()
}
