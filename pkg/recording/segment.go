// Package recording archives the raw audio a work unit produced and, when a
// call truly ends, merges all of its segments into one playable artifact.
package recording

import (
	"sync"

	"github.com/harunnryd/larung/pkg/media"
)

// SegmentBuffer accumulates the interleaved frames of one work unit as raw
// stereo PCM16 bytes. Single writer: the fan-out stage.
type SegmentBuffer struct {
	mu    sync.Mutex
	data  []byte
	rate  int
	count int
}

func NewSegmentBuffer() *SegmentBuffer {
	return &SegmentBuffer{}
}

// AppendFrame implements the fan-out's recorder contract.
func (b *SegmentBuffer) AppendFrame(f media.InterleavedFrame) {
	raw := f.Bytes()
	b.mu.Lock()
	b.data = append(b.data, raw...)
	b.rate = f.Rate
	b.count++
	b.mu.Unlock()
}

// Bytes returns a copy of the accumulated PCM.
func (b *SegmentBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Rate returns the sample rate of the buffered audio.
func (b *SegmentBuffer) Rate() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// Frames returns how many frames were appended.
func (b *SegmentBuffer) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
