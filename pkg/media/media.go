package media

import (
	"sync"
	"time"
)

// Role identifies which party of the call a piece of audio belongs to.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// Sibling returns the other party's role.
func (r Role) Sibling() Role {
	if r == RoleCaller {
		return RoleAgent
	}
	return RoleCaller
}

// AudioChunk is a timestamped block of mono PCM16 samples for one channel.
// Timestamp is the media time of the first sample, relative to stream start.
// Chunks are immutable once produced.
type AudioChunk struct {
	Role      Role
	Timestamp time.Duration
	Rate      int
	Samples   []int16
}

// Duration returns the media time covered by the chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.Rate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.Rate)
}

// End returns the media time just past the last sample.
func (c AudioChunk) End() time.Duration {
	return c.Timestamp + c.Duration()
}

// SilenceChunk builds a zero-filled chunk for keep-alive injection.
func SilenceChunk(role Role, ts time.Duration, rate int, dur time.Duration) AudioChunk {
	n := int(dur * time.Duration(rate) / time.Second)
	if n <= 0 {
		n = 1
	}
	return AudioChunk{Role: role, Timestamp: ts, Rate: rate, Samples: make([]int16, n)}
}

// InterleavedFrame is a time-aligned two-channel PCM block. Data holds
// stereo samples in L/R order; Duration always equals the synchronizer's
// configured period.
type InterleavedFrame struct {
	Start    time.Duration
	Duration time.Duration
	Rate     int
	Data     []int16
}

// SamplesPerChannel returns the per-channel sample count of the frame.
func (f InterleavedFrame) SamplesPerChannel() int {
	return len(f.Data) / 2
}

// Bytes serializes the frame as little-endian interleaved PCM16.
func (f InterleavedFrame) Bytes() []byte {
	out := make([]byte, len(f.Data)*2)
	for i, s := range f.Data {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

var sampleBufPool = sync.Pool{
	New: func() any {
		return make([]int16, 0, 4096)
	},
}

// AcquireSampleBuf fetches a zeroed sample buffer of the given length.
func AcquireSampleBuf(size int) []int16 {
	b := sampleBufPool.Get().([]int16)
	if cap(b) < size {
		return make([]int16, size)
	}
	b = b[:size]
	for i := range b {
		b[i] = 0
	}
	return b
}

// ReleaseSampleBuf returns a buffer to the pool.
func ReleaseSampleBuf(b []int16) {
	sampleBufPool.Put(b[:0])
}
