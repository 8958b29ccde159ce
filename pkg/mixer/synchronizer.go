package mixer

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
	"github.com/harunnryd/larung/pkg/metrics"
)

// FrameSink consumes interleaved frames. Implemented by the fan-out stage.
type FrameSink interface {
	OfferFrame(media.InterleavedFrame)
}

// Config controls the synchronizer cadence.
type Config struct {
	// Period is the media time covered by each interleaved frame. Every
	// emitted frame has exactly this duration, silence-padded as needed.
	Period time.Duration
	// FlushChunks optionally flushes early once this many chunks are
	// buffered across both channels. Zero disables the early flush.
	FlushChunks int
	// SampleRate of both channels.
	SampleRate int
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = 100 * time.Millisecond
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	return c
}

// Synchronizer drains both channel buffers on a fixed cadence, aligns them
// on a common media-time axis, fills gaps with silence and emits one
// interleaved two-channel frame per period. A lagging or silent channel
// costs at most one period of latency, never a stall.
type Synchronizer struct {
	cfg    Config
	caller *ChannelBuffer
	agent  *ChannelBuffer
	notify chan struct{}
	sink   FrameSink
	obs    metrics.Observer
	logger *slog.Logger

	cursor     time.Duration
	cursorInit bool
	frames     int
}

func NewSynchronizer(cfg Config, caller, agent *ChannelBuffer, notify chan struct{}, sink FrameSink, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		cfg:    cfg.withDefaults(),
		caller: caller,
		agent:  agent,
		notify: notify,
		sink:   sink,
		obs:    metrics.NoopObserver{},
		logger: logging.NewComponentLogger(logger, "synchronizer"),
	}
}

// SetObserver wires a metrics observer.
func (s *Synchronizer) SetObserver(obs metrics.Observer) {
	if obs != nil {
		s.obs = obs
	}
}

// Run flushes on every period tick until ctx is done, then performs one
// final flush so buffered tail audio is not lost.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.FlushTail()
			return
		case <-ticker.C:
			s.FlushPeriod()
		case <-s.notify:
			if s.cfg.FlushChunks > 0 && s.caller.Len()+s.agent.Len() >= s.cfg.FlushChunks {
				s.FlushPeriod()
			}
		}
	}
}

// FlushPeriod emits exactly one frame covering the next period window.
func (s *Synchronizer) FlushPeriod() {
	s.initCursor()
	s.emitWindow()
}

// FlushTail drains whatever audio remains, emitting whole-period frames
// until both buffers are empty.
func (s *Synchronizer) FlushTail() {
	s.initCursor()
	for s.caller.Len() > 0 || s.agent.Len() > 0 {
		s.emitWindow()
	}
}

// initCursor anchors the media-time window at the earliest audio seen, so a
// source that starts mid-call does not front-pad minutes of silence.
func (s *Synchronizer) initCursor() {
	if s.cursorInit {
		return
	}
	a, aok := s.caller.EarliestTimestamp()
	b, bok := s.agent.EarliestTimestamp()
	switch {
	case aok && bok && b < a:
		s.cursor = b
	case aok:
		s.cursor = a
	case bok:
		s.cursor = b
	default:
		s.cursor = 0
	}
	s.cursorInit = true
}

func (s *Synchronizer) emitWindow() {
	period := s.cfg.Period
	windowEnd := s.cursor + period
	perChannel := int(period * time.Duration(s.cfg.SampleRate) / time.Second)

	left := media.AcquireSampleBuf(perChannel)
	right := media.AcquireSampleBuf(perChannel)
	defer media.ReleaseSampleBuf(left)
	defer media.ReleaseSampleBuf(right)

	s.placeChannel(s.caller, left, windowEnd)
	s.placeChannel(s.agent, right, windowEnd)

	data := make([]int16, perChannel*2)
	for i := 0; i < perChannel; i++ {
		data[2*i] = left[i]
		data[2*i+1] = right[i]
	}

	frame := media.InterleavedFrame{
		Start:    s.cursor,
		Duration: period,
		Rate:     s.cfg.SampleRate,
		Data:     data,
	}
	s.cursor = windowEnd
	s.frames++
	s.sink.OfferFrame(frame)
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "mixer_frame_emitted",
		Time:  time.Now(),
		Value: float64(s.frames),
	})
}

// Frames reports how many interleaved frames have been emitted. Safe to
// read once Run has returned.
func (s *Synchronizer) Frames() int { return s.frames }

// placeChannel copies the window's slice of each drained chunk into the
// silence-filled channel buffer at its timestamp offset. A chunk spilling
// past the window is split and its tail pushed back for the next period.
func (s *Synchronizer) placeChannel(b *ChannelBuffer, dst []int16, windowEnd time.Duration) {
	rate := time.Duration(s.cfg.SampleRate)
	for _, c := range b.DrainBefore(windowEnd) {
		srcSamples := c.Samples

		// Clip the part that precedes the window.
		if c.Timestamp < s.cursor {
			skip := int((s.cursor - c.Timestamp) * rate / time.Second)
			if skip >= len(srcSamples) {
				continue
			}
			srcSamples = srcSamples[skip:]
			c = media.AudioChunk{Role: c.Role, Timestamp: s.cursor, Rate: c.Rate, Samples: srcSamples}
		}

		off := int((c.Timestamp - s.cursor) * rate / time.Second)
		if off >= len(dst) {
			b.PushFront(c)
			continue
		}

		n := copy(dst[off:], srcSamples)
		if n < len(srcSamples) {
			b.PushFront(media.AudioChunk{
				Role:      c.Role,
				Timestamp: windowEnd,
				Rate:      c.Rate,
				Samples:   srcSamples[n:],
			})
		}
	}
}
