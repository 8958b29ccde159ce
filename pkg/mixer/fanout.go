package mixer

import (
	"log/slog"
	"sync"

	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
)

// FrameRecorder receives every interleaved frame for the raw recording.
type FrameRecorder interface {
	AppendFrame(media.InterleavedFrame)
}

// FanOut pushes each interleaved frame to the local recording buffer and to
// the recognition session's bounded audio queue. The queue is backpressured
// by dropping, never by blocking the synchronizer.
type FanOut struct {
	recorder FrameRecorder
	audio    chan media.InterleavedFrame
	logger   *slog.Logger

	closeOnce sync.Once
	dropped   int
	mu        sync.Mutex
}

const defaultAudioQueue = 64

func NewFanOut(recorder FrameRecorder, queueSize int, logger *slog.Logger) *FanOut {
	if queueSize <= 0 {
		queueSize = defaultAudioQueue
	}
	return &FanOut{
		recorder: recorder,
		audio:    make(chan media.InterleavedFrame, queueSize),
		logger:   logging.NewComponentLogger(logger, "fanout"),
	}
}

// OfferFrame implements FrameSink.
func (f *FanOut) OfferFrame(fr media.InterleavedFrame) {
	if f.recorder != nil {
		f.recorder.AppendFrame(fr)
	}
	select {
	case f.audio <- fr:
	default:
		f.mu.Lock()
		f.dropped++
		n := f.dropped
		f.mu.Unlock()
		f.logger.Warn("audio queue full, dropping frame",
			slog.Int("dropped_total", n))
	}
}

// Audio is the recognition driver's pull side of the queue.
func (f *FanOut) Audio() <-chan media.InterleavedFrame { return f.audio }

// CloseAudio signals end of input to the recognition driver. Safe to call
// more than once.
func (f *FanOut) CloseAudio() {
	f.closeOnce.Do(func() { close(f.audio) })
}
