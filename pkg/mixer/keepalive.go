package mixer

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
)

// KeepAlive injects minimal silence chunks into idle channel buffers so the
// synchronizer and the recognition session never starve during
// conversational silence.
type KeepAlive struct {
	buffers   []*ChannelBuffer
	idleAfter time.Duration
	frame     time.Duration
	rate      int
	logger    *slog.Logger
}

func NewKeepAlive(buffers []*ChannelBuffer, idleAfter, frame time.Duration, rate int, logger *slog.Logger) *KeepAlive {
	if idleAfter <= 0 {
		idleAfter = 500 * time.Millisecond
	}
	if frame <= 0 {
		frame = 100 * time.Millisecond
	}
	if rate <= 0 {
		rate = 8000
	}
	return &KeepAlive{
		buffers:   buffers,
		idleAfter: idleAfter,
		frame:     frame,
		rate:      rate,
		logger:    logging.NewComponentLogger(logger, "keepalive"),
	}
}

// Run ticks until ctx is done, topping up any buffer whose writer has gone
// quiet.
func (k *KeepAlive) Run(ctx context.Context) {
	ticker := time.NewTicker(k.idleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, b := range k.buffers {
				if b.IdleSince(now) < k.idleAfter {
					continue
				}
				ts := b.NextTimestamp()
				b.WriteChunk(media.SilenceChunk(b.Role(), ts, k.rate, k.frame))
				b.advanceLastEnd(ts + k.frame)
				k.logger.Debug("injected keepalive silence",
					slog.String("role", string(b.Role())),
					slog.Duration("at", ts))
			}
		}
	}
}
