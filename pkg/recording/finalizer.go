package recording

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/harunnryd/larung/pkg/errorsx"
	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
	"github.com/harunnryd/larung/pkg/storage"
)

// Finalizer uploads work-unit segments to durable storage and merges a
// finished call's segments into one playable recording. Failures here are
// best-effort by design: they are logged and never fail the call lifecycle.
type Finalizer struct {
	store  storage.ObjectStore
	rate   int
	logger *slog.Logger
}

func NewFinalizer(store storage.ObjectStore, rate int, logger *slog.Logger) *Finalizer {
	if rate <= 0 {
		rate = 8000
	}
	return &Finalizer{
		store:  store,
		rate:   rate,
		logger: logging.NewComponentLogger(logger, "recording"),
	}
}

// SegmentKey locates one work unit's raw segment, keyed by call id and
// work-unit sequence so successors never collide.
func SegmentKey(callID string, seq int) string {
	return fmt.Sprintf("calls/%s/segments/%05d.pcm", callID, seq)
}

func mergedPCMKey(callID string) string {
	return fmt.Sprintf("calls/%s/recording.pcm", callID)
}

func recordingKey(callID string) string {
	return fmt.Sprintf("calls/%s/recording.wav", callID)
}

// UploadSegment persists this work unit's raw audio. The returned error is
// informational; callers treat upload as best-effort.
func (f *Finalizer) UploadSegment(ctx context.Context, callID string, seq int, buf *SegmentBuffer) error {
	data := buf.Bytes()
	if len(data) == 0 {
		f.logger.Info("no audio captured, skipping segment upload",
			slog.String("call_id", callID),
			slog.Int("work_unit", seq))
		return nil
	}
	key := SegmentKey(callID, seq)
	if err := f.store.Put(ctx, key, data); err != nil {
		f.logger.Warn("segment upload failed",
			slog.String("call_id", callID),
			slog.String("key", key),
			slog.String("reason", string(errorsx.ReasonStoragePut)),
			slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonStoragePut)
	}
	f.logger.Info("segment uploaded",
		slog.String("call_id", callID),
		slog.String("key", key),
		slog.Int("bytes", len(data)))
	return nil
}

// MergeCall combines all of a call's segments, in work-unit order, into one
// WAV artifact and returns its URL. Missing segments are skipped; a call
// whose every upload failed yields an error and the per-segment artifacts
// remain whatever they were.
func (f *Finalizer) MergeCall(ctx context.Context, callID string, workUnits int) (string, error) {
	var parts []string
	for seq := 1; seq <= workUnits; seq++ {
		key := SegmentKey(callID, seq)
		if _, err := f.store.Get(ctx, key); err != nil {
			f.logger.Warn("segment missing, merging without it",
				slog.String("call_id", callID),
				slog.String("key", key))
			continue
		}
		parts = append(parts, key)
	}
	if len(parts) == 0 {
		return "", errorsx.Wrap(fmt.Errorf("call %s has no stored segments", callID), errorsx.ReasonStorageMerge)
	}

	pcmKey := mergedPCMKey(callID)
	if err := f.store.Merge(ctx, pcmKey, parts); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonStorageMerge)
	}
	pcm, err := f.store.Get(ctx, pcmKey)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonStorageMerge)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	wav, err := media.EncodeWAV(samples, f.rate, 2)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonStorageMerge)
	}
	key := recordingKey(callID)
	if err := f.store.Put(ctx, key, wav); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonStoragePut)
	}
	url := f.store.URL(key)
	f.logger.Info("recording merged",
		slog.String("call_id", callID),
		slog.Int("segments", len(parts)),
		slog.String("url", url))
	return url, nil
}
