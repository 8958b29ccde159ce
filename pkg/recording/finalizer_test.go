package recording

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/harunnryd/larung/pkg/media"
	"github.com/harunnryd/larung/pkg/storage"
)

func frameOf(value int16, n int) media.InterleavedFrame {
	data := make([]int16, n*2)
	for i := range data {
		data[i] = value
	}
	return media.InterleavedFrame{Duration: 100 * time.Millisecond, Rate: 8000, Data: data}
}

func TestUploadAndMergeInWorkUnitOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	fin := NewFinalizer(store, 8000, slog.Default())
	ctx := context.Background()

	first := NewSegmentBuffer()
	first.AppendFrame(frameOf(1, 4))
	second := NewSegmentBuffer()
	second.AppendFrame(frameOf(2, 4))

	if err := fin.UploadSegment(ctx, "call-1", 1, first); err != nil {
		t.Fatalf("upload error: %v", err)
	}
	if err := fin.UploadSegment(ctx, "call-1", 2, second); err != nil {
		t.Fatalf("upload error: %v", err)
	}

	url, err := fin.MergeCall(ctx, "call-1", 2)
	if err != nil {
		t.Fatalf("merge error: %v", err)
	}
	if url == "" {
		t.Fatalf("expected recording url")
	}

	wav, err := store.Get(ctx, "calls/call-1/recording.wav")
	if err != nil {
		t.Fatalf("recording missing: %v", err)
	}
	samples, rate, ch, err := media.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if rate != 8000 || ch != 2 {
		t.Fatalf("unexpected recording format %dHz %dch", rate, ch)
	}
	if len(samples) != 16 {
		t.Fatalf("expected 16 merged samples, got %d", len(samples))
	}
	if samples[0] != 1 || samples[8] != 2 {
		t.Fatalf("segments merged out of work-unit order")
	}
}

func TestMergeSkipsMissingSegments(t *testing.T) {
	store := storage.NewMemoryStore()
	fin := NewFinalizer(store, 8000, slog.Default())
	ctx := context.Background()

	buf := NewSegmentBuffer()
	buf.AppendFrame(frameOf(7, 2))
	if err := fin.UploadSegment(ctx, "call-2", 2, buf); err != nil {
		t.Fatalf("upload error: %v", err)
	}

	// Work unit 1's upload never happened; merge should still succeed.
	if _, err := fin.MergeCall(ctx, "call-2", 2); err != nil {
		t.Fatalf("merge should tolerate a missing segment: %v", err)
	}
}

func TestMergeFailsWithNoSegments(t *testing.T) {
	store := storage.NewMemoryStore()
	fin := NewFinalizer(store, 8000, slog.Default())
	if _, err := fin.MergeCall(context.Background(), "call-3", 3); err == nil {
		t.Fatalf("expected error when nothing was stored")
	}
}

func TestEmptySegmentNotUploaded(t *testing.T) {
	store := storage.NewMemoryStore()
	fin := NewFinalizer(store, 8000, slog.Default())
	if err := fin.UploadSegment(context.Background(), "call-4", 1, NewSegmentBuffer()); err != nil {
		t.Fatalf("empty segment should be a no-op, got %v", err)
	}
	if len(store.Keys()) != 0 {
		t.Fatalf("expected nothing stored")
	}
}
