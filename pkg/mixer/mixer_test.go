package mixer

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/larung/pkg/media"
)

type captureSink struct {
	mu     sync.Mutex
	frames []media.InterleavedFrame
}

func (c *captureSink) OfferFrame(f media.InterleavedFrame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *captureSink) Frames() []media.InterleavedFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.InterleavedFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func newTestSync(sink FrameSink) (*Synchronizer, *ChannelBuffer, *ChannelBuffer) {
	notify := make(chan struct{}, 8)
	caller := NewChannelBuffer(media.RoleCaller, 0, notify, slog.Default())
	agent := NewChannelBuffer(media.RoleAgent, 0, notify, slog.Default())
	s := NewSynchronizer(Config{Period: 100 * time.Millisecond, SampleRate: 8000}, caller, agent, notify, sink, slog.Default())
	return s, caller, agent
}

func chunk(role media.Role, ts time.Duration, value int16, n int) media.AudioChunk {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return media.AudioChunk{Role: role, Timestamp: ts, Rate: 8000, Samples: samples}
}

func TestFrameDurationConstantRegardlessOfData(t *testing.T) {
	sink := &captureSink{}
	s, caller, _ := newTestSync(sink)

	// Period with zero channels of data.
	s.FlushPeriod()
	// Period with one channel of data.
	caller.WriteChunk(chunk(media.RoleCaller, 100*time.Millisecond, 5, 80))
	s.FlushPeriod()

	frames := sink.Frames()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Duration != 100*time.Millisecond {
			t.Fatalf("frame %d duration %s, want the configured period", i, f.Duration)
		}
		if len(f.Data) != 1600 {
			t.Fatalf("frame %d has %d samples, want 1600", i, len(f.Data))
		}
	}
	for _, v := range frames[0].Data {
		if v != 0 {
			t.Fatalf("empty period must emit pure silence")
		}
	}
}

func TestAlignmentAndSilencePadding(t *testing.T) {
	sink := &captureSink{}
	s, caller, agent := newTestSync(sink)

	caller.WriteChunk(chunk(media.RoleCaller, 0, 1, 80))
	agent.WriteChunk(chunk(media.RoleAgent, 50*time.Millisecond, 2, 80))
	s.FlushPeriod()

	frames := sink.Frames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	// Caller occupies samples 0..79 of the left channel.
	if f.Data[0] != 1 || f.Data[2*79] != 1 || f.Data[2*80] != 0 {
		t.Fatalf("caller audio misplaced")
	}
	// Agent starts 50ms (400 samples) into the right channel.
	if f.Data[2*399+1] != 0 || f.Data[2*400+1] != 2 || f.Data[2*479+1] != 2 {
		t.Fatalf("agent audio not offset to its timestamp")
	}
	if f.Data[2*480+1] != 0 {
		t.Fatalf("expected silence after agent audio")
	}
}

func TestChunkSplitAcrossWindows(t *testing.T) {
	sink := &captureSink{}
	s, caller, _ := newTestSync(sink)

	// 150ms of audio spans one and a half periods.
	caller.WriteChunk(chunk(media.RoleCaller, 0, 3, 1200))
	s.FlushPeriod()
	s.FlushPeriod()

	frames := sink.Frames()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	first, second := frames[0], frames[1]
	if first.Data[2*799] != 3 {
		t.Fatalf("first window should be full of audio")
	}
	if second.Data[0] != 3 || second.Data[2*399] != 3 {
		t.Fatalf("tail of split chunk missing from second window")
	}
	if second.Data[2*400] != 0 {
		t.Fatalf("expected silence after split tail")
	}
}

func TestChannelBufferDropsOldestOnOverflow(t *testing.T) {
	b := NewChannelBuffer(media.RoleCaller, 2, nil, slog.Default())
	b.WriteChunk(chunk(media.RoleCaller, 0, 1, 8))
	b.WriteChunk(chunk(media.RoleCaller, time.Millisecond, 2, 8))
	b.WriteChunk(chunk(media.RoleCaller, 2*time.Millisecond, 3, 8))

	got := b.DrainBefore(time.Second)
	if len(got) != 2 {
		t.Fatalf("expected bounded buffer of 2, got %d", len(got))
	}
	if got[0].Samples[0] != 2 || got[1].Samples[0] != 3 {
		t.Fatalf("expected oldest chunk dropped and order preserved")
	}
}

func TestKeepAliveFeedsIdleChannel(t *testing.T) {
	notify := make(chan struct{}, 8)
	caller := NewChannelBuffer(media.RoleCaller, 0, notify, slog.Default())
	agent := NewChannelBuffer(media.RoleAgent, 0, notify, slog.Default())
	ka := NewKeepAlive([]*ChannelBuffer{caller, agent}, 10*time.Millisecond, 20*time.Millisecond, 8000, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ka.Run(ctx)

	if caller.Len() == 0 || agent.Len() == 0 {
		t.Fatalf("expected keepalive silence in both buffers")
	}
	got := caller.DrainBefore(time.Hour)
	for _, c := range got {
		for _, s := range c.Samples {
			if s != 0 {
				t.Fatalf("keepalive chunk must be silence")
			}
		}
	}
}

func TestFanOutDropsInsteadOfBlocking(t *testing.T) {
	f := NewFanOut(nil, 1, slog.Default())
	frame := media.InterleavedFrame{Duration: time.Millisecond, Rate: 8000, Data: []int16{0, 0}}
	f.OfferFrame(frame)
	f.OfferFrame(frame)

	select {
	case <-f.Audio():
	default:
		t.Fatalf("expected one queued frame")
	}
	select {
	case <-f.Audio():
		t.Fatalf("second frame should have been dropped")
	default:
	}
}
