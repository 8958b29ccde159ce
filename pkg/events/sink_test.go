package events

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/harunnryd/larung/pkg/media"
)

func segment(id string, partial bool) TranscriptSegment {
	return TranscriptSegment{
		CallID:    "call-1",
		Channel:   media.RoleCaller,
		SegmentID: id,
		Text:      "hello",
		IsPartial: partial,
	}
}

func TestSinkSuppressesPartials(t *testing.T) {
	log := NewMemoryLog()
	sink := NewSink(SinkConfig{SuppressPartials: true}, log, slog.Default())

	sink.Forward(context.Background(), segment("s1", true))
	sink.Forward(context.Background(), segment("s1", false))

	got := log.Records()
	if len(got) != 1 {
		t.Fatalf("expected only the final segment, got %d records", len(got))
	}
	ts := got[0].(TranscriptSegment)
	if ts.IsPartial {
		t.Fatalf("forwarded segment should be final")
	}
	if ts.CreatedAt.IsZero() {
		t.Fatalf("sink must stamp CreatedAt")
	}
}

func TestSinkForwardsPartialsWhenEnabled(t *testing.T) {
	log := NewMemoryLog()
	sink := NewSink(SinkConfig{}, log, slog.Default())

	sink.Forward(context.Background(), segment("s1", true))
	sink.Forward(context.Background(), segment("s1", false))

	if len(log.Records()) != 2 {
		t.Fatalf("expected both segments forwarded")
	}
}

func TestSinkDropsOnAppendFailure(t *testing.T) {
	log := NewMemoryLog()
	sink := NewSink(SinkConfig{BreakerThreshold: 100}, log, slog.Default())

	log.FailWith(errors.New("log down"))
	sink.Forward(context.Background(), segment("s1", false))
	log.FailWith(nil)
	sink.Forward(context.Background(), segment("s2", false))

	got := log.Records()
	if len(got) != 1 {
		t.Fatalf("expected failed append dropped and later append delivered, got %d", len(got))
	}
	if got[0].(TranscriptSegment).SegmentID != "s2" {
		t.Fatalf("wrong record survived")
	}
}

func TestSinkBreakerStopsHammering(t *testing.T) {
	log := NewMemoryLog()
	sink := NewSink(SinkConfig{BreakerThreshold: 2, BreakerCooldown: time.Hour}, log, slog.Default())

	log.FailWith(errors.New("log down"))
	sink.Forward(context.Background(), segment("s1", false))
	sink.Forward(context.Background(), segment("s2", false))
	log.FailWith(nil)
	// Breaker tripped after two consecutive failures; this one is shed.
	sink.Forward(context.Background(), segment("s3", false))

	if len(log.Records()) != 0 {
		t.Fatalf("expected breaker to shed appends during cooldown")
	}
}

func TestLogReadsBackOneCallInOrder(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	_ = log.Append(ctx, segment("s1", false))
	_ = log.Append(ctx, Lifecycle{CallID: "call-2", Phase: PhaseStart})
	_ = log.Append(ctx, segment("s2", false))

	stored, err := log.EventsForCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 events for call-1, got %d", len(stored))
	}
	if stored[0].Kind != KindTranscript || stored[1].Kind != KindTranscript {
		t.Fatalf("unexpected kinds: %s %s", stored[0].Kind, stored[1].Kind)
	}
	if stored[0].ID >= stored[1].ID {
		t.Fatalf("events out of append order: %d then %d", stored[0].ID, stored[1].ID)
	}
	if stored[0].Payload == "" || stored[0].CallID != "call-1" {
		t.Fatalf("unexpected stored event: %+v", stored[0])
	}
}
