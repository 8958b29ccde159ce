package deepgram

import (
	"log/slog"
	"reflect"
	"testing"

	"github.com/harunnryd/larung/pkg/recognition"
)

func TestLiveOptionsCarrySessionConfig(t *testing.T) {
	factory := NewFactory(ProviderConfig{APIKey: "key"}, slog.Default())
	sess := factory(recognition.Config{
		CallID:     "call-1",
		SampleRate: 8000,
		Interim:    true,
		Vocabulary: []string{"deductible", "copay"},
		Language:   "en-US",
	}).(*Session)

	opts := sess.liveOptions()
	if opts.Model != "nova-2" {
		t.Fatalf("expected default model, got %q", opts.Model)
	}
	if opts.Encoding != "linear16" || opts.SampleRate != 8000 {
		t.Fatalf("unexpected audio options: %q %d", opts.Encoding, opts.SampleRate)
	}
	if opts.Channels != 2 || !opts.Multichannel {
		t.Fatalf("expected two independently transcribed channels, got channels=%d multichannel=%v",
			opts.Channels, opts.Multichannel)
	}
	if !opts.InterimResults {
		t.Fatal("interim results not enabled")
	}
	if !reflect.DeepEqual(opts.Keywords, []string{"deductible", "copay"}) {
		t.Fatalf("vocabulary not forwarded as keywords: %v", opts.Keywords)
	}
	if opts.UtteranceEndMs != "1000" {
		t.Fatalf("expected default utterance end, got %q", opts.UtteranceEndMs)
	}
}

func TestLiveOptionsHonorProviderOverrides(t *testing.T) {
	factory := NewFactory(ProviderConfig{
		APIKey:         "key",
		Model:          "nova-2-phonecall",
		Encoding:       "mulaw",
		UtteranceEndMS: 1500,
	}, slog.Default())
	sess := factory(recognition.Config{CallID: "call-1", SampleRate: 8000}).(*Session)

	opts := sess.liveOptions()
	if opts.Model != "nova-2-phonecall" || opts.Encoding != "mulaw" {
		t.Fatalf("provider overrides not applied: %q %q", opts.Model, opts.Encoding)
	}
	if opts.UtteranceEndMs != "1500" {
		t.Fatalf("expected overridden utterance end, got %q", opts.UtteranceEndMs)
	}
	if len(opts.Keywords) != 0 {
		t.Fatalf("expected no keywords, got %v", opts.Keywords)
	}
}
