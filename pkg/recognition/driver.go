package recognition

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/larung/pkg/errorsx"
	"github.com/harunnryd/larung/pkg/events"
	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
	"github.com/harunnryd/larung/pkg/metrics"
	"github.com/harunnryd/larung/pkg/redact"
	"github.com/harunnryd/larung/pkg/resilience"
)

// EventForwarder receives classified events. Implemented by events.Sink.
type EventForwarder interface {
	Forward(ctx context.Context, rec events.Record)
}

// DriverConfig tunes one work unit's session driver.
type DriverConfig struct {
	Session Config
	// Retry bounds session-start attempts; exhausting it fails the work
	// unit fast.
	Retry resilience.RetryPolicy
	// EmitConfigEvent sends the one-time session_configured record.
	EmitConfigEvent bool
	// Categories are evaluated against final transcript text.
	Categories []CategoryRule
}

// Driver owns exactly one recognition session: it starts it with bounded
// retries, pumps interleaved frames into it, consumes its result stream and
// hands classified events to the sink.
type Driver struct {
	cfg     DriverConfig
	factory Factory
	obs     metrics.Observer
	logger  *slog.Logger

	mu        sync.Mutex
	sessionID string
	finalText map[string]string
}

func NewDriver(cfg DriverConfig, factory Factory, logger *slog.Logger) *Driver {
	return &Driver{
		cfg:       cfg,
		factory:   factory,
		obs:       metrics.NoopObserver{},
		logger:    logging.NewComponentLogger(logger, "stt_driver"),
		finalText: make(map[string]string),
	}
}

// SetObserver wires a metrics observer.
func (d *Driver) SetObserver(obs metrics.Observer) {
	if obs != nil {
		d.obs = obs
	}
}

// SessionID returns the recognition session id for the hand-off checkpoint.
func (d *Driver) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// Run drives the session until the audio channel closes and the result
// stream drains. The returned error is non-nil only when the session could
// not be started within the retry budget.
func (d *Driver) Run(ctx context.Context, audio <-chan media.InterleavedFrame, sink EventForwarder) error {
	session := d.factory(d.cfg.Session)

	err := d.cfg.Retry.DoContext(ctx, func() error {
		if serr := session.Start(ctx); serr != nil {
			d.logger.Warn("session start failed, retrying",
				slog.String("call_id", d.cfg.Session.CallID),
				slog.String("reason", string(errorsx.ReasonSTTRetry)),
				slog.String("error", serr.Error()))
			return serr
		}
		return nil
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	defer func() { _ = session.Close() }()

	d.mu.Lock()
	d.sessionID = session.SessionID()
	d.mu.Unlock()

	d.logger.Info("session started",
		slog.String("call_id", d.cfg.Session.CallID),
		slog.String("session_id", session.SessionID()),
		slog.Bool("continuation", d.cfg.Session.PriorSessionID != ""))

	if d.cfg.EmitConfigEvent {
		sink.Forward(ctx, events.SessionConfigured{
			CallID:       d.cfg.Session.CallID,
			SessionID:    session.SessionID(),
			ChannelRoles: d.cfg.Session.ChannelRoles,
			RedactPII:    d.cfg.Session.RedactPII,
			Vocabulary:   d.cfg.Session.Vocabulary,
			CreatedAt:    time.Now(),
		})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.pushAudio(audio, session)
	}()

	for res := range session.Results() {
		d.classify(ctx, res, sink)
	}
	wg.Wait()
	return nil
}

// pushAudio pumps the bounded queue into the session until the producer
// closes it, then lets the session finalize gracefully.
func (d *Driver) pushAudio(audio <-chan media.InterleavedFrame, session Session) {
	for frame := range audio {
		if err := session.SendAudio(frame.Bytes()); err != nil {
			d.logger.Warn("audio send failed",
				slog.String("call_id", d.cfg.Session.CallID),
				slog.String("reason", string(errorsx.ReasonSTTSend)),
				slog.String("error", err.Error()))
		}
	}
	if err := session.FinishAudio(); err != nil {
		d.logger.Warn("audio finish failed",
			slog.String("call_id", d.cfg.Session.CallID),
			slog.String("error", err.Error()))
	}
}

func (d *Driver) classify(ctx context.Context, res Result, sink EventForwarder) {
	switch r := res.(type) {
	case SessionMeta:
		d.mu.Lock()
		if d.sessionID == "" {
			d.sessionID = r.SessionID
		}
		d.mu.Unlock()
	case Transcript:
		d.handleTranscript(ctx, r, sink)
	case UtteranceEnd:
		sink.Forward(ctx, events.UtteranceBoundary{
			CallID:    d.cfg.Session.CallID,
			Channel:   r.Channel,
			At:        r.At,
			CreatedAt: time.Now(),
		})
	default:
		d.logger.Debug("unhandled result kind",
			slog.String("kind", string(res.Kind())))
	}
}

func (d *Driver) handleTranscript(ctx context.Context, r Transcript, sink EventForwarder) {
	text := r.Text
	if d.cfg.Session.RedactPII {
		text = redact.Text(text)
	}

	if r.IsFinal {
		d.mu.Lock()
		if prev, seen := d.finalText[r.SegmentID]; seen {
			d.mu.Unlock()
			if prev != text {
				d.logger.Warn("dropping conflicting re-final of segment",
					slog.String("segment_id", r.SegmentID))
			}
			return
		}
		d.finalText[r.SegmentID] = text
		d.mu.Unlock()
	}

	sink.Forward(ctx, events.TranscriptSegment{
		CallID:    d.cfg.Session.CallID,
		Channel:   r.Channel,
		SegmentID: r.SegmentID,
		Start:     r.Start,
		End:       r.End,
		Text:      text,
		IsPartial: !r.IsFinal,
		CreatedAt: time.Now(),
	})
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "transcript_segment",
		Time:  time.Now(),
		Value: 1,
		Tags: map[string]string{
			"channel": string(r.Channel),
			"final":   boolTag(r.IsFinal),
		},
	})

	if r.IsFinal {
		for _, hit := range MatchCategories(d.cfg.Categories, text) {
			sink.Forward(ctx, events.CategoryMatch{
				CallID:    d.cfg.Session.CallID,
				Category:  hit.Category,
				RuleID:    hit.RuleID,
				Channel:   r.Channel,
				Start:     r.Start,
				End:       r.End,
				CreatedAt: time.Now(),
			})
		}
	}
}

func boolTag(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
