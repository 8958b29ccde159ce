package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/larung/pkg/errorsx"
	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/resilience"
)

// Log is the append-only event log collaborator, partitioned by call id.
type Log interface {
	Append(ctx context.Context, rec Record) error
}

// Reader is implemented by logs that can read a call's history back, for
// diagnostics.
type Reader interface {
	EventsForCall(ctx context.Context, callID string) ([]StoredEvent, error)
}

// SinkConfig tunes the forwarder.
type SinkConfig struct {
	// SuppressPartials drops interim transcript segments entirely, bounding
	// downstream log volume to final segments only.
	SuppressPartials bool
	// BreakerThreshold and BreakerCooldown stop hammering a failing log.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Sink is a stateless forwarder from pipeline events to the log. Delivery
// is best-effort: append failures are logged and dropped, never propagated,
// so a sick log cannot stall or crash the ingestion pipeline.
type Sink struct {
	cfg     SinkConfig
	log     Log
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewSink(cfg SinkConfig, log Log, logger *slog.Logger) *Sink {
	return &Sink{
		cfg:     cfg,
		log:     log,
		breaker: resilience.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:  logging.NewComponentLogger(logger, "event_sink"),
	}
}

// Forward appends one record, stamping CreatedAt where the producer left it
// zero.
func (s *Sink) Forward(ctx context.Context, rec Record) {
	if ts, ok := rec.(TranscriptSegment); ok {
		if s.cfg.SuppressPartials && ts.IsPartial {
			return
		}
		if ts.CreatedAt.IsZero() {
			ts.CreatedAt = time.Now()
			rec = ts
		}
	}
	if !s.breaker.Allow() {
		s.logger.Debug("event log breaker open, dropping record",
			slog.String("kind", string(rec.Kind())),
			slog.String("call_id", rec.Call()))
		return
	}
	if err := s.log.Append(ctx, rec); err != nil {
		s.breaker.OnError()
		s.logger.Warn("event append failed, dropping record",
			slog.String("kind", string(rec.Kind())),
			slog.String("call_id", rec.Call()),
			slog.String("reason", string(errorsx.ReasonSinkAppend)),
			slog.String("error", err.Error()))
		return
	}
	s.breaker.OnSuccess()
}
