package sources

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/larung/pkg/errorsx"
	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
	"github.com/harunnryd/larung/pkg/resilience"
)

// PollerConfig tunes source discovery.
type PollerConfig struct {
	// Interval between lookup attempts. Defaults to 250ms.
	Interval time.Duration `mapstructure:"interval"`
	// Timeout bounds the whole wait. Defaults to 15s.
	Timeout time.Duration `mapstructure:"timeout"`
	// Retry bounds one lookup call against transient errors.
	Retry resilience.RetryPolicy `mapstructure:"retry"`
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = 250 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry = resilience.RetryPolicy{MaxRetries: 2, Backoff: 100 * time.Millisecond}
	}
	return c
}

// Poller waits out the registration race: both channels register their
// sources independently and the second one may land after the worker starts.
type Poller struct {
	cfg    PollerConfig
	lookup Lookup
	logger *slog.Logger
}

func NewPoller(cfg PollerConfig, lookup Lookup, logger *slog.Logger) *Poller {
	return &Poller{
		cfg:    cfg.withDefaults(),
		lookup: lookup,
		logger: logging.NewComponentLogger(logger, "source_poller"),
	}
}

// WaitForChannels polls until both roles have a registered source or the
// timeout lapses. On timeout it returns whatever subset is known; the caller
// decides whether a single channel is enough to proceed.
func (p *Poller) WaitForChannels(ctx context.Context, callID string) (map[media.Role]string, error) {
	deadline := time.Now().Add(p.cfg.Timeout)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	known := make(map[media.Role]string)
	for {
		refs, err := p.queryOnce(ctx, callID)
		if err != nil {
			p.logger.Warn("source lookup failed",
				slog.String("call_id", callID),
				slog.String("error", err.Error()))
		}
		for role, ref := range refs {
			if _, seen := known[role]; !seen {
				p.logger.Info("channel source registered",
					slog.String("call_id", callID),
					slog.String("role", string(role)),
					slog.String("source", ref))
			}
			known[role] = ref
		}
		if len(known) >= 2 {
			return known, nil
		}
		if time.Now().After(deadline) {
			if len(known) == 0 {
				return nil, errorsx.Wrap(
					fmt.Errorf("no channel sources registered for call %s within %s", callID, p.cfg.Timeout),
					errorsx.ReasonSourceLookup)
			}
			p.logger.Warn("proceeding with partial channel registration",
				slog.String("call_id", callID),
				slog.Int("channels", len(known)))
			return known, nil
		}
		select {
		case <-ctx.Done():
			return known, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) queryOnce(ctx context.Context, callID string) (map[media.Role]string, error) {
	var refs map[media.Role]string
	err := p.cfg.Retry.DoContext(ctx, func() error {
		var qerr error
		refs, qerr = p.lookup.Query(ctx, callID)
		return qerr
	})
	return refs, err
}
