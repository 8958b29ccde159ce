package larung

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/larung/pkg/configutil"
	"github.com/harunnryd/larung/pkg/continuity"
	"github.com/harunnryd/larung/pkg/events"
	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/metrics"
	"github.com/harunnryd/larung/pkg/recognition"
	"github.com/harunnryd/larung/pkg/recognition/deepgram"
	"github.com/harunnryd/larung/pkg/recognition/mock"
	"github.com/harunnryd/larung/pkg/recording"
	"github.com/harunnryd/larung/pkg/sources"
	"github.com/harunnryd/larung/pkg/storage"
)

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Encoding       string `mapstructure:"encoding"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
}

type mockSettings struct {
	SessionID  string `mapstructure:"session_id"`
	Transcript string `mapstructure:"transcript"`
}

// App owns the worker's long-lived collaborators and runs calls through
// them. One App serves many calls; each call runs a chain of work units.
type App struct {
	cfg        Config
	logger     *slog.Logger
	factory    recognition.Factory
	store      storage.ObjectStore
	eventLog   events.Log
	sink       *events.Sink
	finalizer  *recording.Finalizer
	poller     *sources.Poller
	wsSource   *sources.WSSource
	hook       *sources.Hook
	parties    sources.PartyLookup
	relauncher *continuity.LocalRelauncher
	observer   *metrics.MemoryObserver
}

func New(cfg Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "app"),
		observer: metrics.NewMemoryObserver(),
	}

	factory, err := buildFactory(cfg.Recognizer)
	if err != nil {
		return nil, err
	}
	a.factory = factory

	switch cfg.Storage.Backend {
	case "memory":
		a.store = storage.NewMemoryStore()
	default:
		fs, err := storage.NewFSStore(cfg.Storage.Root)
		if err != nil {
			return nil, fmt.Errorf("open storage root: %w", err)
		}
		a.store = fs
	}

	switch cfg.Events.Backend {
	case "memory":
		a.eventLog = events.NewMemoryLog()
	default:
		db, err := events.OpenSQLiteLog(cfg.Events.Path)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		a.eventLog = db
	}

	a.sink = events.NewSink(events.SinkConfig{
		SuppressPartials: cfg.Events.SuppressPartials,
		BreakerThreshold: cfg.Events.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Events.BreakerCooldownS) * time.Second,
	}, a.eventLog, logger)

	a.finalizer = recording.NewFinalizer(a.store, cfg.Worker.SampleRate, logger)
	a.wsSource = sources.NewWSSource(cfg.Sources.wsConfig(), logger)
	if cfg.Sources.Lookup.URL != "" {
		a.poller = sources.NewPoller(cfg.Sources.pollerConfig(), sources.NewHTTPLookup(cfg.Sources.Lookup), logger)
	}
	if cfg.Sources.Hook.URL != "" {
		a.hook = sources.NewHook(cfg.Sources.hookConfig(), logger)
	}
	if cfg.Sources.Twilio.AccountSID != "" {
		a.parties = sources.NewTwilioPartyLookup(cfg.Sources.Twilio, logger)
	}

	a.relauncher = continuity.NewLocalRelauncher(a.runUnit, logger)
	return a, nil
}

func buildFactory(cfg VendorConfig) (recognition.Factory, error) {
	switch cfg.Provider {
	case "deepgram":
		if err := configutil.ValidateSettings(cfg.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "encoding", "utterance_end_ms"},
		}); err != nil {
			return nil, fmt.Errorf("recognizer.settings: %w", err)
		}
		var settings deepgramSettings
		if err := configutil.DecodeSettings(cfg.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "recognizer.settings.api_key"); err != nil {
			return nil, err
		}
		return deepgram.NewFactory(deepgram.ProviderConfig{
			APIKey:         settings.APIKey,
			Model:          settings.Model,
			Encoding:       settings.Encoding,
			UtteranceEndMS: settings.UtteranceEndMS,
		}, slog.Default()), nil
	case "mock":
		var settings mockSettings
		if err := configutil.DecodeSettings(cfg.Settings, &settings); err != nil {
			return nil, err
		}
		return func(c recognition.Config) recognition.Session {
			script := mock.SessionConfig{SessionID: settings.SessionID}
			if settings.Transcript != "" {
				script.ResultsOnFinish = []recognition.Result{
					recognition.Transcript{
						Channel: recognition.DefaultChannelRoles()[0],
						Text:    settings.Transcript,
						IsFinal: true,
					},
				}
			}
			return mock.NewSession(c, script)
		}, nil
	default:
		return nil, fmt.Errorf("unknown recognizer provider %q", cfg.Provider)
	}
}

// ProcessCall runs a call's first work unit and blocks until the whole
// chain, successors included, has finished.
func (a *App) ProcessCall(ctx context.Context, callID string) {
	a.runUnit(ctx, continuity.NewCallSession(callID))
	a.relauncher.Wait()
}

// ResumeUnit runs a single work unit from a hand-off descriptor, as a
// relaunched execution would.
func (a *App) ResumeUnit(ctx context.Context, sess continuity.CallSession) {
	a.runUnit(ctx, sess)
	a.relauncher.Wait()
}

func (a *App) runUnit(ctx context.Context, sess continuity.CallSession) {
	runID := uuid.NewString()
	logger := a.logger.With(slog.String("run_id", runID))
	logger.Info("running work unit",
		slog.String("call_id", sess.CallID),
		slog.Int("work_unit", sess.WorkUnit))

	ctrl := continuity.NewController(
		a.cfg.Worker.controllerConfig(a.cfg.Privacy.RedactPII),
		continuity.Deps{
			Source:     a.wsSource,
			Poller:     a.poller,
			Hook:       a.hook,
			Parties:    a.parties,
			Factory:    a.factory,
			Sink:       a.sink,
			Finalizer:  a.finalizer,
			Relauncher: a.relauncher,
			Observer:   a.observer,
		}, logger)

	if _, err := ctrl.Run(ctx, sess); err != nil {
		logger.Error("work unit failed",
			slog.String("call_id", sess.CallID),
			slog.Int("work_unit", sess.WorkUnit),
			slog.String("error", err.Error()))
	}
}

// Metrics exposes the recorded metric events, mostly for diagnostics.
func (a *App) Metrics() []metrics.MetricsEvent { return a.observer.Snapshot() }

// Events reads a call's event history back from the log, for diagnostics.
func (a *App) Events(ctx context.Context, callID string) ([]events.StoredEvent, error) {
	reader, ok := a.eventLog.(events.Reader)
	if !ok {
		return nil, fmt.Errorf("event log backend %q does not support reads", a.cfg.Events.Backend)
	}
	return reader.EventsForCall(ctx, callID)
}

// Drain waits for in-flight work units and closes the event log.
func (a *App) Drain() error {
	a.relauncher.Wait()
	if closer, ok := a.eventLog.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
