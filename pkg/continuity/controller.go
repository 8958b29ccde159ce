package continuity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/larung/pkg/demux"
	"github.com/harunnryd/larung/pkg/errorsx"
	"github.com/harunnryd/larung/pkg/events"
	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
	"github.com/harunnryd/larung/pkg/metrics"
	"github.com/harunnryd/larung/pkg/mixer"
	"github.com/harunnryd/larung/pkg/recognition"
	"github.com/harunnryd/larung/pkg/recording"
	"github.com/harunnryd/larung/pkg/resilience"
	"github.com/harunnryd/larung/pkg/sources"
)

// Config tunes one work unit's execution envelope.
type Config struct {
	// TimeBudget is the total execution window of one work unit. The stop
	// flag flips at TimeBudget - SafetyMargin so the tail fits inside it.
	TimeBudget   time.Duration `mapstructure:"time_budget"`
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
	// IterationCap bounds how many work units one call may chain.
	IterationCap int `mapstructure:"iteration_cap"`

	SampleRate       int           `mapstructure:"sample_rate"`
	Period           time.Duration `mapstructure:"period"`
	InactivityWindow time.Duration `mapstructure:"inactivity_window"`
	KeepAliveAfter   time.Duration `mapstructure:"keepalive_after"`
	BufferCapacity   int           `mapstructure:"buffer_capacity"`
	AudioQueue       int           `mapstructure:"audio_queue"`

	// Recognition session knobs passed through to the driver.
	Interim    bool     `mapstructure:"interim"`
	RedactPII  bool     `mapstructure:"redact_pii"`
	Language   string   `mapstructure:"language"`
	Vocabulary []string `mapstructure:"vocabulary"`

	EmitConfigEvent bool                       `mapstructure:"emit_config_event"`
	Categories      []recognition.CategoryRule `mapstructure:"categories"`
	STTRetry        resilience.RetryPolicy     `mapstructure:"stt_retry"`
}

func (c Config) withDefaults() Config {
	if c.TimeBudget <= 0 {
		c.TimeBudget = 14 * time.Minute
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 30 * time.Second
	}
	if c.SafetyMargin >= c.TimeBudget {
		c.SafetyMargin = c.TimeBudget / 10
	}
	if c.IterationCap <= 0 {
		c.IterationCap = 30
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.Period <= 0 {
		c.Period = 100 * time.Millisecond
	}
	if c.STTRetry.MaxRetries <= 0 {
		c.STTRetry = resilience.RetryPolicy{MaxRetries: 3, Backoff: 500 * time.Millisecond}
	}
	return c
}

// Deps are the controller's collaborators. Source, Factory, Sink and
// Finalizer are required; the rest are optional.
type Deps struct {
	Source     sources.MediaSource
	Poller     *sources.Poller
	Hook       *sources.Hook
	Parties    sources.PartyLookup
	Factory    recognition.Factory
	Sink       recognition.EventForwarder
	Finalizer  *recording.Finalizer
	Relauncher Relauncher
	Observer   metrics.Observer
}

// Controller runs one work unit of one call: resolve sources, stream and
// transcribe until the source closes or the budget runs out, then finalize
// or hand off to a successor.
type Controller struct {
	cfg    Config
	deps   Deps
	fsm    *stateMachine
	logger *slog.Logger
}

func NewController(cfg Config, deps Deps, logger *slog.Logger) *Controller {
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	c := &Controller{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		fsm:    newStateMachine(),
		logger: logging.NewComponentLogger(logger, "continuity_controller"),
	}
	c.fsm.AddListener(&transitionRecorder{observer: deps.Observer, logger: c.logger})
	return c
}

// transitionRecorder surfaces work-unit state changes as metrics and debug
// logs.
type transitionRecorder struct {
	observer metrics.Observer
	logger   *slog.Logger
}

func (r *transitionRecorder) OnStateChange(ev StateChange) {
	r.observer.RecordEvent(metrics.MetricsEvent{
		Name:  "work_unit_state",
		Time:  ev.Timestamp,
		Value: 1,
		Tags: map[string]string{
			"from": ev.FromState.String(),
			"to":   ev.ToState.String(),
		},
	})
	r.logger.Debug("state transition",
		slog.String("from", ev.FromState.String()),
		slog.String("to", ev.ToState.String()),
		slog.String("reason", ev.Reason))
}

// State exposes the work unit's current lifecycle state.
func (c *Controller) State() State { return c.fsm.State() }

// Run executes one work unit and returns the descriptor as it stood at the
// end, successor hand-off included. The error is non-nil only for failures
// that surfaced an ERROR lifecycle event.
func (c *Controller) Run(ctx context.Context, sess CallSession) (CallSession, error) {
	c.logger.Info("work unit starting",
		slog.String("call_id", sess.CallID),
		slog.Int("work_unit", sess.WorkUnit),
		slog.Bool("continuation", sess.Continuation()))

	sess, proceed, err := c.starting(ctx, &sess)
	if err != nil {
		return c.failEarly(ctx, sess, err)
	}
	if !proceed {
		_ = c.fsm.Transition(StateDone, "hook veto")
		c.logger.Info("processing vetoed, exiting cleanly",
			slog.String("call_id", sess.CallID),
			slog.String("reason", string(errorsx.ReasonHookVeto)))
		return sess, nil
	}

	_ = c.fsm.Transition(StateStreaming, "sources resolved")
	sess, segment, outcome, runErr := c.streaming(ctx, sess)

	switch outcome {
	case StateTimeBudgetReached:
		_ = c.fsm.Transition(StateTimeBudgetReached, "execution deadline")
	case StateError:
		_ = c.fsm.Transition(StateError, "unrecoverable failure")
	default:
		_ = c.fsm.Transition(StateSourceClosed, "all sources drained")
	}

	sess = c.finalize(ctx, sess, segment, outcome, runErr)
	return sess, runErr
}

// starting resolves the channel sources, runs the customization hook and
// emits the opening lifecycle event. proceed=false means a clean veto.
func (c *Controller) starting(ctx context.Context, sess *CallSession) (CallSession, bool, error) {
	s := *sess

	if len(s.ChannelSources) == 0 {
		if c.deps.Poller == nil {
			return s, false, errorsx.Wrap(
				fmt.Errorf("no channel sources and no lookup configured for call %s", s.CallID),
				errorsx.ReasonSourceLookup)
		}
		refs, err := c.deps.Poller.WaitForChannels(ctx, s.CallID)
		if err != nil {
			return s, false, err
		}
		s.ChannelSources = refs
	}

	if s.FromParty == "" && s.ToParty == "" && c.deps.Parties != nil && !s.Continuation() {
		if from, to, err := c.deps.Parties.Parties(ctx, s.CallID); err == nil {
			s.FromParty, s.ToParty = from, to
		}
	}

	if c.deps.Hook != nil && c.deps.Hook.Enabled() && !s.Continuation() {
		resp, err := c.deps.Hook.Invoke(ctx, sources.HookRequest{
			CallID:    s.CallID,
			WorkUnit:  s.WorkUnit,
			Channels:  sourceRefsByRoleName(s.ChannelSources),
			FromParty: s.FromParty,
			ToParty:   s.ToParty,
		})
		if err != nil {
			if c.deps.Hook.Required() {
				return s, false, err
			}
			c.logger.Warn("optional hook failed, proceeding unmodified",
				slog.String("call_id", s.CallID),
				slog.String("error", err.Error()))
		} else {
			if resp.Veto() {
				return s, false, nil
			}
			s = applyHook(s, resp)
		}
	}

	phase := events.PhaseStart
	if s.Continuation() {
		phase = events.PhaseContinue
	}
	c.deps.Sink.Forward(ctx, events.Lifecycle{
		CallID:    s.CallID,
		Phase:     phase,
		FromParty: s.FromParty,
		ToParty:   s.ToParty,
		WorkUnit:  s.WorkUnit,
		CreatedAt: time.Now(),
	})
	return s, true, nil
}

// applyHook folds the hook's overrides into the descriptor. A role swap
// relabels which role each source feeds; it happens here, before any
// channel data is read, so no buffered audio is ever relabeled.
func applyHook(s CallSession, resp sources.HookResponse) CallSession {
	if resp.CallID != "" {
		s.CallID = resp.CallID
	}
	if resp.SwapRoles {
		swapped := make(map[media.Role]string, len(s.ChannelSources))
		for role, ref := range s.ChannelSources {
			swapped[role.Sibling()] = ref
		}
		s.ChannelSources = swapped
	}
	if resp.FromParty != "" {
		s.FromParty = resp.FromParty
	}
	if resp.ToParty != "" {
		s.ToParty = resp.ToParty
	}
	return s
}

func sourceRefsByRoleName(refs map[media.Role]string) map[string]string {
	out := make(map[string]string, len(refs))
	for role, ref := range refs {
		out[string(role)] = ref
	}
	return out
}

type demuxResult struct {
	role   media.Role
	marker media.FragmentMarker
	err    error
}

// streaming runs the demux/mix/recognize pipeline until the sources drain,
// the deadline stop flag flips, or the session cannot be started.
func (c *Controller) streaming(ctx context.Context, sess CallSession) (CallSession, *recording.SegmentBuffer, State, error) {
	var stop atomic.Bool
	deadline := time.AfterFunc(c.cfg.TimeBudget-c.cfg.SafetyMargin, func() {
		c.logger.Info("execution deadline reached, requesting stop",
			slog.String("call_id", sess.CallID),
			slog.Int("work_unit", sess.WorkUnit))
		stop.Store(true)
	})
	defer deadline.Stop()

	pipeCtx, pipeCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer pipeCancel()

	notify := make(chan struct{}, 1)
	callerBuf := mixer.NewChannelBuffer(media.RoleCaller, c.cfg.BufferCapacity, notify, c.logger)
	agentBuf := mixer.NewChannelBuffer(media.RoleAgent, c.cfg.BufferCapacity, notify, c.logger)
	bufFor := map[media.Role]*mixer.ChannelBuffer{
		media.RoleCaller: callerBuf,
		media.RoleAgent:  agentBuf,
	}

	segment := recording.NewSegmentBuffer()
	fanout := mixer.NewFanOut(segment, c.cfg.AudioQueue, c.logger)
	synchronizer := mixer.NewSynchronizer(mixer.Config{
		Period:     c.cfg.Period,
		SampleRate: c.cfg.SampleRate,
	}, callerBuf, agentBuf, notify, fanout, c.logger)
	synchronizer.SetObserver(c.deps.Observer)
	keepalive := mixer.NewKeepAlive(
		[]*mixer.ChannelBuffer{callerBuf, agentBuf},
		c.cfg.KeepAliveAfter, c.cfg.Period, c.cfg.SampleRate, c.logger)

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		synchronizer.Run(pipeCtx)
	}()
	go keepalive.Run(pipeCtx)

	driver := recognition.NewDriver(recognition.DriverConfig{
		Session: recognition.Config{
			CallID:         sess.CallID,
			SampleRate:     c.cfg.SampleRate,
			ChannelRoles:   recognition.DefaultChannelRoles(),
			PriorSessionID: sess.SessionID,
			Interim:        c.cfg.Interim,
			RedactPII:      c.cfg.RedactPII,
			Vocabulary:     c.cfg.Vocabulary,
			Language:       c.cfg.Language,
		},
		Retry:           c.cfg.STTRetry,
		EmitConfigEvent: c.cfg.EmitConfigEvent && !sess.Continuation(),
		Categories:      c.cfg.Categories,
	}, c.deps.Factory, c.logger)
	driver.SetObserver(c.deps.Observer)

	driverErr := make(chan error, 1)
	go func() {
		driverErr <- driver.Run(ctx, fanout.Audio(), c.deps.Sink)
	}()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		openSrc []io.ReadCloser
		results []demuxResult
	)
	for role, ref := range sess.ChannelSources {
		src, err := c.deps.Source.Open(ctx, ref, sess.LastFragment[role])
		if err != nil {
			mu.Lock()
			results = append(results, demuxResult{role: role, marker: sess.LastFragment[role], err: err})
			mu.Unlock()
			continue
		}
		mu.Lock()
		openSrc = append(openSrc, src)
		mu.Unlock()

		d := demux.New(demux.Config{
			Role:             role,
			SampleRate:       c.cfg.SampleRate,
			ResumeAfter:      sess.LastFragment[role],
			InactivityWindow: c.cfg.InactivityWindow,
		}, bufFor[role], c.logger)
		d.SetSibling(bufFor[role.Sibling()])

		wg.Add(1)
		go func(role media.Role, d *demux.Demuxer, src io.ReadCloser) {
			defer wg.Done()
			marker, derr := d.Run(ctx, src, stop.Load)
			mu.Lock()
			results = append(results, demuxResult{role: role, marker: marker, err: derr})
			mu.Unlock()
		}(role, d, src)
	}

	demuxDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(demuxDone)
	}()

	select {
	case <-demuxDone:
	case err := <-driverErr:
		// Run only returns this early when the session never started.
		driverErr <- err
		mu.Lock()
		for _, src := range openSrc {
			_ = src.Close()
		}
		mu.Unlock()
		<-demuxDone
	}

	// Drain the synchronizer tail, then close the audio feed so the
	// recognition session can finish and flush its last results.
	pipeCancel()
	<-syncDone
	fanout.CloseAudio()
	runDriverErr := <-driverErr

	if sess.LastFragment == nil {
		sess.LastFragment = make(map[media.Role]media.FragmentMarker)
	}
	var firstDemuxErr error
	for _, res := range results {
		if res.marker != media.MarkerZero {
			sess.LastFragment[res.role] = res.marker
		}
		if res.err != nil && firstDemuxErr == nil {
			firstDemuxErr = res.err
		}
	}
	if id := driver.SessionID(); id != "" {
		sess.SessionID = id
	}

	switch {
	case runDriverErr != nil:
		return sess, segment, StateError, runDriverErr
	case stop.Load():
		return sess, segment, StateTimeBudgetReached, nil
	case firstDemuxErr != nil:
		return sess, segment, StateError, firstDemuxErr
	default:
		return sess, segment, StateSourceClosed, nil
	}
}

// finalize uploads this unit's segment, then either hands off to a
// successor or merges the finished recording and closes the call out.
func (c *Controller) finalize(ctx context.Context, sess CallSession, segment *recording.SegmentBuffer, outcome State, runErr error) CallSession {
	_ = c.fsm.Transition(StateFinalizing, outcome.String())

	if segment != nil {
		if err := c.deps.Finalizer.UploadSegment(ctx, sess.CallID, sess.WorkUnit, segment); err != nil {
			c.logger.Warn("segment upload failed",
				slog.String("call_id", sess.CallID),
				slog.String("error", err.Error()))
		}
	}

	reason := "source_closed"
	continued := false
	switch outcome {
	case StateTimeBudgetReached:
		reason = "time_budget_reached"
		if sess.WorkUnit+1 > c.cfg.IterationCap {
			reason = "iteration_cap"
			c.logger.Error("iteration cap exceeded, refusing to relaunch",
				slog.String("call_id", sess.CallID),
				slog.Int("work_unit", sess.WorkUnit),
				slog.Int("cap", c.cfg.IterationCap),
				slog.String("reason", string(errorsx.ReasonIterationCap)))
		} else if c.deps.Relauncher != nil {
			if err := c.deps.Relauncher.InvokeAsync(ctx, sess.Successor()); err != nil {
				c.logger.Error("successor relaunch failed, finalizing terminally",
					slog.String("call_id", sess.CallID),
					slog.String("reason", string(errorsx.ReasonRelaunch)),
					slog.String("error", err.Error()))
			} else {
				continued = true
			}
		}
	case StateError:
		reason = "error"
	}

	if continued {
		c.logger.Info("work unit handed off",
			slog.String("call_id", sess.CallID),
			slog.Int("work_unit", sess.WorkUnit),
			slog.String("session_id", sess.SessionID))
		_ = c.fsm.Transition(StateDone, "handed off")
		return sess
	}

	// On an error outcome the segment upload above is the only artifact
	// work; merging a recording for a call that died mid-stream would
	// publish it as complete.
	if outcome != StateError {
		if url, err := c.deps.Finalizer.MergeCall(ctx, sess.CallID, sess.WorkUnit); err != nil {
			c.logger.Warn("recording merge failed",
				slog.String("call_id", sess.CallID),
				slog.String("error", err.Error()))
		} else {
			c.deps.Sink.Forward(ctx, events.RecordingReady{
				CallID:    sess.CallID,
				URL:       url,
				CreatedAt: time.Now(),
			})
		}
	}

	phase := events.PhaseEnd
	if runErr != nil {
		phase = events.PhaseError
		if reasoned := errorsx.Reason(runErr); reasoned != "" {
			reason = string(reasoned)
		}
	}
	c.deps.Sink.Forward(ctx, events.Lifecycle{
		CallID:    sess.CallID,
		Phase:     phase,
		FromParty: sess.FromParty,
		ToParty:   sess.ToParty,
		WorkUnit:  sess.WorkUnit,
		Reason:    reason,
		CreatedAt: time.Now(),
	})

	_ = c.fsm.Transition(StateDone, reason)
	c.logger.Info("work unit complete",
		slog.String("call_id", sess.CallID),
		slog.Int("work_unit", sess.WorkUnit),
		slog.String("reason", reason))
	return sess
}

// failEarly covers failures before streaming began: emit the one ERROR
// event and close out without artifacts.
func (c *Controller) failEarly(ctx context.Context, sess CallSession, err error) (CallSession, error) {
	c.logger.Error("work unit failed before streaming",
		slog.String("call_id", sess.CallID),
		slog.String("error", err.Error()))
	_ = c.fsm.Transition(StateError, err.Error())

	reason := "error"
	if reasoned := errorsx.Reason(err); reasoned != "" {
		reason = string(reasoned)
	}
	c.deps.Sink.Forward(ctx, events.Lifecycle{
		CallID:    sess.CallID,
		Phase:     events.PhaseError,
		WorkUnit:  sess.WorkUnit,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
	_ = c.fsm.Transition(StateFinalizing, reason)
	_ = c.fsm.Transition(StateDone, reason)
	return sess, err
}
