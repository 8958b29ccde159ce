package continuity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/harunnryd/larung/pkg/logging"
)

// Relauncher hands a checkpoint to whatever runs the successor work unit.
// InvokeAsync must return as soon as the hand-off is accepted; the successor
// runs independently of the caller's remaining lifetime.
type Relauncher interface {
	InvokeAsync(ctx context.Context, sess CallSession) error
}

// LocalRelauncher runs successor units as goroutines in the same process.
// Used by the standalone worker binary; a serverless deployment substitutes
// an implementation that invokes a fresh execution instead.
type LocalRelauncher struct {
	run    func(context.Context, CallSession)
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewLocalRelauncher(run func(context.Context, CallSession), logger *slog.Logger) *LocalRelauncher {
	return &LocalRelauncher{
		run:    run,
		logger: logging.NewComponentLogger(logger, "relauncher"),
	}
}

func (r *LocalRelauncher) InvokeAsync(ctx context.Context, sess CallSession) error {
	r.logger.Info("relaunching successor work unit",
		slog.String("call_id", sess.CallID),
		slog.Int("work_unit", sess.WorkUnit),
		slog.String("session_id", sess.SessionID))

	// Successor outlives the invoking unit's context.
	next := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(next, sess)
	}()
	return nil
}

// Wait blocks until every spawned unit, including transitively relaunched
// ones, has finished.
func (r *LocalRelauncher) Wait() { r.wg.Wait() }

var _ Relauncher = (*LocalRelauncher)(nil)
