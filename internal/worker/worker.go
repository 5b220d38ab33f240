// Package worker implements the Worker Loop (spec section 4.I): a
// single-threaded cooperative loop that reconciles, optionally generates a
// signal, and pops+executes at most one signal per cycle.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"spotexec/internal/controller"
	"spotexec/internal/decision"
	"spotexec/internal/killswitch"
	"spotexec/internal/logging"
	"spotexec/internal/outbox"
	"spotexec/internal/reconcile"
	"spotexec/internal/store"
)

// Loop owns one process's worker iteration.
type Loop struct {
	store      *store.Store
	kill       *killswitch.Oracle
	outbox     *outbox.Outbox
	controller *controller.Controller
	startup    *reconcile.Startup
	oco        *reconcile.OCO
	decision   decision.Generator
	log        logging.Logger
	sleep      time.Duration
}

// Config carries the loop's collaborators.
type Config struct {
	Store      *store.Store
	Kill       *killswitch.Oracle
	Outbox     *outbox.Outbox
	Controller *controller.Controller
	Startup    *reconcile.Startup
	OCO        *reconcile.OCO
	Decision   decision.Generator
	Log        logging.Logger
	Sleep      time.Duration
}

// New builds a Loop. A nil Decision defaults to decision.Noop{}.
func New(cfg Config) *Loop {
	gen := cfg.Decision
	if gen == nil {
		gen = decision.Noop{}
	}
	sleep := cfg.Sleep
	if sleep <= 0 {
		sleep = 10 * time.Second
	}
	return &Loop{
		store: cfg.Store, kill: cfg.Kill, outbox: cfg.Outbox,
		controller: cfg.Controller, startup: cfg.Startup, oco: cfg.OCO,
		decision: gen, log: cfg.Log, sleep: sleep,
	}
}

// Bootstrap runs the self-heal described in spec 4.E before the reconciler:
// if the kill-switch is off and the DB is stuck PAUSED (e.g. after a redeploy
// against a persistent disk), clear it to RUNNING.
func (l *Loop) Bootstrap() error {
	if l.kill.IsActive() {
		return nil
	}
	state, err := l.store.GetSystemState()
	if err != nil {
		return err
	}
	if state.Status == "PAUSED" || !state.StartupSyncOK {
		running := "RUNNING"
		syncOK := true
		killOff := false
		return l.store.UpdateSystemState(&running, &syncOK, &killOff)
	}
	return nil
}

// RunStartup executes the Startup Reconciler once.
func (l *Loop) RunStartup(ctx context.Context) error {
	_, err := l.startup.Run(ctx)
	return err
}

// Run executes the loop until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.sleep):
		}
	}
}

// tick runs exactly one loop iteration (spec 4.I). It never panics out to
// the caller: any error is caught, audited, and logged so the loop
// continues.
func (l *Loop) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logLoopError("WORKER_LOOP_PANIC", errStr(r))
		}
	}()

	if l.kill.IsActive() {
		// Pop-and-drop one signal to bound outbox growth while blocked.
		if sig, err := l.outbox.PopNext(); err != nil {
			l.logLoopError("WORKER_LOOP_ERROR", err.Error())
		} else if sig != nil {
			l.logLoopError("EXEC_BLOCKED_KILL_SWITCH_DROPPED", "dropped signal "+sig.SignalID+" while kill-switch active")
		}
		return
	}

	if err := l.oco.Sweep(ctx); err != nil {
		l.logLoopError("WORKER_LOOP_ERROR", err.Error())
	}

	if err := l.decision.Tick(ctx); err != nil {
		l.logLoopError("WORKER_LOOP_ERROR", "decision engine tick: "+err.Error())
	}

	sig, err := l.outbox.PopNext()
	if err != nil {
		l.logLoopError("WORKER_LOOP_ERROR", err.Error())
		return
	}
	if sig == nil {
		return
	}

	if err := l.controller.Execute(ctx, sig); err != nil {
		l.logLoopError("WORKER_LOOP_ERROR", err.Error())
	}
}

func (l *Loop) logLoopError(eventType, message string) {
	if err := l.store.LogEvent(eventType, message); err != nil {
		l.log.Warn("worker: failed to write audit log entry", zap.Error(err))
	}
	l.log.Error(message, zap.String("event_type", eventType))
}

func errStr(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "panic: unknown"
}
