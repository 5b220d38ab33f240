// Package reconcile implements the Startup Reconciler and OCO Reconciler
// (spec sections 4.E and 4.H): the two processes that keep system_state and
// oco_links honest against whatever actually happened on the exchange (or,
// in DEMO, against nothing at all) while the process was not running.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"spotexec/internal/exchange"
	"spotexec/internal/killswitch"
	"spotexec/internal/logging"
	"spotexec/internal/store"
)

const (
	statusActive  = "ACTIVE"
	statusPaused  = "PAUSED"
	statusKilled  = "KILLED"
)

// Startup runs the one-shot reconciliation sequence at process boot (spec
// 4.E): kill-switch short-circuit, DEMO short-circuit, LIVE/TESTNET
// connectivity probe, open-position audit, and the resulting system_state
// transition.
type Startup struct {
	store    *store.Store
	kill     *killswitch.Oracle
	adapter  exchange.Adapter
	log      logging.Logger
}

// NewStartup builds a Startup reconciler.
func NewStartup(st *store.Store, kill *killswitch.Oracle, adapter exchange.Adapter, log logging.Logger) *Startup {
	return &Startup{store: st, kill: kill, adapter: adapter, log: log}
}

// Run executes the sequence and returns the resulting status string, mainly
// for logging/tests; the authoritative effect is the system_state row.
func (s *Startup) Run(ctx context.Context) (string, error) {
	if s.kill.IsActive() {
		return s.settle(statusKilled, false, "startup: kill-switch is active")
	}

	if s.adapter.Mode() == "DEMO" {
		return s.settle(statusActive, true, "startup: DEMO mode, no connectivity probe required")
	}

	if err := s.adapter.Diagnostics(ctx); err != nil {
		return s.settle(statusPaused, false, fmt.Sprintf("startup: connectivity probe failed: %v", err))
	}

	open, err := s.store.GetOpenPositions()
	if err != nil {
		return s.settle(statusPaused, false, fmt.Sprintf("startup: open-position audit failed: %v", err))
	}
	if len(open) > 0 {
		return s.settle(statusPaused, true, fmt.Sprintf("startup: %d open position(s) found, pausing for operator review", len(open)))
	}

	return s.settle(statusActive, true, "startup: connectivity and position audit clean")
}

func (s *Startup) settle(status string, syncOK bool, message string) (string, error) {
	if err := s.store.LogEvent("STARTUP_SYNC", message); err != nil {
		s.log.Warn("startup: failed to write audit log entry", zap.Error(err))
	}
	if err := s.store.UpdateSystemState(&status, &syncOK, nil); err != nil {
		return status, fmt.Errorf("reconcile: startup: updating system state: %w", err)
	}
	s.log.Info(message, zap.String("status", status))
	return status, nil
}
