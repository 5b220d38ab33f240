// Package killswitch implements the absolute, fail-closed kill-switch
// oracle (spec section 4.C). It is checked at the worker loop top, pre-BUY,
// pre-OCO, and pre-cancel in the SELL handler.
//
// Divergence from the original source (recorded per SPEC_FULL 4.C): an
// earlier revision returned false (fail-open) when the persisted flag could
// not be read. This implementation returns true instead — an oracle that
// cannot be queried must be treated as tripped, not as permissive, because
// the failure mode of "kept trading while blind" is strictly worse than
// "paused while investigating".
package killswitch

import (
	"os"
	"strconv"
	"strings"

	"spotexec/internal/store"
)

// Oracle fuses the environment flag with the persisted system_state flag.
type Oracle struct {
	store *store.Store
}

// New builds an Oracle backed by st.
func New(st *store.Store) *Oracle {
	return &Oracle{store: st}
}

// IsActive returns true if the environment flag is truthy OR the persisted
// flag is truthy. A store read error is treated as active (fail-closed).
func (o *Oracle) IsActive() bool {
	if envTruthy("KILL_SWITCH") {
		return true
	}

	state, err := o.store.GetSystemState()
	if err != nil {
		return true
	}
	return state.KillSwitch
}

// Trip sets the persisted kill-switch flag, used by the Execution
// Controller's FAILSAFE escalation (spec 4.G step 7).
func (o *Oracle) Trip() error {
	t := true
	return o.store.UpdateSystemState(nil, nil, &t)
}

func envTruthy(key string) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return b
}
