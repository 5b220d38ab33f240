package outbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotexec/internal/signal"
)

func newTradeSignal(id string) signal.Signal {
	size := decimal.NewFromInt(1)
	return signal.Signal{
		SignalID:        id,
		FinalVerdict:    signal.VerdictTrade,
		CertifiedSignal: true,
		Execution: signal.Execution{
			Symbol:       "BTCUSDT",
			Direction:    signal.DirectionLong,
			Entry:        signal.Entry{Type: signal.EntryTypeMarket},
			PositionSize: &size,
		},
	}
}

func TestEnsureExistsCreatesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	ob := New(path)

	require.NoError(t, ob.EnsureExists())

	n, err := ob.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEnsureExistsHealsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o600))

	ob := New(path)
	require.NoError(t, ob.EnsureExists())

	n, err := ob.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAppendAndPopNextFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	ob := New(path)
	require.NoError(t, ob.EnsureExists())

	ok, err := ob.Append(newTradeSignal("sig-1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ob.Append(newTradeSignal("sig-2"))
	require.NoError(t, err)
	assert.True(t, ok)

	first, err := ob.PopNext()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "sig-1", first.SignalID, "queue must be FIFO")

	second, err := ob.PopNext()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "sig-2", second.SignalID)

	empty, err := ob.PopNext()
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestAppendRejectsInvalidSignal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	ob := New(path)
	require.NoError(t, ob.EnsureExists())

	invalid := newTradeSignal("")
	_, err := ob.Append(invalid)
	assert.Error(t, err)
}

func TestAppendSoftDedupesWithinTrailingWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	ob := New(path)
	require.NoError(t, ob.EnsureExists())

	s := newTradeSignal("sig-1")
	ok, err := ob.Append(s)
	require.NoError(t, err)
	require.True(t, ok)

	// Same economic content, different signal_id: fingerprint matches, so the
	// soft-dedupe window should reject it.
	dup := newTradeSignal("sig-1-retry")
	ok, err = ob.Append(dup)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate fingerprint within the trailing window must be soft-deduped")

	n, err := ob.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppendAllowsDuplicateFingerprintOutsideTrailingWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	ob := New(path)
	require.NoError(t, ob.EnsureExists())

	dup := newTradeSignal("sig-dup")
	ok, err := ob.Append(dup)
	require.NoError(t, err)
	require.True(t, ok)

	// Push enough distinct entries to push the original fingerprint outside
	// the trailing dedupeWindow.
	for i := 0; i < dedupeWindow; i++ {
		s := newTradeSignal("filler")
		s.SignalID = "filler-" + decimal.NewFromInt(int64(i)).String()
		qty := decimal.NewFromInt(int64(i + 2))
		s.Execution.PositionSize = &qty
		ok, err := ob.Append(s)
		require.NoError(t, err)
		require.True(t, ok)
	}

	again, err := ob.Append(dup)
	require.NoError(t, err)
	assert.True(t, again, "once the original fingerprint ages out of the window, it may reappear")
}

func TestPopNextOnEmptyQueueReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	ob := New(path)
	require.NoError(t, ob.EnsureExists())

	s, err := ob.PopNext()
	require.NoError(t, err)
	assert.Nil(t, s)
}
