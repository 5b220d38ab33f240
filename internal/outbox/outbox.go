// Package outbox implements the durable, atomically-rewritten FIFO queue of
// signals (spec section 4.B). Writes always go to a sibling temp file in the
// same directory, are fsynced, and then renamed over the target, so a
// partial write is never observable.
package outbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"spotexec/internal/signal"
)

// dedupeWindow is the minimum trailing-entry count the soft-dedupe check
// scans, per spec 4.B ("the last N (≥50) entries").
const dedupeWindow = 50

type document struct {
	Signals []signal.Signal `json:"signals"`
}

// Outbox owns the queue file at Path.
type Outbox struct {
	Path string
}

// New returns an Outbox bound to path, without touching the filesystem.
// Call EnsureExists before first use.
func New(path string) *Outbox {
	return &Outbox{Path: path}
}

// EnsureExists creates the file with an empty array if missing, and heals
// corrupt content (on parse failure only) by overwriting with an empty
// array.
func (o *Outbox) EnsureExists() error {
	raw, err := os.ReadFile(o.Path)
	if os.IsNotExist(err) {
		return o.writeAtomic(document{Signals: []signal.Signal{}})
	}
	if err != nil {
		return fmt.Errorf("outbox: reading %s: %w", o.Path, err)
	}

	var doc document
	if jsonErr := json.Unmarshal(raw, &doc); jsonErr != nil {
		return o.writeAtomic(document{Signals: []signal.Signal{}})
	}
	return nil
}

func (o *Outbox) read() (document, error) {
	raw, err := os.ReadFile(o.Path)
	if os.IsNotExist(err) {
		return document{Signals: []signal.Signal{}}, nil
	}
	if err != nil {
		return document{}, fmt.Errorf("outbox: reading %s: %w", o.Path, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		// A corrupt file is healed on the next EnsureExists call, not
		// silently here — surfacing the error lets the caller decide.
		return document{}, fmt.Errorf("outbox: parsing %s: %w", o.Path, err)
	}
	return doc, nil
}

// writeAtomic implements the temp-file-then-rename contract: the sibling
// temp file lives in the same directory so the rename is same-filesystem
// and therefore atomic.
func (o *Outbox) writeAtomic(doc document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("outbox: marshaling: %w", err)
	}

	dir := filepath.Dir(o.Path)
	tmp, err := os.CreateTemp(dir, ".outbox-*.tmp")
	if err != nil {
		return fmt.Errorf("outbox: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("outbox: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("outbox: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("outbox: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, o.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("outbox: renaming into place: %w", err)
	}
	return nil
}

// Append validates sig, attaches its fingerprint, and appends it unless the
// trailing dedupeWindow entries already contain that fingerprint (soft
// dedupe, logged by the caller via the returned bool).
func (o *Outbox) Append(sig signal.Signal) (appended bool, err error) {
	if err := signal.Validate(&sig); err != nil {
		return false, fmt.Errorf("outbox: append: %w", err)
	}
	sig.Fingerprint = signal.Fingerprint(&sig)

	doc, err := o.read()
	if err != nil {
		return false, err
	}

	if recentlySeen(doc.Signals, sig.Fingerprint) {
		return false, nil
	}

	doc.Signals = append(doc.Signals, sig)
	if err := o.writeAtomic(doc); err != nil {
		return false, err
	}
	return true, nil
}

func recentlySeen(signals []signal.Signal, fingerprint string) bool {
	start := 0
	if len(signals) > dedupeWindow {
		start = len(signals) - dedupeWindow
	}
	for _, s := range signals[start:] {
		if s.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}

// PopNext returns the head of the queue and rewrites the file with the
// remainder, atomically. Returns (nil, nil) if the queue is empty.
func (o *Outbox) PopNext() (*signal.Signal, error) {
	doc, err := o.read()
	if err != nil {
		return nil, err
	}
	if len(doc.Signals) == 0 {
		return nil, nil
	}

	head := doc.Signals[0]
	remainder := document{Signals: doc.Signals[1:]}
	if err := o.writeAtomic(remainder); err != nil {
		return nil, err
	}
	return &head, nil
}

// Len reports the current queue depth, for diagnostics.
func (o *Outbox) Len() (int, error) {
	doc, err := o.read()
	if err != nil {
		return 0, err
	}
	return len(doc.Signals), nil
}
