// Package signal defines the wire shape of a trade intent consumed from the
// outbox, its validation rules, and its idempotency fingerprint.
package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Verdict is the decision-engine's classification of a signal.
type Verdict string

const (
	VerdictTrade Verdict = "TRADE"
	VerdictHold  Verdict = "HOLD"
	VerdictSell  Verdict = "SELL"
)

// EntryType names the requested entry order style. Only MARKET is valid on
// the wire; the signal carries no maker-limit entry style.
type EntryType string

const (
	EntryTypeMarket EntryType = "MARKET"
)

// Direction is the position side. Only LONG is supported by this spot
// execution control plane.
type Direction string

const (
	DirectionLong Direction = "LONG"
)

// Entry describes the requested entry order.
type Entry struct {
	Type  EntryType        `json:"type"`
	Price *decimal.Decimal `json:"price,omitempty"`
}

// Risk carries optional caller-suggested exit levels. The controller computes
// its own TP/SL geometry from configuration; these fields are informational.
type Risk struct {
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

// Execution is the trade-intent payload of a Signal.
type Execution struct {
	Symbol       string           `json:"symbol"`
	Direction    Direction        `json:"direction"`
	Entry        Entry            `json:"entry"`
	PositionSize *decimal.Decimal `json:"position_size,omitempty"`
	QuoteAmount  *decimal.Decimal `json:"quote_amount,omitempty"`
	Risk         Risk             `json:"risk"`
	// MaxSpreadPct is an optional per-signal spread ceiling (see SPEC_FULL
	// 4.G.3a); the controller applies the tighter of this and the
	// configured default.
	MaxSpreadPct *decimal.Decimal `json:"max_spread_pct,omitempty"`
}

// Signal is the transient unit of work popped from the outbox.
type Signal struct {
	SignalID        string    `json:"signal_id"`
	TimestampUTC    string    `json:"timestamp_utc"`
	FinalVerdict    Verdict   `json:"final_verdict"`
	CertifiedSignal bool      `json:"certified_signal"`
	Confidence      float64   `json:"confidence,omitempty"`
	Execution       Execution `json:"execution"`
	Fingerprint     string    `json:"_fingerprint,omitempty"`
}

// Validate enforces the schema and per-verdict required fields from spec 4.F.
func Validate(s *Signal) error {
	if s.SignalID == "" {
		return fmt.Errorf("signal: missing signal_id")
	}
	switch s.FinalVerdict {
	case VerdictTrade, VerdictHold, VerdictSell:
	default:
		return fmt.Errorf("signal: invalid verdict %q", s.FinalVerdict)
	}
	if !s.CertifiedSignal {
		return fmt.Errorf("signal: not certified")
	}
	if s.Execution.Symbol == "" {
		return fmt.Errorf("signal: missing execution.symbol")
	}
	if s.Execution.Direction != DirectionLong {
		return fmt.Errorf("signal: unsupported direction %q", s.Execution.Direction)
	}

	if s.FinalVerdict == VerdictTrade {
		if s.Execution.Entry.Type != EntryTypeMarket {
			return fmt.Errorf("signal: trade entry.type must be MARKET, got %q", s.Execution.Entry.Type)
		}
		hasSize := s.Execution.PositionSize != nil && s.Execution.PositionSize.IsPositive()
		hasQuote := s.Execution.QuoteAmount != nil && s.Execution.QuoteAmount.IsPositive()
		if !hasSize && !hasQuote {
			return fmt.Errorf("signal: trade requires position_size or quote_amount > 0")
		}
	}

	return nil
}

// fingerprintVersion is frozen per SPEC_FULL 9 (Open Questions): v1 must
// never be redefined; a future revision introduces v2 instead.
const fingerprintVersion = "v1"

// Fingerprint computes the stable content hash used for semantic-duplicate
// detection across retries. The signal_id/UUID deliberately does not enter
// the hash.
func Fingerprint(s *Signal) string {
	posSize := "none"
	if s.Execution.PositionSize != nil {
		posSize = s.Execution.PositionSize.String()
	}

	canonical := strings.Join([]string{
		fingerprintVersion,
		string(s.FinalVerdict),
		strings.ToUpper(s.Execution.Symbol),
		strings.ToUpper(string(s.Execution.Direction)),
		strings.ToUpper(string(s.Execution.Entry.Type)),
		posSize,
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
