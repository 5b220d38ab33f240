// Package config loads the execution control plane's configuration from
// environment variables (the spec's primary surface, SPEC_FULL section 6),
// with an optional YAML overlay for static operational settings such as the
// symbol whitelist and bracket geometry defaults. Environment variables
// always win over the YAML overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Mode selects how the Exchange Adapter talks (or refuses to talk) to the network.
type Mode string

const (
	ModeDemo    Mode = "DEMO"
	ModeTestnet Mode = "TESTNET"
	ModeLive    Mode = "LIVE"
)

// EntryMode is the parsed ENTRY_MODE setting (SPEC_FULL 4.D, supplemented
// feature). The Execution Controller does not read it: every entry is placed
// as a market buy by quote, and no maker-limit path exists.
type EntryMode string

const (
	EntryModeMarket     EntryMode = "MARKET"
	EntryModeMakerLimit EntryMode = "MAKER_LIMIT"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Mode              Mode
	KillSwitch        bool
	LiveConfirmation  bool
	DBPath            string
	SignalOutboxPath  string
	SymbolWhitelist   []string
	MaxQuotePerTrade  decimal.Decimal
	TPPct             decimal.Decimal
	SLPct             decimal.Decimal
	SLLimitGapPct     decimal.Decimal
	SellBuffer        decimal.Decimal
	SellRetryBuffer   decimal.Decimal
	FeeRoundtripPct   decimal.Decimal
	SlippagePct       decimal.Decimal
	MinNetProfitPct   decimal.Decimal
	MaxSpreadPct      decimal.Decimal
	EntryMode         EntryMode
	MakerLimitTimeout int
	LoopSleepSeconds  float64

	APIKey        string
	APISecret     string
	RESTBaseURL   string
	TestnetBase   string

	LogLevel  string
	LogFormat string

	// YAMLOverlayPath, if set, is read for static settings that env vars
	// did not already supply (symbol whitelist, bracket geometry). Env
	// vars always win; this is a fallback, not an override.
	YAMLOverlayPath string
}

// yamlOverlay mirrors the subset of Config that may be supplied via the
// optional static file, following the teacher's env-expansion-over-YAML idiom.
type yamlOverlay struct {
	SymbolWhitelist []string `yaml:"symbol_whitelist"`
	TPPct           *float64 `yaml:"tp_pct"`
	SLPct           *float64 `yaml:"sl_pct"`
	SLLimitGapPct   *float64 `yaml:"sl_limit_gap_pct"`
}

// Load reads Config from the environment, then fills any still-unset static
// fields from the optional YAML overlay at path (if non-empty and present).
func Load(path string) (*Config, error) {
	cfg := &Config{
		Mode:              Mode(getEnvUpper("MODE", "DEMO")),
		KillSwitch:        getEnvBool("KILL_SWITCH", true),
		LiveConfirmation:  getEnvBool("LIVE_CONFIRMATION", false),
		DBPath:            getEnv("DB_PATH", "./execution.db"),
		SignalOutboxPath:  getEnv("SIGNAL_OUTBOX_PATH", "./signals_outbox.json"),
		SymbolWhitelist:   splitCSV(getEnv("SYMBOL_WHITELIST", "")),
		MaxQuotePerTrade:  getEnvDecimal("MAX_QUOTE_PER_TRADE", decimal.NewFromInt(15)),
		TPPct:             getEnvDecimal("TP_PCT", decimal.NewFromFloat(1.3)),
		SLPct:             getEnvDecimal("SL_PCT", decimal.NewFromFloat(0.7)),
		SLLimitGapPct:     getEnvDecimal("SL_LIMIT_GAP_PCT", decimal.NewFromFloat(0.15)),
		SellBuffer:        getEnvDecimal("SELL_BUFFER", decimal.NewFromFloat(0.995)),
		SellRetryBuffer:   getEnvDecimal("SELL_RETRY_BUFFER", decimal.NewFromFloat(0.98)),
		FeeRoundtripPct:   getEnvDecimal("ESTIMATED_ROUNDTRIP_FEE_PCT", decimal.NewFromFloat(0.2)),
		SlippagePct:       getEnvDecimal("ESTIMATED_SLIPPAGE_PCT", decimal.NewFromFloat(0.05)),
		MinNetProfitPct:   getEnvDecimal("MIN_NET_PROFIT_PCT", decimal.NewFromFloat(0.3)),
		MaxSpreadPct:      getEnvDecimal("MAX_SPREAD_PCT", decimal.Zero),
		EntryMode:         EntryMode(getEnvUpper("ENTRY_MODE", "MARKET")),
		MakerLimitTimeout: int(getEnvInt("MAKER_LIMIT_TIMEOUT_SECONDS", 5)),
		LoopSleepSeconds:  getEnvFloat("LOOP_SLEEP_SECONDS", 10),
		APIKey:            getEnv("BINANCE_API_KEY", ""),
		APISecret:         getEnv("BINANCE_API_SECRET", ""),
		RESTBaseURL:       getEnv("BINANCE_REST_BASE_URL", "https://api.binance.com"),
		TestnetBase:       getEnv("BINANCE_TESTNET_BASE_URL", "https://testnet.binance.vision"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "console"),
		YAMLOverlayPath:   path,
	}

	if path != "" {
		if err := applyYAMLOverlay(cfg, path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func applyYAMLOverlay(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading overlay %s: %w", path, err)
	}

	expanded := os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	})

	var overlay yamlOverlay
	if err := yaml.Unmarshal([]byte(expanded), &overlay); err != nil {
		return fmt.Errorf("config: parsing overlay %s: %w", path, err)
	}

	if len(cfg.SymbolWhitelist) == 0 && len(overlay.SymbolWhitelist) > 0 {
		cfg.SymbolWhitelist = overlay.SymbolWhitelist
	}
	if os.Getenv("TP_PCT") == "" && overlay.TPPct != nil {
		cfg.TPPct = decimal.NewFromFloat(*overlay.TPPct)
	}
	if os.Getenv("SL_PCT") == "" && overlay.SLPct != nil {
		cfg.SLPct = decimal.NewFromFloat(*overlay.SLPct)
	}
	if os.Getenv("SL_LIMIT_GAP_PCT") == "" && overlay.SLLimitGapPct != nil {
		cfg.SLLimitGapPct = decimal.NewFromFloat(*overlay.SLLimitGapPct)
	}

	return nil
}

// ValidationError accumulates every configuration problem found, rather than
// failing on the first, matching the teacher's config-validation idiom.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %d problem(s): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// Validate checks the resolved configuration for internal consistency and
// fatal configuration-kind errors (spec section 7): missing credentials in
// LIVE/TESTNET, unparsable paths, nonsensical geometry.
func (c *Config) Validate() error {
	var problems []string

	switch c.Mode {
	case ModeDemo, ModeTestnet, ModeLive:
	default:
		problems = append(problems, fmt.Sprintf("MODE must be DEMO, TESTNET, or LIVE, got %q", c.Mode))
	}

	if c.Mode == ModeLive || c.Mode == ModeTestnet {
		if c.APIKey == "" || c.APISecret == "" {
			problems = append(problems, "BINANCE_API_KEY and BINANCE_API_SECRET are required in LIVE/TESTNET mode")
		}
	}

	if c.DBPath == "" {
		problems = append(problems, "DB_PATH must not be empty")
	}
	if c.SignalOutboxPath == "" {
		problems = append(problems, "SIGNAL_OUTBOX_PATH must not be empty")
	}

	if c.TPPct.Sign() <= 0 {
		problems = append(problems, "TP_PCT must be positive")
	}
	if c.SLPct.Sign() <= 0 {
		problems = append(problems, "SL_PCT must be positive")
	}
	if c.SellBuffer.Sign() <= 0 || c.SellBuffer.Cmp(decimal.NewFromInt(1)) > 0 {
		problems = append(problems, "SELL_BUFFER must be in (0,1]")
	}
	if c.SellRetryBuffer.Sign() <= 0 || c.SellRetryBuffer.Cmp(decimal.NewFromInt(1)) > 0 {
		problems = append(problems, "SELL_RETRY_BUFFER must be in (0,1]")
	}
	if c.LoopSleepSeconds <= 0 {
		problems = append(problems, "LOOP_SLEEP_SECONDS must be positive")
	}

	switch c.EntryMode {
	case EntryModeMarket, EntryModeMakerLimit:
	default:
		problems = append(problems, fmt.Sprintf("ENTRY_MODE must be MARKET or MAKER_LIMIT, got %q", c.EntryMode))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// IsWhitelisted reports whether symbol (case-insensitive) is in the
// configured whitelist. An empty whitelist permits nothing — an explicit
// opt-in list is required to trade.
func (c *Config) IsWhitelisted(symbol string) bool {
	up := strings.ToUpper(symbol)
	for _, s := range c.SymbolWhitelist {
		if strings.ToUpper(s) == up {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvUpper(key, def string) string {
	return strings.ToUpper(getEnv(key, def))
}

func getEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvInt(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
