package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/domain/strategy"
)

// Modos de ejecución del binario.
const (
	ModeLive     = "live"
	ModeBacktest = "backtest"
	ModeRecord   = "record"
	ModeDownload = "download"
)

// Config es la configuración completa del hedger.
type Config struct {
	Mode     string         `yaml:"mode"`
	Strategy StrategyConfig `yaml:"strategy"`
	Session  SessionConfig  `yaml:"session"`
	Feed     FeedConfig     `yaml:"feed"`
	API      APIConfig      `yaml:"api"`
	Trading  TradingConfig  `yaml:"trading"`
	Backtest BacktestConfig `yaml:"backtest"`
	Record   RecordConfig   `yaml:"record"`
	Download DownloadConfig `yaml:"download"`
	Storage  StorageConfig  `yaml:"storage"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// StrategyConfig elige un preset y permite sobreescribir umbrales sueltos.
// Un campo nil deja el valor del preset.
type StrategyConfig struct {
	Preset           string   `yaml:"preset"`
	TargetPairCost   *float64 `yaml:"target_pair_cost"`
	MaxOrderFraction *float64 `yaml:"max_order_fraction"`
	MinOrderValue    *float64 `yaml:"min_order_value"`
	EntryThreshold   *float64 `yaml:"entry_threshold"`
	EntryFloor       *float64 `yaml:"entry_floor"`
	MinEntryProgress *float64 `yaml:"min_entry_progress"`
	SafetyEnabled    *bool    `yaml:"safety_enabled"`
	SafetyProgress   *float64 `yaml:"safety_progress"`
	SafetyTrendBias  *float64 `yaml:"safety_trend_bias"`
	PriceSource      string   `yaml:"price_source"` // mid | ask
}

// SessionConfig describe las ventanas de trading.
type SessionConfig struct {
	SlugPrefix     string        `yaml:"slug_prefix"`
	Length         time.Duration `yaml:"length"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	DiscoveryRetry time.Duration `yaml:"discovery_retry"`
	StopFile       string        `yaml:"stop_file"` // si existe, el runner para en el siguiente tick
}

// FeedConfig elige el transporte de quotes.
type FeedConfig struct {
	Kind         string        `yaml:"kind"` // ws | poll
	WSURL        string        `yaml:"ws_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
}

// TradingConfig controla la ejecución real. Por defecto todo es simulado.
type TradingConfig struct {
	DryRun         *bool   `yaml:"dry_run"`
	PrivateKey     string  `yaml:"-"` // solo por env: POLY_PRIVATE_KEY
	OrderType      string  `yaml:"order_type"`
	InitialCapital float64 `yaml:"initial_capital"`

	// MergeOnLock convierte on-chain los pares de cada sesión bloqueada en USDC.e.
	MergeOnLock bool   `yaml:"merge_on_lock"`
	RPCURL      string `yaml:"rpc_url"`
}

// Simulated indica si las órdenes se llenan localmente sin tocar el CLOB.
func (t TradingConfig) Simulated() bool {
	return t.DryRun == nil || *t.DryRun
}

// BacktestConfig controla el replay de CSVs.
type BacktestConfig struct {
	DataDir        string  `yaml:"data_dir"`
	MinRows        int     `yaml:"min_rows"`
	InitialCapital float64 `yaml:"initial_capital"`
	TradeLogDir    string  `yaml:"trade_log_dir"`
}

// RecordConfig controla la grabación de mids en vivo.
type RecordConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Grace    time.Duration `yaml:"grace"`
}

// DownloadConfig controla la descarga de históricos de Gamma/CLOB.
type DownloadConfig struct {
	Dir            string `yaml:"dir"`
	TagID          int    `yaml:"tag_id"`
	MaxPages       int    `yaml:"max_pages"`
	QuestionFilter string `yaml:"question_filter"`
	MinRows        int    `yaml:"min_rows"`
	MaxMarkets     int    `yaml:"max_markets"`
	Workers        int    `yaml:"workers"`
	Interval       string `yaml:"interval"`
	Fidelity       int    `yaml:"fidelity"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, ":memory:", o vacío para desactivar
}

// AuditConfig controla el fan-out de trades a Redis.
type AuditConfig struct {
	RedisURL string `yaml:"redis_url"` // vacío = sin Redis
	Prefix   string `yaml:"prefix"`
	Buffer   int    `yaml:"buffer"`
}

// MetricsConfig controla el servidor de estado (/health, /metrics, /api/v1).
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = sin servidor
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodifica YAML, aplica env y defaults. No valida.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLY_PRIVATE_KEY"); v != "" {
		cfg.Trading.PrivateKey = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Audit.RedisURL = v
	}
	if v := os.Getenv("HEDGER_MODE"); v != "" {
		cfg.Mode = v
	}
}

// setDefaults rellena los campos sin valor. Los negativos se dejan para que
// Validate los rechace.
func setDefaults(cfg *Config) {
	cfg.Mode = strings.ToLower(cfg.Mode)
	if cfg.Mode == "" {
		cfg.Mode = ModeLive
	}
	if cfg.Strategy.Preset == "" {
		cfg.Strategy.Preset = "default"
	}
	if cfg.Session.SlugPrefix == "" {
		cfg.Session.SlugPrefix = "btc-updown-15m"
	}
	if cfg.Session.Length == 0 {
		cfg.Session.Length = 15 * time.Minute
	}
	if cfg.Session.TickInterval == 0 {
		cfg.Session.TickInterval = 500 * time.Millisecond
	}
	if cfg.Session.DiscoveryRetry <= 0 {
		cfg.Session.DiscoveryRetry = 5 * time.Second
	}
	if cfg.Feed.Kind == "" {
		cfg.Feed.Kind = "ws"
	}
	if cfg.Feed.PollInterval <= 0 {
		cfg.Feed.PollInterval = 500 * time.Millisecond
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.Trading.InitialCapital == 0 {
		cfg.Trading.InitialCapital = 1000
	}
	if cfg.Trading.RPCURL == "" {
		cfg.Trading.RPCURL = "https://polygon-rpc.com"
	}
	if cfg.Backtest.DataDir == "" {
		cfg.Backtest.DataDir = "data"
	}
	if cfg.Backtest.MinRows <= 0 {
		cfg.Backtest.MinRows = 50
	}
	if cfg.Backtest.InitialCapital == 0 {
		cfg.Backtest.InitialCapital = 1000
	}
	if cfg.Record.Dir == "" {
		cfg.Record.Dir = "data"
	}
	if cfg.Record.Interval <= 0 {
		cfg.Record.Interval = 500 * time.Millisecond
	}
	if cfg.Record.Grace <= 0 {
		cfg.Record.Grace = 60 * time.Second
	}
	if cfg.Download.Dir == "" {
		cfg.Download.Dir = "data"
	}
	if cfg.Audit.Prefix == "" {
		cfg.Audit.Prefix = "hedger"
	}
	if cfg.Audit.Buffer <= 0 {
		cfg.Audit.Buffer = 1024
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate devuelve *domain.ConfigurationError con el primer campo inválido.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModeBacktest, ModeRecord, ModeDownload:
	default:
		return &domain.ConfigurationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q (live|backtest|record|download)", c.Mode)}
	}
	switch c.Feed.Kind {
	case "ws", "poll":
	default:
		return &domain.ConfigurationError{Field: "feed.kind", Reason: fmt.Sprintf("unknown feed %q (ws|poll)", c.Feed.Kind)}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigurationError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	if c.Session.Length < 0 {
		return &domain.ConfigurationError{Field: "session.length", Reason: "must be positive"}
	}
	if c.Session.TickInterval < 0 {
		return &domain.ConfigurationError{Field: "session.tick_interval", Reason: "must be positive"}
	}
	if c.Trading.InitialCapital < 0 {
		return &domain.ConfigurationError{Field: "trading.initial_capital", Reason: fmt.Sprintf("must be positive, got %.2f", c.Trading.InitialCapital)}
	}
	if c.Backtest.InitialCapital < 0 {
		return &domain.ConfigurationError{Field: "backtest.initial_capital", Reason: fmt.Sprintf("must be positive, got %.2f", c.Backtest.InitialCapital)}
	}
	if c.Session.TickInterval >= c.Session.Length {
		return &domain.ConfigurationError{Field: "session.tick_interval", Reason: "must be shorter than session.length"}
	}
	if c.Mode == ModeLive && !c.Trading.Simulated() && c.Trading.PrivateKey == "" {
		return &domain.ConfigurationError{Field: "trading.private_key", Reason: "POLY_PRIVATE_KEY is required when dry_run is false"}
	}
	if c.Trading.MergeOnLock && c.Trading.Simulated() {
		return &domain.ConfigurationError{Field: "trading.merge_on_lock", Reason: "requires dry_run: false"}
	}
	if _, err := c.StrategyParams(); err != nil {
		return err
	}
	return nil
}

// StrategyParams resuelve el preset y aplica los overrides.
func (c *Config) StrategyParams() (strategy.Params, error) {
	p, err := strategy.Preset(c.Strategy.Preset)
	if err != nil {
		return strategy.Params{}, err
	}
	s := c.Strategy
	setFloat(&p.TargetPairCost, s.TargetPairCost)
	setFloat(&p.MaxOrderFraction, s.MaxOrderFraction)
	setFloat(&p.MinOrderValue, s.MinOrderValue)
	setFloat(&p.EntryThreshold, s.EntryThreshold)
	setFloat(&p.EntryFloor, s.EntryFloor)
	setFloat(&p.MinEntryProgress, s.MinEntryProgress)
	setFloat(&p.SafetyProgress, s.SafetyProgress)
	setFloat(&p.SafetyTrendBias, s.SafetyTrendBias)
	if s.SafetyEnabled != nil {
		p.SafetyEnabled = *s.SafetyEnabled
	}
	if s.PriceSource != "" {
		p.PriceSource = domain.PriceSource(strings.ToLower(s.PriceSource))
	}
	if err := p.Validate(); err != nil {
		return strategy.Params{}, err
	}
	return p, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
