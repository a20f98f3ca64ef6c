package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string   `yaml:"environment" default:"development" validate:"required"`
	Markets     []string `yaml:"markets" default:"[\"KRW-BTC\",\"KRW-ETH\",\"KRW-XRP\",\"KRW-SOL\"]" validate:"min=1,dive,required"`

	Log struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled     bool          `yaml:"enabled"`
			Topic       string        `yaml:"topic" default:"autotrader.logs"`
			Interval    time.Duration `yaml:"interval" default:"30s"`
			Threshold   int           `yaml:"threshold" default:"100"`
			IncludeWarn bool          `yaml:"include_warn"`
		} `yaml:"collector"`
	} `yaml:"log"`

	Server struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Schedule struct {
		Regular   time.Duration `yaml:"regular" default:"60s" validate:"gt=0"`
		Tick      time.Duration `yaml:"tick" default:"5s" validate:"gt=0"`
		Emergency time.Duration `yaml:"emergency" default:"10s" validate:"gt=0"`
	} `yaml:"schedule"`

	Trading TradingConfig `yaml:"trading"`

	Filter struct {
		HighConfidence float64       `yaml:"high_confidence" default:"0.80" validate:"gt=0,lte=1"`
		TTL            time.Duration `yaml:"ttl" default:"24h" validate:"gt=0"`
	} `yaml:"filter"`

	Emergency EmergencyConfig `yaml:"emergency"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Engines   EnginesConfig   `yaml:"engines"`

	Verification VerificationConfig `yaml:"verification"`

	Risk RiskConfig `yaml:"risk"`

	Reconcile struct {
		OnStartup bool    `yaml:"on_startup" default:"true"`
		MinValue  float64 `yaml:"min_value" default:"5000" validate:"gte=0"`
	} `yaml:"reconcile"`

	Store struct {
		Backend string `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
		Redis   struct {
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size" default:"10"`
			Prefix   string `yaml:"prefix" default:"autotrader"`
		} `yaml:"redis"`
	} `yaml:"store"`

	Exchange struct {
		Mode   string `yaml:"mode" default:"paper" validate:"oneof=paper bridge"`
		Bridge struct {
			URL     string        `yaml:"url" default:"http://127.0.0.1:8700"`
			Timeout time.Duration `yaml:"timeout" default:"5s"`
			APIKey  string        `yaml:"api_key"`
		} `yaml:"bridge"`
		Paper struct {
			FeeRate      float64 `yaml:"fee_rate" default:"0.0005" validate:"gte=0,lt=0.1"`
			InitialQuote float64 `yaml:"initial_quote" default:"1000000" validate:"gte=0"`
		} `yaml:"paper"`
	} `yaml:"exchange"`

	MarketData struct {
		Candles      string        `yaml:"candles" default:"exchange" validate:"oneof=exchange clickhouse"`
		Ticks        string        `yaml:"ticks" default:"none" validate:"oneof=none websocket kafka"`
		MaxStaleness time.Duration `yaml:"max_staleness" default:"2m"`
	} `yaml:"market_data"`

	WebSocket struct {
		URL            string        `yaml:"url" default:"wss://api.upbit.com/websocket/v1"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"websocket"`

	Kafka struct {
		Brokers     []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		AuditTopic  string   `yaml:"audit_topic" default:"autotrader.audit"`
		TicksTopic  string   `yaml:"ticks_topic" default:"market.ticks"`
		Compression string   `yaml:"compression" default:"snappy"`
		Producer    struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"autotrader"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"1024"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"autotrader"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		AsyncInsert  bool          `yaml:"async_insert" default:"true"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
		CandleTable  string        `yaml:"candle_table" default:"candles"`
		AuditTable   string        `yaml:"audit_table" default:"audit_events"`
		InitSchema   bool          `yaml:"init_schema" default:"true"`
	} `yaml:"clickhouse"`

	Audit struct {
		ClickHouse bool `yaml:"clickhouse"`
		Kafka      bool `yaml:"kafka"`
	} `yaml:"audit"`

	Journal struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"data/journal.db"`
	} `yaml:"journal"`

	Telegram struct {
		Enabled    bool          `yaml:"enabled"`
		BotToken   string        `yaml:"bot_token"`
		ChatID     string        `yaml:"chat_id"`
		MaxRetries int           `yaml:"max_retries" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"1s"`
	} `yaml:"telegram"`
}

type TradingConfig struct {
	// TradeAmount is the quote-currency size of every entry.
	TradeAmount      float64       `yaml:"trade_amount" default:"10000" validate:"gt=0"`
	MaxOpenPositions int           `yaml:"max_open_positions" default:"3" validate:"gte=1"`
	LockWait         time.Duration `yaml:"lock_wait" default:"5s" validate:"gt=0"`
	LockTTL          time.Duration `yaml:"lock_ttl" default:"60s" validate:"gt=0"`
	OrderTimeout     time.Duration `yaml:"order_timeout" default:"10s" validate:"gt=0"`
	OrderRetries     int           `yaml:"order_retries" default:"2" validate:"gte=0,lte=5"`
	OrderTTL         time.Duration `yaml:"order_ttl" default:"48h"`
}

type EmergencyConfig struct {
	Enabled          bool          `yaml:"enabled" default:"true"`
	Crash1m          float64       `yaml:"crash_1m" default:"0.025" validate:"gt=0"`
	Crash3m          float64       `yaml:"crash_3m" default:"0.04" validate:"gt=0"`
	Crash5m          float64       `yaml:"crash_5m" default:"0.06" validate:"gt=0"`
	VolatilitySpike  float64       `yaml:"volatility_spike" default:"2.0" validate:"gt=0"`
	Surge1m          float64       `yaml:"surge_1m" default:"0.03" validate:"gt=0"`
	Surge3m          float64       `yaml:"surge_3m" default:"0.05" validate:"gt=0"`
	VolumeSpike      float64       `yaml:"volume_spike" default:"3.0" validate:"gt=0"`
	MinBuyConfidence float64       `yaml:"min_buy_confidence" default:"0.70" validate:"gte=0,lte=1"`
	Cooldown         time.Duration `yaml:"cooldown" default:"5m" validate:"gt=0"`
	Lookback         int           `yaml:"lookback" default:"20" validate:"gte=6"`
}

type FusionConfig struct {
	AgreementBoost      float64 `yaml:"agreement_boost" default:"1.2" validate:"gt=0"`
	MaxConfidence       float64 `yaml:"max_confidence" default:"0.95" validate:"gt=0,lte=1"`
	DisagreementPenalty float64 `yaml:"disagreement_penalty" default:"0.6" validate:"gt=0,lte=1"`
	TieEpsilon          float64 `yaml:"tie_epsilon" default:"0.05" validate:"gte=0"`
}

type EngineConfig struct {
	Enabled bool    `yaml:"enabled" default:"true"`
	Weight  float64 `yaml:"weight" validate:"gte=0"`
}

type EnginesConfig struct {
	Technical      EngineConfig `yaml:"technical"`
	MultiTimeframe EngineConfig `yaml:"multi_timeframe"`
	Model          struct {
		EngineConfig `yaml:",inline"`
		URL          string        `yaml:"url" default:"http://127.0.0.1:8600"`
		Timeout      time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"model"`
}

type VerifierConfig struct {
	Name          string  `yaml:"name" validate:"required"`
	Style         string  `yaml:"style" default:"openai" validate:"oneof=openai ollama"`
	URL           string  `yaml:"url" validate:"required,url"`
	Model         string  `yaml:"model" validate:"required"`
	APIKey        string  `yaml:"api_key"`
	RatePerMinute float64 `yaml:"rate_per_minute" default:"30" validate:"gt=0"`
}

type VerificationConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Required  int              `yaml:"required" default:"1" validate:"oneof=1 2"`
	Timeout   time.Duration    `yaml:"timeout" default:"5s" validate:"gt=0"`
	Retries   int              `yaml:"retries" default:"2" validate:"gte=0,lte=5"`
	Verifiers []VerifierConfig `yaml:"verifiers" validate:"dive"`
}

type RiskConfig struct {
	HardStop           float64       `yaml:"hard_stop" default:"0.04" validate:"gt=0"`
	ImmediateCut       float64       `yaml:"immediate_cut" default:"0.03" validate:"gt=0"`
	TightenFrom        float64       `yaml:"tighten_from" default:"0.015" validate:"gt=0"`
	TightenGap         float64       `yaml:"tighten_gap" default:"0.01" validate:"gt=0"`
	TrailingActivation float64       `yaml:"trailing_activation" default:"0.02" validate:"gt=0"`
	TrailingGap        float64       `yaml:"trailing_gap" default:"0.02" validate:"gt=0"`
	BreakevenBuffer    float64       `yaml:"breakeven_buffer" default:"0.002" validate:"gte=0"`
	InitialStopLoss    float64       `yaml:"initial_stop_loss" default:"0.02" validate:"gt=0"`
	TakeProfit         float64       `yaml:"take_profit" default:"0.10" validate:"gte=0"`
	MaxHold            time.Duration `yaml:"max_hold" default:"30m"`
}

var validate = validator.New()

// Default returns a fully defaulted configuration.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	c.applyEngineWeights()
	return &c, nil
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes raw YAML over the defaults.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// list elements are not reached by the first pass
	for i := range c.Verification.Verifiers {
		if err := defaults.Set(&c.Verification.Verifiers[i]); err != nil {
			return nil, fmt.Errorf("set verifier defaults: %w", err)
		}
	}
	c.applyEngineWeights()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("AUTOTRADER_MARKETS"); v != "" {
		c.Markets = splitList(v)
	}
	if v := getenv("AUTOTRADER_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("EXCHANGE_MODE"); v != "" {
		c.Exchange.Mode = v
	}
	if v := getenv("EXCHANGE_BRIDGE_URL"); v != "" {
		c.Exchange.Bridge.URL = v
	}
	if v := getenv("EXCHANGE_API_KEY"); v != "" {
		c.Exchange.Bridge.APIKey = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Store.Redis.Host = host
		if p, err := strconv.Atoi(port); ok && err == nil {
			c.Store.Redis.Port = p
		}
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := getenv("VERIFIER_API_KEY"); v != "" {
		for i := range c.Verification.Verifiers {
			if c.Verification.Verifiers[i].APIKey == "" {
				c.Verification.Verifiers[i].APIKey = v
			}
		}
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	r := c.Risk
	if r.HardStop <= r.ImmediateCut {
		return fmt.Errorf("risk.hard_stop (%.4f) must be deeper than risk.immediate_cut (%.4f)", r.HardStop, r.ImmediateCut)
	}
	if r.ImmediateCut <= r.TightenFrom {
		return fmt.Errorf("risk.immediate_cut (%.4f) must be deeper than risk.tighten_from (%.4f)", r.ImmediateCut, r.TightenFrom)
	}
	// A locked pass may spend a pending lookup, every submit attempt and a
	// reconciliation read, each bounded by order_timeout.
	tr := c.Trading
	if bound := tr.OrderTimeout * time.Duration(tr.OrderRetries+3); tr.LockTTL <= bound {
		return fmt.Errorf("trading.lock_ttl (%s) must exceed order_timeout x (order_retries+3) = %s", tr.LockTTL, bound)
	}
	if c.Verification.Enabled && len(c.Verification.Verifiers) < c.Verification.Required {
		return fmt.Errorf("verification.required=%d but only %d verifiers configured",
			c.Verification.Required, len(c.Verification.Verifiers))
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required when telegram is enabled")
	}
	if (c.Audit.Kafka || c.MarketData.Ticks == "kafka" || c.Log.Collector.Enabled) && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	return nil
}

// applyEngineWeights fills unset weights with 0.3/0.3/0.4.
func (c *Config) applyEngineWeights() {
	if c.Engines.Technical.Weight == 0 {
		c.Engines.Technical.Weight = 0.3
	}
	if c.Engines.MultiTimeframe.Weight == 0 {
		c.Engines.MultiTimeframe.Weight = 0.3
	}
	if c.Engines.Model.Weight == 0 {
		c.Engines.Model.Weight = 0.4
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
