package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config is the full session configuration, read once from the
// environment at startup and validated before anything runs. All tunables
// the execution model depends on (spread synthesis, slippage jitter,
// market impact, breaker thresholds) live here rather than as constants.
type Config struct {
	// Session
	Symbol          string          `envconfig:"SYMBOL" default:"BTCUSDT"`
	CandleInterval  time.Duration   `envconfig:"CANDLE_INTERVAL" default:"1m"`
	SessionDuration time.Duration   `envconfig:"SESSION_DURATION" default:"1h"`
	StartingEquity  decimal.Decimal `envconfig:"STARTING_EQUITY" default:"10000"`

	// Strategy defaults (SMA crossover)
	StrategyFastPeriod int             `envconfig:"STRATEGY_FAST_PERIOD" default:"9"`
	StrategySlowPeriod int             `envconfig:"STRATEGY_SLOW_PERIOD" default:"21"`
	OrderEquityPct     int             `envconfig:"ORDER_EQUITY_PCT" default:"10"`
	StopLossPct        decimal.Decimal `envconfig:"STOP_LOSS_PCT" default:"1.0"`
	TakeProfitPct      decimal.Decimal `envconfig:"TAKE_PROFIT_PCT" default:"2.0"`

	// Execution simulation
	FeeBps            decimal.Decimal `envconfig:"FEE_BPS" default:"4"`
	HalfSpreadBps     decimal.Decimal `envconfig:"HALF_SPREAD_BPS" default:"5"`
	SlippageBps       decimal.Decimal `envconfig:"SLIPPAGE_BPS" default:"3"`
	ImpactCoefficient decimal.Decimal `envconfig:"IMPACT_COEFFICIENT" default:"1"`
	LiquidityDepth    decimal.Decimal `envconfig:"LIQUIDITY_DEPTH" default:"5000000"`
	MinTradeInterval  time.Duration   `envconfig:"MIN_TRADE_INTERVAL" default:"30s"`
	SimLatencyMin     time.Duration   `envconfig:"SIM_LATENCY_MIN" default:"20ms"`
	SimLatencyMax     time.Duration   `envconfig:"SIM_LATENCY_MAX" default:"120ms"`

	// Trailing stop, in R-multiples of the entry-to-stop distance
	TrailActivateR decimal.Decimal `envconfig:"TRAIL_ACTIVATE_R" default:"1.0"`
	TrailDistanceR decimal.Decimal `envconfig:"TRAIL_DISTANCE_R" default:"1.0"`

	// Circuit breaker
	MaxDailyDrawdownPct  decimal.Decimal `envconfig:"MAX_DAILY_DRAWDOWN_PCT" default:"5"`
	MaxConsecutiveLosses int             `envconfig:"MAX_CONSECUTIVE_LOSSES" default:"5"`

	// Orchestration
	ExecQueueCapacity   int           `envconfig:"EXEC_QUEUE_CAPACITY" default:"50"`
	WatchdogInterval    time.Duration `envconfig:"WATCHDOG_INTERVAL" default:"50ms"`
	HeartbeatInterval   time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"1s"`
	StaleDataTimeout    time.Duration `envconfig:"STALE_DATA_TIMEOUT" default:"90s"`
	BackfillMinInterval time.Duration `envconfig:"BACKFILL_MIN_INTERVAL" default:"30s"`
	ErrorBudget         int64         `envconfig:"ERROR_BUDGET" default:"25"`
	ShutdownTimeout     time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`

	// Files
	StatePath       string        `envconfig:"STATE_PATH" default:"session_state.json"`
	HeartbeatPath   string        `envconfig:"HEARTBEAT_PATH" default:"heartbeat.json"`
	ReportPath      string        `envconfig:"REPORT_PATH" default:"final_report.json"`
	KillSwitchPath  string        `envconfig:"KILL_SWITCH_PATH" default:"killswitch"`
	WorkingOrderTTL time.Duration `envconfig:"WORKING_ORDER_TTL" default:"24h"`

	// Ops HTTP server
	OpsEnabled bool   `envconfig:"OPS_ENABLED" default:"true"`
	OpsPort    string `envconfig:"OPS_PORT" default:"8787"`

	// Market data
	WSBaseURL            string        `envconfig:"WS_BASE_URL" default:"wss://stream.binance.com:9443"`
	RESTBaseURL          string        `envconfig:"REST_BASE_URL" default:"https://api.binance.com"`
	MaxReconnectAttempts int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"8"`
	ReconnectBaseDelay   time.Duration `envconfig:"RECONNECT_BASE_DELAY" default:"1s"`
	ReconnectMaxDelay    time.Duration `envconfig:"RECONNECT_MAX_DELAY" default:"30s"`
}

// GetConfig reads the configuration from the environment.
func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Validate checks the configuration once at session start so nothing
// downstream has to re-check it.
func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol must be set")
	}
	if c.CandleInterval <= 0 {
		return fmt.Errorf("candle interval must be positive, got %s", c.CandleInterval)
	}
	if c.SessionDuration <= 0 {
		return fmt.Errorf("session duration must be positive, got %s", c.SessionDuration)
	}
	if c.StartingEquity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("starting equity must be positive, got %s", c.StartingEquity)
	}
	if c.OrderEquityPct < 1 || c.OrderEquityPct > 100 {
		return fmt.Errorf("order equity percent must be in [1,100], got %d", c.OrderEquityPct)
	}
	if c.StrategyFastPeriod <= 0 || c.StrategySlowPeriod <= c.StrategyFastPeriod {
		return fmt.Errorf("strategy periods must satisfy 0 < fast < slow, got fast=%d slow=%d",
			c.StrategyFastPeriod, c.StrategySlowPeriod)
	}
	if c.FeeBps.IsNegative() || c.HalfSpreadBps.IsNegative() || c.SlippageBps.IsNegative() {
		return fmt.Errorf("fee/spread/slippage bps must be non-negative")
	}
	if c.LiquidityDepth.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("liquidity depth must be positive, got %s", c.LiquidityDepth)
	}
	if c.SimLatencyMin < 0 || c.SimLatencyMax < c.SimLatencyMin {
		return fmt.Errorf("simulated latency range invalid: min=%s max=%s", c.SimLatencyMin, c.SimLatencyMax)
	}
	if c.MaxDailyDrawdownPct.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("max daily drawdown percent must be positive, got %s", c.MaxDailyDrawdownPct)
	}
	if c.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("max consecutive losses must be at least 1, got %d", c.MaxConsecutiveLosses)
	}
	if c.ExecQueueCapacity < 1 {
		return fmt.Errorf("execution queue capacity must be at least 1, got %d", c.ExecQueueCapacity)
	}
	if c.WatchdogInterval <= 0 || c.HeartbeatInterval <= 0 || c.StaleDataTimeout <= 0 {
		return fmt.Errorf("watchdog/heartbeat/stale intervals must be positive")
	}
	if c.ErrorBudget < 1 {
		return fmt.Errorf("error budget must be at least 1, got %d", c.ErrorBudget)
	}
	if c.StatePath == "" || c.HeartbeatPath == "" || c.ReportPath == "" || c.KillSwitchPath == "" {
		return fmt.Errorf("state/heartbeat/report/kill-switch paths must all be set")
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max reconnect attempts must be at least 1, got %d", c.MaxReconnectAttempts)
	}
	return nil
}
