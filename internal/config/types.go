package config

// Config is the engine's main configuration carrier.
type Config struct {
	App      AppConfig      `toml:"app"`
	Session  SessionConfig  `toml:"session"`
	Bars     BarsConfig     `toml:"bars"`
	Strategy StrategyConfig `toml:"strategy"`
	Risk     RiskConfig     `toml:"risk"`
	Orders   OrdersConfig   `toml:"orders"`
	Broker   BrokerConfig   `toml:"broker"`
	Store    StoreConfig    `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// SessionConfig describes the trading session in exchange-local (IST) time.
type SessionConfig struct {
	EntryWindowStart string `toml:"entry_window_start"`
	EntryWindowEnd   string `toml:"entry_window_end"`
	EODExitTime      string `toml:"eod_exit_time"`
	MarketCloseTime  string `toml:"market_close_time"`
	HolidayFile      string `toml:"holiday_file"`
}

type BarsConfig struct {
	GraceSec            int `toml:"grace_sec"`
	DataGapThresholdSec int `toml:"data_gap_threshold_sec"`
	RecoveryTimeoutSec  int `toml:"recovery_timeout_sec"`
}

type StrategyConfig struct {
	Underlying         string  `toml:"underlying"`
	SpotSymbol         string  `toml:"spot_symbol"`
	DailyADXPeriod     int     `toml:"daily_adx_period"`
	DailyADXThreshold  float64 `toml:"daily_adx_threshold"`
	HourlyADXPeriod    int     `toml:"hourly_adx_period"`
	HourlyADXThreshold float64 `toml:"hourly_adx_threshold"`
	RSIPeriod          int     `toml:"rsi_period"`
	RSIOversold        float64 `toml:"rsi_oversold"`
	RSIOverbought      float64 `toml:"rsi_overbought"`
	EMAPeriod          int     `toml:"ema_period"`
	VolumeAvgPeriod    int     `toml:"volume_avg_period"`
	VolumeEntryRatio   float64 `toml:"volume_entry_ratio"`
	SpreadCeilingPct   float64 `toml:"spread_ceiling_pct"`
	StrikeIncrement    int     `toml:"strike_increment"`
}

// RiskConfig holds risk limits and sizing inputs. The fields tagged
// hot-reloadable may change at runtime through the config watcher; everything
// else is fixed for the process lifetime.
type RiskConfig struct {
	StopLossPct          float64 `toml:"stop_loss_pct"`
	TrailActivatePct     float64 `toml:"trail_activate_pct"` // hot-reloadable
	TrailGapPct          float64 `toml:"trail_gap_pct"`      // hot-reloadable
	TargetPct            float64 `toml:"target_pct"`         // hot-reloadable, 0 disables
	MaxPositions         int     `toml:"max_positions"`
	DailyLossLimitPct    float64 `toml:"daily_loss_limit_pct"`
	ConsecutiveLossLimit int     `toml:"consecutive_loss_limit"`
	BasePositionSizePct  float64 `toml:"base_position_size_pct"`
	MaxQuantity          int     `toml:"max_quantity"`
	PriceBandPct         float64 `toml:"price_band_pct"`
	MarginUsageLimitPct  float64 `toml:"margin_usage_limit_pct"`
	VIX                  VIX     `toml:"vix"`
}

// VIX thresholds for the circuit breaker and sizing multipliers.
type VIX struct {
	EntryCeiling     float64 `toml:"entry_ceiling"`
	SpikeAbsolute    float64 `toml:"spike_absolute"`
	SpikeDelta       float64 `toml:"spike_delta"`
	SpikeWindowMin   int     `toml:"spike_window_min"`
	ResumeThreshold  float64 `toml:"resume_threshold"`
	ResumeWindowMin  int     `toml:"resume_window_min"`
	MultAt12OrBelow  float64 `toml:"mult_at_12_or_below"`
	MultAt20         float64 `toml:"mult_at_20"`
	MultAt30         float64 `toml:"mult_at_30"`
	MultAt30OrAbove  float64 `toml:"mult_at_30_or_above"`
}

type OrdersConfig struct {
	RetryStepsPct      []float64 `toml:"retry_steps_pct"`
	RetryBackoffsSec   []int     `toml:"retry_backoffs_sec"`
	MaxAttempts        int       `toml:"max_attempts"`
	RetryCapSec        int       `toml:"retry_cap_sec"`
	FillTimeoutSec     int       `toml:"fill_timeout_sec"`
	FillPollIntervalMS int       `toml:"fill_poll_interval_ms"`
	FlattenDeadlineSec int       `toml:"flatten_deadline_sec"`
}

type BrokerConfig struct {
	Mode            string  `toml:"mode"` // "paper" | "live"
	OrdersPerSecond int     `toml:"orders_per_second"`
	QuotesPerSecond int     `toml:"quotes_per_second"`
	TokenCheckSec   int     `toml:"token_check_sec"`
	FreezeQtyNifty  int     `toml:"freeze_qty_nifty"`
	FreezeQtyBank   int     `toml:"freeze_qty_banknifty"`
	LotSizeNifty    int     `toml:"lot_size_nifty"`
	LotSizeBank     int     `toml:"lot_size_banknifty"`
	TickSize        float64 `toml:"tick_size"`

	// Paper-mode inputs. ReplayLoop restarts the capture when it runs out,
	// for soak runs against a finite file.
	ReplayFile      string  `toml:"replay_file"`
	ReplaySpeed     float64 `toml:"replay_speed"`
	ReplayLoop      bool    `toml:"replay_loop"`
	StartingBalance float64 `toml:"starting_balance"`

	// Optional exchange scrip-master dump for contract resolution.
	ScripMasterFile string `toml:"scrip_master_file"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// LotSize returns the contract lot size for an underlying.
func (b BrokerConfig) LotSize(underlying string) int {
	switch underlying {
	case "BANKNIFTY":
		return b.LotSizeBank
	default:
		return b.LotSizeNifty
	}
}

// FreezeQuantity returns the broker's single-order quantity cap.
func (b BrokerConfig) FreezeQuantity(underlying string) int {
	switch underlying {
	case "BANKNIFTY":
		return b.FreezeQtyBank
	default:
		return b.FreezeQtyNifty
	}
}
