package config

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9985"
	defaultStorePath   = "data/optexec.db"

	defaultEntryWindowStart = "09:30"
	defaultEntryWindowEnd   = "14:30"
	defaultEODExitTime      = "15:15"
	defaultMarketCloseTime  = "15:30"

	defaultBarGraceSec      = 120
	defaultDataGapSec       = 120
	defaultRecoverySec      = 300

	defaultADXPeriod       = 14
	defaultADXThreshold    = 25.0
	defaultRSIPeriod       = 14
	defaultRSIOversold     = 30.0
	defaultRSIOverbought   = 70.0
	defaultEMAPeriod       = 9
	defaultVolumeAvgPeriod = 20
	defaultVolumeRatio     = 1.2
	defaultSpreadCeiling   = 0.01
	defaultStrikeIncrement = 50

	defaultStopLossPct      = 0.20
	defaultTrailActivatePct = 0.02
	defaultTrailGapPct      = 0.015
	defaultMaxPositions     = 2
	defaultDailyLossPct     = 0.03
	defaultConsecLossLimit  = 3
	defaultBaseSizePct      = 0.02
	defaultMaxQuantity      = 1800
	defaultPriceBandPct     = 0.20
	defaultMarginLimitPct   = 0.80

	defaultVIXEntryCeiling = 28.0
	defaultVIXSpikeAbs     = 30.0
	defaultVIXSpikeDelta   = 5.0
	defaultVIXSpikeWindow  = 10
	defaultVIXResume       = 28.0
	defaultVIXResumeWindow = 10

	defaultOrderMaxAttempts  = 5
	defaultRetryCapSec       = 30
	defaultFillTimeoutSec    = 60
	defaultFillPollMS        = 500
	defaultFlattenDeadline   = 180
	defaultOrdersPerSecond   = 10
	defaultQuotesPerSecond   = 30
	defaultTokenCheckSec     = 60
	defaultFreezeQtyNifty    = 36000
	defaultFreezeQtyBank     = 18000
	defaultLotSizeNifty      = 50
	defaultLotSizeBank       = 15
	defaultTickSize          = 0.05
	defaultStartingBalance   = 500000.0
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Session.applyDefaults()
	c.Bars.applyDefaults()
	c.Strategy.applyDefaults()
	c.Risk.applyDefaults()
	c.Orders.applyDefaults()
	c.Broker.applyDefaults()
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (s *SessionConfig) applyDefaults() {
	if s.EntryWindowStart == "" {
		s.EntryWindowStart = defaultEntryWindowStart
	}
	if s.EntryWindowEnd == "" {
		s.EntryWindowEnd = defaultEntryWindowEnd
	}
	if s.EODExitTime == "" {
		s.EODExitTime = defaultEODExitTime
	}
	if s.MarketCloseTime == "" {
		s.MarketCloseTime = defaultMarketCloseTime
	}
}

func (b *BarsConfig) applyDefaults() {
	if b.GraceSec <= 0 {
		b.GraceSec = defaultBarGraceSec
	}
	if b.DataGapThresholdSec <= 0 {
		b.DataGapThresholdSec = defaultDataGapSec
	}
	if b.RecoveryTimeoutSec <= 0 {
		b.RecoveryTimeoutSec = defaultRecoverySec
	}
}

func (s *StrategyConfig) applyDefaults() {
	if s.Underlying == "" {
		s.Underlying = "NIFTY"
	}
	if s.SpotSymbol == "" {
		s.SpotSymbol = "NIFTY 50"
	}
	if s.DailyADXPeriod <= 0 {
		s.DailyADXPeriod = defaultADXPeriod
	}
	if s.DailyADXThreshold <= 0 {
		s.DailyADXThreshold = defaultADXThreshold
	}
	if s.HourlyADXPeriod <= 0 {
		s.HourlyADXPeriod = defaultADXPeriod
	}
	if s.HourlyADXThreshold <= 0 {
		s.HourlyADXThreshold = defaultADXThreshold
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = defaultRSIPeriod
	}
	if s.RSIOversold <= 0 {
		s.RSIOversold = defaultRSIOversold
	}
	if s.RSIOverbought <= 0 {
		s.RSIOverbought = defaultRSIOverbought
	}
	if s.EMAPeriod <= 0 {
		s.EMAPeriod = defaultEMAPeriod
	}
	if s.VolumeAvgPeriod <= 0 {
		s.VolumeAvgPeriod = defaultVolumeAvgPeriod
	}
	if s.VolumeEntryRatio <= 0 {
		s.VolumeEntryRatio = defaultVolumeRatio
	}
	if s.SpreadCeilingPct <= 0 {
		s.SpreadCeilingPct = defaultSpreadCeiling
	}
	if s.StrikeIncrement <= 0 {
		s.StrikeIncrement = defaultStrikeIncrement
	}
}

func (r *RiskConfig) applyDefaults() {
	if r.StopLossPct <= 0 {
		r.StopLossPct = defaultStopLossPct
	}
	if r.TrailActivatePct <= 0 {
		r.TrailActivatePct = defaultTrailActivatePct
	}
	if r.TrailGapPct <= 0 {
		r.TrailGapPct = defaultTrailGapPct
	}
	if r.MaxPositions <= 0 {
		r.MaxPositions = defaultMaxPositions
	}
	if r.DailyLossLimitPct <= 0 {
		r.DailyLossLimitPct = defaultDailyLossPct
	}
	if r.ConsecutiveLossLimit <= 0 {
		r.ConsecutiveLossLimit = defaultConsecLossLimit
	}
	if r.BasePositionSizePct <= 0 {
		r.BasePositionSizePct = defaultBaseSizePct
	}
	if r.MaxQuantity <= 0 {
		r.MaxQuantity = defaultMaxQuantity
	}
	if r.PriceBandPct <= 0 {
		r.PriceBandPct = defaultPriceBandPct
	}
	if r.MarginUsageLimitPct <= 0 {
		r.MarginUsageLimitPct = defaultMarginLimitPct
	}
	r.VIX.applyDefaults()
}

func (v *VIX) applyDefaults() {
	if v.EntryCeiling <= 0 {
		v.EntryCeiling = defaultVIXEntryCeiling
	}
	if v.SpikeAbsolute <= 0 {
		v.SpikeAbsolute = defaultVIXSpikeAbs
	}
	if v.SpikeDelta <= 0 {
		v.SpikeDelta = defaultVIXSpikeDelta
	}
	if v.SpikeWindowMin <= 0 {
		v.SpikeWindowMin = defaultVIXSpikeWindow
	}
	if v.ResumeThreshold <= 0 {
		v.ResumeThreshold = defaultVIXResume
	}
	if v.ResumeWindowMin <= 0 {
		v.ResumeWindowMin = defaultVIXResumeWindow
	}
	if v.MultAt12OrBelow <= 0 {
		v.MultAt12OrBelow = 1.25
	}
	if v.MultAt20 <= 0 {
		v.MultAt20 = 1.00
	}
	if v.MultAt30 <= 0 {
		v.MultAt30 = 0.75
	}
	if v.MultAt30OrAbove <= 0 {
		v.MultAt30OrAbove = 0.50
	}
}

func (o *OrdersConfig) applyDefaults() {
	if len(o.RetryStepsPct) == 0 {
		o.RetryStepsPct = []float64{0, 0.25, 0.50, 0.75, 1.00}
	}
	if len(o.RetryBackoffsSec) == 0 {
		o.RetryBackoffsSec = []int{0, 2, 4, 8, 16}
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultOrderMaxAttempts
	}
	if o.RetryCapSec <= 0 {
		o.RetryCapSec = defaultRetryCapSec
	}
	if o.FillTimeoutSec <= 0 {
		o.FillTimeoutSec = defaultFillTimeoutSec
	}
	if o.FillPollIntervalMS <= 0 {
		o.FillPollIntervalMS = defaultFillPollMS
	}
	if o.FlattenDeadlineSec <= 0 {
		o.FlattenDeadlineSec = defaultFlattenDeadline
	}
}

func (b *BrokerConfig) applyDefaults() {
	if b.Mode == "" {
		b.Mode = "paper"
	}
	if b.OrdersPerSecond <= 0 {
		b.OrdersPerSecond = defaultOrdersPerSecond
	}
	if b.QuotesPerSecond <= 0 {
		b.QuotesPerSecond = defaultQuotesPerSecond
	}
	if b.TokenCheckSec <= 0 {
		b.TokenCheckSec = defaultTokenCheckSec
	}
	if b.FreezeQtyNifty <= 0 {
		b.FreezeQtyNifty = defaultFreezeQtyNifty
	}
	if b.FreezeQtyBank <= 0 {
		b.FreezeQtyBank = defaultFreezeQtyBank
	}
	if b.LotSizeNifty <= 0 {
		b.LotSizeNifty = defaultLotSizeNifty
	}
	if b.LotSizeBank <= 0 {
		b.LotSizeBank = defaultLotSizeBank
	}
	if b.TickSize <= 0 {
		b.TickSize = defaultTickSize
	}
	if b.StartingBalance <= 0 {
		b.StartingBalance = defaultStartingBalance
	}
}
