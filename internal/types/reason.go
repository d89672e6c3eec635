package types

// ExitTier orders exit conditions by priority. Lower value wins.
type ExitTier int

const (
	TierMandatory ExitTier = 1
	TierRisk      ExitTier = 2
	TierProfit    ExitTier = 3
	TierTechnical ExitTier = 4
)

// Machine-readable reason codes. Entry reasons, exit reasons and rejection
// reasons share one namespace so the audit log stays greppable.
const (
	// Entry triggers.
	ReasonBreakoutVolume = "BREAKOUT_VOLUME"
	ReasonRSIEMABounce   = "RSI_EMA_BOUNCE"

	// Tier 1 exits.
	ReasonEODExit      = "EOD_EXIT"
	ReasonTokenInvalid = "TOKEN_INVALID"
	ReasonVIXBreaker   = "VIX_CIRCUIT_BREAKER"
	ReasonShutdown     = "SHUTDOWN"
	ReasonDataStale    = "DATA_STALE"

	// Tier 2 exits.
	ReasonStopLoss       = "STOP_LOSS"
	ReasonMarginBreach   = "MARGIN_BREACH"
	ReasonDailyLossLimit = "DAILY_LOSS_LIMIT"

	// Tier 3 exits.
	ReasonTarget       = "TARGET"
	ReasonTrailingStop = "TRAILING_STOP"

	// Tier 4 exits.
	ReasonAlignmentLost = "ALIGNMENT_LOST"
	ReasonVolumeDry     = "VOLUME_DRY_UP"

	// Rejections (never retried).
	RejectPositionLimit  = "POSITION_LIMIT"
	RejectFreezeQuantity = "FREEZE_QUANTITY"
	RejectPriceBand      = "PRICE_BAND"
	RejectLotSize        = "LOT_SIZE"
	RejectTickSize       = "TICK_SIZE"
	RejectMargin         = "INSUFFICIENT_MARGIN"
	RejectDailyLoss      = "DAILY_LOSS_BREACHED"
	RejectVIXBreaker     = "VIX_BREAKER_ACTIVE"
	RejectTimeWindow     = "OUTSIDE_TIME_WINDOW"
	RejectTokenLookup    = "TOKEN_LOOKUP_FAILED"
	RejectSpread         = "SPREAD_CEILING"

	// Audit markers.
	ReasonDuplicateIgnored = "DUPLICATE_IGNORED"
	ReasonDataQuarantine   = "DATA_QUARANTINE"
)
