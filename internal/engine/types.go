package engine

import (
	"encoding/json"
	"time"

	"optexec/internal/config"
	"optexec/internal/executor"
	"optexec/internal/types"
)

// EventType names one kind of engine event.
type EventType string

const (
	// EvtTick carries one market data tick.
	EvtTick EventType = "TICK"
	// EvtBarReady carries a completed bar.
	EvtBarReady EventType = "BAR_READY"
	// EvtBarSweep asks the bar clock for delayed boundaries.
	EvtBarSweep EventType = "BAR_SWEEP"
	// EvtVIXSample carries a fresh India VIX reading.
	EvtVIXSample EventType = "VIX_SAMPLE"
	// EvtOrderResult reports an async execution outcome back to the loop.
	EvtOrderResult EventType = "ORDER_RESULT"
	// EvtEODCheck asks whether the end-of-day cutoff has passed.
	EvtEODCheck EventType = "EOD_CHECK"
	// EvtTokenInvalid signals the broker session died.
	EvtTokenInvalid EventType = "TOKEN_INVALID"
	// EvtShutdown begins the flatten-and-stop sequence.
	EvtShutdown EventType = "SHUTDOWN"
	// EvtFlattenForce escalates the flatten past the retry ladder: every
	// remaining position is sold at a marketable price.
	EvtFlattenForce EventType = "FLATTEN_FORCE"
	// EvtRiskTunables applies hot-reloaded risk parameters.
	EvtRiskTunables EventType = "RISK_TUNABLES"
)

// EventEnvelope wraps a payload for the actor loop. ReplyCh, when set, is
// closed after handling so synchronous senders can wait.
type EventEnvelope struct {
	ID      string
	Type    EventType
	Payload json.RawMessage
	ReplyCh chan error
}

// TickPayload wraps one tick.
type TickPayload struct {
	Tick types.Tick `json:"tick"`
}

// BarReadyPayload wraps one completed bar.
type BarReadyPayload struct {
	Bar types.Bar `json:"bar"`
}

// VIXSamplePayload carries one VIX reading.
type VIXSamplePayload struct {
	VIX float64   `json:"vix"`
	At  time.Time `json:"at"`
}

// OrderResultKind distinguishes entry from exit executions.
type OrderResultKind string

const (
	ResultEntry OrderResultKind = "ENTRY"
	ResultExit  OrderResultKind = "EXIT"
)

// OrderResultPayload reports one finished execution. Err is the transport
// failure, if any; business rejections live inside Result.Order.
type OrderResultPayload struct {
	Kind       OrderResultKind   `json:"kind"`
	Intent     types.OrderIntent `json:"intent"`
	Direction  types.Direction   `json:"direction,omitempty"`
	Instrument types.Instrument  `json:"instrument,omitempty"`
	ExitReason string            `json:"exit_reason,omitempty"`
	Secondary  []string          `json:"secondary,omitempty"`
	Result     executor.Result   `json:"result"`
	Err        string            `json:"err,omitempty"`
}

// RiskTunablesPayload carries hot-reloaded risk parameters.
type RiskTunablesPayload struct {
	Tunables config.TunableRisk `json:"tunables"`
}

// TokenInvalidPayload records why the session token died.
type TokenInvalidPayload struct {
	Detail string `json:"detail"`
}
