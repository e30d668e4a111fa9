package model

import (
	"encoding/json"
	"time"
)

// -----------------------------------------------------------------------------
// Sources and connection state
// -----------------------------------------------------------------------------

// Source identifies one upstream venue feed.
type Source string

const (
	SourceSpotTrade Source = "spot_trade"
	SourceAggTrade  Source = "agg_trade"
	SourceOracle    Source = "oracle"
	SourceOrderbook Source = "orderbook"

	// Derived order-book sources: one per side of the up/down contract.
	SourceOrderbookUp   Source = "orderbook_up"
	SourceOrderbookDown Source = "orderbook_down"
)

// ConnectionStatus is the lifecycle state of one venue connection.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Direction is the sign of a price movement.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// -----------------------------------------------------------------------------
// Normalized events
// -----------------------------------------------------------------------------

// PriceEvent is one normalized price tick from a single venue.
// Immutable once constructed.
type PriceEvent struct {
	Source          Source
	Price           float64
	ServerTimestamp int64           // wall clock ms at ingestion
	Original        json.RawMessage // venue payload, passed through untouched
}

// BookUpdate is one collapsed order-book batch: at most one price per side.
type BookUpdate struct {
	Up        float64
	Down      float64
	HasUp     bool
	HasDown   bool
	Market    string // market slug the prices belong to
	Timestamp int64  // wall clock ms at ingestion
}

// MovementEvent records a significant price change from one source.
type MovementEvent struct {
	Source        Source
	Timestamp     int64
	PercentChange float64
	Direction     Direction
}

// -----------------------------------------------------------------------------
// Trading signal
// -----------------------------------------------------------------------------

// SignalAction is the directional recommendation of the signal engine.
type SignalAction string

const (
	ActionLong    SignalAction = "LONG"
	ActionShort   SignalAction = "SHORT"
	ActionNeutral SignalAction = "NEUTRAL"
)

// TradingSignal is the single mutable signal a session maintains.
type TradingSignal struct {
	Action        SignalAction
	Strength      int // 0-100
	Reason        string
	Timestamp     int64   // timestamp of the triggering movement
	PercentChange float64 // percent change of the triggering movement
}

// Neutral returns the resting signal state.
func Neutral(reason string, now int64) TradingSignal {
	return TradingSignal{
		Action:    ActionNeutral,
		Strength:  0,
		Reason:    reason,
		Timestamp: now,
	}
}

// -----------------------------------------------------------------------------
// Market context
// -----------------------------------------------------------------------------

// MarketContext describes the currently active up/down prediction market.
// Returned by the market resolver; invalidated at each 15-minute rollover.
type MarketContext struct {
	Slug           string
	UpAssetID      string
	DownAssetID    string
	ReferenceOpen  float64
	ReferenceClose float64
	WindowStart    time.Time
	WindowEnd      time.Time

	// PriceDegraded is set when the resolver could not produce real reference
	// prices and fell back to zero. Zero is a placeholder, never a price.
	PriceDegraded bool
}

// Active reports whether t falls inside the market's window.
func (m MarketContext) Active(t time.Time) bool {
	return !t.Before(m.WindowStart) && t.Before(m.WindowEnd)
}

// -----------------------------------------------------------------------------
// Outbound stream records
// -----------------------------------------------------------------------------

// StatusRecord is the wire form of a connection status change.
type StatusRecord struct {
	Type     string           `json:"type"` // "status"
	Status   ConnectionStatus `json:"status"`
	Source   Source           `json:"source"`
	Degraded bool             `json:"degraded,omitempty"`
}

// PriceRecord is the wire form of a normalized price tick.
type PriceRecord struct {
	Type            string          `json:"type"` // "price"
	Source          Source          `json:"source"`
	Price           float64         `json:"price"`
	ServerTimestamp int64           `json:"serverTimestamp"`
	OriginalData    json.RawMessage `json:"originalData,omitempty"`
}

// BookRecord is the wire form of a collapsed order-book update.
type BookRecord struct {
	Type            string   `json:"type"` // "price_change"
	Source          Source   `json:"source"`
	UpPrice         *float64 `json:"upPrice,omitempty"`
	DownPrice       *float64 `json:"downPrice,omitempty"`
	Market          string   `json:"market"`
	Timestamp       int64    `json:"timestamp"`
	ServerTimestamp int64    `json:"serverTimestamp"`
}

// SignalRecord is the wire form of a trading signal change.
type SignalRecord struct {
	Type          string       `json:"type"` // "signal"
	Action        SignalAction `json:"action"`
	Strength      int          `json:"strength"`
	Reason        string       `json:"reason"`
	Timestamp     int64        `json:"timestamp"`
	PercentChange float64      `json:"percentChange"`
}
