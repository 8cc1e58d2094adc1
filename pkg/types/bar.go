// Package types holds the wire- and domain-level value types shared
// across the engine: bars, trades, positions and contract tick
// conventions.
package types

import "time"

// Bar is a fixed one-minute OHLCV summary of trades on a contract.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Valid checks the OHLC invariant: low <= min(open,close) <= max(open,close) <= high.
func (b Bar) Valid() bool {
	if b.Volume < 0 {
		return false
	}
	lo := b.Open
	if b.Close < lo {
		lo = b.Close
	}
	hi := b.Open
	if b.Close > hi {
		hi = b.Close
	}
	return b.Low <= lo && hi <= b.High
}

// Trade is a single execution print from the broker's trade feed.
type Trade struct {
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionSide is the side of an open or closed position.
type PositionSide string

const (
	PositionNone  PositionSide = "NONE"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position is the current holding for an instance.
type Position struct {
	Side       PositionSide `json:"side"`
	Quantity   int          `json:"quantity"`
	EntryPrice float64      `json:"entry_price"`
	EntryTime  time.Time    `json:"entry_time"`
}

// Flat reports the no-position invariant: side=NONE iff quantity=0 iff entryPrice=0.
func (p Position) Flat() bool {
	return p.Side == PositionNone && p.Quantity == 0 && p.EntryPrice == 0
}

// ClosedTrade is a completed round-trip entry+exit.
type ClosedTrade struct {
	ID           string       `json:"id"`
	EntryTime    time.Time    `json:"entry_time"`
	ExitTime     time.Time    `json:"exit_time"`
	Side         PositionSide `json:"side"`
	EntryPrice   float64      `json:"entry_price"`
	ExitPrice    float64      `json:"exit_price"`
	Quantity     int          `json:"quantity"`
	PnL          float64      `json:"pnl"`
	PnLPercent   float64      `json:"pnl_percent"`
	Commission   float64      `json:"commission"`
	EntrySignal  string       `json:"entry_signal"`
	ExitSignal   string       `json:"exit_signal"`
	Duration     time.Duration `json:"duration_ns"`
}

// TickConfig describes the minimum price increment and its dollar value
// for a futures contract.
type TickConfig struct {
	TickSize  float64
	TickValue float64
}

// DefaultTickConfig is used for symbols absent from the tick table.
var DefaultTickConfig = TickConfig{TickSize: 0.25, TickValue: 5.00}

// tickTable is the symbol -> tick convention lookup from spec §3.
var tickTable = map[string]TickConfig{
	"ENQ": {0.25, 5.00},
	"NQ":  {0.25, 5.00},
	"MNQ": {0.25, 0.50},
	"ES":  {0.25, 12.50},
	"MES": {0.25, 1.25},
	"YM":  {1.0, 5.00},
	"MYM": {1.0, 0.50},
	"RTY": {0.10, 5.00},
	"M2K": {0.10, 0.50},
	"CL":  {0.01, 10.00},
	"GC":  {0.10, 10.00},
	"SI":  {0.005, 25.00},
}

// TickConfigFor returns the tick convention for a symbol, falling back
// to DefaultTickConfig for unknown symbols.
func TickConfigFor(symbol string) TickConfig {
	if tc, ok := tickTable[symbol]; ok {
		return tc
	}
	return DefaultTickConfig
}

// PointsToCurrency converts a price difference in points to account
// currency using the contract's tick conventions.
func (tc TickConfig) PointsToCurrency(points float64, quantity int) float64 {
	if tc.TickSize == 0 {
		return 0
	}
	return points / tc.TickSize * tc.TickValue * float64(quantity)
}
