package series

import (
	"time"

	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
	"github.com/rs/zerolog"
)

// BarBuilder converts a stream of trades into 1-minute OHLCV bars and
// appends/mutates them in a Series. It holds only the current bar's
// minute, high and low; the Series itself holds the open bar as its
// last entry, mutated via UpdateLast until the next rollover seals it.
type BarBuilder struct {
	series *Series
	logger zerolog.Logger

	open   bool
	minute time.Time
	high   float64
	low    float64
}

// NewBarBuilder creates a builder that appends/updates bars in series.
func NewBarBuilder(series *Series, logger zerolog.Logger) *BarBuilder {
	return &BarBuilder{series: series, logger: logger}
}

// OnTrade feeds one trade into the builder. Not safe for concurrent
// use; the spec assigns exactly one Runtime task as owner (spec §5).
func (b *BarBuilder) OnTrade(price float64, size int64, ts time.Time) error {
	minute := ts.Truncate(time.Minute)

	if b.open && minute.Before(b.minute) {
		b.logger.Warn().
			Time("trade_ts", ts).
			Time("current_bar_minute", b.minute).
			Msg("dropped out-of-order trade")
		return nil
	}

	if !b.open || minute.After(b.minute) {
		b.open = true
		b.minute = minute
		b.high = price
		b.low = price
		return b.series.Append(types.Bar{
			Timestamp: minute,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    size,
		})
	}

	if price > b.high {
		b.high = price
	}
	if price < b.low {
		b.low = price
	}
	return b.series.UpdateLast(b.high, b.low, price, size)
}

// HasOpenBar reports whether a bar is currently being accumulated.
func (b *BarBuilder) HasOpenBar() bool {
	return b.open
}
