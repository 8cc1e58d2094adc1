// Package series implements the append-only OHLCV buffer backing each
// instance, along with the name-to-indicator-sequence mapping that the
// Condition Engine reads from.
package series

import (
	"fmt"
	"sync"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/pkg/indicators"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

// PriceSource names the field a condition or indicator reads from.
type PriceSource string

const (
	SourceClose    PriceSource = "close"
	SourceOpen     PriceSource = "open"
	SourceHigh     PriceSource = "high"
	SourceLow      PriceSource = "low"
	SourceMedian   PriceSource = "median"
	SourceTypical  PriceSource = "typical"
	SourceWeighted PriceSource = "weighted"
	SourceVolume   PriceSource = "volume"
)

// Series is a contract's ordered OHLCV history plus a name->sequence
// map of derived indicator values. A Series is owned exclusively by one
// Runtime; every method takes the Series' own read/write lock, so
// concurrent readers (e.g. an HTTP handler) may call its methods directly.
type Series struct {
	mu sync.RWMutex

	contractID string

	ts []time.Time
	o  []float64
	h  []float64
	l  []float64
	c  []float64
	v  []int64

	indicators map[string][]float64
}

// New creates an empty Series for the given contract.
func New(contractID string) *Series {
	return &Series{
		contractID: contractID,
		indicators: make(map[string][]float64),
	}
}

// Append adds a bar to the Series. Requires bar.Timestamp to be
// strictly greater than the last bar's timestamp (spec §4.2).
func (s *Series) Append(bar types.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !bar.Valid() {
		return apperr.Validationf("bar fails OHLC invariant: %+v", bar)
	}
	n := len(s.ts)
	if n > 0 && !bar.Timestamp.After(s.ts[n-1]) {
		return apperr.Validationf("bar timestamp %s does not advance past last bar %s", bar.Timestamp, s.ts[n-1])
	}

	s.ts = append(s.ts, bar.Timestamp)
	s.o = append(s.o, bar.Open)
	s.h = append(s.h, bar.High)
	s.l = append(s.l, bar.Low)
	s.c = append(s.c, bar.Close)
	s.v = append(s.v, bar.Volume)
	return nil
}

// UpdateLast mutates the currently open (last) bar in place: high is
// widened, low is narrowed, close is replaced, and volume accumulates.
func (s *Series) UpdateLast(high, low, close float64, addVolume int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.ts)
	if n == 0 {
		return apperr.Internalf("UpdateLast called on empty series")
	}
	i := n - 1
	if high > s.h[i] {
		s.h[i] = high
	}
	if low < s.l[i] {
		s.l[i] = low
	}
	s.c[i] = close
	s.v[i] += addVolume
	return nil
}

// Count returns the number of bars, including a still-open last bar.
func (s *Series) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ts)
}

// GetBar returns the bar at index i.
func (s *Series) GetBar(i int) (types.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.ts) {
		return types.Bar{}, apperr.NotFoundf("bar index %d out of range [0,%d)", i, len(s.ts))
	}
	return types.Bar{
		Timestamp: s.ts[i],
		Open:      s.o[i],
		High:      s.h[i],
		Low:       s.l[i],
		Close:     s.c[i],
		Volume:    s.v[i],
	}, nil
}

// GetLast returns the last bar, which may still be open.
func (s *Series) GetLast() (types.Bar, error) {
	s.mu.RLock()
	n := len(s.ts)
	s.mu.RUnlock()
	if n == 0 {
		return types.Bar{}, apperr.NotFoundf("series is empty")
	}
	return s.GetBar(n - 1)
}

// Slice returns a copy of bars in [lo, hi).
func (s *Series) Slice(lo, hi int) ([]types.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.ts)
	if lo < 0 || hi > n || lo > hi {
		return nil, apperr.Validationf("slice bounds [%d,%d) out of range [0,%d)", lo, hi, n)
	}
	out := make([]types.Bar, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, types.Bar{
			Timestamp: s.ts[i], Open: s.o[i], High: s.h[i], Low: s.l[i], Close: s.c[i], Volume: s.v[i],
		})
	}
	return out, nil
}

// GetPriceData returns the full sequence for the given price source,
// resolving "<another indicator name>" when source matches no built-in
// field name.
func (s *Series) GetPriceData(source string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.ts)
	switch PriceSource(source) {
	case SourceClose:
		return append([]float64(nil), s.c...), nil
	case SourceOpen:
		return append([]float64(nil), s.o...), nil
	case SourceHigh:
		return append([]float64(nil), s.h...), nil
	case SourceLow:
		return append([]float64(nil), s.l...), nil
	case SourceMedian:
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = (s.h[i] + s.l[i]) / 2
		}
		return out, nil
	case SourceTypical:
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = (s.h[i] + s.l[i] + s.c[i]) / 3
		}
		return out, nil
	case SourceWeighted:
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = (s.h[i] + s.l[i] + 2*s.c[i]) / 4
		}
		return out, nil
	case SourceVolume:
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = float64(s.v[i])
		}
		return out, nil
	}

	seq, ok := s.indicators[source]
	if !ok {
		return nil, apperr.NotFoundf("unknown price source %q", source)
	}
	return s.padIndicator(seq, n), nil
}

// SetIndicator stores (or replaces) the named indicator sequence.
func (s *Series) SetIndicator(name string, seq []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(seq) > len(s.ts) {
		return apperr.Internalf("indicator %q sequence length %d exceeds series length %d", name, len(seq), len(s.ts))
	}
	s.indicators[name] = seq
	return nil
}

// GetIndicator returns a copy of the named indicator sequence, padded
// on the left with Undefined so its length equals the series length.
func (s *Series) GetIndicator(name string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.indicators[name]
	if !ok {
		return nil, apperr.NotFoundf("unknown indicator %q", name)
	}
	return s.padIndicator(seq, len(s.ts)), nil
}

// GetIndicatorValue returns the named indicator's value at bar index i.
func (s *Series) GetIndicatorValue(name string, i int) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.indicators[name]
	if !ok {
		return 0, apperr.NotFoundf("unknown indicator %q", name)
	}
	if i < 0 || i >= len(s.ts) {
		return 0, apperr.Validationf("index %d out of range [0,%d)", i, len(s.ts))
	}
	if i >= len(seq) {
		return indicators.Undefined, nil
	}
	return seq[i], nil
}

// HasIndicator reports whether name has been registered via SetIndicator.
func (s *Series) HasIndicator(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indicators[name]
	return ok
}

// Validate checks the series invariants (spec §8 properties 1-3):
// equal-length OHLCV sequences, non-negative volume, OHLC bounds, and
// strictly increasing timestamps.
func (s *Series) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.ts)
	if len(s.o) != n || len(s.h) != n || len(s.l) != n || len(s.c) != n || len(s.v) != n {
		return apperr.Internalf("series OHLCV sequences have mismatched lengths")
	}
	for i := 0; i < n; i++ {
		if s.v[i] < 0 {
			return apperr.Internalf("bar %d has negative volume %d", i, s.v[i])
		}
		bar := types.Bar{Open: s.o[i], High: s.h[i], Low: s.l[i], Close: s.c[i], Volume: s.v[i]}
		if !bar.Valid() {
			return apperr.Internalf("bar %d fails OHLC invariant", i)
		}
		if i > 0 && !s.ts[i].After(s.ts[i-1]) {
			return apperr.Internalf("bar %d timestamp does not strictly increase", i)
		}
	}
	for name, seq := range s.indicators {
		if len(seq) > n {
			return apperr.Internalf("indicator %q length %d exceeds series length %d", name, len(seq), n)
		}
	}
	return nil
}

// ContractID returns the contract this series was created for.
func (s *Series) ContractID() string {
	return s.contractID
}

func (s *Series) padIndicator(seq []float64, n int) []float64 {
	if len(seq) == n {
		return append([]float64(nil), seq...)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = indicators.Undefined
	}
	copy(out[n-len(seq):], seq)
	return out
}

// String implements fmt.Stringer for debug logging.
func (s *Series) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("Series{contract=%s, bars=%d, indicators=%d}", s.contractID, len(s.ts), len(s.indicators))
}
