package algorithm

import (
	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/internal/series"
	"github.com/bikeshrana/pi5-trading-engine/pkg/indicators"
)

// Compute recomputes every indicator the Algorithm declares over the
// full Series and stores each sequence back into it (spec §4.5 step 2:
// "recompute the algorithm's indicators over the full Series").
// Implementations are free to optimize to incremental updates while
// preserving identical results at each bar (spec §4.5); this version
// recomputes the whole sequence each call, which is what the Series
// Store's setIndicator/getIndicator contract requires regardless.
func Compute(s *series.Series, a Algorithm) error {
	for _, cfg := range a.Indicators {
		if err := computeOne(s, cfg); err != nil {
			return err
		}
	}
	return nil
}

func computeOne(s *series.Series, cfg IndicatorConfig) error {
	intParam := func(key string, def int) int {
		if f, ok := numberParam(cfg.Parameters, key); ok {
			return int(f)
		}
		return def
	}
	source := func(def string) string {
		if v, ok := cfg.Parameters["source"].(string); ok && v != "" {
			return v
		}
		return def
	}

	switch cfg.Type {
	case IndicatorSMA:
		x, err := s.GetPriceData(source("close"))
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.SMA(x, intParam("period", 14)))

	case IndicatorEMA:
		x, err := s.GetPriceData(source("close"))
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.EMA(x, intParam("period", 14)))

	case IndicatorRSI:
		x, err := s.GetPriceData(source("close"))
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.RSI(x, intParam("period", 14)))

	case IndicatorMACD:
		x, err := s.GetPriceData(source("close"))
		if err != nil {
			return err
		}
		res := indicators.MACD(x, intParam("fast", 12), intParam("slow", 26), intParam("signal", 9))
		if err := s.SetIndicator(cfg.Name, res.MACD); err != nil {
			return err
		}
		if err := s.SetIndicator(cfg.Name+"_Signal", res.Signal); err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name+"_Histogram", res.Histogram)

	case IndicatorStochasticK:
		h, err := s.GetPriceData(string(series.SourceHigh))
		if err != nil {
			return err
		}
		l, err := s.GetPriceData(string(series.SourceLow))
		if err != nil {
			return err
		}
		c, err := s.GetPriceData(string(series.SourceClose))
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.StochasticK(h, l, c, intParam("period", 14)))

	case IndicatorStochasticD:
		kName, ok := cfg.Parameters["kIndicator"].(string)
		if !ok || kName == "" {
			return apperr.Validationf("STOCHASTICD indicator %q missing kIndicator parameter", cfg.Name)
		}
		k, err := s.GetIndicator(kName)
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.StochasticD(k, intParam("period", 3)))

	case IndicatorATR:
		h, err := s.GetPriceData(string(series.SourceHigh))
		if err != nil {
			return err
		}
		l, err := s.GetPriceData(string(series.SourceLow))
		if err != nil {
			return err
		}
		c, err := s.GetPriceData(string(series.SourceClose))
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.ATR(h, l, c, intParam("period", 14)))

	case IndicatorVWAP:
		h, err := s.GetPriceData(string(series.SourceHigh))
		if err != nil {
			return err
		}
		l, err := s.GetPriceData(string(series.SourceLow))
		if err != nil {
			return err
		}
		c, err := s.GetPriceData(string(series.SourceClose))
		if err != nil {
			return err
		}
		v, err := s.GetPriceData(string(series.SourceVolume))
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.VWAP(h, l, c, v))

	case IndicatorMFI:
		h, err := s.GetPriceData(string(series.SourceHigh))
		if err != nil {
			return err
		}
		l, err := s.GetPriceData(string(series.SourceLow))
		if err != nil {
			return err
		}
		c, err := s.GetPriceData(string(series.SourceClose))
		if err != nil {
			return err
		}
		vf, err := s.GetPriceData(string(series.SourceVolume))
		if err != nil {
			return err
		}
		v := make([]int64, len(vf))
		for i, f := range vf {
			v[i] = int64(f)
		}
		return s.SetIndicator(cfg.Name, indicators.MFI(h, l, c, v, intParam("period", 14)))

	case IndicatorSD:
		x, err := s.GetPriceData(source("close"))
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.SD(x, intParam("period", 14)))

	case IndicatorPO:
		x, err := s.GetPriceData(source("close"))
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.PO(x, intParam("fast", 10), intParam("slow", 20)))

	case IndicatorSlope:
		x, err := s.GetPriceData(source("close"))
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.Slope(x, intParam("lookback", 1)))

	case IndicatorDifference:
		aName, okA := cfg.Parameters["indicator1"].(string)
		bName, okB := cfg.Parameters["indicator2"].(string)
		if !okA || !okB {
			return apperr.Validationf("DIFFERENCE indicator %q missing indicator1/indicator2 parameters", cfg.Name)
		}
		a, err := s.GetPriceData(aName)
		if err != nil {
			return err
		}
		b, err := s.GetPriceData(bName)
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.Difference(a, b))

	case IndicatorStrength:
		x, err := s.GetPriceData(source("close"))
		if err != nil {
			return err
		}
		return s.SetIndicator(cfg.Name, indicators.Strength(x, intParam("period", 14)))
	}

	return apperr.Internalf("unhandled indicator type %q for %q", cfg.Type, cfg.Name)
}
