package market

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/fxhedge/hedge"
)

type InstrumentMeta struct {
	Name          string
	BaseCurrency  string
	QuoteCurrency string
	PipLocation   int
	LotSize       float64
	MarginRate    float64
}

var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {Name: "EUR_USD", BaseCurrency: "EUR", QuoteCurrency: "USD", PipLocation: -4, LotSize: 1000, MarginRate: 0.02},
	"GBP_USD": {Name: "GBP_USD", BaseCurrency: "GBP", QuoteCurrency: "USD", PipLocation: -4, LotSize: 1000, MarginRate: 0.05},
	"AUD_USD": {Name: "AUD_USD", BaseCurrency: "AUD", QuoteCurrency: "USD", PipLocation: -4, LotSize: 1000, MarginRate: 0.03},
	"NZD_USD": {Name: "NZD_USD", BaseCurrency: "NZD", QuoteCurrency: "USD", PipLocation: -4, LotSize: 1000, MarginRate: 0.03},
	"USD_JPY": {Name: "USD_JPY", BaseCurrency: "USD", QuoteCurrency: "JPY", PipLocation: -2, LotSize: 1000, MarginRate: 0.02},
	"USD_CAD": {Name: "USD_CAD", BaseCurrency: "USD", QuoteCurrency: "CAD", PipLocation: -4, LotSize: 1000, MarginRate: 0.02},
	"USD_CHF": {Name: "USD_CHF", BaseCurrency: "USD", QuoteCurrency: "CHF", PipLocation: -4, LotSize: 1000, MarginRate: 0.03},
	"USD_MXN": {Name: "USD_MXN", BaseCurrency: "USD", QuoteCurrency: "MXN", PipLocation: -4, LotSize: 1000, MarginRate: 0.08},
	"EUR_GBP": {Name: "EUR_GBP", BaseCurrency: "EUR", QuoteCurrency: "GBP", PipLocation: -4, LotSize: 1000, MarginRate: 0.03},
}

// NormalizePair accepts EUR_USD, EUR/USD, EURUSD and eur_usd.
func NormalizePair(pair string) string {
	p := strings.ToUpper(strings.TrimSpace(pair))
	p = strings.ReplaceAll(p, "/", "_")
	if len(p) == 6 && !strings.Contains(p, "_") {
		p = p[:3] + "_" + p[3:]
	}
	return p
}

func LookupPair(pair string) (InstrumentMeta, error) {
	meta, ok := Instruments[NormalizePair(pair)]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("%w: %q", hedge.ErrUnknownPair, pair)
	}
	return meta, nil
}

// SplitPair returns the base and quote currencies of a pair, whether or not
// it is registered.
func SplitPair(pair string) (base, quote string, err error) {
	p := NormalizePair(pair)
	if meta, ok := Instruments[p]; ok {
		return meta.BaseCurrency, meta.QuoteCurrency, nil
	}
	parts := strings.Split(p, "_")
	if len(parts) != 2 || len(parts[0]) != 3 || len(parts[1]) != 3 {
		return "", "", fmt.Errorf("%w: %q", hedge.ErrUnknownPair, pair)
	}
	return parts[0], parts[1], nil
}
