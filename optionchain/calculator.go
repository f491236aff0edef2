package optionchain

import "math"

// Strike grid defaults for NIFTY index options.
const (
	DefaultTickSize    = 50.0
	DefaultStrikeRange = 500.0
	atmWindow          = 25.0
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// Moneyness classifies a strike relative to the underlying.
type Moneyness string

const (
	ATM Moneyness = "ATM"
	ITM Moneyness = "ITM"
	OTM Moneyness = "OTM"
)

// ATMStrike rounds the underlying price to the nearest strike on the grid.
func ATMStrike(underlyingPrice, tickSize float64) float64 {
	if tickSize <= 0 {
		tickSize = DefaultTickSize
	}
	return math.Round(underlyingPrice/tickSize) * tickSize
}

// GenerateStrikes returns the ascending strike grid [atm-rng, atm+rng]
// stepped by step, keeping strictly positive strikes only.
func GenerateStrikes(atm, rng, step float64) []float64 {
	if step <= 0 {
		step = DefaultTickSize
	}
	if rng <= 0 {
		rng = DefaultStrikeRange
	}

	var strikes []float64
	for strike := atm - rng; strike <= atm+rng; strike += step {
		if strike > 0 {
			strikes = append(strikes, strike)
		}
	}
	return strikes
}

// Classify returns the moneyness of a strike. Strikes within 25 points of
// the underlying count as ATM regardless of side.
func Classify(optionType OptionType, underlying, strike float64) Moneyness {
	if math.Abs(underlying-strike) <= atmWindow {
		return ATM
	}
	if optionType == Call {
		if underlying > strike {
			return ITM
		}
		return OTM
	}
	if underlying < strike {
		return ITM
	}
	return OTM
}

// IntrinsicValue is the exercise value of the option, floored at zero.
func IntrinsicValue(optionType OptionType, underlying, strike float64) float64 {
	if optionType == Call {
		return math.Max(0, underlying-strike)
	}
	return math.Max(0, strike-underlying)
}

// TimeValue is the premium above intrinsic value, floored at zero.
func TimeValue(optionType OptionType, optionPrice, underlying, strike float64) float64 {
	return math.Max(0, optionPrice-IntrinsicValue(optionType, underlying, strike))
}

// PCR holds put-call ratios over volume and open interest.
type PCR struct {
	Volume       float64 `json:"volume_pcr"`
	OpenInterest float64 `json:"oi_pcr"`
}

// pcrRatio guards the zero call-side denominator: the ratio is 0, never
// NaN or Inf.
func pcrRatio(putTotal, callTotal int64) float64 {
	if callTotal == 0 {
		return 0
	}
	return float64(putTotal) / float64(callTotal)
}

// CalculatePCR aggregates put-call ratios over a chain.
func CalculatePCR(items []OptionChainItem) PCR {
	var putVolume, callVolume, putOI, callOI int64
	for _, item := range items {
		if item.CallOptions != nil {
			callVolume += item.CallOptions.Volume
			callOI += item.CallOptions.OI
		}
		if item.PutOptions != nil {
			putVolume += item.PutOptions.Volume
			putOI += item.PutOptions.OI
		}
	}
	return PCR{
		Volume:       pcrRatio(putVolume, callVolume),
		OpenInterest: pcrRatio(putOI, callOI),
	}
}
