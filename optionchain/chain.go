package optionchain

import (
	"optiondesk/broker"
	"optiondesk/marketdata"
)

// OptionSide is one leg (call or put) of a chain row. InstrumentKey and
// TradingSymbol come from the cached instrument master and are never
// overwritten by live data; CurrentLTP prefers the live tick when present.
type OptionSide struct {
	InstrumentKey  string    `json:"instrument_key"`
	TradingSymbol  string    `json:"trading_symbol"`
	CurrentLTP     float64   `json:"current_ltp"`
	Volume         int64     `json:"volume"`
	OI             int64     `json:"oi"`
	Moneyness      Moneyness `json:"moneyness"`
	IntrinsicValue float64   `json:"intrinsic_value"`
	TimeValue      float64   `json:"time_value"`
	HasLiveData    bool      `json:"has_live_data"`
}

// OptionChainItem is one strike row of the merged chain.
type OptionChainItem struct {
	Strike      float64     `json:"strike"`
	IsATM       bool        `json:"is_atm"`
	CallOptions *OptionSide `json:"call_options,omitempty"`
	PutOptions  *OptionSide `json:"put_options,omitempty"`
}

// LiveLookup resolves the latest tick for an instrument key, or nil when
// no live data has arrived. The aggregator's GetMarketData satisfies it.
type LiveLookup func(instrumentKey string) *marketdata.LiveMarketData

// BuildChain merges the cached static chain with live ticks. For each leg
// the live LTP overrides the cached one when a tick exists; static identity
// fields always come from the instrument master.
func BuildChain(instruments []broker.StrikeInstruments, underlying float64, live LiveLookup) []OptionChainItem {
	atm := ATMStrike(underlying, DefaultTickSize)

	items := make([]OptionChainItem, 0, len(instruments))
	for _, inst := range instruments {
		item := OptionChainItem{
			Strike: inst.Strike,
			IsATM:  inst.Strike == atm,
		}
		if inst.CallKey != "" {
			item.CallOptions = buildSide(Call, inst.CallKey, inst.CallSym, inst.CallLTP, inst.Strike, underlying, live)
		}
		if inst.PutKey != "" {
			item.PutOptions = buildSide(Put, inst.PutKey, inst.PutSym, inst.PutLTP, inst.Strike, underlying, live)
		}
		items = append(items, item)
	}
	return items
}

func buildSide(optionType OptionType, key, symbol string, cachedLTP, strike, underlying float64, live LiveLookup) *OptionSide {
	side := &OptionSide{
		InstrumentKey: key,
		TradingSymbol: symbol,
		CurrentLTP:    cachedLTP,
		Moneyness:     Classify(optionType, underlying, strike),
	}

	if live != nil {
		if tick := live(key); tick != nil {
			side.CurrentLTP = tick.LTP
			side.Volume = tick.Volume
			side.OI = tick.OI
			side.HasLiveData = true
		}
	}

	side.IntrinsicValue = IntrinsicValue(optionType, underlying, strike)
	side.TimeValue = TimeValue(optionType, side.CurrentLTP, underlying, strike)
	return side
}
