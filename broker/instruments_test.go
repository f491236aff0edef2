package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRows() []Instrument {
	return []Instrument{
		{InstrumentKey: "NSE_INDEX|Nifty 50", Name: "NIFTY", InstrumentType: "INDEX"},
		{InstrumentKey: "NSE_FO|51001", TradingSymbol: "NIFTY25SEP24450CE", Name: "NIFTY",
			Expiry: "2025-09-25", Strike: 24450, InstrumentType: "OPTIDX", OptionType: "CE", LastPrice: 180},
		{InstrumentKey: "NSE_FO|51002", TradingSymbol: "NIFTY25SEP24450PE", Name: "NIFTY",
			Expiry: "2025-09-25", Strike: 24450, InstrumentType: "OPTIDX", OptionType: "PE", LastPrice: 95},
		{InstrumentKey: "NSE_FO|52001", TradingSymbol: "NIFTY25OCT24500CE", Name: "NIFTY",
			Expiry: "2025-10-30", Strike: 24500, InstrumentType: "OPTIDX", OptionType: "CE", LastPrice: 310},
		// A different underlying is filtered out.
		{InstrumentKey: "NSE_FO|60001", TradingSymbol: "BANKNIFTY25SEP52000CE", Name: "BANKNIFTY",
			Expiry: "2025-09-25", Strike: 52000, InstrumentType: "OPTIDX", OptionType: "CE"},
	}
}

func TestInstrumentStoreLoad(t *testing.T) {
	store := NewInstrumentStore()
	store.Load(testRows(), []string{"NIFTY"})

	inst, ok := store.Get("NSE_INDEX|Nifty 50")
	require.True(t, ok)
	assert.Equal(t, "NIFTY", inst.Name)

	assert.Equal(t, []string{"2025-09-25", "2025-10-30"}, store.Expiries("NIFTY"))
	assert.Empty(t, store.Expiries("BANKNIFTY"), "unrequested underlyings are not indexed")
}

func TestInstrumentStoreChain(t *testing.T) {
	store := NewInstrumentStore()
	store.Load(testRows(), []string{"NIFTY"})

	chain := store.Chain("NIFTY", "2025-09-25")
	require.Len(t, chain, 1)

	strike := chain[0]
	assert.Equal(t, 24450.0, strike.Strike)
	assert.Equal(t, "NSE_FO|51001", strike.CallKey)
	assert.Equal(t, "NSE_FO|51002", strike.PutKey)
	assert.Equal(t, 180.0, strike.CallLTP)
	assert.Equal(t, 95.0, strike.PutLTP)

	assert.Nil(t, store.Chain("NIFTY", "2099-01-01"))
}

func TestInstrumentStoreChainSortedByStrike(t *testing.T) {
	rows := []Instrument{
		{InstrumentKey: "k3", Name: "NIFTY", Expiry: "2025-09-25", Strike: 24600, InstrumentType: "OPTIDX", OptionType: "CE"},
		{InstrumentKey: "k1", Name: "NIFTY", Expiry: "2025-09-25", Strike: 24400, InstrumentType: "OPTIDX", OptionType: "CE"},
		{InstrumentKey: "k2", Name: "NIFTY", Expiry: "2025-09-25", Strike: 24500, InstrumentType: "OPTIDX", OptionType: "CE"},
	}

	store := NewInstrumentStore()
	store.Load(rows, []string{"NIFTY"})

	chain := store.Chain("NIFTY", "2025-09-25")
	require.Len(t, chain, 3)
	assert.Equal(t, 24400.0, chain[0].Strike)
	assert.Equal(t, 24500.0, chain[1].Strike)
	assert.Equal(t, 24600.0, chain[2].Strike)
}
