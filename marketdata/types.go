package marketdata

import (
	"strings"
	"time"

	"optiondesk/broker"
)

// ConnectionStatus is the single source of truth for UI gating.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// LiveMarketData is the latest known state of one instrument. Entries are
// ephemeral: mutated only by the poll-result handler, cleared on disconnect,
// never persisted.
type LiveMarketData struct {
	InstrumentKey string    `json:"instrument_key"`
	LTP           float64   `json:"ltp"`
	NetChange     float64   `json:"net_change"`
	PercentChange float64   `json:"percent_change"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Volume        int64     `json:"volume"`
	OI            int64     `json:"oi"`
	BidPrice      float64   `json:"bid_price"`
	AskPrice      float64   `json:"ask_price"`
	BidQuantity   int64     `json:"bid_quantity"`
	AskQuantity   int64     `json:"ask_quantity"`
	PreviousClose float64   `json:"previous_close"`
	Timestamp     time.Time `json:"timestamp"`
}

// TickPatch is a partial update to a LiveMarketData entry. Nil fields leave
// the existing value untouched, so a field temporarily absent from a poll
// response does not erase the last known value.
type TickPatch struct {
	LTP           *float64
	NetChange     *float64
	PercentChange *float64
	High          *float64
	Low           *float64
	Volume        *int64
	OI            *int64
	BidPrice      *float64
	AskPrice      *float64
	BidQuantity   *int64
	AskQuantity   *int64
	PreviousClose *float64
	Timestamp     time.Time
}

// Apply merges the patch into the entry field by field.
func (p *TickPatch) Apply(d *LiveMarketData) {
	if p.LTP != nil {
		d.LTP = *p.LTP
	}
	if p.NetChange != nil {
		d.NetChange = *p.NetChange
	}
	if p.PercentChange != nil {
		d.PercentChange = *p.PercentChange
	}
	if p.High != nil {
		d.High = *p.High
	}
	if p.Low != nil {
		d.Low = *p.Low
	}
	if p.Volume != nil {
		d.Volume = *p.Volume
	}
	if p.OI != nil {
		d.OI = *p.OI
	}
	if p.BidPrice != nil {
		d.BidPrice = *p.BidPrice
	}
	if p.AskPrice != nil {
		d.AskPrice = *p.AskPrice
	}
	if p.BidQuantity != nil {
		d.BidQuantity = *p.BidQuantity
	}
	if p.AskQuantity != nil {
		d.AskQuantity = *p.AskQuantity
	}
	if p.PreviousClose != nil {
		d.PreviousClose = *p.PreviousClose
	}
	if !p.Timestamp.IsZero() {
		d.Timestamp = p.Timestamp
	}
}

// NormalizeKey converts the broker's ':' exchange/segment separator to the
// internal '|' form, e.g. "NSE_INDEX:Nifty 50" -> "NSE_INDEX|Nifty 50".
func NormalizeKey(key string) string {
	return strings.Replace(key, ":", "|", 1)
}

// DenormalizeKey converts an internal key back to the broker's ':' form for
// outgoing requests.
func DenormalizeKey(key string) string {
	return strings.Replace(key, "|", ":", 1)
}

func f64ptr(v float64) *float64 { return &v }
func i64ptr(v int64) *int64     { return &v }

// patchFromQuote builds a patch from one quote. Zero-valued price, volume
// and OI fields are treated as absent; net/percent change ride along with
// last_price and are always applied when it is present.
func patchFromQuote(q broker.Quote) TickPatch {
	patch := TickPatch{Timestamp: time.Now()}

	if ts, err := time.Parse(time.RFC3339, q.Timestamp); err == nil {
		patch.Timestamp = ts
	}

	if q.LastPrice > 0 {
		patch.LTP = f64ptr(q.LastPrice)
		patch.NetChange = f64ptr(q.NetChange)
		patch.PercentChange = f64ptr(q.PercentChange)
	}
	if q.OHLC.High > 0 {
		patch.High = f64ptr(q.OHLC.High)
	}
	if q.OHLC.Low > 0 {
		patch.Low = f64ptr(q.OHLC.Low)
	}
	if q.OHLC.Close > 0 {
		patch.PreviousClose = f64ptr(q.OHLC.Close)
	}
	if q.Volume > 0 {
		patch.Volume = i64ptr(q.Volume)
	}
	if q.OI > 0 {
		patch.OI = i64ptr(q.OI)
	}
	if len(q.Depth.Buy) > 0 {
		patch.BidPrice = f64ptr(q.Depth.Buy[0].Price)
		patch.BidQuantity = i64ptr(q.Depth.Buy[0].Quantity)
	}
	if len(q.Depth.Sell) > 0 {
		patch.AskPrice = f64ptr(q.Depth.Sell[0].Price)
		patch.AskQuantity = i64ptr(q.Depth.Sell[0].Quantity)
	}
	return patch
}
