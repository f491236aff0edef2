package broker

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"optiondesk/logger"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/pgzip"
)

// Instrument is one row of the broker's instrument master CSV.
type Instrument struct {
	InstrumentKey  string  `csv:"instrument_key"`
	ExchangeToken  string  `csv:"exchange_token"`
	TradingSymbol  string  `csv:"tradingsymbol"`
	Name           string  `csv:"name"`
	LastPrice      float64 `csv:"last_price"`
	Expiry         string  `csv:"expiry"`
	Strike         float64 `csv:"strike"`
	TickSize       float64 `csv:"tick_size"`
	LotSize        int     `csv:"lot_size"`
	InstrumentType string  `csv:"instrument_type"`
	OptionType     string  `csv:"option_type"`
	Exchange       string  `csv:"exchange"`
}

// StrikeInstruments holds the call/put instrument identities at one strike.
type StrikeInstruments struct {
	Strike  float64
	CallKey string
	CallSym string
	CallLTP float64
	PutKey  string
	PutSym  string
	PutLTP  float64
}

// InstrumentStore indexes the downloaded instrument master for option-chain
// construction.
type InstrumentStore struct {
	mu       sync.RWMutex
	byKey    map[string]Instrument
	chains   map[string]map[string][]StrikeInstruments // index -> expiry -> strikes
	expiries map[string][]string                       // index -> sorted expiries
	log      *logger.Logger
}

// NewInstrumentStore returns an empty store; call Download or Load to fill it.
func NewInstrumentStore() *InstrumentStore {
	return &InstrumentStore{
		byKey:    make(map[string]Instrument),
		chains:   make(map[string]map[string][]StrikeInstruments),
		expiries: make(map[string][]string),
		log:      logger.L(),
	}
}

// Download fetches the gzipped instrument master CSV and indexes the
// option rows for the given underlying names.
func (s *InstrumentStore) Download(ctx context.Context, url string, indices []string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download instrument master: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, Message: "instrument master download failed"}
	}

	gz, err := pgzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	var rows []Instrument
	if err := gocsv.Unmarshal(gz, &rows); err != nil {
		return fmt.Errorf("failed to parse instrument master: %w", err)
	}

	s.Load(rows, indices)

	s.log.Info("Instrument master loaded", map[string]interface{}{
		"total_rows": len(rows),
		"indices":    indices,
	})
	return nil
}

// Load indexes the given rows, replacing any previous state. Split out of
// Download so tests can feed rows directly.
func (s *InstrumentStore) Load(rows []Instrument, indices []string) {
	wanted := make(map[string]bool, len(indices))
	for _, name := range indices {
		wanted[strings.ToUpper(name)] = true
	}

	byKey := make(map[string]Instrument, len(rows))
	chains := make(map[string]map[string]map[float64]*StrikeInstruments)

	for _, row := range rows {
		byKey[row.InstrumentKey] = row

		name := strings.ToUpper(row.Name)
		if !wanted[name] || row.InstrumentType != "OPTIDX" || row.Expiry == "" {
			continue
		}

		if chains[name] == nil {
			chains[name] = make(map[string]map[float64]*StrikeInstruments)
		}
		if chains[name][row.Expiry] == nil {
			chains[name][row.Expiry] = make(map[float64]*StrikeInstruments)
		}

		entry := chains[name][row.Expiry][row.Strike]
		if entry == nil {
			entry = &StrikeInstruments{Strike: row.Strike}
			chains[name][row.Expiry][row.Strike] = entry
		}
		switch row.OptionType {
		case "CE":
			entry.CallKey = row.InstrumentKey
			entry.CallSym = row.TradingSymbol
			entry.CallLTP = row.LastPrice
		case "PE":
			entry.PutKey = row.InstrumentKey
			entry.PutSym = row.TradingSymbol
			entry.PutLTP = row.LastPrice
		}
	}

	sorted := make(map[string]map[string][]StrikeInstruments, len(chains))
	expiries := make(map[string][]string, len(chains))
	for name, byExpiry := range chains {
		sorted[name] = make(map[string][]StrikeInstruments, len(byExpiry))
		for expiry, byStrike := range byExpiry {
			strikes := make([]StrikeInstruments, 0, len(byStrike))
			for _, entry := range byStrike {
				strikes = append(strikes, *entry)
			}
			sort.Slice(strikes, func(i, j int) bool {
				return strikes[i].Strike < strikes[j].Strike
			})
			sorted[name][expiry] = strikes
			expiries[name] = append(expiries[name], expiry)
		}
		sort.Strings(expiries[name])
	}

	s.mu.Lock()
	s.byKey = byKey
	s.chains = sorted
	s.expiries = expiries
	s.mu.Unlock()
}

// Get returns the instrument for a key.
func (s *InstrumentStore) Get(key string) (Instrument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.byKey[key]
	return inst, ok
}

// Expiries lists the sorted expiry dates known for an underlying.
func (s *InstrumentStore) Expiries(index string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.expiries[strings.ToUpper(index)]...)
}

// Chain returns the strike-sorted option instruments for an underlying and
// expiry, or nil if unknown.
func (s *InstrumentStore) Chain(index, expiry string) []StrikeInstruments {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byExpiry := s.chains[strings.ToUpper(index)]
	if byExpiry == nil {
		return nil
	}
	return append([]StrikeInstruments(nil), byExpiry[expiry]...)
}
