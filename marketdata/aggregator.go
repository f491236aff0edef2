package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"optiondesk/broker"
	"optiondesk/cache"
	"optiondesk/db"
	"optiondesk/logger"
)

// NiftyKey is the internal instrument key for the NIFTY 50 spot index.
const NiftyKey = "NSE_INDEX|Nifty 50"

var (
	// ErrNoActiveConnection is returned by Initialize when the user has no
	// active broker connection or its token has already expired.
	ErrNoActiveConnection = errors.New("no active broker connection")

	// ErrNotConnected is returned by Subscribe while the aggregator is not
	// in the connected state.
	ErrNotConnected = errors.New("not connected to live data")
)

// QuoteSource fetches batched quotes. *broker.Client satisfies it.
type QuoteSource interface {
	GetQuotes(ctx context.Context, accessToken string, instrumentKeys []string) (map[string]broker.Quote, error)
}

// TokenSource resolves a user's current access token.
// *connection.Manager satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, time.Time, error)
}

// TickUpdate is one applied poll update, delivered to subscribers.
type TickUpdate struct {
	InstrumentKey string         `json:"instrument_key"`
	Data          LiveMarketData `json:"data"`
}

// Aggregator merges polled broker ticks into an in-memory map keyed by
// instrument key, tracks the connection state machine and fans updates out
// to registered subscribers. Construct with New and tear down with Close;
// there is no package-level instance.
type Aggregator struct {
	quotes       QuoteSource
	tokens       TokenSource
	snapshots    *cache.RedisCache
	pollInterval time.Duration
	log          *logger.Logger

	mu          sync.RWMutex
	status      ConnectionStatus
	userID      string
	accessToken string
	ticks       map[string]LiveMarketData
	subs        map[string]struct{}
	generation  uint64 // bumped on disconnect; stale poll responses are dropped
	pollCancel  context.CancelFunc

	subMu       sync.RWMutex
	subscribers []chan *TickUpdate
}

// New wires an aggregator. snapshots may be nil to skip Redis LTP
// publication (tests run without Redis).
func New(quotes QuoteSource, tokens TokenSource, snapshots *cache.RedisCache, pollInterval time.Duration) *Aggregator {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Aggregator{
		quotes:       quotes,
		tokens:       tokens,
		snapshots:    snapshots,
		pollInterval: pollInterval,
		log:          logger.L(),
		status:       StatusDisconnected,
		ticks:        make(map[string]LiveMarketData),
		subs:         make(map[string]struct{}),
	}
}

// Status returns the current connection status.
func (a *Aggregator) Status() ConnectionStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// IsConnected reports whether the aggregator is in the connected state.
func (a *Aggregator) IsConnected() bool {
	return a.Status() == StatusConnected
}

func (a *Aggregator) setStatus(status ConnectionStatus) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
}

// Initialize loads the user's active connection, verifies the feed with a
// test poll and starts the poll loop. The aggregator moves through
// connecting to connected, or to error if the test poll fails.
func (a *Aggregator) Initialize(ctx context.Context, userID string) error {
	// A repeated Initialize replaces the poll loop; stop the old one
	// before its cancel func is overwritten.
	a.mu.Lock()
	if a.pollCancel != nil {
		a.pollCancel()
		a.pollCancel = nil
	}
	a.status = StatusConnecting
	a.mu.Unlock()

	token, _, err := a.tokens.AccessToken(ctx, userID)
	if err != nil {
		a.setStatus(StatusError)
		if errors.Is(err, db.ErrNotFound) {
			return ErrNoActiveConnection
		}
		return fmt.Errorf("failed to resolve access token: %w", err)
	}

	a.mu.Lock()
	a.userID = userID
	a.accessToken = token
	a.subs[NiftyKey] = struct{}{}
	gen := a.generation
	a.mu.Unlock()

	// Test poll before declaring the feed live.
	if err := a.pollOnce(ctx, gen); err != nil {
		a.setStatus(StatusError)
		return fmt.Errorf("initial poll failed: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.pollCancel = cancel
	a.status = StatusConnected
	a.mu.Unlock()

	go a.pollLoop(pollCtx, gen)

	a.log.Info("Live data aggregator connected", map[string]interface{}{
		"user":          userID,
		"poll_interval": a.pollInterval.String(),
	})
	return nil
}

// Reconnect re-runs Initialize from the error or disconnected state.
func (a *Aggregator) Reconnect(ctx context.Context, userID string) error {
	a.Disconnect()
	a.setStatus(StatusReconnecting)
	return a.Initialize(ctx, userID)
}

// Subscribe adds instrument keys to the poll set. The next tick includes
// them in the batched quote request.
func (a *Aggregator) Subscribe(instrumentKeys ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusConnected {
		return ErrNotConnected
	}
	for _, key := range instrumentKeys {
		a.subs[NormalizeKey(key)] = struct{}{}
	}
	return nil
}

// Unsubscribe removes instrument keys from the poll set.
func (a *Aggregator) Unsubscribe(instrumentKeys ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, key := range instrumentKeys {
		delete(a.subs, NormalizeKey(key))
	}
}

// Subscriptions returns the current subscription set.
func (a *Aggregator) Subscriptions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.subs))
	for key := range a.subs {
		keys = append(keys, key)
	}
	return keys
}

// GetMarketData returns the latest tick for an instrument key, or nil if
// nothing has arrived yet. A nil result means "no data yet", not an error.
func (a *Aggregator) GetMarketData(instrumentKey string) *LiveMarketData {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if data, ok := a.ticks[NormalizeKey(instrumentKey)]; ok {
		copied := data
		return &copied
	}
	return nil
}

// GetNiftyData returns the latest NIFTY 50 spot tick, or nil.
func (a *Aggregator) GetNiftyData() *LiveMarketData {
	return a.GetMarketData(NiftyKey)
}

// SubscribeUpdates registers a channel receiving every applied tick update.
func (a *Aggregator) SubscribeUpdates() chan *TickUpdate {
	ch := make(chan *TickUpdate, 64)
	a.subMu.Lock()
	a.subscribers = append(a.subscribers, ch)
	a.subMu.Unlock()
	return ch
}

// UnsubscribeUpdates removes and closes a subscriber channel.
func (a *Aggregator) UnsubscribeUpdates(ch chan *TickUpdate) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for i, sub := range a.subscribers {
		if sub == ch {
			a.subscribers = append(a.subscribers[:i], a.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (a *Aggregator) notify(update *TickUpdate) {
	a.subMu.RLock()
	defer a.subMu.RUnlock()
	for _, ch := range a.subscribers {
		select {
		case ch <- update:
		default:
			// Slow subscribers miss updates rather than stalling the poll.
		}
	}
}

// Disconnect stops the poll loop, clears the tick map and subscription set
// and resets the status to disconnected.
func (a *Aggregator) Disconnect() {
	a.mu.Lock()
	if a.pollCancel != nil {
		a.pollCancel()
		a.pollCancel = nil
	}
	a.generation++
	a.ticks = make(map[string]LiveMarketData)
	a.subs = make(map[string]struct{})
	a.status = StatusDisconnected
	a.mu.Unlock()

	a.log.Info("Live data aggregator disconnected", nil)
}

// Close disconnects and releases all subscriber channels.
func (a *Aggregator) Close() {
	a.Disconnect()

	a.subMu.Lock()
	for _, ch := range a.subscribers {
		close(ch)
	}
	a.subscribers = nil
	a.subMu.Unlock()
}

func (a *Aggregator) pollLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.pollOnce(ctx, gen); err != nil {
				// The next tick retries; there is no backoff beyond the
				// fixed interval.
				a.log.Debug("Poll tick failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// pollOnce performs one batched quote request for the full subscription set
// and applies the results. Responses that complete after a disconnect
// (generation mismatch) are dropped instead of repopulating the cleared map.
func (a *Aggregator) pollOnce(ctx context.Context, gen uint64) error {
	a.mu.RLock()
	token := a.accessToken
	userID := a.userID
	keys := make([]string, 0, len(a.subs))
	for key := range a.subs {
		keys = append(keys, DenormalizeKey(key))
	}
	a.mu.RUnlock()

	if len(keys) == 0 {
		return nil
	}

	quotes, err := a.quotes.GetQuotes(ctx, token, keys)
	if err != nil {
		if broker.IsUnauthorized(err) {
			// Token likely expired. The caller decides whether to refresh
			// and reconnect; the aggregator only downgrades its state.
			a.setStatus(StatusError)
			a.log.Error("Poll rejected with 401, token likely expired", map[string]interface{}{
				"user": userID,
			})
		}
		return err
	}

	a.mu.Lock()
	if a.generation != gen {
		a.mu.Unlock()
		return nil
	}
	updates := make([]*TickUpdate, 0, len(quotes))
	for rawKey, quote := range quotes {
		key := NormalizeKey(rawKey)
		entry := a.ticks[key]
		entry.InstrumentKey = key
		patch := patchFromQuote(quote)
		patch.Apply(&entry)
		a.ticks[key] = entry
		updates = append(updates, &TickUpdate{InstrumentKey: key, Data: entry})
	}
	a.mu.Unlock()

	for _, update := range updates {
		a.notify(update)
		if a.snapshots != nil && update.Data.LTP > 0 {
			if err := a.snapshots.StoreLTP(ctx, update.InstrumentKey, update.Data.LTP); err != nil {
				a.log.Debug("Failed to publish LTP snapshot", map[string]interface{}{
					"error": err.Error(),
					"key":   update.InstrumentKey,
				})
			}
		}
	}
	return nil
}
