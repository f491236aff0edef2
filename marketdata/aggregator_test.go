package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"optiondesk/broker"
	"optiondesk/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuotes struct {
	mu      sync.Mutex
	byCall  []map[string]broker.Quote
	err     error
	calls   int
	gotKeys []string
}

func (f *fakeQuotes) GetQuotes(ctx context.Context, token string, keys []string) (map[string]broker.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotKeys = keys
	if f.err != nil {
		return nil, f.err
	}
	if len(f.byCall) == 0 {
		return map[string]broker.Quote{}, nil
	}
	resp := f.byCall[0]
	if len(f.byCall) > 1 {
		f.byCall = f.byCall[1:]
	}
	return resp, nil
}

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) AccessToken(ctx context.Context, userID string) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return f.token, time.Now().Add(time.Hour), nil
}

func niftyQuote(ltp float64, volume int64) map[string]broker.Quote {
	var q broker.Quote
	q.LastPrice = ltp
	q.NetChange = 50
	q.PercentChange = 0.2
	q.Volume = volume
	return map[string]broker.Quote{"NSE_INDEX:Nifty 50": q}
}

// Long poll interval keeps the background loop out of the way; tests drive
// polls explicitly through Initialize.
func newTestAggregator(quotes QuoteSource, tokens TokenSource) *Aggregator {
	return New(quotes, tokens, nil, time.Hour)
}

func TestInitializeConnectsAndNormalizesKeys(t *testing.T) {
	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{niftyQuote(24500, 700000)}}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	require.NoError(t, agg.Initialize(context.Background(), "user-1"))
	assert.Equal(t, StatusConnected, agg.Status())
	assert.True(t, agg.IsConnected())

	// The broker keyed the response with ':'; lookups use the internal
	// '|' form.
	data := agg.GetMarketData("NSE_INDEX|Nifty 50")
	require.NotNil(t, data)
	assert.Equal(t, 24500.0, data.LTP)
	assert.Equal(t, int64(700000), data.Volume)

	assert.NotNil(t, agg.GetNiftyData())
}

func TestInitializeNoActiveConnection(t *testing.T) {
	agg := newTestAggregator(&fakeQuotes{}, &fakeTokens{err: db.ErrNotFound})
	defer agg.Close()

	err := agg.Initialize(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrNoActiveConnection)
	assert.Equal(t, StatusError, agg.Status())
}

func TestInitializeTestPollFailure(t *testing.T) {
	quotes := &fakeQuotes{err: errors.New("connection refused")}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	err := agg.Initialize(context.Background(), "user-1")
	require.Error(t, err)
	assert.Equal(t, StatusError, agg.Status())
}

func TestPollUnauthorizedDowngradesStatus(t *testing.T) {
	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{niftyQuote(24500, 700000)}}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	require.NoError(t, agg.Initialize(context.Background(), "user-1"))

	// The next poll is rejected with a 401: the aggregator flips to error
	// but does not refresh or reconnect on its own.
	quotes.mu.Lock()
	quotes.err = &broker.HTTPError{StatusCode: 401, Message: "token expired"}
	quotes.mu.Unlock()

	err := agg.pollOnce(context.Background(), agg.generation)
	require.Error(t, err)
	assert.True(t, broker.IsUnauthorized(err))
	assert.Equal(t, StatusError, agg.Status())
	assert.False(t, agg.IsConnected())
}

func TestSubscribeRequiresConnection(t *testing.T) {
	agg := newTestAggregator(&fakeQuotes{}, &fakeTokens{token: "tok"})
	defer agg.Close()

	err := agg.Subscribe("NSE_FO|51003")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubscribeAddsToPollSet(t *testing.T) {
	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{niftyQuote(24500, 700000)}}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	require.NoError(t, agg.Initialize(context.Background(), "user-1"))
	require.NoError(t, agg.Subscribe("NSE_FO:51003", "NSE_FO|51004"))

	subs := agg.Subscriptions()
	assert.ElementsMatch(t, []string{"NSE_INDEX|Nifty 50", "NSE_FO|51003", "NSE_FO|51004"}, subs)

	// Outgoing request keys use the broker's ':' form.
	require.NoError(t, agg.pollOnce(context.Background(), agg.generation))
	quotes.mu.Lock()
	defer quotes.mu.Unlock()
	assert.Contains(t, quotes.gotKeys, "NSE_FO:51003")
	assert.Contains(t, quotes.gotKeys, "NSE_INDEX:Nifty 50")
}

func TestUnsubscribeShrinksPollSet(t *testing.T) {
	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{niftyQuote(24500, 700000)}}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	require.NoError(t, agg.Initialize(context.Background(), "user-1"))
	require.NoError(t, agg.Subscribe("NSE_FO|51003"))
	agg.Unsubscribe("NSE_FO|51003")

	assert.ElementsMatch(t, []string{"NSE_INDEX|Nifty 50"}, agg.Subscriptions())
}

func TestPollMergesInsteadOfReplacing(t *testing.T) {
	first := niftyQuote(24500, 700000)
	// Second response omits volume; the previous value must survive.
	var second broker.Quote
	second.LastPrice = 24510
	second.NetChange = 60

	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{
		first,
		{"NSE_INDEX:Nifty 50": second},
	}}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	require.NoError(t, agg.Initialize(context.Background(), "user-1"))
	require.NoError(t, agg.pollOnce(context.Background(), agg.generation))

	data := agg.GetMarketData("NSE_INDEX|Nifty 50")
	require.NotNil(t, data)
	assert.Equal(t, 24510.0, data.LTP)
	assert.Equal(t, int64(700000), data.Volume, "absent volume keeps last known value")
}

func TestDisconnectClearsState(t *testing.T) {
	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{niftyQuote(24500, 700000)}}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	require.NoError(t, agg.Initialize(context.Background(), "user-1"))
	require.NotNil(t, agg.GetNiftyData())

	agg.Disconnect()
	assert.Equal(t, StatusDisconnected, agg.Status())
	assert.Nil(t, agg.GetNiftyData())
	assert.Empty(t, agg.Subscriptions())
}

func TestStalePollResponseDroppedAfterDisconnect(t *testing.T) {
	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{niftyQuote(24500, 700000)}}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	require.NoError(t, agg.Initialize(context.Background(), "user-1"))
	staleGen := agg.generation

	agg.Disconnect()

	// A response from before the disconnect must not repopulate the map.
	agg.mu.Lock()
	agg.subs[NiftyKey] = struct{}{}
	agg.mu.Unlock()
	require.NoError(t, agg.pollOnce(context.Background(), staleGen))
	assert.Nil(t, agg.GetNiftyData())
}

func TestReconnectRunsInitializeAgain(t *testing.T) {
	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{
		niftyQuote(24500, 700000),
		niftyQuote(24600, 710000),
	}}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	require.NoError(t, agg.Initialize(context.Background(), "user-1"))
	require.NoError(t, agg.Reconnect(context.Background(), "user-1"))

	assert.Equal(t, StatusConnected, agg.Status())
	require.NotNil(t, agg.GetNiftyData())
}

func TestInitializeAgainStopsPreviousLoop(t *testing.T) {
	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{niftyQuote(24500, 700000)}}
	agg := New(quotes, &fakeTokens{token: "tok"}, nil, 20*time.Millisecond)
	defer agg.Close()

	// A second Initialize without a Disconnect must replace the poll
	// loop, not stack a second one on top of it.
	require.NoError(t, agg.Initialize(context.Background(), "user-1"))
	require.NoError(t, agg.Initialize(context.Background(), "user-1"))

	quotes.mu.Lock()
	quotes.calls = 0
	quotes.mu.Unlock()

	time.Sleep(300 * time.Millisecond)

	quotes.mu.Lock()
	calls := quotes.calls
	quotes.mu.Unlock()

	// One 20ms loop makes about 15 requests in 300ms; a leaked second
	// loop would roughly double that.
	assert.Greater(t, calls, 5)
	assert.LessOrEqual(t, calls, 22)
}

func TestSubscribeUpdatesDeliversTicks(t *testing.T) {
	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{niftyQuote(24500, 700000)}}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	ch := agg.SubscribeUpdates()
	require.NoError(t, agg.Initialize(context.Background(), "user-1"))

	select {
	case update := <-ch:
		assert.Equal(t, "NSE_INDEX|Nifty 50", update.InstrumentKey)
		assert.Equal(t, 24500.0, update.Data.LTP)
	case <-time.After(time.Second):
		t.Fatal("no tick update delivered")
	}

	agg.UnsubscribeUpdates(ch)
}

func TestGetMarketDataReturnsNilWhenAbsent(t *testing.T) {
	agg := newTestAggregator(&fakeQuotes{}, &fakeTokens{token: "tok"})
	defer agg.Close()

	// "No data yet" is a nil result, not an error.
	assert.Nil(t, agg.GetMarketData("NSE_FO|99999"))
}

func TestGetMarketDataReturnsCopy(t *testing.T) {
	quotes := &fakeQuotes{byCall: []map[string]broker.Quote{niftyQuote(24500, 700000)}}
	agg := newTestAggregator(quotes, &fakeTokens{token: "tok"})
	defer agg.Close()

	require.NoError(t, agg.Initialize(context.Background(), "user-1"))

	data := agg.GetMarketData(NiftyKey)
	require.NotNil(t, data)
	data.LTP = 1

	fresh := agg.GetMarketData(NiftyKey)
	assert.Equal(t, 24500.0, fresh.LTP, "callers get copies, not map references")
}
