package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"optiondesk/broker"
	"optiondesk/marketdata"
	"optiondesk/optionchain"
)

func (s *Server) handleLiveConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.aggregator.Initialize(r.Context(), userFrom(r)); err != nil {
		if errors.Is(err, marketdata.ErrNoActiveConnection) {
			SendError(w, http.StatusConflict, err.Error(), "Connect a broker account first")
			return
		}
		SendError(w, http.StatusBadGateway, err.Error(), "Failed to connect to live data")
		return
	}
	SendSuccess(w, map[string]interface{}{"status": s.aggregator.Status()}, "Live data connected")
}

func (s *Server) handleLiveDisconnect(w http.ResponseWriter, r *http.Request) {
	s.aggregator.Disconnect()
	SendSuccess(w, map[string]interface{}{"status": s.aggregator.Status()}, "Live data disconnected")
}

func (s *Server) handleLiveReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.aggregator.Reconnect(r.Context(), userFrom(r)); err != nil {
		if errors.Is(err, marketdata.ErrNoActiveConnection) {
			SendError(w, http.StatusConflict, err.Error(), "Connect a broker account first")
			return
		}
		SendError(w, http.StatusBadGateway, err.Error(), "Failed to reconnect to live data")
		return
	}
	SendSuccess(w, map[string]interface{}{"status": s.aggregator.Status()}, "Live data reconnected")
}

type subscribeRequest struct {
	InstrumentKeys []string `json:"instrument_keys"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendValidationError(w, "Invalid request body")
		return
	}
	if len(req.InstrumentKeys) == 0 {
		SendValidationError(w, "instrument_keys is required")
		return
	}

	if err := s.aggregator.Subscribe(req.InstrumentKeys...); err != nil {
		SendError(w, http.StatusConflict, err.Error(), "Connect to live data first")
		return
	}
	SendSuccess(w, map[string]interface{}{
		"subscriptions": s.aggregator.Subscriptions(),
	}, "Subscribed")
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendValidationError(w, "Invalid request body")
		return
	}

	s.aggregator.Unsubscribe(req.InstrumentKeys...)
	SendSuccess(w, map[string]interface{}{
		"subscriptions": s.aggregator.Subscriptions(),
	}, "Unsubscribed")
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, map[string]interface{}{
		"status":        s.aggregator.Status(),
		"is_connected":  s.aggregator.IsConnected(),
		"subscriptions": s.aggregator.Subscriptions(),
		"market_open":   broker.IsMarketOpen(),
	}, "")
}

func (s *Server) handleGetMarketData(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		SendValidationError(w, "key is required")
		return
	}

	// A nil tick means no data has arrived yet, which is not an error.
	data := s.aggregator.GetMarketData(key)
	SendSuccess(w, data, "")
}

func (s *Server) handleGetNiftyData(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, s.aggregator.GetNiftyData(), "")
}

func (s *Server) handleGetOptionChain(w http.ResponseWriter, r *http.Request) {
	index := r.URL.Query().Get("index")
	if index == "" {
		index = "NIFTY"
	}
	expiry := r.URL.Query().Get("expiry")
	if expiry == "" {
		expiries := s.instruments.Expiries(index)
		if len(expiries) == 0 {
			SendNotFound(w, "Option chain")
			return
		}
		expiry = expiries[0]
	}

	instruments := s.instruments.Chain(index, expiry)
	if len(instruments) == 0 {
		SendNotFound(w, "Option chain")
		return
	}

	var underlying float64
	if tick := s.aggregator.GetNiftyData(); tick != nil {
		underlying = tick.LTP
	}

	chain := optionchain.BuildChain(instruments, underlying, s.aggregator.GetMarketData)
	pcr := optionchain.CalculatePCR(chain)

	SendSuccess(w, map[string]interface{}{
		"index":      index,
		"expiry":     expiry,
		"underlying": underlying,
		"atm_strike": optionchain.ATMStrike(underlying, optionchain.DefaultTickSize),
		"chain":      chain,
		"pcr":        pcr,
	}, "")
}

func (s *Server) handleGetExpiries(w http.ResponseWriter, r *http.Request) {
	index := r.URL.Query().Get("index")
	if index == "" {
		index = "NIFTY"
	}
	SendSuccess(w, map[string]interface{}{
		"index":    index,
		"expiries": s.instruments.Expiries(index),
	}, "")
}

func (s *Server) handleGetMarketStatus(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, map[string]interface{}{
		"market_open": broker.IsMarketOpen(),
		"status":      s.aggregator.Status(),
	}, "")
}

func (s *Server) handleGeneral(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, map[string]interface{}{"lot_sizes": LotSizes}, "")
}
