package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"optiondesk/config"
	"optiondesk/logger"
)

// Client is a stateless wrapper around the broker's REST API. It holds no
// tokens; every call that needs one takes it as an argument.
type Client struct {
	baseURL     string
	authURL     string
	redirectURI string
	httpClient  *http.Client
	log         *logger.Logger
}

// NewClient creates a broker API client.
func NewClient(cfg *config.UpstoxConfig) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		authURL:     cfg.AuthURL,
		redirectURI: cfg.RedirectURI,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		log:         logger.L(),
	}
}

// TokenResponse is the broker's token-exchange payload. Any expires_in the
// broker reports is ignored; see TokenExpiry.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	Email        string `json:"email"`
}

// Profile is the broker's user-profile payload.
type Profile struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	Broker   string `json:"broker"`
	IsActive bool   `json:"is_active"`
}

// Quote is one instrument's entry in a batched quote response.
type Quote struct {
	LastPrice     float64 `json:"last_price"`
	NetChange     float64 `json:"net_change"`
	PercentChange float64 `json:"percent_change"`
	Volume        int64   `json:"volume"`
	OI            int64   `json:"oi"`
	OHLC          struct {
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	} `json:"ohlc"`
	Depth struct {
		Buy []struct {
			Quantity int64   `json:"quantity"`
			Price    float64 `json:"price"`
		} `json:"buy"`
		Sell []struct {
			Quantity int64   `json:"quantity"`
			Price    float64 `json:"price"`
		} `json:"sell"`
	} `json:"depth"`
	Timestamp string `json:"timestamp"`
}

// BuildAuthorizeURL returns the OAuth authorization-dialog URL. The state
// parameter is checked on callback against the initiating user.
func (c *Client) BuildAuthorizeURL(apiKey, state string) string {
	q := url.Values{}
	q.Set("client_id", apiKey)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("state", state)
	q.Set("response_type", "code")
	return c.authURL + "?" + q.Encode()
}

// ExchangeCode swaps an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, apiKey, apiSecret, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", apiKey)
	form.Set("client_secret", apiSecret)
	form.Set("redirect_uri", c.redirectURI)
	form.Set("grant_type", "authorization_code")

	return c.postTokenForm(ctx, "/login/authorization/token", form)
}

// RefreshToken exchanges the stored refresh credential for a new access
// token.
func (c *Client) RefreshToken(ctx context.Context, apiKey, apiSecret, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", apiKey)
	form.Set("client_secret", apiSecret)
	form.Set("grant_type", "refresh_token")

	return c.postTokenForm(ctx, "/login/authorization/token", form)
}

func (c *Client) postTokenForm(ctx context.Context, path string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyResponse, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: token exchange returned no access token", ErrUpstreamOAuth)
	}
	return &token, nil
}

// GetProfile fetches the broker user profile for a token. Used to verify a
// connection end to end.
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/profile", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Status string  `json:"status"`
		Data   Profile `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyResponse, err)
	}
	return &envelope.Data, nil
}

// GetQuotes fetches quotes for all keys in one batched request. Returned
// map keys use the broker's ':' exchange separator, not the internal '|';
// callers normalize.
func (c *Client) GetQuotes(ctx context.Context, accessToken string, instrumentKeys []string) (map[string]Quote, error) {
	if len(instrumentKeys) == 0 {
		return map[string]Quote{}, nil
	}

	q := url.Values{}
	q.Set("instrument_key", strings.Join(instrumentKeys, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/market-quote/quotes?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Status string           `json:"status"`
		Data   map[string]Quote `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyResponse, err)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("%w: quote response had no data", ErrEmptyResponse)
	}
	return envelope.Data, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    extractErrorMessage(body),
		}
		c.log.Debug("Broker request failed", map[string]interface{}{
			"status": resp.StatusCode,
			"path":   req.URL.Path,
			"error":  httpErr.Message,
		})
		return nil, httpErr
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, ErrEmptyResponse
	}
	return body, nil
}
