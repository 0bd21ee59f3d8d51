// Package explorer reads transfer history from an Etherscan-compatible
// indexer API.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api-sepolia.etherscan.io/api"
	defaultTimeout = 15 * time.Second

	// Upper bound on a response body; the indexer caps pages well below it.
	maxBodyBytes = 8 << 20
)

// Transfer is one entry of an indexer's transfer list. Value is in the
// currency's smallest unit.
type Transfer struct {
	Hash  string
	From  string
	To    string
	Value *big.Int
}

// Client queries an Etherscan-compatible API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient returns a client for the given API root. An empty baseURL selects
// DefaultBaseURL. Requests go through LoggingTransport.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := logrus.WithField("component", "explorer")
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: NewLoggingTransport(nil, logger),
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type transferJSON struct {
	Hash  string `json:"hash"`
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// Transfers lists native-coin transactions of address, most recent first.
func (c *Client) Transfers(ctx context.Context, address string) ([]Transfer, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	return c.list(ctx, q)
}

// TokenTransfers lists transfers of one token contract involving address,
// most recent first.
func (c *Client) TokenTransfers(ctx context.Context, contract, address string) ([]Transfer, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("contractaddress", contract)
	q.Set("address", address)
	return c.list(ctx, q)
}

func (c *Client) list(ctx context.Context, q url.Values) ([]Transfer, error) {
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("sort", "desc")
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, api key included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("%s %s: %w", q.Get("action"), c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", q.Get("action"), resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", q.Get("action"), err)
	}
	if r.Status != "1" {
		// "No transactions found" also comes back with status 0.
		if strings.HasPrefix(strings.ToLower(r.Message), "no transactions") {
			return []Transfer{}, nil
		}
		return nil, fmt.Errorf("%s: %s: %s", q.Get("action"), r.Message, string(r.Result))
	}

	var raw []transferJSON
	if err := json.Unmarshal(r.Result, &raw); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", q.Get("action"), err)
	}

	out := make([]Transfer, 0, len(raw))
	for _, t := range raw {
		v, ok := new(big.Int).SetString(t.Value, 10)
		if !ok {
			c.logger.WithField("hash", t.Hash).Warn("skipping transfer with unparsable value")
			continue
		}
		out = append(out, Transfer{Hash: t.Hash, From: t.From, To: t.To, Value: v})
	}
	return out, nil
}
