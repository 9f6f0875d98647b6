// Package bitly is a small adapter over the bitly v3 REST API exposing only
// the calls needed to discover links and fetch their click history.
package bitly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultBaseURL = "https://api-ssl.bitly.com"
	defaultTimeout = 30 * time.Second

	UnitHour = "hour"
	UnitDay  = "day"
)

// Throttle limits how fast calls leave the process.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	Throttle    Throttle
	Logger      *zap.Logger
	// HTTPClient replaces the token-authenticated client, mainly for tests.
	HTTPClient *http.Client
}

// Client calls the bitly API.
type Client struct {
	baseURL  string
	http     *http.Client
	throttle Throttle
	logger   *zap.Logger
}

// SearchResult is one link returned by a domain search.
type SearchResult struct {
	AggregateLink string `json:"aggregate_link"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Domain        string `json:"domain"`
}

// LinkInfo describes the destination of a single short link.
type LinkInfo struct {
	ShortLink    string
	CanonicalURL string
	Title        string
}

type envelope struct {
	StatusCode int             `json:"status_code"`
	StatusText string          `json:"status_txt"`
	Data       json.RawMessage `json:"data"`
}

// New builds a Client that authenticates every call with the access token.
func New(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		if opts.AccessToken == "" {
			return nil, ErrMissingToken
		}
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(context.Background(), src)
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient.Timeout = timeout
	}

	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:  baseURL,
		http:     httpClient,
		throttle: opts.Throttle,
		logger:   logger,
	}, nil
}

// Search returns links pointing at domain.
func (c *Client) Search(ctx context.Context, domain, query string, limit int) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("domain", domain)
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("fields", "aggregate_link,url,title,domain")

	var data struct {
		Results []SearchResult `json:"results"`
	}
	if err := c.call(ctx, "/v3/search", params, &data); err != nil {
		return nil, fmt.Errorf("search %s: %w", domain, err)
	}
	return data.Results, nil
}

// LinkInfo looks up the canonical destination and page title of shortLink.
func (c *Client) LinkInfo(ctx context.Context, shortLink string) (LinkInfo, error) {
	params := url.Values{}
	params.Set("link", shortLink)

	var data struct {
		CanonicalURL string `json:"canonical_url"`
		HTMLTitle    string `json:"html_title"`
	}
	if err := c.call(ctx, "/v3/link/info", params, &data); err != nil {
		return LinkInfo{}, fmt.Errorf("link info %s: %w", shortLink, err)
	}
	return LinkInfo{
		ShortLink:    shortLink,
		CanonicalURL: data.CanonicalURL,
		Title:        data.HTMLTitle,
	}, nil
}

// Clicks fetches the full click history of shortLink bucketed by unit. With
// rollup disabled the API returns one bucket per unit instead of a total,
// including every hour without traffic. Only buckets with clicks are kept,
// so the last sample of a series is the last time the link saw traffic.
func (c *Client) Clicks(ctx context.Context, shortLink, unit string, rollup bool) ([]model.Sample, error) {
	if unit == "" {
		unit = UnitHour
	}
	params := url.Values{}
	params.Set("link", shortLink)
	params.Set("unit", unit)
	params.Set("units", "-1")
	params.Set("rollup", strconv.FormatBool(rollup))

	var data struct {
		LinkClicks []struct {
			Clicks int64 `json:"clicks"`
			DT     int64 `json:"dt"`
		} `json:"link_clicks"`
	}
	if err := c.call(ctx, "/v3/link/clicks", params, &data); err != nil {
		return nil, fmt.Errorf("clicks %s: %w", shortLink, err)
	}

	samples := make([]model.Sample, 0, len(data.LinkClicks))
	for _, bucket := range data.LinkClicks {
		if bucket.Clicks == 0 {
			continue
		}
		if bucket.Clicks < 0 {
			c.logger.Warn("dropping bucket with negative clicks",
				zap.String("short_link", shortLink),
				zap.Int64("dt", bucket.DT),
				zap.Int64("clicks", bucket.Clicks),
			)
			continue
		}
		samples = append(samples, model.Sample{
			Time:   time.Unix(bucket.DT, 0).UTC(),
			Clicks: bucket.Clicks,
		})
	}
	return samples, nil
}

func (c *Client) call(ctx context.Context, path string, params url.Values, out any) error {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			return fmt.Errorf("throttle: %w", err)
		}
	}

	endpoint := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	code := env.StatusCode
	if code == 0 {
		code = resp.StatusCode
	}
	if code != http.StatusOK {
		return &APIError{StatusCode: code, StatusText: env.StatusText}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
