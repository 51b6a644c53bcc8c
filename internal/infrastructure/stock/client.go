// Package stock fetches quotes from a stooq-style CSV endpoint.
package stock

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrQuoteSource wraps every failure to obtain a quote other than an
// unknown symbol.
var ErrQuoteSource = errors.New("quote source failure")

const (
	closeColumn  = 6
	notAvailable = "N/D"
	maxBodyBytes = 64 << 10
)

// QuoteSource maps a stock symbol to a formatted quote. An empty string
// with a nil error means the symbol is not recognized.
type QuoteSource interface {
	GetQuote(ctx context.Context, stockCode string) (string, error)
}

type Config struct {
	BaseURL    string
	Format     string
	Headers    bool
	Export     string
	Timeout    time.Duration
	MaxRetries int
	// RetryInterval is the first backoff between attempts.
	RetryInterval time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
	logger logging.Logger
}

var _ QuoteSource = (*Client)(nil)

func NewClient(cfg Config, logger logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}

	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(&http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			}),
		},
		logger: logger,
	}
}

func (c *Client) GetQuote(ctx context.Context, stockCode string) (string, error) {
	endpoint, err := c.buildURL(stockCode)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrQuoteSource, err)
	}

	var policy backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.cfg.RetryInterval),
		backoff.WithMaxElapsedTime(0),
	)
	policy = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries)), ctx)

	attempt := 0
	body, err := backoff.RetryWithData(func() ([]byte, error) {
		attempt++
		b, err := c.fetch(ctx, endpoint)
		if err != nil {
			c.logger.Warn(logging.Stock, logging.QuoteLookup, "quote request failed", map[logging.ExtraKey]any{
				logging.StockCode:    stockCode,
				logging.Attempt:      attempt,
				logging.ErrorMessage: err.Error(),
			})
		}
		return b, err
	}, policy)
	if err != nil {
		return "", fmt.Errorf("%w: %s after %d attempts: %w", ErrQuoteSource, stockCode, attempt, err)
	}

	quote, err := parseQuote(body, stockCode)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrQuoteSource, err)
	}

	c.logger.Debug(logging.Stock, logging.QuoteLookup, "quote fetched", map[logging.ExtraKey]any{
		logging.StockCode: stockCode,
		"found":           quote != "",
	})

	return quote, nil
}

func (c *Client) buildURL(stockCode string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("base url %q is not absolute", c.cfg.BaseURL)
	}

	h := "0"
	if c.cfg.Headers {
		h = "1"
	}

	q := u.Query()
	q.Set("s", stockCode)
	q.Set("f", c.cfg.Format)
	q.Set("h", h)
	q.Set("e", c.cfg.Export)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// fetch performs one request. 4xx responses are not retried.
func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// parseQuote reads the first data row of a Symbol,Date,Time,Open,High,Low,
// Close,Volume CSV. A close of N/D means the symbol is unknown.
func parseQuote(body []byte, stockCode string) (string, error) {
	r := csv.NewReader(strings.NewReader(string(body)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return "", fmt.Errorf("csv has no data row")
	}

	row := records[1]
	if len(row) <= closeColumn {
		return "", fmt.Errorf("csv row has %d columns, want at least %d", len(row), closeColumn+1)
	}

	closing := strings.TrimSpace(row[closeColumn])
	if strings.EqualFold(closing, notAvailable) {
		return "", nil
	}

	price, err := strconv.ParseFloat(closing, 64)
	if err != nil {
		return "", fmt.Errorf("parse close price %q: %w", closing, err)
	}

	return FormatQuote(stockCode, price), nil
}

// FormatQuote renders the chat text for a successful lookup.
func FormatQuote(stockCode string, price float64) string {
	return fmt.Sprintf("%s quote is $%.2f per share", strings.ToUpper(stockCode), price)
}
