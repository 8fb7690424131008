// Package openfoodfacts provides a client for the Open Food Facts public
// catalog, the lower-confidence barcode fallback behind Cosmos.
package openfoodfacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrNotFound means the catalog has no entry for the barcode.
var ErrNotFound = eris.New("openfoodfacts: product not found")

// Client defines the Open Food Facts lookup operation.
type Client interface {
	// ProductByBarcode returns the localized product name for a barcode.
	ProductByBarcode(ctx context.Context, barcode string) (*Product, error)
}

// Product is the subset of the catalog entry the resolver consumes.
type Product struct {
	Name   string
	Brands string
}

type productResponse struct {
	Status  int `json:"status"`
	Product struct {
		ProductName   string `json:"product_name"`
		ProductNamePT string `json:"product_name_pt"`
		Brands        string `json:"brands"`
	} `json:"product"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. The public API asks
// unauthenticated clients to stay polite.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Open Food Facts client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://world.openfoodfacts.org",
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ProductByBarcode(ctx context.Context, barcode string) (*Product, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: rate limit wait")
	}

	reqURL := fmt.Sprintf("%s/api/v0/product/%s.json", c.baseURL, url.PathEscape(barcode))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: read response body")
	}

	// The API answers 404 for barcodes it has never seen, and 200 with
	// status 0 for known-but-empty entries. Both mean "not found" here.
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("openfoodfacts: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result productResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: unmarshal response")
	}
	if result.Status != 1 {
		return nil, ErrNotFound
	}

	name := result.Product.ProductNamePT
	if name == "" {
		name = result.Product.ProductName
	}
	if name == "" {
		return nil, ErrNotFound
	}

	return &Product{Name: name, Brands: result.Product.Brands}, nil
}
