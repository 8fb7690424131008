// Package cosmos provides a client for the Bluesoft Cosmos product catalog
// API, plus a credential rotator that survives per-token daily quotas.
package cosmos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Sentinel outcomes callers branch on. Anything else is a hard error.
var (
	// ErrNotFound means the catalog has no entry for the GTIN or query.
	ErrNotFound = eris.New("cosmos: product not found")
	// ErrQuotaExceeded means the token used for the request is out of quota.
	ErrQuotaExceeded = eris.New("cosmos: token quota exceeded")
)

// Client defines the Cosmos catalog operations. The token travels per call
// so the rotator can retry the same request under a different credential.
type Client interface {
	// ProductByGTIN looks up a product by barcode.
	ProductByGTIN(ctx context.Context, token, gtin string) (*Product, error)
	// Search queries the catalog by free text and returns ranked candidates.
	Search(ctx context.Context, token, query string) ([]Product, error)
}

// Product is a catalog entry.
type Product struct {
	Description string `json:"description"`
	GTIN        int64  `json:"gtin"`
	Thumbnail   string `json:"thumbnail"`
	Brand       Brand  `json:"brand"`
	NCM         NCM    `json:"ncm"`
}

// Brand holds the manufacturer name.
type Brand struct {
	Name string `json:"name"`
}

// NCM is the fiscal classification attached to a catalog entry.
type NCM struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Barcode returns the GTIN as the string form used everywhere else.
func (p Product) Barcode() string {
	if p.GTIN == 0 {
		return ""
	}
	return strconv.FormatInt(p.GTIN, 10)
}

type searchResponse struct {
	Products []Product `json:"products"`
}

// Option configures the Cosmos client.
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

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new Cosmos catalog client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://api.cosmos.bluesoft.com.br",
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ProductByGTIN(ctx context.Context, token, gtin string) (*Product, error) {
	reqURL := fmt.Sprintf("%s/gtins/%s.json", c.baseURL, url.PathEscape(gtin))

	body, status, err := c.get(ctx, token, reqURL)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(status, body); err != nil {
		return nil, err
	}

	var p Product
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "cosmos: unmarshal product")
	}
	return &p, nil
}

func (c *httpClient) Search(ctx context.Context, token, query string) ([]Product, error) {
	reqURL := fmt.Sprintf("%s/products?query=%s", c.baseURL, url.QueryEscape(query))

	body, status, err := c.get(ctx, token, reqURL)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(status, body); err != nil {
		return nil, err
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "cosmos: unmarshal search response")
	}
	if len(result.Products) == 0 {
		return nil, ErrNotFound
	}
	return result.Products, nil
}

func (c *httpClient) get(ctx context.Context, token, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "cosmos: create request")
	}
	req.Header.Set("X-Cosmos-Token", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "cosmos: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "cosmos: read response body")
	}
	return body, resp.StatusCode, nil
}

// classifyStatus maps the API status codes onto the sentinel outcomes.
// Cosmos answers 404 for unknown GTINs and 429 (or 402 on expired plans)
// once a token burns through its daily quota.
func classifyStatus(status int, body []byte) error {
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return ErrQuotaExceeded
	default:
		return eris.Errorf("cosmos: unexpected status %d: %s", status, string(body))
	}
}
