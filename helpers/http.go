package helpers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	mathrand "math/rand"
	"net/http"
	"net/url"
	"slices"
	"time"

	apperrors "sjsage522/pricewatch/pkg/errors"

	"golang.org/x/net/html/charset"
)

// Browser-like header values
var (
	userAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	}

	rateLimitStatuses = []int{http.StatusTooManyRequests, 430, http.StatusServiceUnavailable}
)

// maxBodySize caps how much of a product page is read
const maxBodySize = 8 << 20

// Fetcher issues single GET requests for product pages
type Fetcher struct {
	client *http.Client
	rnd    *mathrand.Rand
}

// NewFetcher creates a fetcher whose requests time out after timeout
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		rnd:    mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

// BrowserHeaders returns the header set sent with every product page request
func (f *Fetcher) BrowserHeaders(target string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgents[f.rnd.Intn(len(userAgents))])
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9,en-IN;q=0.8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Referer", "https://www.google.com/")

	// Same-origin referer, as a browser navigating within the shop would send
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		h.Set("Referer", u.Scheme+"://"+u.Host+"/")
	}
	return h
}

// Fetch sends a GET request with browser-like headers and returns the body
// converted to UTF-8. Only a 200 response is a success.
func (f *Fetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.NewFetch(target, "failed to create request", err)
	}
	req.Header = f.BrowserHeaders(target)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.NewFetch(target, "failed to fetch URL", err)
	}
	defer resp.Body.Close()

	// Check for rate limiting
	if slices.Contains(rateLimitStatuses, resp.StatusCode) {
		return nil, apperrors.NewRateLimited(target, resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewFetch(target, fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, apperrors.NewFetch(target, "failed to read response body", err)
	}

	return toUTF8(bodyBytes, resp.Header.Get("Content-Type"))
}

// toUTF8 determines the encoding from the Content-Type header and body content
// and converts the body when it is not UTF-8 already
func toUTF8(body []byte, contentType string) ([]byte, error) {
	encoding, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || name == "UTF-8" {
		return body, nil
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, encoding.NewDecoder().Reader(bytes.NewReader(body))); err != nil {
		return nil, apperrors.NewFetch("", "failed to convert body to UTF-8", err)
	}
	return buf.Bytes(), nil
}
