package importer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Fetcher downloads a published calendar.
type Fetcher struct {
	client *resty.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	c := resty.New().
		SetHeader("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.1").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Fetcher{client: c}
}

// Fetch returns the document body. webcal:// links are fetched over https.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	url = strings.TrimSpace(url)
	if rest, ok := strings.CutPrefix(url, "webcal://"); ok {
		url = "https://" + rest
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("unsupported calendar url %q", url)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch calendar: status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}
