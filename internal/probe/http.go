package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
)

const maxBodyBytes = 64 * 1024

// HTTPProber issues a GET against URL and succeeds on a 2xx response, or on
// one of Expect when that list is not empty.
type HTTPProber struct {
	client *http.Client
	url    string
	expect []int

	// OnBody, when set, receives up to 64KiB of every successful response
	// body. The probe outcome never depends on it.
	OnBody func([]byte)
}

// NewHTTP constructs an HTTP prober. A nil client uses a fresh http.Client;
// per-request deadlines come from the probe context.
func NewHTTP(client *http.Client, url string, expect ...int) *HTTPProber {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProber{
		client: client,
		url:    url,
		expect: append([]int(nil), expect...),
	}
}

// URL returns the probed address.
func (p *HTTPProber) URL() string {
	return p.url
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	_, _ = io.Copy(io.Discard, resp.Body)

	if len(p.expect) > 0 {
		if !slices.Contains(p.expect, resp.StatusCode) {
			return fmt.Errorf("status=%d", resp.StatusCode)
		}
	} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d", resp.StatusCode)
	}
	if p.OnBody != nil {
		p.OnBody(body)
	}
	return nil
}
