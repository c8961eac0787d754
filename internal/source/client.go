package source

import (
	"net/http"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/go-resty/resty/v2"
)

// newClient builds the upstream client shared by discovery and fetching.
// Transport errors and any 4xx/5xx other than 404 are retried with
// exponential backoff between RetryWait and RetryMaxWait.
func newClient(cfg *config.FeedConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	client.SetRetryCount(cfg.MaxRetries)
	if cfg.RetryWait > 0 {
		client.SetRetryWaitTime(cfg.RetryWait)
	}
	if cfg.RetryMaxWait > 0 {
		client.SetRetryMaxWaitTime(cfg.RetryMaxWait)
	}
	client.AddRetryCondition(retryable)
	return client
}

func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code >= http.StatusBadRequest && code != http.StatusNotFound
}
