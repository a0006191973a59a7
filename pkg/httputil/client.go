// Package httputil provides shared HTTP client utilities.
package httputil

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultRetryCount   = 3
	DefaultRetryWait    = 500 * time.Millisecond
	DefaultRetryMaxWait = 5 * time.Second
)

// NewDefaultRestyClient returns a resty client with the broker's timeout and
// retry settings. Only 429 and 503 answers are retried: the request was
// refused before processing, so a retried send cannot deliver twice.
func NewDefaultRestyClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return resty.New().
		SetTimeout(timeout).
		SetRetryCount(DefaultRetryCount).
		SetRetryWaitTime(DefaultRetryWait).
		SetRetryMaxWaitTime(DefaultRetryMaxWait).
		SetHeader("User-Agent", "whatsapp-broker/1.0").
		AddRetryCondition(Refused)
}

// Refused reports whether the server turned the request away unprocessed.
func Refused(r *resty.Response, err error) bool {
	if err != nil || r == nil {
		return false
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() == http.StatusServiceUnavailable
}
