package main

import (
	"net/http"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// newHTTPClient sizes the idle pool to the virtual user count so workers reuse
// connections instead of dialing per request.
func newHTTPClient(timeout time.Duration, vus int) *http.Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	idle := vus * 2
	if idle < 16 {
		idle = 16
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        idle,
			MaxIdleConnsPerHost: idle,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
