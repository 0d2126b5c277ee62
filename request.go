package massget

import (
	"context"
	"net/http"
	"time"
)

// DefaultUserAgent is the default user agent to send http request.
const DefaultUserAgent = "massget/1.0"

// DefaultClient is the default http client for massget requests.
var DefaultClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		DisableCompression:  true,
	},
}

// Header is an extra request header sent with every request.
type Header struct {
	Key   string
	Value string
}

// NewRequest returns a new http.Request with the default user agent and extra headers set.
func NewRequest(ctx context.Context, method, URL string, header []Header) (*http.Request, error) {

	req, err := http.NewRequestWithContext(ctx, method, URL, nil)

	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", DefaultUserAgent)

	for _, h := range header {
		req.Header.Set(h.Key, h.Value)
	}

	return req, nil
}
