package download

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const userAgent = "psadiag/2 (Go downloader)"

// HTTPClient represents the subset of http.Client used by transfers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client suited to multi-gigabyte bodies: timeout
// bounds connecting and waiting for response headers, never the body itself.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}

	return &http.Client{Transport: transport}
}

// RemoteSize issues a HEAD request and returns the advertised body size, or 0
// when the server does not announce one.
func RemoteSize(ctx context.Context, client HTTPClient, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return 0, errors.New(describeTransportError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.New(describeStatus(resp.StatusCode))
	}
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}

func describeStatus(code int) string {
	switch {
	case code == http.StatusForbidden:
		return "access to the file was refused by the server (HTTP 403)"
	case code == http.StatusNotFound:
		return "the file was not found on the server (HTTP 404)"
	case code == http.StatusInternalServerError:
		return "the server encountered an internal error (HTTP 500)"
	case code == http.StatusBadGateway:
		return "the server is unreachable behind its gateway (HTTP 502)"
	case code == http.StatusServiceUnavailable:
		return "the server is temporarily unavailable (HTTP 503)"
	case code >= 400 && code < 500:
		return fmt.Sprintf("the request was rejected (HTTP %d)", code)
	case code >= 500:
		return fmt.Sprintf("the server failed to answer (HTTP %d)", code)
	default:
		return fmt.Sprintf("unexpected server response (HTTP %d)", code)
	}
}

func describeTransportError(err error) string {
	var (
		netErr net.Error
		dnsErr *net.DNSError
		opErr  *net.OpError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "the connection timed out, check your network connection"
	case errors.As(err, &dnsErr):
		return "the server address could not be resolved, check your network connection"
	case errors.As(err, &opErr):
		return "could not connect to the server, check your network connection"
	default:
		return err.Error()
	}
}
