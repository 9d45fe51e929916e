// Package release reads the remote metadata describing published package
// versions and application releases.
package release

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/logger"
)

const maxMetadataSize = 4 << 20

// Option is one installable package version.
type Option struct {
	Display string
	Version string
	URL     string
}

// Asset is a downloadable file attached to an application release.
type Asset struct {
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
	Size int64  `json:"size"`
}

// HTTPDoer represents the subset of http.Client used here.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches metadata documents with retries.
type Client struct {
	http    HTTPDoer
	log     logger.Logger
	retries uint64
	initial time.Duration
}

// NewClient creates a Client. retries is the number of extra attempts after
// the first one.
func NewClient(httpClient HTTPDoer, log logger.Logger, retries int) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewStandardLogger(logger.WithOutput(io.Discard))
	}
	if retries < 0 {
		retries = 0
	}
	return &Client{
		http:    httpClient,
		log:     log.With(logger.String("component", "release")),
		retries: uint64(retries),
		initial: 500 * time.Millisecond,
	}
}

// LatestVersion reads a {"version": "..."} document.
func (c *Client) LatestVersion(ctx context.Context, url string) (string, error) {
	var doc struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, url, &doc); err != nil {
		return "", err
	}
	if strings.TrimSpace(doc.Version) == "" {
		return "", metadataError(url, "version document has no version", nil)
	}
	return strings.TrimSpace(doc.Version), nil
}

// VersionOptions reads the list of installable versions. Accepted shapes are
// a list, {"versions": [...]} or a single object; list entries are objects
// or [display, version, url] triples. Incomplete entries are skipped.
func (c *Client) VersionOptions(ctx context.Context, url string) ([]Option, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, err
	}

	options, err := ParseOptions(raw)
	if err != nil {
		return nil, metadataError(url, "unrecognised version list", err)
	}
	c.log.Debug("Loaded %d version options", len(options))
	return options, nil
}

// ParseOptions decodes a version list document.
func ParseOptions(data []byte) ([]Option, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	var items []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
	case '{':
		var wrapped struct {
			Versions []json.RawMessage `json:"versions"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		if wrapped.Versions != nil {
			items = wrapped.Versions
		} else {
			items = []json.RawMessage{data}
		}
	default:
		return nil, fmt.Errorf("unexpected JSON value")
	}

	var options []Option
	for _, item := range items {
		if opt, ok := parseOption(item); ok {
			options = append(options, opt)
		}
	}
	return options, nil
}

func parseOption(item json.RawMessage) (Option, bool) {
	var triple []string
	if err := json.Unmarshal(item, &triple); err == nil {
		if len(triple) < 3 {
			return Option{}, false
		}
		return Option{Display: triple[0], Version: triple[1], URL: triple[2]}, true
	}

	var obj struct {
		DisplayName string `json:"display_name"`
		Display     string `json:"display"`
		Name        string `json:"name"`
		Version     string `json:"version"`
		URL         string `json:"url"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return Option{}, false
	}

	display := firstNonEmpty(obj.DisplayName, obj.Display, obj.Name)
	if display == "" || obj.Version == "" || obj.URL == "" {
		return Option{}, false
	}
	return Option{Display: display, Version: obj.Version, URL: obj.URL}, true
}

// PickLatest returns the option with the highest version.
func PickLatest(options []Option) (Option, bool) {
	if len(options) == 0 {
		return Option{}, false
	}
	best := options[0]
	for _, opt := range options[1:] {
		if Newer(opt.Version, best.Version) {
			best = opt
		}
	}
	return best, true
}

// Find returns the option whose version or display name equals v.
func Find(options []Option, v string) (Option, bool) {
	for _, opt := range options {
		if opt.Version == v || opt.Display == v {
			return opt, true
		}
	}
	return Option{}, false
}

// LatestAsset reads a GitHub "latest release" document and returns the first
// asset whose name ends with ext (case-insensitive).
func (c *Client) LatestAsset(ctx context.Context, url, ext string) (Asset, error) {
	var doc struct {
		TagName string  `json:"tag_name"`
		Assets  []Asset `json:"assets"`
	}
	if err := c.getJSON(ctx, url, &doc); err != nil {
		return Asset{}, err
	}

	ext = strings.ToLower(ext)
	for _, a := range doc.Assets {
		if strings.HasSuffix(strings.ToLower(a.Name), ext) && a.URL != "" {
			return a, nil
		}
	}
	return Asset{}, metadataError(url, fmt.Sprintf("release %s has no %s asset", doc.TagName, ext), nil)
}

// AppUpdate is the result of an application update check.
type AppUpdate struct {
	Current   string
	Latest    string
	Available bool
}

// CheckAppUpdate compares current with the published application version.
func (c *Client) CheckAppUpdate(ctx context.Context, url, current string) (AppUpdate, error) {
	latest, err := c.LatestVersion(ctx, url)
	if err != nil {
		return AppUpdate{Current: current}, err
	}
	return AppUpdate{Current: current, Latest: latest, Available: Newer(latest, current)}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid JSON: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initial
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.retries), ctx),
		func(err error, next time.Duration) {
			c.log.Warn("metadata request failed (attempt %d), retrying in %v: %v", attempt, next.Round(time.Millisecond), err)
		},
	)
	if err != nil {
		return metadataError(url, "could not fetch metadata", err)
	}
	return nil
}

func metadataError(url, message string, err error) *apperrors.AppError {
	return apperrors.NetworkError(apperrors.CodeMetadata, message, err).
		WithModule("release").
		WithField("url", url)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
