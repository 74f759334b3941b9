// Package satellite fetches overhead imagery from a Static Maps style API.
package satellite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/terra-ai/eco-verify/internal/apperrors"
)

// Request defaults and limits of the Static Maps API.
const (
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/staticmap"
	DefaultZoom    = ZoomLot
	DefaultSize    = 640
	MaxSize        = 640
	defaultTimeout = 30 * time.Second
)

// Zoom presets, from city level down to individual structures.
const (
	ZoomRegion       = 14
	ZoomNeighborhood = 16
	ZoomLot          = 18
	ZoomDetailed     = 20
	ZoomMaximum      = 21
)

// ErrNotConfigured is returned when no API key was provided.
var ErrNotConfigured = errors.New("satellite imagery API key not configured")

// StatusError reports a non-2xx answer from the imagery API.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("imagery API returned %d", e.StatusCode)
}

// Options locates the requested snapshot. Zero Zoom, Width or Height pick the
// defaults.
type Options struct {
	Lat    float64
	Lng    float64
	Zoom   int
	Width  int
	Height int
}

func (o Options) withDefaults() Options {
	if o.Zoom == 0 {
		o.Zoom = DefaultZoom
	}
	if o.Width == 0 {
		o.Width = DefaultSize
	}
	if o.Height == 0 {
		o.Height = DefaultSize
	}
	return o
}

// Validate checks coordinates, zoom and size after defaults are applied.
func (o Options) Validate() error {
	o = o.withDefaults()
	switch {
	case o.Lat < -90 || o.Lat > 90:
		return apperrors.NewInvalidInputError("lat must be within [-90, 90]", nil)
	case o.Lng < -180 || o.Lng > 180:
		return apperrors.NewInvalidInputError("lng must be within [-180, 180]", nil)
	case o.Zoom < 1 || o.Zoom > ZoomMaximum:
		return apperrors.NewInvalidInputError(fmt.Sprintf("zoom must be within [1, %d]", ZoomMaximum), nil)
	case o.Width < 1 || o.Width > MaxSize || o.Height < 1 || o.Height > MaxSize:
		return apperrors.NewInvalidInputError(fmt.Sprintf("width and height must be within [1, %d]", MaxSize), nil)
	}
	return nil
}

// Image is a fetched snapshot.
type Image struct {
	Data        []byte
	ContentType string
	Zoom        int
	FetchedAt   time.Time
}

// ClientOpts configures NewClient. An empty BaseURL means DefaultBaseURL.
type ClientOpts struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the imagery API.
type Client struct {
	httpClient *resty.Client
	baseURL    string
	apiKey     string
}

// NewClient returns an imagery client. It works without an API key, but Fetch
// then returns ErrNotConfigured.
func NewClient(opts ClientOpts) *Client {
	c := Client{baseURL: DefaultBaseURL, apiKey: opts.APIKey}
	if opts.BaseURL != "" {
		c.baseURL = opts.BaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.httpClient = resty.New().
		SetDebug(false).
		SetTimeout(timeout).
		SetHeader("Accept", "image/*")

	return &c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

func (c *Client) query(opts Options) (url.Values, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	q := url.Values{}
	q.Set("center", strconv.FormatFloat(opts.Lat, 'f', -1, 64)+","+strconv.FormatFloat(opts.Lng, 'f', -1, 64))
	q.Set("zoom", strconv.Itoa(opts.Zoom))
	q.Set("size", fmt.Sprintf("%dx%d", opts.Width, opts.Height))
	q.Set("maptype", "satellite")
	q.Set("key", c.apiKey)
	return q, nil
}

// ImageURL returns the snapshot URL for opts.
func (c *Client) ImageURL(opts Options) (string, error) {
	q, err := c.query(opts)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid imagery base URL: %w", err)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch downloads the snapshot for opts.
func (c *Client) Fetch(ctx context.Context, opts Options) (*Image, error) {
	q, err := c.query(opts)
	if err != nil {
		return nil, err
	}

	res, err := handleError(c.httpClient.
		NewRequest().
		SetContext(ctx).
		SetQueryParamsFromValues(q).
		Get(c.baseURL))
	if err != nil {
		return nil, err
	}

	contentType := res.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return &Image{
		Data:        res.Body(),
		ContentType: contentType,
		Zoom:        opts.withDefaults().Zoom,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// handleError turns non-2xx responses into a StatusError. Without this,
// failing responses would have nil error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, fmt.Errorf("imagery request failed: %w", err)
	}
	if !res.IsSuccess() {
		return res, &StatusError{StatusCode: res.StatusCode()}
	}
	return res, nil
}
