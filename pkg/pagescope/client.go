// Package pagescope is a Go SDK for the pagescope-server HTTP API.
package pagescope

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"pagescope/internal/httpapi"
)

// Response types shared with the server.
type (
	Range            = httpapi.RangeJSON
	RangeResponse    = httpapi.RangeResponse
	ChartsResponse   = httpapi.ChartsResponse
	ChartResponse    = httpapi.ChartResponse
	PanResponse      = httpapi.PanResponse
	SummaryResponse  = httpapi.SummaryResponse
	DatasetsResponse = httpapi.DatasetsResponse
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pagescope: %d %s", e.Status, e.Message)
}

// Client provides a Go SDK for interacting with the pagescope-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new pagescope API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetRange retrieves the current and committed shared range.
func (c *Client) GetRange(ctx context.Context) (*RangeResponse, error) {
	var out RangeResponse
	return &out, c.do(ctx, http.MethodGet, "/api/range", nil, &out)
}

// SetRange publishes an explicit range. Empty start and end select all time.
func (c *Client) SetRange(ctx context.Context, start, end string) (*RangeResponse, error) {
	var out RangeResponse
	return &out, c.do(ctx, http.MethodPut, "/api/range", Range{Start: start, End: end}, &out)
}

// ClearRange resets the shared range to all time.
func (c *Client) ClearRange(ctx context.Context) (*RangeResponse, error) {
	var out RangeResponse
	return &out, c.do(ctx, http.MethodDelete, "/api/range", nil, &out)
}

// Charts lists chart ids and the active chart.
func (c *Client) Charts(ctx context.Context) (*ChartsResponse, error) {
	var out ChartsResponse
	return &out, c.do(ctx, http.MethodGet, "/api/charts", nil, &out)
}

// Chart retrieves one chart's view state and visible slice.
func (c *Client) Chart(ctx context.Context, id string) (*ChartResponse, error) {
	var out ChartResponse
	return &out, c.do(ctx, http.MethodGet, chartPath(id, ""), nil, &out)
}

// SetActive makes id the chart that receives keyboard-style commands.
func (c *Client) SetActive(ctx context.Context, id string) (*ChartsResponse, error) {
	var out ChartsResponse
	return &out, c.do(ctx, http.MethodPut, chartPath(id, "/active"), nil, &out)
}

// Zoom applies a relative zoom step. pointer, when non-nil, is the
// horizontal position in [0, 1] the zoom is anchored at.
func (c *Client) Zoom(ctx context.Context, id string, delta float64, pointer *float64) (*ChartResponse, error) {
	var out ChartResponse
	req := httpapi.ZoomRequest{Delta: &delta, Pointer: pointer}
	return &out, c.do(ctx, http.MethodPost, chartPath(id, "/zoom"), req, &out)
}

// SetZoom sets an absolute zoom level.
func (c *Client) SetZoom(ctx context.Context, id string, level float64, pointer *float64) (*ChartResponse, error) {
	var out ChartResponse
	req := httpapi.ZoomRequest{Level: &level, Pointer: pointer}
	return &out, c.do(ctx, http.MethodPost, chartPath(id, "/zoom"), req, &out)
}

// Pan moves the chart one step "left" or "right".
func (c *Client) Pan(ctx context.Context, id, dir string) (bool, error) {
	var out PanResponse
	err := c.do(ctx, http.MethodPost, chartPath(id, "/pan/"+url.PathEscape(dir)), nil, &out)
	return out.Moved, err
}

// Reset returns the chart to its default view.
func (c *Client) Reset(ctx context.Context, id string) (*ChartResponse, error) {
	var out ChartResponse
	return &out, c.do(ctx, http.MethodPost, chartPath(id, "/reset"), nil, &out)
}

// Summary retrieves the summary metrics over the current range.
func (c *Client) Summary(ctx context.Context, sortMode int) (*SummaryResponse, error) {
	var out SummaryResponse
	return &out, c.do(ctx, http.MethodGet, "/api/summary?sort="+strconv.Itoa(sortMode), nil, &out)
}

// Datasets lists the datasets the server can load.
func (c *Client) Datasets(ctx context.Context) (*DatasetsResponse, error) {
	var out DatasetsResponse
	return &out, c.do(ctx, http.MethodGet, "/api/datasets", nil, &out)
}

// LoadDataset switches every chart to the named dataset.
func (c *Client) LoadDataset(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPut, "/api/datasets/"+url.PathEscape(name), nil, nil)
}

func chartPath(id, suffix string) string {
	return "/api/charts/" + url.PathEscape(id) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}
