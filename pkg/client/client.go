// Package client is the user-facing HTTP client for the selector-driven
// query surface in pkg/api: writes, instant/range queries, and series/label
// metadata lookups, plus the health checks a cluster load balancer polls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chronoshard/tsdb/pkg/api"
)

// Client is a client for the TSDB HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithUserAgent sets a custom user agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new TSDB client.
func NewClient(addr string, opts ...Option) *Client {
	c := &Client{
		baseURL: addr,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		userAgent: "tsdb-go-client/1.0",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Metric represents a time-series metric with labels and a value.
type Metric struct {
	Labels    map[string]string
	Timestamp time.Time
	Value     float64
}

// QueryResult represents the result of a query.
type QueryResult struct {
	Labels  map[string]string
	Samples []Sample
}

// Sample represents a single data point.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Write writes metrics to the TSDB.
func (c *Client) Write(ctx context.Context, metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	req := api.WriteRequest{
		Timeseries: make([]api.TimeSeries, 0, len(metrics)),
	}

	// Group metrics sharing a label set into one TimeSeries, keyed by the
	// labels sorted by name: map iteration order is unspecified even across
	// repeated ranges of the same map, so an unsorted key risks splitting
	// one series across two TimeSeries entries from one Write call.
	grouped := make(map[string]*api.TimeSeries)

	for _, m := range metrics {
		key := labelsKey(m.Labels)

		ts, ok := grouped[key]
		if !ok {
			labels := make([]api.Label, 0, len(m.Labels))
			for name, value := range m.Labels {
				labels = append(labels, api.Label{
					Name:  name,
					Value: value,
				})
			}

			ts = &api.TimeSeries{
				Labels:  labels,
				Samples: []api.Sample{},
			}
			grouped[key] = ts
		}

		ts.Samples = append(ts.Samples, api.Sample{
			Timestamp: m.Timestamp.UnixMilli(),
			Value:     m.Value,
		})
	}

	for _, ts := range grouped {
		req.Timeseries = append(req.Timeseries, *ts)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/api/v1/write"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	return nil
}

// Query executes an instant query.
func (c *Client) Query(ctx context.Context, query string, ts time.Time) ([]QueryResult, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("time", strconv.FormatInt(ts.UnixMilli(), 10))

	endpoint := c.baseURL + "/api/v1/query?" + params.Encode()

	var apiResp api.QueryResponse
	if err := c.getJSON(ctx, endpoint, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Status != "success" {
		return nil, fmt.Errorf("query failed: %s", apiResp.Error)
	}

	results := make([]QueryResult, 0, len(apiResp.Data.Result))
	for _, r := range apiResp.Data.Result {
		result := QueryResult{Labels: r.Metric}

		if r.Value != nil && len(r.Value) == 2 {
			timestamp := int64(r.Value[0].(float64))
			value, _ := strconv.ParseFloat(r.Value[1].(string), 64)

			result.Samples = []Sample{
				{
					Timestamp: time.UnixMilli(timestamp),
					Value:     value,
				},
			}
		}

		results = append(results, result)
	}

	return results, nil
}

// QueryRange executes a range query.
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]QueryResult, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("step", strconv.FormatInt(step.Milliseconds(), 10))

	endpoint := c.baseURL + "/api/v1/query_range?" + params.Encode()

	var apiResp api.QueryResponse
	if err := c.getJSON(ctx, endpoint, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Status != "success" {
		return nil, fmt.Errorf("query failed: %s", apiResp.Error)
	}

	results := make([]QueryResult, 0, len(apiResp.Data.Result))
	for _, r := range apiResp.Data.Result {
		result := QueryResult{
			Labels:  r.Metric,
			Samples: make([]Sample, 0, len(r.Values)),
		}

		for _, v := range r.Values {
			if len(v) == 2 {
				timestamp := int64(v[0].(float64))
				value, _ := strconv.ParseFloat(v[1].(string), 64)

				result.Samples = append(result.Samples, Sample{
					Timestamp: time.UnixMilli(timestamp),
					Value:     value,
				})
			}
		}

		results = append(results, result)
	}

	return results, nil
}

// Series returns every series matching at least one of the given selectors
// (pkg/selector syntax, e.g. `{__name__="cpu_usage",host=~"server.*"}`).
func (c *Client) Series(ctx context.Context, matchSelectors ...string) ([]map[string]string, error) {
	params := url.Values{}
	for _, sel := range matchSelectors {
		params.Add("match[]", sel)
	}

	endpoint := c.baseURL + "/api/v1/series?" + params.Encode()

	var apiResp api.SeriesResponse
	if err := c.getJSON(ctx, endpoint, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Status != "success" {
		return nil, fmt.Errorf("series lookup failed: %s", apiResp.Error)
	}
	return apiResp.Data, nil
}

// Labels returns all unique label names.
func (c *Client) Labels(ctx context.Context) ([]string, error) {
	var apiResp api.LabelsResponse
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/labels", &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Status != "success" {
		return nil, fmt.Errorf("request failed: %s", apiResp.Error)
	}
	return apiResp.Data, nil
}

// LabelValues returns all values for a specific label.
func (c *Client) LabelValues(ctx context.Context, labelName string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/label/%s/values", c.baseURL, labelName)

	var apiResp api.LabelValuesResponse
	if err := c.getJSON(ctx, endpoint, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Status != "success" {
		return nil, fmt.Errorf("request failed: %s", apiResp.Error)
	}
	return apiResp.Data, nil
}

// Health reports whether the TSDB process is alive.
func (c *Client) Health(ctx context.Context) (bool, error) {
	return c.probe(ctx, "/-/healthy")
}

// Ready reports whether the TSDB is ready to accept write and query traffic.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	return c.probe(ctx, "/-/ready")
}

func (c *Client) probe(ctx context.Context, path string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// getJSON issues a GET against endpoint and decodes its JSON body into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// labelsKey builds a deterministic grouping key from a label set by sorting
// names before joining them.
func labelsKey(labels map[string]string) string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(labels[name])
		b.WriteByte(',')
	}
	return b.String()
}
