package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/common"
	"stacking-explainer/internal/features"
	"stacking-explainer/internal/storage"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status    int
	Message   string
	RequestID string
	Problems  []features.Problem
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	for _, p := range e.Problems {
		msg += fmt.Sprintf("\n  %s: %s", p.Feature, p.Reason)
		if p.Domain != "" {
			msg += " (domain " + p.Domain + ")"
		}
	}
	return msg
}

// Client calls a running stack server.
type Client struct {
	base string
	rest *resty.Client
}

// NewClient creates a client for the server at base.
func NewClient(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(common.DefaultRequestTimeout)
	}
	r.SetHeader("Content-Type", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, query map[string]string) error {
	apiErr := &ErrorResponse{}
	req := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		e := &APIError{Status: resp.StatusCode(), Message: apiErr.Error, RequestID: apiErr.RequestID, Problems: apiErr.Problems}
		if e.Message == "" {
			e.Message = resp.String()
		}
		return e
	}
	return nil
}

// Predict scores one feature vector.
func (c *Client) Predict(ctx context.Context, raw map[string]float64) (*PredictResponse, error) {
	out := &PredictResponse{}
	if err := c.do(ctx, resty.MethodPost, "/v1/predict", PredictRequest{Features: raw}, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Attribute explains one level.
func (c *Client) Attribute(ctx context.Context, raw map[string]float64, level attribution.Level, budget *BudgetRequest) (*AttributeResponse, error) {
	out := &AttributeResponse{}
	query := map[string]string{"level": strconv.Itoa(int(level))}
	if err := c.do(ctx, resty.MethodPost, "/v1/attribute", AttributeRequest{Features: raw, Budget: budget}, out, query); err != nil {
		return nil, err
	}
	return out, nil
}

// Explain computes all three levels.
func (c *Client) Explain(ctx context.Context, raw map[string]float64, budget *BudgetRequest) (*ExplainResponse, error) {
	out := &ExplainResponse{}
	if err := c.do(ctx, resty.MethodPost, "/v1/explain", AttributeRequest{Features: raw, Budget: budget}, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Model describes the served stack.
func (c *Client) Model(ctx context.Context) (*ModelResponse, error) {
	out := &ModelResponse{}
	if err := c.do(ctx, resty.MethodGet, "/v1/model", nil, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Features lists the declared inputs.
func (c *Client) Features(ctx context.Context) ([]FeatureInfo, error) {
	var out []FeatureInfo
	if err := c.do(ctx, resty.MethodGet, "/v1/features", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Reload activates a model on the server.
func (c *Client) Reload(ctx context.Context, req ReloadRequest) (*ModelResponse, error) {
	out := &ModelResponse{}
	if err := c.do(ctx, resty.MethodPost, "/v1/model/reload", req, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary returns the n most important features (all when n < 0).
func (c *Client) Summary(ctx context.Context, n int) (*SummaryResponse, error) {
	out := &SummaryResponse{}
	var query map[string]string
	if n >= 0 {
		query = map[string]string{"top": strconv.Itoa(n)}
	}
	if err := c.do(ctx, resty.MethodGet, "/v1/summary", nil, out, query); err != nil {
		return nil, err
	}
	return out, nil
}

// HistoryQuery selects audit records. Zero times use the server's default window.
type HistoryQuery struct {
	Version string
	From    time.Time
	To      time.Time
	Limit   int
}

func (q HistoryQuery) params(kind string) map[string]string {
	p := map[string]string{"kind": kind}
	if q.Version != "" {
		p["version"] = q.Version
	}
	if !q.From.IsZero() {
		p["from"] = q.From.UTC().Format(time.RFC3339)
	}
	if !q.To.IsZero() {
		p["to"] = q.To.UTC().Format(time.RFC3339)
	}
	if q.Limit > 0 {
		p["limit"] = strconv.Itoa(q.Limit)
	}
	return p
}

// Predictions returns audited predictions.
func (c *Client) Predictions(ctx context.Context, q HistoryQuery) ([]storage.PredictionRecord, error) {
	var out []storage.PredictionRecord
	if err := c.do(ctx, resty.MethodGet, "/v1/history", nil, &out, q.params("predictions")); err != nil {
		return nil, err
	}
	return out, nil
}

// Attributions returns audited attributions.
func (c *Client) Attributions(ctx context.Context, q HistoryQuery) ([]storage.AttributionRecord, error) {
	var out []storage.AttributionRecord
	if err := c.do(ctx, resty.MethodGet, "/v1/history", nil, &out, q.params("attributions")); err != nil {
		return nil, err
	}
	return out, nil
}

// Health returns the server health. An unhealthy server is not an error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	out := &HealthResponse{}
	resp, err := c.rest.R().SetContext(ctx).SetResult(out).SetError(out).Get(c.base + "/health")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() && !out.CheckedAt.IsZero() {
		return out, nil
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return out, nil
}
