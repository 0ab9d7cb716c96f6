// Package uploader is the HTTP client for the buildlog.ai service.
// Every public method returns a result value instead of an error so
// callers branch on success/failure without exception-style handling;
// nothing network-related escapes this package as a raised error.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/buildlog-ai/buildlog/internal/model"
	"github.com/buildlog-ai/buildlog/internal/telemetry"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.buildlog.ai"

// DefaultTimeout bounds every network call. A timed-out call is
// aborted and reported as CodeTimeout, distinct from transport errors.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 1 << 20

// Machine-readable failure codes. Non-2xx responses carry the
// server-provided code when present, else "HTTP_<status>".
const (
	CodeTimeout    = "TIMEOUT"
	CodeNetwork    = "NETWORK_ERROR"
	CodeUnknown    = "UNKNOWN"
	CodeNoBuildlog = "NO_BUILDLOG"
)

// UploadError is a structured upload failure.
type UploadError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"` // HTTP status, 0 for transport failures
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploader: %s: %s", e.Code, e.Message)
}

// Result is the outcome of an operation with no payload.
type Result struct {
	OK  bool
	Err *UploadError
}

// UploadResult is the outcome of Upload, Update, and CreateShareLink.
type UploadResult struct {
	OK       bool
	ID       string
	URL      string
	ShortURL string
	EmbedURL string
	Err      *UploadError
}

// BuildlogInfo is the server's summary of a stored buildlog.
type BuildlogInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Format    string    `json:"format,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url,omitempty"`
	Views     int       `json:"views,omitempty"`
}

// InfoResult is the outcome of GetInfo.
type InfoResult struct {
	OK   bool
	Info *BuildlogInfo
	Err  *UploadError
}

// ListResult is the outcome of List.
type ListResult struct {
	OK    bool
	Items []BuildlogInfo
	Total int
	Err   *UploadError
}

// PingResult is the outcome of Ping.
type PingResult struct {
	OK      bool
	Latency time.Duration
	Err     *UploadError
}

// KeyResult is the outcome of ValidateAPIKey. OK means the check
// itself ran; Valid is the server's verdict on the key.
type KeyResult struct {
	OK    bool
	Valid bool
	Err   *UploadError
}

// Client talks to the buildlog.ai REST API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	uploads metric.Int64Counter
}

// New creates a client. Empty baseURL selects production; a zero
// timeout selects the default.
func New(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
	meter := telemetry.Meter("buildlog/uploader")
	c.uploads, _ = meter.Int64Counter("buildlog.uploader.requests",
		metric.WithDescription("Total API requests by outcome"))
	return c
}

// uploadResponse is the server's create/patch reply.
type uploadResponse struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	ShortURL string `json:"short_url"`
	EmbedURL string `json:"embed_url"`
}

// Upload creates a new buildlog on the service.
func (c *Client) Upload(ctx context.Context, doc *model.Document) UploadResult {
	return c.upload(ctx, doc, nil)
}

// CreateShareLink uploads with fixed sharing options: public, comments
// off, forks allowed.
func (c *Client) CreateShareLink(ctx context.Context, doc *model.Document) UploadResult {
	return c.upload(ctx, doc, map[string]any{
		"visibility":     "public",
		"allow_comments": false,
		"allow_forks":    true,
	})
}

func (c *Client) upload(ctx context.Context, doc *model.Document, shareOpts map[string]any) UploadResult {
	if doc == nil {
		return UploadResult{Err: &UploadError{Code: CodeNoBuildlog, Message: "no buildlog to upload"}}
	}

	body := map[string]any{"buildlog": doc}
	if shareOpts != nil {
		body["options"] = shareOpts
	}

	raw, uerr := c.do(ctx, http.MethodPost, "/v1/buildlogs", body)
	if uerr != nil {
		return UploadResult{Err: uerr}
	}

	var resp uploadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return UploadResult{Err: &UploadError{Code: CodeUnknown, Message: "decode response: " + err.Error()}}
	}
	c.logger.Info("uploader: buildlog uploaded", "id", resp.ID, "title", doc.Metadata.Title)
	return resultWithURLs(resp)
}

// Update applies a partial patch to an existing buildlog.
func (c *Client) Update(ctx context.Context, id string, patch map[string]any) UploadResult {
	raw, uerr := c.do(ctx, http.MethodPatch, "/v1/buildlogs/"+url.PathEscape(id), patch)
	if uerr != nil {
		return UploadResult{Err: uerr}
	}
	var resp uploadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return UploadResult{Err: &UploadError{Code: CodeUnknown, Message: "decode response: " + err.Error()}}
	}
	if resp.ID == "" {
		resp.ID = id
	}
	return resultWithURLs(resp)
}

// Delete removes a buildlog by id.
func (c *Client) Delete(ctx context.Context, id string) Result {
	if _, uerr := c.do(ctx, http.MethodDelete, "/v1/buildlogs/"+url.PathEscape(id), nil); uerr != nil {
		return Result{Err: uerr}
	}
	return Result{OK: true}
}

// GetInfo fetches the server's metadata for a buildlog.
func (c *Client) GetInfo(ctx context.Context, id string) InfoResult {
	raw, uerr := c.do(ctx, http.MethodGet, "/v1/buildlogs/"+url.PathEscape(id), nil)
	if uerr != nil {
		return InfoResult{Err: uerr}
	}
	var info BuildlogInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return InfoResult{Err: &UploadError{Code: CodeUnknown, Message: "decode response: " + err.Error()}}
	}
	return InfoResult{OK: true, Info: &info}
}

// List fetches a page of the caller's buildlogs.
func (c *Client) List(ctx context.Context, limit, offset int, sortBy string) ListResult {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if sortBy != "" {
		q.Set("sort", sortBy)
	}
	path := "/v1/buildlogs"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	raw, uerr := c.do(ctx, http.MethodGet, path, nil)
	if uerr != nil {
		return ListResult{Err: uerr}
	}
	var resp struct {
		Items []BuildlogInfo `json:"items"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ListResult{Err: &UploadError{Code: CodeUnknown, Message: "decode response: " + err.Error()}}
	}
	return ListResult{OK: true, Items: resp.Items, Total: resp.Total}
}

// ValidateAPIKey asks the service whether the configured key is valid.
// A 401/403 is a definitive "no", not a failure of the check itself.
func (c *Client) ValidateAPIKey(ctx context.Context) KeyResult {
	_, uerr := c.do(ctx, http.MethodGet, "/v1/auth/validate", nil)
	if uerr == nil {
		return KeyResult{OK: true, Valid: true}
	}
	if uerr.Status == http.StatusUnauthorized || uerr.Status == http.StatusForbidden {
		return KeyResult{OK: true, Valid: false}
	}
	return KeyResult{Err: uerr}
}

// Ping checks service health and measures round-trip latency.
func (c *Client) Ping(ctx context.Context) PingResult {
	start := time.Now()
	if _, uerr := c.do(ctx, http.MethodGet, "/v1/health", nil); uerr != nil {
		return PingResult{Err: uerr}
	}
	return PingResult{OK: true, Latency: time.Since(start)}
}

// do performs one API call under the fixed timeout and normalizes
// every failure mode into an *UploadError. The returned bytes are the
// response body; an empty body is treated as an empty JSON object.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, *UploadError) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &UploadError{Code: CodeUnknown, Message: "encode request: " + err.Error()}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &UploadError{Code: CodeUnknown, Message: "create request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.count(ctx, "timeout")
			return nil, &UploadError{Code: CodeTimeout, Message: fmt.Sprintf("request timed out after %s", c.timeout)}
		}
		c.count(ctx, "network_error")
		return nil, &UploadError{Code: CodeNetwork, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.count(ctx, "network_error")
		return nil, &UploadError{Code: CodeNetwork, Message: "read response: " + err.Error()}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.count(ctx, "http_error")
		return nil, decodeAPIError(resp.StatusCode, raw)
	}

	c.count(ctx, "ok")
	return raw, nil
}

// decodeAPIError translates a non-2xx response into a structured
// error, preferring the server-provided message and code.
func decodeAPIError(status int, raw []byte) *UploadError {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
	_ = json.Unmarshal(raw, &body)

	message := body.Message
	if message == "" {
		message = body.Error
	}
	if message == "" {
		message = http.StatusText(status)
	}
	code := body.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}
	return &UploadError{Code: code, Message: message, Status: status}
}

// resultWithURLs fills in deterministic URL fallbacks when the server
// omitted them.
func resultWithURLs(resp uploadResponse) UploadResult {
	r := UploadResult{OK: true, ID: resp.ID, URL: resp.URL, ShortURL: resp.ShortURL, EmbedURL: resp.EmbedURL}
	if r.URL == "" {
		r.URL = "https://buildlog.ai/b/" + r.ID
	}
	if r.ShortURL == "" {
		r.ShortURL = "https://buildlog.ai/s/" + r.ID
	}
	if r.EmbedURL == "" {
		r.EmbedURL = "https://buildlog.ai/embed/" + r.ID
	}
	return r
}

func (c *Client) count(ctx context.Context, outcome string) {
	c.uploads.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
