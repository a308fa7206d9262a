// Package farm is a thin client for the browser-farm control plane. Every
// response is an envelope with a success flag and a data payload; anything
// other than success:true is reported as faults.ErrRemote.
package farm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/shehryarbajwa/browserfarm/internal/faults"
	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

const (
	pathCreate = "/api/addBrowser"
	pathLaunch = "/api/launchBrowser"
	pathStop   = "/api/stopBrowser"
	pathDelete = "/api/deleteBrowser"
	pathList   = "/api/getBrowserList"

	maxBodyBytes = 4 << 20
)

// Config holds the farm endpoint and credentials
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RPS paces outgoing calls; zero disables pacing.
	RPS float64
}

// Client calls the farm's REST API
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a client for cfg.BaseURL (e.g. http://localhost:9000)
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:9000"
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("farm: parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("farm: unsupported url scheme %q", parsed.Scheme)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:    parsed,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return c, nil
}

// BaseURL returns the farm base URL
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// CreateEnvironment creates a browser environment and returns its ID
func (c *Client) CreateEnvironment(ctx context.Context, req models.CreateEnvironmentRequest) (*models.Environment, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("farm: environment name is required")
	}
	if req.Group == "" {
		req.Group = models.DefaultGroup
	}
	screen := req.Screen
	if screen == nil {
		screen = &models.Screen{Mode: 1, Width: 800, Height: 600, Label: "1920 x 1080"}
	}

	// Options are flattened into the top-level payload next to the fixed fields.
	payload := make(map[string]interface{}, len(req.Options)+3)
	for k, v := range req.Options {
		payload[k] = v
	}
	payload["name"] = req.Name
	payload["group"] = []string{req.Group}
	payload["screen"] = screen

	data, err := c.call(ctx, http.MethodPost, pathCreate, payload, nil)
	if err != nil {
		return nil, err
	}
	id := data.Get("id")
	if !id.Exists() || id.String() == "" {
		return nil, faults.Remote("create environment", []byte(data.Raw), fmt.Errorf("response has no id"))
	}
	return &models.Environment{ID: id.String(), Name: req.Name, Group: req.Group}, nil
}

// Launch starts the environment and returns its debugging port. A success
// response without a port fails with faults.ErrMissingPort.
func (c *Client) Launch(ctx context.Context, id string) (*models.LaunchInfo, error) {
	data, err := c.call(ctx, http.MethodPost, pathLaunch, idPayload(id), nil)
	if err != nil {
		return nil, err
	}

	port := data.Get("debuggingPort")
	if !port.Exists() || port.Int() <= 0 {
		return nil, &faults.Error{Kind: faults.ErrMissingPort, Op: "launch " + id, Body: data.Raw}
	}

	info := &models.LaunchInfo{
		EnvironmentID: id,
		Port:          int(port.Int()),
	}
	for _, key := range []string{"webdriver_path", "webdriverPath", "driverPath"} {
		if p := data.Get(key); p.Exists() && p.String() != "" {
			info.DriverPath = p.String()
			break
		}
	}
	return info, nil
}

// Stop stops the environment's browser process
func (c *Client) Stop(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodPost, pathStop, idPayload(id), nil)
	return err
}

// Delete removes the environment
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodPost, pathDelete, idPayload(id), nil)
	return err
}

// List returns environments matching filter
func (c *Client) List(ctx context.Context, filter models.ListFilter) ([]models.EnvironmentSummary, error) {
	query := url.Values{}
	if filter.Group != "" {
		query.Set("group", filter.Group)
	}
	if filter.Name != "" {
		query.Set("name", filter.Name)
	}
	if filter.Remark != "" {
		query.Set("remark", filter.Remark)
	}

	data, err := c.call(ctx, http.MethodGet, pathList, nil, query)
	if err != nil {
		return nil, err
	}

	items := data
	if !items.IsArray() {
		for _, key := range []string{"list", "records", "items"} {
			if v := data.Get(key); v.IsArray() {
				items = v
				break
			}
		}
	}
	if !items.IsArray() {
		return []models.EnvironmentSummary{}, nil
	}

	out := make([]models.EnvironmentSummary, 0, len(items.Array()))
	for _, item := range items.Array() {
		summary := models.EnvironmentSummary{
			ID:     item.Get("id").String(),
			Name:   item.Get("name").String(),
			Remark: item.Get("remark").String(),
			Raw:    json.RawMessage(item.Raw),
		}
		group := item.Get("group")
		if group.IsArray() {
			for _, g := range group.Array() {
				summary.Group = append(summary.Group, g.String())
			}
		} else if group.String() != "" {
			summary.Group = []string{group.String()}
		}
		out = append(out, summary)
	}
	return out, nil
}

func idPayload(id string) map[string]interface{} {
	// The farm keys environments by numeric id; keep numbers numeric on the wire.
	if n := gjson.Parse(id); n.Type == gjson.Number && strings.TrimSpace(id) == n.Raw {
		return map[string]interface{}{"id": json.Number(n.Raw)}
	}
	return map[string]interface{}{"id": id}
}

func (c *Client) call(ctx context.Context, method, path string, body interface{}, query url.Values) (gjson.Result, error) {
	op := strings.TrimPrefix(path, "/api/")

	req, err := c.newRequest(ctx, method, path, body, query)
	if err != nil {
		return gjson.Result{}, faults.Remote(op, nil, err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return gjson.Result{}, faults.Remote(op, nil, err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, faults.Remote(op, nil, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gjson.Result{}, faults.Remote(op, raw, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		return gjson.Result{}, faults.Remote(op, raw, fmt.Errorf("http %d", resp.StatusCode))
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, faults.Remote(op, raw, fmt.Errorf("response is not json"))
	}

	envelope := gjson.ParseBytes(raw)
	if success := envelope.Get("success"); success.Type != gjson.True {
		return gjson.Result{}, faults.Remote(op, raw, fmt.Errorf("success is not true"))
	}
	return envelope.Get("data"), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}, query url.Values) (*http.Request, error) {
	resolved := c.baseURL.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		resolved.RawQuery = query.Encode()
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), &buf)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
	return req, nil
}
