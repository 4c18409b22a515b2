package stageboardsdk

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
)

// Client is a minimal Stageboard HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Item represents the API item model.
type Item struct {
	ID          string  `json:"id"`
	ClientName  string  `json:"client_name"`
	Tel         string  `json:"tel,omitempty"`
	ProductID   string  `json:"product_id,omitempty"`
	Prix        float64 `json:"prix"`
	PipelineID  int64   `json:"pipeline_id"`
	Stage       string  `json:"stage"`
	Employee    string  `json:"employee,omitempty"`
	Commentaire string  `json:"commentaire,omitempty"`
	NbPiece     int     `json:"nb_piece"`
	Ville       string  `json:"ville,omitempty"`
	Quartier    string  `json:"quartier,omitempty"`
	DateCreated string  `json:"date_created"`
	DateReport  *string `json:"date_report,omitempty"`
}

// Stage represents a board column.
type Stage struct {
	ID       string `json:"id"`
	Color    string `json:"color,omitempty"`
	Status   string `json:"status"`
	Active   bool   `json:"active"`
	Locked   bool   `json:"locked"`
	Position int    `json:"position"`
}

// Pipeline represents a board definition.
type Pipeline struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Color     string  `json:"color,omitempty"`
	IsDefault bool    `json:"is_default"`
	Stages    []Stage `json:"stages"`
	CreatedAt string  `json:"created_at"`
}

// Bucket is one rendered board column with its items.
type Bucket struct {
	Stage Stage  `json:"stage"`
	Items []Item `json:"items"`
}

// Board is the bucketed view of a pipeline.
type Board struct {
	Pipeline  Pipeline `json:"pipeline"`
	Buckets   []Bucket `json:"buckets"`
	Unmatched int      `json:"unmatched"`
}

// Metrics is the daily count and commission for the caller.
type Metrics struct {
	Day        string  `json:"day"`
	Visible    int     `json:"visible"`
	TodayCount int     `json:"today_count"`
	Commission float64 `json:"commission"`
}

// Product represents a catalog entry.
type Product struct {
	ID          string  `json:"id"`
	Nom         string  `json:"nom"`
	PrixVente   float64 `json:"prix_vente"`
	Image       string  `json:"image,omitempty"`
	Stock       int     `json:"stock"`
	AlerteStock int     `json:"alerte_stock"`
	CreatedAt   string  `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Me describes the authenticated principal and its move targets.
type Me struct {
	ActorID      string   `json:"actor_id"`
	Roles        []string `json:"roles,omitempty"`
	Source       string   `json:"source"`
	Unrestricted bool     `json:"unrestricted"`
	Targets      []string `json:"targets,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListPipelines returns all pipelines.
func (c *Client) ListPipelines(ctx context.Context) ([]Pipeline, error) {
	var resp []Pipeline
	err := c.do(ctx, http.MethodGet, "v0/pipelines", nil, &resp)
	return resp, err
}

// GetPipeline fetches a pipeline by id.
func (c *Client) GetPipeline(ctx context.Context, id int64) (Pipeline, error) {
	var resp Pipeline
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/pipelines/%d", id), nil, &resp)
	return resp, err
}

// Board returns the bucketed view of a pipeline, scoped to the caller.
func (c *Client) Board(ctx context.Context, pipelineID int64) (Board, error) {
	var resp Board
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/pipelines/%d/board", pipelineID), nil, &resp)
	return resp, err
}

// CreateItem creates an item in a pipeline. Fields is merged into the request
// body for optional attributes (tel, prix, employee, ...).
func (c *Client) CreateItem(ctx context.Context, pipelineID int64, clientName string, fields map[string]any) (Item, error) {
	body := map[string]any{"client_name": clientName}
	for k, v := range fields {
		body[k] = v
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/pipelines/%d/items", pipelineID), body, &resp)
	return resp, err
}

// GetItem fetches an item by id.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodGet, "v0/items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateItem patches item fields.
func (c *Client) UpdateItem(ctx context.Context, id string, fields map[string]any) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPatch, "v0/items/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

// MoveItem moves an item to a stage. dateReport is optional; pass it when
// parking an item for a callback.
func (c *Client) MoveItem(ctx context.Context, id, stage, dateReport string) (Item, error) {
	body := map[string]any{"stage": stage}
	if dateReport != "" {
		body["date_report"] = dateReport
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, "v0/items/"+url.PathEscape(id)+"/move", body, &resp)
	return resp, err
}

// DeleteItem deletes an item.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/items/"+url.PathEscape(id), nil, nil)
}

// Metrics returns today's count and commission for the caller.
// pipelineID of zero means all pipelines.
func (c *Client) Metrics(ctx context.Context, pipelineID int64) (Metrics, error) {
	endpoint := "v0/metrics/daily"
	if pipelineID > 0 {
		endpoint = fmt.Sprintf("%s?pipeline_id=%d", endpoint, pipelineID)
	}
	var resp Metrics
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListProducts returns the catalog. With lowStock set, only products at or
// below their alert threshold come back.
func (c *Client) ListProducts(ctx context.Context, lowStock bool) ([]Product, error) {
	endpoint := "v0/products"
	if lowStock {
		endpoint += "?low_stock=true"
	}
	var resp []Product
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, newest first. Admin only.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Me returns the authenticated principal and its permitted move targets.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
