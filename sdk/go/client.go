package tatakesdk

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

// Client is a minimal Tatake HTTP API client.
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

// Task represents the API task model (partial).
type Task struct {
	ID                   string   `json:"id"`
	UserID               string   `json:"user_id"`
	Title                string   `json:"title"`
	Status               string   `json:"status"`
	ParentID             *string  `json:"parent_id,omitempty"`
	Level                int      `json:"level"`
	Path                 []string `json:"path"`
	CompletionPercentage float64  `json:"completion_percentage"`
}

// RewardOutcome describes what a completion issued.
type RewardOutcome struct {
	Type           string `json:"type"`
	Points         int    `json:"points,omitempty"`
	ItemID         string `json:"item_id,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	AlreadyClaimed bool   `json:"already_claimed,omitempty"`
}

// CompleteResult pairs the completed task with its reward.
type CompleteResult struct {
	Task   Task          `json:"task"`
	Reward RewardOutcome `json:"reward"`
}

// Balance is a points balance snapshot.
type Balance struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

// Top3Selection is a charged daily selection.
type Top3Selection struct {
	ID    string `json:"id"`
	Date  string `json:"date"`
	Tasks []struct {
		TaskID   string `json:"task_id"`
		Position int    `json:"position"`
	} `json:"tasks"`
	Charged int `json:"charged,omitempty"`
}

// Holding is one reward item balance.
type Holding struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// CraftResult records the ledger rows a craft appended.
type CraftResult struct {
	TransactionGroup string `json:"transaction_group"`
	Produced         struct {
		ItemID   string `json:"item_id"`
		Quantity int    `json:"quantity"`
	} `json:"produced"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title string, parentID string) (Task, error) {
	body := map[string]any{"title": title}
	if parentID != "" {
		body["parent_id"] = parentID
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.apiPath("tasks"), body, &resp)
	return resp, err
}

// CompleteTask completes a task and returns its reward outcome.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (CompleteResult, error) {
	var resp CompleteResult
	endpoint := c.apiPath(fmt.Sprintf("tasks/%s/complete", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SetTop3 records the daily selection.
func (c *Client) SetTop3(ctx context.Context, date string, taskIDs []string) (Top3Selection, error) {
	body := map[string]any{"date": date, "task_ids": taskIDs}
	var resp Top3Selection
	err := c.do(ctx, http.MethodPost, c.apiPath("top3"), body, &resp)
	return resp, err
}

// PointsBalance returns the current balance.
func (c *Client) PointsBalance(ctx context.Context) (Balance, error) {
	var resp Balance
	err := c.do(ctx, http.MethodGet, c.apiPath("points/balance"), nil, &resp)
	return resp, err
}

// Holdings returns reward item balances.
func (c *Client) Holdings(ctx context.Context) ([]Holding, error) {
	var resp []Holding
	err := c.do(ctx, http.MethodGet, c.apiPath("rewards/holdings"), nil, &resp)
	return resp, err
}

// Craft consumes a recipe's inputs and produces its output.
func (c *Client) Craft(ctx context.Context, recipeID string) (CraftResult, error) {
	var resp CraftResult
	endpoint := c.apiPath(fmt.Sprintf("recipes/%s/craft", url.PathEscape(recipeID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.apiPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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

func (c *Client) apiPath(p string) string {
	return "v1/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
