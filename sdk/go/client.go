package trustlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Trustline HTTP API client.
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

// DID represents an identifier record.
type DID struct {
	Principal  string `json:"principal"`
	Identifier string `json:"identifier"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// Credential represents an issued credential and its commitment hashes.
type Credential struct {
	ID            int64  `json:"id"`
	Issuer        string `json:"issuer"`
	Subject       string `json:"subject"`
	Role          string `json:"role"`
	Attribute     int64  `json:"attribute"`
	FullHash      string `json:"full_hash"`
	RoleHash      string `json:"role_hash"`
	AttributeHash string `json:"attribute_hash"`
	ThresholdHash string `json:"threshold_hash"`
	IssuedAt      string `json:"issued_at"`
}

// Task represents a ledger task.
type Task struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	DueDate     string  `json:"due_date"`
	Assignee    string  `json:"assignee"`
	Completed   bool    `json:"completed"`
	CompletedAt *string `json:"completed_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Kind       string `json:"kind"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Verification wraps the boolean result of a verify call.
type Verification struct {
	Status bool `json:"status"`
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

// CreateDID registers the caller's identifier.
func (c *Client) CreateDID(ctx context.Context, identifier string) (DID, error) {
	var resp DID
	err := c.do(ctx, http.MethodPost, "v1/dids", map[string]any{"identifier": identifier}, &resp)
	return resp, err
}

// GetDID fetches the caller's identifier record.
func (c *Client) GetDID(ctx context.Context) (DID, error) {
	var resp DID
	err := c.do(ctx, http.MethodGet, "v1/dids/me", nil, &resp)
	return resp, err
}

// IssueCredential issues a credential to a subject. Caller must be a manager.
func (c *Client) IssueCredential(ctx context.Context, subject, role string, attribute int64) (Credential, error) {
	body := map[string]any{
		"subject":   subject,
		"role":      role,
		"attribute": attribute,
	}
	var resp Credential
	err := c.do(ctx, http.MethodPost, "v1/credentials", body, &resp)
	return resp, err
}

// VerifyRole checks a role claim against the subject's latest credential.
func (c *Client) VerifyRole(ctx context.Context, subject, issuer, role string) (bool, error) {
	body := map[string]any{
		"subject": subject,
		"issuer":  issuer,
		"role":    role,
	}
	var resp Verification
	err := c.do(ctx, http.MethodPost, "v1/credentials/verify-role", body, &resp)
	return resp.Status, err
}

// VerifyAttributeThreshold checks whether any of the subject's credentials from
// the issuer committed to an above-threshold attribute.
func (c *Client) VerifyAttributeThreshold(ctx context.Context, subject, issuer string, attribute int64) (bool, error) {
	body := map[string]any{
		"subject":   subject,
		"issuer":    issuer,
		"attribute": attribute,
	}
	var resp Verification
	err := c.do(ctx, http.MethodPost, "v1/credentials/verify-attribute", body, &resp)
	return resp.Status, err
}

// CreateTask creates a task. Caller must be a manager.
func (c *Client) CreateTask(ctx context.Context, title, description, priority, dueDate, assignee string) (Task, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"priority":    priority,
		"due_date":    dueDate,
		"assignee":    assignee,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v1/tasks", body, &resp)
	return resp, err
}

// MyTasks returns the caller's tasks.
func (c *Client) MyTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "v1/tasks/mine", nil, &resp)
	return resp, err
}

// CompleteTask marks a task done. Caller must be the assignee.
func (c *Client) CompleteTask(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/tasks/%d/complete", id), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, cursor)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
