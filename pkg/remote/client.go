package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fieldops/fieldsync/pkg/types"
)

// APIError is a non-2xx response from the remote API. It distinguishes
// definitive server rejections (bad data, conflicts) from failures that
// are worth retrying.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote API: HTTP %d %s", e.Status, http.StatusText(e.Status))
}

// Permanent reports whether the server definitively rejected the
// request. 408 and 429 are treated as transient despite being 4xx.
func (e *APIError) Permanent() bool {
	if e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests {
		return false
	}
	return e.Status >= 400 && e.Status < 500
}

// Client talks to the field-operations REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchScope GETs the full collection for scope: the global collection,
// or the parent-scoped one when the scope names a parent.
func (c *Client) FetchScope(ctx context.Context, scope types.Scope) ([]types.Record, error) {
	def, err := types.LookupScope(scope.Kind)
	if err != nil {
		return nil, err
	}

	path := def.Path
	if scope.ParentID != "" {
		if def.ScopedPath == "" {
			return nil, fmt.Errorf("scope %s has no parent-scoped endpoint", scope.Kind)
		}
		path = fmt.Sprintf(def.ScopedPath, scope.ParentID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", scope, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var records []types.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", scope, err)
	}
	return records, nil
}

// Apply submits one queued mutation. On success it returns the server's
// view of the record, which carries the authoritative id.
func (c *Client) Apply(ctx context.Context, m *types.PendingMutation) (types.Record, error) {
	def, err := types.LookupKind(m.Kind)
	if err != nil {
		return nil, err
	}

	endpoint := def.Endpoint
	if def.ParentField != "" {
		parent, ok := types.FieldID(m.Payload, def.ParentField)
		if !ok {
			return nil, &APIError{Status: http.StatusBadRequest, Body: "payload missing " + def.ParentField}
		}
		endpoint = strings.ReplaceAll(endpoint, "{parent}", parent)
	}

	// The server assigns ids; never send the local temporary one.
	payload := make(types.Record, len(m.Payload))
	for k, v := range m.Payload {
		payload[k] = v
	}
	if id, ok := types.FieldID(payload, "id"); ok && types.IsLocalID(id) {
		delete(payload, "id")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, def.Method, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", m.Kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var created types.Record
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		// Some endpoints reply with an empty body on success.
		return types.Record{}, nil
	}
	return created, nil
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string {
	return c.baseURL
}
