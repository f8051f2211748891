package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPStore implements Store against the backend's REST sync gateway.
// Collections map to /v1/{table}; the server upserts on POST and treats
// DELETE of a missing id as success, matching the contract.
type HTTPStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPStore constructs the REST remote store. The client timeout is a
// hard upper bound; callers still pass per-call contexts.
func NewHTTPStore(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Select returns records for one school matching the filter.
func (s *HTTPStore) Select(ctx context.Context, table, schoolID string, filter Filter) ([]Record, error) {
	if !ValidTable(table) {
		return nil, fmt.Errorf("select: unknown table %q", table)
	}
	params := url.Values{}
	params.Set("school_id", schoolID)
	for field, value := range filter.Eq {
		params.Set("eq."+field, value)
	}
	if filter.Search != "" {
		params.Set("search", filter.Search)
		params.Set("search_fields", strings.Join(filter.SearchFields, ","))
	}
	if filter.DateField != "" {
		params.Set("date_field", filter.DateField)
		if filter.From != "" {
			params.Set("from", filter.From)
		}
		if filter.To != "" {
			params.Set("to", filter.To)
		}
	}

	var records []Record
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/v1/%s?%s", table, params.Encode()), nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Insert upserts the record under its client-supplied id.
func (s *HTTPStore) Insert(ctx context.Context, table string, rec Record) error {
	if !ValidTable(table) {
		return fmt.Errorf("insert: unknown table %q", table)
	}
	return s.do(ctx, http.MethodPost, "/v1/"+table, rec, nil)
}

// Update upserts the record; see Insert.
func (s *HTTPStore) Update(ctx context.Context, table string, rec Record) error {
	if !ValidTable(table) {
		return fmt.Errorf("update: unknown table %q", table)
	}
	return s.do(ctx, http.MethodPut, fmt.Sprintf("/v1/%s/%s", table, rec.ID), rec, nil)
}

// Delete removes the record; a 404 counts as success.
func (s *HTTPStore) Delete(ctx context.Context, table, id string) error {
	if !ValidTable(table) {
		return fmt.Errorf("delete: unknown table %q", table)
	}
	err := s.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/%s/%s", table, id), nil, nil)
	if err != nil {
		var httpErr *statusError
		if errors.As(err, &httpErr) && httpErr.status == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.status, e.body)
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}
