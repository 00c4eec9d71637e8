package fyle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPClient is the REST implementation of Client.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs a source-platform client.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("fyle: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fyle: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fyle: %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fyle: decode %s: %w", path, err)
	}
	return nil
}

// ListExpenses implements Client.
func (c *HTTPClient) ListExpenses(ctx context.Context, filter ExpenseFilter) (ExpensePage, error) {
	q := url.Values{}
	if !filter.UpdatedSince.IsZero() {
		q.Set("updated_at", "gte."+filter.UpdatedSince.Format(time.RFC3339))
	}
	if filter.State != "" {
		q.Set("state", filter.State)
	}
	if filter.FundSource != "" {
		q.Set("fund_source", filter.FundSource)
	}
	if filter.Cursor != "" {
		q.Set("cursor", filter.Cursor)
	}
	if filter.PageSize > 0 {
		q.Set("limit", strconv.Itoa(filter.PageSize))
	}
	var page struct {
		Data       []Expense `json:"data"`
		NextCursor string    `json:"next_cursor"`
	}
	if err := c.get(ctx, "/expenses", q, &page); err != nil {
		return ExpensePage{}, err
	}
	return ExpensePage{Expenses: page.Data, NextCursor: page.NextCursor}, nil
}

// ListEmployees implements Client.
func (c *HTTPClient) ListEmployees(ctx context.Context) ([]Employee, error) {
	var out struct {
		Data []Employee `json:"data"`
	}
	if err := c.get(ctx, "/employees", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListCategories implements Client.
func (c *HTTPClient) ListCategories(ctx context.Context) ([]Category, error) {
	var out struct {
		Data []Category `json:"data"`
	}
	if err := c.get(ctx, "/categories", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
