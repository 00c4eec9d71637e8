package netsuite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RESTClient talks to the ledger's REST surface and maps its responses onto
// the typed error taxonomy. Callers never see HTTP status codes.
type RESTClient struct {
	baseURL    string
	accountID  string
	token      string
	httpClient *http.Client
}

var _ Client = (*RESTClient)(nil)
var _ DimensionClient = (*RESTClient)(nil)

// NewRESTClient constructs a ledger client.
func NewRESTClient(baseURL, accountID, token string) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		accountID:  accountID,
		token:      token,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

type apiError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

func (c *RESTClient) post(ctx context.Context, path string, payload any) (ExportResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ExportResponse{}, fmt.Errorf("netsuite: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return ExportResponse{}, fmt.Errorf("netsuite: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-NetSuite-Account", c.accountID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ExportResponse{}, &ConnectionError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out struct {
			InternalID string `json:"internalId"`
			URL        string `json:"url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return ExportResponse{}, fmt.Errorf("netsuite: decode response: %w", err)
		}
		return ExportResponse{InternalID: out.InternalID, URL: out.URL}, nil
	}

	var apiErr apiError
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ExportResponse{}, &LoginError{Message: apiErr.Message}
	case resp.StatusCode == http.StatusTooManyRequests:
		return ExportResponse{}, &RateLimitError{Message: apiErr.Message}
	case resp.StatusCode == http.StatusBadRequest && len(apiErr.Errors) > 0:
		return ExportResponse{}, &ValidationError{Errors: apiErr.Errors}
	case resp.StatusCode >= 500:
		return ExportResponse{}, &ConnectionError{Message: apiErr.Message}
	default:
		return ExportResponse{}, &Fault{Code: apiErr.Code, Message: apiErr.Message}
	}
}

// CreateBill implements Client.
func (c *RESTClient) CreateBill(ctx context.Context, payload BillPayload) (ExportResponse, error) {
	return c.post(ctx, "/record/v1/vendorBill", payload)
}

// CreateExpenseReport implements Client.
func (c *RESTClient) CreateExpenseReport(ctx context.Context, payload ExpenseReportPayload) (ExportResponse, error) {
	return c.post(ctx, "/record/v1/expenseReport", payload)
}

// CreateJournalEntry implements Client.
func (c *RESTClient) CreateJournalEntry(ctx context.Context, payload JournalEntryPayload) (ExportResponse, error) {
	return c.post(ctx, "/record/v1/journalEntry", payload)
}

// CreateCreditCardCharge implements Client.
func (c *RESTClient) CreateCreditCardCharge(ctx context.Context, payload CreditCardChargePayload) (ExportResponse, error) {
	return c.post(ctx, "/record/v1/chargeCard", payload)
}

// CreateVendorPayment implements Client.
func (c *RESTClient) CreateVendorPayment(ctx context.Context, payload VendorPaymentPayload) (ExportResponse, error) {
	return c.post(ctx, "/record/v1/vendorPayment", payload)
}

// ListDimension implements DimensionClient. Pagination is unbounded
// upstream; callers run this under the import deadline.
func (c *RESTClient) ListDimension(ctx context.Context, dimension string) ([]Attribute, error) {
	var (
		out    []Attribute
		offset int
	)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/dimension/v1/%s?offset=%d", c.baseURL, dimension, offset), nil)
		if err != nil {
			return nil, fmt.Errorf("netsuite: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-NetSuite-Account", c.accountID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &ConnectionError{Message: err.Error()}
		}
		var page struct {
			Items   []Attribute `json:"items"`
			HasMore bool        `json:"hasMore"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &LoginError{Message: "dimension listing rejected"}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &Fault{Message: fmt.Sprintf("dimension listing returned %d", resp.StatusCode)}
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("netsuite: decode dimension page: %w", decodeErr)
		}
		for i := range page.Items {
			page.Items[i].Type = dimension
		}
		out = append(out, page.Items...)
		if !page.HasMore {
			return out, nil
		}
		offset += len(page.Items)
	}
}
