package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/yanasoup/pos-sub000/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Client is the contract the terminal has with the remote POS backend. The
// backend owns stock levels, pricing authority and persistence; the terminal
// only ever submits fully assembled transactions and reads reference data.
// No call is retried here: a completed response, success or error, is the
// terminal's only terminal event for a user action.
type Client interface {
	CreateSale(ctx context.Context, token string, req domain.CreateSaleRequest) (domain.CreateSaleResponse, error)
	CreatePurchase(ctx context.Context, token string, req domain.CreatePurchaseRequest) (domain.CreatePurchaseResponse, error)
	CreateShift(ctx context.Context, token string, req domain.CreateShiftRequest) (domain.CreateShiftResponse, error)
	CloseShift(ctx context.Context, token string, req domain.CloseShiftRequest) error
	GetShift(ctx context.Context, token string) (domain.RemoteShift, error)
	GetProductByCode(ctx context.Context, token string, productCode string) (domain.Product, error)
	ListProducts(ctx context.Context, token string) ([]domain.Product, error)
	SearchProducts(ctx context.Context, token string, query string) ([]domain.Product, error)
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateSale(ctx context.Context, token string, req domain.CreateSaleRequest) (domain.CreateSaleResponse, error) {
	var resp domain.CreateSaleResponse
	if err := c.do(ctx, token, http.MethodPost, "/api/v1/sales", req, &resp); err != nil {
		return domain.CreateSaleResponse{}, err
	}
	if !resp.Success {
		return domain.CreateSaleResponse{}, errors.New("backend rejected sale")
	}
	return resp, nil
}

func (c *HTTPClient) CreatePurchase(ctx context.Context, token string, req domain.CreatePurchaseRequest) (domain.CreatePurchaseResponse, error) {
	var resp domain.CreatePurchaseResponse
	if err := c.do(ctx, token, http.MethodPost, "/api/v1/purchases", req, &resp); err != nil {
		return domain.CreatePurchaseResponse{}, err
	}
	if !resp.Success {
		return domain.CreatePurchaseResponse{}, errors.New("backend rejected purchase")
	}
	return resp, nil
}

func (c *HTTPClient) CreateShift(ctx context.Context, token string, req domain.CreateShiftRequest) (domain.CreateShiftResponse, error) {
	var resp domain.CreateShiftResponse
	if err := c.do(ctx, token, http.MethodPost, "/api/v1/shifts", req, &resp); err != nil {
		return domain.CreateShiftResponse{}, err
	}
	if resp.ShiftID == "" {
		return domain.CreateShiftResponse{}, errors.New("shift service returned empty shift id")
	}
	return resp, nil
}

func (c *HTTPClient) CloseShift(ctx context.Context, token string, req domain.CloseShiftRequest) error {
	return c.do(ctx, token, http.MethodPost, "/api/v1/shifts/close", req, nil)
}

func (c *HTTPClient) GetShift(ctx context.Context, token string) (domain.RemoteShift, error) {
	var resp domain.RemoteShift
	if err := c.do(ctx, token, http.MethodGet, "/api/v1/shifts/current", nil, &resp); err != nil {
		return domain.RemoteShift{}, err
	}
	return resp, nil
}

func (c *HTTPClient) GetProductByCode(ctx context.Context, token string, productCode string) (domain.Product, error) {
	var resp domain.Product
	path := "/api/v1/products/code/" + url.PathEscape(productCode)
	if err := c.do(ctx, token, http.MethodGet, path, nil, &resp); err != nil {
		return domain.Product{}, err
	}
	return resp, nil
}

func (c *HTTPClient) ListProducts(ctx context.Context, token string) ([]domain.Product, error) {
	var resp struct {
		Products []domain.Product `json:"products"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/api/v1/products", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

func (c *HTTPClient) SearchProducts(ctx context.Context, token string, query string) ([]domain.Product, error) {
	var resp struct {
		Products []domain.Product `json:"products"`
	}
	path := "/api/v1/products?search=" + url.QueryEscape(query)
	if err := c.do(ctx, token, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

func (c *HTTPClient) do(ctx context.Context, token string, method string, path string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		return fmt.Errorf("backend %s %s: %s", method, path, readErrorMessage(resp.Body, resp.StatusCode))
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// readErrorMessage extracts the backend's error field when present so the
// cashier sees the real reason, not just a status code.
func readErrorMessage(body io.Reader, status int) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return fmt.Sprintf("status %d", status)
}
