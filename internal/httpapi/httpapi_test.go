package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yanasoup/pos-sub000/internal/backend"
	"github.com/yanasoup/pos-sub000/internal/domain"
	"github.com/yanasoup/pos-sub000/internal/journal/memory"
	"github.com/yanasoup/pos-sub000/internal/session"
)

type fakeBackend struct {
	products map[string]domain.Product
}

func (f *fakeBackend) CreateSale(_ context.Context, _ string, _ domain.CreateSaleRequest) (domain.CreateSaleResponse, error) {
	return domain.CreateSaleResponse{Success: true}, nil
}

func (f *fakeBackend) CreatePurchase(_ context.Context, _ string, _ domain.CreatePurchaseRequest) (domain.CreatePurchaseResponse, error) {
	return domain.CreatePurchaseResponse{Success: true}, nil
}

func (f *fakeBackend) CreateShift(_ context.Context, _ string, _ domain.CreateShiftRequest) (domain.CreateShiftResponse, error) {
	return domain.CreateShiftResponse{ShiftID: "shift-1"}, nil
}

func (f *fakeBackend) CloseShift(_ context.Context, _ string, _ domain.CloseShiftRequest) error {
	return nil
}

func (f *fakeBackend) GetShift(_ context.Context, _ string) (domain.RemoteShift, error) {
	return domain.RemoteShift{}, backend.ErrNotFound
}

func (f *fakeBackend) GetProductByCode(_ context.Context, _ string, code string) (domain.Product, error) {
	product, ok := f.products[code]
	if !ok {
		return domain.Product{}, backend.ErrNotFound
	}
	return product, nil
}

func (f *fakeBackend) ListProducts(_ context.Context, _ string) ([]domain.Product, error) {
	return nil, nil
}

func (f *fakeBackend) SearchProducts(_ context.Context, _ string, query string) ([]domain.Product, error) {
	var matches []domain.Product
	for _, product := range f.products {
		if strings.Contains(strings.ToLower(product.Name), strings.ToLower(query)) {
			matches = append(matches, product)
		}
	}
	return matches, nil
}

func newTestAPI(t *testing.T, supervisorPIN string) (*API, *session.Manager) {
	t.Helper()

	be := &fakeBackend{products: map[string]domain.Product{
		"SKU-1": {ID: "p1", Code: "SKU-1", Name: "Coffee", PriceCents: 15000},
	}}
	manager := session.NewManager(be, nil, memory.New(), session.Options{
		PrefetchDelay: time.Hour,
	})
	t.Cleanup(manager.Close)

	var hash []byte
	if supervisorPIN != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(supervisorPIN), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash pin: %v", err)
		}
	}
	return New(manager, hash, "http://127.0.0.1:3000"), manager
}

func doRequest(t *testing.T, handler http.Handler, method string, path string, body string, withToken bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if withToken {
		req.Header.Set("Authorization", "Bearer test-token")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func createSession(t *testing.T, handler http.Handler) string {
	t.Helper()

	resp := doRequest(t, handler, http.MethodPost, "/api/v1/sessions", "", false)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", resp.Code, resp.Body.String())
	}
	var payload struct {
		Session domain.SessionView `json:"session"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if payload.Session.SessionID == "" {
		t.Fatal("expected a session id")
	}
	return payload.Session.SessionID
}

func TestHealth(t *testing.T) {
	api, _ := newTestAPI(t, "")
	resp := doRequest(t, api.Handler(), http.MethodGet, "/healthz", "", false)
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d", resp.Code)
	}
}

func TestAddSaleLineWithoutShiftConflicts(t *testing.T) {
	api, _ := newTestAPI(t, "")
	handler := api.Handler()
	sessionID := createSession(t, handler)

	resp := doRequest(t, handler, http.MethodPost, "/api/v1/sessions/"+sessionID+"/sale/lines",
		`{"product_id":"p1","qty":1,"price_cents":1000}`, false)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestSaleFlowOverHTTP(t *testing.T) {
	api, _ := newTestAPI(t, "")
	handler := api.Handler()
	sessionID := createSession(t, handler)
	base := "/api/v1/sessions/" + sessionID

	resp := doRequest(t, handler, http.MethodPost, base+"/shift/open", `{"opening_balance_cents":500000}`, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("open shift: status %d: %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(t, handler, http.MethodPost, base+"/sale/lines",
		`{"product_id":"p1","product_name":"Coffee","qty":"2","price_cents":15000}`, false)
	if resp.Code != http.StatusOK {
		t.Fatalf("add line: status %d: %s", resp.Code, resp.Body.String())
	}
	var cartPayload struct {
		Cart domain.SaleCartView `json:"cart"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &cartPayload); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if cartPayload.Cart.BillTotalCents != 30000 {
		t.Fatalf("expected total 30000, got %d", cartPayload.Cart.BillTotalCents)
	}

	resp = doRequest(t, handler, http.MethodPost, base+"/checkout/discount", `{"discount_cents":5000}`, false)
	if resp.Code != http.StatusOK {
		t.Fatalf("set discount: status %d: %s", resp.Code, resp.Body.String())
	}
	var checkoutPayload struct {
		Checkout domain.CheckoutPreview `json:"checkout"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &checkoutPayload); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	if checkoutPayload.Checkout.TenderedCents != 25000 {
		t.Fatalf("tendered should auto-fill to 25000, got %d", checkoutPayload.Checkout.TenderedCents)
	}
	if !checkoutPayload.Checkout.Valid {
		t.Fatalf("checkout should be valid: %+v", checkoutPayload.Checkout)
	}

	resp = doRequest(t, handler, http.MethodPost, base+"/checkout/submit", `{"customer":"walk-in"}`, true)
	if resp.Code != http.StatusCreated {
		t.Fatalf("submit: status %d: %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(t, handler, http.MethodGet, base+"/sale", "", false)
	if resp.Code != http.StatusOK {
		t.Fatalf("get cart: status %d", resp.Code)
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &cartPayload); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(cartPayload.Cart.Lines) != 0 {
		t.Fatalf("cart should be empty after submit, got %d lines", len(cartPayload.Cart.Lines))
	}
}

func TestSubmitRequiresToken(t *testing.T) {
	api, _ := newTestAPI(t, "")
	handler := api.Handler()
	sessionID := createSession(t, handler)

	resp := doRequest(t, handler, http.MethodPost, "/api/v1/sessions/"+sessionID+"/checkout/submit", `{}`, false)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestDeferredCloseNeedsSupervisorPIN(t *testing.T) {
	api, _ := newTestAPI(t, "775533")
	handler := api.Handler()
	sessionID := createSession(t, handler)
	base := "/api/v1/sessions/" + sessionID

	resp := doRequest(t, handler, http.MethodPost, base+"/shift/open", `{"opening_balance_cents":0}`, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("open shift: status %d: %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(t, handler, http.MethodPost, base+"/shift/close",
		`{"closing_balance_cents":0,"closing_status":"pending_close"}`, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("defer close: status %d: %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(t, handler, http.MethodPost, base+"/shift/close",
		`{"closing_balance_cents":0,"closing_status":"closed","supervisor_pin":"000000"}`, true)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("wrong pin should be rejected, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(t, handler, http.MethodPost, base+"/shift/close",
		`{"closing_balance_cents":0,"closing_status":"closed","supervisor_pin":"775533"}`, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("final close: status %d: %s", resp.Code, resp.Body.String())
	}
	var shiftPayload struct {
		Shift domain.ShiftView `json:"shift"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &shiftPayload); err != nil {
		t.Fatalf("decode shift: %v", err)
	}
	if shiftPayload.Shift.Status != "closed" {
		t.Fatalf("expected closed, got %s", shiftPayload.Shift.Status)
	}
}

func TestProductByCode(t *testing.T) {
	api, _ := newTestAPI(t, "")
	handler := api.Handler()

	resp := doRequest(t, handler, http.MethodGet, "/api/v1/products/code/SKU-1", "", false)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodGet, "/api/v1/products/code/SKU-1", "", true)
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	var payload struct {
		Product domain.Product `json:"product"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Product.ID != "p1" {
		t.Fatalf("unexpected product: %+v", payload.Product)
	}

	resp = doRequest(t, handler, http.MethodGet, "/api/v1/products/code/MISSING", "", true)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestProductSearch(t *testing.T) {
	api, _ := newTestAPI(t, "")
	handler := api.Handler()

	resp := doRequest(t, handler, http.MethodGet, "/api/v1/products/search?q=coffee", "", true)
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	var payload struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Products) != 1 {
		t.Fatalf("expected one match, got %d", len(payload.Products))
	}

	resp = doRequest(t, handler, http.MethodGet, "/api/v1/products/search", "", true)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing query, got %d", resp.Code)
	}
}

func TestPricingSuggestion(t *testing.T) {
	api, _ := newTestAPI(t, "")
	handler := api.Handler()

	resp := doRequest(t, handler, http.MethodGet, "/api/v1/pricing/suggestion?cost_cents=12345&markup_rate_percent=10", "", false)
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	var suggestion domain.PricingSuggestion
	if err := json.Unmarshal(resp.Body.Bytes(), &suggestion); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if suggestion.SuggestedSaleCents != 13600 {
		t.Fatalf("expected 13600, got %d", suggestion.SuggestedSaleCents)
	}

	resp = doRequest(t, handler, http.MethodGet, "/api/v1/pricing/suggestion?cost_cents=100&markup_rate_percent=0", "", false)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad rate, got %d", resp.Code)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	api, _ := newTestAPI(t, "")
	handler := api.Handler()

	resp := doRequest(t, handler, http.MethodGet, "/api/v1/sessions/nope/sale", "", false)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestJournalEndpoint(t *testing.T) {
	api, _ := newTestAPI(t, "")
	handler := api.Handler()
	sessionID := createSession(t, handler)

	resp := doRequest(t, handler, http.MethodPost, "/api/v1/sessions/"+sessionID+"/shift/open", `{"opening_balance_cents":100}`, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("open shift: status %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodGet, "/api/v1/journal?limit=5", "", false)
	if resp.Code != http.StatusOK {
		t.Fatalf("journal: status %d", resp.Code)
	}
	var payload struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Entries) != 1 {
		t.Fatalf("expected one journal entry, got %d", len(payload.Entries))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api, _ := newTestAPI(t, "")
	handler := api.Handler()

	resp := doRequest(t, handler, http.MethodDelete, "/healthz", "", false)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}
