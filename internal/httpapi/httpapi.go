package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yanasoup/pos-sub000/internal/backend"
	"github.com/yanasoup/pos-sub000/internal/domain"
	"github.com/yanasoup/pos-sub000/internal/payment"
	"github.com/yanasoup/pos-sub000/internal/pricing"
	"github.com/yanasoup/pos-sub000/internal/session"
	"github.com/yanasoup/pos-sub000/internal/shift"
)

type API struct {
	sessions          *session.Manager
	supervisorPINHash []byte
	allowedOrigin     string
	pinLimiter        *attemptLimiter
}

func New(sessions *session.Manager, supervisorPINHash []byte, allowedOrigin string) *API {
	return &API{
		sessions:          sessions,
		supervisorPINHash: supervisorPINHash,
		allowedOrigin:     allowedOrigin,
		pinLimiter:        newAttemptLimiter(8, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)

	mux.HandleFunc("/api/v1/sessions", a.handleSessions)
	mux.HandleFunc("/api/v1/sessions/", a.handleSessionActions)
	mux.HandleFunc("/api/v1/products/code/", a.handleProductByCode)
	mux.HandleFunc("/api/v1/products/search", a.handleProductSearch)
	mux.HandleFunc("/api/v1/pricing/suggestion", a.handlePricingSuggestion)
	mux.HandleFunc("/api/v1/journal", a.handleJournal)

	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	view := a.sessions.CreateSession()
	writeJSON(w, http.StatusCreated, map[string]any{"session": view})
}

// handleSessionActions routes everything under /api/v1/sessions/{id}/...,
// parsing the path by hand. The tail after the session id selects the
// sub-resource: sale, purchase, checkout or shift.
func (a *API) handleSessionActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/sessions/"
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("session id required"))
		return
	}

	sessionID, rest, _ := strings.Cut(tail, "/")

	switch {
	case rest == "":
		a.handleSessionByID(w, r, sessionID)
	case rest == "sale" || strings.HasPrefix(rest, "sale/"):
		a.handleSale(w, r, sessionID, strings.TrimPrefix(strings.TrimPrefix(rest, "sale"), "/"))
	case rest == "purchase" || strings.HasPrefix(rest, "purchase/"):
		a.handlePurchase(w, r, sessionID, strings.TrimPrefix(strings.TrimPrefix(rest, "purchase"), "/"))
	case rest == "checkout" || strings.HasPrefix(rest, "checkout/"):
		a.handleCheckout(w, r, sessionID, strings.TrimPrefix(strings.TrimPrefix(rest, "checkout"), "/"))
	case rest == "shift" || strings.HasPrefix(rest, "shift/"):
		a.handleShift(w, r, sessionID, strings.TrimPrefix(strings.TrimPrefix(rest, "shift"), "/"))
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown session resource"))
	}
}

func (a *API) handleSessionByID(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		view, err := a.sessions.GetSession(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": view})
	case http.MethodDelete:
		if err := a.sessions.EndSession(sessionID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ended": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request, sessionID string, action string) {
	switch {
	case action == "" && r.Method == http.MethodGet:
		view, err := a.sessions.SaleCart(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case action == "lines" && r.Method == http.MethodPost:
		var req domain.AddLineRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.sessions.AddSaleLine(sessionID, req.Line())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case action == "lines" && r.Method == http.MethodPut:
		var req domain.AddLineRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.sessions.ReplaceSaleLine(sessionID, req.Line())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case strings.HasPrefix(action, "lines/") && r.Method == http.MethodDelete:
		productID := strings.Trim(strings.TrimPrefix(action, "lines/"), "/")
		if productID == "" {
			writeError(w, http.StatusBadRequest, errors.New("product id required"))
			return
		}
		view, err := a.sessions.RemoveSaleLine(sessionID, productID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case action == "reset" && r.Method == http.MethodPost:
		view, err := a.sessions.ResetSaleCart(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request, sessionID string, action string) {
	switch {
	case action == "" && r.Method == http.MethodGet:
		view, err := a.sessions.PurchaseCart(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case action == "lines" && r.Method == http.MethodPost:
		var req domain.AddLineRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.sessions.AddPurchaseLine(sessionID, req.Line())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case action == "lines" && r.Method == http.MethodPut:
		var req domain.AddLineRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.sessions.ReplacePurchaseLine(sessionID, req.Line())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case strings.HasPrefix(action, "lines/") && r.Method == http.MethodDelete:
		productID := strings.Trim(strings.TrimPrefix(action, "lines/"), "/")
		if productID == "" {
			writeError(w, http.StatusBadRequest, errors.New("product id required"))
			return
		}
		view, err := a.sessions.RemovePurchaseLine(sessionID, productID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case action == "master" && r.Method == http.MethodPut:
		var req domain.PurchaseMaster
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.sessions.SetPurchaseMaster(sessionID, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case action == "reset" && r.Method == http.MethodPost:
		view, err := a.sessions.ResetPurchaseCart(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})

	case action == "submit" && r.Method == http.MethodPost:
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		resp, err := a.sessions.SubmitPurchase(r.Context(), sessionID, token)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request, sessionID string, action string) {
	switch {
	case action == "" && r.Method == http.MethodGet:
		preview, err := a.sessions.CheckoutPreview(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"checkout": preview})

	case action == "discount" && r.Method == http.MethodPost:
		var req domain.SetDiscountRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.DiscountCents < 0 {
			writeError(w, http.StatusBadRequest, errors.New("discount must not be negative"))
			return
		}
		preview, err := a.sessions.SetDiscount(sessionID, req.DiscountCents)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"checkout": preview})

	case action == "tendered" && r.Method == http.MethodPost:
		var req domain.SetTenderedRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.TenderedCents < 0 {
			writeError(w, http.StatusBadRequest, errors.New("tendered amount must not be negative"))
			return
		}
		preview, err := a.sessions.SetTendered(sessionID, req.TenderedCents)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"checkout": preview})

	case action == "submit" && r.Method == http.MethodPost:
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		var req domain.SubmitSaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.sessions.SubmitSale(r.Context(), sessionID, token, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleShift(w http.ResponseWriter, r *http.Request, sessionID string, action string) {
	switch {
	case action == "" && r.Method == http.MethodGet:
		view, err := a.sessions.ShiftStatus(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shift": view})

	case action == "open" && r.Method == http.MethodPost:
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		var req domain.ShiftOpenRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.sessions.OpenShift(r.Context(), sessionID, token, req.OpeningBalanceCents)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shift": view})

	case action == "close" && r.Method == http.MethodPost:
		a.handleShiftClose(w, r, sessionID)

	case action == "sync" && r.Method == http.MethodPost:
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		view, err := a.sessions.SyncShift(r.Context(), sessionID, token)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shift": view})

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request, sessionID string) {
	token, err := bearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	target, err := shift.ParseStatus(req.ClosingStatus)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Completing a deferred close reconciles money counted while selling was
	// suspended, so it needs a supervisor sign-off.
	if target == shift.StatusClosed && len(a.supervisorPINHash) > 0 {
		current, err := a.sessions.ShiftStatus(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if current.Status == string(shift.StatusPendingClose) {
			if !a.pinLimiter.Allow(clientKey(r)) {
				writeError(w, http.StatusTooManyRequests, errors.New("too many pin attempts"))
				return
			}
			if bcrypt.CompareHashAndPassword(a.supervisorPINHash, []byte(req.SupervisorPIN)) != nil {
				writeError(w, http.StatusForbidden, errors.New("invalid supervisor pin"))
				return
			}
		}
	}

	view, err := a.sessions.CloseShift(r.Context(), sessionID, token, req.ClosingBalanceCents, target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift": view})
}

func (a *API) handleProductByCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	token, err := bearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	code := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/products/code/"), "/")
	if code == "" {
		writeError(w, http.StatusBadRequest, errors.New("product code required"))
		return
	}

	product, err := a.sessions.ResolveProductCode(r.Context(), token, code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleProductSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	token, err := bearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query parameter q required"))
		return
	}

	products, err := a.sessions.SearchProducts(r.Context(), token, query)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handlePricingSuggestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	costCents, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("cost_cents")), 10, 64)
	if err != nil || costCents < 0 {
		writeError(w, http.StatusBadRequest, errors.New("cost_cents must be a non-negative integer"))
		return
	}
	rate, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("markup_rate_percent")))
	if err != nil || !pricing.ValidMarkupRate(rate) {
		writeError(w, http.StatusBadRequest, errors.New("markup_rate_percent out of range"))
		return
	}

	writeJSON(w, http.StatusOK, domain.PricingSuggestion{
		CostCents:          costCents,
		MarkupRatePercent:  rate,
		SuggestedSaleCents: pricing.SuggestedSalePriceCents(costCents, rate),
	})
}

func (a *API) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	entries, err := a.sessions.Journal(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeDomainError maps the sentinel errors of the lower layers onto HTTP
// statuses. Unknown errors default to 422 so that backend rejections reach
// the cashier with the original message.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, backend.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, backend.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, session.ErrInvalidLine), errors.Is(err, shift.ErrNegativeBalance), errors.Is(err, shift.ErrBadTarget):
		status = http.StatusBadRequest
	case errors.Is(err, shift.ErrNotOpen), errors.Is(err, shift.ErrAlreadyOpen), errors.Is(err, shift.ErrAlreadyClosed):
		status = http.StatusConflict
	case errors.Is(err, session.ErrEmptyCart),
		errors.Is(err, payment.ErrDiscountExceedsTotal),
		errors.Is(err, payment.ErrInsufficientTender):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 4xx messages are user-facing; 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
