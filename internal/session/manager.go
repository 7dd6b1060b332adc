package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/yanasoup/pos-sub000/internal/backend"
	"github.com/yanasoup/pos-sub000/internal/cache"
	"github.com/yanasoup/pos-sub000/internal/debounce"
	"github.com/yanasoup/pos-sub000/internal/domain"
	"github.com/yanasoup/pos-sub000/internal/journal"
	"github.com/yanasoup/pos-sub000/internal/payment"
	"github.com/yanasoup/pos-sub000/internal/pricing"
	"github.com/yanasoup/pos-sub000/internal/shift"
	"github.com/yanasoup/pos-sub000/internal/xid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidLine     = errors.New("invalid cart line")
)

// Manager owns all terminal sessions and drives the flows that combine cart,
// shift and payment state with the remote backend. Sessions are explicit
// instances keyed by id, never ambient globals, so tests can run isolated
// terminals side by side.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	backend       backend.Client
	cache         cache.ProductCache
	journal       journal.Recorder
	cacheTTL      time.Duration
	tenantID      string
	defaultMarkup int

	prefetch      *debounce.Debouncer
	prefetchMu    sync.Mutex
	prefetchToken string
}

type Options struct {
	CacheTTL      time.Duration
	PrefetchDelay time.Duration
	TenantID      string

	// DefaultMarkupRate is used for auto-priced purchase lines when the
	// purchase header does not carry its own rate.
	DefaultMarkupRate int
}

func NewManager(be backend.Client, productCache cache.ProductCache, recorder journal.Recorder, opts Options) *Manager {
	if productCache == nil {
		productCache = cache.NoopProductCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.PrefetchDelay <= 0 {
		opts.PrefetchDelay = 400 * time.Millisecond
	}
	if opts.TenantID == "" {
		opts.TenantID = "default-tenant"
	}
	if !pricing.ValidMarkupRate(opts.DefaultMarkupRate) {
		opts.DefaultMarkupRate = 10
	}

	m := &Manager{
		sessions:      make(map[string]*Session),
		backend:       be,
		cache:         productCache,
		journal:       recorder,
		cacheTTL:      opts.CacheTTL,
		tenantID:      opts.TenantID,
		defaultMarkup: opts.DefaultMarkupRate,
	}
	m.prefetch = debounce.New(opts.PrefetchDelay, m.refreshCatalog)
	return m
}

// Close stops the catalog prefetcher. Sessions need no teardown; they are
// in-memory only.
func (m *Manager) Close() {
	m.prefetch.Stop()
}

func (m *Manager) CreateSession() domain.SessionView {
	s := newSession(xid.New("term"))

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	return s.view()
}

func (m *Manager) GetSession(sessionID string) (domain.SessionView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(), nil
}

func (m *Manager) EndSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

// --- Sale cart ---

func (m *Manager) SaleCart(sessionID string) (domain.SaleCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.SaleCartView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sale.View(), nil
}

// AddSaleLine merges a line into the sale cart. Sale entry is gated on the
// shift machine; a closed register never accumulates a receipt.
func (m *Manager) AddSaleLine(sessionID string, line domain.CartLine) (domain.SaleCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.SaleCartView{}, err
	}
	if err := validateLine(line); err != nil {
		return domain.SaleCartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.shift.SellingAllowed() {
		return domain.SaleCartView{}, shift.ErrNotOpen
	}
	s.sale.AddLine(line)
	return s.sale.View(), nil
}

func (m *Manager) ReplaceSaleLine(sessionID string, line domain.CartLine) (domain.SaleCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.SaleCartView{}, err
	}
	if err := validateLine(line); err != nil {
		return domain.SaleCartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.shift.SellingAllowed() {
		return domain.SaleCartView{}, shift.ErrNotOpen
	}
	s.sale.ReplaceLine(line)
	return s.sale.View(), nil
}

func (m *Manager) RemoveSaleLine(sessionID string, productID string) (domain.SaleCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.SaleCartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sale.RemoveLine(productID)
	return s.sale.View(), nil
}

// ResetSaleCart abandons the current receipt on explicit cashier request.
// The post-submission reset happens inside SubmitSale, never before the
// backend confirms.
func (m *Manager) ResetSaleCart(sessionID string) (domain.SaleCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.SaleCartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetCheckout()
	return s.sale.View(), nil
}

// --- Checkout ---

// SetDiscount updates the draft discount. Unless the cashier has manually
// edited the tendered amount, it follows the new amount due.
func (m *Manager) SetDiscount(sessionID string, discountCents int64) (domain.CheckoutPreview, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.CheckoutPreview{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.discountCents = discountCents
	if !s.tenderedEdited {
		s.tenderedCents = payment.SuggestedTender(s.sale.TotalCents(), discountCents)
	}
	return s.checkoutPreview(), nil
}

func (m *Manager) SetTendered(sessionID string, tenderedCents int64) (domain.CheckoutPreview, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.CheckoutPreview{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tenderedCents = tenderedCents
	s.tenderedEdited = true
	return s.checkoutPreview(), nil
}

func (m *Manager) CheckoutPreview(sessionID string) (domain.CheckoutPreview, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.CheckoutPreview{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkoutPreview(), nil
}

// SubmitSale validates the draft, submits the assembled cart as one atomic
// create-request, and only resets the cart after the backend confirmed. A
// failed submission leaves cart and shift state untouched.
func (m *Manager) SubmitSale(ctx context.Context, sessionID string, token string, req domain.SubmitSaleRequest) (domain.CreateSaleResponse, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.CreateSaleResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.shift.SellingAllowed() {
		return domain.CreateSaleResponse{}, shift.ErrNotOpen
	}
	if len(s.sale.Lines) == 0 {
		return domain.CreateSaleResponse{}, ErrEmptyCart
	}
	if _, err := payment.Compute(s.sale.TotalCents(), s.discountCents, s.tenderedCents); err != nil {
		return domain.CreateSaleResponse{}, err
	}

	saleNo := s.sale.Master.SaleNo
	createReq := domain.CreateSaleRequest{
		SaleMaster: domain.CreateSaleMaster{
			ShiftID:              s.shift.ShiftID(),
			SaleNo:               saleNo,
			SaleDate:             s.sale.Master.SaleDate,
			Customer:             strings.TrimSpace(req.Customer),
			Notes:                strings.TrimSpace(req.Notes),
			InvoiceDiscountCents: s.discountCents,
		},
		Detail: s.sale.View().Lines,
	}

	resp, err := m.backend.CreateSale(ctx, token, createReq)
	if err != nil {
		return domain.CreateSaleResponse{}, err
	}

	m.record(ctx, s.id, "sale_submit", saleNo, fmt.Sprintf("total=%d,discount=%d,items=%d", s.sale.TotalCents(), s.discountCents, s.sale.ItemCount()))
	s.resetCheckout()

	return resp, nil
}

// --- Purchase cart ---

func (m *Manager) PurchaseCart(sessionID string) (domain.PurchaseCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.PurchaseCartView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purchase.View(), nil
}

// AddPurchaseLine merges a received line into the purchase cart. When the
// header has auto-pricing enabled and a valid markup rate, the sale price is
// derived from the cost price; otherwise the entered price stands.
func (m *Manager) AddPurchaseLine(sessionID string, line domain.CartLine) (domain.PurchaseCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.PurchaseCartView{}, err
	}
	if err := validateLine(line); err != nil {
		return domain.PurchaseCartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	master := s.purchase.Master
	if master.AutoPrice {
		rate := master.MarkupRatePercent
		if rate == 0 {
			rate = m.defaultMarkup
		}
		if pricing.ValidMarkupRate(rate) {
			line.PriceCents = pricing.SuggestedSalePriceCents(line.PriceCogsCents, rate)
		}
	}
	s.purchase.AddLine(line)
	return s.purchase.View(), nil
}

func (m *Manager) ReplacePurchaseLine(sessionID string, line domain.CartLine) (domain.PurchaseCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.PurchaseCartView{}, err
	}
	if err := validateLine(line); err != nil {
		return domain.PurchaseCartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purchase.ReplaceLine(line)
	return s.purchase.View(), nil
}

func (m *Manager) RemovePurchaseLine(sessionID string, productID string) (domain.PurchaseCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.PurchaseCartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purchase.RemoveLine(productID)
	return s.purchase.View(), nil
}

func (m *Manager) ResetPurchaseCart(sessionID string) (domain.PurchaseCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.PurchaseCartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purchase.Reset()
	return s.purchase.View(), nil
}

func (m *Manager) SetPurchaseMaster(sessionID string, master domain.PurchaseMaster) (domain.PurchaseCartView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.PurchaseCartView{}, err
	}
	if master.AutoPrice && !pricing.ValidMarkupRate(master.MarkupRatePercent) {
		return domain.PurchaseCartView{}, fmt.Errorf("%w: markup rate must be between %d and %d", ErrInvalidLine, pricing.MinMarkupRatePercent, pricing.MaxMarkupRatePercent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purchase.SetMaster(master)
	return s.purchase.View(), nil
}

func (m *Manager) SubmitPurchase(ctx context.Context, sessionID string, token string) (domain.CreatePurchaseResponse, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.CreatePurchaseResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.purchase.Lines) == 0 {
		return domain.CreatePurchaseResponse{}, ErrEmptyCart
	}

	master := s.purchase.Master
	purchaseNo := master.PurchaseNo
	if purchaseNo == "" {
		purchaseNo = master.PurchaseID
	}
	createReq := domain.CreatePurchaseRequest{
		Master: domain.CreatePurchaseMaster{
			TenantID:          m.tenantID,
			PurchaseNo:        purchaseNo,
			PurchaseDate:      master.PurchaseDate,
			SupplierID:        master.SupplierID,
			Notes:             master.Notes,
			AutoPrice:         master.AutoPrice,
			MarkupRatePercent: master.MarkupRatePercent,
		},
		Items: s.purchase.View().Lines,
	}

	resp, err := m.backend.CreatePurchase(ctx, token, createReq)
	if err != nil {
		return domain.CreatePurchaseResponse{}, err
	}

	m.record(ctx, s.id, "purchase_submit", purchaseNo, fmt.Sprintf("total=%d,items=%d,supplier=%s", s.purchase.TotalCents(), s.purchase.ItemCount(), master.SupplierID))
	s.purchase.Reset()

	return resp, nil
}

// --- Shift lifecycle ---

// OpenShift checks the local guard first (an illegal transition never issues
// a network call), then creates the shift remotely and applies the
// transition with the returned id.
func (m *Manager) OpenShift(ctx context.Context, sessionID string, token string, openingBalanceCents int64) (domain.ShiftView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.ShiftView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.shift.CanOpen(openingBalanceCents); err != nil {
		return domain.ShiftView{}, err
	}

	resp, err := m.backend.CreateShift(ctx, token, domain.CreateShiftRequest{OpeningBalanceCents: openingBalanceCents})
	if err != nil {
		return domain.ShiftView{}, err
	}
	if err := s.shift.Open(resp.ShiftID, openingBalanceCents); err != nil {
		return domain.ShiftView{}, err
	}

	m.record(ctx, s.id, "shift_open", resp.ShiftID, fmt.Sprintf("opening_balance=%d", openingBalanceCents))
	return s.shiftView(), nil
}

func (m *Manager) CloseShift(ctx context.Context, sessionID string, token string, closingBalanceCents int64, target shift.Status) (domain.ShiftView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.ShiftView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.shift.CanClose(target); err != nil {
		return domain.ShiftView{}, err
	}

	shiftID := s.shift.ShiftID()
	err = m.backend.CloseShift(ctx, token, domain.CloseShiftRequest{
		ShiftID:             shiftID,
		ClosingBalanceCents: closingBalanceCents,
		ClosingStatus:       string(target),
	})
	if err != nil {
		return domain.ShiftView{}, err
	}
	if err := s.shift.Close(target); err != nil {
		return domain.ShiftView{}, err
	}

	m.record(ctx, s.id, "shift_close", shiftID, fmt.Sprintf("closing_balance=%d,status=%s", closingBalanceCents, target))
	return s.shiftView(), nil
}

func (m *Manager) ShiftStatus(sessionID string) (domain.ShiftView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.ShiftView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shiftView(), nil
}

// SyncShift rebuilds the local machine from the backend's persisted shift,
// used when a terminal reconnects mid-shift. A 404 means no shift exists and
// the machine stays (or becomes) closed.
func (m *Manager) SyncShift(ctx context.Context, sessionID string, token string) (domain.ShiftView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.ShiftView{}, err
	}

	remote, err := m.backend.GetShift(ctx, token)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			remote = domain.RemoteShift{Status: string(shift.StatusClosed)}
		} else {
			return domain.ShiftView{}, err
		}
	}

	status, err := shift.ParseStatus(remote.Status)
	if err != nil {
		return domain.ShiftView{}, err
	}
	restored, err := shift.Restore(status, remote.ShiftID)
	if err != nil {
		return domain.ShiftView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.shift = restored
	return s.shiftView(), nil
}

// --- Product lookup ---

// ResolveProductCode turns a scanned or typed code into a product, cache
// first. A miss that reaches the backend also schedules one debounced
// catalog prefetch, so a burst of scans warms the cache with a single
// refresh. A 404 surfaces backend.ErrNotFound and changes nothing.
func (m *Manager) ResolveProductCode(ctx context.Context, token string, productCode string) (domain.Product, error) {
	code := strings.ToUpper(strings.TrimSpace(productCode))
	if code == "" {
		return domain.Product{}, fmt.Errorf("%w: product code required", ErrInvalidLine)
	}

	if cached, found, err := m.cache.Get(ctx, code); err != nil {
		log.Printf("[session] WARN: product cache get code=%s: %v", code, err)
	} else if found {
		return *cached, nil
	}

	m.rememberToken(token)
	m.prefetch.Trigger()

	product, err := m.backend.GetProductByCode(ctx, token, code)
	if err != nil {
		return domain.Product{}, err
	}

	if err := m.cache.Set(ctx, code, &product, m.cacheTTL); err != nil {
		log.Printf("[session] WARN: product cache set code=%s: %v", code, err)
	}
	return product, nil
}

// SearchProducts passes a free-text query through to the backend catalog and
// warms the code cache with whatever comes back.
func (m *Manager) SearchProducts(ctx context.Context, token string, query string) ([]domain.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query required", ErrInvalidLine)
	}

	products, err := m.backend.SearchProducts(ctx, token, query)
	if err != nil {
		return nil, err
	}
	for _, product := range products {
		if product.Code == "" {
			continue
		}
		p := product
		if err := m.cache.Set(ctx, strings.ToUpper(product.Code), &p, m.cacheTTL); err != nil {
			log.Printf("[session] WARN: search cache set code=%s: %v", product.Code, err)
		}
	}
	return products, nil
}

// refreshCatalog is the debounced prefetch target: one backend catalog list
// per burst of cache misses.
func (m *Manager) refreshCatalog() {
	token := m.lastToken()
	if token == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	products, err := m.backend.ListProducts(ctx, token)
	if err != nil {
		log.Printf("[session] WARN: catalog prefetch failed: %v", err)
		return
	}

	warmed := 0
	for _, product := range products {
		if product.Code == "" {
			continue
		}
		p := product
		if err := m.cache.Set(ctx, strings.ToUpper(product.Code), &p, m.cacheTTL); err != nil {
			log.Printf("[session] WARN: catalog prefetch cache set code=%s: %v", product.Code, err)
			continue
		}
		warmed++
	}
	log.Printf("[session] catalog prefetch warmed %d products", warmed)
}

func (m *Manager) rememberToken(token string) {
	m.prefetchMu.Lock()
	m.prefetchToken = token
	m.prefetchMu.Unlock()
}

func (m *Manager) lastToken() string {
	m.prefetchMu.Lock()
	defer m.prefetchMu.Unlock()
	return m.prefetchToken
}

// --- Journal ---

func (m *Manager) Journal(ctx context.Context, limit int) ([]journal.Entry, error) {
	if m.journal == nil {
		return nil, nil
	}
	return m.journal.List(ctx, limit)
}

// record writes a journal entry best-effort; a journaling failure never
// fails the user action it describes.
func (m *Manager) record(ctx context.Context, sessionID string, action string, entityID string, detail string) {
	if m.journal == nil {
		return
	}
	err := m.journal.Record(ctx, journal.Entry{
		SessionID: sessionID,
		Action:    action,
		EntityID:  entityID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[journal] WARN: failed to record action=%s entity=%s: %v", action, entityID, err)
	}
}

func (m *Manager) lookup(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func validateLine(line domain.CartLine) error {
	if strings.TrimSpace(line.ProductID) == "" {
		return fmt.Errorf("%w: product id required", ErrInvalidLine)
	}
	if line.Qty < 1 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidLine)
	}
	if line.PriceCents < 0 || line.PriceCogsCents < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidLine)
	}
	return nil
}
