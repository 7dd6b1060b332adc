package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CartLine is one line of a sale or purchase cart. ProductID is the canonical
// identity key for all cart operations (add-merge, replace, remove).
type CartLine struct {
	ProductID      string `json:"product_id"`
	ProductCode    string `json:"product_code"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty"`
	PriceCents     int64  `json:"price_cents"`
	PriceCogsCents int64  `json:"price_cogs_cents"`
}

func (l CartLine) SubtotalCents() int64 {
	return int64(l.Qty) * l.PriceCents
}

type SaleMaster struct {
	ShiftID  string    `json:"shift_id"`
	SaleNo   string    `json:"sale_no"`
	SaleDate time.Time `json:"sale_date"`
}

type PurchaseMaster struct {
	PurchaseID        string    `json:"purchase_id"`
	PurchaseNo        string    `json:"purchase_no"`
	PurchaseDate      time.Time `json:"purchase_date"`
	SupplierID        string    `json:"supplier_id"`
	SupplierName      string    `json:"supplier_name"`
	Notes             string    `json:"notes"`
	AutoPrice         bool      `json:"auto_price"`
	MarkupRatePercent int       `json:"markup_rate_percent"`
}

// Quantity decodes either a JSON number or a user-typed string. String input
// is stripped of every non-digit character before parsing, mirroring how the
// cashier-facing forms format quantities with thousand separators.
type Quantity int

func (q *Quantity) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*q = 0
		return nil
	}

	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, raw)
		if digits == "" {
			return fmt.Errorf("quantity %q contains no digits", raw)
		}
		parsed, err := strconv.Atoi(digits)
		if err != nil {
			return err
		}
		*q = Quantity(parsed)
		return nil
	}

	var parsed int
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}
	*q = Quantity(parsed)
	return nil
}

type Product struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	CategoryID     string `json:"category_id"`
	PriceCents     int64  `json:"price_cents"`
	PriceCogsCents int64  `json:"price_cogs_cents"`
	StockQty       int    `json:"stock_qty"`
	Active         bool   `json:"active"`
}

// Backend contracts. These mirror the remote REST backend request/response
// shapes; the terminal never encodes parameters positionally.

type CreateSaleRequest struct {
	SaleMaster CreateSaleMaster `json:"sale_master"`
	Detail     []CartLine       `json:"detail"`
}

type CreateSaleMaster struct {
	ShiftID              string    `json:"shift_id"`
	SaleNo               string    `json:"sale_no"`
	SaleDate             time.Time `json:"sale_date"`
	Customer             string    `json:"customer"`
	Notes                string    `json:"notes"`
	InvoiceDiscountCents int64     `json:"invoice_discount_cents"`
}

type CreateSaleResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type CreatePurchaseRequest struct {
	Master CreatePurchaseMaster `json:"master"`
	Items  []CartLine           `json:"items"`
}

type CreatePurchaseMaster struct {
	TenantID          string    `json:"tenant_id"`
	PurchaseNo        string    `json:"purchase_no"`
	PurchaseDate      time.Time `json:"purchase_date"`
	SupplierID        string    `json:"supplier_id"`
	Notes             string    `json:"notes"`
	AutoPrice         bool      `json:"auto_price"`
	MarkupRatePercent int       `json:"markup_rate_percent"`
}

type CreatePurchaseResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type CreateShiftRequest struct {
	OpeningBalanceCents int64 `json:"balance_cents"`
}

type CreateShiftResponse struct {
	ShiftID string `json:"shift_id"`
}

type CloseShiftRequest struct {
	ShiftID             string `json:"shift_id"`
	ClosingBalanceCents int64  `json:"balance_cents"`
	ClosingStatus       string `json:"closing_status"`
}

type RemoteShift struct {
	ShiftID             string `json:"shift_id"`
	Status              string `json:"status"`
	OpeningBalanceCents int64  `json:"opening_balance_cents"`
}

// Terminal API request/response shapes.

type AddLineRequest struct {
	ProductID      string   `json:"product_id"`
	ProductCode    string   `json:"product_code"`
	ProductName    string   `json:"product_name"`
	Qty            Quantity `json:"qty"`
	PriceCents     int64    `json:"price_cents"`
	PriceCogsCents int64    `json:"price_cogs_cents"`
}

func (r AddLineRequest) Line() CartLine {
	return CartLine{
		ProductID:      strings.TrimSpace(r.ProductID),
		ProductCode:    strings.TrimSpace(r.ProductCode),
		ProductName:    strings.TrimSpace(r.ProductName),
		Qty:            int(r.Qty),
		PriceCents:     r.PriceCents,
		PriceCogsCents: r.PriceCogsCents,
	}
}

type RemoveLineRequest struct {
	ProductID string `json:"product_id"`
}

type SetDiscountRequest struct {
	DiscountCents int64 `json:"discount_cents"`
}

type SetTenderedRequest struct {
	TenderedCents int64 `json:"tendered_cents"`
}

type CheckoutPreview struct {
	BillTotalCents  int64    `json:"bill_total_cents"`
	DiscountCents   int64    `json:"discount_cents"`
	TenderedCents   int64    `json:"tendered_cents"`
	AmountDueCents  int64    `json:"amount_due_cents"`
	ChangeCents     int64    `json:"change_cents"`
	Valid           bool     `json:"valid"`
	ValidationIssue []string `json:"validation_issues,omitempty"`
}

type SubmitSaleRequest struct {
	Customer string `json:"customer"`
	Notes    string `json:"notes"`
}

type ShiftOpenRequest struct {
	OpeningBalanceCents int64 `json:"opening_balance_cents"`
}

type ShiftCloseRequest struct {
	ClosingBalanceCents int64  `json:"closing_balance_cents"`
	ClosingStatus       string `json:"closing_status"`
	SupervisorPIN       string `json:"supervisor_pin,omitempty"`
}

type ShiftView struct {
	Status  string `json:"status"`
	ShiftID string `json:"shift_id,omitempty"`
}

type SaleCartView struct {
	Master         SaleMaster `json:"master"`
	Lines          []CartLine `json:"lines"`
	BillTotalCents int64      `json:"bill_total_cents"`
	ItemCount      int        `json:"item_count"`
}

type PurchaseCartView struct {
	Master         PurchaseMaster `json:"master"`
	Lines          []CartLine     `json:"lines"`
	BillTotalCents int64          `json:"bill_total_cents"`
	ItemCount      int            `json:"item_count"`
}

type SessionView struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Shift     ShiftView `json:"shift"`
}

type PricingSuggestion struct {
	CostCents          int64 `json:"cost_cents"`
	MarkupRatePercent  int   `json:"markup_rate_percent"`
	SuggestedSaleCents int64 `json:"suggested_sale_cents"`
}
