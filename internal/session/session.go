package session

import (
	"sync"
	"time"

	"github.com/yanasoup/pos-sub000/internal/cart"
	"github.com/yanasoup/pos-sub000/internal/domain"
	"github.com/yanasoup/pos-sub000/internal/payment"
	"github.com/yanasoup/pos-sub000/internal/shift"
)

// Session is one cashier terminal's working state: the sale cart being rung
// up, the purchase cart being received, the shift machine and the checkout
// draft. It holds no I/O; the Manager drives all backend calls. State is
// deliberately ephemeral, a terminal restart starts from a blank receipt.
type Session struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time

	sale     *cart.SaleCart
	purchase *cart.PurchaseCart
	shift    *shift.Machine

	// Checkout draft. tenderedEdited tracks whether the cashier has typed a
	// tendered amount since the last discount change; while false, the
	// tendered field follows the suggested amount.
	discountCents  int64
	tenderedCents  int64
	tenderedEdited bool
}

func newSession(id string) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now().UTC(),
		sale:      cart.NewSaleCart(),
		purchase:  cart.NewPurchaseCart(),
		shift:     shift.NewMachine(),
	}
}

func (s *Session) view() domain.SessionView {
	return domain.SessionView{
		SessionID: s.id,
		CreatedAt: s.createdAt,
		Shift:     s.shiftView(),
	}
}

func (s *Session) shiftView() domain.ShiftView {
	return domain.ShiftView{
		Status:  string(s.shift.Status()),
		ShiftID: s.shift.ShiftID(),
	}
}

func (s *Session) checkoutPreview() domain.CheckoutPreview {
	total := s.sale.TotalCents()
	result, err := payment.Compute(total, s.discountCents, s.tenderedCents)

	preview := domain.CheckoutPreview{
		BillTotalCents: total,
		DiscountCents:  s.discountCents,
		TenderedCents:  s.tenderedCents,
		AmountDueCents: result.AmountDueCents,
		ChangeCents:    result.ChangeCents,
		Valid:          err == nil,
	}
	if err != nil {
		preview.ValidationIssue = issueMessages(err)
	}
	return preview
}

func (s *Session) resetCheckout() {
	s.sale.Reset()
	s.discountCents = 0
	s.tenderedCents = 0
	s.tenderedEdited = false
}

// issueMessages flattens the joined validation errors into per-field
// messages the form can surface inline.
func issueMessages(err error) []string {
	type unwrapper interface{ Unwrap() []error }

	joined, ok := err.(unwrapper)
	if !ok {
		return []string{err.Error()}
	}
	messages := make([]string, 0, 2)
	for _, issue := range joined.Unwrap() {
		messages = append(messages, issue.Error())
	}
	return messages
}
