package payment

import "errors"

var (
	ErrDiscountExceedsTotal = errors.New("discount exceeds bill total")
	ErrInsufficientTender   = errors.New("amount tendered is less than amount due")
)

// Result carries the derived checkout amounts. AmountDueCents is clamped to
// zero for display; ChangeCents can be negative only while validation is
// failing, and a failing validation blocks submission.
type Result struct {
	AmountDueCents int64
	ChangeCents    int64
}

// Compute derives the amount due and change for a checkout. Both validation
// rules are evaluated independently and joined, so a form can surface every
// failing rule at once.
func Compute(billTotalCents int64, discountCents int64, tenderedCents int64) (Result, error) {
	var errs []error
	if discountCents > billTotalCents {
		errs = append(errs, ErrDiscountExceedsTotal)
	}
	if tenderedCents < billTotalCents-discountCents {
		errs = append(errs, ErrInsufficientTender)
	}

	due := billTotalCents - discountCents
	if due < 0 {
		due = 0
	}

	return Result{
		AmountDueCents: due,
		ChangeCents:    tenderedCents - due,
	}, errors.Join(errs...)
}

// SuggestedTender is the auto-fill applied when the discount changes and the
// cashier has not manually edited the tendered amount.
func SuggestedTender(billTotalCents int64, discountCents int64) int64 {
	due := billTotalCents - discountCents
	if due < 0 {
		return 0
	}
	return due
}
