package cart

import (
	"time"

	"github.com/google/uuid"

	"github.com/yanasoup/pos-sub000/internal/domain"
)

// SaleCart accumulates one checkout's worth of line items, mirroring the
// paper receipt being built up at the register. State is ephemeral and owned
// by a single terminal session; all operations are pure state transitions.
type SaleCart struct {
	Master domain.SaleMaster
	Lines  []domain.CartLine
}

func NewSaleCart() *SaleCart {
	c := &SaleCart{}
	c.Reset()
	return c
}

// AddLine merges the line into the cart. A line with a ProductID already in
// the cart accumulates quantity and takes the new price and cost; otherwise
// the line is appended. The first add after a reset stamps a fresh sale
// number.
func (c *SaleCart) AddLine(line domain.CartLine) {
	if c.Master.SaleNo == "" {
		c.Master.SaleNo = uuid.NewString()
		c.Master.SaleDate = time.Now().UTC()
	}
	c.Lines = mergeAdd(c.Lines, line)
}

// ReplaceLine removes any existing entry with the same ProductID and inserts
// the new line as-is. Replacing twice with the same line is idempotent.
func (c *SaleCart) ReplaceLine(line domain.CartLine) {
	c.Lines = append(removeByID(c.Lines, line.ProductID), line)
}

// RemoveLine drops the entry with the given ProductID. Removing an absent id
// leaves the cart unchanged.
func (c *SaleCart) RemoveLine(productID string) {
	c.Lines = removeByID(c.Lines, productID)
}

// Reset clears the lines and blanks the master so the next add starts a fresh
// sale. Called only after a successful submission or an explicit cancel.
func (c *SaleCart) Reset() {
	c.Master = domain.SaleMaster{SaleDate: time.Now().UTC()}
	c.Lines = nil
}

func (c *SaleCart) TotalCents() int64 {
	return totalCents(c.Lines)
}

func (c *SaleCart) ItemCount() int {
	return itemCount(c.Lines)
}

func (c *SaleCart) View() domain.SaleCartView {
	return domain.SaleCartView{
		Master:         c.Master,
		Lines:          cloneLines(c.Lines),
		BillTotalCents: c.TotalCents(),
		ItemCount:      c.ItemCount(),
	}
}

// PurchaseCart is the goods-received counterpart of SaleCart. Its id is
// generated once, lazily, on the first add and persists across edits within
// the same session.
type PurchaseCart struct {
	Master domain.PurchaseMaster
	Lines  []domain.CartLine
}

func NewPurchaseCart() *PurchaseCart {
	c := &PurchaseCart{}
	c.Reset()
	return c
}

func (c *PurchaseCart) AddLine(line domain.CartLine) {
	if c.Master.PurchaseID == "" {
		c.Master.PurchaseID = uuid.NewString()
	}
	c.Lines = mergeAdd(c.Lines, line)
}

func (c *PurchaseCart) ReplaceLine(line domain.CartLine) {
	c.Lines = append(removeByID(c.Lines, line.ProductID), line)
}

func (c *PurchaseCart) RemoveLine(productID string) {
	c.Lines = removeByID(c.Lines, productID)
}

func (c *PurchaseCart) Reset() {
	c.Master = domain.PurchaseMaster{
		PurchaseDate: time.Now().UTC(),
		AutoPrice:    true,
	}
	c.Lines = nil
}

// SetMaster replaces the header fields wholesale, as the supplier combobox
// and header form do. The lazily assigned purchase id survives the replace
// unless the caller supplies its own.
func (c *PurchaseCart) SetMaster(master domain.PurchaseMaster) {
	if master.PurchaseID == "" {
		master.PurchaseID = c.Master.PurchaseID
	}
	if master.PurchaseDate.IsZero() {
		master.PurchaseDate = c.Master.PurchaseDate
	}
	c.Master = master
}

func (c *PurchaseCart) TotalCents() int64 {
	return totalCents(c.Lines)
}

func (c *PurchaseCart) ItemCount() int {
	return itemCount(c.Lines)
}

func (c *PurchaseCart) View() domain.PurchaseCartView {
	return domain.PurchaseCartView{
		Master:         c.Master,
		Lines:          cloneLines(c.Lines),
		BillTotalCents: c.TotalCents(),
		ItemCount:      c.ItemCount(),
	}
}

// mergeAdd collapses the new line into an existing entry with the same
// ProductID: quantity accumulates, price and cost take the latest values.
// The cart never holds two entries for one product id.
func mergeAdd(lines []domain.CartLine, line domain.CartLine) []domain.CartLine {
	for i := range lines {
		if lines[i].ProductID == line.ProductID {
			lines[i].Qty += line.Qty
			lines[i].PriceCents = line.PriceCents
			lines[i].PriceCogsCents = line.PriceCogsCents
			lines[i].ProductCode = line.ProductCode
			lines[i].ProductName = line.ProductName
			return lines
		}
	}
	return append(lines, line)
}

func removeByID(lines []domain.CartLine, productID string) []domain.CartLine {
	kept := make([]domain.CartLine, 0, len(lines))
	for _, existing := range lines {
		if existing.ProductID == productID {
			continue
		}
		kept = append(kept, existing)
	}
	return kept
}

func totalCents(lines []domain.CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.SubtotalCents()
	}
	return total
}

func itemCount(lines []domain.CartLine) int {
	count := 0
	for _, line := range lines {
		count += line.Qty
	}
	return count
}

func cloneLines(lines []domain.CartLine) []domain.CartLine {
	cloned := make([]domain.CartLine, len(lines))
	copy(cloned, lines)
	return cloned
}
