package entity

import "github.com/shopspring/decimal"

// LineItem is one expense row on a receipt.
type LineItem struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// ExpenseRecord is the structured extraction result for one receipt.
// Date keeps the source format verbatim; TotalAmount is stored as produced
// or edited and is never recomputed from LineItems.
type ExpenseRecord struct {
	ExpenseID   string          `json:"expense_id"`
	Date        string          `json:"date"`
	Submitter   string          `json:"submitter"`
	Department  string          `json:"department"`
	LineItems   []LineItem      `json:"line_items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// Clone returns a deep copy so edits can never reach back into the original.
func (r ExpenseRecord) Clone() ExpenseRecord {
	out := r
	out.LineItems = make([]LineItem, len(r.LineItems))
	copy(out.LineItems, r.LineItems)
	return out
}

// SumLineItems adds up the line-item amounts. Callers may compare this to
// TotalAmount to flag a mismatch; the record itself is left alone.
func (r ExpenseRecord) SumLineItems() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range r.LineItems {
		sum = sum.Add(it.Amount)
	}
	return sum
}
