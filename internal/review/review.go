// Package review applies user corrections to a recognized record. Every
// field arrives as text and is re-parsed into its semantic type; the raw
// recognition result is never touched here.
package review

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yuehanbi/receipt2excel/internal/entity"
)

// LineItemEdit is one edited expense row, amounts still as text.
type LineItemEdit struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

// FieldEdits carries the caller-supplied field values. A nil field means
// "leave as is"; LineItems, when present, replaces the whole sequence.
type FieldEdits struct {
	ExpenseID   *string         `json:"expense_id,omitempty"`
	Date        *string         `json:"date,omitempty"`
	Submitter   *string         `json:"submitter,omitempty"`
	Department  *string         `json:"department,omitempty"`
	LineItems   *[]LineItemEdit `json:"line_items,omitempty"`
	TotalAmount *string         `json:"total_amount,omitempty"`
}

// ApplyEdits returns current with the edits applied. Application is atomic:
// any unparseable amount rejects the whole round and the caller keeps the
// prior record. Repeated rounds operate against the latest edited record, so
// corrections accumulate.
func ApplyEdits(current entity.ExpenseRecord, edits FieldEdits) (entity.ExpenseRecord, error) {
	out := current.Clone()

	if edits.ExpenseID != nil {
		out.ExpenseID = strings.TrimSpace(*edits.ExpenseID)
	}
	if edits.Date != nil {
		out.Date = strings.TrimSpace(*edits.Date)
	}
	if edits.Submitter != nil {
		out.Submitter = strings.TrimSpace(*edits.Submitter)
	}
	if edits.Department != nil {
		out.Department = strings.TrimSpace(*edits.Department)
	}
	if edits.LineItems != nil {
		items := make([]entity.LineItem, 0, len(*edits.LineItems))
		for i, it := range *edits.LineItems {
			name := strings.TrimSpace(it.Name)
			if name == "" {
				return current, fmt.Errorf("line item %d: name is required", i+1)
			}
			amount, err := decimal.NewFromString(strings.TrimSpace(it.Amount))
			if err != nil {
				return current, fmt.Errorf("line item %d: amount %q is not a decimal", i+1, it.Amount)
			}
			items = append(items, entity.LineItem{Name: name, Amount: amount})
		}
		if len(items) == 0 {
			return current, fmt.Errorf("line items cannot be empty")
		}
		out.LineItems = items
	}
	if edits.TotalAmount != nil {
		total, err := decimal.NewFromString(strings.TrimSpace(*edits.TotalAmount))
		if err != nil {
			return current, fmt.Errorf("total_amount %q is not a decimal", *edits.TotalAmount)
		}
		out.TotalAmount = total
	}

	return out, nil
}
