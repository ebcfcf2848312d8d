// Package export renders confirmed expense records into a single XLSX
// workbook. Rendering is deterministic: the same records always produce the
// same cells in the same layout, and no timestamps are embedded.
package export

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/yuehanbi/receipt2excel/internal/common"
	"github.com/yuehanbi/receipt2excel/internal/entity"
)

const sheet = "报销单"

// RenderError reports which record in the batch could not be rendered, so
// the caller can surface the offending document.
type RenderError struct {
	RecordIndex int
	Cause       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render record %d: %v", e.RecordIndex+1, e.Cause)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// Service produces XLSX bytes for one or more records.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// Render writes one row-group per record: a header block (expense id, date,
// submitter, department), one row per line item, and a trailing total row.
// Amounts land as true numeric cells so spreadsheet consumers can aggregate
// without reparsing. All-or-nothing: any bad amount fails the whole batch.
func (s *Service) Render(records []entity.ExpenseRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records to export", common.ErrInvalidInput)
	}
	start := time.Now()

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	row := 1
	for i, r := range records {
		write(1, row, "报销单号")
		write(2, row, r.ExpenseID)
		write(3, row, "日期")
		write(4, row, r.Date)
		row++

		write(1, row, "报销人")
		write(2, row, r.Submitter)
		write(3, row, "部门")
		write(4, row, r.Department)
		row++

		write(1, row, "名称")
		write(2, row, "金额")
		row++

		for _, item := range r.LineItems {
			amount, err := numericCell(item.Amount)
			if err != nil {
				return nil, &RenderError{RecordIndex: i, Cause: fmt.Errorf("line item %q: %w", item.Name, err)}
			}
			write(1, row, item.Name)
			write(2, row, amount)
			row++
		}

		total, err := numericCell(r.TotalAmount)
		if err != nil {
			return nil, &RenderError{RecordIndex: i, Cause: fmt.Errorf("total: %w", err)}
		}
		write(1, row, "总金额")
		write(2, row, total)
		row += 2 // blank row between groups
	}

	_ = f.SetColWidth(sheet, "A", "A", 24)
	_ = f.SetColWidth(sheet, "B", "B", 16)
	_ = f.SetColWidth(sheet, "C", "C", 10)
	_ = f.SetColWidth(sheet, "D", "D", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"records", len(records),
		"rows", row-2,
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// SheetName is the workbook sheet exports land on.
func SheetName() string { return sheet }

// numericCell converts a decimal amount to the float64 excelize writes as a
// numeric cell, rejecting anything that is not a finite number.
func numericCell(d decimal.Decimal) (float64, error) {
	v, _ := d.Float64()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("amount %s is not a finite number", d.String())
	}
	return v, nil
}
