package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/and161185/timesync/internal/convert"
)

// Sheet names.
const (
	SheetSummary  = "Summary"
	SheetHours    = "Hour Logs"
	SheetProducts = "Product Logs"
)

const defaultSheet = "Sheet1"

// HourWorkbook builds a single-sheet workbook of hour logs.
func HourWorkbook(rows []convert.HourRow) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(defaultSheet, SheetHours); err != nil {
		return nil, closeOnErr(f, err)
	}
	if err := writeHourSheet(f, rows); err != nil {
		return nil, closeOnErr(f, err)
	}
	return f, nil
}

// ProductWorkbook builds a single-sheet workbook of product logs.
func ProductWorkbook(rows []convert.ProductRow) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(defaultSheet, SheetProducts); err != nil {
		return nil, closeOnErr(f, err)
	}
	if err := writeProductSheet(f, rows); err != nil {
		return nil, closeOnErr(f, err)
	}
	return f, nil
}

// CombinedWorkbook builds Summary, Hour Logs and Product Logs sheets.
func CombinedWorkbook(hours []convert.HourRow, products []convert.ProductRow) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(defaultSheet, SheetSummary); err != nil {
		return nil, closeOnErr(f, err)
	}
	if err := writeTable(f, SheetSummary, SummaryHeader, summaryWidths, Summary(hours, products)); err != nil {
		return nil, closeOnErr(f, err)
	}
	for _, name := range []string{SheetHours, SheetProducts} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, closeOnErr(f, err)
		}
	}
	if err := writeHourSheet(f, hours); err != nil {
		return nil, closeOnErr(f, err)
	}
	if err := writeProductSheet(f, products); err != nil {
		return nil, closeOnErr(f, err)
	}
	f.SetActiveSheet(0)
	return f, nil
}

// Summary returns the summary rows: per-category totals, a blank row, then
// one row per customer in first-seen order.
func Summary(hours []convert.HourRow, products []convert.ProductRow) [][]any {
	var hourTotal, productTotal float64
	for _, r := range hours {
		hourTotal += r.Price
	}
	for _, r := range products {
		productTotal += r.TotalPrice
	}

	out := [][]any{
		{"Hour Logs", len(hours), kr(hourTotal)},
		{"Product Logs", len(products), kr(productTotal)},
		{"Combined", len(hours) + len(products), kr(hourTotal + productTotal)},
		{"", "", ""},
		{"CUSTOMER BREAKDOWN", "", ""},
	}

	type agg struct{ hours, amount float64 }
	var order []string
	byCustomer := map[string]*agg{}
	get := func(name string) *agg {
		if name == "" {
			name = "Unknown"
		}
		a, ok := byCustomer[name]
		if !ok {
			a = &agg{}
			byCustomer[name] = a
			order = append(order, name)
		}
		return a
	}
	for _, r := range hours {
		a := get(r.Customer)
		a.hours += r.Hours
		a.amount += r.Price
	}
	for _, r := range products {
		get(r.Customer).amount += r.TotalPrice
	}
	for _, name := range order {
		a := byCustomer[name]
		out = append(out, []any{name, fmt.Sprintf("Hours: %.2f", a.hours), kr(a.amount)})
	}
	return out
}

func kr(v float64) string { return fmt.Sprintf("%.2f kr", v) }

func writeHourSheet(f *excelize.File, rows []convert.HourRow) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.Date, r.Customer, r.Hours, r.Price, r.Comment, r.User})
	}
	return writeTable(f, SheetHours, HourHeader, hourWidths, data)
}

func writeProductSheet(f *excelize.File, rows []convert.ProductRow) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.Date, r.Customer, r.Product, r.Quantity, r.TotalPrice, r.User})
	}
	return writeTable(f, SheetProducts, ProductHeader, productWidths, data)
}

func writeTable(f *excelize.File, sheet string, header []string, widths []float64, rows [][]any) error {
	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return err
		}
	}
	return nil
}

func closeOnErr(f *excelize.File, err error) error {
	_ = f.Close()
	return err
}
