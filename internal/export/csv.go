// Package export writes hour and product logs as CSV files and xlsx workbooks.
package export

import (
	"encoding/csv"
	"io"
	"regexp"
	"strconv"

	"github.com/and161185/timesync/internal/convert"
)

// Column layouts.
var (
	HourHeader    = []string{"Date", "Customer", "Hours", "Price", "Comment", "User"}
	ProductHeader = []string{"Date", "Customer", "Product", "Quantity", "Total Price", "User"}
	SummaryHeader = []string{"Category", "Count", "Total Amount"}

	hourWidths    = []float64{12, 25, 10, 10, 30, 15}
	productWidths = []float64{12, 25, 25, 10, 12, 15}
	summaryWidths = []float64{30, 20, 20}
)

// Kind selects what is exported.
type Kind string

const (
	KindHours    Kind = "hours"
	KindProducts Kind = "products"
	KindCombined Kind = "combined"
)

var whitespace = regexp.MustCompile(`\s+`)

// Filename builds "<prefix>_<period>[_<user>].<ext>" with whitespace in the
// user name replaced by underscores.
func Filename(kind Kind, period, user, ext string) string {
	prefix := "hour_logs"
	switch kind {
	case KindProducts:
		prefix = "product_logs"
	case KindCombined:
		prefix = "combined_logs"
	}
	name := prefix + "_" + period
	if user != "" {
		name += "_" + whitespace.ReplaceAllString(user, "_")
	}
	return name + "." + ext
}

// WriteCSV writes header and rows with RFC 4180 quoting.
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// HourRecords renders hour rows as CSV records.
func HourRecords(rows []convert.HourRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.Date, r.Customer, money(r.Hours), money(r.Price), r.Comment, r.User})
	}
	return out
}

// ProductRecords renders product rows as CSV records.
func ProductRecords(rows []convert.ProductRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.Date, r.Customer, r.Product,
			strconv.FormatFloat(r.Quantity, 'f', -1, 64),
			money(r.TotalPrice), r.User,
		})
	}
	return out
}

func money(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
