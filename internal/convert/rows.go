// Package convert flattens backend records into export rows.
package convert

import (
	"math"
	"strings"
	"time"

	"github.com/and161185/timesync/internal/model"
)

// HourRow is one hour log as exported.
type HourRow struct {
	Date     string
	Customer string
	Hours    float64
	Price    float64
	Comment  string
	User     string
}

// ProductRow is one product log as exported.
type ProductRow struct {
	Date       string
	Customer   string
	Product    string
	Quantity   float64
	TotalPrice float64
	User       string
}

var dateLayouts = []string{
	"2006-01-02 15:04:05.000Z",
	"2006-01-02 15:04:05Z",
	time.RFC3339Nano,
	"2006-01-02",
}

// FormatDate renders backend timestamps as dd.mm.yyyy. Unparseable input is
// returned unchanged.
func FormatDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("02.01.2006")
		}
	}
	return s
}

// ToHourRows converts hour logs preserving order.
func ToHourRows(logs []model.HourLog) []HourRow {
	out := make([]HourRow, 0, len(logs))
	for _, l := range logs {
		out = append(out, HourRow{
			Date:     FormatDate(l.Date),
			Customer: l.CustomerName(),
			Hours:    Round2(l.Hours),
			Price:    Round2(l.Price),
			Comment:  l.Comment,
			User:     l.UserName(),
		})
	}
	return out
}

// ToProductRows converts product logs preserving order.
func ToProductRows(logs []model.ProductLog) []ProductRow {
	out := make([]ProductRow, 0, len(logs))
	for _, l := range logs {
		out = append(out, ProductRow{
			Date:       FormatDate(l.Created),
			Customer:   l.CustomerName(),
			Product:    l.ProductName(),
			Quantity:   l.Quantity,
			TotalPrice: Round2(l.TotalPrice),
			User:       l.UserName(),
		})
	}
	return out
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 { return math.Round(v*100) / 100 }
