package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/and161185/timesync/internal/convert"
	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/export"
	"github.com/and161185/timesync/internal/model"
)

func (a *app) export(ctx context.Context, args []string) error {
	fs := newFlags("export")
	kind := fs.String("kind", string(export.KindHours), "hours, products or combined")
	format := fs.String("format", "xlsx", "csv or xlsx")
	period := fs.String("period", "", "YYYY or YYYY-MM (default all)")
	user := fs.String("user", "", "only this user's logs")
	dir := fs.String("o", ".", "output directory")
	if err := parse(fs, args); err != nil {
		return err
	}

	k := export.Kind(*kind)
	switch k {
	case export.KindHours, export.KindProducts, export.KindCombined:
	default:
		return fmt.Errorf("%w: export -kind %q", errs.ErrInvalidInput, *kind)
	}
	if *format != "csv" && *format != "xlsx" {
		return fmt.Errorf("%w: export -format %q", errs.ErrInvalidInput, *format)
	}
	if k == export.KindCombined && *format == "csv" {
		return fmt.Errorf("%w: combined export needs -format xlsx", errs.ErrInvalidInput)
	}

	var (
		hours    []convert.HourRow
		products []convert.ProductRow
	)
	if k != export.KindProducts {
		logs, err := a.store.FetchHourLogs(ctx, true)
		if err != nil {
			return err
		}
		hours = convert.ToHourRows(filterHours(logs, *period, *user))
	}
	if k != export.KindHours {
		logs, err := a.store.FetchProductLogs(ctx, true)
		if err != nil {
			return err
		}
		products = convert.ToProductRows(filterProducts(logs, *period, *user))
	}

	label := *period
	if label == "" {
		label = "all"
	}
	path := filepath.Join(*dir, export.Filename(k, label, *user, *format))
	if err := writeExport(path, k, *format, hours, products); err != nil {
		return err
	}
	fmt.Fprintln(a.out, path)
	return nil
}

func writeExport(path string, k export.Kind, format string, hours []convert.HourRow, products []convert.ProductRow) error {
	if format == "csv" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if k == export.KindHours {
			err = export.WriteCSV(f, export.HourHeader, export.HourRecords(hours))
		} else {
			err = export.WriteCSV(f, export.ProductHeader, export.ProductRecords(products))
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	}

	var (
		wb  *excelize.File
		err error
	)
	switch k {
	case export.KindHours:
		wb, err = export.HourWorkbook(hours)
	case export.KindProducts:
		wb, err = export.ProductWorkbook(products)
	default:
		wb, err = export.CombinedWorkbook(hours, products)
	}
	if err != nil {
		return err
	}
	defer func() { _ = wb.Close() }()
	return wb.SaveAs(path)
}

// filterHours keeps logs whose date starts with period and whose user name
// matches user, both ignored when empty.
func filterHours(logs []model.HourLog, period, user string) []model.HourLog {
	out := make([]model.HourLog, 0, len(logs))
	for _, l := range logs {
		if strings.HasPrefix(l.Date, period) && matchUser(l.UserName(), user) {
			out = append(out, l)
		}
	}
	return out
}

func filterProducts(logs []model.ProductLog, period, user string) []model.ProductLog {
	out := make([]model.ProductLog, 0, len(logs))
	for _, l := range logs {
		if strings.HasPrefix(l.Created, period) && matchUser(l.UserName(), user) {
			out = append(out, l)
		}
	}
	return out
}

func matchUser(name, want string) bool {
	return want == "" || strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(want))
}
