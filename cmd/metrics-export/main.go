package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"bitbucket.org/metrifyhq/metrify_backend/config"
	"bitbucket.org/metrifyhq/metrify_backend/models"
	"bitbucket.org/metrifyhq/metrify_backend/utils"
)

const sheet = "Metrics"

func main() {
	from := flag.String("from", "", "Optional: start date (YYYY-MM-DD). Defaults to 30 days before --to.")
	to := flag.String("to", "", "Optional: end date (YYYY-MM-DD), exclusive. Defaults to tomorrow (UTC).")
	out := flag.String("out", "daily-variant-metrics.xlsx", "Output file path")
	upload := flag.Bool("upload", false, "Also upload the workbook to the report bucket")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	end := utils.TruncateToDay(time.Now().UTC()).AddDate(0, 0, 1)
	if strings.TrimSpace(*to) != "" {
		d, err := time.Parse("2006-01-02", strings.TrimSpace(*to))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --to: %v\n", err)
			os.Exit(1)
		}
		end = utils.TruncateToDay(d)
	}
	start := end.AddDate(0, 0, -30)
	if strings.TrimSpace(*from) != "" {
		d, err := time.Parse("2006-01-02", strings.TrimSpace(*from))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --from: %v\n", err)
			os.Exit(1)
		}
		start = utils.TruncateToDay(d)
	}

	store := models.NewStore(db)
	metrics, err := store.MetricsBetween(ctx, start, end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load metrics: %v\n", err)
		os.Exit(1)
	}

	f := excelize.NewFile()
	if _, err := f.NewSheet(sheet); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create sheet: %v\n", err)
		os.Exit(1)
	}
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"VariantId", "Date", "UnitsSold", "OrderCount", "UniqueCustomers",
		"GrossRevenue", "DiscountAmount", "RefundAmount", "RefundCount",
		"Revenue", "DiscountRate", "RefundRate", "AvgOrderValue",
		"InventoryStart", "InventoryEnd", "SellThroughRate", "PriceAtTime",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, m := range metrics {
		values := []interface{}{
			m.VariantId,
			m.Date.Format("2006-01-02"),
			m.UnitsSold,
			m.OrderCount,
			m.UniqueCustomers,
			m.GrossRevenue.InexactFloat64(),
			m.DiscountAmount.InexactFloat64(),
			m.RefundAmount.InexactFloat64(),
			m.RefundCount,
			m.Revenue.InexactFloat64(),
			m.DiscountRate.InexactFloat64(),
			m.RefundRate.InexactFloat64(),
			m.AvgOrderValue.InexactFloat64(),
			m.InventoryStart,
			m.InventoryEnd,
			m.SellThroughRate.InexactFloat64(),
			m.PriceAtTime.InexactFloat64(),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	if err := f.SaveAs(*out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save workbook: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d metric rows to %s\n", len(metrics), *out)

	if *upload {
		var buf bytes.Buffer
		if err := f.Write(&buf); err != nil {
			fmt.Fprintf(os.Stderr, "failed to buffer workbook: %v\n", err)
			os.Exit(1)
		}
		objectName := fmt.Sprintf("reports/daily-variant-metrics-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
		url, err := utils.SaveReportToGCS(ctx, objectName,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", &buf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to upload workbook: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Uploaded to %s\n", url)
	}
}
