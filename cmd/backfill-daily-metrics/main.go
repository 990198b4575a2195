package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/metrifyhq/metrify_backend/aggregation"
	"bitbucket.org/metrifyhq/metrify_backend/config"
	"bitbucket.org/metrifyhq/metrify_backend/models"
	"bitbucket.org/metrifyhq/metrify_backend/utils"
)

func main() {
	from := flag.String("from", "", "Optional: start date (YYYY-MM-DD). Defaults to 30 days before --to.")
	to := flag.String("to", "", "Optional: end date (YYYY-MM-DD), inclusive. Defaults to today (UTC).")
	customers := flag.Bool("customers", true, "Also rebuild customer metrics after the daily backfill")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	end := utils.TruncateToDay(time.Now().UTC())
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
	if start.After(end) {
		fmt.Fprintln(os.Stderr, "--from must not be after --to")
		os.Exit(1)
	}

	logger := config.GetLogger()
	store := models.NewStore(db)
	engine := aggregation.NewEngine(store, logger)

	fmt.Printf("Backfilling daily variant metrics from=%s to=%s\n",
		start.Format("2006-01-02"), end.Format("2006-01-02"))

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := engine.AggregateDailyVariantMetrics(ctx, day); err != nil {
			fmt.Fprintf(os.Stderr, "day %s: %v\n", day.Format("2006-01-02"), err)
			os.Exit(1)
		}
	}

	if *customers {
		if err := engine.AggregateCustomerMetrics(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "customer metrics: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("Backfill completed")
}
