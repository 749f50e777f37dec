package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/workflow"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Optional: only reconcile this tenant (default all tenants)")
	dryRun := flag.Bool("dry-run", false, "Report drift without correcting catalog balances")
	reportPath := flag.String("report", "", "Optional: write the drift report to this .xlsx file")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	// the fix path takes per-material locks when redis is configured
	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" && !*dryRun {
		config.ConnectRedisWithRetry()
	}
	logger := config.GetLogger()

	drifts, err := workflow.ReconcileOpeningBalances(context.Background(), db, logger, strings.TrimSpace(*tenantID), *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
		os.Exit(1)
	}

	for _, d := range drifts {
		fmt.Printf("tenant=%s material=%d name=%q catalog=%s allocations=%s diff=%s fixed=%t\n",
			d.TenantId, d.MaterialId, d.MaterialName, d.CatalogBalance.String(), d.AllocationTotal.String(), d.Difference.String(), d.Fixed)
	}

	if p := strings.TrimSpace(*reportPath); p != "" {
		if err := workflow.WriteDriftReport(drifts, p); err != nil {
			fmt.Fprintf(os.Stderr, "write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("report written to %s\n", p)
	}

	if *dryRun {
		fmt.Printf("dry run: %d material(s) drifted\n", len(drifts))
		return
	}
	fmt.Printf("opening balance reconcile complete: %d material(s) corrected\n", len(drifts))
}
