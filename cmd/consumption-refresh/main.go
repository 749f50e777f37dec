package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/workflow"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Optional: only refresh this tenant (default all tenants)")
	dryRun := flag.Bool("dry-run", false, "Count purchases whose stored consumption would change without writing")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	changed, err := workflow.RefreshConsumption(context.Background(), db, logger, strings.TrimSpace(*tenantID), *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "consumption refresh failed: %v\n", err)
		os.Exit(1)
	}

	tenants := make([]string, 0, len(changed))
	for t := range changed {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	total := 0
	for _, t := range tenants {
		fmt.Printf("tenant=%s purchases_changed=%d\n", t, changed[t])
		total += changed[t]
	}

	if *dryRun {
		fmt.Printf("dry run: %d purchase(s) would change (strategy=%s)\n", total, config.ConsumptionAttribution())
		return
	}
	fmt.Printf("consumption refresh complete: %d purchase(s) updated (strategy=%s)\n", total, config.ConsumptionAttribution())
}
