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

// Moves DEAD opening-balance pushes back to PENDING; the server's retry worker applies them.
func main() {
	tenantID := flag.String("tenant-id", "", "Optional: only requeue pushes of this tenant")
	receiptID := flag.Int("receipt-id", 0, "Optional: only requeue pushes of this receipt")
	flag.Parse()

	if *receiptID < 0 {
		fmt.Fprintln(os.Stderr, "--receipt-id must be positive")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	n, err := workflow.RequeueDeadPushes(context.Background(), db, logger, strings.TrimSpace(*tenantID), *receiptID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "requeue failed after %d push(es): %v\n", n, err)
		os.Exit(1)
	}
	fmt.Printf("requeued %d dead push(es)\n", n)
}
