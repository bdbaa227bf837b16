package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/Learntotolearn/gcp-dataflow/admin/internal/admin"
	"github.com/Learntotolearn/gcp-dataflow/syncer/pkg/config"
	"github.com/Learntotolearn/gcp-dataflow/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	statusDirFlag := flag.String("status-dir", config.DefaultStatusDir, "checkpoint directory")

	// Commands
	migrateFlag := flag.Bool("migrate-status-files", false, "merge legacy single-table status files into the tenant-grouped layout")
	summaryFlag := flag.Bool("status-summary", false, "print a tenant's checkpoint summary")
	tenantFlag := flag.String("tenant", "", "tenant for --status-summary")

	flag.Parse()

	log := logger.New(*verboseFlag, "")

	if *migrateFlag {
		return admin.MigrateStatusFiles(log, *statusDirFlag)
	}

	if *summaryFlag {
		if *tenantFlag == "" {
			return fmt.Errorf("--tenant is required for --status-summary")
		}
		return admin.StatusSummary(log, *statusDirFlag, *tenantFlag)
	}

	flag.Usage()
	return nil
}
