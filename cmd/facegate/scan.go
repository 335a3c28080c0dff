package main

import (
	"context"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one abuse scan pass and exit",
	Long: `Evaluate all abuse signals once against the audit trail and usage
counters, writing any new flags, then exit. Useful from cron when the
in-process scanner is disabled.`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	loadEnvFile()

	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.scanner.Scan(ctx)
	a.logger.Info("abuse scan pass completed")
	return nil
}
