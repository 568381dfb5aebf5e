package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/pipewatch/pkg/log"
	"github.com/cuemby/pipewatch/pkg/storage"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "pipewatch-migrate",
	Short:         "Offline maintenance for the pipewatch bolt store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-failures",
	Short: "Re-derive the failed_builds bucket from stored builds",
	Long: `Replace the failed_builds bucket with one record per build whose stored
status is FAILURE. Stop pipewatch first: the database is opened exclusively.

Examples:
  # Show how far the failure set has drifted
  pipewatch-migrate rebuild-failures --data-dir /var/lib/pipewatch --dry-run

  # Rebuild, keeping a copy of the database next to it
  pipewatch-migrate rebuild-failures --data-dir /var/lib/pipewatch`,
	RunE: runRebuild,
}

func init() {
	rebuildCmd.Flags().String("data-dir", "./data", "Pipewatch data directory")
	rebuildCmd.Flags().Bool("dry-run", false, "Report what would change without writing")
	rebuildCmd.Flags().String("backup", "", "Backup path (default: <data-dir>/pipewatch.db.backup)")
	rebuildCmd.Flags().Bool("log-json", false, "Log as JSON")

	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	backupPath, _ := cmd.Flags().GetString("backup")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: logJSON, Output: os.Stderr})
	logger := log.WithComponent("migrate")

	dbPath := filepath.Join(dataDir, storage.DBFileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("database not found at %s", dbPath)
	}
	logger.Info().Str("database", dbPath).Bool("dry_run", dryRun).Msg("Rebuilding failure set")

	if !dryRun {
		if backupPath == "" {
			backupPath = dbPath + ".backup"
		}
		if err := copyFile(dbPath, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
		logger.Info().Str("backup", backupPath).Msg("Backup created")
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to open database (is pipewatch running?): %w", err)
	}
	defer db.Close()

	var failedBuilds, records int
	err = db.View(func(tx *bolt.Tx) error {
		var err error
		failedBuilds, records, err = storage.CountFailuresTx(tx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to inspect database: %w", err)
	}
	logger.Info().
		Int("failed_builds", failedBuilds).
		Int("failure_records", records).
		Msg("Current state")

	if dryRun {
		if failedBuilds == records {
			logger.Info().Msg("Dry run: record count already matches; a rebuild would still rewrite every record")
		} else {
			logger.Info().Int("delta", failedBuilds-records).Msg("Dry run: rebuild would change the record count")
		}
		return nil
	}

	var rebuilt int
	err = db.Update(func(tx *bolt.Tx) error {
		var err error
		rebuilt, err = storage.RebuildFailuresTx(tx)
		return err
	})
	if err != nil {
		return fmt.Errorf("rebuild failed, database unchanged: %w", err)
	}

	logger.Info().Int("records", rebuilt).Msg("Failure set rebuilt")
	return nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
