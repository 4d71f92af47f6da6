/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_sync/internal/events"
	"github.com/friendsincode/skuld_sync/internal/reconciler"
	"github.com/friendsincode/skuld_sync/internal/runs"
	"github.com/friendsincode/skuld_sync/internal/snapshot"
)

var (
	backupInstance string
	backupAll      bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot one or all instances now",
	Long: `Capture the live catalog of an instance into the snapshot store,
outside of its schedule.

Examples:
  # Back up a single instance
  skuldsync backup --instance movies-main

  # Back up every configured instance
  skuldsync backup --all
`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVarP(&backupInstance, "instance", "i", "", "Instance to back up")
	backupCmd.Flags().BoolVar(&backupAll, "all", false, "Back up every configured instance")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	targets, err := selectInstances(backupInstance, backupAll, false)
	if err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer closeDatabase(database)

	ctx, stop := signalContext()
	defer stop()

	svc := newReconciler(database)
	failed := 0
	for _, inst := range targets {
		out := svc.Backup(ctx, "manual", inst)
		recordRun(ctx, database, out)
		if !printOutcome(out) {
			failed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d backups failed", failed, len(targets))
	}
	return nil
}

// newReconciler wires a reconciler for one-shot commands. The bus has no
// subscribers here; outcomes are recorded explicitly.
func newReconciler(database *gorm.DB) *reconciler.Service {
	snapshots := snapshot.NewStore(database, logger)
	return reconciler.NewService(snapshots, events.NewBus(), nil, logger)
}

func recordRun(ctx context.Context, database *gorm.DB, out reconciler.Outcome) {
	recorder := runs.NewService(database, events.NewBus(), cfg.RunRetention, logger)
	if err := recorder.Record(ctx, out); err != nil {
		logger.Warn().Err(err).Msg("failed to record run history")
	}
}

func printOutcome(out reconciler.Outcome) bool {
	label := fmt.Sprintf("%s %s", out.Operation, out.Target)
	if out.Source != out.Target {
		label = fmt.Sprintf("%s %s -> %s", out.Operation, out.Source, out.Target)
	}
	if !out.Success {
		fmt.Printf("%s: FAILED: %s\n", label, out.Error)
		return false
	}
	fmt.Printf("%s: ok added=%d removed=%d skipped=%d items=%d duration=%s\n",
		label,
		out.Counts.Added,
		out.Counts.Removed,
		out.Counts.Skipped,
		out.Counts.Current,
		out.Duration.Round(time.Millisecond))
	return true
}
