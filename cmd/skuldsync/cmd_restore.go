/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skuld_sync/internal/config"
)

var (
	restoreInstance string
	restoreFrom     string
	restoreReleases bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore an instance from a stored snapshot",
	Long: `Reconcile an instance against a snapshot from the store instead of a
live server. By default the instance is restored from its own snapshot;
--from restores from another instance's snapshot of the same kind.

Examples:
  # Restore an instance from its own last backup
  skuldsync restore --instance movies-main

  # Seed a fresh server from another instance's backup
  skuldsync restore --instance movies-new --from movies-main

  # Also re-grab releases recorded with the backup
  skuldsync restore --instance movies-main --releases
`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreInstance, "instance", "i", "", "Instance to restore")
	restoreCmd.Flags().StringVar(&restoreFrom, "from", "", "Snapshot to restore from (defaults to the instance's own)")
	restoreCmd.Flags().BoolVar(&restoreReleases, "releases", false, "Push recorded releases after restoring items")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if restoreInstance == "" {
		return fmt.Errorf("--instance is required")
	}

	instances, err := loadInstances()
	if err != nil {
		return err
	}
	dest, ok := config.FindInstance(instances, restoreInstance)
	if !ok {
		return fmt.Errorf("instance %q is not defined in %s", restoreInstance, cfg.InstancesFile)
	}

	backupName := restoreFrom
	if backupName == "" {
		backupName = dest.Name
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer closeDatabase(database)

	ctx, stop := signalContext()
	defer stop()

	svc := newReconciler(database)
	out := svc.Restore(ctx, "manual", backupName, dest)
	recordRun(ctx, database, out)
	if !printOutcome(out) {
		return fmt.Errorf("restore failed")
	}

	if restoreReleases {
		counts, err := svc.RestoreReleases(ctx, backupName, dest)
		fmt.Printf("releases %s: attempted=%d pushed=%d skipped=%d errors=%d\n",
			dest.Name, counts.Attempted, counts.Pushed, counts.Skipped, counts.Errors)
		if err != nil {
			return fmt.Errorf("release restore: %w", err)
		}
	}
	return nil
}
