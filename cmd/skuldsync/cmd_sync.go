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
	syncInstance string
	syncAll      bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror child instances from their parents now",
	Long: `Reconcile a child instance against its configured parent, outside of
its schedule. The parent is read from the instances file and is never
mutated.

Examples:
  # Sync one child from its parent
  skuldsync sync --instance movies-4k

  # Sync every instance that has a parent
  skuldsync sync --all
`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncInstance, "instance", "i", "", "Child instance to sync")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync every instance that has a parent")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	children, err := selectInstances(syncInstance, syncAll, true)
	if err != nil {
		return err
	}

	instances, err := loadInstances()
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
	for _, child := range children {
		if child.Sync == nil {
			return fmt.Errorf("instance %q has no sync parent configured", child.Name)
		}
		parent, ok := config.FindInstance(instances, child.Sync.Parent)
		if !ok {
			return fmt.Errorf("instance %q: sync parent %q is not defined", child.Name, child.Sync.Parent)
		}

		out := svc.Sync(ctx, "manual", parent, child)
		recordRun(ctx, database, out)
		if !printOutcome(out) {
			failed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d syncs failed", failed, len(children))
	}
	return nil
}
