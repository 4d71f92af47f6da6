/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skuld_sync/internal/archive"
	"github.com/friendsincode/skuld_sync/internal/config"
	"github.com/friendsincode/skuld_sync/internal/events"
	"github.com/friendsincode/skuld_sync/internal/snapshot"
)

var (
	exportInstance string
	exportAll      bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored snapshots to the archive backend",
	Long: `Write the current snapshot of one or all instances to the configured
archive backend (SKULD_ARCHIVE_BACKEND: fs or s3) as a JSON document.

Examples:
  # Export one instance's snapshot
  skuldsync export --instance movies-main

  # Export everything
  skuldsync export --all
`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportInstance, "instance", "i", "", "Instance snapshot to export")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "Export every instance's snapshot")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	targets, err := selectInstances(exportInstance, exportAll, false)
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

	var store archive.Store
	backend := cfg.ArchiveBackend
	switch backend {
	case config.ArchiveFS:
		store, err = archive.NewFSStore(cfg.ArchiveDir)
	case config.ArchiveS3:
		store, err = archive.NewS3Store(ctx, cfg)
	default:
		return fmt.Errorf("no archive backend configured (set SKULD_ARCHIVE_BACKEND to fs or s3)")
	}
	if err != nil {
		return err
	}

	snapshots := snapshot.NewStore(database, logger)
	exporter := archive.NewExporter(store, snapshots, instances, events.NewBus(), string(backend), logger)

	failed := 0
	for _, inst := range targets {
		key, err := exporter.Export(ctx, inst.Name)
		if err != nil {
			fmt.Printf("export %s: FAILED: %v\n", inst.Name, err)
			failed++
		} else {
			fmt.Printf("export %s: %s\n", inst.Name, key)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d exports failed", failed, len(targets))
	}
	return nil
}
