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

	"github.com/friendsincode/skuld_sync/internal/arr"
)

var instancesPing bool

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List configured instances",
	Long: `Print every instance from the instances file with its kind, schedules
and sync parent. With --ping each server is probed and its version (or
the probe error) is shown.

Examples:
  skuldsync instances
  skuldsync instances --ping
`,
	RunE: runInstances,
}

func init() {
	instancesCmd.Flags().BoolVar(&instancesPing, "ping", false, "Probe each instance and report reachability")
	rootCmd.AddCommand(instancesCmd)
}

func runInstances(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	instances, err := loadInstances()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	for _, inst := range instances {
		line := fmt.Sprintf("%-20s %-7s %s", inst.Name, inst.Kind, inst.URL)

		if inst.Backup.Enabled {
			line += fmt.Sprintf("  backup=%q", inst.Backup.Cron)
		}
		if inst.Sync != nil {
			line += fmt.Sprintf("  parent=%s", inst.Sync.Parent)
			if inst.Sync.Cron != "" {
				line += fmt.Sprintf(" sync=%q", inst.Sync.Cron)
			}
		}

		if instancesPing {
			client, err := arr.NewClient(inst, logger)
			if err != nil {
				line += fmt.Sprintf("  [unreachable: %v]", err)
				fmt.Println(line)
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			status, err := client.Ping(pingCtx)
			cancel()
			if err != nil {
				line += fmt.Sprintf("  [unreachable: %v]", err)
			} else {
				line += fmt.Sprintf("  [%s %s]", status.AppName, status.Version)
			}
		}

		fmt.Println(line)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
