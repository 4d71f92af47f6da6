/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/skuld_sync/internal/catalog"
	"github.com/friendsincode/skuld_sync/internal/schedule"
)

// instanceSpec is the YAML shape of one instance entry. The file is a
// top level map keyed by instance name:
//
//	movies-main:
//	  url: http://radarr:7878
//	  api_key: xxxx
//	  kind: radarr
//	  backup:
//	    enabled: true
//	    cron: "0 3 * * *"
type instanceSpec struct {
	URL     string      `yaml:"url"`
	APIKey  string      `yaml:"api_key"`
	Kind    string      `yaml:"kind"`
	Filters *filterSpec `yaml:"filters"`
	Backup  *backupSpec `yaml:"backup"`
	Sync    *syncSpec   `yaml:"sync"`
}

type filterSpec struct {
	QualityProfiles []string `yaml:"quality_profiles"`
	RootFolders     []string `yaml:"root_folders"`
	Tags            []string `yaml:"tags"`
	MinYear         int      `yaml:"min_year"`
}

type backupSpec struct {
	Enabled         bool   `yaml:"enabled"`
	Cron            string `yaml:"cron"`
	IncludeReleases bool   `yaml:"include_releases"`
}

type syncSpec struct {
	Parent string `yaml:"parent"`
	Cron   string `yaml:"cron"`
}

// LoadInstances reads and validates the instances file. The returned
// slice is sorted by name so task registration and status output are
// deterministic.
func LoadInstances(path string) ([]catalog.Instance, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instances file: %w", err)
	}
	return parseInstances(raw)
}

func parseInstances(raw []byte) ([]catalog.Instance, error) {
	var specs map[string]instanceSpec
	if err := yaml.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("parse instances file: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("instances file defines no instances")
	}

	instances := make([]catalog.Instance, 0, len(specs))
	for name, spec := range specs {
		inst, err := buildInstance(name, spec)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}

	byName := make(map[string]catalog.Instance, len(instances))
	for _, inst := range instances {
		byName[inst.Name] = inst
	}
	for _, inst := range instances {
		if inst.Sync == nil {
			continue
		}
		parent, ok := byName[inst.Sync.Parent]
		if !ok {
			return nil, fmt.Errorf("instance %q: sync parent %q is not defined", inst.Name, inst.Sync.Parent)
		}
		if parent.Name == inst.Name {
			return nil, fmt.Errorf("instance %q: cannot sync from itself", inst.Name)
		}
		if parent.Kind != inst.Kind {
			return nil, fmt.Errorf("instance %q (%s): sync parent %q is a %s server", inst.Name, inst.Kind, parent.Name, parent.Kind)
		}
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })
	return instances, nil
}

func buildInstance(name string, spec instanceSpec) (catalog.Instance, error) {
	if strings.TrimSpace(name) == "" {
		return catalog.Instance{}, fmt.Errorf("instances file contains an entry with an empty name")
	}
	if spec.URL == "" {
		return catalog.Instance{}, fmt.Errorf("instance %q: url is required", name)
	}
	if spec.APIKey == "" {
		return catalog.Instance{}, fmt.Errorf("instance %q: api_key is required", name)
	}
	kind, err := catalog.ParseKind(spec.Kind)
	if err != nil {
		return catalog.Instance{}, fmt.Errorf("instance %q: %w", name, err)
	}

	inst := catalog.Instance{
		Name:   name,
		URL:    normalizeURL(spec.URL),
		APIKey: spec.APIKey,
		Kind:   kind,
	}

	if spec.Filters != nil {
		inst.Filters = &catalog.FilterSet{
			QualityProfiles: spec.Filters.QualityProfiles,
			RootFolders:     spec.Filters.RootFolders,
			Tags:            spec.Filters.Tags,
			MinYear:         spec.Filters.MinYear,
		}
	}

	if spec.Backup != nil {
		inst.Backup = catalog.BackupConfig{
			Enabled:         spec.Backup.Enabled,
			Cron:            spec.Backup.Cron,
			IncludeReleases: spec.Backup.IncludeReleases,
		}
		if inst.Backup.Enabled {
			if inst.Backup.Cron == "" {
				return catalog.Instance{}, fmt.Errorf("instance %q: backup is enabled but has no cron expression", name)
			}
			if _, err := schedule.Parse(inst.Backup.Cron); err != nil {
				return catalog.Instance{}, fmt.Errorf("instance %q: backup schedule: %w", name, err)
			}
		}
	}

	if spec.Sync != nil {
		if spec.Sync.Parent == "" {
			return catalog.Instance{}, fmt.Errorf("instance %q: sync requires a parent instance", name)
		}
		if spec.Sync.Cron != "" {
			if _, err := schedule.Parse(spec.Sync.Cron); err != nil {
				return catalog.Instance{}, fmt.Errorf("instance %q: sync schedule: %w", name, err)
			}
		}
		inst.Sync = &catalog.SyncConfig{Parent: spec.Sync.Parent, Cron: spec.Sync.Cron}
	}

	return inst, nil
}

// normalizeURL adds an http scheme when the configured URL has none and
// strips a trailing slash so client paths join cleanly.
func normalizeURL(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return u
}

// FindInstance looks an instance up by name.
func FindInstance(instances []catalog.Instance, name string) (catalog.Instance, bool) {
	for _, inst := range instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return catalog.Instance{}, false
}
