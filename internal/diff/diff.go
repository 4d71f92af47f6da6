/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package diff computes the add/remove/skip classification between two
// catalogs. It is pure: no I/O, no clock, no mutation of its inputs.
package diff

import (
	"sort"

	"github.com/friendsincode/skuld_sync/internal/catalog"
)

// Result classifies the difference between a source and a destination
// catalog. ToAdd holds source items missing from the destination that
// passed the filter; Skipped counts the ones the filter rejected.
// ToRemove holds destination items absent from the source. Items present
// on both sides are never touched.
type Result struct {
	ToAdd    []catalog.Item
	ToRemove []catalog.Item
	Skipped  int
}

// AddIDs returns the external ids classified to-add, ascending.
func (r Result) AddIDs() []int64 { return ids(r.ToAdd) }

// RemoveIDs returns the external ids classified to-remove, ascending.
func (r Result) RemoveIDs() []int64 { return ids(r.ToRemove) }

// Empty reports whether the reconciliation found nothing to do.
func (r Result) Empty() bool {
	return len(r.ToAdd) == 0 && len(r.ToRemove) == 0 && r.Skipped == 0
}

// Reconcile compares source against dest by external id. Items without
// an external id are excluded on both sides; they cannot be reconciled.
//
// An empty source is treated as a signal of total absence, not of
// "nothing matched": every destination item is classified to-remove and
// the filter is not consulted. Callers syncing against a live server
// must decide for themselves whether an empty fetch is trustworthy
// before invoking Reconcile with it.
func Reconcile(source, dest []catalog.Item, filters *catalog.FilterSet) Result {
	if len(source) == 0 {
		out := make([]catalog.Item, len(dest))
		copy(out, dest)
		sortByExternalID(out)
		return Result{ToRemove: out}
	}

	sourceIDs := idSet(source)
	destIDs := idSet(dest)

	var res Result
	seen := make(map[int64]struct{}, len(source))
	for _, item := range source {
		if item.ExternalID == 0 {
			continue
		}
		if _, dup := seen[item.ExternalID]; dup {
			continue
		}
		seen[item.ExternalID] = struct{}{}
		if _, ok := destIDs[item.ExternalID]; ok {
			continue
		}
		if !filters.Matches(item) {
			res.Skipped++
			continue
		}
		res.ToAdd = append(res.ToAdd, item)
	}

	for _, item := range dest {
		if item.ExternalID == 0 {
			continue
		}
		if _, ok := sourceIDs[item.ExternalID]; ok {
			continue
		}
		// Items the filter excludes from consideration are left alone;
		// the implicit skip is not counted.
		if !filters.Matches(item) {
			continue
		}
		res.ToRemove = append(res.ToRemove, item)
	}

	sortByExternalID(res.ToAdd)
	sortByExternalID(res.ToRemove)
	return res
}

func idSet(items []catalog.Item) map[int64]struct{} {
	set := make(map[int64]struct{}, len(items))
	for _, item := range items {
		if item.ExternalID == 0 {
			continue
		}
		set[item.ExternalID] = struct{}{}
	}
	return set
}

func ids(items []catalog.Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, item := range items {
		out = append(out, item.ExternalID)
	}
	return out
}

func sortByExternalID(items []catalog.Item) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ExternalID < items[j].ExternalID
	})
}
