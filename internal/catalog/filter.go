/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

// FilterSet restricts which items a sync or restore will consider. The
// zero value (and a nil pointer) matches everything. Dimensions combine
// with AND; within the tag dimension one shared tag is enough.
type FilterSet struct {
	QualityProfiles []string
	RootFolders     []string
	Tags            []string
	MinYear         int
}

// Empty reports whether no dimension is configured.
func (f *FilterSet) Empty() bool {
	if f == nil {
		return true
	}
	return len(f.QualityProfiles) == 0 && len(f.RootFolders) == 0 && len(f.Tags) == 0 && f.MinYear == 0
}

// Matches reports whether item satisfies every configured dimension.
// Deterministic and side-effect free.
func (f *FilterSet) Matches(item Item) bool {
	if f.Empty() {
		return true
	}
	if len(f.QualityProfiles) > 0 && !contains(f.QualityProfiles, item.QualityProfile) {
		return false
	}
	if len(f.RootFolders) > 0 && !contains(f.RootFolders, item.RootFolder) {
		return false
	}
	if len(f.Tags) > 0 && !intersects(f.Tags, item.Tags) {
		return false
	}
	if f.MinYear > 0 {
		// An item without a release year cannot prove it is recent enough.
		if item.Year == 0 || item.Year < f.MinYear {
			return false
		}
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
