// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
)

// applySort orders matches by the given specs, earlier specs taking
// precedence. A score spec whose score was never computed degrades to
// a no-op and contributes a warning instead of an error.
//
// The sort is stable, so records equal under every spec keep their
// index order.
func applySort(matches []Match, specs []SortSpec) []string {
	var warnings []string

	active := make([]SortSpec, 0, len(specs))
	for _, spec := range specs {
		if spec.Key == SortScore && !scoreComputed(matches, spec.Score) {
			warnings = append(warnings,
				fmt.Sprintf("sort on %q ignored: no filter computed that score", spec.Score))
			continue
		}
		active = append(active, spec)
	}
	if len(active) == 0 {
		return warnings
	}

	sort.SliceStable(matches, func(i, j int) bool {
		for _, spec := range active {
			c := compareMatches(&matches[i], &matches[j], spec)
			if c != 0 {
				if spec.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return false
	})
	return warnings
}

// scoreComputed reports whether any match carries the score. An empty
// result set counts as computed so pagination of nothing stays quiet.
func scoreComputed(matches []Match, kind ScoreKind) bool {
	if len(matches) == 0 {
		return true
	}
	for i := range matches {
		if _, ok := matches[i].score(kind); ok {
			return true
		}
	}
	return false
}

// compareMatches returns -1, 0 or 1 for ascending order under spec.
func compareMatches(a, b *Match, spec SortSpec) int {
	switch spec.Key {
	case SortBlockHeight:
		return compareInt64(a.Record.BlockHeight, b.Record.BlockHeight)
	case SortIndexedAt:
		return compareInt64(a.Record.IndexedAt, b.Record.IndexedAt)
	case SortVersion:
		return compareInt64(int64(a.Record.Version), int64(b.Record.Version))
	case SortRecordType:
		return strings.Compare(a.Record.RecordType, b.Record.RecordType)
	case SortCreatorHandle:
		return strings.Compare(
			strings.ToLower(a.Record.Creator.Handle),
			strings.ToLower(b.Record.Creator.Handle))
	case SortContentDate:
		return compareInt64(contentDate(&a.Record), contentDate(&b.Record))
	case SortScore:
		sa, _ := a.score(spec.Score)
		sb, _ := b.score(spec.Score)
		return compareFloat64(sa, sb)
	}
	return 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// contentDate extracts the record's Unix-timestamp date field, checking
// every template for a numeric "date". Missing dates sort first
// ascending.
func contentDate(rec *datatypes.Record) int64 {
	for _, fields := range rec.Data {
		switch v := fields["date"].(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

// searchDefaultSort is the ordering installed when a free-text search
// runs without an explicit sort: best match first, confirmed records
// before pending ones, then newest first.
func searchDefaultSort(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := &matches[i], &matches[j]
		if a.MatchCount != b.MatchCount {
			return a.MatchCount > b.MatchCount
		}
		ao := a.Record.Status == datatypes.StatusOriginal
		bo := b.Record.Status == datatypes.StatusOriginal
		if ao != bo {
			return ao
		}
		return a.Record.BlockHeight > b.Record.BlockHeight
	})
}
