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
	"sort"
	"strings"
)

// Paging reports the pagination shape of a result.
type Paging struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

// TagCount is one row of the tag histogram.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// paginate returns the requested page slice and the paging summary. A
// page past the end yields an empty slice, never an error.
func paginate(matches []Match, page, size int) ([]Match, Paging) {
	total := len(matches)
	totalPages := (total + size - 1) / size

	p := Paging{Page: page, PageSize: size, TotalPages: totalPages}
	start := (page - 1) * size
	if start >= total {
		return nil, p
	}
	end := start + size
	if end > total {
		end = total
	}
	return matches[start:end], p
}

// =============================================================================
// Tag-Summary Mode
// =============================================================================

// tagHistogram counts tag occurrences over the matches, sorted by count
// descending with ties broken by tag ascending. Tags compare and report
// lowercased.
func tagHistogram(matches []Match) []TagCount {
	counts := make(map[string]int)
	for i := range matches {
		seen := make(map[string]bool, len(matches[i].Record.Tags))
		for _, tag := range matches[i].Record.Tags {
			t := strings.ToLower(strings.TrimSpace(tag))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			counts[t]++
		}
	}

	out := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// applyTagSummary paginates the histogram first, then keeps only the
// records carrying a tag from that page slice. The returned matches
// still flow through sorting and resolution, but not record-level
// pagination; Paging describes the histogram.
func applyTagSummary(matches []Match, page, size int) ([]Match, []TagCount, Paging) {
	histogram := tagHistogram(matches)

	total := len(histogram)
	totalPages := (total + size - 1) / size
	paging := Paging{Page: page, PageSize: size, TotalPages: totalPages}

	start := (page - 1) * size
	if start >= total {
		return nil, nil, paging
	}
	end := start + size
	if end > total {
		end = total
	}
	slice := histogram[start:end]

	keep := make(map[string]bool, len(slice))
	for _, tc := range slice {
		keep[tc.Tag] = true
	}

	out := matches[:0]
	for _, m := range matches {
		for _, tag := range m.Record.Tags {
			if keep[strings.ToLower(strings.TrimSpace(tag))] {
				out = append(out, m)
				break
			}
		}
	}
	return out, slice, paging
}
