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
	"strings"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
)

// Match is one record flowing through the filter pipeline, together
// with the scores filters attached to it.
type Match struct {
	Record datatypes.Record

	// Scores holds per-filter scores; present only for filters that
	// were actually applied.
	Scores map[ScoreKind]float64

	// MatchCount is the free-text term hit count.
	MatchCount int

	// DateReadable is the derived human-readable content date, when
	// the record carries a Unix-timestamp date field.
	DateReadable string `json:"dateReadable,omitempty"`

	// Nutrition is the optional recipe roll-up.
	Nutrition *NutritionSummary `json:"nutrition,omitempty"`
}

func (m *Match) setScore(kind ScoreKind, score float64) {
	if m.Scores == nil {
		m.Scores = make(map[ScoreKind]float64, 2)
	}
	m.Scores[kind] = score
}

// score returns a score and whether that score was applied.
func (m *Match) score(kind ScoreKind) (float64, bool) {
	s, ok := m.Scores[kind]
	return s, ok
}

// =============================================================================
// Status & Exact Filters
// =============================================================================

// filterStatus drops tombstones and deleted records unless requested.
func filterStatus(matches []Match, includeDeleted bool) []Match {
	if includeDeleted {
		return matches
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Record.IsTombstone || m.Record.Status == datatypes.StatusDeleted {
			continue
		}
		out = append(out, m)
	}
	return out
}

// filterExact applies every exact filter of opts in one walk.
func filterExact(matches []Match, opts *Options) []Match {
	out := matches[:0]
	for _, m := range matches {
		if matchesExact(&m.Record, opts) {
			out = append(out, m)
		}
	}
	return out
}

func matchesExact(rec *datatypes.Record, opts *Options) bool {
	if opts.Identifier != "" && rec.Identifier != opts.Identifier {
		return false
	}
	if opts.RecordType != "" && rec.RecordType != opts.RecordType {
		return false
	}
	if opts.TemplateName != "" {
		if _, ok := rec.Data[opts.TemplateName]; !ok {
			return false
		}
	}
	if opts.IndexedAfter != 0 && rec.IndexedAt < opts.IndexedAfter {
		return false
	}
	if opts.IndexedBefore != 0 && rec.IndexedAt > opts.IndexedBefore {
		return false
	}
	if opts.CreatorHandle != "" && !strings.EqualFold(rec.Creator.Handle, opts.CreatorHandle) {
		return false
	}
	if opts.CreatorAddress != "" && rec.Creator.Address != opts.CreatorAddress {
		return false
	}
	if opts.ValuePrefix != "" && !anyValueHasPrefix(rec.Data, opts.ValuePrefix) {
		return false
	}
	for path, want := range opts.FieldEquals {
		if !fieldPathEquals(rec, path, want) {
			return false
		}
	}
	return true
}

// anyValueHasPrefix walks every field value recursively looking for a
// string starting with the prefix, case-insensitively.
func anyValueHasPrefix(data map[string]map[string]any, prefix string) bool {
	prefix = strings.ToLower(prefix)
	for _, fields := range data {
		for _, v := range fields {
			if valueHasPrefix(v, prefix) {
				return true
			}
		}
	}
	return false
}

func valueHasPrefix(v any, prefix string) bool {
	switch t := v.(type) {
	case string:
		return strings.HasPrefix(strings.ToLower(t), prefix)
	case []any:
		for _, item := range t {
			if valueHasPrefix(item, prefix) {
				return true
			}
		}
	case map[string]any:
		for _, item := range t {
			if valueHasPrefix(item, prefix) {
				return true
			}
		}
	}
	return false
}

// fieldPathEquals compares the value at "template.field" against want,
// through a loose string rendering so callers need not mirror codec
// numeric types.
func fieldPathEquals(rec *datatypes.Record, path string, want any) bool {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 {
		return false
	}
	got := rec.Field(parts[0], parts[1])
	if got == nil {
		return false
	}
	return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
}

// =============================================================================
// Free-Text Search
// =============================================================================

// applySearch keeps records where every comma-separated term matches
// name, description, or tags, attaching the term hit count.
func applySearch(matches []Match, search string) []Match {
	terms := splitTerms(search)
	if len(terms) == 0 {
		return matches
	}

	out := matches[:0]
	for _, m := range matches {
		count, all := searchRecord(&m.Record, terms)
		if !all {
			continue
		}
		m.MatchCount = count
		m.setScore(ScoreSearchMatches, float64(count))
		out = append(out, m)
	}
	return out
}

func splitTerms(search string) []string {
	var terms []string
	for _, raw := range strings.Split(search, ",") {
		if t := strings.ToLower(strings.TrimSpace(raw)); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// searchRecord reports the total term hit count and whether every term
// matched at least once (AND across terms).
func searchRecord(rec *datatypes.Record, terms []string) (int, bool) {
	haystacks := searchableText(rec)
	total := 0
	for _, term := range terms {
		hits := 0
		for _, h := range haystacks {
			if strings.Contains(h, term) {
				hits++
			}
		}
		if hits == 0 {
			return 0, false
		}
		total += hits
	}
	return total, true
}

// searchableText collects the lowercased name/description fields of
// every template plus the record's tags.
func searchableText(rec *datatypes.Record) []string {
	var out []string
	for _, fields := range rec.Data {
		for _, key := range []string{"name", "description"} {
			if s, ok := fields[key].(string); ok && s != "" {
				out = append(out, strings.ToLower(s))
			}
		}
	}
	for _, tag := range rec.Tags {
		out = append(out, strings.ToLower(tag))
	}
	return out
}

// =============================================================================
// Audio Presence
// =============================================================================

// filterAudio keeps records whose audio-note presence matches want.
// An audio note is a non-empty "audio" field in any template.
func filterAudio(matches []Match, want bool) []Match {
	out := matches[:0]
	for _, m := range matches {
		if hasAudio(&m.Record) == want {
			out = append(out, m)
		}
	}
	return out
}

func hasAudio(rec *datatypes.Record) bool {
	for _, fields := range rec.Data {
		if s, ok := fields["audio"].(string); ok && s != "" {
			return true
		}
	}
	return false
}

// =============================================================================
// Output Scrubbing & Derived Fields
// =============================================================================

// scrubSignatures removes signature and public-key material in place.
func scrubSignatures(matches []Match) {
	for i := range matches {
		matches[i].Record.Signature = ""
		matches[i].Record.Creator.PublicKey = ""
	}
}
