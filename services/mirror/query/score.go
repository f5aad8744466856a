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
	"strings"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
)

// =============================================================================
// Tag Scoring
// =============================================================================

// applyTagFilter keeps records matching the requested tags under the
// given mode and attaches tagScore = matched / requested.
func applyTagFilter(matches []Match, tags []string, mode MatchMode) []Match {
	requested := normalizeSet(tags)
	if len(requested) == 0 {
		return matches
	}

	out := matches[:0]
	for _, m := range matches {
		matched := 0
		for _, tag := range m.Record.Tags {
			if _, ok := requested[strings.ToLower(tag)]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		if mode == MatchAll && matched < len(requested) {
			continue
		}
		m.setScore(ScoreTags, float64(matched)/float64(len(requested)))
		out = append(out, m)
	}
	return out
}

func normalizeSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if t := strings.ToLower(strings.TrimSpace(v)); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// =============================================================================
// Equipment Scoring (exercise records)
// =============================================================================

// applyEquipmentFilter matches requested equipment against the
// exercise's equipment list. Matching is substring-tolerant in both
// directions, so "dumbbell" matches "adjustable dumbbells".
func applyEquipmentFilter(matches []Match, equipment []string, mode MatchMode) []Match {
	requested := normalizeList(equipment)
	if len(requested) == 0 {
		return matches
	}

	out := matches[:0]
	for _, m := range matches {
		have := stringListField(&m.Record, "equipment")
		matched := 0
		for _, want := range requested {
			if containsLoose(have, want) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		if mode == MatchAll && matched < len(requested) {
			continue
		}
		m.setScore(ScoreEquipment, float64(matched)/float64(len(requested)))
		out = append(out, m)
	}
	return out
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.ToLower(strings.TrimSpace(v)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// containsLoose reports whether want matches any of have, where either
// string containing the other counts as a match.
func containsLoose(have []string, want string) bool {
	for _, h := range have {
		if strings.Contains(h, want) || strings.Contains(want, h) {
			return true
		}
	}
	return false
}

// =============================================================================
// Exercise-Type Scoring (exercise records)
// =============================================================================

// applyExerciseTypeFilter matches requested exercise types against the
// record's type field. Values compare case-insensitively after enum
// decoding, so "Strength" and "strength" are the same type.
func applyExerciseTypeFilter(matches []Match, types []string, mode MatchMode) []Match {
	requested := normalizeSet(types)
	if len(requested) == 0 {
		return matches
	}

	out := matches[:0]
	for _, m := range matches {
		have := normalizeSet(append(stringListFieldRaw(&m.Record, "type"), stringListFieldRaw(&m.Record, "exercise_type")...))
		matched := 0
		for want := range requested {
			if _, ok := have[want]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		if mode == MatchAll && matched < len(requested) {
			continue
		}
		m.setScore(ScoreExerciseType, float64(matched)/float64(len(requested)))
		out = append(out, m)
	}
	return out
}

// =============================================================================
// Order Similarity (workout exercise lists, recipe ingredient lists)
// =============================================================================

// applyOrderFilter scores records by order-similarity of the list at
// the named field against the requested sequence, attaching the score
// under kind. Records whose list shares no element are dropped.
//
// The score is matchRatio + orderBonus: matchRatio is the fraction of
// requested names present; orderBonus adds 0.1/N for each matched name
// appearing strictly after the previous matched name, N being the
// number of requested pairs. Unmatched names do not break the chain.
func applyOrderFilter(matches []Match, requested []string, field string, kind ScoreKind) []Match {
	want := normalizeList(requested)
	if len(want) == 0 {
		return matches
	}

	out := matches[:0]
	for _, m := range matches {
		have := stringListField(&m.Record, field)
		score := orderSimilarity(want, have)
		if score == 0 {
			continue
		}
		m.setScore(kind, score)
		out = append(out, m)
	}
	return out
}

func orderSimilarity(want, have []string) float64 {
	// Position of each wanted name in the record's list, or -1.
	pos := make([]int, len(want))
	matched := 0
	for i, w := range want {
		pos[i] = -1
		for j, h := range have {
			if h == w {
				pos[i] = j
				matched++
				break
			}
		}
	}
	if matched == 0 {
		return 0
	}
	score := float64(matched) / float64(len(want))

	if pairs := len(want) - 1; pairs > 0 {
		// Compare each matched position against the previous match,
		// skipping over names the record does not carry.
		last := -1
		for i := range want {
			if pos[i] < 0 {
				continue
			}
			if last >= 0 && pos[i] > last {
				score += 0.1 / float64(pairs)
			}
			last = pos[i]
		}
	}
	return score
}

// =============================================================================
// Field List Extraction
// =============================================================================

// stringListField extracts the named field from every template of the
// record as a lowercased string list. Scalar strings yield a one-element
// list; embedded objects contribute their "name" field, which is how
// resolved exercise and ingredient references flatten to names.
func stringListField(rec *datatypes.Record, field string) []string {
	return normalizeList(stringListFieldRaw(rec, field))
}

func stringListFieldRaw(rec *datatypes.Record, field string) []string {
	var out []string
	for _, fields := range rec.Data {
		v, ok := fields[field]
		if !ok {
			continue
		}
		out = append(out, flattenNames(v)...)
	}
	return out
}

func flattenNames(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, flattenNames(item)...)
		}
		return out
	case map[string]any:
		if name, ok := t["name"].(string); ok {
			return []string{name}
		}
		// A still-unresolved reference map carries only an identifier.
		if id, ok := t["identifier"].(string); ok {
			return []string{id}
		}
	}
	return nil
}
