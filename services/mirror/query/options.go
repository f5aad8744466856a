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

	"github.com/go-playground/validator/v10"
)

// MatchMode selects OR/AND semantics for multi-value filters.
type MatchMode string

const (
	// MatchAny keeps a record when any requested value matches (OR).
	MatchAny MatchMode = "any"

	// MatchAll keeps a record only when every requested value matches (AND).
	MatchAll MatchMode = "all"
)

// ScoreKind names a computed per-record score. Scores double as sort
// keys; sorting on a score whose filter was not applied degrades to a
// no-op with a warning.
type ScoreKind string

const (
	ScoreTags            ScoreKind = "tagScore"
	ScoreEquipment       ScoreKind = "equipmentScore"
	ScoreExerciseType    ScoreKind = "exerciseTypeScore"
	ScoreWorkoutOrder    ScoreKind = "workoutOrderScore"
	ScoreIngredientOrder ScoreKind = "ingredientOrderScore"
	ScoreSearchMatches   ScoreKind = "matchCount"
)

// SortKey is the fixed menu of sort keys.
type SortKey string

const (
	SortBlockHeight   SortKey = "blockHeight"
	SortIndexedAt     SortKey = "indexedAt"
	SortVersion       SortKey = "version"
	SortRecordType    SortKey = "recordType"
	SortCreatorHandle SortKey = "creatorHandle"
	SortContentDate   SortKey = "contentDate"
	SortScore         SortKey = "score" // qualified by SortSpec.Score
)

// SortSpec is one sort instruction. Specs apply in order; later specs
// break ties left by earlier ones.
type SortSpec struct {
	Key SortKey `validate:"required,oneof=blockHeight indexedAt version recordType creatorHandle contentDate score"`

	// Score selects which computed score to sort by when Key is
	// SortScore.
	Score ScoreKind `validate:"omitempty,oneof=tagScore equipmentScore exerciseTypeScore workoutOrderScore ingredientOrderScore matchCount"`

	// Desc sorts descending when true.
	Desc bool
}

// Record types the domain filters are bound to.
const (
	RecordTypeExercise = "exercise"
	RecordTypeWorkout  = "workout"
	RecordTypeRecipe   = "recipe"
)

// Options enumerates every recognized query option. The zero value
// (via NewOptions) returns the first page of all live records,
// unresolved and unsorted beyond index order.
//
// Options is a typed surface by design: every filter, mode and
// tie-break the engine recognizes is a named field here, not a
// string-keyed map.
type Options struct {
	// --- Status ---

	// IncludeDeleted includes tombstones and deleted records.
	IncludeDeleted bool

	// --- Exact filters ---

	// Identifier keeps only the record with this did identifier.
	Identifier string

	// TemplateName keeps records whose data contains this template.
	TemplateName string

	// RecordType keeps records of this application-level type.
	RecordType string

	// IndexedAfter/IndexedBefore bound indexed_at (Unix ms, inclusive).
	// Zero means unbounded.
	IndexedAfter  int64 `validate:"min=0"`
	IndexedBefore int64 `validate:"min=0"`

	// CreatorHandle / CreatorAddress keep one creator's records.
	CreatorHandle  string
	CreatorAddress string

	// ValuePrefix keeps records where any field value, searched
	// recursively, starts with this prefix (case-insensitive).
	ValuePrefix string

	// FieldEquals is an exact-match field-path map:
	// "template.field" -> expected value.
	FieldEquals map[string]any

	// --- Tag filter ---

	Tags    []string
	TagMode MatchMode `validate:"omitempty,oneof=any all"`

	// TagSummary switches to tag-summary mode: the tag histogram is
	// paginated first, and only records carrying a tag from that page
	// are returned.
	TagSummary bool

	// --- Domain filters (each bound to a record type) ---

	// Equipment filters exercise records by equipment names,
	// substring-tolerant. Requires RecordType == "exercise".
	Equipment     []string
	EquipmentMode MatchMode `validate:"omitempty,oneof=any all"`

	// ExerciseTypes filters exercise records by their enum-normalized
	// exercise type. Requires RecordType == "exercise".
	ExerciseTypes    []string
	ExerciseTypeMode MatchMode `validate:"omitempty,oneof=any all"`

	// WorkoutOrder scores workout records by order-similarity of their
	// exercise name list. Requires RecordType == "workout".
	WorkoutOrder []string

	// IngredientOrder scores recipe records by order-similarity of
	// their ingredient name list. Requires RecordType == "recipe".
	IngredientOrder []string

	// --- Free text ---

	// Search is a comma-separated term list. Every term must match
	// name, description, or tags (AND across terms).
	Search string

	// --- Audio ---

	// HasAudio filters on presence of an audio note reference.
	HasAudio *bool

	// --- Output shaping ---

	// WithoutSignatures scrubs signature and public-key material.
	WithoutSignatures bool

	// ResolveDepth is the reference expansion depth. 0 leaves
	// references as bare identifiers.
	ResolveDepth int `validate:"min=0,max=10"`

	// NutritionSummary computes the nutritional roll-up for recipe
	// records on the returned page.
	NutritionSummary bool

	// Sort applies in order; an empty list keeps index order, except
	// under Search, which installs its own default ordering.
	Sort []SortSpec `validate:"dive"`

	// --- Pagination ---

	Page     int `validate:"min=1"`
	PageSize int `validate:"min=1,max=500"`
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		TagMode:          MatchAny,
		EquipmentMode:    MatchAny,
		ExerciseTypeMode: MatchAny,
		Page:             1,
		PageSize:         20,
	}
}

// -----------------------------------------------------------------------------
// Builder methods
// -----------------------------------------------------------------------------

// WithTags sets the tag filter.
func (o *Options) WithTags(mode MatchMode, tags ...string) *Options {
	o.Tags = tags
	o.TagMode = mode
	return o
}

// WithEquipment sets the equipment filter.
func (o *Options) WithEquipment(mode MatchMode, equipment ...string) *Options {
	o.Equipment = equipment
	o.EquipmentMode = mode
	return o
}

// WithExerciseTypes sets the exercise-type filter.
func (o *Options) WithExerciseTypes(mode MatchMode, types ...string) *Options {
	o.ExerciseTypes = types
	o.ExerciseTypeMode = mode
	return o
}

// WithSearch sets the free-text term list.
func (o *Options) WithSearch(terms string) *Options {
	o.Search = terms
	return o
}

// WithSort appends one sort instruction.
func (o *Options) WithSort(key SortKey, desc bool) *Options {
	o.Sort = append(o.Sort, SortSpec{Key: key, Desc: desc})
	return o
}

// WithScoreSort appends a sort on a computed score.
func (o *Options) WithScoreSort(score ScoreKind, desc bool) *Options {
	o.Sort = append(o.Sort, SortSpec{Key: SortScore, Score: score, Desc: desc})
	return o
}

// WithPage sets pagination.
func (o *Options) WithPage(page, size int) *Options {
	o.Page = page
	o.PageSize = size
	return o
}

// WithResolveDepth sets the reference expansion depth.
func (o *Options) WithResolveDepth(depth int) *Options {
	o.ResolveDepth = depth
	return o
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

var optionsValidator = validator.New()

// Validate checks structural validity. Only malformed top-level
// requests fail; per-filter semantic issues (e.g. a domain filter
// without its record type) degrade to warnings at query time instead.
func (o *Options) Validate() error {
	if o.Page == 0 {
		o.Page = 1
	}
	if o.PageSize == 0 {
		o.PageSize = 20
	}
	if o.TagMode == "" {
		o.TagMode = MatchAny
	}
	if o.EquipmentMode == "" {
		o.EquipmentMode = MatchAny
	}
	if o.ExerciseTypeMode == "" {
		o.ExerciseTypeMode = MatchAny
	}
	if err := optionsValidator.Struct(o); err != nil {
		return fmt.Errorf("invalid query options: %w", err)
	}
	return nil
}
