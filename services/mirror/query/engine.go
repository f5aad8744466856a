// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query implements the mirror's read side: a fetch-then-filter
// engine over the indexed record set, with tag and domain scoring,
// free-text search, multi-key sorting, reference resolution and
// pagination. Partial data never aborts a query; non-fatal issues are
// collected into the result's Warnings.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
	"github.com/AleutianAI/LedgerMirror/services/mirror/resolver"
)

var queryTracer = otel.Tracer("aleutian.mirror.query")

// RecordSource supplies the record set a query runs over.
type RecordSource interface {
	AllRecords(ctx context.Context) ([]datatypes.Record, error)
}

// Result is the shape every query returns.
type Result struct {
	// Records is the requested page after filtering, sorting,
	// resolution and enrichment.
	Records []Match `json:"records"`

	// TotalRecords counts all matches before pagination.
	TotalRecords int `json:"totalRecords"`

	// SearchResults counts matches of the free-text search; zero when
	// no search ran.
	SearchResults int `json:"searchResults"`

	// TagSummary is the paginated tag histogram in tag-summary mode.
	TagSummary []TagCount `json:"tagSummary,omitempty"`

	// Paging describes record pagination, or histogram pagination in
	// tag-summary mode.
	Paging Paging `json:"paging"`

	// Warnings lists non-fatal issues encountered while answering.
	Warnings []string `json:"warnings,omitempty"`
}

// Engine answers queries against a RecordSource.
//
// # Thread Safety
//
// Engine is stateless beyond its injected dependencies and is safe for
// concurrent use.
type Engine struct {
	source   RecordSource
	resolver *resolver.Resolver
	logger   *slog.Logger
}

// New builds a query engine. The resolver may be nil, in which case
// ResolveDepth requests degrade to a warning.
func New(source RecordSource, res *resolver.Resolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{source: source, resolver: res, logger: logger}
}

// Query runs the full pipeline: fetch, status filter, exact filters,
// tag and domain scoring, free-text search, output shaping, sort,
// pagination, reference resolution and enrichment.
//
// # Inputs
//
//   - ctx: cancels the index fetch and reference resolution.
//   - opts: the typed option set; validated before use.
//
// # Outputs
//
//   - *Result: the page plus counts and warnings. Never nil on success.
//   - error: only for invalid options or an unreachable index.
func (e *Engine) Query(ctx context.Context, opts *Options) (*Result, error) {
	ctx, span := queryTracer.Start(ctx, "query.Query")
	defer span.End()

	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	records, err := e.source.AllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record set: %w", err)
	}

	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		matches = append(matches, Match{Record: rec})
	}

	result := &Result{}

	// Filtering order is fixed: cheap exact filters first, then the
	// scoring filters, then search.
	matches = filterStatus(matches, opts.IncludeDeleted)
	matches = filterExact(matches, opts)

	if len(opts.Tags) > 0 {
		matches = applyTagFilter(matches, opts.Tags, opts.TagMode)
	}
	matches = e.applyDomainFilters(matches, opts, result)

	if opts.Search != "" {
		matches = applySearch(matches, opts.Search)
		result.SearchResults = len(matches)
	}
	if opts.HasAudio != nil {
		matches = filterAudio(matches, *opts.HasAudio)
	}

	if opts.TagSummary {
		var slice []TagCount
		var paging Paging
		matches, slice, paging = applyTagSummary(matches, opts.Page, opts.PageSize)
		result.TagSummary = slice
		result.Paging = paging
	}

	if opts.WithoutSignatures {
		scrubSignatures(matches)
	}
	deriveReadableDates(matches)

	if len(opts.Sort) > 0 {
		result.Warnings = append(result.Warnings, applySort(matches, opts.Sort)...)
	} else if opts.Search != "" {
		searchDefaultSort(matches)
	}

	result.TotalRecords = len(matches)
	// In tag-summary mode opts.Page was already consumed by the
	// histogram; every record carrying a page tag is returned.
	page := matches
	if !opts.TagSummary {
		page, result.Paging = paginate(matches, opts.Page, opts.PageSize)
	}

	page, warnings := e.resolvePage(ctx, page, opts.ResolveDepth)
	result.Warnings = append(result.Warnings, warnings...)

	if opts.NutritionSummary {
		enrichNutrition(page)
	}
	result.Records = page

	span.SetAttributes(
		attribute.Int("query.total_records", result.TotalRecords),
		attribute.Int("query.page_records", len(result.Records)),
		attribute.Int("query.warnings", len(result.Warnings)),
	)
	e.logger.Debug("query answered",
		"total", result.TotalRecords,
		"page", opts.Page,
		"returned", len(result.Records),
		"warnings", len(result.Warnings),
		"duration", time.Since(start))
	return result, nil
}

// applyDomainFilters applies the record-type-bound filters. A domain
// filter requested without its record type is skipped with a warning.
func (e *Engine) applyDomainFilters(matches []Match, opts *Options, result *Result) []Match {
	if len(opts.Equipment) > 0 {
		if opts.RecordType == RecordTypeExercise {
			matches = applyEquipmentFilter(matches, opts.Equipment, opts.EquipmentMode)
		} else {
			result.Warnings = append(result.Warnings,
				"equipment filter ignored: requires recordType \"exercise\"")
		}
	}
	if len(opts.ExerciseTypes) > 0 {
		if opts.RecordType == RecordTypeExercise {
			matches = applyExerciseTypeFilter(matches, opts.ExerciseTypes, opts.ExerciseTypeMode)
		} else {
			result.Warnings = append(result.Warnings,
				"exerciseTypes filter ignored: requires recordType \"exercise\"")
		}
	}
	if len(opts.WorkoutOrder) > 0 {
		if opts.RecordType == RecordTypeWorkout {
			matches = applyOrderFilter(matches, opts.WorkoutOrder, "exercises", ScoreWorkoutOrder)
		} else {
			result.Warnings = append(result.Warnings,
				"workoutOrder filter ignored: requires recordType \"workout\"")
		}
	}
	if len(opts.IngredientOrder) > 0 {
		if opts.RecordType == RecordTypeRecipe {
			matches = applyOrderFilter(matches, opts.IngredientOrder, "ingredients", ScoreIngredientOrder)
		} else {
			result.Warnings = append(result.Warnings,
				"ingredientOrder filter ignored: requires recordType \"recipe\"")
		}
	}
	return matches
}

// resolvePage expands references for the page records only. Resolution
// failure of the whole batch degrades to unresolved records plus a
// warning rather than failing the query.
func (e *Engine) resolvePage(ctx context.Context, page []Match, depth int) ([]Match, []string) {
	if depth <= 0 || len(page) == 0 {
		return page, nil
	}
	if e.resolver == nil {
		return page, []string{"resolveDepth ignored: no resolver configured"}
	}

	recs := make([]datatypes.Record, len(page))
	for i := range page {
		recs[i] = page[i].Record
	}
	resolved, err := e.resolver.ResolveAll(ctx, recs, depth)
	if err != nil {
		e.logger.Warn("reference resolution failed for page", "error", err)
		return page, []string{fmt.Sprintf("reference resolution failed: %v", err)}
	}
	for i := range page {
		page[i].Record = resolved[i]
	}
	return page, nil
}

// deriveReadableDates fills DateReadable from any numeric "date" field,
// rendered RFC 1123 in UTC.
func deriveReadableDates(matches []Match) {
	for i := range matches {
		if ts := contentDate(&matches[i].Record); ts > 0 {
			matches[i].DateReadable = time.Unix(ts, 0).UTC().Format(time.RFC1123)
		}
	}
}
