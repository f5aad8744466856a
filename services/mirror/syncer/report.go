// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncer

import "time"

// PassReport summarizes one sync pass. The pipeline never aborts on
// partial data, so the report is how callers see what was deferred,
// rejected, or lost instead of grepping logs.
type PassReport struct {
	// Watermark is the block height the pass started from (exclusive).
	Watermark int64 `json:"watermark"`

	// HighestIndexed is the highest block height successfully indexed
	// during this pass; equals Watermark when nothing new was found.
	HighestIndexed int64 `json:"highestIndexed"`

	// Pages is the number of index pages fetched.
	Pages int `json:"pages"`

	// SkippedPages counts pages abandoned after retries were exhausted.
	// A skipped page is an accepted gap until a later pass re-covers
	// the range.
	SkippedPages int `json:"skippedPages"`

	// TemplatesIndexed, CreatorsIndexed, RecordsIndexed count upserts.
	TemplatesIndexed int `json:"templatesIndexed"`
	CreatorsIndexed  int `json:"creatorsIndexed"`
	RecordsIndexed   int `json:"recordsIndexed"`

	// TombstonesApplied counts delete requests that removed their target.
	TombstonesApplied int `json:"tombstonesApplied"`

	// Deferred counts transactions skipped because a template or
	// creator they need was not indexed yet. A later pass retries them.
	Deferred int `json:"deferred"`

	// Rejected counts transactions with invalid signatures. Terminal.
	Rejected int `json:"rejected"`

	// Skipped counts permanent skips: malformed payloads and
	// below-minimum-version transactions.
	Skipped int `json:"skipped"`

	// FetchFailures counts per-transaction content fetches that failed
	// after retries.
	FetchFailures int `json:"fetchFailures"`

	// Duration is the wall-clock time of the pass.
	Duration time.Duration `json:"duration"`
}
