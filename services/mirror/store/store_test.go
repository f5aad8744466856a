// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDocID_Deterministic maps the same transaction to the same
// document, always. Idempotent indexing depends on this.
func TestDocID_Deterministic(t *testing.T) {
	a := DocID("tx1")
	b := DocID("tx1")
	assert.Equal(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version(), "SHA1-based UUID")
}

// TestDocID_Distinct maps different transactions to different documents.
func TestDocID_Distinct(t *testing.T) {
	assert.NotEqual(t, DocID("tx1"), DocID("tx2"))
	assert.NotEqual(t, DocID("tx1"), DocID("tx1 "))
}
