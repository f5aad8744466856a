// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIsReference accepts did identifiers and rejects everything else.
func TestIsReference(t *testing.T) {
	assert.True(t, IsReference("did:arlocal:Abc123_-"))
	assert.True(t, IsReference("did:mainnet:tx9"))

	assert.False(t, IsReference("did:arlocal:"), "empty address")
	assert.False(t, IsReference("did::tx9"), "empty network")
	assert.False(t, IsReference("arlocal:tx9"), "missing scheme")
	assert.False(t, IsReference("did:ARLOCAL:tx9"), "uppercase network")
	assert.False(t, IsReference("plain string"))
	assert.False(t, IsReference(""))
}

// TestMakeIdentifier_RoundTrip splits what it minted.
func TestMakeIdentifier_RoundTrip(t *testing.T) {
	id := MakeIdentifier("arlocal", "Tx_123-abc")
	require.True(t, IsReference(id))

	network, address, ok := SplitIdentifier(id)
	require.True(t, ok)
	assert.Equal(t, "arlocal", network)
	assert.Equal(t, "Tx_123-abc", address)
}

// TestSplitIdentifier_Malformed reports ok=false without panicking.
func TestSplitIdentifier_Malformed(t *testing.T) {
	_, _, ok := SplitIdentifier("not a did")
	assert.False(t, ok)
}

// TestTagValue returns the first match and empty for absent names.
func TestTagValue(t *testing.T) {
	tags := []Tag{
		{Name: TagAppName, Value: "OpenIndex"},
		{Name: TagType, Value: TypeRecord},
		{Name: "mood", Value: "good"},
	}

	assert.Equal(t, "OpenIndex", TagValue(tags, TagAppName))
	assert.Equal(t, TypeRecord, TagValue(tags, TagType))
	assert.Equal(t, "", TagValue(tags, "absent"))
}

// TestUserTags strips protocol tags and keeps user tag values.
func TestUserTags(t *testing.T) {
	tags := []Tag{
		{Name: TagAppName, Value: "OpenIndex"},
		{Name: TagType, Value: TypeRecord},
		{Name: TagVersion, Value: "2"},
		{Name: "mood", Value: "good"},
		{Name: "season", Value: "winter"},
	}

	user := UserTags(tags)
	assert.Equal(t, []string{"good", "winter"}, user)
}

// TestRecordField walks template then field, nil on either miss.
func TestRecordField(t *testing.T) {
	rec := Record{
		Data: map[string]map[string]any{
			"recipe": {"name": "Soup", "servings": int64(4)},
		},
	}

	assert.Equal(t, "Soup", rec.Field("recipe", "name"))
	assert.Equal(t, int64(4), rec.Field("recipe", "servings"))
	assert.Nil(t, rec.Field("recipe", "absent"))
	assert.Nil(t, rec.Field("workout", "name"))
}

// TestRecordProperties_RoundTrip survives the property map and back.
func TestRecordProperties_RoundTrip(t *testing.T) {
	rec := Record{
		TxID:        "tx1",
		Identifier:  "did:arlocal:tx1",
		RecordType:  "recipe",
		Data:        map[string]map[string]any{"recipe": {"name": "Soup"}},
		Status:      StatusOriginal,
		Version:     2,
		BlockHeight: 41,
		IndexedAt:   1700000000000,
		Creator:     Creator{Handle: "alice", Address: "addr1"},
		Tags:        []string{"mood:good"},
	}

	props, err := RecordProperties(&rec)
	require.NoError(t, err)
	assert.Equal(t, "tx1", props["tx_id"])
	assert.Equal(t, 2, props["version"])
	assert.JSONEq(t, `{"recipe":{"name":"Soup"}}`, props["data"].(string))

	result := RecordResult{
		TxID:          "tx1",
		Identifier:    "did:arlocal:tx1",
		RecordType:    "recipe",
		Data:          props["data"].(string),
		Status:        "original",
		Version:       2,
		BlockHeight:   41,
		IndexedAt:     1700000000000,
		CreatorHandle: "alice",
	}
	back, err := result.ToRecord()
	require.NoError(t, err)
	assert.Equal(t, StatusOriginal, back.Status)
	assert.Equal(t, 2, back.Version)
	assert.Equal(t, "Soup", back.Field("recipe", "name"))
}

// TestRecordResult_CorruptBlob refuses half-populated records.
func TestRecordResult_CorruptBlob(t *testing.T) {
	result := RecordResult{TxID: "tx1", Data: "{not json"}
	_, err := result.ToRecord()
	assert.Error(t, err)
}

// TestRecordProperties_NilData serializes an empty object, not null.
func TestRecordProperties_NilData(t *testing.T) {
	props, err := RecordProperties(&Record{TxID: "tx1"})
	require.NoError(t, err)
	assert.Equal(t, "{}", props["data"])
	assert.Equal(t, []string{}, props["tags"])
}
