// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model of the LedgerMirror
// engine: templates, records, creators, ledger tags, and the Weaviate
// class schemas the index store persists them into.
//
// The types here are deliberately plain. All behavior lives in the
// component packages (registry, codec, syncer, resolver, query); this
// package only answers "what does the data look like".
package datatypes

import (
	"regexp"
	"strings"
)

// =============================================================================
// Ledger Tags & Classification
// =============================================================================

// Tag is a single name/value pair attached to a ledger transaction.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Protocol tag names. Every transaction the mirror indexes declares its
// intent through these tags; everything else on the transaction is treated
// as a user tag and carried onto the indexed record.
const (
	// TagAppName identifies the protocol family, e.g. "ledger-mirror".
	TagAppName = "App-Name"

	// TagType declares what the transaction carries: TypeTemplate,
	// TypeCreator or TypeRecord.
	TagType = "Type"

	// TagIndexMethod declares the indexing scheme the payload was encoded
	// for. Transactions with an unknown method are never indexed.
	TagIndexMethod = "Index-Method"

	// TagVersion is the integer protocol version. Transactions below the
	// configured minimum are permanently skipped.
	TagVersion = "Version"

	// TagRecordType carries the application-level record type for
	// TypeRecord transactions, e.g. "workout", "recipe", "exercise".
	TagRecordType = "Record-Type"
)

// Transaction type tag values.
const (
	TypeTemplate = "template"
	TypeCreator  = "creator"
	TypeRecord   = "record"
)

// IndexMethodOpenIndex is the only indexing scheme this engine decodes.
const IndexMethodOpenIndex = "OpenIndex"

// TagValue returns the value of the first tag named name, or "".
func TagValue(tags []Tag, name string) string {
	for _, t := range tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

// UserTags returns the values of every tag that is not a protocol tag.
// These become the searchable tags of the indexed record.
func UserTags(tags []Tag) []string {
	protocol := map[string]bool{
		TagAppName:     true,
		TagType:        true,
		TagIndexMethod: true,
		TagVersion:     true,
		TagRecordType:  true,
	}
	var out []string
	for _, t := range tags {
		if !protocol[t.Name] && t.Value != "" {
			out = append(out, t.Value)
		}
	}
	return out
}

// =============================================================================
// Templates
// =============================================================================

// FieldType enumerates the value types a template field may declare.
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldUint64    FieldType = "uint64"
	FieldFloat     FieldType = "float"
	FieldEnum      FieldType = "enum"
	FieldReference FieldType = "reference"
)

// EnumValue is one entry of an enum field's ordered code table. Code is
// what goes on the ledger; DisplayName is what applications see.
type EnumValue struct {
	Code        int    `json:"code"`
	DisplayName string `json:"displayName"`
}

// TemplateField describes one field of a template: its ledger slot index,
// declared type, whether it is repeated, and (for enums) the code table.
type TemplateField struct {
	Index      int         `json:"index"`
	Type       FieldType   `json:"type"`
	Repeated   bool        `json:"repeated,omitempty"`
	EnumValues []EnumValue `json:"enumValues,omitempty"`
}

// Template is a versioned schema mapping field names to small integer
// indices so ledger-encoded records stay compact. Immutable once
// confirmed; the only permitted mutation is the pending-to-original
// status flip.
type Template struct {
	TxID           string                   `json:"txId"`
	Name           string                   `json:"name"`
	CreatorAddress string                   `json:"creatorAddress"`
	Fields         map[string]TemplateField `json:"fields"`
	Status         RecordStatus             `json:"status"`
	BlockHeight    int64                    `json:"blockHeight"`
	IndexedAt      int64                    `json:"indexedAt"`
	Signature      string                   `json:"signature"`
	PublicKey      string                   `json:"publicKey"`
}

// =============================================================================
// Records & Creators
// =============================================================================

// RecordStatus is the lifecycle state of an indexed document.
type RecordStatus string

const (
	// StatusOriginal marks a document confirmed on the ledger.
	StatusOriginal RecordStatus = "original"

	// StatusPending marks an optimistic document not yet confirmed.
	// Pending documents never advance the sync watermark.
	StatusPending RecordStatus = "pending"

	// StatusDeleted marks a document logically removed by an authorized
	// tombstone. Deleted documents are excluded from queries by default.
	StatusDeleted RecordStatus = "deleted"
)

// Creator is the resolved identity that published a transaction.
type Creator struct {
	Handle    string `json:"handle"`
	Address   string `json:"address"`
	TxRef     string `json:"txRef"`
	PublicKey string `json:"publicKey"`
}

// Record is an application-level entity decoded from one or more ledger
// transactions. Data maps template name to that template's decoded
// fields; a single record may merge several templates into one object.
type Record struct {
	Identifier  string                    `json:"identifier"`
	TxID        string                    `json:"txId"`
	RecordType  string                    `json:"recordType"`
	Data        map[string]map[string]any `json:"data"`
	Status      RecordStatus              `json:"status"`
	Version     int                       `json:"version"`
	BlockHeight int64                     `json:"blockHeight"`
	IndexedAt   int64                     `json:"indexedAt"`
	Creator     Creator                   `json:"creator"`
	Signature   string                    `json:"signature"`
	Tags        []string                  `json:"tags,omitempty"`

	// Tombstone fields. A tombstone is itself indexed as an audit trail;
	// TombstoneTarget is the identifier of the record it removed.
	IsTombstone     bool   `json:"isTombstone,omitempty"`
	TombstoneTarget string `json:"tombstoneTarget,omitempty"`
}

// Field returns the value at data[template][field], or nil.
func (r *Record) Field(template, field string) any {
	if r.Data == nil {
		return nil
	}
	tpl, ok := r.Data[template]
	if !ok {
		return nil
	}
	return tpl[field]
}

// =============================================================================
// References
// =============================================================================

// A reference is a field value of the form did:<network>:<address>
// pointing at another record's identifier. It is a relation, not an
// entity: resolution substitutes the referenced record in place.
var referencePattern = regexp.MustCompile(`^did:[a-z0-9]+:[A-Za-z0-9_-]+$`)

// IsReference reports whether s is a reference-shaped string.
func IsReference(s string) bool {
	return referencePattern.MatchString(s)
}

// MakeIdentifier mints the identifier for a record indexed from txID on
// the named ledger network.
func MakeIdentifier(network, txID string) string {
	return "did:" + network + ":" + txID
}

// SplitIdentifier splits a did identifier into network and address.
// Returns ok=false if s is not reference-shaped.
func SplitIdentifier(s string) (network, address string, ok bool) {
	if !IsReference(s) {
		return "", "", false
	}
	parts := strings.SplitN(s, ":", 3)
	return parts[1], parts[2], true
}
