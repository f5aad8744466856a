// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec implements the record translator: the bidirectional
// codec between the ledger's flat numeric-keyed form and the nested
// named JSON applications work with.
//
// A raw record payload is a sequence of entries, each carrying a "t" key
// naming the template transaction that encoded it plus slot-indexed
// values:
//
//	[{"t":"<txid>","0":"Soup","1":"4"}, {"t":"<txid2>","0":"..."}]
//
// Each entry decodes independently against its template, then entries
// merge by template name into one record's data.
//
// Decode is tolerant by policy: unknown slot indices and uncoercible
// values are dropped, not fatal, because schema skew between publisher
// and mirror is expected. The one hard dependency is the template
// itself — an entry whose template is not yet registered fails with
// ErrUnresolvedTemplate so the caller can defer the transaction and
// retry after a later sync pass has indexed the template.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
	"github.com/AleutianAI/LedgerMirror/services/mirror/registry"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrMalformedPayload is returned when the raw payload is not an
	// entry object or a sequence of entry objects.
	ErrMalformedPayload = errors.New("malformed record payload")

	// ErrMissingTemplateKey is returned when an entry lacks the "t" key.
	ErrMissingTemplateKey = errors.New("entry is missing template key \"t\"")

	// ErrUnresolvedTemplate is returned when an entry names a template
	// that is not registered yet. The transaction should be retried
	// after a later sync pass; templates and records are not guaranteed
	// to arrive in ledger order.
	ErrUnresolvedTemplate = errors.New("referenced template not yet indexed")

	// ErrUnpublishedReference is returned by Encode when a reference
	// field holds a sub-record that has no identifier yet. References on
	// the ledger are identifiers only; the sub-record must be published
	// first.
	ErrUnpublishedReference = errors.New("reference field requires a published sub-record identifier")
)

// templateKey is the reserved entry key naming the encoding template.
const templateKey = "t"

// -----------------------------------------------------------------------------
// Translator
// -----------------------------------------------------------------------------

// Translator converts between ledger form and named JSON, driven by the
// template registry.
//
// # Thread Safety
//
// Translator holds no mutable state of its own; it is as safe for
// concurrent use as the registry it wraps.
type Translator struct {
	registry *registry.Registry
}

// New creates a Translator backed by reg.
func New(reg *registry.Registry) *Translator {
	return &Translator{registry: reg}
}

// =============================================================================
// Decode (ledger -> JSON)
// =============================================================================

// DecodeEntries parses a raw payload and decodes every entry, merging
// the results by template name into one record data object.
//
// The payload may be a single entry object or an array of entries.
// Any entry with an unregistered template fails the whole call with
// ErrUnresolvedTemplate: the record cannot be partially indexed and
// retried later, because re-indexing is keyed on the transaction, not
// the entry.
func (t *Translator) DecodeEntries(raw []byte) (map[string]map[string]any, error) {
	entries, err := parseEntries(raw)
	if err != nil {
		return nil, err
	}

	data := make(map[string]map[string]any)
	for _, entry := range entries {
		name, fields, err := t.Decode(entry)
		if err != nil {
			return nil, err
		}
		if existing, ok := data[name]; ok {
			for k, v := range fields {
				existing[k] = v
			}
		} else {
			data[name] = fields
		}
	}
	return data, nil
}

// Decode decodes a single entry against its template.
//
// Returns the template name and the named field map. Unknown slot
// indices are dropped. Values are coerced by the field's declared type;
// a value that cannot be coerced is dropped rather than failing the
// entry, since partial decode beats rejection under schema skew.
func (t *Translator) Decode(entry map[string]any) (string, map[string]any, error) {
	txID, ok := entry[templateKey].(string)
	if !ok || txID == "" {
		return "", nil, ErrMissingTemplateKey
	}

	tpl, err := t.registry.GetByTxID(txID)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrUnresolvedTemplate, txID)
	}

	fields := make(map[string]any)
	for key, raw := range entry {
		if key == templateKey {
			continue
		}
		index, err := strconv.Atoi(key)
		if err != nil {
			// Not a slot key; ledger noise, skip it.
			continue
		}
		name, ok := t.registry.FieldNameByIndex(txID, index)
		if !ok {
			// Unknown index: the publisher used a newer (or older)
			// revision of this schema. Drop, do not fail.
			continue
		}
		decoded, ok := t.decodeValue(txID, name, tpl.Fields[name], raw)
		if !ok {
			continue
		}
		fields[name] = decoded
	}
	return tpl.Name, fields, nil
}

// decodeValue coerces one slot value by its declared field type.
func (t *Translator) decodeValue(txID, name string, field datatypes.TemplateField, raw any) (any, bool) {
	if field.Repeated {
		items, ok := raw.([]any)
		if !ok {
			// A scalar in a repeated slot is treated as a one-element list.
			items = []any{raw}
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			if v, ok := t.decodeScalar(txID, name, field.Type, item); ok {
				out = append(out, v)
			}
		}
		return out, true
	}
	return t.decodeScalar(txID, name, field.Type, raw)
}

func (t *Translator) decodeScalar(txID, name string, ft datatypes.FieldType, raw any) (any, bool) {
	switch ft {
	case datatypes.FieldString, datatypes.FieldReference:
		s, ok := raw.(string)
		return s, ok
	case datatypes.FieldUint64:
		n, ok := toInt64(raw)
		return n, ok
	case datatypes.FieldFloat:
		f, ok := toFloat64(raw)
		return f, ok
	case datatypes.FieldEnum:
		code, ok := toInt64(raw)
		if !ok {
			return nil, false
		}
		if display, ok := t.registry.EnumDisplay(txID, name, int(code)); ok {
			return display, true
		}
		// Unknown code: keep the numeric code so the value survives.
		return int(code), true
	default:
		return nil, false
	}
}

// =============================================================================
// Encode (JSON -> ledger)
// =============================================================================

// EncodeRecord encodes a full record data object into a deterministic
// sequence of ledger entries, one per template, ordered by template
// name.
func (t *Translator) EncodeRecord(data map[string]map[string]any) ([]map[string]any, error) {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]map[string]any, 0, len(names))
	for _, name := range names {
		entry, err := t.Encode(name, data[name])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Encode encodes one template's named fields into ledger form.
//
// The entry carries the template's declaring transaction id under "t"
// and each field's value under its slot index. Field names the template
// does not declare are dropped (the inverse of Decode's unknown-index
// policy). Reference fields accept either a bare identifier string or
// an already-resolved sub-record object, from which only the identifier
// is placed into the slot.
func (t *Translator) Encode(templateName string, fields map[string]any) (map[string]any, error) {
	txID, err := t.registry.GetByName(templateName)
	if err != nil {
		return nil, err
	}
	tpl, err := t.registry.GetByTxID(txID)
	if err != nil {
		return nil, err
	}

	entry := map[string]any{templateKey: txID}
	for name, value := range fields {
		field, ok := tpl.Fields[name]
		if !ok {
			continue
		}
		encoded, err := t.encodeValue(txID, name, field, value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		entry[strconv.Itoa(field.Index)] = encoded
	}
	return entry, nil
}

func (t *Translator) encodeValue(txID, name string, field datatypes.TemplateField, value any) (any, error) {
	if field.Repeated {
		items, ok := value.([]any)
		if !ok {
			items = []any{value}
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			v, err := t.encodeScalar(txID, name, field.Type, item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return t.encodeScalar(txID, name, field.Type, value)
}

func (t *Translator) encodeScalar(txID, name string, ft datatypes.FieldType, value any) (any, error) {
	switch ft {
	case datatypes.FieldString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected string, got %T", ErrMalformedPayload, value)
		}
		return s, nil
	case datatypes.FieldUint64:
		n, ok := toInt64(value)
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: expected non-negative integer, got %v", ErrMalformedPayload, value)
		}
		// The ledger form carries integers as strings to survive
		// JSON number precision limits.
		return strconv.FormatInt(n, 10), nil
	case datatypes.FieldFloat:
		f, ok := toFloat64(value)
		if !ok {
			return nil, fmt.Errorf("%w: expected number, got %T", ErrMalformedPayload, value)
		}
		return f, nil
	case datatypes.FieldEnum:
		switch v := value.(type) {
		case string:
			code, ok := t.registry.EnumCode(txID, name, v)
			if !ok {
				return nil, fmt.Errorf("%w: unknown enum value %q", ErrMalformedPayload, v)
			}
			return code, nil
		default:
			if code, ok := toInt64(value); ok {
				return int(code), nil
			}
			return nil, fmt.Errorf("%w: expected enum name or code, got %T", ErrMalformedPayload, value)
		}
	case datatypes.FieldReference:
		switch v := value.(type) {
		case string:
			if !datatypes.IsReference(v) {
				return nil, fmt.Errorf("%w: %q is not an identifier", ErrUnpublishedReference, v)
			}
			return v, nil
		case map[string]any:
			// A resolved sub-record: only its identifier goes on the ledger.
			if id, ok := v["identifier"].(string); ok && datatypes.IsReference(id) {
				return id, nil
			}
			return nil, ErrUnpublishedReference
		default:
			return nil, ErrUnpublishedReference
		}
	default:
		return nil, fmt.Errorf("%w: field type %q", ErrMalformedPayload, ft)
	}
}

// =============================================================================
// Payload parsing
// =============================================================================

// Tombstone is a delete request parsed from a record payload.
type Tombstone struct {
	// Target is the identifier of the record to remove.
	Target string `json:"delete"`
}

// ParseTombstone reports whether raw is a tombstone payload: an object
// carrying a "delete" key with the target identifier.
func ParseTombstone(raw []byte) (*Tombstone, bool) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	target, ok := obj["delete"].(string)
	if !ok || target == "" {
		return nil, false
	}
	return &Tombstone{Target: target}, true
}

// parseEntries normalizes a raw payload into a list of entry objects.
func parseEntries(raw []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single map[string]any
	if err := json.Unmarshal(raw, &single); err == nil {
		return []map[string]any{single}, nil
	}
	return nil, ErrMalformedPayload
}

// -----------------------------------------------------------------------------
// Coercion helpers
// -----------------------------------------------------------------------------

// toInt64 coerces JSON-decoded numbers and numeric strings to int64.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// toFloat64 coerces JSON-decoded numbers and numeric strings to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
