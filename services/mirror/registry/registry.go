// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry maintains the in-memory template registry: schema
// lookup (field name, slot index, type) keyed by the ledger transaction
// id that declared the template.
//
// The registry is the translator's single source of schema truth.
// Malformed field indices (non-sequential, duplicated) are rejected at
// registration so the translator never sees an ambiguous schema.
// Templates are append-only except for the pending-to-original status
// flip.
//
// # Thread Safety
//
// Registry is safe for concurrent use. Reads take a shared lock;
// Register and Confirm take an exclusive lock.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrTemplateNotFound is returned when no template matches the lookup.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrEmptyTemplateName is returned when a definition has no name.
	ErrEmptyTemplateName = errors.New("template name must not be empty")

	// ErrNoFields is returned when a definition declares no fields.
	ErrNoFields = errors.New("template must declare at least one field")

	// ErrInvalidFieldIndices is returned when field indices are duplicated
	// or do not form the contiguous range 0..n-1.
	ErrInvalidFieldIndices = errors.New("template field indices must be sequential and unique")

	// ErrUnknownFieldType is returned for a field type outside the
	// supported set.
	ErrUnknownFieldType = errors.New("unknown template field type")

	// ErrEnumWithoutValues is returned for an enum field with an empty
	// code table.
	ErrEnumWithoutValues = errors.New("enum field must declare enum values")
)

// -----------------------------------------------------------------------------
// Definitions
// -----------------------------------------------------------------------------

// Definition is the on-ledger payload of a template transaction.
type Definition struct {
	Name   string                             `json:"name"`
	Fields map[string]datatypes.TemplateField `json:"fields"`
}

// ParseDefinition parses and validates a raw definition blob.
//
// Validation enforces everything the translator later relies on: a
// non-empty name, at least one field, known field types, a populated
// code table on every enum field, and slot indices forming exactly
// 0..n-1 with no duplicates.
func ParseDefinition(raw []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("malformed template definition: %w", err)
	}
	if err := validateDefinition(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

func validateDefinition(def *Definition) error {
	if def.Name == "" {
		return ErrEmptyTemplateName
	}
	if len(def.Fields) == 0 {
		return ErrNoFields
	}

	seen := make(map[int]string, len(def.Fields))
	for name, field := range def.Fields {
		switch field.Type {
		case datatypes.FieldString, datatypes.FieldUint64, datatypes.FieldFloat,
			datatypes.FieldEnum, datatypes.FieldReference:
		default:
			return fmt.Errorf("%w: field %q declares %q", ErrUnknownFieldType, name, field.Type)
		}
		if field.Type == datatypes.FieldEnum && len(field.EnumValues) == 0 {
			return fmt.Errorf("%w: field %q", ErrEnumWithoutValues, name)
		}
		if other, dup := seen[field.Index]; dup {
			return fmt.Errorf("%w: index %d used by %q and %q",
				ErrInvalidFieldIndices, field.Index, other, name)
		}
		seen[field.Index] = name
	}

	// Indices must be exactly 0..n-1.
	for i := 0; i < len(def.Fields); i++ {
		if _, ok := seen[i]; !ok {
			return fmt.Errorf("%w: missing index %d", ErrInvalidFieldIndices, i)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// enumTable holds both directions of an enum field's code table.
type enumTable struct {
	byCode    map[int]string
	byDisplay map[string]int
}

// Registry is the in-memory template store the translator consults.
//
// It is hydrated from the search index at startup and kept current by
// the syncer as new template transactions are indexed.
type Registry struct {
	mu      sync.RWMutex
	byTxID  map[string]datatypes.Template
	byName  map[string]string // template name -> declaring tx id
	indices map[string]map[int]string
	enums   map[string]map[string]enumTable
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byTxID:  make(map[string]datatypes.Template),
		byName:  make(map[string]string),
		indices: make(map[string]map[int]string),
		enums:   make(map[string]map[string]enumTable),
	}
}

// Register validates and stores a template.
//
// Registration is idempotent by transaction id: re-registering the same
// txid replaces the stored copy, and a pending copy is upgraded in
// place when the confirmed one arrives. The first registration of a
// name wins the name lookup; later templates with the same name remain
// reachable by txid only.
func (r *Registry) Register(tpl datatypes.Template) error {
	if tpl.TxID == "" {
		return errors.New("template tx id must not be empty")
	}
	if err := validateDefinition(&Definition{Name: tpl.Name, Fields: tpl.Fields}); err != nil {
		return err
	}

	flat := make(map[int]string, len(tpl.Fields))
	enums := make(map[string]enumTable)
	for name, field := range tpl.Fields {
		flat[field.Index] = name
		if field.Type == datatypes.FieldEnum {
			table := enumTable{
				byCode:    make(map[int]string, len(field.EnumValues)),
				byDisplay: make(map[string]int, len(field.EnumValues)),
			}
			for _, ev := range field.EnumValues {
				table.byCode[ev.Code] = ev.DisplayName
				table.byDisplay[ev.DisplayName] = ev.Code
			}
			enums[name] = table
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTxID[tpl.TxID] = tpl
	r.indices[tpl.TxID] = flat
	r.enums[tpl.TxID] = enums
	if _, taken := r.byName[tpl.Name]; !taken {
		r.byName[tpl.Name] = tpl.TxID
	}
	return nil
}

// Confirm flips a pending template to original status. Unknown txids are
// ignored; confirmation of an already-original template is a no-op.
func (r *Registry) Confirm(txID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.byTxID[txID]; ok && tpl.Status == datatypes.StatusPending {
		tpl.Status = datatypes.StatusOriginal
		r.byTxID[txID] = tpl
	}
}

// GetByTxID returns the template declared by txID.
func (r *Registry) GetByTxID(txID string) (datatypes.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.byTxID[txID]
	if !ok {
		return datatypes.Template{}, fmt.Errorf("%w: tx %s", ErrTemplateNotFound, txID)
	}
	return tpl, nil
}

// GetByName returns the declaring transaction id for a template name.
func (r *Registry) GetByName(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	txID, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: name %s", ErrTemplateNotFound, name)
	}
	return txID, nil
}

// FieldNameByIndex returns the field name occupying the given slot index.
func (r *Registry) FieldNameByIndex(txID string, index int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	flat, ok := r.indices[txID]
	if !ok {
		return "", false
	}
	name, ok := flat[index]
	return name, ok
}

// EnumDisplay maps an enum code to its display name for the given field.
func (r *Registry) EnumDisplay(txID, field string, code int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.enums[txID][field]
	if !ok {
		return "", false
	}
	display, ok := table.byCode[code]
	return display, ok
}

// EnumCode maps a display name back to its enum code for the given field.
func (r *Registry) EnumCode(txID, field, display string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.enums[txID][field]
	if !ok {
		return 0, false
	}
	code, ok := table.byDisplay[display]
	return code, ok
}

// Names returns every registered template name, sorted. Logged after
// registry hydration as a startup diagnostic.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
