// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import "github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"

// Value is the tagged union over a record's loosely-typed data tree:
// Scalar | Reference | List | Object. Modeling the tree explicitly
// keeps the resolution walk total — every node is one of four cases,
// and reference detection happens exactly once, at tree construction.
type Value interface {
	isValue()
	// ToJSON converts the node back to plain JSON-shaped Go values.
	ToJSON() any
}

// Scalar is a leaf value: string, number, bool or nil.
type Scalar struct {
	Raw any
}

// Reference is a leaf pointing at another record's identifier.
type Reference struct {
	ID string
}

// List is an ordered sequence of values.
type List struct {
	Items []Value
}

// Object is a string-keyed map of values.
type Object struct {
	Fields map[string]Value
}

func (Scalar) isValue()    {}
func (Reference) isValue() {}
func (List) isValue()      {}
func (Object) isValue()    {}

// FromJSON builds a Value tree from JSON-shaped Go data. Strings
// shaped like did identifiers become Reference nodes; everything else
// keeps its shape.
func FromJSON(v any) Value {
	switch t := v.(type) {
	case string:
		if datatypes.IsReference(t) {
			return Reference{ID: t}
		}
		return Scalar{Raw: t}
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromJSON(item)
		}
		return List{Items: items}
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = FromJSON(item)
		}
		return Object{Fields: fields}
	default:
		return Scalar{Raw: t}
	}
}

// ToJSON implements Value.
func (s Scalar) ToJSON() any { return s.Raw }

// ToJSON implements Value. An unexpanded reference is its identifier.
func (r Reference) ToJSON() any { return r.ID }

// ToJSON implements Value.
func (l List) ToJSON() any {
	out := make([]any, len(l.Items))
	for i, item := range l.Items {
		out[i] = item.ToJSON()
	}
	return out
}

// ToJSON implements Value.
func (o Object) ToJSON() any {
	out := make(map[string]any, len(o.Fields))
	for k, item := range o.Fields {
		out[k] = item.ToJSON()
	}
	return out
}
