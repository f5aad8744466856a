// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver expands cross-record references into embedded
// sub-records to a bounded depth.
//
// Resolution walks every field of a record's data, array elements
// included, looking for reference-shaped strings. Each match is looked
// up in the record set and, while depth remains, replaced in place by
// its resolution at depth-1; at depth 0 references stay bare
// identifiers. There is no cycle detection: recursion is bounded only
// by strictly decreasing depth, so a cyclic reference graph terminates
// after exactly depth hops. Dangling and deleted-target references are
// left unresolved, never errored.
package resolver

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
	"github.com/AleutianAI/LedgerMirror/services/mirror/store"
)

// defaultFanOut bounds how many records of one query page resolve
// concurrently.
const defaultFanOut = 8

// RecordLookup is the slice of the store the resolver reads through.
type RecordLookup interface {
	RecordByIdentifier(ctx context.Context, identifier string) (*datatypes.Record, error)
}

// Resolver expands references against a record lookup.
//
// # Thread Safety
//
// Safe for concurrent use; all state is per-call.
type Resolver struct {
	lookup RecordLookup
	fanOut int
}

// New creates a Resolver. fanOut <= 0 selects the default bound.
func New(lookup RecordLookup, fanOut int) *Resolver {
	if fanOut <= 0 {
		fanOut = defaultFanOut
	}
	return &Resolver{lookup: lookup, fanOut: fanOut}
}

// Resolve returns a copy of rec with references in its data expanded
// to the given depth. The input record is never mutated.
//
// Only an unreachable index errors; a reference that cannot be
// resolved stays a bare identifier in the output.
func (r *Resolver) Resolve(ctx context.Context, rec datatypes.Record, depth int) (datatypes.Record, error) {
	if depth <= 0 || rec.Data == nil {
		return rec, nil
	}

	resolved := make(map[string]map[string]any, len(rec.Data))
	for tplName, fields := range rec.Data {
		value, err := r.resolveValue(ctx, FromJSON(anyMap(fields)), depth)
		if err != nil {
			return datatypes.Record{}, err
		}
		obj, _ := value.ToJSON().(map[string]any)
		resolved[tplName] = obj
	}

	out := rec
	out.Data = resolved
	return out, nil
}

// ResolveAll resolves every record of one query page, fanned out in a
// bounded parallel group. Each record is independently depth-bounded.
func (r *Resolver) ResolveAll(ctx context.Context, recs []datatypes.Record, depth int) ([]datatypes.Record, error) {
	if depth <= 0 || len(recs) == 0 {
		return recs, nil
	}

	out := make([]datatypes.Record, len(recs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanOut)
	for i := range recs {
		g.Go(func() error {
			resolved, err := r.Resolve(ctx, recs[i], depth)
			if err != nil {
				return err
			}
			out[i] = resolved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveValue walks one node. Depth only decreases across reference
// expansion, not across plain list/object nesting.
func (r *Resolver) resolveValue(ctx context.Context, v Value, depth int) (Value, error) {
	switch node := v.(type) {
	case Reference:
		if depth <= 0 {
			return node, nil
		}
		return r.expand(ctx, node, depth)
	case List:
		items := make([]Value, len(node.Items))
		for i, item := range node.Items {
			resolved, err := r.resolveValue(ctx, item, depth)
			if err != nil {
				return nil, err
			}
			items[i] = resolved
		}
		return List{Items: items}, nil
	case Object:
		fields := make(map[string]Value, len(node.Fields))
		for k, item := range node.Fields {
			resolved, err := r.resolveValue(ctx, item, depth)
			if err != nil {
				return nil, err
			}
			fields[k] = resolved
		}
		return Object{Fields: fields}, nil
	default:
		return v, nil
	}
}

// expand substitutes one reference with its target record, resolved at
// depth-1.
func (r *Resolver) expand(ctx context.Context, ref Reference, depth int) (Value, error) {
	target, err := r.lookup.RecordByIdentifier(ctx, ref.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ref, nil
	case err != nil:
		return nil, err
	case target.Status == datatypes.StatusDeleted:
		return ref, nil
	}

	inner, err := r.Resolve(ctx, *target, depth-1)
	if err != nil {
		return nil, err
	}

	embedded := map[string]any{
		"identifier": inner.Identifier,
		"recordType": inner.RecordType,
	}
	for tplName, fields := range inner.Data {
		embedded[tplName] = fields
	}
	return FromJSON(any(embedded)), nil
}

// anyMap widens a typed field map for FromJSON.
func anyMap(fields map[string]any) any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
