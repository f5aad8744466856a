// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists mirror documents into the Weaviate search
// index and reads them back.
//
// Every document is keyed by a deterministic UUID derived from its
// ledger transaction id, which is what makes indexing idempotent: the
// same transaction always lands on the same document, and re-processing
// a range updates in place instead of duplicating. Writes are
// upserts — create when absent, merge-update when present — with
// immediate read-after-write semantics.
//
// The store deliberately exposes whole-set reads (AllRecords). The
// query engine's contract is fetch-then-filter over the full record
// set; predicates are applied in memory, not pushed into Weaviate's
// query layer, so scores and tie-breaks stay stable.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
)

// storeTracer is the OpenTelemetry tracer for index operations.
var storeTracer = otel.Tracer("aleutian.mirror.store")

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrIndexUnavailable is the one hard failure of the engine: the
	// search index could not be reached or answered with an error.
	ErrIndexUnavailable = errors.New("search index unavailable")

	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("document not found")
)

// docNamespace seeds deterministic document UUIDs. Changing it would
// orphan every existing document, so it never changes.
var docNamespace = uuid.MustParse("8a9e6a1e-7c1d-4a52-9b31-5f0d2c6c1f11")

// DocID returns the deterministic Weaviate object id for a ledger
// transaction id.
func DocID(txID string) string {
	return uuid.NewSHA1(docNamespace, []byte(txID)).String()
}

// readPageSize is the page size for whole-set reads.
const readPageSize = 100

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store wraps a Weaviate client with the mirror's document operations.
//
// # Thread Safety
//
// Safe for concurrent use; Weaviate serializes concurrent per-document
// writes, and no additional locking is layered above that.
type Store struct {
	client *weaviate.Client
	logger *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default().
func New(client *weaviate.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

// EnsureSchema creates the three mirror classes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := datatypes.EnsureMirrorSchema(ctx, s.client); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return nil
}

// =============================================================================
// Upserts
// =============================================================================

// UpsertRecord writes a record document keyed by its transaction id.
func (s *Store) UpsertRecord(ctx context.Context, rec *datatypes.Record) error {
	props, err := datatypes.RecordProperties(rec)
	if err != nil {
		return err
	}
	return s.upsert(ctx, datatypes.ClassRecord, rec.TxID, props)
}

// UpsertTemplate writes a template document keyed by its transaction id.
func (s *Store) UpsertTemplate(ctx context.Context, tpl *datatypes.Template) error {
	props, err := datatypes.TemplateProperties(tpl)
	if err != nil {
		return err
	}
	return s.upsert(ctx, datatypes.ClassTemplate, tpl.TxID, props)
}

// UpsertCreator writes a creator registration keyed by its transaction id.
func (s *Store) UpsertCreator(ctx context.Context, c *datatypes.Creator, status datatypes.RecordStatus, blockHeight, indexedAt int64, signature string) error {
	props := datatypes.CreatorProperties(c, status, blockHeight, indexedAt, signature)
	return s.upsert(ctx, datatypes.ClassCreator, c.TxRef, props)
}

// MarkRecordDeleted flips the status of the record with the given
// identifier to deleted. The document stays in the index; removal is
// logical, never a history rewrite.
func (s *Store) MarkRecordDeleted(ctx context.Context, identifier string) error {
	rec, err := s.RecordByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	err = s.client.Data().Updater().
		WithClassName(datatypes.ClassRecord).
		WithID(DocID(rec.TxID)).
		WithMerge().
		WithProperties(map[string]interface{}{
			"status": string(datatypes.StatusDeleted),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: marking %s deleted: %v", ErrIndexUnavailable, identifier, err)
	}
	return nil
}

// upsert creates the document if absent, otherwise merge-updates it in
// place. The existence probe plus write is not atomic, but Weaviate
// keys both paths on the same deterministic id, so the worst case of a
// racing double-write is the same document written twice.
func (s *Store) upsert(ctx context.Context, class, txID string, props map[string]interface{}) error {
	ctx, span := storeTracer.Start(ctx, "store.upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("mirror.class", class),
		attribute.String("mirror.tx_id", txID),
	)

	id := DocID(txID)

	existing, err := s.client.Data().ObjectsGetter().
		WithClassName(class).
		WithID(id).
		Do(ctx)
	if err == nil && len(existing) > 0 {
		err = s.client.Data().Updater().
			WithClassName(class).
			WithID(id).
			WithMerge().
			WithProperties(props).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: updating %s/%s: %v", ErrIndexUnavailable, class, txID, err)
		}
		s.logger.Debug("document updated", "class", class, "tx_id", txID)
		return nil
	}

	_, err = s.client.Data().Creator().
		WithClassName(class).
		WithID(id).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: creating %s/%s: %v", ErrIndexUnavailable, class, txID, err)
	}
	s.logger.Debug("document created", "class", class, "tx_id", txID)
	return nil
}

// =============================================================================
// Reads
// =============================================================================

var recordFields = []graphql.Field{
	{Name: "tx_id"}, {Name: "identifier"}, {Name: "record_type"},
	{Name: "data"}, {Name: "status"}, {Name: "version"}, {Name: "block_height"},
	{Name: "indexed_at"}, {Name: "creator_handle"}, {Name: "creator_address"},
	{Name: "creator_tx_ref"}, {Name: "creator_public_key"}, {Name: "signature"},
	{Name: "tags"}, {Name: "is_tombstone"}, {Name: "tombstone_target"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

var templateFields = []graphql.Field{
	{Name: "tx_id"}, {Name: "name"}, {Name: "creator_address"},
	{Name: "definition"}, {Name: "status"}, {Name: "block_height"},
	{Name: "indexed_at"}, {Name: "signature"}, {Name: "public_key"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

var creatorFields = []graphql.Field{
	{Name: "tx_id"}, {Name: "handle"}, {Name: "address"},
	{Name: "public_key"}, {Name: "status"}, {Name: "block_height"},
	{Name: "indexed_at"}, {Name: "signature"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

// AllRecords reads the full record set, tombstones and deleted
// documents included. Filtering is the query engine's job.
func (s *Store) AllRecords(ctx context.Context) ([]datatypes.Record, error) {
	ctx, span := storeTracer.Start(ctx, "store.AllRecords")
	defer span.End()

	var out []datatypes.Record
	for offset := 0; ; offset += readPageSize {
		resp, err := s.client.GraphQL().Get().
			WithClassName(datatypes.ClassRecord).
			WithFields(recordFields...).
			WithLimit(readPageSize).
			WithOffset(offset).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: listing records: %v", ErrIndexUnavailable, err)
		}
		parsed, err := datatypes.ParseGraphQLResponse[datatypes.RecordQueryResponse](resp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		for i := range parsed.Get.LedgerRecord {
			rec, err := parsed.Get.LedgerRecord[i].ToRecord()
			if err != nil {
				// One corrupt blob must not take down the whole read.
				s.logger.Error("skipping corrupt record document", "error", err)
				continue
			}
			out = append(out, rec)
		}
		if len(parsed.Get.LedgerRecord) < readPageSize {
			return out, nil
		}
	}
}

// AllTemplates reads every template document; used to hydrate the
// registry at startup.
func (s *Store) AllTemplates(ctx context.Context) ([]datatypes.Template, error) {
	var out []datatypes.Template
	for offset := 0; ; offset += readPageSize {
		resp, err := s.client.GraphQL().Get().
			WithClassName(datatypes.ClassTemplate).
			WithFields(templateFields...).
			WithLimit(readPageSize).
			WithOffset(offset).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: listing templates: %v", ErrIndexUnavailable, err)
		}
		parsed, err := datatypes.ParseGraphQLResponse[datatypes.TemplateQueryResponse](resp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		for i := range parsed.Get.RecordTemplate {
			tpl, err := parsed.Get.RecordTemplate[i].ToTemplate()
			if err != nil {
				s.logger.Error("skipping corrupt template document", "error", err)
				continue
			}
			out = append(out, tpl)
		}
		if len(parsed.Get.RecordTemplate) < readPageSize {
			return out, nil
		}
	}
}

// RecordByIdentifier returns the record with the given did identifier.
func (s *Store) RecordByIdentifier(ctx context.Context, identifier string) (*datatypes.Record, error) {
	return s.oneRecord(ctx, filters.Where().
		WithPath([]string{"identifier"}).
		WithOperator(filters.Equal).
		WithValueText(identifier))
}

// RecordByTxID returns the record indexed from the given transaction.
func (s *Store) RecordByTxID(ctx context.Context, txID string) (*datatypes.Record, error) {
	return s.oneRecord(ctx, filters.Where().
		WithPath([]string{"tx_id"}).
		WithOperator(filters.Equal).
		WithValueText(txID))
}

func (s *Store) oneRecord(ctx context.Context, where *filters.WhereBuilder) (*datatypes.Record, error) {
	resp, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassRecord).
		WithFields(recordFields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: record lookup: %v", ErrIndexUnavailable, err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.RecordQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if len(parsed.Get.LedgerRecord) == 0 {
		return nil, ErrNotFound
	}
	rec, err := parsed.Get.LedgerRecord[0].ToRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreatorByAddress returns the creator registered under the given
// ledger address.
func (s *Store) CreatorByAddress(ctx context.Context, address string) (*datatypes.Creator, error) {
	resp, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassCreator).
		WithFields(creatorFields...).
		WithWhere(filters.Where().
			WithPath([]string{"address"}).
			WithOperator(filters.Equal).
			WithValueText(address)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: creator lookup: %v", ErrIndexUnavailable, err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.CreatorQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if len(parsed.Get.CreatorRegistration) == 0 {
		return nil, ErrNotFound
	}
	c := parsed.Get.CreatorRegistration[0].ToCreator()
	return &c, nil
}

// HandleTaken reports whether a creator handle is already registered.
func (s *Store) HandleTaken(ctx context.Context, handle string) (bool, error) {
	resp, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassCreator).
		WithFields(graphql.Field{Name: "handle"}).
		WithWhere(filters.Where().
			WithPath([]string{"handle"}).
			WithOperator(filters.Equal).
			WithValueText(handle)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: handle lookup: %v", ErrIndexUnavailable, err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.CreatorQueryResponse](resp)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return len(parsed.Get.CreatorRegistration) > 0, nil
}

// MaxConfirmedBlockHeight returns the highest block height among
// confirmed (original) documents of one class, or 0 when the class is
// empty. Pending documents never count: an optimistic, unconfirmed
// document must not make a later pass skip its range.
func (s *Store) MaxConfirmedBlockHeight(ctx context.Context, class string) (int64, error) {
	resp, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithFields(graphql.Field{Name: "block_height"}).
		WithWhere(filters.Where().
			WithPath([]string{"status"}).
			WithOperator(filters.Equal).
			WithValueText(string(datatypes.StatusOriginal))).
		WithSort(graphql.Sort{Path: []string{"block_height"}, Order: graphql.Desc}).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: watermark read for %s: %v", ErrIndexUnavailable, class, err)
	}

	type row struct {
		BlockHeight int64 `json:"block_height"`
	}
	parsed, err := datatypes.ParseGraphQLResponse[map[string]map[string][]row](resp)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	rows := (*parsed)["Get"][class]
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].BlockHeight, nil
}

// Now returns the current time in Unix milliseconds; split out so the
// syncer's tests can pin indexed_at values.
func Now() int64 {
	return time.Now().UnixMilli()
}
