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

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
	"github.com/AleutianAI/LedgerMirror/services/mirror/ledger"
	"github.com/AleutianAI/LedgerMirror/services/mirror/registry"
	"github.com/AleutianAI/LedgerMirror/services/mirror/store"
	"github.com/AleutianAI/LedgerMirror/services/mirror/verify"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeGateway serves a fixed transaction set as a single index page.
type fakeGateway struct {
	mu       sync.Mutex
	txs      []*ledger.Transaction
	listErr  error
	listHits int
}

func (g *fakeGateway) add(tx *ledger.Transaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.txs = append(g.txs, tx)
}

func (g *fakeGateway) ListTransactions(_ context.Context, opts ledger.ListOptions) (*ledger.Page, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listHits++
	if g.listErr != nil {
		return nil, g.listErr
	}
	page := &ledger.Page{}
	for _, tx := range g.txs {
		if tx.BlockHeight >= opts.MinBlock {
			page.Transactions = append(page.Transactions,
				ledger.TransactionSummary{ID: tx.ID, BlockHeight: tx.BlockHeight})
		}
	}
	return page, nil
}

func (g *fakeGateway) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tx := range g.txs {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, ledger.ErrTransactionNotFound
}

func (g *fakeGateway) BlockHeight(_ context.Context, id string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tx := range g.txs {
		if tx.ID == id {
			return tx.BlockHeight, nil
		}
	}
	return 0, ledger.ErrTransactionNotFound
}

// fakeIndex is an in-memory Index recording every write.
type fakeIndex struct {
	mu        sync.Mutex
	records   map[string]*datatypes.Record // by tx id
	templates map[string]*datatypes.Template
	creators  map[string]*datatypes.Creator // by address
	heights   map[string]int64              // class -> max confirmed height

	upsertsByTx map[string]int
	failHeights bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		records:     make(map[string]*datatypes.Record),
		templates:   make(map[string]*datatypes.Template),
		creators:    make(map[string]*datatypes.Creator),
		heights:     make(map[string]int64),
		upsertsByTx: make(map[string]int),
	}
}

func (f *fakeIndex) bump(class string, status datatypes.RecordStatus, height int64) {
	if status == datatypes.StatusOriginal && height > f.heights[class] {
		f.heights[class] = height
	}
}

func (f *fakeIndex) UpsertRecord(_ context.Context, rec *datatypes.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.TxID] = &cp
	f.upsertsByTx[rec.TxID]++
	f.bump(datatypes.ClassRecord, rec.Status, rec.BlockHeight)
	return nil
}

func (f *fakeIndex) UpsertTemplate(_ context.Context, tpl *datatypes.Template) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *tpl
	f.templates[tpl.TxID] = &cp
	f.upsertsByTx[tpl.TxID]++
	f.bump(datatypes.ClassTemplate, tpl.Status, tpl.BlockHeight)
	return nil
}

func (f *fakeIndex) UpsertCreator(_ context.Context, c *datatypes.Creator, status datatypes.RecordStatus, blockHeight, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.creators[c.Address] = &cp
	f.upsertsByTx[c.TxRef]++
	f.bump(datatypes.ClassCreator, status, blockHeight)
	return nil
}

func (f *fakeIndex) MarkRecordDeleted(_ context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.Identifier == identifier {
			rec.Status = datatypes.StatusDeleted
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeIndex) RecordByIdentifier(_ context.Context, identifier string) (*datatypes.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.Identifier == identifier {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeIndex) CreatorByAddress(_ context.Context, address string) (*datatypes.Creator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creators[address]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeIndex) HandleTaken(_ context.Context, handle string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.creators {
		if c.Handle == handle {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeIndex) MaxConfirmedBlockHeight(_ context.Context, class string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHeights {
		return 0, store.ErrIndexUnavailable
	}
	return f.heights[class], nil
}

// =============================================================================
// Transaction Builders
// =============================================================================

type signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &signer{pub: pub, priv: priv}
}

func (s *signer) address() string {
	return verify.DeriveAddress(s.pub)
}

// tx builds a signed transaction carrying the protocol tags.
func (s *signer) tx(t *testing.T, id string, height int64, txType, recordType string, payload []byte) *ledger.Transaction {
	t.Helper()
	tags := []datatypes.Tag{
		{Name: datatypes.TagAppName, Value: "OpenIndexFit"},
		{Name: datatypes.TagType, Value: txType},
		{Name: datatypes.TagIndexMethod, Value: datatypes.IndexMethodOpenIndex},
		{Name: datatypes.TagVersion, Value: "1"},
	}
	if recordType != "" {
		tags = append(tags, datatypes.Tag{Name: datatypes.TagRecordType, Value: recordType})
	}
	sig := ed25519.Sign(s.priv, signingMessage(tags, payload))
	return &ledger.Transaction{
		ID:          id,
		BlockHeight: height,
		Owner:       base64.RawURLEncoding.EncodeToString(s.pub),
		Signature:   base64.RawURLEncoding.EncodeToString(sig),
		Data:        base64.RawURLEncoding.EncodeToString(payload),
		Tags:        tags,
	}
}

func (s *signer) creatorTx(t *testing.T, id string, height int64, handle string) *ledger.Transaction {
	payload, err := json.Marshal([]any{handle})
	require.NoError(t, err)
	return s.tx(t, id, height, datatypes.TypeCreator, "", payload)
}

func (s *signer) templateTx(t *testing.T, id string, height int64, name string) *ledger.Transaction {
	payload, err := json.Marshal(map[string]any{
		"name": name,
		"fields": map[string]any{
			"name":     map[string]any{"index": 0, "type": "string"},
			"servings": map[string]any{"index": 1, "type": "uint64"},
		},
	})
	require.NoError(t, err)
	return s.tx(t, id, height, datatypes.TypeTemplate, "", payload)
}

func (s *signer) recordTx(t *testing.T, id string, height int64, templateTx, name string) *ledger.Transaction {
	payload, err := json.Marshal(map[string]any{"t": templateTx, "0": name, "1": "4"})
	require.NoError(t, err)
	return s.tx(t, id, height, datatypes.TypeRecord, "recipe", payload)
}

func (s *signer) tombstoneTx(t *testing.T, id string, height int64, target string) *ledger.Transaction {
	payload, err := json.Marshal(map[string]any{"delete": target})
	require.NoError(t, err)
	return s.tx(t, id, height, datatypes.TypeRecord, "", payload)
}

func newTestEngine(t *testing.T, gw *fakeGateway, idx *fakeIndex) *Engine {
	t.Helper()
	e, err := New(Config{
		ProtocolName:     "OpenIndexFit",
		Network:          "arlocal",
		PageRetries:      1,
		PageRetryBackoff: time.Millisecond,
		Clock:            func() int64 { return 1700000000000 },
	}, gw, idx, registry.New(), verify.New())
	require.NoError(t, err)
	return e
}

// =============================================================================
// Tests
// =============================================================================

// TestRunPass_IndexesAllKinds processes creator, template and record in
// one pass, oldest first, and reports each.
func TestRunPass_IndexesAllKinds(t *testing.T) {
	alice := newSigner(t)
	gw := &fakeGateway{}
	gw.add(alice.creatorTx(t, "txC", 1, "Alice"))
	gw.add(alice.templateTx(t, "txT", 2, "recipe"))
	gw.add(alice.recordTx(t, "txR", 3, "txT", "Soup"))

	idx := newFakeIndex()
	e := newTestEngine(t, gw, idx)

	report, err := e.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.CreatorsIndexed)
	assert.Equal(t, 1, report.TemplatesIndexed)
	assert.Equal(t, 1, report.RecordsIndexed)
	assert.Equal(t, int64(0), report.Watermark)
	assert.Equal(t, int64(3), report.HighestIndexed)

	rec := idx.records["txR"]
	require.NotNil(t, rec)
	assert.Equal(t, "did:arlocal:txR", rec.Identifier)
	assert.Equal(t, "recipe", rec.RecordType)
	assert.Equal(t, "Soup", rec.Field("recipe", "name"))
	assert.Equal(t, int64(4), rec.Field("recipe", "servings"))
	assert.Equal(t, "alice", rec.Creator.Handle)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, StateIdle, e.State())
	assert.False(t, e.Busy())
}

// TestRunPass_Idempotent re-runs over the same history without
// duplicating documents, and the watermark never regresses.
func TestRunPass_Idempotent(t *testing.T) {
	alice := newSigner(t)
	gw := &fakeGateway{}
	gw.add(alice.creatorTx(t, "txC", 1, "Alice"))
	gw.add(alice.templateTx(t, "txT", 2, "recipe"))
	gw.add(alice.recordTx(t, "txR", 3, "txT", "Soup"))

	idx := newFakeIndex()
	e := newTestEngine(t, gw, idx)

	first, err := e.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), first.HighestIndexed)

	// Second pass starts past the indexed range; nothing new to do.
	second, err := e.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), second.Watermark, "watermark derived from first pass")
	assert.Equal(t, 0, second.RecordsIndexed)

	assert.Equal(t, 1, idx.upsertsByTx["txR"], "one document per transaction")
	assert.Len(t, idx.records, 1)
}

// TestRunPass_Busy rejects a second concurrent pass immediately.
func TestRunPass_Busy(t *testing.T) {
	e := newTestEngine(t, &fakeGateway{}, newFakeIndex())

	require.True(t, e.guard.TryAcquire())
	defer e.guard.Release()

	_, err := e.RunPass(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

// TestRunPass_ReleasesBusyOnError frees the pass slot after a failed
// watermark fetch.
func TestRunPass_ReleasesBusyOnError(t *testing.T) {
	idx := newFakeIndex()
	idx.failHeights = true
	e := newTestEngine(t, &fakeGateway{}, idx)

	_, err := e.RunPass(context.Background())
	require.Error(t, err)
	assert.False(t, e.Busy())
	assert.Equal(t, StateIdle, e.State())

	// The engine must accept the next pass.
	idx.failHeights = false
	_, err = e.RunPass(context.Background())
	assert.NoError(t, err)
}

// TestRunPass_ReleasesBusyOnPanic frees the pass slot even when a
// collaborator panics.
func TestRunPass_ReleasesBusyOnPanic(t *testing.T) {
	e := newTestEngine(t, &fakeGateway{}, newFakeIndex())
	e.index = panickyIndex{newFakeIndex()}

	func() {
		defer func() { recover() }()
		e.RunPass(context.Background())
	}()

	assert.False(t, e.Busy())
}

type panickyIndex struct{ *fakeIndex }

func (panickyIndex) MaxConfirmedBlockHeight(context.Context, string) (int64, error) {
	panic("index blew up")
}

// TestRunPass_SkippedPageGap counts the gap and finishes the pass when
// page retries are exhausted.
func TestRunPass_SkippedPageGap(t *testing.T) {
	gw := &fakeGateway{listErr: fmt.Errorf("gateway down")}
	e := newTestEngine(t, gw, newFakeIndex())

	report, err := e.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedPages)
	assert.Equal(t, 0, report.Pages)
}

// TestRunPass_DeferredDependencies defers a record whose creator or
// template is not indexed yet, then indexes it on a later pass.
func TestRunPass_DeferredDependencies(t *testing.T) {
	alice := newSigner(t)
	gw := &fakeGateway{}
	gw.add(alice.recordTx(t, "txR", 3, "txT", "Soup"))

	idx := newFakeIndex()
	e := newTestEngine(t, gw, idx)

	report, err := e.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred, "creator not indexed yet")
	assert.Empty(t, idx.records)

	// Dependencies arrive; the record is still past the watermark
	// because deferral never advanced it.
	gw.add(alice.creatorTx(t, "txC", 1, "Alice"))
	gw.add(alice.templateTx(t, "txT", 2, "recipe"))

	report, err = e.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RecordsIndexed)
	assert.NotNil(t, idx.records["txR"])
}

// TestRunPass_SignatureGate rejects a tampered transaction terminally.
func TestRunPass_SignatureGate(t *testing.T) {
	alice := newSigner(t)
	gw := &fakeGateway{}
	tampered := alice.creatorTx(t, "txC", 1, "Alice")
	tampered.Data = base64.RawURLEncoding.EncodeToString([]byte(`["Mallory"]`))
	gw.add(tampered)

	idx := newFakeIndex()
	e := newTestEngine(t, gw, idx)

	report, err := e.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)
	assert.Empty(t, idx.creators)
}

// TestRunPass_VersionGate skips transactions below the minimum version.
func TestRunPass_VersionGate(t *testing.T) {
	alice := newSigner(t)
	old := alice.creatorTx(t, "txC", 1, "Alice")
	for i := range old.Tags {
		if old.Tags[i].Name == datatypes.TagVersion {
			old.Tags[i].Value = "0"
		}
	}
	gw := &fakeGateway{}
	gw.add(old)

	idx := newFakeIndex()
	e := newTestEngine(t, gw, idx)

	report, err := e.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, idx.creators)
}

// TestRunPass_HandleDisambiguation assigns -2 to the second claimant of
// a handle and keeps existing handles stable on re-processing.
func TestRunPass_HandleDisambiguation(t *testing.T) {
	alice := newSigner(t)
	mallory := newSigner(t)
	gw := &fakeGateway{}
	gw.add(alice.creatorTx(t, "txA", 1, "Coach Carter"))
	gw.add(mallory.creatorTx(t, "txB", 2, "Coach Carter"))

	idx := newFakeIndex()
	e := newTestEngine(t, gw, idx)

	_, err := e.RunPass(context.Background())
	require.NoError(t, err)

	require.Len(t, idx.creators, 2)
	assert.Equal(t, "coach-carter", idx.creators[alice.address()].Handle)
	assert.Equal(t, "coach-carter-2", idx.creators[mallory.address()].Handle)
}

// TestRunPass_TombstoneAuthorized deletes the target and indexes the
// tombstone as an audit record.
func TestRunPass_TombstoneAuthorized(t *testing.T) {
	alice := newSigner(t)
	gw := &fakeGateway{}
	gw.add(alice.creatorTx(t, "txC", 1, "Alice"))
	gw.add(alice.templateTx(t, "txT", 2, "recipe"))
	gw.add(alice.recordTx(t, "txR", 3, "txT", "Soup"))
	gw.add(alice.tombstoneTx(t, "txD", 4, "did:arlocal:txR"))

	idx := newFakeIndex()
	e := newTestEngine(t, gw, idx)

	report, err := e.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TombstonesApplied)

	assert.Equal(t, datatypes.StatusDeleted, idx.records["txR"].Status)
	tomb := idx.records["txD"]
	require.NotNil(t, tomb)
	assert.True(t, tomb.IsTombstone)
	assert.Equal(t, "did:arlocal:txR", tomb.TombstoneTarget)
}

// TestRunPass_TombstoneUnauthorized ignores a delete request from a
// different creator but still indexes the tombstone.
func TestRunPass_TombstoneUnauthorized(t *testing.T) {
	alice := newSigner(t)
	mallory := newSigner(t)
	gw := &fakeGateway{}
	gw.add(alice.creatorTx(t, "txC", 1, "Alice"))
	gw.add(mallory.creatorTx(t, "txM", 1, "Mallory"))
	gw.add(alice.templateTx(t, "txT", 2, "recipe"))
	gw.add(alice.recordTx(t, "txR", 3, "txT", "Soup"))
	gw.add(mallory.tombstoneTx(t, "txD", 4, "did:arlocal:txR"))

	idx := newFakeIndex()
	e := newTestEngine(t, gw, idx)

	report, err := e.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TombstonesApplied)
	assert.Equal(t, datatypes.StatusOriginal, idx.records["txR"].Status)
	assert.NotNil(t, idx.records["txD"], "tombstone indexed as audit trail")
}

// TestClassify covers the parse and version dispositions directly.
func TestClassify(t *testing.T) {
	base := func(txType, method, version string) []datatypes.Tag {
		return []datatypes.Tag{
			{Name: datatypes.TagType, Value: txType},
			{Name: datatypes.TagIndexMethod, Value: method},
			{Name: datatypes.TagVersion, Value: version},
		}
	}

	kind, err := classify(base("record", datatypes.IndexMethodOpenIndex, "1"), 1)
	require.NoError(t, err)
	assert.Equal(t, kindRecord, kind)

	_, err = classify(base("record", "SomeOtherMethod", "1"), 1)
	assert.ErrorIs(t, err, ErrParse)

	_, err = classify(base("record", datatypes.IndexMethodOpenIndex, "nope"), 1)
	assert.ErrorIs(t, err, ErrParse)

	_, err = classify(base("record", datatypes.IndexMethodOpenIndex, "1"), 2)
	assert.ErrorIs(t, err, ErrBelowMinVersion)

	_, err = classify(base("mystery", datatypes.IndexMethodOpenIndex, "1"), 1)
	assert.ErrorIs(t, err, ErrParse)
}
