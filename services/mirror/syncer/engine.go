// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syncer implements the ledger synchronization engine: it
// discovers finalized transactions past the last watermark, classifies
// them, verifies their signatures, and indexes them.
//
// A pass moves through the states IDLE, FETCHING_WATERMARK, PAGINATING,
// CLASSIFYING, VERIFYING, INDEXING and back to IDLE. Only one pass runs
// at a time; the busy flag is taken before the first suspension point
// and released on every exit path, so a failed pass can never wedge the
// engine busy.
//
// The pipeline is deliberately forgiving: the ledger is an adversarial,
// eventually-consistent input, and almost every per-transaction failure
// degrades to a counter on the PassReport instead of aborting the pass.
// The two exceptions are an unreachable index (hard error) and invalid
// signatures (terminal, never indexed, never retried).
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/LedgerMirror/services/mirror/codec"
	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
	"github.com/AleutianAI/LedgerMirror/services/mirror/ledger"
	"github.com/AleutianAI/LedgerMirror/services/mirror/registry"
	"github.com/AleutianAI/LedgerMirror/services/mirror/store"
	"github.com/AleutianAI/LedgerMirror/services/mirror/verify"
)

// syncTracer is the OpenTelemetry tracer for sync passes.
var syncTracer = otel.Tracer("aleutian.mirror.syncer")

// =============================================================================
// States
// =============================================================================

// State is the observable phase of the engine.
type State int32

const (
	StateIdle State = iota
	StateFetchingWatermark
	StatePaginating
	StateClassifying
	StateVerifying
	StateIndexing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetchingWatermark:
		return "FETCHING_WATERMARK"
	case StatePaginating:
		return "PAGINATING"
	case StateClassifying:
		return "CLASSIFYING"
	case StateVerifying:
		return "VERIFYING"
	case StateIndexing:
		return "INDEXING"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Index is the slice of the store the syncer writes through. *store.Store
// implements it; tests substitute an in-memory fake.
type Index interface {
	UpsertRecord(ctx context.Context, rec *datatypes.Record) error
	UpsertTemplate(ctx context.Context, tpl *datatypes.Template) error
	UpsertCreator(ctx context.Context, c *datatypes.Creator, status datatypes.RecordStatus, blockHeight, indexedAt int64, signature string) error
	MarkRecordDeleted(ctx context.Context, identifier string) error
	RecordByIdentifier(ctx context.Context, identifier string) (*datatypes.Record, error)
	CreatorByAddress(ctx context.Context, address string) (*datatypes.Creator, error)
	HandleTaken(ctx context.Context, handle string) (bool, error)
	MaxConfirmedBlockHeight(ctx context.Context, class string) (int64, error)
}

// Compile-time interface implementation check.
var _ Index = (*store.Store)(nil)

// =============================================================================
// Configuration
// =============================================================================

// Config configures the sync engine.
type Config struct {
	// ProtocolName is the App-Name tag value transactions must carry.
	ProtocolName string

	// Network is the ledger network name minted into record
	// identifiers, e.g. "arweave".
	Network string

	// MinVersion is the minimum protocol version; lower versions are
	// permanently skipped. Default: 1.
	MinVersion int

	// GenesisBlock floors the watermark: the protocol did not exist
	// before it, so no pass ever pages earlier history.
	GenesisBlock int64

	// PageSize is the transaction index page size. Default: 50.
	PageSize int

	// PageRetries is how many times one page fetch is attempted before
	// the page is skipped. Default: 3.
	PageRetries int

	// PageRetryBackoff is the delay between page retries. Default: 2s.
	PageRetryBackoff time.Duration

	// Logger for pass logging. Default: slog.Default().
	Logger *slog.Logger

	// Clock returns the current time in Unix milliseconds. Tests pin
	// it; production leaves it nil for store.Now.
	Clock func() int64
}

func (c *Config) applyDefaults() {
	if c.MinVersion == 0 {
		c.MinVersion = 1
	}
	if c.PageSize == 0 {
		c.PageSize = 50
	}
	if c.PageRetries == 0 {
		c.PageRetries = 3
	}
	if c.PageRetryBackoff == 0 {
		c.PageRetryBackoff = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = store.Now
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ProtocolName == "" {
		return errors.New("protocol_name must not be empty")
	}
	if c.Network == "" {
		return errors.New("network must not be empty")
	}
	if c.GenesisBlock < 0 {
		return errors.New("genesis_block must be non-negative")
	}
	return nil
}

// =============================================================================
// Engine
// =============================================================================

// Engine drives sync passes.
//
// # Thread Safety
//
// Safe for concurrent use. RunPass callers race for the single pass
// slot; losers get ErrSyncInProgress immediately.
type Engine struct {
	cfg        Config
	gateway    ledger.Gateway
	index      Index
	registry   *registry.Registry
	translator *codec.Translator
	verifier   verify.Verifier
	logger     *slog.Logger

	guard passGuard
	state atomic.Int32
}

// New creates a sync engine.
func New(cfg Config, gateway ledger.Gateway, index Index, reg *registry.Registry, verifier verify.Verifier) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		gateway:    gateway,
		index:      index,
		registry:   reg,
		translator: codec.New(reg),
		verifier:   verifier,
		logger:     cfg.Logger,
	}, nil
}

// State returns the engine's current phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Busy reports whether a pass is running.
func (e *Engine) Busy() bool {
	return e.guard.Held()
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// HydrateRegistry loads every indexed template into the registry.
// Called once at startup before the first pass or query.
func (e *Engine) HydrateRegistry(ctx context.Context, templates []datatypes.Template) {
	for _, tpl := range templates {
		if err := e.registry.Register(tpl); err != nil {
			// An invalid template in the index was indexed by an older,
			// more permissive build. Leave the document, skip the schema.
			e.logger.Warn("skipping invalid stored template", "tx_id", tpl.TxID, "error", err)
		}
	}
	e.logger.Info("template registry hydrated", "templates", e.registry.Names())
}

// =============================================================================
// RunPass
// =============================================================================

// RunPass executes one full synchronization pass and reports what it
// did.
//
// Returns ErrSyncInProgress without doing anything if another pass
// holds the busy flag. Per-transaction failures degrade to report
// counters; only an unreachable index aborts the pass with an error.
func (e *Engine) RunPass(ctx context.Context) (*PassReport, error) {
	if !e.guard.TryAcquire() {
		return nil, ErrSyncInProgress
	}
	defer func() {
		// Guaranteed cleanup: a panic or early return must never leave
		// the engine wedged busy.
		e.guard.Release()
		e.setState(StateIdle)
	}()

	ctx, span := syncTracer.Start(ctx, "syncer.RunPass")
	defer span.End()

	started := time.Now()
	report := &PassReport{}

	e.setState(StateFetchingWatermark)
	watermark, err := e.watermark(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "watermark fetch failed")
		return nil, err
	}
	report.Watermark = watermark
	report.HighestIndexed = watermark
	e.logger.Info("sync pass started", "watermark", watermark)

	e.setState(StatePaginating)
	err = e.paginate(ctx, watermark, report)
	report.Duration = time.Since(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pass aborted")
		return report, err
	}

	span.SetAttributes(
		attribute.Int64("mirror.watermark", watermark),
		attribute.Int("mirror.records_indexed", report.RecordsIndexed),
		attribute.Int("mirror.deferred", report.Deferred),
		attribute.Int("mirror.rejected", report.Rejected),
	)
	e.logger.Info("sync pass finished",
		"duration", report.Duration,
		"templates", report.TemplatesIndexed,
		"creators", report.CreatorsIndexed,
		"records", report.RecordsIndexed,
		"tombstones", report.TombstonesApplied,
		"deferred", report.Deferred,
		"rejected", report.Rejected,
		"skipped", report.Skipped)
	return report, nil
}

// watermark computes the highest block height already reflected: the
// max over confirmed creators, templates and records, floored at the
// protocol genesis block. Pending documents never count, so a later
// pass cannot skip a range on the strength of an optimistic write.
func (e *Engine) watermark(ctx context.Context) (int64, error) {
	classes := []string{datatypes.ClassCreator, datatypes.ClassTemplate, datatypes.ClassRecord}
	max := e.cfg.GenesisBlock
	for _, class := range classes {
		h, err := e.index.MaxConfirmedBlockHeight(ctx, class)
		if err != nil {
			return 0, err
		}
		if h > max {
			max = h
		}
	}
	return max, nil
}

// paginate walks the transaction index from watermark+1 forward via
// cursor pagination until exhausted.
func (e *Engine) paginate(ctx context.Context, watermark int64, report *PassReport) error {
	opts := ledger.ListOptions{
		Tags: map[string]string{
			datatypes.TagAppName: e.cfg.ProtocolName,
		},
		MinBlock: watermark + 1,
		Limit:    e.cfg.PageSize,
	}

	for {
		page, err := e.fetchPage(ctx, opts)
		if err != nil {
			// Retries exhausted. The page is skipped and the range it
			// covered becomes a gap until a later pass re-derives the
			// watermark below it. Loud by design.
			report.SkippedPages++
			e.logger.Error("page fetch failed after retries, accepting gap",
				"cursor", opts.Cursor, "error", err)
			return nil
		}
		report.Pages++

		// Oldest first, so dependencies published earlier in the range
		// are indexed before their dependents.
		txs := append([]ledger.TransactionSummary(nil), page.Transactions...)
		sort.SliceStable(txs, func(i, j int) bool {
			return txs[i].BlockHeight < txs[j].BlockHeight
		})

		for _, summary := range txs {
			if err := e.processTransaction(ctx, summary, report); err != nil {
				if errors.Is(err, store.ErrIndexUnavailable) {
					return err
				}
				// Anything else was already folded into the report.
			}
		}

		if !page.HasMore || page.Cursor == "" {
			return nil
		}
		opts.Cursor = page.Cursor
	}
}

// fetchPage fetches one index page with the configured retry budget.
func (e *Engine) fetchPage(ctx context.Context, opts ledger.ListOptions) (*ledger.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.PageRetries; attempt++ {
		page, err := e.gateway.ListTransactions(ctx, opts)
		if err == nil {
			return page, nil
		}
		lastErr = err
		e.logger.Warn("page fetch failed",
			"attempt", attempt, "max_attempts", e.cfg.PageRetries, "error", err)
		if attempt < e.cfg.PageRetries {
			select {
			case <-time.After(e.cfg.PageRetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// processTransaction fetches, classifies, verifies, and indexes one
// transaction, folding every non-fatal outcome into the report.
func (e *Engine) processTransaction(ctx context.Context, summary ledger.TransactionSummary, report *PassReport) error {
	tx, err := e.gateway.GetTransaction(ctx, summary.ID)
	if err != nil {
		report.FetchFailures++
		e.logger.Warn("transaction fetch failed", "tx_id", summary.ID, "error", err)
		return nil
	}

	e.setState(StateClassifying)
	kind, err := classify(tx.Tags, e.cfg.MinVersion)
	if err != nil {
		report.Skipped++
		e.logger.Debug("transaction skipped", "tx_id", tx.ID, "error", err)
		return nil
	}

	switch kind {
	case kindTemplate:
		err = e.indexTemplate(ctx, tx)
	case kindCreator:
		err = e.indexCreator(ctx, tx)
	case kindRecord:
		err = e.indexRecord(ctx, tx, report)
	}

	switch {
	case err == nil:
		switch kind {
		case kindTemplate:
			report.TemplatesIndexed++
		case kindCreator:
			report.CreatorsIndexed++
		case kindRecord:
			report.RecordsIndexed++
		}
		if tx.BlockHeight > report.HighestIndexed {
			report.HighestIndexed = tx.BlockHeight
		}
		return nil
	case errors.Is(err, ErrUnresolvedDependency):
		report.Deferred++
		e.logger.Debug("transaction deferred", "tx_id", tx.ID, "kind", kind.String(), "error", err)
		return nil
	case errors.Is(err, ErrSignatureInvalid):
		report.Rejected++
		e.logger.Warn("transaction rejected, signature invalid", "tx_id", tx.ID, "kind", kind.String())
		return nil
	case errors.Is(err, ErrParse):
		report.Skipped++
		e.logger.Debug("transaction skipped, malformed", "tx_id", tx.ID, "error", err)
		return nil
	case errors.Is(err, store.ErrIndexUnavailable):
		return err
	default:
		report.Skipped++
		e.logger.Warn("transaction skipped", "tx_id", tx.ID, "error", err)
		return nil
	}
}

// ownerIdentity decodes the transaction's public key and derives the
// ledger address bound to it.
func ownerIdentity(tx *ledger.Transaction) (pub []byte, address string, err error) {
	pub, err = tx.OwnerBytes()
	if err != nil || len(pub) == 0 {
		return nil, "", fmt.Errorf("%w: undecodable owner key", ErrParse)
	}
	return pub, verify.DeriveAddress(pub), nil
}
