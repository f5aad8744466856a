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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/LedgerMirror/services/mirror/codec"
	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
	"github.com/AleutianAI/LedgerMirror/services/mirror/ledger"
	"github.com/AleutianAI/LedgerMirror/services/mirror/registry"
	"github.com/AleutianAI/LedgerMirror/services/mirror/store"
)

// signingMessage builds the canonical byte string a transaction's
// signature covers: sorted "name:value" tag lines followed by the raw
// payload. Identical for templates, creator registrations and records.
func signingMessage(tags []datatypes.Tag, data []byte) []byte {
	lines := make([]string, 0, len(tags))
	for _, t := range tags {
		lines = append(lines, t.Name+":"+t.Value)
	}
	sort.Strings(lines)

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return append([]byte(b.String()), data...)
}

// verifyTransaction applies the signature gate. Failure is terminal.
func (e *Engine) verifyTransaction(tx *ledger.Transaction, pub []byte, address string, data []byte) error {
	e.setState(StateVerifying)
	sig, err := tx.SignatureBytes()
	if err != nil || len(sig) == 0 {
		return fmt.Errorf("%w: missing or undecodable signature", ErrSignatureInvalid)
	}
	if !e.verifier.Verify(signingMessage(tx.Tags, data), sig, pub, address) {
		return ErrSignatureInvalid
	}
	return nil
}

// =============================================================================
// Templates
// =============================================================================

// indexTemplate validates, verifies and upserts a template declaration,
// then registers it for the translator.
//
// The declaring creator must already be indexed; a template arriving
// before its creator is deferred to a later pass.
func (e *Engine) indexTemplate(ctx context.Context, tx *ledger.Transaction) error {
	data, err := tx.DataBytes()
	if err != nil {
		return fmt.Errorf("%w: undecodable payload", ErrParse)
	}
	def, err := registry.ParseDefinition(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	pub, address, err := ownerIdentity(tx)
	if err != nil {
		return err
	}
	if _, err := e.index.CreatorByAddress(ctx, address); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: declaring creator %s", ErrUnresolvedDependency, address)
		}
		return err
	}

	if err := e.verifyTransaction(tx, pub, address, data); err != nil {
		return err
	}

	tpl := datatypes.Template{
		TxID:           tx.ID,
		Name:           def.Name,
		CreatorAddress: address,
		Fields:         def.Fields,
		Status:         datatypes.StatusOriginal,
		BlockHeight:    tx.BlockHeight,
		IndexedAt:      e.cfg.Clock(),
		Signature:      tx.Signature,
		PublicKey:      tx.Owner,
	}

	e.setState(StateIndexing)
	if err := e.index.UpsertTemplate(ctx, &tpl); err != nil {
		return err
	}
	if err := e.registry.Register(tpl); err != nil {
		// ParseDefinition already vetted the fields, so this only
		// fires on an empty tx id, which cannot happen here.
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	e.registry.Confirm(tx.ID)
	return nil
}

// =============================================================================
// Creators
// =============================================================================

// creatorRegistration is the positional payload of a creator
// transaction: [requestedHandle, displayName?].
type creatorRegistration struct {
	requestedHandle string
}

func parseCreatorRegistration(data []byte) (*creatorRegistration, error) {
	var positional []any
	if err := json.Unmarshal(data, &positional); err != nil {
		return nil, fmt.Errorf("%w: creator payload is not positional: %v", ErrParse, err)
	}
	if len(positional) == 0 {
		return nil, fmt.Errorf("%w: empty creator payload", ErrParse)
	}
	handle, ok := positional[0].(string)
	if !ok || strings.TrimSpace(handle) == "" {
		return nil, fmt.Errorf("%w: requested handle missing", ErrParse)
	}
	return &creatorRegistration{requestedHandle: handle}, nil
}

// indexCreator decodes a creator registration, assigns a unique handle,
// verifies the signature and upserts the registration.
func (e *Engine) indexCreator(ctx context.Context, tx *ledger.Transaction) error {
	data, err := tx.DataBytes()
	if err != nil {
		return fmt.Errorf("%w: undecodable payload", ErrParse)
	}
	reg, err := parseCreatorRegistration(data)
	if err != nil {
		return err
	}

	pub, address, err := ownerIdentity(tx)
	if err != nil {
		return err
	}
	if err := e.verifyTransaction(tx, pub, address, data); err != nil {
		return err
	}

	handle, err := e.assignHandle(ctx, reg.requestedHandle, address)
	if err != nil {
		return err
	}

	creator := datatypes.Creator{
		Handle:    handle,
		Address:   address,
		TxRef:     tx.ID,
		PublicKey: tx.Owner,
	}

	e.setState(StateIndexing)
	return e.index.UpsertCreator(ctx, &creator,
		datatypes.StatusOriginal, tx.BlockHeight, e.cfg.Clock(), tx.Signature)
}

// assignHandle derives a unique handle from the requested name. The
// first sighting wins the bare name; collisions get "-2", "-3", ...
// Re-processing the same address keeps its existing handle, which is
// what makes creator indexing idempotent.
func (e *Engine) assignHandle(ctx context.Context, requested, address string) (string, error) {
	if existing, err := e.index.CreatorByAddress(ctx, address); err == nil {
		return existing.Handle, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	base := sanitizeHandle(requested)
	candidate := base
	for suffix := 2; ; suffix++ {
		taken, err := e.index.HandleTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, suffix)
	}
}

// sanitizeHandle lowercases and strips everything but letters, digits,
// dashes and underscores.
func sanitizeHandle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "creator"
	}
	return b.String()
}

// =============================================================================
// Records & Tombstones
// =============================================================================

// indexRecord decodes a record transaction via the translator, resolves
// its creator, verifies the signature, and upserts it. A payload
// parsing to an object with a "delete" key is handled as a tombstone
// instead.
func (e *Engine) indexRecord(ctx context.Context, tx *ledger.Transaction, report *PassReport) error {
	data, err := tx.DataBytes()
	if err != nil {
		return fmt.Errorf("%w: undecodable payload", ErrParse)
	}

	pub, address, err := ownerIdentity(tx)
	if err != nil {
		return err
	}

	creator, err := e.index.CreatorByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: publishing creator %s", ErrUnresolvedDependency, address)
		}
		return err
	}

	if err := e.verifyTransaction(tx, pub, address, data); err != nil {
		return err
	}

	if tomb, ok := codec.ParseTombstone(data); ok {
		return e.applyTombstone(ctx, tx, creator, tomb, report)
	}

	recordData, err := e.translator.DecodeEntries(data)
	if err != nil {
		if errors.Is(err, codec.ErrUnresolvedTemplate) {
			return fmt.Errorf("%w: %v", ErrUnresolvedDependency, err)
		}
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	version, _ := strconv.Atoi(datatypes.TagValue(tx.Tags, datatypes.TagVersion))
	rec := datatypes.Record{
		Identifier:  datatypes.MakeIdentifier(e.cfg.Network, tx.ID),
		TxID:        tx.ID,
		RecordType:  datatypes.TagValue(tx.Tags, datatypes.TagRecordType),
		Data:        recordData,
		Status:      datatypes.StatusOriginal,
		Version:     version,
		BlockHeight: tx.BlockHeight,
		IndexedAt:   e.cfg.Clock(),
		Creator:     *creator,
		Signature:   tx.Signature,
		Tags:        datatypes.UserTags(tx.Tags),
	}

	e.setState(StateIndexing)
	return e.index.UpsertRecord(ctx, &rec)
}

// applyTombstone handles a delete request. The target is removed only
// when the deleting identity matches its original creator; the
// tombstone itself is indexed either way as an audit trail, and
// re-processing it is idempotent.
func (e *Engine) applyTombstone(ctx context.Context, tx *ledger.Transaction, creator *datatypes.Creator, tomb *codec.Tombstone, report *PassReport) error {
	e.setState(StateIndexing)

	target, err := e.index.RecordByIdentifier(ctx, tomb.Target)
	switch {
	case err == nil && target.Creator.Address == creator.Address:
		if target.Status != datatypes.StatusDeleted {
			if err := e.index.MarkRecordDeleted(ctx, tomb.Target); err != nil {
				return err
			}
			report.TombstonesApplied++
		}
	case err == nil:
		e.logger.Warn("unauthorized delete request ignored",
			"tx_id", tx.ID, "target", tomb.Target,
			"requester", creator.Address, "owner", target.Creator.Address)
	case errors.Is(err, store.ErrNotFound):
		e.logger.Debug("tombstone target not indexed", "tx_id", tx.ID, "target", tomb.Target)
	default:
		return err
	}

	tombRec := datatypes.Record{
		Identifier:      datatypes.MakeIdentifier(e.cfg.Network, tx.ID),
		TxID:            tx.ID,
		RecordType:      "tombstone",
		Data:            map[string]map[string]any{},
		Status:          datatypes.StatusOriginal,
		BlockHeight:     tx.BlockHeight,
		IndexedAt:       e.cfg.Clock(),
		Creator:         *creator,
		Signature:       tx.Signature,
		Tags:            datatypes.UserTags(tx.Tags),
		IsTombstone:     true,
		TombstoneTarget: tomb.Target,
	}
	return e.index.UpsertRecord(ctx, &tombRec)
}
