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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert
// Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags
// matching the expected response shape.
//
// # Limitations
//
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Query Response Shapes
// =============================================================================

// RecordQueryResponse is the response shape for Get queries against the
// LedgerRecord class.
type RecordQueryResponse struct {
	Get struct {
		LedgerRecord []RecordResult `json:"LedgerRecord"`
	} `json:"Get"`
}

// RecordResult is one LedgerRecord object as returned by GraphQL.
type RecordResult struct {
	TxID             string   `json:"tx_id"`
	Identifier       string   `json:"identifier"`
	RecordType       string   `json:"record_type"`
	Data             string   `json:"data"`
	Status           string   `json:"status"`
	Version          int      `json:"version"`
	BlockHeight      int64    `json:"block_height"`
	IndexedAt        int64    `json:"indexed_at"`
	CreatorHandle    string   `json:"creator_handle"`
	CreatorAddress   string   `json:"creator_address"`
	CreatorTxRef     string   `json:"creator_tx_ref"`
	CreatorPublicKey string   `json:"creator_public_key"`
	Signature        string   `json:"signature"`
	Tags             []string `json:"tags"`
	IsTombstone      bool     `json:"is_tombstone"`
	TombstoneTarget  string   `json:"tombstone_target"`
	Additional       struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ToRecord converts a query result back into the domain type, decoding
// the JSON data blob. A corrupt blob yields an error rather than a
// half-populated record.
func (r *RecordResult) ToRecord() (Record, error) {
	rec := Record{
		TxID:        r.TxID,
		Identifier:  r.Identifier,
		RecordType:  r.RecordType,
		Status:      RecordStatus(r.Status),
		Version:     r.Version,
		BlockHeight: r.BlockHeight,
		IndexedAt:   r.IndexedAt,
		Creator: Creator{
			Handle:    r.CreatorHandle,
			Address:   r.CreatorAddress,
			TxRef:     r.CreatorTxRef,
			PublicKey: r.CreatorPublicKey,
		},
		Signature:       r.Signature,
		Tags:            r.Tags,
		IsTombstone:     r.IsTombstone,
		TombstoneTarget: r.TombstoneTarget,
	}
	if r.Data != "" {
		if err := json.Unmarshal([]byte(r.Data), &rec.Data); err != nil {
			return Record{}, fmt.Errorf("corrupt data blob for tx %s: %w", r.TxID, err)
		}
	}
	return rec, nil
}

// TemplateQueryResponse is the response shape for Get queries against the
// RecordTemplate class.
type TemplateQueryResponse struct {
	Get struct {
		RecordTemplate []TemplateResult `json:"RecordTemplate"`
	} `json:"Get"`
}

// TemplateResult is one RecordTemplate object as returned by GraphQL.
type TemplateResult struct {
	TxID           string `json:"tx_id"`
	Name           string `json:"name"`
	CreatorAddress string `json:"creator_address"`
	Definition     string `json:"definition"`
	Status         string `json:"status"`
	BlockHeight    int64  `json:"block_height"`
	IndexedAt      int64  `json:"indexed_at"`
	Signature      string `json:"signature"`
	PublicKey      string `json:"public_key"`
	Additional     struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ToTemplate converts a query result back into the domain type.
func (r *TemplateResult) ToTemplate() (Template, error) {
	tpl := Template{
		TxID:           r.TxID,
		Name:           r.Name,
		CreatorAddress: r.CreatorAddress,
		Status:         RecordStatus(r.Status),
		BlockHeight:    r.BlockHeight,
		IndexedAt:      r.IndexedAt,
		Signature:      r.Signature,
		PublicKey:      r.PublicKey,
	}
	if r.Definition != "" {
		if err := json.Unmarshal([]byte(r.Definition), &tpl.Fields); err != nil {
			return Template{}, fmt.Errorf("corrupt definition blob for tx %s: %w", r.TxID, err)
		}
	}
	return tpl, nil
}

// CreatorQueryResponse is the response shape for Get queries against the
// CreatorRegistration class.
type CreatorQueryResponse struct {
	Get struct {
		CreatorRegistration []CreatorResult `json:"CreatorRegistration"`
	} `json:"Get"`
}

// CreatorResult is one CreatorRegistration object as returned by GraphQL.
type CreatorResult struct {
	TxID        string `json:"tx_id"`
	Handle      string `json:"handle"`
	Address     string `json:"address"`
	PublicKey   string `json:"public_key"`
	Status      string `json:"status"`
	BlockHeight int64  `json:"block_height"`
	IndexedAt   int64  `json:"indexed_at"`
	Signature   string `json:"signature"`
	Additional  struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ToCreator converts a query result into the domain Creator.
func (r *CreatorResult) ToCreator() Creator {
	return Creator{
		Handle:    r.Handle,
		Address:   r.Address,
		TxRef:     r.TxID,
		PublicKey: r.PublicKey,
	}
}

// =============================================================================
// Property Maps (domain type -> Weaviate upsert payload)
// =============================================================================

// RecordProperties converts a Record to the map format required by the
// Weaviate client's WithProperties method. Data is serialized to JSON;
// an empty map serializes to "{}" so the blob round-trips.
func RecordProperties(rec *Record) (map[string]interface{}, error) {
	data := rec.Data
	if data == nil {
		data = map[string]map[string]any{}
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record data for tx %s: %w", rec.TxID, err)
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]interface{}{
		"tx_id":              rec.TxID,
		"identifier":         rec.Identifier,
		"record_type":        rec.RecordType,
		"data":               string(blob),
		"status":             string(rec.Status),
		"version":            rec.Version,
		"block_height":       rec.BlockHeight,
		"indexed_at":         rec.IndexedAt,
		"creator_handle":     rec.Creator.Handle,
		"creator_address":    rec.Creator.Address,
		"creator_tx_ref":     rec.Creator.TxRef,
		"creator_public_key": rec.Creator.PublicKey,
		"signature":          rec.Signature,
		"tags":               tags,
		"is_tombstone":       rec.IsTombstone,
		"tombstone_target":   rec.TombstoneTarget,
	}, nil
}

// TemplateProperties converts a Template to a Weaviate property map.
func TemplateProperties(tpl *Template) (map[string]interface{}, error) {
	fields := tpl.Fields
	if fields == nil {
		fields = map[string]TemplateField{}
	}
	blob, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize template definition for tx %s: %w", tpl.TxID, err)
	}
	return map[string]interface{}{
		"tx_id":           tpl.TxID,
		"name":            tpl.Name,
		"creator_address": tpl.CreatorAddress,
		"definition":      string(blob),
		"status":          string(tpl.Status),
		"block_height":    tpl.BlockHeight,
		"indexed_at":      tpl.IndexedAt,
		"signature":       tpl.Signature,
		"public_key":      tpl.PublicKey,
	}, nil
}

// CreatorProperties converts a creator registration to a Weaviate
// property map.
func CreatorProperties(c *Creator, status RecordStatus, blockHeight, indexedAt int64, signature string) map[string]interface{} {
	return map[string]interface{}{
		"tx_id":        c.TxRef,
		"handle":       c.Handle,
		"address":      c.Address,
		"public_key":   c.PublicKey,
		"status":       string(status),
		"block_height": blockHeight,
		"indexed_at":   indexedAt,
		"signature":    signature,
	}
}
