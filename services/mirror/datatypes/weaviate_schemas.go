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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Weaviate class names for the three mirror indexes.
const (
	ClassRecord   = "LedgerRecord"
	ClassTemplate = "RecordTemplate"
	ClassCreator  = "CreatorRegistration"
)

// GetLedgerRecordSchema returns the schema for the LedgerRecord class.
//
// The record's decoded data is stored as a JSON blob in the "data"
// property. The query engine operates fetch-then-filter over the full
// set, so only the fields it sorts and pre-filters on are broken out
// into dedicated properties.
func GetLedgerRecordSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassRecord,
		Description: "A record decoded from one or more ledger transactions via templates.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "tx_id",
				DataType:        []string{"text"},
				Description:     "Ledger transaction id. Document key for idempotent upserts.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "identifier",
				DataType:        []string{"text"},
				Description:     "The record's did identifier; target of cross-record references.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "record_type",
				DataType:        []string{"text"},
				Description:     "Application-level type, e.g. 'workout', 'recipe'.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "data",
				DataType:     []string{"text"},
				Description:  "Decoded record data as JSON, keyed by template name.",
				Tokenization: "word",
			},
			{
				Name:            "status",
				DataType:        []string{"text"},
				Description:     "Lifecycle status: original, pending or deleted.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "version",
				DataType:        []string{"int"},
				Description:     "Protocol version the transaction declared.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "block_height",
				DataType:        []string{"int"},
				Description:     "Ledger block height of the source transaction.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "indexed_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the mirror indexed this document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "creator_handle",
				DataType:        []string{"text"},
				Description:     "Disambiguated handle of the publishing creator.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "creator_address",
				DataType:        []string{"text"},
				Description:     "Ledger address of the publishing creator.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "creator_tx_ref",
				DataType:        []string{"text"},
				Description:     "Transaction id of the creator's registration.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "creator_public_key",
				DataType:     []string{"text"},
				Description:  "Public key the record's signature verified against.",
				Tokenization: "field",
			},
			{
				Name:         "signature",
				DataType:     []string{"text"},
				Description:  "Transaction signature, kept for re-verification.",
				Tokenization: "field",
			},
			{
				Name:            "tags",
				DataType:        []string{"text[]"},
				Description:     "User tags carried from the transaction.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "is_tombstone",
				DataType:        []string{"boolean"},
				Description:     "True if this document records a delete request.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "tombstone_target",
				DataType:        []string{"text"},
				Description:     "Identifier of the record a tombstone removed.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// GetRecordTemplateSchema returns the schema for the RecordTemplate class.
func GetRecordTemplateSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassTemplate,
		Description: "A versioned schema mapping field names to ledger slot indices.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "tx_id",
				DataType:        []string{"text"},
				Description:     "Ledger transaction id. Templates are looked up by it.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "name",
				DataType:        []string{"text"},
				Description:     "Template name, e.g. 'workout'.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "creator_address",
				DataType:        []string{"text"},
				Description:     "Address of the declaring creator.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "definition",
				DataType:     []string{"text"},
				Description:  "Field definitions as JSON: name to index/type/enum table.",
				Tokenization: "word",
			},
			{
				Name:            "status",
				DataType:        []string{"text"},
				Description:     "Lifecycle status: original or pending.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "block_height",
				DataType:        []string{"int"},
				Description:     "Ledger block height of the declaring transaction.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "indexed_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the mirror indexed this template.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:         "signature",
				DataType:     []string{"text"},
				Tokenization: "field",
			},
			{
				Name:         "public_key",
				DataType:     []string{"text"},
				Tokenization: "field",
			},
		},
	}
}

// GetCreatorRegistrationSchema returns the schema for the
// CreatorRegistration class.
func GetCreatorRegistrationSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassCreator,
		Description: "A creator identity registered on the ledger.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "tx_id",
				DataType:        []string{"text"},
				Description:     "Ledger transaction id of the registration.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "handle",
				DataType:        []string{"text"},
				Description:     "Disambiguated handle. Unique across the mirror.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "address",
				DataType:        []string{"text"},
				Description:     "Ledger address derived from the public key.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "public_key",
				DataType:     []string{"text"},
				Description:  "Public key all of this creator's signatures verify against.",
				Tokenization: "field",
			},
			{
				Name:            "status",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "block_height",
				DataType:        []string{"int"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "indexed_at",
				DataType:        []string{"number"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:         "signature",
				DataType:     []string{"text"},
				Tokenization: "field",
			},
		},
	}
}

// EnsureMirrorSchema creates the three mirror classes if they do not
// exist yet. Creation is idempotent: a class that already exists is left
// untouched, so startup can run this unconditionally.
func EnsureMirrorSchema(ctx context.Context, client *weaviate.Client) error {
	schemaGetters := []func() *models.Class{
		GetRecordTemplateSchema,
		GetLedgerRecordSchema,
		GetCreatorRegistrationSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// The getter errors when the class is absent; that is the signal
		// to create it.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
				return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
	return nil
}
