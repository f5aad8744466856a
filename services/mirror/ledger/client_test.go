// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		BaseURL:           srv.URL,
		RetryAttempts:     3,
		RetryBackoff:      time.Millisecond,
		RequestsPerSecond: 1000,
		Burst:             1000,
	})
	require.NoError(t, err)
	return client
}

// TestListTransactions posts the filter and decodes the page.
func TestListTransactions(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tx/search", r.URL.Path)

		var opts ListOptions
		require.NoError(t, json.NewDecoder(r.Body).Decode(&opts))
		assert.Equal(t, int64(42), opts.MinBlock)
		assert.Equal(t, "OpenIndex", opts.Tags["App-Name"])

		json.NewEncoder(w).Encode(Page{
			Transactions: []TransactionSummary{{ID: "tx1", BlockHeight: 42}},
			Cursor:       "c1",
			HasMore:      true,
		})
	}))

	page, err := client.ListTransactions(context.Background(), ListOptions{
		Tags:     map[string]string{"App-Name": "OpenIndex"},
		MinBlock: 42,
	})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "tx1", page.Transactions[0].ID)
	assert.Equal(t, "c1", page.Cursor)
	assert.True(t, page.HasMore)
}

// TestGetTransaction decodes content, tags and base64url fields.
func TestGetTransaction(t *testing.T) {
	owner := base64.RawURLEncoding.EncodeToString([]byte("pubkey"))
	data := base64.RawURLEncoding.EncodeToString([]byte(`{"0":"Soup"}`))

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tx/tx1", r.URL.Path)
		json.NewEncoder(w).Encode(Transaction{
			ID: "tx1", BlockHeight: 7, Owner: owner, Data: data,
			Tags: []datatypes.Tag{{Name: "Type", Value: "record"}},
		})
	}))

	tx, err := client.GetTransaction(context.Background(), "tx1")
	require.NoError(t, err)

	ownerBytes, err := tx.OwnerBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("pubkey"), ownerBytes)

	dataBytes, err := tx.DataBytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"0":"Soup"}`, string(dataBytes))

	assert.Equal(t, "record", datatypes.TagValue(tx.Tags, "Type"))
}

// TestBlockHeight fetches the height endpoint.
func TestBlockHeight(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tx/tx1/height", r.URL.Path)
		w.Write([]byte(`{"height":99}`))
	}))

	height, err := client.BlockHeight(context.Background(), "tx1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), height)
}

// TestDo_NotFoundIsTerminal does not retry a 404.
func TestDo_NotFoundIsTerminal(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetTransaction(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

// TestDo_BadRequestIsTerminal does not retry a 400.
func TestDo_BadRequestIsTerminal(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := client.GetTransaction(context.Background(), "tx1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

// TestDo_RetriesServerErrors retries 5xx until success.
func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"height":5}`))
	}))

	height, err := client.BlockHeight(context.Background(), "tx1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), height)
	assert.Equal(t, int32(3), calls.Load())
}

// TestDo_ExhaustedRetries surfaces ErrGatewayUnavailable.
func TestDo_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.BlockHeight(context.Background(), "tx1")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

// TestDo_RetriesThrottling treats 429 as retryable.
func TestDo_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"height":5}`))
	}))

	_, err := client.BlockHeight(context.Background(), "tx1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// TestNewClient_Validation rejects a missing base URL.
func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}
