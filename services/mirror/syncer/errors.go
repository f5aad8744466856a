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

import "errors"

// The error taxonomy of the sync pipeline. Each class has exactly one
// disposition, applied uniformly in RunPass:
//
//   - ErrParse: malformed payload. Skip permanently; the bytes will
//     never parse differently.
//   - ErrUnresolvedDependency: a template or creator the transaction
//     needs is not indexed yet. Skip now, retry on a later pass; the
//     ledger does not guarantee arrival order.
//   - ErrSignatureInvalid: terminal. Never indexed, never retried.
//   - ErrBelowMinVersion: the transaction predates the supported
//     protocol version. Skip permanently.
//   - ErrSyncInProgress: another pass holds the busy flag.
var (
	ErrParse                = errors.New("malformed transaction payload")
	ErrUnresolvedDependency = errors.New("dependency not yet indexed")
	ErrSignatureInvalid     = errors.New("signature verification failed")
	ErrBelowMinVersion      = errors.New("transaction below minimum protocol version")
	ErrSyncInProgress       = errors.New("a sync pass is already running")
)
