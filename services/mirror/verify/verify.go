// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify implements the signature verification gate the syncer
// applies identically to templates, creator registrations, and records.
//
// Verification binds three things together: the message bytes, the
// signature, and the claimed ledger address. The address must be
// derivable from the public key (base64url of its SHA-256 digest), so a
// valid signature under someone else's key can never be indexed under
// the claimed identity.
//
// Signature failure is terminal by design: an invalid or missing
// signature is never indexed and never retried.
package verify

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"strings"
)

// Verifier is the collaborator interface the syncer depends on.
//
// Verify reports whether signature is a valid signature of message
// under publicKey, and whether claimedAddress is bound to that key. It
// never errors: any malformed input is simply an invalid signature.
type Verifier interface {
	Verify(message, signature, publicKey []byte, claimedAddress string) bool
}

// LedgerVerifier verifies ledger signatures.
//
// Two key families are supported, distinguished by key length:
//
//   - 32 bytes: Ed25519 public key.
//   - longer: RSA public key modulus (exponent 65537), verified with
//     RSA-PSS over SHA-256, the scheme block-ledger publishers use.
//
// # Thread Safety
//
// LedgerVerifier is stateless and safe for concurrent use.
type LedgerVerifier struct{}

// New creates a LedgerVerifier.
func New() *LedgerVerifier {
	return &LedgerVerifier{}
}

// Verify implements Verifier.
func (v *LedgerVerifier) Verify(message, signature, publicKey []byte, claimedAddress string) bool {
	if len(message) == 0 || len(signature) == 0 || len(publicKey) == 0 {
		return false
	}
	if !AddressMatchesKey(claimedAddress, publicKey) {
		return false
	}

	if len(publicKey) == ed25519.PublicKeySize {
		return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
	}

	pub := &rsa.PublicKey{N: new(big.Int).SetBytes(publicKey), E: 65537}
	digest := sha256.Sum256(message)
	err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	return err == nil
}

// DeriveAddress computes the ledger address bound to a public key:
// base64url (unpadded) of the key's SHA-256 digest.
func DeriveAddress(publicKey []byte) string {
	digest := sha256.Sum256(publicKey)
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// AddressMatchesKey reports whether the claimed address (bare, or the
// final segment of a did identifier) is derived from publicKey.
func AddressMatchesKey(claimed string, publicKey []byte) bool {
	if claimed == "" {
		return false
	}
	// Accept did:<network>:<address> or a bare address.
	if idx := strings.LastIndex(claimed, ":"); idx >= 0 {
		claimed = claimed[idx+1:]
	}
	return claimed == DeriveAddress(publicKey)
}
