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
	"fmt"
	"strconv"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
)

// txKind is the classified kind of a ledger transaction.
type txKind int

const (
	kindUnknown txKind = iota
	kindTemplate
	kindCreator
	kindRecord
)

func (k txKind) String() string {
	switch k {
	case kindTemplate:
		return "template"
	case kindCreator:
		return "creator"
	case kindRecord:
		return "record"
	default:
		return "unknown"
	}
}

// classify determines what a transaction carries from its declared
// (Type, Index-Method, Version) tags.
//
// An unknown type or indexing method is a permanent parse failure; a
// version below the configured minimum is a permanent version skip.
// Both dispositions are final — the tags on a confirmed transaction
// never change.
func classify(tags []datatypes.Tag, minVersion int) (txKind, error) {
	method := datatypes.TagValue(tags, datatypes.TagIndexMethod)
	if method != datatypes.IndexMethodOpenIndex {
		return kindUnknown, fmt.Errorf("%w: unknown index method %q", ErrParse, method)
	}

	versionRaw := datatypes.TagValue(tags, datatypes.TagVersion)
	version, err := strconv.Atoi(versionRaw)
	if err != nil {
		return kindUnknown, fmt.Errorf("%w: version tag %q", ErrParse, versionRaw)
	}
	if version < minVersion {
		return kindUnknown, fmt.Errorf("%w: version %d < %d", ErrBelowMinVersion, version, minVersion)
	}

	switch datatypes.TagValue(tags, datatypes.TagType) {
	case datatypes.TypeTemplate:
		return kindTemplate, nil
	case datatypes.TypeCreator:
		return kindCreator, nil
	case datatypes.TypeRecord:
		return kindRecord, nil
	default:
		return kindUnknown, fmt.Errorf("%w: unknown type tag %q", ErrParse, datatypes.TagValue(tags, datatypes.TagType))
	}
}
