// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for hearth packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only places the test suite touches the real wall clock; all
// other time-dependent behavior goes through lib/clock fakes.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation: transaction IDs, device IDs, message bodies that
// must be distinguishable within one shared room.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no hearth-internal dependencies.
package testutil
