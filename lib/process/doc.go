// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the hearth
// binary: fatal error reporting to stderr for errors surfaced before
// the structured logger is initialized, and process exit after an
// unrecoverable error in main().
package process
