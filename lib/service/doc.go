// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP serving lifecycle for the hearth
// binary's listeners. [HTTPServer] binds a TCP listener, signals
// readiness, serves until its context is cancelled, and drains
// in-flight requests on shutdown. Routing and request handling belong
// to the caller; this package owns only the listener lifecycle.
package service
