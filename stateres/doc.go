// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stateres merges the state of diverged room branches into one
// authoritative mapping.
//
// When a room's forward extremities disagree about the event occupying
// some (type, state_key) pair, Resolve decides the winner. Keys all
// branches agree on are copied through. For contested keys, the auth
// difference — everything reachable through auth_events from any
// contested candidate, minus what every branch shares — is replayed in
// power order (higher-powered senders first) against a cumulative
// state, and each event survives only if the auth rules still admit it
// at its turn. The agreed keys are applied on top at the end, again
// subject to the rules.
//
// The output is a pure function of the input event set. Two servers
// holding the same events resolve to the same mapping no matter which
// order the events arrived in, which is the property cross-server
// convergence rests on. Resolution reads the graph but never writes
// it: losing an argument about current state does not remove an event
// from history.
package stateres
