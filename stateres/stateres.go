// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stateres

import (
	"fmt"

	"github.com/bureau-foundation/hearth/authrules"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// Fetch looks up a stored event by ID during auth-chain walks. A
// missing event is an error: resolution runs only over fully-backfilled
// graphs, so a gap here is an invariant violation, not a retry signal.
type Fetch func(ref.EventID) (*event.Event, error)

// Resolve merges the state snapshots of diverged branches into one
// authoritative mapping. With zero or one branch there is nothing to
// merge; otherwise contested keys are decided by power-ordered
// re-authorization and agreed keys are reapplied on top.
func Resolve(branches []authrules.Snapshot, fetch Fetch) (authrules.Snapshot, error) {
	switch len(branches) {
	case 0:
		return authrules.Snapshot{}, nil
	case 1:
		return branches[0].Clone(), nil
	}

	unconflicted, conflicted := partition(branches)
	if len(conflicted) == 0 {
		return unconflicted.Clone(), nil
	}

	difference, err := authDifference(branches, conflicted, fetch)
	if err != nil {
		return nil, err
	}
	ordered, err := powerOrder(difference, fetch)
	if err != nil {
		return nil, err
	}

	resolved := authrules.Snapshot{}
	for _, e := range ordered {
		admit(resolved, e, fetch)
	}

	// Agreed keys land last. Their tuples are disjoint from the
	// contested ones, so this fills in rather than overrides; the
	// auth check still applies because the power-resolved state may
	// have changed who is allowed to say what.
	agreed := make([]*event.Event, 0, len(unconflicted))
	for _, e := range unconflicted {
		agreed = append(agreed, e)
	}
	orderedAgreed, err := powerOrder(agreed, fetch)
	if err != nil {
		return nil, err
	}
	for _, e := range orderedAgreed {
		admit(resolved, e, fetch)
	}
	return resolved, nil
}

// partition splits the branches' keys into the snapshot of agreed
// tuples and the per-tuple candidate lists for contested ones. A tuple
// present in some branches but absent in others is contested.
func partition(branches []authrules.Snapshot) (authrules.Snapshot, map[event.StateTuple][]*event.Event) {
	tuples := make(map[event.StateTuple]struct{})
	for _, branch := range branches {
		for tuple := range branch {
			tuples[tuple] = struct{}{}
		}
	}

	unconflicted := authrules.Snapshot{}
	conflicted := make(map[event.StateTuple][]*event.Event)
	for tuple := range tuples {
		var candidates []*event.Event
		agreed := true
		for _, branch := range branches {
			e, present := branch[tuple]
			if !present {
				agreed = false
				continue
			}
			duplicate := false
			for _, c := range candidates {
				if c.ID == e.ID {
					duplicate = true
					break
				}
			}
			if !duplicate {
				candidates = append(candidates, e)
			}
		}
		if agreed && len(candidates) == 1 {
			unconflicted[tuple] = candidates[0]
		} else {
			conflicted[tuple] = candidates
		}
	}
	return unconflicted, conflicted
}

// authDifference collects every event reachable through auth_events
// from any contested candidate (the candidates included), minus the
// events reachable from every branch's candidates alike. What remains
// is the material the branches actually disagree over.
func authDifference(branches []authrules.Snapshot, conflicted map[event.StateTuple][]*event.Event, fetch Fetch) ([]*event.Event, error) {
	union := make(map[ref.EventID]*event.Event)
	perBranch := make([]map[ref.EventID]struct{}, len(branches))

	for i, branch := range branches {
		perBranch[i] = make(map[ref.EventID]struct{})
		for tuple := range conflicted {
			candidate, present := branch[tuple]
			if !present {
				continue
			}
			if err := authChain(candidate, fetch, union, perBranch[i]); err != nil {
				return nil, err
			}
		}
	}

	common := func(id ref.EventID) bool {
		for _, reachable := range perBranch {
			if _, ok := reachable[id]; !ok {
				return false
			}
		}
		return true
	}

	var difference []*event.Event
	for id, e := range union {
		if !common(id) {
			difference = append(difference, e)
		}
	}
	return difference, nil
}

// authChain walks the auth_events closure of e, recording every
// reached event (e itself included) in both accumulators.
func authChain(e *event.Event, fetch Fetch, union map[ref.EventID]*event.Event, reachable map[ref.EventID]struct{}) error {
	if _, done := reachable[e.ID]; done {
		return nil
	}
	reachable[e.ID] = struct{}{}
	union[e.ID] = e
	for _, id := range e.AuthEvents {
		parent, err := fetch(id)
		if err != nil {
			return fmt.Errorf("auth chain of %s: fetching %s: %w", e.ID, id, err)
		}
		if err := authChain(parent, fetch, union, reachable); err != nil {
			return err
		}
	}
	return nil
}

// admit re-authorizes e against the cumulative resolved state and
// installs it on success. Gaps in the cumulative state are filled from
// e's own auth_events for the duration of the check, so an event early
// in the power order is judged by the state it was actually built on.
// A rejected event simply loses; resolution carries no error for it.
func admit(resolved authrules.Snapshot, e *event.Event, fetch Fetch) {
	if e.Type == event.TypeCreate {
		// The root authorizes itself; it only loses if another
		// create already won this tuple.
		if resolved.Get(event.TypeCreate, "") == nil {
			resolved[e.Tuple()] = e
		}
		return
	}

	effective := resolved.Clone()
	for _, id := range e.AuthEvents {
		auth, err := fetch(id)
		if err != nil || !auth.IsState() {
			continue
		}
		if _, occupied := effective[auth.Tuple()]; !occupied {
			effective[auth.Tuple()] = auth
		}
	}
	if authrules.Authorize(e, effective) == nil {
		resolved[e.Tuple()] = e
	}
}
