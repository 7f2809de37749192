// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/room"
)

// Transport is the remote side of the exchange. Implementations speak
// whatever wire protocol the deployment uses; the exchange only
// depends on these two calls.
type Transport interface {
	// Backfill fetches the identified events from a server that
	// claims to hold them. Implementations may return a subset.
	Backfill(ctx context.Context, roomID ref.RoomID, ids []ref.EventID) ([]*event.Event, error)

	// SendPDU delivers one event to a remote server.
	SendPDU(ctx context.Context, destination ref.ServerName, e *event.Event) error
}

// Config carries the dependencies of an Exchange.
type Config struct {
	// Rooms is the admission pipeline. Required.
	Rooms *room.Manager

	// Store records gap markers and answers state reads. Required.
	Store *eventstore.Store

	// Transport reaches remote servers. Required.
	Transport Transport

	// LocalServer is this server's name; relays skip it. Required.
	LocalServer ref.ServerName

	// MaxAttempts bounds backfill rounds per received event and
	// delivery retries per outbound event. Zero means 3.
	MaxAttempts int

	// Backoff is the base delay between attempts, doubled each
	// round. Zero means 500ms.
	Backoff time.Duration

	// Clock drives backoff waits. If nil, wall time.
	Clock clock.Clock

	// Logger receives exchange logging. If nil, logging is
	// discarded.
	Logger *slog.Logger
}

// Exchange wires remote servers to the local admission pipeline.
type Exchange struct {
	rooms       *room.Manager
	store       *eventstore.Store
	transport   Transport
	localServer ref.ServerName
	maxAttempts int
	backoff     time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// New creates an Exchange.
func New(cfg Config) (*Exchange, error) {
	if cfg.Rooms == nil {
		return nil, fmt.Errorf("federation: Rooms is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("federation: Store is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("federation: Transport is required")
	}
	if cfg.LocalServer.IsZero() {
		return nil, fmt.Errorf("federation: LocalServer is required")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exchange{
		rooms:       cfg.Rooms,
		store:       cfg.Store,
		transport:   cfg.Transport,
		localServer: cfg.LocalServer,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		clock:       clk,
		logger:      logger,
	}, nil
}

// ReceivePDU admits a remote event, backfilling referenced history as
// needed. The result contract matches room.Manager.Submit with
// federation origin. When backfill cannot close a gap within the
// attempt budget, the missing IDs become persistent gap markers and
// the last GapError is returned.
func (x *Exchange) ReceivePDU(ctx context.Context, e *event.Event) (room.SubmitResult, error) {
	var lastGap *room.GapError
	delay := x.backoff
	for attempt := 0; attempt < x.maxAttempts; attempt++ {
		result, err := x.rooms.Submit(ctx, e, room.OriginFederation)
		var gap *room.GapError
		if !errors.As(err, &gap) {
			return result, err
		}
		lastGap = gap
		if err := x.backfill(ctx, gap); err != nil {
			x.logger.Warn("backfill round failed",
				"room", gap.RoomID.String(),
				"missing", len(gap.Missing),
				"attempt", attempt+1,
				"error", err,
			)
			// Back off only after a failed round; a successful fetch
			// means the next submission will likely go through.
			if attempt < x.maxAttempts-1 {
				select {
				case <-x.clock.After(delay):
				case <-ctx.Done():
					return room.SubmitResult{}, ctx.Err()
				}
				delay *= 2
			}
		}
	}

	if err := x.store.MarkGaps(ctx, lastGap.RoomID, lastGap.Missing, x.clock.Now().UnixMilli()); err != nil {
		return room.SubmitResult{}, fmt.Errorf("federation: recording gap: %w", err)
	}
	x.logger.Warn("gap persisted after exhausting backfill",
		"room", lastGap.RoomID.String(),
		"missing", len(lastGap.Missing),
	)
	return room.SubmitResult{}, lastGap
}

// backfill fetches the gap's missing events and admits them
// oldest-first so later fetches find their parents in place.
func (x *Exchange) backfill(ctx context.Context, gap *room.GapError) error {
	fetched, err := x.transport.Backfill(ctx, gap.RoomID, gap.Missing)
	if err != nil {
		return fmt.Errorf("federation: backfill %s: %w", gap.RoomID, err)
	}
	if len(fetched) == 0 {
		return fmt.Errorf("federation: backfill %s: remote returned nothing", gap.RoomID)
	}
	sort.Slice(fetched, func(i, j int) bool { return fetched[i].Depth < fetched[j].Depth })
	for _, ancestor := range fetched {
		if _, err := x.rooms.Submit(ctx, ancestor, room.OriginFederation); err != nil {
			var nested *room.GapError
			if errors.As(err, &nested) {
				// The remote's answer had holes of its own; the next
				// ReceivePDU round widens the request.
				continue
			}
			return fmt.Errorf("federation: admitting backfilled %s: %w", ancestor.ID, err)
		}
	}
	return nil
}

// Relay forwards the subscription's committed events to the remote
// servers present in the room, until the context is cancelled or the
// subscription closes. The caller owns the subscription; subscribing
// before the first local submission guarantees nothing is missed.
func (x *Exchange) Relay(ctx context.Context, roomID ref.RoomID, sub *room.Subscription) error {
	defer sub.Close()

	for {
		n, err := sub.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		destinations, err := x.remoteServers(ctx, roomID)
		if err != nil {
			return err
		}
		for _, destination := range destinations {
			x.deliver(ctx, destination, n.Event)
		}
	}
}

// remoteServers lists every server other than ours with a joined user
// in the room.
func (x *Exchange) remoteServers(ctx context.Context, roomID ref.RoomID) ([]ref.ServerName, error) {
	state, err := x.rooms.CurrentState(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("federation: %w", err)
	}
	seen := make(map[ref.ServerName]struct{})
	var servers []ref.ServerName
	for tuple, e := range state {
		if tuple.Type != event.TypeMember {
			continue
		}
		content, err := event.ParseMember(e.Content)
		if err != nil || content.Membership != event.MembershipJoin {
			continue
		}
		member, err := ref.ParseUserID(tuple.StateKey)
		if err != nil {
			continue
		}
		server := member.Server()
		if server == x.localServer {
			continue
		}
		if _, ok := seen[server]; !ok {
			seen[server] = struct{}{}
			servers = append(servers, server)
		}
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].String() < servers[j].String() })
	return servers, nil
}

// deliver sends one event to one server, retrying with backoff.
// Failures after the last attempt are logged, never dropped silently.
func (x *Exchange) deliver(ctx context.Context, destination ref.ServerName, e *event.Event) {
	delay := x.backoff
	for attempt := 0; attempt < x.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-x.clock.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
		}
		err := x.transport.SendPDU(ctx, destination, e)
		if err == nil {
			return
		}
		if attempt == x.maxAttempts-1 {
			x.logger.Error("event delivery failed",
				"destination", destination.String(),
				"event", e.ID.String(),
				"error", err,
			)
		}
	}
}
