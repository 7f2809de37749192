// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clientapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/federation"
	"github.com/bureau-foundation/hearth/keyring"
	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/config"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/mediastore"
	"github.com/bureau-foundation/hearth/room"
	"github.com/bureau-foundation/hearth/syncer"
	"github.com/bureau-foundation/hearth/timeline"
)

// Config holds the collaborators the API serves.
type Config struct {
	// Store is the event store. Required.
	Store *eventstore.Store

	// Rooms is the room manager. Required.
	Rooms *room.Manager

	// Sync is the long-poll sync engine. Required.
	Sync *syncer.Syncer

	// Timeline serves backward pagination. Required.
	Timeline *timeline.Builder

	// Keys signs locally created events. Required.
	Keys *keyring.Keyring

	// Tokens validates access tokens. Required.
	Tokens TokenValidator

	// Media is the media store. Optional; without it the media
	// endpoints serve 404.
	Media *mediastore.Store

	// Exchange handles inbound federation. Optional; without it the
	// federation endpoints serve 404.
	Exchange *federation.Exchange

	// Presets are the room creation presets, keyed by name. Optional;
	// empty means only explicit initial state.
	Presets map[string]config.Preset

	// MaxUploadBytes caps a media upload. Defaults to 50 MiB.
	MaxUploadBytes int64

	// Clock stamps locally created events. If nil, wall time.
	Clock clock.Clock

	// Logger receives request logging. If nil, logging is discarded.
	Logger *slog.Logger
}

// API is the HTTP surface: the Matrix client endpoints backed by the
// room manager, sync engine, and stores, plus the inbound federation
// endpoints backed by the exchange.
type API struct {
	store    *eventstore.Store
	rooms    *room.Manager
	sync     *syncer.Syncer
	timeline *timeline.Builder
	keys     *keyring.Keyring
	tokens   TokenValidator
	media    *mediastore.Store
	exchange *federation.Exchange
	presets  map[string]config.Preset

	maxUploadBytes int64
	clock          clock.Clock
	logger         *slog.Logger
}

// New validates the configuration and builds the API.
func New(cfg Config) (*API, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("clientapi: Store is required")
	}
	if cfg.Rooms == nil {
		return nil, fmt.Errorf("clientapi: Rooms is required")
	}
	if cfg.Sync == nil {
		return nil, fmt.Errorf("clientapi: Sync is required")
	}
	if cfg.Timeline == nil {
		return nil, fmt.Errorf("clientapi: Timeline is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("clientapi: Keys is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("clientapi: Tokens is required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &API{
		store:          cfg.Store,
		rooms:          cfg.Rooms,
		sync:           cfg.Sync,
		timeline:       cfg.Timeline,
		keys:           cfg.Keys,
		tokens:         cfg.Tokens,
		media:          cfg.Media,
		exchange:       cfg.Exchange,
		presets:        cfg.Presets,
		maxUploadBytes: maxUpload,
		clock:          clk,
		logger:         logger,
	}, nil
}

// Handler returns the API's routing table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	// Client API.
	mux.HandleFunc("POST /_matrix/client/v3/createRoom", a.authed(a.handleCreateRoom))
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{roomID}/send/{eventType}/{txnID}", a.authed(a.handleSend))
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{roomID}/state/{eventType}", a.authed(a.handleSendState))
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{roomID}/state/{eventType}/{stateKey}", a.authed(a.handleSendState))
	mux.HandleFunc("GET /_matrix/client/v3/rooms/{roomID}/state", a.authed(a.handleState))
	mux.HandleFunc("GET /_matrix/client/v3/rooms/{roomID}/state/{eventType}", a.authed(a.handleStateEvent))
	mux.HandleFunc("GET /_matrix/client/v3/rooms/{roomID}/state/{eventType}/{stateKey}", a.authed(a.handleStateEvent))
	mux.HandleFunc("GET /_matrix/client/v3/rooms/{roomID}/event/{eventID}", a.authed(a.handleEvent))
	mux.HandleFunc("GET /_matrix/client/v3/rooms/{roomID}/messages", a.authed(a.handleMessages))
	mux.HandleFunc("POST /_matrix/client/v3/rooms/{roomID}/invite", a.authed(a.handleInvite))
	mux.HandleFunc("POST /_matrix/client/v3/rooms/{roomID}/join", a.authed(a.handleJoin))
	mux.HandleFunc("POST /_matrix/client/v3/rooms/{roomID}/leave", a.authed(a.handleLeave))
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{roomID}/redact/{eventID}/{txnID}", a.authed(a.handleRedact))
	mux.HandleFunc("GET /_matrix/client/v3/sync", a.authed(a.handleSync))
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{roomID}/typing/{userID}", a.authed(a.handleTyping))
	mux.HandleFunc("POST /_matrix/client/v3/rooms/{roomID}/receipt/{receiptType}/{eventID}", a.authed(a.handleReceipt))

	// Media API.
	mux.HandleFunc("POST /_matrix/media/v3/upload", a.authed(a.handleUpload))
	mux.HandleFunc("GET /_matrix/media/v3/download/{serverName}/{mediaID}", a.authed(a.handleDownload))

	// Federation API. Unauthenticated here; transport-level
	// authentication is the deployment's concern.
	mux.HandleFunc("PUT /_matrix/federation/v1/send/{txnID}", a.handleFederationSend)
	mux.HandleFunc("GET /_matrix/federation/v1/backfill/{roomID}", a.handleFederationBackfill)
	mux.HandleFunc("GET /_matrix/key/v2/server", a.handleServerKey)

	return mux
}

// authedHandler is a handler that runs with a resolved caller
// identity.
type authedHandler func(w http.ResponseWriter, r *http.Request, identity Identity)

// authed wraps a handler with bearer token authentication.
func (a *API) authed(handler authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, matrixErr := a.authenticate(r)
		if matrixErr != nil {
			writeJSON(w, matrixErr.Status, matrixErr)
			return
		}
		handler(w, r, identity)
	}
}

// pathRoomID parses the {roomID} path value.
func pathRoomID(r *http.Request) (ref.RoomID, *MatrixError) {
	roomID, err := ref.ParseRoomID(r.PathValue("roomID"))
	if err != nil {
		return ref.RoomID{}, Errorf(http.StatusBadRequest, CodeInvalidParam, "invalid room ID")
	}
	return roomID, nil
}
