// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clientapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/syncer"
)

// syncRoomResponse is one room's section of a sync response body.
type syncRoomResponse struct {
	Timeline struct {
		Events []clientEvent `json:"events"`
	} `json:"timeline"`
	State struct {
		Events []clientEvent `json:"events"`
	} `json:"state"`
	Ephemeral struct {
		Events []syncer.Payload `json:"events"`
	} `json:"ephemeral"`
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request, identity Identity) {
	query := r.URL.Query()

	timeout := time.Duration(0)
	if rawTimeout := query.Get("timeout"); rawTimeout != "" {
		ms, err := strconv.Atoi(rawTimeout)
		if err != nil || ms < 0 {
			writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "invalid timeout"))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	response, err := a.sync.Sync(r.Context(), syncer.Request{
		DeviceID: identity.DeviceID,
		UserID:   identity.UserID,
		Since:    query.Get("since"),
		Timeout:  timeout,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	joined := make(map[string]syncRoomResponse, len(response.Rooms))
	for roomID, delta := range response.Rooms {
		var section syncRoomResponse
		section.Timeline.Events = toClientEvents(delta.Timeline)
		section.State.Events = toClientEvents(delta.StateDelta)
		section.Ephemeral.Events = delta.Ephemeral
		if section.Ephemeral.Events == nil {
			section.Ephemeral.Events = []syncer.Payload{}
		}
		joined[roomID.String()] = section
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"next_batch": response.NextSince,
		"rooms":      map[string]any{"join": joined},
	})
}

func (a *API) handleTyping(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	// A client can only publish its own typing state.
	if r.PathValue("userID") != identity.UserID.String() {
		writeError(w, Errorf(http.StatusForbidden, CodeForbidden, "cannot set typing for another user"))
		return
	}
	if matrixErr := a.requireMember(r.Context(), roomID, identity.UserID); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}

	var req struct {
		Typing  bool  `json:"typing"`
		Timeout int64 `json:"timeout,omitempty"`
	}
	if matrixErr := readJSON(r, &req); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}

	duration := time.Duration(0)
	if req.Typing {
		duration = 30 * time.Second
		if req.Timeout > 0 {
			duration = time.Duration(req.Timeout) * time.Millisecond
		}
	}
	a.sync.Ephemeral().SetTyping(roomID, identity.UserID, duration)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	if r.PathValue("receiptType") != "m.read" {
		writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "unsupported receipt type"))
		return
	}
	if matrixErr := a.requireMember(r.Context(), roomID, identity.UserID); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	eventID, err := ref.ParseEventID(r.PathValue("eventID"))
	if err != nil {
		writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "invalid event ID"))
		return
	}
	// The receipt must name an event in this room.
	e, err := a.store.Get(r.Context(), eventID)
	if err != nil || e.RoomID != roomID {
		writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "receipt target is not in %s", roomID))
		return
	}

	a.sync.Ephemeral().SetReceipt(roomID, identity.UserID, eventID)
	writeJSON(w, http.StatusOK, struct{}{})
}
