// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clientapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/room"
	"github.com/bureau-foundation/hearth/timeline"
)

// clientEvent is the wire shape of an event served to clients.
type clientEvent struct {
	EventID        string          `json:"event_id"`
	RoomID         string          `json:"room_id"`
	Sender         string          `json:"sender"`
	Type           string          `json:"type"`
	StateKey       *string         `json:"state_key,omitempty"`
	Content        json.RawMessage `json:"content"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Redacts        string          `json:"redacts,omitempty"`
}

func toClientEvent(e *event.Event) clientEvent {
	out := clientEvent{
		EventID:        e.ID.String(),
		RoomID:         e.RoomID.String(),
		Sender:         e.Sender.String(),
		Type:           e.Type,
		StateKey:       e.StateKey,
		Content:        e.Content,
		OriginServerTS: e.OriginServerTS,
	}
	if !e.Redacts.IsZero() {
		out.Redacts = e.Redacts.String()
	}
	return out
}

func toClientEvents(events []*event.Event) []clientEvent {
	out := make([]clientEvent, 0, len(events))
	for _, e := range events {
		out = append(out, toClientEvent(e))
	}
	return out
}

// submitLocal composes and submits one local event, returning its ID.
func (a *API) submitLocal(ctx context.Context, roomID ref.RoomID, sender ref.UserID, eventType string, stateKey *string, content any, redacts ref.EventID) (ref.EventID, error) {
	e, err := a.compose(ctx, roomID, sender, eventType, stateKey, content, redacts)
	if err != nil {
		return ref.EventID{}, err
	}
	if _, err := a.rooms.Submit(ctx, e, room.OriginLocal); err != nil {
		return ref.EventID{}, err
	}
	return e.ID, nil
}

type createRoomRequest struct {
	Preset string   `json:"preset,omitempty"`
	Name   string   `json:"name,omitempty"`
	Topic  string   `json:"topic,omitempty"`
	Invite []string `json:"invite,omitempty"`
}

func (a *API) handleCreateRoom(w http.ResponseWriter, r *http.Request, identity Identity) {
	var req createRoomRequest
	if matrixErr := readJSON(r, &req); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}

	presetName := req.Preset
	if presetName == "" {
		presetName = "private_chat"
	}
	preset, ok := a.presets[presetName]
	if !ok {
		writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "unknown preset %q", presetName))
		return
	}

	invitees := make([]ref.UserID, 0, len(req.Invite))
	for _, raw := range req.Invite {
		userID, err := ref.ParseUserID(raw)
		if err != nil {
			writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "invalid invite %q", raw))
			return
		}
		invitees = append(invitees, userID)
	}

	ctx := r.Context()
	creator := identity.UserID
	roomID := ref.MintRoomID(a.keys.ServerName())

	create, err := a.composeCreate(roomID, creator)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := a.rooms.Submit(ctx, create, room.OriginLocal); err != nil {
		writeError(w, err)
		return
	}

	emptyKey := ""
	memberKey := creator.String()
	if _, err := a.submitLocal(ctx, roomID, creator, event.TypeMember, &memberKey,
		event.MemberContent{Membership: event.MembershipJoin}, ref.EventID{}); err != nil {
		writeError(w, err)
		return
	}

	power := event.PowerLevelsContent{}
	if preset.PowerLevels != nil {
		power = *preset.PowerLevels
	}
	users := make(map[string]int64, len(power.Users)+1)
	for userID, level := range power.Users {
		users[userID] = level
	}
	users[creator.String()] = 100
	power.Users = users
	if _, err := a.submitLocal(ctx, roomID, creator, event.TypePowerLevels, &emptyKey, power, ref.EventID{}); err != nil {
		writeError(w, err)
		return
	}

	if _, err := a.submitLocal(ctx, roomID, creator, event.TypeJoinRules, &emptyKey,
		map[string]string{"join_rule": preset.JoinRule}, ref.EventID{}); err != nil {
		writeError(w, err)
		return
	}
	if preset.HistoryVisibility != "" {
		if _, err := a.submitLocal(ctx, roomID, creator, event.TypeHistoryVisibility, &emptyKey,
			map[string]string{"history_visibility": preset.HistoryVisibility}, ref.EventID{}); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Name != "" {
		if _, err := a.submitLocal(ctx, roomID, creator, event.TypeName, &emptyKey,
			map[string]string{"name": req.Name}, ref.EventID{}); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Topic != "" {
		if _, err := a.submitLocal(ctx, roomID, creator, event.TypeTopic, &emptyKey,
			map[string]string{"topic": req.Topic}, ref.EventID{}); err != nil {
			writeError(w, err)
			return
		}
	}
	for _, invitee := range invitees {
		inviteeKey := invitee.String()
		if _, err := a.submitLocal(ctx, roomID, creator, event.TypeMember, &inviteeKey,
			event.MemberContent{Membership: event.MembershipInvite}, ref.EventID{}); err != nil {
			writeError(w, err)
			return
		}
	}

	a.logger.Info("room created", "room_id", roomID.String(), "creator", creator.String(), "preset", presetName)
	writeJSON(w, http.StatusOK, map[string]string{"room_id": roomID.String()})
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	var content json.RawMessage
	if matrixErr := readJSON(r, &content); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}

	eventID, err := a.submitLocal(r.Context(), roomID, identity.UserID, r.PathValue("eventType"), nil, content, ref.EventID{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"event_id": eventID.String()})
}

func (a *API) handleSendState(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	var content json.RawMessage
	if matrixErr := readJSON(r, &content); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}

	stateKey := r.PathValue("stateKey")
	eventID, err := a.submitLocal(r.Context(), roomID, identity.UserID, r.PathValue("eventType"), &stateKey, content, ref.EventID{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"event_id": eventID.String()})
}

// requireMember rejects callers who are not joined to the room. State
// and history reads are scoped to members.
func (a *API) requireMember(ctx context.Context, roomID ref.RoomID, userID ref.UserID) *MatrixError {
	state, err := a.rooms.CurrentState(ctx, roomID)
	if err != nil {
		return mapError(err)
	}
	if len(state) == 0 {
		return Errorf(http.StatusNotFound, CodeNotFound, "room %s not found", roomID)
	}
	member := state.Get(event.TypeMember, userID.String())
	if member == nil {
		return Errorf(http.StatusForbidden, CodeForbidden, "not a member of %s", roomID)
	}
	parsed, err := event.ParseMember(member.Content)
	if err != nil || parsed.Membership != event.MembershipJoin {
		return Errorf(http.StatusForbidden, CodeForbidden, "not a member of %s", roomID)
	}
	return nil
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	if matrixErr := a.requireMember(r.Context(), roomID, identity.UserID); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	state, err := a.rooms.CurrentState(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	events := make([]*event.Event, 0, len(state))
	for _, e := range state {
		events = append(events, e)
	}
	writeJSON(w, http.StatusOK, toClientEvents(events))
}

func (a *API) handleStateEvent(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	if matrixErr := a.requireMember(r.Context(), roomID, identity.UserID); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	state, err := a.rooms.CurrentState(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	e := state.Get(r.PathValue("eventType"), r.PathValue("stateKey"))
	if e == nil {
		writeError(w, Errorf(http.StatusNotFound, CodeNotFound, "state event not found"))
		return
	}
	// The state read serves the content alone, per the client API.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(e.Content)
}

func (a *API) handleEvent(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
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
	e, err := a.store.GetServed(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	if e.RoomID != roomID {
		writeError(w, Errorf(http.StatusNotFound, CodeNotFound, "not found"))
		return
	}
	writeJSON(w, http.StatusOK, toClientEvent(e))
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	if matrixErr := a.requireMember(r.Context(), roomID, identity.UserID); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}

	ctx := r.Context()
	query := r.URL.Query()
	if dir := query.Get("dir"); dir != "" && dir != "b" {
		writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "only backward pagination is supported"))
		return
	}
	limit := 0
	if rawLimit := query.Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "invalid limit"))
			return
		}
		limit = parsed
	}

	var token timeline.Token
	if from := query.Get("from"); from != "" {
		decoded, err := timeline.DecodeToken(from)
		if err != nil {
			writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "invalid pagination token"))
			return
		}
		token = decoded
	} else {
		end, err := a.timeline.End(ctx, roomID)
		if err != nil {
			writeError(w, err)
			return
		}
		token = end
	}

	page, err := a.timeline.PageBefore(ctx, roomID, token, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	// Matrix serves backward pages newest-first.
	chunk := make([]clientEvent, 0, len(page.Entries))
	for i := len(page.Entries) - 1; i >= 0; i-- {
		chunk = append(chunk, toClientEvent(page.Entries[i].Event))
	}
	response := map[string]any{"chunk": chunk}
	if !page.AtStart {
		next, err := page.Next.Encode()
		if err != nil {
			writeError(w, err)
			return
		}
		response["end"] = next
	}
	writeJSON(w, http.StatusOK, response)
}

// membershipRequest is the body of invite/join/leave calls. Join and
// leave ignore UserID; the caller acts on themselves.
type membershipRequest struct {
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	var req membershipRequest
	if matrixErr := readJSON(r, &req); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	target, err := ref.ParseUserID(req.UserID)
	if err != nil {
		writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "invalid user_id"))
		return
	}
	a.membership(w, r, roomID, identity.UserID, target, event.MembershipInvite, req.Reason)
}

func (a *API) handleJoin(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	a.membership(w, r, roomID, identity.UserID, identity.UserID, event.MembershipJoin, "")
}

func (a *API) handleLeave(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	a.membership(w, r, roomID, identity.UserID, identity.UserID, event.MembershipLeave, "")
}

func (a *API) membership(w http.ResponseWriter, r *http.Request, roomID ref.RoomID, sender, target ref.UserID, membership, reason string) {
	targetKey := target.String()
	eventID, err := a.submitLocal(r.Context(), roomID, sender, event.TypeMember, &targetKey,
		event.MemberContent{Membership: membership, Reason: reason}, ref.EventID{})
	if err != nil {
		writeError(w, err)
		return
	}
	response := map[string]string{"event_id": eventID.String()}
	if membership == event.MembershipJoin {
		response["room_id"] = roomID.String()
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) handleRedact(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	target, err := ref.ParseEventID(r.PathValue("eventID"))
	if err != nil {
		writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "invalid event ID"))
		return
	}
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if matrixErr := readJSON(r, &req); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}

	content := map[string]string{}
	if req.Reason != "" {
		content["reason"] = req.Reason
	}
	eventID, err := a.submitLocal(r.Context(), roomID, identity.UserID, event.TypeRedaction, nil, content, target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"event_id": eventID.String()})
}
