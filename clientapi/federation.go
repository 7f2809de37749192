// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clientapi

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// federationTxn is the body of an inbound federation send.
type federationTxn struct {
	Origin string         `json:"origin,omitempty"`
	PDUs   []*event.Event `json:"pdus"`
}

// maxTxnPDUs caps the events in one federation transaction, matching
// the Matrix federation limit.
const maxTxnPDUs = 50

func (a *API) handleFederationSend(w http.ResponseWriter, r *http.Request) {
	if a.exchange == nil {
		writeError(w, Errorf(http.StatusNotFound, CodeNotFound, "federation is not enabled"))
		return
	}
	var txn federationTxn
	if matrixErr := readJSON(r, &txn); matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}
	if len(txn.PDUs) > maxTxnPDUs {
		writeError(w, Errorf(http.StatusBadRequest, CodeTooLarge, "transaction carries %d PDUs, maximum is %d", len(txn.PDUs), maxTxnPDUs))
		return
	}

	// Per-PDU results: admission of one event never blocks the rest
	// of the transaction.
	results := make(map[string]map[string]string, len(txn.PDUs))
	for _, pdu := range txn.PDUs {
		if pdu == nil || pdu.ID.IsZero() {
			continue
		}
		if _, err := a.exchange.ReceivePDU(r.Context(), pdu); err != nil {
			a.logger.Warn("federation PDU refused",
				"txn_id", r.PathValue("txnID"),
				"event_id", pdu.ID.String(),
				"error", err)
			results[pdu.ID.String()] = map[string]string{"error": err.Error()}
			continue
		}
		results[pdu.ID.String()] = map[string]string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pdus": results})
}

func (a *API) handleFederationBackfill(w http.ResponseWriter, r *http.Request) {
	if a.exchange == nil {
		writeError(w, Errorf(http.StatusNotFound, CodeNotFound, "federation is not enabled"))
		return
	}
	roomID, matrixErr := pathRoomID(r)
	if matrixErr != nil {
		writeJSON(w, matrixErr.Status, matrixErr)
		return
	}

	ids := r.URL.Query()["id"]
	if len(ids) == 0 {
		writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "no event IDs requested"))
		return
	}

	// Events are served as stored: federation peers verify hashes
	// themselves, and redaction is a read-path view, not a rewrite of
	// history.
	pdus := make([]*event.Event, 0, len(ids))
	for _, raw := range ids {
		id, err := ref.ParseEventID(raw)
		if err != nil {
			writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "invalid event ID %q", raw))
			return
		}
		e, err := a.store.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, eventstore.ErrNotFound) {
				continue
			}
			writeError(w, err)
			return
		}
		if e.RoomID == roomID {
			pdus = append(pdus, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pdus": pdus})
}

func (a *API) handleServerKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"server_name": a.keys.ServerName().String(),
		"verify_keys": map[string]map[string]string{
			a.keys.KeyID(): {
				"key": base64.RawURLEncoding.EncodeToString(a.keys.PublicKey()),
			},
		},
	})
}
