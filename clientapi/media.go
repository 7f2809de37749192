// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clientapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request, identity Identity) {
	if a.media == nil {
		writeError(w, Errorf(http.StatusNotFound, CodeNotFound, "media is not enabled"))
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, Errorf(http.StatusRequestEntityTooLarge, CodeTooLarge, "upload exceeds %d bytes", a.maxUploadBytes))
			return
		}
		writeError(w, fmt.Errorf("reading upload: %w", err))
		return
	}
	if len(data) == 0 {
		writeError(w, Errorf(http.StatusBadRequest, CodeInvalidParam, "empty upload"))
		return
	}

	info, err := a.media.Put(r.Context(), contentType, data)
	if err != nil {
		writeError(w, err)
		return
	}
	a.logger.Info("media uploaded",
		"media_id", info.ID,
		"uploader", identity.UserID.String(),
		"content_type", info.ContentType,
		"size", info.Size)
	uri := fmt.Sprintf("mxc://%s/%s", a.keys.ServerName(), info.ID)
	writeJSON(w, http.StatusOK, map[string]string{"content_uri": uri})
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request, _ Identity) {
	if a.media == nil {
		writeError(w, Errorf(http.StatusNotFound, CodeNotFound, "media is not enabled"))
		return
	}
	// Only locally stored media is served; remote media fetching is a
	// federation client concern.
	if r.PathValue("serverName") != a.keys.ServerName().String() {
		writeError(w, Errorf(http.StatusNotFound, CodeNotFound, "remote media is not proxied"))
		return
	}

	data, info, err := a.media.Get(r.Context(), r.PathValue("mediaID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Security-Policy", "sandbox; default-src 'none'")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
