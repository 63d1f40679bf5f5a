package api

import (
	"log/slog"
	"net/http"
)

// GetDocument handles GET /api/documents/*.
//
//	@Summary		Get a note body as a document tree
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.svc.GetDocument(r.Context(), path)
	if err != nil {
		writeError(w, err, "get document", slog.String("path", path))
		return
	}
	w.Header().Set("ETag", etag(doc.Checksum))
	writeJSON(w, http.StatusOK, doc)
}

// SaveDocument handles PUT /api/documents/*.
//
// With autosave enabled and no If-Match header the document is queued and
// written once the path has been quiet for the autosave delay; the outcome
// is announced as a document.saved event. Otherwise it is written at once.
//
//	@Summary		Save a document tree as the note body
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			path		path		string				true	"Note path"
//	@Param			If-Match	header		string				false	"Checksum for optimistic concurrency; forces a synchronous save"
//	@Param			body		body		SaveDocumentRequest	true	"Document tree"
//	@Success		200			{object}	NoteDetail
//	@Success		202			{object}	PendingSaveResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [put]
func (h *Handler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req SaveDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ifMatch := r.Header.Get("If-Match")
	if h.saver == nil || ifMatch != "" {
		h.cancelPending(path)
		note, err := h.svc.SaveDocument(r.Context(), path, req.Document, ifMatch)
		if err != nil {
			writeError(w, err, "save document", slog.String("path", path))
			return
		}
		w.Header().Set("ETag", etag(note.Checksum))
		writeJSON(w, http.StatusOK, note)
		return
	}

	// Reject unknown paths now rather than when the timer fires.
	if _, err := h.svc.GetDocument(r.Context(), path); err != nil {
		writeError(w, err, "save document", slog.String("path", path))
		return
	}
	if err := h.saver.Schedule(path, req.Document); err != nil {
		writeError(w, err, "schedule save", slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusAccepted, PendingSaveResponse{Path: path, DelayMS: h.saver.Delay().Milliseconds()})
}
