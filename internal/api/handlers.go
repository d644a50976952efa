package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quire/internal/docservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *docservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *docservice.Service) *Handler {
	return &Handler{svc: svc}
}

// Workspaces handles GET /api/workspaces.
//
//	@Summary		Full workspace tree for initial hydration
//	@Tags			documents
//	@Produce		json
//	@Param			owner	query		string	false	"Owner user id"
//	@Success		200		{object}	WorkspacesResponse
//	@Security		BearerAuth
//	@Router			/workspaces [get]
func (h *Handler) Workspaces(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.Workspaces(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, "hydrate", "", err)
		return
	}
	writeJSON(w, http.StatusOK, WorkspacesResponse{Workspaces: tree})
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List documents without content
//	@Tags			documents
//	@Produce		json
//	@Param			owner	query		string	false	"Owner user id"
//	@Success		200		{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListDocuments(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, "list documents", "", err)
		return
	}
	if items == nil {
		items = []DocumentListItem{}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: items})
}

// GetDocument handles GET /api/documents/{id}.
//
//	@Summary		Get a single document with content
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document id"
//	@Success		200	{object}	DocumentDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.svc.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, "get document", id, err)
		return
	}
	w.Header().Set("ETag", `"`+doc.Checksum+`"`)
	writeJSON(w, http.StatusOK, doc)
}

// CreateDocument handles POST /api/documents.
//
//	@Summary		Create a workspace, folder or file
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateDocumentRequest	true	"Document to create"
//	@Success		201		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Kind == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("kind is required"))
		return
	}
	doc, err := h.svc.CreateDocument(r.Context(), req)
	if err != nil {
		writeError(w, "create document", req.ID, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// UpdateDocument handles PATCH /api/documents/{id}.
//
//	@Summary		Durable write of content and metadata
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string					true	"Document id"
//	@Param			If-Match	header		string					false	"Content checksum for optimistic concurrency"
//	@Param			body		body		UpdateDocumentRequest	true	"Fields to change"
//	@Success		200			{object}	DocumentDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [patch]
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	id := chi.URLParam(r, "id")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}

	var req UpdateDocumentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Empty() {
		writeJSON(w, http.StatusBadRequest, errorBody("no fields to update"))
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	doc, err := h.svc.UpdateDocument(r.Context(), id, req, ifMatch)
	if err != nil {
		writeError(w, "update document", id, err)
		return
	}
	w.Header().Set("ETag", `"`+doc.Checksum+`"`)
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/documents/{id}.
//
//	@Summary		Delete a document and its descendants
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document id"
//	@Success		200	{object}	AffectedResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ids, err := h.svc.DeleteDocument(r.Context(), id)
	if err != nil {
		writeError(w, "delete document", id, err)
		return
	}
	writeJSON(w, http.StatusOK, AffectedResponse{IDs: ids})
}

// TrashDocument handles POST /api/documents/{id}/trash.
func (h *Handler) TrashDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := chi.URLParam(r, "id")
	var req TrashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	ids, err := h.svc.TrashDocument(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, "trash document", id, err)
		return
	}
	writeJSON(w, http.StatusOK, AffectedResponse{IDs: ids})
}

// RestoreDocument handles POST /api/documents/{id}/restore.
func (h *Handler) RestoreDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ids, err := h.svc.RestoreDocument(r.Context(), id)
	if err != nil {
		writeError(w, "restore document", id, err)
		return
	}
	writeJSON(w, http.StatusOK, AffectedResponse{IDs: ids})
}
