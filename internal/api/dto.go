package api

import (
	"github.com/starford/quire/internal/docservice"
	"github.com/starford/quire/internal/models"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest = docservice.CreateRequest

// UpdateDocumentRequest is the request body for PATCH /documents/{id}.
// Nil fields are left untouched; an empty trashedReason restores.
type UpdateDocumentRequest = models.Patch

// TrashRequest is the optional body of POST /documents/{id}/trash.
type TrashRequest struct {
	Reason string `json:"reason" example:"Deleted by alice"`
}

// DocumentDetail is the full document response type (aliased from the domain layer).
type DocumentDetail = docservice.DocumentDetail

// DocumentListItem is a lightweight item in a list response (aliased from the domain layer).
type DocumentListItem = docservice.DocumentListItem

// DocumentListResponse wraps document listings.
type DocumentListResponse struct {
	Documents []DocumentListItem `json:"documents" validate:"required"`
}

// WorkspacesResponse is the hydration tree.
type WorkspacesResponse struct {
	Workspaces []models.Workspace `json:"workspaces" validate:"required"`
}

// AffectedResponse lists the ids touched by a cascading operation.
type AffectedResponse struct {
	IDs []string `json:"ids" validate:"required"`
}
