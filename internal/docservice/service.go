// Package docservice is the durable write contract and hydration source
// behind the REST API and the MCP tools.
package docservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/delta"
	"github.com/starford/quire/internal/docstore"
	"github.com/starford/quire/internal/models"
)

// DocumentDetail is the full representation of a document.
type DocumentDetail struct {
	ID            string      `json:"id"`
	Kind          models.Kind `json:"kind"`
	ParentID      string      `json:"parentId,omitempty"`
	WorkspaceID   string      `json:"workspaceId"`
	OwnerID       string      `json:"ownerId,omitempty"`
	Title         string      `json:"title"`
	IconID        string      `json:"iconId"`
	BannerURL     string      `json:"bannerUrl"`
	Content       *string     `json:"content"`
	Checksum      string      `json:"checksum"`
	TrashedReason string      `json:"trashedReason,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// DocumentListItem is a lightweight item in a list response.
type DocumentListItem struct {
	ID            string      `json:"id"`
	Kind          models.Kind `json:"kind"`
	ParentID      string      `json:"parentId,omitempty"`
	WorkspaceID   string      `json:"workspaceId"`
	Title         string      `json:"title"`
	TrashedReason string      `json:"trashedReason,omitempty"`
}

// CreateRequest describes a new document. ParentID is empty for workspaces.
type CreateRequest struct {
	ID       string      `json:"id,omitempty"`
	Kind     models.Kind `json:"kind"`
	ParentID string      `json:"parentId,omitempty"`
	OwnerID  string      `json:"ownerId,omitempty"`
	Title    string      `json:"title"`
	IconID   string      `json:"iconId,omitempty"`
	Content  *string     `json:"content,omitempty"`
}

// Service coordinates validation and storage.
type Service struct {
	store *docstore.Store
	now   func() time.Time
}

// NewService creates a new document service.
func NewService(store *docstore.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// GetDocument returns one document including its content.
func (s *Service) GetDocument(ctx context.Context, id string) (*DocumentDetail, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail(rec), nil
}

// UpdateDocument applies p to a document. Content must be a valid model;
// content identical to what is stored is a no-op. A non-empty ifMatch must
// equal the stored content checksum.
func (s *Service) UpdateDocument(ctx context.Context, id string, p models.Patch, ifMatch string) (*DocumentDetail, error) {
	if p.Content != nil {
		if err := delta.ValidateContent(*p.Content); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidContent, err)
		}
	}
	rec, _, err := s.store.Update(ctx, id, p, ifMatch)
	if err != nil {
		return nil, err
	}
	return detail(rec), nil
}

// CreateDocument inserts a workspace, folder or file. The parent must exist
// and be of the containing kind.
func (s *Service) CreateDocument(ctx context.Context, req CreateRequest) (*DocumentDetail, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", apperr.ErrInvalidContent, req.Kind)
	}
	if req.Content != nil {
		if err := delta.ValidateContent(*req.Content); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidContent, err)
		}
	}

	rec := docstore.Record{
		ID:        strings.TrimSpace(req.ID),
		Kind:      req.Kind,
		OwnerID:   req.OwnerID,
		Title:     req.Title,
		IconID:    req.IconID,
		Content:   req.Content,
		CreatedAt: s.now(),
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	switch req.Kind {
	case models.KindWorkspace:
		if req.ParentID != "" {
			return nil, fmt.Errorf("%w: a workspace has no parent", apperr.ErrInvalidContent)
		}
		rec.WorkspaceID = rec.ID
	case models.KindFolder, models.KindFile:
		parent, err := s.store.Get(ctx, req.ParentID)
		if err != nil {
			return nil, err
		}
		want := models.KindWorkspace
		if req.Kind == models.KindFile {
			want = models.KindFolder
		}
		if parent.Kind != want {
			return nil, fmt.Errorf("%w: a %s must be created in a %s", apperr.ErrInvalidContent, req.Kind, want)
		}
		rec.ParentID = parent.ID
		rec.WorkspaceID = parent.WorkspaceID
		rec.OwnerID = parent.OwnerID
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return s.GetDocument(ctx, rec.ID)
}

// TrashDocument soft-deletes a document and its descendants.
func (s *Service) TrashDocument(ctx context.Context, id, reason string) ([]string, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Moved to trash"
	}
	return s.store.SetTrashed(ctx, id, reason)
}

// RestoreDocument clears the trashed reason of a document and its descendants.
func (s *Service) RestoreDocument(ctx context.Context, id string) ([]string, error) {
	return s.store.SetTrashed(ctx, id, "")
}

// DeleteDocument removes a document and all its descendants.
func (s *Service) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	return s.store.DeleteTree(ctx, id)
}

// ListDocuments returns every document of ownerID's workspaces.
func (s *Service) ListDocuments(ctx context.Context, ownerID string) ([]DocumentListItem, error) {
	recs, err := s.store.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items := make([]DocumentListItem, len(recs))
	for i, r := range recs {
		items[i] = DocumentListItem{
			ID:            r.ID,
			Kind:          r.Kind,
			ParentID:      r.ParentID,
			WorkspaceID:   r.WorkspaceID,
			Title:         r.Title,
			TrashedReason: r.TrashedReason,
		}
	}
	return items, nil
}

// Workspaces returns the full hydration tree of ownerID, ordered by
// creation time at every level. Rows whose parent is missing are skipped.
func (s *Service) Workspaces(ctx context.Context, ownerID string) ([]models.Workspace, error) {
	recs, err := s.store.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var (
		workspaces []models.Workspace
		wsIndex    = map[string]int{}
		folderAt   = map[string][2]int{}
	)
	for _, r := range recs {
		if r.Kind != models.KindWorkspace {
			continue
		}
		wsIndex[r.ID] = len(workspaces)
		workspaces = append(workspaces, models.Workspace{
			ID: r.ID, OwnerID: r.OwnerID, Title: r.Title, IconID: r.IconID, BannerURL: r.BannerURL,
			Content: r.Content, TrashedReason: r.TrashedReason, CreatedAt: r.CreatedAt,
			Folders: []models.Folder{},
		})
	}
	for _, r := range recs {
		if r.Kind != models.KindFolder {
			continue
		}
		wi, ok := wsIndex[r.ParentID]
		if !ok {
			continue
		}
		folders := workspaces[wi].Folders
		folderAt[r.ID] = [2]int{wi, len(folders)}
		workspaces[wi].Folders = append(folders, models.Folder{
			ID: r.ID, WorkspaceID: r.WorkspaceID, Title: r.Title, IconID: r.IconID, BannerURL: r.BannerURL,
			Content: r.Content, TrashedReason: r.TrashedReason, CreatedAt: r.CreatedAt,
			Files: []models.File{},
		})
	}
	for _, r := range recs {
		if r.Kind != models.KindFile {
			continue
		}
		at, ok := folderAt[r.ParentID]
		if !ok {
			continue
		}
		f := &workspaces[at[0]].Folders[at[1]]
		f.Files = append(f.Files, models.File{
			ID: r.ID, FolderID: r.ParentID, WorkspaceID: r.WorkspaceID, Title: r.Title, IconID: r.IconID,
			BannerURL: r.BannerURL, Content: r.Content, TrashedReason: r.TrashedReason, CreatedAt: r.CreatedAt,
		})
	}
	if workspaces == nil {
		workspaces = []models.Workspace{}
	}
	return workspaces, nil
}

func detail(r docstore.Record) *DocumentDetail {
	return &DocumentDetail{
		ID:            r.ID,
		Kind:          r.Kind,
		ParentID:      r.ParentID,
		WorkspaceID:   r.WorkspaceID,
		OwnerID:       r.OwnerID,
		Title:         r.Title,
		IconID:        r.IconID,
		BannerURL:     r.BannerURL,
		Content:       r.Content,
		Checksum:      r.ContentChecksum,
		TrashedReason: r.TrashedReason,
		CreatedAt:     r.CreatedAt,
	}
}
