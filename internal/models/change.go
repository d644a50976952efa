package models

import "time"

// ChangeType is the kind of row mutation reported by the change feed.
type ChangeType string

// Change feed event types.
const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// DocumentsTable is the only table the change feed reports on.
const DocumentsTable = "documents"

// ChangeRow is the row image carried by a change notification.
// Content is never carried: notifications stay small and the live editor
// model is authoritative for open documents.
type ChangeRow struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	ParentID      string    `json:"parentId,omitempty"`
	WorkspaceID   string    `json:"workspaceId"`
	OwnerID       string    `json:"ownerId,omitempty"`
	Title         string    `json:"title"`
	IconID        string    `json:"iconId"`
	BannerURL     string    `json:"bannerUrl"`
	TrashedReason string    `json:"trashedReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ChangeNotification is one durable-storage mutation.
type ChangeNotification struct {
	Seq       int64      `json:"seq,omitempty"`
	EventType ChangeType `json:"eventType"`
	Table     string     `json:"table"`
	Row       ChangeRow  `json:"row"`
}

// Ref builds the DocumentRef addressed by the row.
func (r ChangeRow) Ref() DocumentRef {
	switch r.Kind {
	case KindWorkspace:
		return WorkspaceRef{WorkspaceID: r.ID}
	case KindFolder:
		return FolderRef{FolderID: r.ID, WorkspaceID: r.WorkspaceID}
	case KindFile:
		return FileRef{FileID: r.ID, FolderID: r.ParentID, WorkspaceID: r.WorkspaceID}
	}
	return nil
}

// Patch returns the non-content fields of the row as a patch.
func (r ChangeRow) Patch() Patch {
	return Patch{
		Title:         Ptr(r.Title),
		IconID:        Ptr(r.IconID),
		BannerURL:     Ptr(r.BannerURL),
		TrashedReason: Ptr(r.TrashedReason),
	}
}
