// Package models defines the domain types shared by the sync core.
package models

import "time"

// Kind names the level of a node in the workspace tree.
type Kind string

// Document kinds stored in the documents table.
const (
	KindWorkspace Kind = "workspace"
	KindFolder    Kind = "folder"
	KindFile      Kind = "file"
)

// Valid reports whether k is one of the three tree levels.
func (k Kind) Valid() bool {
	switch k {
	case KindWorkspace, KindFolder, KindFile:
		return true
	}
	return false
}

// Workspace is the root of a tree. TrashedReason is empty while active.
type Workspace struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	IconID        string    `json:"iconId"`
	BannerURL     string    `json:"bannerUrl"`
	Content       *string   `json:"content"`
	TrashedReason string    `json:"trashedReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Folders       []Folder  `json:"folders"`
}

// Folder belongs to exactly one workspace and holds files ordered by CreatedAt.
type Folder struct {
	ID            string    `json:"id"`
	WorkspaceID   string    `json:"workspaceId"`
	Title         string    `json:"title"`
	IconID        string    `json:"iconId"`
	BannerURL     string    `json:"bannerUrl"`
	Content       *string   `json:"content"`
	TrashedReason string    `json:"trashedReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Files         []File    `json:"files"`
}

// File is a leaf document. WorkspaceID is denormalized from its folder.
type File struct {
	ID            string    `json:"id"`
	FolderID      string    `json:"folderId"`
	WorkspaceID   string    `json:"workspaceId"`
	Title         string    `json:"title"`
	IconID        string    `json:"iconId"`
	BannerURL     string    `json:"bannerUrl"`
	Content       *string   `json:"content"`
	TrashedReason string    `json:"trashedReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Patch is a shallow update of the mutable fields of any node.
// Nil fields are left untouched. An empty TrashedReason restores the node.
type Patch struct {
	Title         *string `json:"title,omitempty"`
	IconID        *string `json:"iconId,omitempty"`
	BannerURL     *string `json:"bannerUrl,omitempty"`
	Content       *string `json:"content,omitempty"`
	TrashedReason *string `json:"trashedReason,omitempty"`
}

// Empty reports whether the patch carries no field.
func (p Patch) Empty() bool {
	return p.Title == nil && p.IconID == nil && p.BannerURL == nil &&
		p.Content == nil && p.TrashedReason == nil
}

// WithoutContent returns a copy of p that never touches content.
func (p Patch) WithoutContent() Patch {
	p.Content = nil
	return p
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Apply merges p into a copy of w.
func (w Workspace) Apply(p Patch) Workspace {
	applyFields(p, &w.Title, &w.IconID, &w.BannerURL, &w.Content, &w.TrashedReason)
	return w
}

// Apply merges p into a copy of f.
func (f Folder) Apply(p Patch) Folder {
	applyFields(p, &f.Title, &f.IconID, &f.BannerURL, &f.Content, &f.TrashedReason)
	return f
}

// Apply merges p into a copy of f.
func (f File) Apply(p Patch) File {
	applyFields(p, &f.Title, &f.IconID, &f.BannerURL, &f.Content, &f.TrashedReason)
	return f
}

func applyFields(p Patch, title, icon, banner *string, content **string, trashed *string) {
	if p.Title != nil {
		*title = *p.Title
	}
	if p.IconID != nil {
		*icon = *p.IconID
	}
	if p.BannerURL != nil {
		*banner = *p.BannerURL
	}
	if p.Content != nil {
		c := *p.Content
		*content = &c
	}
	if p.TrashedReason != nil {
		*trashed = *p.TrashedReason
	}
}
