package models

import "fmt"

// DocumentRef identifies an editable node together with its ancestors.
// The concrete types are WorkspaceRef, FolderRef and FileRef; callers switch
// on the concrete type and treat any other value as a programming error.
type DocumentRef interface {
	// DocumentID is the id of the referenced node itself.
	DocumentID() string
	// Kind reports the tree level of the node.
	Kind() Kind
	isDocumentRef()
}

// WorkspaceRef references a workspace root document.
type WorkspaceRef struct {
	WorkspaceID string `json:"workspaceId"`
}

// FolderRef references a folder document.
type FolderRef struct {
	FolderID    string `json:"folderId"`
	WorkspaceID string `json:"workspaceId"`
}

// FileRef references a file document.
type FileRef struct {
	FileID      string `json:"fileId"`
	FolderID    string `json:"folderId"`
	WorkspaceID string `json:"workspaceId"`
}

func (r WorkspaceRef) DocumentID() string { return r.WorkspaceID }
func (r FolderRef) DocumentID() string    { return r.FolderID }
func (r FileRef) DocumentID() string      { return r.FileID }

func (WorkspaceRef) Kind() Kind { return KindWorkspace }
func (FolderRef) Kind() Kind    { return KindFolder }
func (FileRef) Kind() Kind      { return KindFile }

func (WorkspaceRef) isDocumentRef() {}
func (FolderRef) isDocumentRef()    {}
func (FileRef) isDocumentRef()      {}

// Parent returns the container of ref, or nil for a workspace (the dashboard root).
func Parent(ref DocumentRef) DocumentRef {
	switch r := ref.(type) {
	case WorkspaceRef:
		return nil
	case FolderRef:
		return WorkspaceRef{WorkspaceID: r.WorkspaceID}
	case FileRef:
		return FolderRef{FolderID: r.FolderID, WorkspaceID: r.WorkspaceID}
	default:
		panic(fmt.Sprintf("models: unknown document ref %T", ref))
	}
}

// Contains reports whether inner is outer itself or one of its descendants.
func Contains(outer, inner DocumentRef) bool {
	if outer == nil || inner == nil {
		return false
	}
	for r := inner; r != nil; r = Parent(r) {
		if r == outer {
			return true
		}
	}
	return false
}

// RefString renders ref for logs.
func RefString(ref DocumentRef) string {
	if ref == nil {
		return "dashboard"
	}
	return string(ref.Kind()) + ":" + ref.DocumentID()
}
