// Package tree is the client's in-memory mirror of the workspace tree.
//
// All mutation goes through Reduce and the closed Action set below. Actions
// that reference an id missing from the tree are no-ops: network races
// routinely deliver patches for nodes that are not hydrated yet.
package tree

import (
	"fmt"

	"github.com/starford/quire/internal/models"
)

// Action is one of the typed tree transitions defined in this package.
type Action interface {
	isAction()
}

// ReplaceWorkspaces replaces the whole tree (initial hydration and resync).
type ReplaceWorkspaces struct {
	Workspaces []models.Workspace
}

// PatchWorkspace shallow-merges Patch into a workspace.
type PatchWorkspace struct {
	WorkspaceID string
	Patch       models.Patch
}

// RemoveWorkspace removes a workspace and everything under it.
type RemoveWorkspace struct {
	WorkspaceID string
}

// ReplaceFolders replaces the folder list of a workspace.
type ReplaceFolders struct {
	WorkspaceID string
	Folders     []models.Folder
}

// AddFolder inserts a folder into a workspace.
type AddFolder struct {
	WorkspaceID string
	Folder      models.Folder
}

// PatchFolder shallow-merges Patch into a folder.
type PatchFolder struct {
	WorkspaceID string
	FolderID    string
	Patch       models.Patch
}

// RemoveFolder removes a folder and its files.
type RemoveFolder struct {
	WorkspaceID string
	FolderID    string
}

// ReplaceFiles replaces the file list of a folder.
type ReplaceFiles struct {
	WorkspaceID string
	FolderID    string
	Files       []models.File
}

// AddFile inserts a file into a folder.
type AddFile struct {
	WorkspaceID string
	FolderID    string
	File        models.File
}

// PatchFile shallow-merges Patch into a file.
type PatchFile struct {
	WorkspaceID string
	FolderID    string
	FileID      string
	Patch       models.Patch
}

// RemoveFile removes a file.
type RemoveFile struct {
	WorkspaceID string
	FolderID    string
	FileID      string
}

func (ReplaceWorkspaces) isAction() {}
func (PatchWorkspace) isAction()    {}
func (RemoveWorkspace) isAction()   {}
func (ReplaceFolders) isAction()    {}
func (AddFolder) isAction()         {}
func (PatchFolder) isAction()       {}
func (RemoveFolder) isAction()      {}
func (ReplaceFiles) isAction()      {}
func (AddFile) isAction()           {}
func (PatchFile) isAction()         {}
func (RemoveFile) isAction()        {}

// PatchAction builds the patch action addressing ref.
func PatchAction(ref models.DocumentRef, p models.Patch) Action {
	switch r := ref.(type) {
	case models.WorkspaceRef:
		return PatchWorkspace{WorkspaceID: r.WorkspaceID, Patch: p}
	case models.FolderRef:
		return PatchFolder{WorkspaceID: r.WorkspaceID, FolderID: r.FolderID, Patch: p}
	case models.FileRef:
		return PatchFile{WorkspaceID: r.WorkspaceID, FolderID: r.FolderID, FileID: r.FileID, Patch: p}
	default:
		panic(fmt.Sprintf("tree: unknown document ref %T", ref))
	}
}

// RemoveAction builds the remove action addressing ref.
func RemoveAction(ref models.DocumentRef) Action {
	switch r := ref.(type) {
	case models.WorkspaceRef:
		return RemoveWorkspace{WorkspaceID: r.WorkspaceID}
	case models.FolderRef:
		return RemoveFolder{WorkspaceID: r.WorkspaceID, FolderID: r.FolderID}
	case models.FileRef:
		return RemoveFile{WorkspaceID: r.WorkspaceID, FolderID: r.FolderID, FileID: r.FileID}
	default:
		panic(fmt.Sprintf("tree: unknown document ref %T", ref))
	}
}

func actionName(a Action) string {
	return fmt.Sprintf("%T", a)
}
