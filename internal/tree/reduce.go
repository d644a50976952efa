package tree

import (
	"slices"

	"github.com/starford/quire/internal/models"
)

// State is an immutable snapshot of the tree. Reduce never mutates a State
// it receives; unchanged subtrees are shared between snapshots.
type State struct {
	Workspaces []models.Workspace `json:"workspaces"`
}

// Reduce returns the state produced by applying a to s. It is pure and total:
// actions addressing missing nodes return s itself.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case ReplaceWorkspaces:
		ws := make([]models.Workspace, 0, len(a.Workspaces))
		seen := make(map[string]struct{}, len(a.Workspaces))
		for _, w := range a.Workspaces {
			if _, dup := seen[w.ID]; dup {
				continue
			}
			seen[w.ID] = struct{}{}
			ws = append(ws, normalizeWorkspace(w))
		}
		return State{Workspaces: ws}

	case PatchWorkspace:
		return s.withWorkspace(a.WorkspaceID, func(w models.Workspace) (models.Workspace, bool) {
			return w.Apply(a.Patch), true
		})

	case RemoveWorkspace:
		i := s.workspaceIndex(a.WorkspaceID)
		if i < 0 {
			return s
		}
		return State{Workspaces: slices.Delete(slices.Clone(s.Workspaces), i, i+1)}

	case ReplaceFolders:
		return s.withWorkspace(a.WorkspaceID, func(w models.Workspace) (models.Workspace, bool) {
			w.Folders = normalizeFolders(w.ID, a.Folders)
			return w, true
		})

	case AddFolder:
		return s.withWorkspace(a.WorkspaceID, func(w models.Workspace) (models.Workspace, bool) {
			if folderIndex(w.Folders, a.Folder.ID) >= 0 {
				return w, false
			}
			folder := normalizeFolder(w.ID, a.Folder)
			w.Folders = sortByCreated(append(slices.Clone(w.Folders), folder), folderCreated)
			return w, true
		})

	case PatchFolder:
		return s.withFolder(a.WorkspaceID, a.FolderID, func(f models.Folder) (models.Folder, bool) {
			return f.Apply(a.Patch), true
		})

	case RemoveFolder:
		return s.withWorkspace(a.WorkspaceID, func(w models.Workspace) (models.Workspace, bool) {
			i := folderIndex(w.Folders, a.FolderID)
			if i < 0 {
				return w, false
			}
			w.Folders = slices.Delete(slices.Clone(w.Folders), i, i+1)
			return w, true
		})

	case ReplaceFiles:
		return s.withFolder(a.WorkspaceID, a.FolderID, func(f models.Folder) (models.Folder, bool) {
			f.Files = normalizeFiles(f.WorkspaceID, f.ID, a.Files)
			return f, true
		})

	case AddFile:
		return s.withFolder(a.WorkspaceID, a.FolderID, func(f models.Folder) (models.Folder, bool) {
			if fileIndex(f.Files, a.File.ID) >= 0 {
				return f, false
			}
			file := a.File
			file.FolderID, file.WorkspaceID = f.ID, f.WorkspaceID
			f.Files = sortByCreated(append(slices.Clone(f.Files), file), fileCreated)
			return f, true
		})

	case PatchFile:
		return s.withFolder(a.WorkspaceID, a.FolderID, func(f models.Folder) (models.Folder, bool) {
			i := fileIndex(f.Files, a.FileID)
			if i < 0 {
				return f, false
			}
			files := slices.Clone(f.Files)
			files[i] = files[i].Apply(a.Patch)
			f.Files = files
			return f, true
		})

	case RemoveFile:
		return s.withFolder(a.WorkspaceID, a.FolderID, func(f models.Folder) (models.Folder, bool) {
			i := fileIndex(f.Files, a.FileID)
			if i < 0 {
				return f, false
			}
			f.Files = slices.Delete(slices.Clone(f.Files), i, i+1)
			return f, true
		})
	}
	return s
}

// withWorkspace copies the path to one workspace and lets fn replace it.
// fn reports false to signal that nothing changed.
func (s State) withWorkspace(id string, fn func(models.Workspace) (models.Workspace, bool)) State {
	i := s.workspaceIndex(id)
	if i < 0 {
		return s
	}
	next, changed := fn(s.Workspaces[i])
	if !changed {
		return s
	}
	ws := slices.Clone(s.Workspaces)
	ws[i] = next
	return State{Workspaces: ws}
}

func (s State) withFolder(workspaceID, folderID string, fn func(models.Folder) (models.Folder, bool)) State {
	return s.withWorkspace(workspaceID, func(w models.Workspace) (models.Workspace, bool) {
		i := folderIndex(w.Folders, folderID)
		if i < 0 {
			return w, false
		}
		next, changed := fn(w.Folders[i])
		if !changed {
			return w, false
		}
		folders := slices.Clone(w.Folders)
		folders[i] = next
		w.Folders = folders
		return w, true
	})
}

func (s State) workspaceIndex(id string) int {
	return slices.IndexFunc(s.Workspaces, func(w models.Workspace) bool { return w.ID == id })
}

func folderIndex(folders []models.Folder, id string) int {
	return slices.IndexFunc(folders, func(f models.Folder) bool { return f.ID == id })
}

func fileIndex(files []models.File, id string) int {
	return slices.IndexFunc(files, func(f models.File) bool { return f.ID == id })
}

func normalizeWorkspace(w models.Workspace) models.Workspace {
	w.Folders = normalizeFolders(w.ID, w.Folders)
	return w
}

func normalizeFolders(workspaceID string, in []models.Folder) []models.Folder {
	out := make([]models.Folder, 0, len(in))
	for _, f := range in {
		if folderIndex(out, f.ID) >= 0 {
			continue
		}
		out = append(out, normalizeFolder(workspaceID, f))
	}
	return sortByCreated(out, folderCreated)
}

func normalizeFolder(workspaceID string, f models.Folder) models.Folder {
	f.WorkspaceID = workspaceID
	f.Files = normalizeFiles(workspaceID, f.ID, f.Files)
	return f
}

func normalizeFiles(workspaceID, folderID string, in []models.File) []models.File {
	out := make([]models.File, 0, len(in))
	for _, f := range in {
		if fileIndex(out, f.ID) >= 0 {
			continue
		}
		f.WorkspaceID, f.FolderID = workspaceID, folderID
		out = append(out, f)
	}
	return sortByCreated(out, fileCreated)
}
