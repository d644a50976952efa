package tree

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/starford/quire/internal/delta"
	"github.com/starford/quire/internal/models"
)

// Node is a read-only view of the editable fields of any tree node.
type Node struct {
	Ref           models.DocumentRef
	Title         string
	IconID        string
	BannerURL     string
	Content       *string
	TrashedReason string
	CreatedAt     time.Time
}

// Locate finds the node with the given id at any level.
func (s State) Locate(id string) (models.DocumentRef, bool) {
	for _, w := range s.Workspaces {
		if w.ID == id {
			return models.WorkspaceRef{WorkspaceID: w.ID}, true
		}
		for _, f := range w.Folders {
			if f.ID == id {
				return models.FolderRef{FolderID: f.ID, WorkspaceID: w.ID}, true
			}
			for _, file := range f.Files {
				if file.ID == id {
					return models.FileRef{FileID: file.ID, FolderID: f.ID, WorkspaceID: w.ID}, true
				}
			}
		}
	}
	return nil, false
}

// Get returns the node addressed by ref.
func (s State) Get(ref models.DocumentRef) (Node, bool) {
	switch r := ref.(type) {
	case models.WorkspaceRef:
		i := s.workspaceIndex(r.WorkspaceID)
		if i < 0 {
			return Node{}, false
		}
		w := s.Workspaces[i]
		return Node{Ref: r, Title: w.Title, IconID: w.IconID, BannerURL: w.BannerURL,
			Content: w.Content, TrashedReason: w.TrashedReason, CreatedAt: w.CreatedAt}, true
	case models.FolderRef:
		f, ok := s.folder(r.WorkspaceID, r.FolderID)
		if !ok {
			return Node{}, false
		}
		return Node{Ref: r, Title: f.Title, IconID: f.IconID, BannerURL: f.BannerURL,
			Content: f.Content, TrashedReason: f.TrashedReason, CreatedAt: f.CreatedAt}, true
	case models.FileRef:
		f, ok := s.folder(r.WorkspaceID, r.FolderID)
		if !ok {
			return Node{}, false
		}
		i := fileIndex(f.Files, r.FileID)
		if i < 0 {
			return Node{}, false
		}
		file := f.Files[i]
		return Node{Ref: r, Title: file.Title, IconID: file.IconID, BannerURL: file.BannerURL,
			Content: file.Content, TrashedReason: file.TrashedReason, CreatedAt: file.CreatedAt}, true
	case nil:
		return Node{}, false
	default:
		panic(fmt.Sprintf("tree: unknown document ref %T", ref))
	}
}

// Has reports whether ref resolves in s.
func (s State) Has(ref models.DocumentRef) bool {
	_, ok := s.Get(ref)
	return ok
}

func (s State) folder(workspaceID, folderID string) (models.Folder, bool) {
	i := s.workspaceIndex(workspaceID)
	if i < 0 {
		return models.Folder{}, false
	}
	j := folderIndex(s.Workspaces[i].Folders, folderID)
	if j < 0 {
		return models.Folder{}, false
	}
	return s.Workspaces[i].Folders[j], true
}

// Validate checks the structural invariants of the tree: unique ids,
// back-references that resolve to the enclosing nodes, CreatedAt ordering
// of folders and files, and well-formed content.
func (s State) Validate() error {
	var errs []error
	seen := make(map[string]struct{})
	mark := func(id string) {
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("duplicate id %q", id))
		}
		seen[id] = struct{}{}
	}
	checkContent := func(id string, c *string) {
		if c == nil {
			return
		}
		if err := delta.ValidateContent(*c); err != nil {
			errs = append(errs, fmt.Errorf("content of %q: %w", id, err))
		}
	}
	for _, w := range s.Workspaces {
		mark(w.ID)
		checkContent(w.ID, w.Content)
		if !isSortedByCreated(w.Folders, folderCreated) {
			errs = append(errs, fmt.Errorf("folders of workspace %q not ordered by createdAt", w.ID))
		}
		for _, f := range w.Folders {
			mark(f.ID)
			checkContent(f.ID, f.Content)
			if f.WorkspaceID != w.ID {
				errs = append(errs, fmt.Errorf("folder %q points at workspace %q, lives in %q", f.ID, f.WorkspaceID, w.ID))
			}
			if !isSortedByCreated(f.Files, fileCreated) {
				errs = append(errs, fmt.Errorf("files of folder %q not ordered by createdAt", f.ID))
			}
			for _, file := range f.Files {
				mark(file.ID)
				checkContent(file.ID, file.Content)
				if file.FolderID != f.ID || file.WorkspaceID != w.ID {
					errs = append(errs, fmt.Errorf("file %q back-references %q/%q, lives in %q/%q",
						file.ID, file.WorkspaceID, file.FolderID, w.ID, f.ID))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func folderCreated(f models.Folder) time.Time { return f.CreatedAt }
func fileCreated(f models.File) time.Time     { return f.CreatedAt }

func sortByCreated[T any](items []T, created func(T) time.Time) []T {
	slices.SortStableFunc(items, func(a, b T) int {
		return created(a).Compare(created(b))
	})
	return items
}

func isSortedByCreated[T any](items []T, created func(T) time.Time) bool {
	return slices.IsSortedFunc(items, func(a, b T) int {
		return cmp.Compare(created(a).UnixNano(), created(b).UnixNano())
	})
}
