// Package changefeed is the client side of the durable change feed: it
// subscribes to the server's event stream and reconciles notifications into
// the local tree.
package changefeed

import (
	"slices"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/tree"
)

// View is the client state a notification is reconciled against.
type View struct {
	// OwnerID scopes workspace inserts. Empty accepts every workspace.
	OwnerID string
	// Open is the document currently open for editing, nil on the dashboard.
	Open models.DocumentRef
}

// Outcome is what the client must do for one notification. Navigation, when
// requested, happens before Actions are dispatched.
type Outcome struct {
	Actions []tree.Action
	// Navigate is true when the open document is going away.
	Navigate bool
	// Destination is the parent container to show. Nil means the dashboard.
	Destination models.DocumentRef
}

// Reconcile maps n onto s. It never touches content: notifications do not
// carry it, and the live editor model is authoritative for the open document.
// A notification for a node the tree cannot place returns a
// *apperr.ReconciliationConflict; callers log it and wait for the next
// hydration.
func Reconcile(s tree.State, v View, n models.ChangeNotification) (Outcome, error) {
	if n.Table != "" && n.Table != models.DocumentsTable {
		return Outcome{}, nil
	}
	switch n.EventType {
	case models.ChangeInsert:
		return reconcileInsert(s, v, n.Row)
	case models.ChangeUpdate:
		return reconcileUpdate(s, n.Row)
	case models.ChangeDelete:
		return reconcileDelete(s, v, n.Row)
	default:
		return Outcome{}, &apperr.ReconciliationConflict{DocumentID: n.Row.ID, Reason: "unknown event " + string(n.EventType)}
	}
}

func reconcileInsert(s tree.State, v View, row models.ChangeRow) (Outcome, error) {
	// The local actor that created the row already added it optimistically.
	if _, ok := s.Locate(row.ID); ok {
		return Outcome{}, nil
	}

	switch row.Kind {
	case models.KindWorkspace:
		if v.OwnerID != "" && row.OwnerID != v.OwnerID {
			return Outcome{}, nil
		}
		ws := models.Workspace{
			ID: row.ID, OwnerID: row.OwnerID, Title: row.Title, IconID: row.IconID,
			BannerURL: row.BannerURL, TrashedReason: row.TrashedReason, CreatedAt: row.CreatedAt,
		}
		return Outcome{Actions: []tree.Action{
			tree.ReplaceWorkspaces{Workspaces: append(slices.Clone(s.Workspaces), ws)},
		}}, nil

	case models.KindFolder:
		if !s.Has(models.WorkspaceRef{WorkspaceID: row.ParentID}) {
			return Outcome{}, &apperr.ReconciliationConflict{DocumentID: row.ID, Reason: "parent workspace not loaded"}
		}
		return Outcome{Actions: []tree.Action{tree.AddFolder{
			WorkspaceID: row.ParentID,
			Folder: models.Folder{
				ID: row.ID, WorkspaceID: row.ParentID, Title: row.Title, IconID: row.IconID,
				BannerURL: row.BannerURL, TrashedReason: row.TrashedReason, CreatedAt: row.CreatedAt,
			},
		}}}, nil

	case models.KindFile:
		parent, ok := s.Locate(row.ParentID)
		folder, isFolder := parent.(models.FolderRef)
		if !ok || !isFolder {
			return Outcome{}, &apperr.ReconciliationConflict{DocumentID: row.ID, Reason: "parent folder not loaded"}
		}
		return Outcome{Actions: []tree.Action{tree.AddFile{
			WorkspaceID: folder.WorkspaceID,
			FolderID:    folder.FolderID,
			File: models.File{
				ID: row.ID, FolderID: folder.FolderID, WorkspaceID: folder.WorkspaceID, Title: row.Title,
				IconID: row.IconID, BannerURL: row.BannerURL, TrashedReason: row.TrashedReason, CreatedAt: row.CreatedAt,
			},
		}}}, nil
	}
	return Outcome{}, &apperr.ReconciliationConflict{DocumentID: row.ID, Reason: "unknown kind " + string(row.Kind)}
}

func reconcileUpdate(s tree.State, row models.ChangeRow) (Outcome, error) {
	ref, ok := s.Locate(row.ID)
	if !ok {
		return Outcome{}, &apperr.ReconciliationConflict{DocumentID: row.ID, Reason: "node not in tree"}
	}
	return Outcome{Actions: []tree.Action{tree.PatchAction(ref, row.Patch().WithoutContent())}}, nil
}

func reconcileDelete(s tree.State, v View, row models.ChangeRow) (Outcome, error) {
	ref, ok := s.Locate(row.ID)
	if !ok {
		return Outcome{}, &apperr.ReconciliationConflict{DocumentID: row.ID, Reason: "node not in tree"}
	}
	out := Outcome{Actions: []tree.Action{tree.RemoveAction(ref)}}
	if v.Open != nil && models.Contains(ref, v.Open) {
		out.Navigate = true
		out.Destination = models.Parent(ref)
	}
	return out, nil
}
