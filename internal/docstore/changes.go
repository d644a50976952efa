package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/starford/quire/internal/models"
)

// Changes returns change log entries with seq greater than after, oldest
// first. Entries never carry content.
func (s *Store) Changes(ctx context.Context, after int64, limit int) ([]models.ChangeNotification, error) {
	if limit <= 0 {
		limit = 500
	}
	query := s.rebind(fmt.Sprintf(`SELECT seq, event_type, id, kind, parent_id, workspace_id, owner_id,
		title, icon_id, banner_url, trashed_reason, created_at
		FROM %s WHERE seq > ? ORDER BY seq ASC LIMIT ?`, quoteIdentifier(changesTable)))
	rows, err := s.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, fmt.Errorf("docstore: changes: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeNotification
	for rows.Next() {
		var (
			n        models.ChangeNotification
			event    string
			kind     string
			parentID sql.NullString
			created  string
		)
		if err := rows.Scan(&n.Seq, &event, &n.Row.ID, &kind, &parentID, &n.Row.WorkspaceID, &n.Row.OwnerID,
			&n.Row.Title, &n.Row.IconID, &n.Row.BannerURL, &n.Row.TrashedReason, &created); err != nil {
			return nil, fmt.Errorf("docstore: changes scan: %w", err)
		}
		n.EventType = models.ChangeType(event)
		n.Table = documentsTable
		n.Row.Kind = models.Kind(kind)
		n.Row.ParentID = parentID.String
		if n.Row.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// LatestSeq returns the newest change log sequence number, 0 when empty.
func (s *Store) LatestSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(seq) FROM %s`, quoteIdentifier(changesTable))
	if err := s.db.QueryRowContext(ctx, query).Scan(&seq); err != nil {
		return 0, fmt.Errorf("docstore: latest seq: %w", err)
	}
	return seq.Int64, nil
}

// OldestSeq returns the oldest retained change log sequence number, 0 when
// empty.
func (s *Store) OldestSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	query := fmt.Sprintf(`SELECT MIN(seq) FROM %s`, quoteIdentifier(changesTable))
	if err := s.db.QueryRowContext(ctx, query).Scan(&seq); err != nil {
		return 0, fmt.Errorf("docstore: oldest seq: %w", err)
	}
	return seq.Int64, nil
}

// Prune drops change log entries logged before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE logged_at < ?`, quoteIdentifier(changesTable)))
	// logged_at precision follows each database's default clock format.
	layout := "2006-01-02T15:04:05.000Z"
	if s.driver == DriverPostgres {
		layout = "2006-01-02T15:04:05.000000Z"
	}
	res, err := s.db.ExecContext(ctx, query, cutoff.UTC().Format(layout))
	if err != nil {
		return 0, fmt.Errorf("docstore: prune: %w", err)
	}
	return res.RowsAffected()
}
