package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/checksum"
	"github.com/starford/quire/internal/models"
)

// Record is one row of the documents table.
type Record struct {
	ID              string
	Kind            models.Kind
	ParentID        string
	WorkspaceID     string
	OwnerID         string
	Title           string
	IconID          string
	BannerURL       string
	Content         *string
	ContentChecksum string
	TrashedReason   string
	CreatedAt       time.Time
}

const documentColumns = `id, kind, parent_id, workspace_id, owner_id, title, icon_id,
	banner_url, content, content_checksum, trashed_reason, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r        Record
		kind     string
		parentID sql.NullString
		content  sql.NullString
		created  string
	)
	if err := row.Scan(&r.ID, &kind, &parentID, &r.WorkspaceID, &r.OwnerID, &r.Title, &r.IconID,
		&r.BannerURL, &content, &r.ContentChecksum, &r.TrashedReason, &created); err != nil {
		return Record{}, err
	}
	r.Kind = models.Kind(kind)
	r.ParentID = parentID.String
	if content.Valid {
		c := content.String
		r.Content = &c
	}
	t, err := parseTime(created)
	if err != nil {
		return Record{}, err
	}
	r.CreatedAt = t
	return r, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Insert adds a new document row.
func (s *Store) Insert(ctx context.Context, r Record) error {
	if !r.Kind.Valid() {
		return fmt.Errorf("docstore: insert %s: invalid kind %q", r.ID, r.Kind)
	}
	var content sql.NullString
	if r.Content != nil {
		content = sql.NullString{String: *r.Content, Valid: true}
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	query := s.rebind(`INSERT INTO documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, query,
		r.ID, string(r.Kind), nullString(r.ParentID), r.WorkspaceID, r.OwnerID, r.Title, r.IconID,
		r.BannerURL, content, checksum.Content(r.Content), r.TrashedReason, formatTime(r.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("docstore: insert %s: %w", r.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("docstore: insert %s: %w", r.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("docstore: commit: %w", err)
	}
	s.changed()
	return nil
}

// Get returns one document row.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("docstore: get %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("docstore: get %s: %w", id, err)
	}
	return r, nil
}

// List returns every row of the workspaces owned by ownerID, ordered by
// creation time. An empty ownerID lists everything.
func (s *Store) List(ctx context.Context, ownerID string) ([]Record, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if ownerID != "" {
		query += ` WHERE workspace_id IN (SELECT id FROM documents WHERE kind = 'workspace' AND owner_id = ?)`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("docstore: list scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Update applies the non-nil fields of p to document id and returns the
// resulting row. Content identical to the stored content is not rewritten;
// changed reports whether any column actually changed. A non-empty ifMatch
// must equal the stored content checksum; it is compared in the same
// transaction as the write.
func (s *Store) Update(ctx context.Context, id string, p models.Patch, ifMatch string) (Record, bool, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return Record{}, false, err
	}
	defer tx.Rollback() //nolint:errcheck

	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`
	if s.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}
	current, err := scanRecord(tx.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, fmt.Errorf("docstore: update %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("docstore: update %s: %w", id, err)
	}
	if ifMatch != "" && current.ContentChecksum != ifMatch {
		return Record{}, false, fmt.Errorf("docstore: update %s: %w", id, apperr.ErrConflict)
	}

	var (
		sets []string
		args []any
		next = current
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if p.Title != nil && *p.Title != current.Title {
		set("title", *p.Title)
		next.Title = *p.Title
	}
	if p.IconID != nil && *p.IconID != current.IconID {
		set("icon_id", *p.IconID)
		next.IconID = *p.IconID
	}
	if p.BannerURL != nil && *p.BannerURL != current.BannerURL {
		set("banner_url", *p.BannerURL)
		next.BannerURL = *p.BannerURL
	}
	if p.TrashedReason != nil && *p.TrashedReason != current.TrashedReason {
		set("trashed_reason", *p.TrashedReason)
		next.TrashedReason = *p.TrashedReason
	}
	if p.Content != nil {
		sum := checksum.Content(p.Content)
		if sum != current.ContentChecksum {
			set("content", *p.Content)
			set("content_checksum", sum)
			c := *p.Content
			next.Content = &c
			next.ContentChecksum = sum
		}
	}
	if len(sets) == 0 {
		return current, false, nil
	}

	args = append(args, id)
	update := s.rebind(`UPDATE documents SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return Record{}, false, fmt.Errorf("docstore: update %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, false, fmt.Errorf("docstore: commit: %w", err)
	}
	s.changed()
	return next, true, nil
}

// SetTrashed sets the trashed reason of a document and all its
// descendants. An empty reason restores them.
func (s *Store) SetTrashed(ctx context.Context, id, reason string) ([]string, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	ids, err := s.subtree(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	for _, target := range ids {
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE documents SET trashed_reason = ? WHERE id = ?`), reason, target); err != nil {
			return nil, fmt.Errorf("docstore: trash %s: %w", target, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("docstore: commit: %w", err)
	}
	s.changed()
	return ids, nil
}

// DeleteTree removes a document and all its descendants, children first,
// and returns the removed ids in deletion order.
func (s *Store) DeleteTree(ctx context.Context, id string) ([]string, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	ids, err := s.subtree(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE id = ?`), ids[i]); err != nil {
			return nil, fmt.Errorf("docstore: delete %s: %w", ids[i], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("docstore: commit: %w", err)
	}
	s.changed()

	out := make([]string, len(ids))
	for i := range ids {
		out[i] = ids[len(ids)-1-i]
	}
	return out, nil
}

// subtree returns id followed by its descendants, parents before children.
func (s *Store) subtree(ctx context.Context, tx *sql.Tx, id string) ([]string, error) {
	var exists int
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM documents WHERE id = ?`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("docstore: %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: lookup %s: %w", id, err)
	}

	ids := []string{id}
	for i := 0; i < len(ids); i++ {
		rows, err := tx.QueryContext(ctx, s.rebind(`SELECT id FROM documents WHERE parent_id = ? ORDER BY created_at ASC, id ASC`), ids[i])
		if err != nil {
			return nil, fmt.Errorf("docstore: children of %s: %w", ids[i], err)
		}
		for rows.Next() {
			var child string
			if err := rows.Scan(&child); err != nil {
				rows.Close()
				return nil, fmt.Errorf("docstore: scan child: %w", err)
			}
			ids = append(ids, child)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
