package docstore

import "fmt"

const (
	documentsTable = "documents"
	changesTable   = "document_changes"
	// notifyChannel is the postgres LISTEN channel woken by change log inserts.
	notifyChannel = "document_changes"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	parent_id        TEXT,
	workspace_id     TEXT NOT NULL,
	owner_id         TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	icon_id          TEXT NOT NULL DEFAULT '',
	banner_url       TEXT NOT NULL DEFAULT '',
	content          TEXT,
	content_checksum TEXT NOT NULL DEFAULT '',
	trashed_reason   TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents(parent_id);
CREATE INDEX IF NOT EXISTS idx_documents_workspace ON documents(workspace_id);

CREATE TABLE IF NOT EXISTS document_changes (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type     TEXT NOT NULL,
	id             TEXT NOT NULL,
	kind           TEXT NOT NULL,
	parent_id      TEXT,
	workspace_id   TEXT NOT NULL,
	owner_id       TEXT NOT NULL,
	title          TEXT NOT NULL,
	icon_id        TEXT NOT NULL,
	banner_url     TEXT NOT NULL,
	trashed_reason TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	logged_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TRIGGER IF NOT EXISTS documents_after_insert AFTER INSERT ON documents
BEGIN
	INSERT INTO document_changes (event_type, id, kind, parent_id, workspace_id, owner_id,
		title, icon_id, banner_url, trashed_reason, created_at)
	VALUES ('insert', NEW.id, NEW.kind, NEW.parent_id, NEW.workspace_id, NEW.owner_id,
		NEW.title, NEW.icon_id, NEW.banner_url, NEW.trashed_reason, NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS documents_after_update AFTER UPDATE ON documents
WHEN OLD.title IS NOT NEW.title
	OR OLD.icon_id IS NOT NEW.icon_id
	OR OLD.banner_url IS NOT NEW.banner_url
	OR OLD.trashed_reason IS NOT NEW.trashed_reason
	OR OLD.content_checksum IS NOT NEW.content_checksum
BEGIN
	INSERT INTO document_changes (event_type, id, kind, parent_id, workspace_id, owner_id,
		title, icon_id, banner_url, trashed_reason, created_at)
	VALUES ('update', NEW.id, NEW.kind, NEW.parent_id, NEW.workspace_id, NEW.owner_id,
		NEW.title, NEW.icon_id, NEW.banner_url, NEW.trashed_reason, NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS documents_after_delete AFTER DELETE ON documents
BEGIN
	INSERT INTO document_changes (event_type, id, kind, parent_id, workspace_id, owner_id,
		title, icon_id, banner_url, trashed_reason, created_at)
	VALUES ('delete', OLD.id, OLD.kind, OLD.parent_id, OLD.workspace_id, OLD.owner_id,
		OLD.title, OLD.icon_id, OLD.banner_url, OLD.trashed_reason, OLD.created_at);
END;
`

var postgresSchema = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS documents (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	parent_id        TEXT,
	workspace_id     TEXT NOT NULL,
	owner_id         TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	icon_id          TEXT NOT NULL DEFAULT '',
	banner_url       TEXT NOT NULL DEFAULT '',
	content          TEXT,
	content_checksum TEXT NOT NULL DEFAULT '',
	trashed_reason   TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents(parent_id);
CREATE INDEX IF NOT EXISTS idx_documents_workspace ON documents(workspace_id);

CREATE TABLE IF NOT EXISTS document_changes (
	seq            BIGSERIAL PRIMARY KEY,
	event_type     TEXT NOT NULL,
	id             TEXT NOT NULL,
	kind           TEXT NOT NULL,
	parent_id      TEXT,
	workspace_id   TEXT NOT NULL,
	owner_id       TEXT NOT NULL,
	title          TEXT NOT NULL,
	icon_id        TEXT NOT NULL,
	banner_url     TEXT NOT NULL,
	trashed_reason TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	logged_at      TEXT NOT NULL DEFAULT to_char(now() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')
);

CREATE OR REPLACE FUNCTION quire_log_document_change() RETURNS trigger AS $$
DECLARE
	r documents%%ROWTYPE;
	ev TEXT;
BEGIN
	IF TG_OP = 'DELETE' THEN
		r := OLD;
		ev := 'delete';
	ELSIF TG_OP = 'INSERT' THEN
		r := NEW;
		ev := 'insert';
	ELSE
		IF OLD.title IS NOT DISTINCT FROM NEW.title
			AND OLD.icon_id IS NOT DISTINCT FROM NEW.icon_id
			AND OLD.banner_url IS NOT DISTINCT FROM NEW.banner_url
			AND OLD.trashed_reason IS NOT DISTINCT FROM NEW.trashed_reason
			AND OLD.content_checksum IS NOT DISTINCT FROM NEW.content_checksum THEN
			RETURN NULL;
		END IF;
		r := NEW;
		ev := 'update';
	END IF;
	-- Writers outside the store take the same lock before their seq is
	-- allocated; the store already holds it.
	PERFORM pg_advisory_xact_lock(%d);
	INSERT INTO document_changes (event_type, id, kind, parent_id, workspace_id, owner_id,
		title, icon_id, banner_url, trashed_reason, created_at)
	VALUES (ev, r.id, r.kind, r.parent_id, r.workspace_id, r.owner_id,
		r.title, r.icon_id, r.banner_url, r.trashed_reason, r.created_at);
	PERFORM pg_notify(%s, '');
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS documents_log_change ON documents;
CREATE TRIGGER documents_log_change
	AFTER INSERT OR UPDATE OR DELETE ON documents
	FOR EACH ROW EXECUTE FUNCTION quire_log_document_change();
`, changeLogLock, quoteLiteral(notifyChannel))

func quoteLiteral(v string) string {
	out := make([]byte, 0, len(v)+2)
	out = append(out, '\'')
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, v[i])
	}
	return string(append(out, '\''))
}
