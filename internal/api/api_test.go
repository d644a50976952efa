package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/quire/internal/docservice"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/sse"
	"github.com/starford/quire/internal/testutil"
)

// testEnv sets up a temp SQLite store, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*docservice.Service, http.Handler) {
	t.Helper()
	svc, _ := testutil.TestService(t)
	router := NewRouter(svc, authToken != "", authToken, Mounts{})
	return svc, router
}

func do(t *testing.T, router http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedTree(t *testing.T, svc *docservice.Service) (ws, folder, file *docservice.DocumentDetail) {
	t.Helper()
	ctx := context.Background()
	var err error
	ws, err = svc.CreateDocument(ctx, docservice.CreateRequest{Kind: models.KindWorkspace, OwnerID: "alice", Title: "Home"})
	if err != nil {
		t.Fatal(err)
	}
	folder, err = svc.CreateDocument(ctx, docservice.CreateRequest{Kind: models.KindFolder, ParentID: ws.ID, Title: "Notes"})
	if err != nil {
		t.Fatal(err)
	}
	file, err = svc.CreateDocument(ctx, docservice.CreateRequest{Kind: models.KindFile, ParentID: folder.ID, Title: "Todo"})
	if err != nil {
		t.Fatal(err)
	}
	return ws, folder, file
}

func TestCreateAndGetDocument(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/documents", map[string]string{"kind": "workspace", "title": "Home", "ownerId": "alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created DocumentDetail
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	w = do(t, router, http.MethodGet, "/documents/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got DocumentDetail
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Title != "Home" || got.Kind != models.KindWorkspace || got.Content != nil {
		t.Errorf("unexpected document %+v", got)
	}
}

func TestCreateRequiresKind(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/documents", map[string]string{"title": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing kind = %d, want 400", w.Code)
	}
}

func TestCreateDuplicate(t *testing.T) {
	_, router := testEnv(t, "")
	req := map[string]string{"id": "w1", "kind": "workspace", "title": "Home"}
	do(t, router, http.MethodPost, "/documents", req)
	w := do(t, router, http.MethodPost, "/documents", req)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestPatchContent(t *testing.T) {
	svc, router := testEnv(t, "")
	_, _, file := seedTree(t, svc)

	content := `{"ops":[{"insert":"hello\n"}]}`
	w := do(t, router, http.MethodPatch, "/documents/"+file.ID, map[string]string{"content": content})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	got, err := svc.GetDocument(context.Background(), file.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content == nil || *got.Content != content {
		t.Fatalf("stored content = %v", got.Content)
	}

	w = do(t, router, http.MethodPatch, "/documents/"+file.ID, map[string]string{"title": "x"}, "If-Match", `"stale"`)
	if w.Code != http.StatusConflict {
		t.Errorf("stale If-Match = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodPatch, "/documents/"+file.ID, map[string]string{"title": "x"}, "If-Match", etag)
	if w.Code != http.StatusOK {
		t.Errorf("matching If-Match = %d, want 200", w.Code)
	}
}

func TestPatchRejectsInvalidContent(t *testing.T) {
	svc, router := testEnv(t, "")
	_, _, file := seedTree(t, svc)

	w := do(t, router, http.MethodPatch, "/documents/"+file.ID, map[string]string{"content": `{"ops":[{"delete":1}]}`})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid content = %d, want 422", w.Code)
	}
	w = do(t, router, http.MethodPatch, "/documents/"+file.ID, map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty patch = %d, want 400", w.Code)
	}
}

func TestPatchNotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPatch, "/documents/missing", map[string]string{"title": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("patch missing = %d, want 404", w.Code)
	}
}

func TestWorkspacesHydration(t *testing.T) {
	svc, router := testEnv(t, "")
	ws, folder, file := seedTree(t, svc)

	w := do(t, router, http.MethodGet, "/workspaces?owner=alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp WorkspacesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Workspaces) != 1 || resp.Workspaces[0].ID != ws.ID {
		t.Fatalf("workspaces = %+v", resp.Workspaces)
	}
	folders := resp.Workspaces[0].Folders
	if len(folders) != 1 || folders[0].ID != folder.ID || len(folders[0].Files) != 1 || folders[0].Files[0].ID != file.ID {
		t.Fatalf("folders = %+v", folders)
	}

	w = do(t, router, http.MethodGet, "/workspaces?owner=nobody", nil)
	if !strings.Contains(w.Body.String(), `"workspaces":[]`) {
		t.Errorf("empty hydration body = %s", w.Body.String())
	}
}

func TestTrashRestoreDelete(t *testing.T) {
	svc, router := testEnv(t, "")
	_, folder, file := seedTree(t, svc)

	w := do(t, router, http.MethodPost, "/documents/"+folder.ID+"/trash", map[string]string{"reason": "Deleted by alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("trash = %d", w.Code)
	}
	got, _ := svc.GetDocument(context.Background(), file.ID)
	if got.TrashedReason != "Deleted by alice" {
		t.Fatalf("file reason = %q", got.TrashedReason)
	}

	w = do(t, router, http.MethodPost, "/documents/"+folder.ID+"/restore", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("restore = %d", w.Code)
	}

	w = do(t, router, http.MethodDelete, "/documents/"+folder.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	var resp AffectedResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.IDs) != 2 || resp.IDs[0] != file.ID {
		t.Fatalf("deleted ids = %v", resp.IDs)
	}

	w = do(t, router, http.MethodDelete, "/documents/"+folder.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodPost, "/documents", map[string]string{"kind": "workspace", "title": "x"},
		"Authorization", "Bearer secret123")
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/documents?access_token=secret123", nil)
	if w.Code != http.StatusOK {
		t.Errorf("query token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/documents", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestChangesStream_AuthProtected(t *testing.T) {
	svc, _ := testutil.TestService(t)
	broker := sse.NewBroker(time.Second)
	defer broker.Close()
	router := NewRouter(svc, true, "tok", Mounts{Changes: broker})

	w := do(t, router, http.MethodGet, "/changes", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("changes without token = %d, want 401", w.Code)
	}
}

func TestChangesStream_ValidToken(t *testing.T) {
	svc, _ := testutil.TestService(t)
	broker := sse.NewBroker(time.Second)
	defer broker.Close()
	router := NewRouter(svc, true, "tok", Mounts{Changes: broker})

	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/changes", nil)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	testutil.Eventually(t, time.Second, 10*time.Millisecond, func() bool {
		return broker.ClientCount() == 1
	}, "stream should subscribe")
	broker.PublishChange(models.ChangeNotification{Seq: 7, EventType: models.ChangeInsert, Table: models.DocumentsTable,
		Row: models.ChangeRow{ID: "f9"}})

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(buf[:n]), "event: document.insert") {
		t.Errorf("stream body = %q", buf[:n])
	}
}
