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

	"github.com/starford/extt/internal/autosave"
	"github.com/starford/extt/internal/noteservice"
	"github.com/starford/extt/pkg/markdown"
)

func do(t *testing.T, router http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, router http.Handler, path, content string) NoteDetail {
	t.Helper()
	w := do(t, router, http.MethodPost, "/notes", map[string]string{"path": path, "content": content})
	if w.Code != http.StatusCreated {
		t.Fatalf("seed %s = %d, body = %s", path, w.Code, w.Body.String())
	}
	var n NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &n)
	return n
}

func testEnvAutosave(t *testing.T) (*noteservice.Service, http.Handler) {
	t.Helper()
	svc := newService(t)
	saver := autosave.New(func(ctx context.Context, path string, doc markdown.Document) error {
		_, err := svc.SaveDocument(ctx, path, doc, "")
		return err
	}, autosave.WithDelay(20*time.Millisecond))
	t.Cleanup(func() { _ = saver.Close(context.Background()) })
	return svc, NewRouter(NewHandler(svc, saver), false, "", nil)
}

func TestGetDocument(t *testing.T) {
	_, router := testEnv(t, "")
	created := seed(t, router, "doc.md", "---\ntags: [a]\n---\n# Title\n\nSome **bold** text.\n")

	w := do(t, router, http.MethodGet, "/documents/doc.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get document = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("ETag"); got != `"`+created.Checksum+`"` {
		t.Errorf("ETag = %q", got)
	}
	var doc DocumentDetail
	_ = json.Unmarshal(w.Body.Bytes(), &doc)
	if len(doc.Document) != 2 || doc.Document[0].Kind != markdown.KindHeadingOne {
		t.Fatalf("document = %+v", doc.Document)
	}
	if runs := doc.Document[1].Children; len(runs) != 3 || !runs[1].Bold {
		t.Errorf("paragraph runs = %+v", runs)
	}

	if w := do(t, router, http.MethodGet, "/documents/none.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing document = %d, want 404", w.Code)
	}
}

func TestSaveDocument_Synchronous(t *testing.T) {
	_, router := testEnv(t, "")
	created := seed(t, router, "s.md", "---\ntitle: Keep\n---\nOld.\n")

	doc := markdown.Document{markdown.NewHeading(2, "Fresh"), markdown.NewParagraph("New body.")}
	w := do(t, router, http.MethodPut, "/documents/s.md", SaveDocumentRequest{Document: doc}, "If-Match", created.Checksum)
	if w.Code != http.StatusOK {
		t.Fatalf("save = %d, body = %s", w.Code, w.Body.String())
	}
	var n NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &n)
	if want := "---\ntitle: Keep\n---\n## Fresh\n\nNew body.\n"; n.Content != want {
		t.Errorf("content = %q, want %q", n.Content, want)
	}

	w = do(t, router, http.MethodPut, "/documents/s.md", SaveDocumentRequest{Document: doc}, "If-Match", created.Checksum)
	if w.Code != http.StatusConflict {
		t.Errorf("stale save = %d, want 409", w.Code)
	}
}

func TestSaveDocument_Autosave(t *testing.T) {
	svc, router := testEnvAutosave(t)
	seed(t, router, "auto.md", "draft\n")

	for _, text := range []string{"d", "do", "done"} {
		doc := markdown.Document{markdown.NewParagraph(text)}
		w := do(t, router, http.MethodPut, "/documents/auto.md", SaveDocumentRequest{Document: doc})
		if w.Code != http.StatusAccepted {
			t.Fatalf("queued save = %d, body = %s", w.Code, w.Body.String())
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := svc.GetNote(context.Background(), "auto.md")
		if err == nil && n.Content == "done\n" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("autosave never wrote the latest document")
}

func TestSynchronousWriteCancelsQueuedSave(t *testing.T) {
	svc, router := testEnvAutosave(t)
	created := seed(t, router, "race.md", "start\n")

	older := SaveDocumentRequest{Document: markdown.Document{markdown.NewParagraph("older draft")}}
	if w := do(t, router, http.MethodPut, "/documents/race.md", older); w.Code != http.StatusAccepted {
		t.Fatalf("queued save = %d, body = %s", w.Code, w.Body.String())
	}
	newer := SaveDocumentRequest{Document: markdown.Document{markdown.NewParagraph("newer checked save")}}
	w := do(t, router, http.MethodPut, "/documents/race.md", newer, "If-Match", created.Checksum)
	if w.Code != http.StatusOK {
		t.Fatalf("checked save = %d, body = %s", w.Code, w.Body.String())
	}

	// Well past the autosave delay.
	time.Sleep(100 * time.Millisecond)
	n, err := svc.GetNote(context.Background(), "race.md")
	if err != nil {
		t.Fatal(err)
	}
	if n.Content != "newer checked save\n" {
		t.Errorf("content = %q, queued save overwrote the checked one", n.Content)
	}

	// The same holds for a raw PUT /notes and for DELETE.
	if w := do(t, router, http.MethodPut, "/documents/race.md", older); w.Code != http.StatusAccepted {
		t.Fatalf("queued save = %d", w.Code)
	}
	if w := do(t, router, http.MethodPut, "/notes/race.md", map[string]string{"content": "raw\n"}); w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}
	time.Sleep(100 * time.Millisecond)
	if n, _ := svc.GetNote(context.Background(), "race.md"); n == nil || n.Content != "raw\n" {
		t.Errorf("note after update = %+v", n)
	}

	if w := do(t, router, http.MethodPut, "/documents/race.md", older); w.Code != http.StatusAccepted {
		t.Fatalf("queued save = %d", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/notes/race.md", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := svc.GetNote(context.Background(), "race.md"); err == nil {
		t.Error("queued save resurrected a deleted note")
	}
}

func TestSaveDocument_Rejects(t *testing.T) {
	_, router := testEnvAutosave(t)
	seed(t, router, "r.md", "x\n")

	bad := map[string]any{"document": []map[string]any{{"type": "table", "children": []any{}}}}
	if w := do(t, router, http.MethodPut, "/documents/r.md", bad); w.Code != http.StatusBadRequest {
		t.Errorf("unknown block type = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPut, "/documents/r.md", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing document = %d, want 400", w.Code)
	}
	doc := SaveDocumentRequest{Document: markdown.Document{markdown.NewParagraph("y")}}
	if w := do(t, router, http.MethodPut, "/documents/ghost.md", doc); w.Code != http.StatusNotFound {
		t.Errorf("unknown note = %d, want 404", w.Code)
	}
}

func TestMarkdownParseAndRender(t *testing.T) {
	_, router := testEnv(t, "")
	src := "# T\n\n- item\n\n> quoted"

	w := do(t, router, http.MethodPost, "/markdown/parse", ParseRequest{Markdown: src})
	if w.Code != http.StatusOK {
		t.Fatalf("parse = %d", w.Code)
	}
	var parsed DocumentResponse
	_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	if len(parsed.Document) != 2 {
		t.Errorf("dropped-list parse = %+v", parsed.Document)
	}

	w = do(t, router, http.MethodPost, "/markdown/parse", ParseRequest{Markdown: src, PreserveUnsupported: true})
	_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	if len(parsed.Document) != 3 {
		t.Errorf("preserving parse = %+v", parsed.Document)
	}

	w = do(t, router, http.MethodPost, "/markdown/render", RenderRequest{Document: parsed.Document})
	if w.Code != http.StatusOK {
		t.Fatalf("render = %d", w.Code)
	}
	var rendered MarkdownResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rendered)
	if rendered.Markdown != src {
		t.Errorf("render = %q, want %q", rendered.Markdown, src)
	}
}

func TestMoveEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	seed(t, router, "from.md", "# From\n")

	w := do(t, router, http.MethodPost, "/notes/move", MoveNoteRequest{From: "from.md", To: "dir/to.md"})
	if w.Code != http.StatusOK {
		t.Fatalf("move = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/notes/dir%2Fto.md", nil); w.Code != http.StatusOK {
		t.Errorf("get moved note = %d", w.Code)
	}

	cases := []struct {
		req  MoveNoteRequest
		want int
	}{
		{MoveNoteRequest{From: "dir/to.md", To: "dir/to.md"}, http.StatusBadRequest},
		{MoveNoteRequest{From: "dir/to.md", To: "../escape.md"}, http.StatusBadRequest},
		{MoveNoteRequest{From: "ghost.md", To: "x.md"}, http.StatusNotFound},
	}
	for _, c := range cases {
		if w := do(t, router, http.MethodPost, "/notes/move", c.req); w.Code != c.want {
			t.Errorf("move %+v = %d, want %d", c.req, w.Code, c.want)
		}
	}
}

func TestInvalidPathIsBadRequest(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/notes", map[string]string{"path": "../../etc/x.md", "content": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("traversal create = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPost, "/notes", map[string]string{"path": "script.sh", "content": "x"})
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "invalid path") {
		t.Errorf("non-markdown create = %d %s", w.Code, w.Body.String())
	}
}
