package index

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/extt/internal/apperr"
	"github.com/starford/extt/internal/models"
	"github.com/starford/extt/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "extt-test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func upsert(t *testing.T, db *DB, path, title string, tags []string, body string, links ...string) {
	t.Helper()
	row := NoteRow{Path: path, Title: title, Checksum: path + "-cs", Tags: tags, UpdatedAt: time.Now()}
	if err := db.UpsertNote(row, body, links); err != nil {
		t.Fatalf("UpsertNote(%s): %v", path, err)
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&count); err != nil {
		t.Fatalf("notes table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM links`).Scan(&count); err != nil {
		t.Fatalf("links table missing: %v", err)
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	row := NoteRow{
		Path:      "hello.md",
		Title:     "Hello World",
		Checksum:  "abc123",
		Tags:      []string{"go", "test"},
		UpdatedAt: time.Now(),
	}
	if err := db.UpsertNote(row, "This is a hello world note.", []string{"other"}); err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	cs, err := db.GetChecksum("hello.md")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}
}

func TestGetNote(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "g.md", "Got", []string{"a", "b"}, "body")

	n, err := db.GetNote("g.md")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if n.Title != "Got" || len(n.Tags) != 2 || n.Tags[1] != "b" {
		t.Errorf("note = %+v", n)
	}
	if n.UpdatedAt.IsZero() {
		t.Error("updated_at not scanned")
	}

	if _, err := db.GetNote("missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetNote missing: err = %v, want ErrNotFound", err)
	}
}

func TestListNotes(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "c.md", "alpha", []string{"x"}, "")
	upsert(t, db, "a.md", "Charlie", []string{"x", "y"}, "")
	upsert(t, db, "b.md", "bravo", nil, "")

	notes, total, err := db.ListNotes(2, 0, "", SortPath)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if total != 3 || len(notes) != 2 || notes[0].Path != "a.md" || notes[1].Path != "b.md" {
		t.Errorf("page 1 = %+v (total %d)", notes, total)
	}
	notes, _, _ = db.ListNotes(2, 2, "", SortPath)
	if len(notes) != 1 || notes[0].Path != "c.md" {
		t.Errorf("page 2 = %+v", notes)
	}

	notes, _, _ = db.ListNotes(10, 0, "", SortTitle)
	if notes[0].Title != "alpha" || notes[1].Title != "bravo" || notes[2].Title != "Charlie" {
		t.Errorf("title order = %q %q %q", notes[0].Title, notes[1].Title, notes[2].Title)
	}

	notes, total, _ = db.ListNotes(10, 0, "y", "")
	if total != 1 || len(notes) != 1 || notes[0].Path != "a.md" {
		t.Errorf("tag filter = %+v (total %d)", notes, total)
	}
	if notes, _, _ := db.ListNotes(10, 0, "", ""); notes[1].Tags == nil {
		t.Error("tags should never be nil")
	}
}

func TestBacklinks(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "a.md", "", nil, "body", "b.md")
	upsert(t, db, "c.md", "", nil, "body", "b.md")

	bl, err := db.Backlinks("b.md")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 2 {
		t.Fatalf("expected 2 backlinks, got %d", len(bl))
	}
}

func TestBacklinks_ResolvesNames(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "projects/Roadmap.md", "Q3 Plan", nil, "")
	upsert(t, db, "wiki.md", "", nil, "", "roadmap")
	upsert(t, db, "title.md", "", nil, "", "q3 plan")
	upsert(t, db, "full.md", "", nil, "", "projects/roadmap")
	upsert(t, db, "other.md", "", nil, "", "elsewhere")

	bl, err := db.Backlinks("projects/Roadmap.md")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	want := []string{"full.md", "title.md", "wiki.md"}
	if len(bl) != len(want) {
		t.Fatalf("backlinks = %v, want %v", bl, want)
	}
	for i := range want {
		if bl[i] != want[i] {
			t.Errorf("backlinks[%d] = %q, want %q", i, bl[i], want[i])
		}
	}
}

func TestDeleteNote(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "del.md", "", nil, "body", "target")

	if err := db.DeleteNote("del.md"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	cs, _ := db.GetChecksum("del.md")
	if cs != "" {
		t.Errorf("deleted note still has checksum %q", cs)
	}
	bl, _ := db.Backlinks("target.md")
	if len(bl) != 0 {
		t.Errorf("expected 0 backlinks after delete, got %d", len(bl))
	}
}

func TestMoveNote(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "old.md", "Old", nil, "movable words", "target")

	if err := db.MoveNote("old.md", "sub/new.md"); err != nil {
		t.Fatalf("MoveNote: %v", err)
	}
	if cs, _ := db.GetChecksum("old.md"); cs != "" {
		t.Error("old path still indexed")
	}
	if _, err := db.GetNote("sub/new.md"); err != nil {
		t.Errorf("new path missing: %v", err)
	}
	bl, _ := db.Backlinks("target.md")
	if len(bl) != 1 || bl[0] != "sub/new.md" {
		t.Errorf("links not re-keyed: %v", bl)
	}
	res, _ := db.Search("movable", 10)
	if len(res) != 1 || res[0].Path != "sub/new.md" {
		t.Errorf("search after move = %+v", res)
	}

	if err := db.MoveNote("ghost.md", "x.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("MoveNote missing: err = %v, want ErrNotFound", err)
	}
}

func TestGraph(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "a.md", "A", []string{"t"}, "", "b", "B.md", "nowhere", "a")
	upsert(t, db, "b.md", "B", nil, "", "A")

	nodes, links, err := db.Graph()
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	if len(nodes) != 2 || nodes[0].ID != "a.md" || nodes[0].Tags[0] != "t" {
		t.Errorf("nodes = %+v", nodes)
	}
	want := []models.Link{
		{Source: "a.md", Target: "b.md", Type: "inline"},
		{Source: "b.md", Target: "a.md", Type: "inline"},
	}
	if len(links) != len(want) {
		t.Fatalf("links = %+v, want %+v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %+v, want %+v", i, links[i], want[i])
		}
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "up.md", "Old", nil, "old body", "x")
	upsert(t, db, "up.md", "New", []string{"new"}, "new body", "y")

	n, _ := db.GetNote("up.md")
	if n.Title != "New" {
		t.Errorf("title = %q, want New", n.Title)
	}
	bl, _ := db.Backlinks("x.md")
	if len(bl) != 0 {
		t.Error("old link should be removed on upsert")
	}
	bl, _ = db.Backlinks("y.md")
	if len(bl) != 1 {
		t.Error("new link should exist")
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	upsert(t, db, "s.md", "Search Me", nil, "uniqueword appears here")

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "s.md" {
		t.Errorf("search results = %+v, want 1 hit for s.md", results)
	}
	if results, _ := db.Search("   ", 10); len(results) != 0 {
		t.Errorf("blank query returned %+v", results)
	}
}

func TestSync_UsesNoteCodec(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	src := "---\ntitle: Trip\ntags: [travel]\n---\n# Heading\n\nPacking **list** for [[Gear]] and #summer.\n\n```\n#notatag\n```\n"
	_ = store.Write("trip.md", []byte(src))
	_ = store.Write("gear.md", []byte("# Gear\n"))

	stats, err := Sync(db, store, quietLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats != (SyncStats{Added: 2}) {
		t.Errorf("first sync = %+v", stats)
	}

	n, err := db.GetNote("trip.md")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if n.Title != "Trip" {
		t.Errorf("title = %q, want frontmatter title", n.Title)
	}
	if len(n.Tags) != 2 || n.Tags[0] != "travel" || n.Tags[1] != "summer" {
		t.Errorf("tags = %v", n.Tags)
	}
	bl, _ := db.Backlinks("gear.md")
	if len(bl) != 1 || bl[0] != "trip.md" {
		t.Errorf("backlinks = %v", bl)
	}
	res, _ := db.Search("Packing list", 10)
	if len(res) != 1 {
		t.Errorf("body not indexed as plain text: %+v", res)
	}

	_ = os.Remove(filepath.Join(dir, "gear.md"))
	_ = store.Write("trip.md", []byte("# Trip\n"))
	_ = os.WriteFile(filepath.Join(dir, "bad.md"), []byte{0xff, 0xfe}, 0o644)
	stats, err = Sync(db, store, quietLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats != (SyncStats{Updated: 1, Removed: 1, Failed: 1}) {
		t.Errorf("second sync = %+v", stats)
	}
	if cs, _ := db.GetChecksum("gear.md"); cs != "" {
		t.Error("stale entry not removed")
	}
}
