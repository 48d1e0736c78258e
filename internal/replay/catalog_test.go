package replay

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"steersim/engine/internal/physics"
)

func TestListFindsFinishedBundles(t *testing.T) {
	root := t.TempDir()
	clock := func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }

	for _, id := range []string{"trailer-yard", "parking"} {
		writer, _, err := NewWriter(root, id, physics.TrailerConfig(), clock)
		if err != nil {
			t.Fatalf("writer %s: %v", id, err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("close %s: %v", id, err)
		}
	}
	//1.- An open writer has no header yet and must not be listed.
	if _, _, err := NewWriter(filepath.Join(root, "live"), "open", physics.SimpleConfig(), clock); err != nil {
		t.Fatalf("open writer: %v", err)
	}

	entries, err := List(root)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Header.SessionID != "parking" || entries[1].Header.SessionID != "trailer-yard" {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if filepath.Base(entries[0].ManifestPath) != "manifest.json" {
		t.Fatalf("manifest path not resolved: %q", entries[0].ManifestPath)
	}

	data, err := MarshalEntries(entries)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded []CatalogEntry
	if err := json.Unmarshal(data, &decoded); err != nil || len(decoded) != 2 {
		t.Fatalf("unexpected marshalled entries: %s", data)
	}
}

func TestListRejectsMissingRoot(t *testing.T) {
	if _, err := List(""); err == nil {
		t.Fatalf("expected empty root to fail")
	}
	if _, err := List(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected missing root to fail")
	}
}
