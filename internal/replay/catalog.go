package replay

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CatalogEntry pairs a bundle header with its resolved location.
type CatalogEntry struct {
	HeaderPath   string `json:"header_path"`
	ManifestPath string `json:"manifest_path"`
	Header       Header `json:"header"`
}

// List walks root and returns every finished bundle, ordered by session and path.
// Bundles still being written have no header yet and are skipped.
func List(root string) ([]CatalogEntry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []CatalogEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "header.json" {
			return nil
		}
		header, err := ReadHeader(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		manifest := header.FilePointer
		if !filepath.IsAbs(manifest) {
			manifest = filepath.Join(filepath.Dir(path), manifest)
		}
		entries = append(entries, CatalogEntry{HeaderPath: path, ManifestPath: manifest, Header: header})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.SessionID == entries[j].Header.SessionID {
			return entries[i].ManifestPath < entries[j].ManifestPath
		}
		return entries[i].Header.SessionID < entries[j].Header.SessionID
	})
	return entries, nil
}

// MarshalEntries produces a stable JSON representation for CLI output.
func MarshalEntries(entries []CatalogEntry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
