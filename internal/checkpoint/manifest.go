package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileEntry records the fingerprint of one file at one instant.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Mode   string `json:"mode"`
}

// Manifest maps a forward-slash relative path to its FileEntry. Key order
// has no meaning for the in-memory map; MarshalJSON always emits keys
// lexicographically sorted so the persisted form is deterministic.
type Manifest struct {
	Files map[string]FileEntry
}

type manifestJSON struct {
	Files map[string]FileEntry `json:"files"`
}

// MarshalJSON emits {"files": {...}} with keys in sorted order, matching
// Go's default map-key-sorting in encoding/json — spelled out explicitly
// here because determinism is a correctness property (§8), not incidental.
func (m Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(manifestJSON{Files: m.Files})
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	var mj manifestJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return err
	}
	m.Files = mj.Files
	return nil
}

// Keys returns the manifest's paths, sorted lexicographically.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m.Files))
	for k := range m.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sha256Hex returns the lowercase hex SHA-256 digest of data.
func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// isBinary reports whether data contains a NUL byte, per the spec's binary
// heuristic — a single pass, no MIME sniffing.
func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) != -1
}

// CreateManifest walks root and computes a FileEntry for every file.
func CreateManifest(root string) (Manifest, error) {
	paths, err := Walk(root)
	if err != nil {
		return Manifest{}, err
	}
	files := make(map[string]FileEntry, len(paths))
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return Manifest{}, fmt.Errorf("checkpoint: read %s: %w", rel, err)
		}
		mode, err := fileMode(filepath.Join(root, rel))
		if err != nil {
			return Manifest{}, fmt.Errorf("checkpoint: stat %s: %w", rel, err)
		}
		files[rel] = FileEntry{
			SHA256: sha256Hex(data),
			Size:   int64(len(data)),
			Mode:   mode,
		}
	}
	return Manifest{Files: files}, nil
}

// ContentCache is the sibling in-memory byte store captured alongside a
// Manifest. It is never persisted; it lives for the duration of one
// pipeline invocation.
type ContentCache map[string][]byte

// CaptureContentCache walks root and reads every file fully into memory.
// Call immediately after CreateManifest so the two agree on the tree state;
// a tree mutated between the two calls produces a ContentCache that may
// diverge from the Manifest, which is only caught later by VerifyIntegrity.
func CaptureContentCache(root string) (ContentCache, error) {
	paths, err := Walk(root)
	if err != nil {
		return nil, err
	}
	cache := make(ContentCache, len(paths))
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return nil, fmt.Errorf("checkpoint: read %s: %w", rel, err)
		}
		cache[rel] = data
	}
	return cache, nil
}

// SaveManifest writes m as pretty-printed JSON to path via write-then-rename.
func SaveManifest(m Manifest, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal manifest: %w", err)
	}
	return writeFileAtomic(path, data)
}

// LoadManifest reads and parses a manifest previously written by SaveManifest.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("checkpoint: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("checkpoint: parse manifest %s: %w", path, err)
	}
	return m, nil
}

// writeFileAtomic writes data to a "<path>.tmp" file and renames it into
// place, per the write-then-rename design note for persisted state.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

// WriteFileAtomic is exported for other packages (config, message, pipeline)
// that persist state under the same write-then-rename discipline.
func WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomic(path, data)
}

// Changes is the result of comparing two manifests.
type Changes struct {
	New      []string
	Deleted  []string
	Modified []string
}

// DetectChanges compares pre and post manifests: new/deleted come from the
// key-set difference, modified from a hash comparison on the intersection.
// Every list is lexicographically sorted.
func DetectChanges(pre, post Manifest) Changes {
	var c Changes
	for p := range post.Files {
		if _, ok := pre.Files[p]; !ok {
			c.New = append(c.New, p)
		}
	}
	for p := range pre.Files {
		if _, ok := post.Files[p]; !ok {
			c.Deleted = append(c.Deleted, p)
		}
	}
	for p, postEntry := range post.Files {
		if preEntry, ok := pre.Files[p]; ok && preEntry.SHA256 != postEntry.SHA256 {
			c.Modified = append(c.Modified, p)
		}
	}
	sort.Strings(c.New)
	sort.Strings(c.Deleted)
	sort.Strings(c.Modified)
	return c
}
