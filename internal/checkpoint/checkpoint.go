package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sipeed/specloom/internal/diffcodec"
)

// Checkpoint pairs a Manifest with the ContentCache captured alongside it.
// The ContentCache never leaves memory; only the Manifest is persisted.
type Checkpoint struct {
	Manifest Manifest
	Content  ContentCache
}

// Capture walks root once and builds a Checkpoint from it. The manifest and
// content cache are built from the same Walk() result so their key sets
// agree by construction (invariant I1).
func Capture(root string) (Checkpoint, error) {
	paths, err := Walk(root)
	if err != nil {
		return Checkpoint{}, err
	}
	files := make(map[string]FileEntry, len(paths))
	content := make(ContentCache, len(paths))
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return Checkpoint{}, fmt.Errorf("checkpoint: read %s: %w", rel, err)
		}
		mode, err := fileMode(filepath.Join(root, rel))
		if err != nil {
			return Checkpoint{}, fmt.Errorf("checkpoint: stat %s: %w", rel, err)
		}
		files[rel] = FileEntry{SHA256: sha256Hex(data), Size: int64(len(data)), Mode: mode}
		content[rel] = data
	}
	return Checkpoint{Manifest: Manifest{Files: files}, Content: content}, nil
}

// IntegrityError reports a mismatch between a Manifest and the files
// actually present on disk.
type IntegrityError struct {
	Mismatches []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checkpoint integrity: %d mismatch(es): %v", len(e.Mismatches), e.Mismatches)
}

// VerifyIntegrity re-reads every path in manifest from root on disk and
// checks invariants I2/I3 against it: each file's recomputed hash, size, and
// mode must match the manifest's record. Unlike a check against a
// Checkpoint's own in-memory ContentCache, this reads the real tree, so it
// is the only check capable of catching an incomplete or failed Revert.
func VerifyIntegrity(root string, manifest Manifest) error {
	var mismatches []string

	for path, entry := range manifest.Files {
		full := filepath.Join(root, path)
		data, err := os.ReadFile(full)
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		if int64(len(data)) != entry.Size {
			mismatches = append(mismatches, fmt.Sprintf("%s: size mismatch: manifest %d, disk %d", path, entry.Size, len(data)))
			continue
		}
		if sha256Hex(data) != entry.SHA256 {
			mismatches = append(mismatches, fmt.Sprintf("%s: hash mismatch", path))
			continue
		}
		mode, err := fileMode(full)
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: stat: %v", path, err))
			continue
		}
		if mode != entry.Mode {
			mismatches = append(mismatches, fmt.Sprintf("%s: mode mismatch: manifest %s, disk %s", path, entry.Mode, mode))
		}
	}

	sort.Strings(mismatches)
	if len(mismatches) > 0 {
		return &IntegrityError{Mismatches: mismatches}
	}
	return nil
}

// GenerateDiff produces the FileDiff blocks describing the change from pre
// to post, using post's ContentCache for post-images and pre's ContentCache
// for pre-images. A file is treated as binary, and emitted as a KindBinary
// block, the moment either image contains a NUL byte.
func GenerateDiff(pre, post Checkpoint) []diffcodec.FileDiff {
	changes := DetectChanges(pre.Manifest, post.Manifest)

	var diffs []diffcodec.FileDiff
	for _, path := range changes.New {
		diffs = append(diffs, buildDiff(path, nil, false, post.Content[path], true))
	}
	for _, path := range changes.Deleted {
		diffs = append(diffs, buildDiff(path, pre.Content[path], true, nil, false))
	}
	for _, path := range changes.Modified {
		diffs = append(diffs, buildDiff(path, pre.Content[path], true, post.Content[path], true))
	}

	return diffs
}

// removeEmptyParents walks upward from dir, removing now-empty directories,
// until it reaches root or hits a directory that still has entries.
func removeEmptyParents(root, dir string) error {
	clean := filepath.Clean(dir)
	rootClean := filepath.Clean(root)
	for clean != rootClean && len(clean) > len(rootClean) {
		entries, err := os.ReadDir(clean)
		if err != nil {
			if os.IsNotExist(err) {
				clean = filepath.Dir(clean)
				continue
			}
			return err
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(clean); err != nil && !os.IsNotExist(err) {
			return err
		}
		clean = filepath.Dir(clean)
	}
	return nil
}

func buildDiff(path string, oldData []byte, oldExists bool, newData []byte, newExists bool) diffcodec.FileDiff {
	if (oldExists && isBinary(oldData)) || (newExists && isBinary(newData)) {
		return diffcodec.BuildBinaryFileDiff(path, oldExists, newData, newExists)
	}
	return diffcodec.BuildTextFileDiff(path, oldData, oldExists, newData, newExists)
}

// Revert restores root to the state captured in the pre Checkpoint: files
// added since pre are removed, files deleted since pre are restored from
// its ContentCache, and files modified since pre are overwritten from it.
// Mode is restored alongside content wherever the platform supports it.
func Revert(root string, pre Checkpoint, post Checkpoint) error {
	changes := DetectChanges(pre.Manifest, post.Manifest)

	for _, path := range changes.New {
		full := filepath.Join(root, path)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("checkpoint: revert: remove %s: %w", path, err)
		}
		if err := removeEmptyParents(root, filepath.Dir(full)); err != nil {
			return fmt.Errorf("checkpoint: revert: clean up parents of %s: %w", path, err)
		}
	}

	restore := append(append([]string{}, changes.Deleted...), changes.Modified...)
	for _, path := range restore {
		full := filepath.Join(root, path)
		data, ok := pre.Content[path]
		if !ok {
			return fmt.Errorf("checkpoint: revert: %s missing from pre-checkpoint content cache", path)
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("checkpoint: revert: mkdir for %s: %w", path, err)
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return fmt.Errorf("checkpoint: revert: write %s: %w", path, err)
		}
		if entry, ok := pre.Manifest.Files[path]; ok {
			if err := restoreMode(full, entry.Mode); err != nil {
				return fmt.Errorf("checkpoint: revert: restore mode for %s: %w", path, err)
			}
		}
	}

	return nil
}
