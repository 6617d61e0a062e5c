package diffcodec

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const truncateLen = 40

func truncate(s string) string {
	if len(s) <= truncateLen {
		return s
	}
	return s[:truncateLen] + "..."
}

// CheckConflicts performs the pre-flight check for ApplyDiffs: for Add,
// conflict iff the target already exists; for Modify/Delete (text), every
// Context/Remove line in every hunk must match the current file at its
// declared position; for Binary, only the existence constraint implied by
// whether the block carries new content is checked.
func CheckConflicts(root string, diffs []FileDiff) []Conflict {
	var conflicts []Conflict
	for _, fd := range diffs {
		full := filepath.Join(root, fd.Path)
		_, statErr := os.Stat(full)
		exists := statErr == nil

		switch fd.Kind {
		case KindAdd:
			if exists {
				conflicts = append(conflicts, Conflict{fd.Path, "file already exists"})
			}
		case KindDelete, KindModify:
			if !exists {
				conflicts = append(conflicts, Conflict{fd.Path, "file does not exist"})
				continue
			}
			data, err := os.ReadFile(full)
			if err != nil {
				conflicts = append(conflicts, Conflict{fd.Path, err.Error()})
				continue
			}
			if c, ok := checkHunkPreimage(fd, data); !ok {
				conflicts = append(conflicts, c)
			}
		case KindBinary:
			// A binary block with no new content is a deletion: the target
			// must exist. A block with new content may create or overwrite
			// freely, so existence is not checked.
			if fd.Binary == nil && !exists {
				conflicts = append(conflicts, Conflict{fd.Path, "file does not exist"})
			}
		}
	}
	return conflicts
}

// checkHunkPreimage walks each hunk from its declared old_start and compares
// Context/Remove lines against the file's actual content, stopping at the
// first mismatch and reporting exactly one conflict for the file.
func checkHunkPreimage(fd FileDiff, data []byte) (Conflict, bool) {
	actual := splitLines(data)
	for _, h := range fd.Hunks {
		idx := h.OldStart - 1
		if h.OldCount == 0 {
			idx = h.OldStart
		}
		for _, line := range h.Lines {
			if line.Kind == Add {
				continue
			}
			if idx >= len(actual) {
				return Conflict{fd.Path, fmt.Sprintf("hunk at line %d: file is shorter than expected", h.OldStart)}, false
			}
			if actual[idx] != line.Text {
				return Conflict{fd.Path, fmt.Sprintf("hunk at line %d: expected %q but found %q", h.OldStart, truncate(line.Text), truncate(actual[idx]))}, false
			}
			idx++
		}
	}
	return Conflict{}, true
}

// ApplyDiffs applies every FileDiff to root, in input order. Callers should
// run CheckConflicts first; ApplyDiffs itself performs no conflict
// detection and will happily overwrite a file whose pre-image has drifted.
func ApplyDiffs(root string, diffs []FileDiff) error {
	for _, fd := range diffs {
		full := filepath.Join(root, fd.Path)
		switch fd.Kind {
		case KindAdd, KindModify:
			if err := applyTextPatch(full, fd); err != nil {
				return fmt.Errorf("diffcodec: apply %s: %w", fd.Path, err)
			}
		case KindDelete:
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("diffcodec: delete %s: %w", fd.Path, err)
			}
		case KindBinary:
			if err := applyBinary(full, fd); err != nil {
				return fmt.Errorf("diffcodec: apply binary %s: %w", fd.Path, err)
			}
		}
	}
	return nil
}

func applyTextPatch(full string, fd FileDiff) error {
	if len(fd.Hunks) == 0 && fd.Kind == KindAdd {
		return writeWithParents(full, nil)
	}

	var oldData []byte
	hadTrailingNewline := false
	if existing, err := os.ReadFile(full); err == nil {
		oldData = existing
		hadTrailingNewline = strings.HasSuffix(string(existing), "\n")
	} else if !os.IsNotExist(err) {
		return err
	}

	oldLines := splitLines(oldData)
	newLines := applyHunksToLines(oldLines, fd.Hunks)

	content := strings.Join(newLines, "\n")
	if content != "" && (hadTrailingNewline || fd.Kind == KindAdd) {
		content += "\n"
	}
	return writeWithParents(full, []byte(content))
}

// applyHunksToLines replays each hunk's Context/Remove/Add lines against a
// single advancing cursor into oldLines, copying untouched lines verbatim
// before the first hunk, between hunks, and after the last one.
func applyHunksToLines(oldLines []string, hunks []Hunk) []string {
	var out []string
	oldIdx := 0
	for _, h := range hunks {
		start := h.OldStart - 1
		if h.OldCount == 0 {
			start = h.OldStart
		}
		for oldIdx < start && oldIdx < len(oldLines) {
			out = append(out, oldLines[oldIdx])
			oldIdx++
		}
		for _, line := range h.Lines {
			switch line.Kind {
			case Context:
				out = append(out, line.Text)
				oldIdx++
			case Remove:
				oldIdx++
			case Add:
				out = append(out, line.Text)
			}
		}
	}
	for oldIdx < len(oldLines) {
		out = append(out, oldLines[oldIdx])
		oldIdx++
	}
	return out
}

func applyBinary(full string, fd FileDiff) error {
	if fd.Binary == nil {
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return writeWithParents(full, fd.Binary)
}

func writeWithParents(full string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

// DecodeBase64 is a small helper exposed for callers (e.g. the CLI's `diff`
// inspection path) that need to decode a binary block's content outside the
// parser.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
