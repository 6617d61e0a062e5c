package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/sipeed/specloom/internal/diffcodec"
)

// changePreviewMaxLen bounds the rendered preview so it stays a single
// terminal line even for a long changed statement.
const changePreviewMaxLen = 72

// changePreview renders a compact, single-line, character-level preview of
// a run's "changes.diff": the first changed line pair from the diff's first
// file, with the inserted/removed characters bracketed. A binary first file
// renders as "<path>: binary change", and a first file with no hunk holding
// both a removed and an added line renders as "<path>: <kind>". Returns ""
// when "changes.diff" is missing, unreadable, empty, or fails to parse.
func changePreview(runsDir, runDir string) string {
	data, err := os.ReadFile(filepath.Join(runsDir, runDir, "changes.diff"))
	if err != nil || len(data) == 0 {
		return ""
	}

	diffs, err := diffcodec.Parse(string(data))
	if err != nil || len(diffs) == 0 {
		return ""
	}

	fd := diffs[0]
	if fd.Kind == diffcodec.KindBinary {
		return fmt.Sprintf("%s: binary change", fd.Path)
	}

	oldLine, newLine, ok := firstChangedLinePair(fd.Hunks)
	if !ok {
		return fmt.Sprintf("%s: %s", fd.Path, fd.Kind)
	}

	return fmt.Sprintf("%s: %s", fd.Path, renderCharDiff(oldLine, newLine))
}

// renderCharDiff highlights the character-level differences between a
// hunk's first removed and first added line, bracketing deletions with
// "-[...]" and insertions with "+[...]", and truncates to
// changePreviewMaxLen runes.
func renderCharDiff(oldLine, newLine string) string {
	dmp := diffmatchpatch.New()
	charDiffs := dmp.DiffCleanupSemantic(dmp.DiffMain(oldLine, newLine, false))

	var b strings.Builder
	for _, d := range charDiffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString("-[" + d.Text + "]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("+[" + d.Text + "]")
		default:
			b.WriteString(d.Text)
		}
	}

	preview := strings.TrimSpace(b.String())
	runes := []rune(preview)
	if len(runes) > changePreviewMaxLen {
		preview = string(runes[:changePreviewMaxLen]) + "…"
	}
	return preview
}

// firstChangedLinePair returns the first removed line and first added line
// of the first hunk that has both, the representative pair a
// character-level diff is rendered against; ok is false when no hunk has
// both.
func firstChangedLinePair(hunks []diffcodec.Hunk) (oldLine, newLine string, ok bool) {
	for _, h := range hunks {
		var removed, added string
		haveRemoved, haveAdded := false, false
		for _, line := range h.Lines {
			switch line.Kind {
			case diffcodec.Remove:
				if !haveRemoved {
					removed, haveRemoved = line.Text, true
				}
			case diffcodec.Add:
				if !haveAdded {
					added, haveAdded = line.Text, true
				}
			}
		}
		if haveRemoved && haveAdded {
			return removed, added, true
		}
	}
	return "", "", false
}
