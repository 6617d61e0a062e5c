package diffcodec

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

func label(path string, exists bool, prefix string) string {
	if !exists {
		return "/dev/null"
	}
	return prefix + "/" + path
}

func formatRange(start, count int) string {
	if count == 1 {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

func emitHunkHeader(h Hunk) string {
	return fmt.Sprintf("@@ -%s +%s @@\n", formatRange(h.OldStart, h.OldCount), formatRange(h.NewStart, h.NewCount))
}

func emitHunkBody(h Hunk) string {
	var b strings.Builder
	for _, line := range h.Lines {
		switch line.Kind {
		case Context:
			b.WriteString(" ")
		case Add:
			b.WriteString("+")
		case Remove:
			b.WriteString("-")
		}
		b.WriteString(line.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// Emit renders a single FileDiff as one block of specloom's unified-diff
// dialect: a text block for Add/Delete/Modify, or a binary block for
// KindBinary. The binary framing line ("diff --decree ...") is emitted only
// for binary blocks, per this implementation's resolution of the dialect's
// stated open question.
func Emit(fd FileDiff) string {
	if fd.Kind == KindBinary {
		return emitBinary(fd)
	}
	return emitText(fd)
}

func emitText(fd FileDiff) string {
	oldExists := fd.Kind != KindAdd
	newExists := fd.Kind != KindDelete

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", label(fd.Path, oldExists, "a"))
	fmt.Fprintf(&b, "+++ %s\n", label(fd.Path, newExists, "b"))
	for _, h := range fd.Hunks {
		b.WriteString(emitHunkHeader(h))
		b.WriteString(emitHunkBody(h))
	}
	return b.String()
}

func emitBinary(fd FileDiff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "diff --decree a/%s b/%s\n", fd.Path, fd.Path)
	fmt.Fprintf(&b, "Binary files %s and %s differ\n", label(fd.Path, fd.OldExists, "a"), label(fd.Path, fd.NewExists, "b"))
	if fd.NewExists {
		fmt.Fprintf(&b, "Base64-Content: %s\n", base64.StdEncoding.EncodeToString(fd.Binary))
	}
	return b.String()
}

// EmitAll concatenates multiple FileDiff blocks, separating them with a
// single newline unless the preceding block already ends in one.
func EmitAll(diffs []FileDiff) string {
	var b strings.Builder
	for _, fd := range diffs {
		block := Emit(fd)
		if block == "" {
			continue
		}
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString(block)
	}
	return b.String()
}
