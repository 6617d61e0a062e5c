package diffcodec

import "strings"

// splitLines splits file content into lines without a trailing empty
// element for a final newline. An empty file yields no lines.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	s := strings.TrimSuffix(string(data), "\n")
	return strings.Split(s, "\n")
}

// BuildTextFileDiff computes the FileDiff for a text file given its pre- and
// post-image bytes. oldExists/newExists distinguish "no such side" (add or
// delete) from "empty file".
func BuildTextFileDiff(path string, oldData []byte, oldExists bool, newData []byte, newExists bool) FileDiff {
	kind := KindModify
	switch {
	case !oldExists && newExists:
		kind = KindAdd
	case oldExists && !newExists:
		kind = KindDelete
	}

	var oldLines, newLines []string
	if oldExists {
		oldLines = splitLines(oldData)
	}
	if newExists {
		newLines = splitLines(newData)
	}

	return FileDiff{
		Path:      path,
		Kind:      kind,
		Hunks:     hunksFromLines(oldLines, newLines),
		OldExists: oldExists,
		NewExists: newExists,
	}
}

// BuildBinaryFileDiff constructs the FileDiff for a file where either image
// is binary (contains a NUL byte). newData/newExists==false means deletion.
func BuildBinaryFileDiff(path string, oldExists bool, newData []byte, newExists bool) FileDiff {
	fd := FileDiff{Path: path, Kind: KindBinary, OldExists: oldExists, NewExists: newExists}
	if newExists {
		fd.Binary = newData
	}
	return fd
}

// HasHunks reports whether a text FileDiff actually changes anything — an
// add/delete/modify triple that happens to produce no hunks (e.g. two
// identical empty files) carries no content.
func (fd FileDiff) HasHunks() bool {
	return len(fd.Hunks) > 0
}
