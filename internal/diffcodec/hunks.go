package diffcodec

import "github.com/pmezard/go-difflib/difflib"

// hunksFromLines computes the hunks transforming oldLines into newLines at
// the spec's fixed context radius of 3, using go-difflib's grouped-opcode
// matcher to find the longest-common-subsequence alignment; this package
// owns only the unified-diff framing around that alignment.
func hunksFromLines(oldLines, newLines []string) []Hunk {
	matcher := difflib.NewMatcher(oldLines, newLines)
	groups := matcher.GetGroupedOpCodes(3)

	hunks := make([]Hunk, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		i1, i2 := group[0].I1, group[len(group)-1].I2
		j1, j2 := group[0].J1, group[len(group)-1].J2

		h := Hunk{
			OldStart: rangeStart(i1, i2),
			OldCount: i2 - i1,
			NewStart: rangeStart(j1, j2),
			NewCount: j2 - j1,
		}

		for _, op := range group {
			switch op.Tag {
			case 'e':
				for _, line := range oldLines[op.I1:op.I2] {
					h.Lines = append(h.Lines, DiffLine{Kind: Context, Text: line})
				}
			case 'd':
				for _, line := range oldLines[op.I1:op.I2] {
					h.Lines = append(h.Lines, DiffLine{Kind: Remove, Text: line})
				}
			case 'i':
				for _, line := range newLines[op.J1:op.J2] {
					h.Lines = append(h.Lines, DiffLine{Kind: Add, Text: line})
				}
			case 'r':
				for _, line := range oldLines[op.I1:op.I2] {
					h.Lines = append(h.Lines, DiffLine{Kind: Remove, Text: line})
				}
				for _, line := range newLines[op.J1:op.J2] {
					h.Lines = append(h.Lines, DiffLine{Kind: Add, Text: line})
				}
			}
		}
		hunks = append(hunks, h)
	}
	return hunks
}

// rangeStart converts a 0-based half-open [start,end) range into the
// unified-diff 1-based start, with the degenerate empty-range convention
// (count 0 reports the position before the gap, 0-based).
func rangeStart(start, end int) int {
	if end == start {
		return start
	}
	return start + 1
}
