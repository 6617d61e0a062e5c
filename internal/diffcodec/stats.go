package diffcodec

import "strings"

// ComputeStats line-scans raw diff text, counting lines starting with '+' or
// '-' (excluding the "+++ "/"--- " header lines) and unioning referenced
// file paths.
func ComputeStats(diffText string) Stats {
	var stats Stats
	seen := make(map[string]struct{})

	lines := strings.Split(diffText, "\n")
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "--- "):
			if path, exists := pathFromLabel(strings.TrimPrefix(strings.TrimPrefix(line, "+++ "), "--- ")); exists {
				if _, ok := seen[path]; !ok {
					seen[path] = struct{}{}
					stats.FilesCount++
				}
			}
		case strings.HasPrefix(line, "diff --decree "):
			rest, _ := stripPrefix(line, "diff --decree ")
			parts := strings.SplitN(rest, " b/", 2)
			if len(parts) == 2 {
				path, _ := stripPrefix(parts[0], "a/")
				if _, ok := seen[path]; !ok {
					seen[path] = struct{}{}
					stats.FilesCount++
				}
			}
		case strings.HasPrefix(line, "+"):
			stats.Additions++
		case strings.HasPrefix(line, "-"):
			stats.Deletions++
		}
	}
	return stats
}
