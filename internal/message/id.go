// Package message implements the inbox message format: parsing and
// serializing YAML-frontmatter markdown files, completing missing fields
// (normalization), and the routine-selection fallback chain.
package message

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ID is a parsed message identifier: "<chain>-<seq>".
type ID struct {
	Chain string
	Seq   uint32
}

// String renders the canonical "<chain>-<seq>" form.
func (id ID) String() string {
	return fmt.Sprintf("%s-%d", id.Chain, id.Seq)
}

// ParseID parses a full message id like "2025022514320000-2". The chain
// component must be at least 14 characters; this accepts any chain of that
// length or longer; the implementation only generates 16-digit chains, but
// a longer chain supplied from elsewhere still parses.
func ParseID(s string) (ID, bool) {
	idx := strings.LastIndex(s, "-")
	if idx < 0 {
		return ID{}, false
	}
	chain, seqStr := s[:idx], s[idx+1:]
	seq, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return ID{}, false
	}
	if len(chain) < 14 {
		return ID{}, false
	}
	return ID{Chain: chain, Seq: uint32(seq)}, true
}

// NewChain generates a new chain id from the current time: a 14-digit
// YYYYMMDDHHmmss timestamp plus a 2-digit counter.
func NewChain(counter uint8) string {
	return fmt.Sprintf("%s%02d", time.Now().Format("20060102150405"), counter)
}

// ChainSeqFromFilename extracts (chain, seq) from a filename like
// "<chain>-<seq>.md", returning ok=false if it doesn't match that shape.
func ChainSeqFromFilename(filename string) (chain string, seq uint32, ok bool) {
	stem := strings.TrimSuffix(filename, ".md")
	if stem == filename {
		return "", 0, false
	}
	id, ok := ParseID(stem)
	if !ok {
		return "", 0, false
	}
	return id.Chain, id.Seq, true
}

// NotFoundError reports that no run directory matched a requested id prefix.
type NotFoundError struct {
	Prefix string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message not found: %s", e.Prefix)
}

// ResolveID resolves an id prefix against the run directories under
// runsDir: a full id, a bare chain id, or any unique prefix of either.
// Matches are returned sorted, which also sorts them chronologically since
// directory names are chain-seq strings.
func ResolveID(runsDir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return nil, &NotFoundError{Prefix: prefix}
	}

	var matches []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			matches = append(matches, e.Name())
		}
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, &NotFoundError{Prefix: prefix}
	}
	return matches, nil
}

// MostRecent returns the lexicographically last run directory name under
// runsDir, which is also the chronologically most recent one.
func MostRecent(runsDir string) (string, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return "", &NotFoundError{Prefix: "(no runs)"}
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", &NotFoundError{Prefix: "(no runs)"}
	}
	sort.Strings(dirs)
	return dirs[len(dirs)-1], nil
}

// DirName returns the run directory name for a message id.
func (id ID) DirName() string { return id.String() }

// RunDir joins the state directory's runs path with this id's directory name.
func RunDir(stateDir string, id ID) string {
	return filepath.Join(stateDir, "runs", id.DirName())
}
