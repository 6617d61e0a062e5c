package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sipeed/specloom/internal/message"
)

// resolveRunRange expands a "[ID|CHAIN] [--since ID] [--through ID]"
// selection into an ordered list of run directory names under runsDir.
// ID|CHAIN resolves to every run sharing that chain; since/through bound
// the range by sequence number within the resolved set.
func resolveRunRange(runsDir, idOrChain, since, through string) ([]string, error) {
	if idOrChain == "" && since == "" && through == "" {
		latest, err := message.MostRecent(runsDir)
		if err != nil {
			return nil, err
		}
		return []string{latest}, nil
	}

	chain := idOrChain
	if chain == "" {
		if since != "" {
			chain = since
		} else {
			chain = through
		}
	}
	if id, ok := message.ParseID(chain); ok {
		chain = id.Chain
	}

	matches, err := message.ResolveID(runsDir, chain)
	if err != nil {
		return nil, err
	}

	sinceSeq, hasSince := seqOf(since)
	throughSeq, hasThrough := seqOf(through)

	var out []string
	for _, m := range matches {
		id, ok := message.ParseID(m)
		if !ok {
			continue
		}
		if hasSince && id.Seq < sinceSeq {
			continue
		}
		if hasThrough && id.Seq > throughSeq {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("no runs matched %q", idOrChain)
	}
	return out, nil
}

func seqOf(id string) (uint32, bool) {
	parsed, ok := message.ParseID(id)
	if !ok {
		return 0, false
	}
	return parsed.Seq, true
}

// allRunDirs lists every run directory under runsDir, sorted, for "--all".
func allRunDirs(runsDir string) ([]string, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// argOrEmpty returns args[0] or "" if args is empty, for commands whose
// target id is an optional positional argument.
func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}
