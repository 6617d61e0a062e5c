// Package checkpoint implements the tree walker, manifest builder, content
// cache, diff generation, and revert/verify operations that back specloom's
// checkpoint-and-revert engine.
package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// StateDirName is the name of specloom's own state directory, always
// excluded from walks regardless of ignore rules.
const StateDirName = ".decree"

const vcsDirName = ".git"

// ignoreRuleFiles are honoured during descent even when no VCS metadata
// directory is present.
var ignoreRuleFiles = []string{".gitignore", ".decreeignore"}

// ignoreSet holds compiled glob patterns collected from ignore files
// encountered on the path from root down to a given directory.
type ignoreSet struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	dir     string // directory (relative to walk root) the pattern was read from
	pattern string
	negate  bool
}

func loadIgnoreFile(root, dir, name string) ([]ignorePattern, error) {
	path := filepath.Join(root, dir, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []ignorePattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		negate := strings.HasPrefix(line, "!")
		if negate {
			line = line[1:]
		}
		patterns = append(patterns, ignorePattern{dir: dir, pattern: line, negate: negate})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// matches reports whether relpath (forward-slash, relative to root) is
// ignored by the accumulated pattern set. Later patterns (deeper
// directories, later lines) take precedence, matching conventional
// .gitignore semantics closely enough for this system's purposes.
func (s *ignoreSet) matches(relpath string, isDir bool) bool {
	ignored := false
	base := filepath.Base(relpath)
	for _, p := range s.patterns {
		pat := p.pattern
		dirOnly := strings.HasSuffix(pat, "/")
		if dirOnly {
			pat = strings.TrimSuffix(pat, "/")
			if !isDir {
				continue
			}
		}

		// Scope the pattern to files/dirs under the directory that defined it.
		scoped := relpath
		if p.dir != "" {
			prefix := p.dir + "/"
			if !strings.HasPrefix(relpath+"/", prefix) {
				continue
			}
			scoped = strings.TrimPrefix(relpath, prefix)
		}

		anchored := strings.Contains(pat, "/")
		candidates := []string{scoped, base}
		if anchored {
			candidates = []string{scoped}
		}

		for _, c := range candidates {
			if ok, _ := filepath.Match(pat, c); ok {
				ignored = !p.negate
				break
			}
		}
	}
	return ignored
}

// Walk enumerates project-relative file paths under root, honouring
// .gitignore and .decreeignore files encountered during descent, and
// excluding the state directory and VCS metadata unconditionally.
// Results are returned as forward-slash relative paths in byte-wise
// lexicographic order; directories are never returned. The walk is
// all-or-nothing: any unreadable directory aborts with an error and no
// partial result.
func Walk(root string) ([]string, error) {
	var out []string
	base := ignoreSet{}
	if err := walkDir(root, "", base, &out); err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

func walkDir(root, reldir string, parent ignoreSet, out *[]string) error {
	absDir := filepath.Join(root, reldir)
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return err
	}

	local := parent
	for _, name := range ignoreRuleFiles {
		pats, err := loadIgnoreFile(root, reldir, name)
		if err != nil {
			return err
		}
		local.patterns = append(append([]ignorePattern{}, local.patterns...), pats...)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		rel := name
		if reldir != "" {
			rel = reldir + "/" + name
		}

		if reldir == "" && (name == StateDirName || name == vcsDirName) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		isDir := entry.IsDir()
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(filepath.Join(absDir, name))
			if err != nil {
				log.Warn().Str("path", rel).Err(err).Msg("checkpoint: skipping broken symlink")
				continue
			}
			absRoot, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			if !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) && resolved != absRoot {
				continue // symlink escapes root; skip per spec's stated policy
			}
			fi, err := os.Stat(resolved)
			if err != nil {
				return err
			}
			isDir = fi.IsDir()
		}

		if local.matches(rel, isDir) {
			continue
		}

		if isDir {
			if err := walkDir(root, rel, local, out); err != nil {
				return err
			}
			continue
		}

		*out = append(*out, rel)
	}
	return nil
}
