// Package routine discovers, resolves, and executes specloom's executable
// routines: shell scripts and Jupyter notebooks living under
// ".decree/routines/".
package routine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Format is the tagged variant of a routine file.
type Format int

const (
	Shell Format = iota
	Notebook
)

func (f Format) String() string {
	if f == Notebook {
		return "notebook"
	}
	return "shell"
}

// StandardParams are the parameter names injected into every routine
// invocation, beyond whatever custom parameters the routine itself declares.
var StandardParams = []string{
	"spec_file", "message_file", "message_id", "message_dir", "chain", "seq",
}

func isStandardParam(name string) bool {
	for _, p := range StandardParams {
		if p == name {
			return true
		}
	}
	return false
}

// Resolved is a routine ready for execution.
type Resolved struct {
	Name   string
	Path   string
	Format Format
}

// Info is a discovered routine's name and description, used to build the
// router prompt.
type Info struct {
	Name        string
	Description string
}

// NotFoundError reports that a named routine could not be resolved.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return "routine not found: " + e.Name }

func routinesDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".decree", "routines")
}

// DiscoverRoutines scans ".decree/routines" for "*.sh" files and, when
// notebookSupport is set, "*.ipynb" files. A name present as both formats is
// deduplicated into one Info, with the shell script's description taking
// precedence.
func DiscoverRoutines(projectRoot string, notebookSupport bool) ([]Info, error) {
	dir := routinesDir(projectRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type descPair struct {
		sh, ipynb    string
		hasSh, hasNb bool
	}
	byName := make(map[string]*descPair)
	var names []string

	for _, e := range entries {
		name := e.Name()
		if stem, ok := strings.CutSuffix(name, ".sh"); ok {
			desc, _ := extractShDescription(filepath.Join(dir, name))
			p, ok := byName[stem]
			if !ok {
				p = &descPair{}
				byName[stem] = p
				names = append(names, stem)
			}
			p.sh, p.hasSh = desc, true
		} else if notebookSupport {
			if stem, ok := strings.CutSuffix(name, ".ipynb"); ok {
				desc, _ := extractIpynbDescription(filepath.Join(dir, name))
				p, ok := byName[stem]
				if !ok {
					p = &descPair{}
					byName[stem] = p
					names = append(names, stem)
				}
				p.ipynb, p.hasNb = desc, true
			}
		}
	}

	sort.Strings(names)
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		p := byName[name]
		desc := p.ipynb
		if p.hasSh {
			desc = p.sh
		}
		infos = append(infos, Info{Name: name, Description: desc})
	}
	return infos, nil
}

// ResolveRoutine resolves a routine name to a file, honouring extension
// precedence: an explicit ".sh"/".ipynb" suffix is used directly; otherwise,
// when notebookSupport is set, ".ipynb" is tried before ".sh".
func ResolveRoutine(projectRoot, name string, notebookSupport bool) (Resolved, error) {
	dir := routinesDir(projectRoot)

	if stem, ok := strings.CutSuffix(name, ".sh"); ok {
		path := filepath.Join(dir, name)
		if isFile(path) {
			return Resolved{Name: stem, Path: path, Format: Shell}, nil
		}
		return Resolved{}, &NotFoundError{Name: name}
	}
	if stem, ok := strings.CutSuffix(name, ".ipynb"); ok {
		if !notebookSupport {
			return Resolved{}, &NotFoundError{Name: name}
		}
		path := filepath.Join(dir, name)
		if isFile(path) {
			return Resolved{Name: stem, Path: path, Format: Notebook}, nil
		}
		return Resolved{}, &NotFoundError{Name: name}
	}

	if notebookSupport {
		ipynbPath := filepath.Join(dir, name+".ipynb")
		if isFile(ipynbPath) {
			return Resolved{Name: name, Path: ipynbPath, Format: Notebook}, nil
		}
	}
	shPath := filepath.Join(dir, name+".sh")
	if isFile(shPath) {
		return Resolved{Name: name, Path: shPath, Format: Shell}, nil
	}

	return Resolved{}, &NotFoundError{Name: name}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DiscoverCustomParams returns the parameter names a routine declares beyond
// StandardParams.
func DiscoverCustomParams(r Resolved) ([]string, error) {
	if r.Format == Notebook {
		return discoverCustomParamsIpynb(r.Path)
	}
	return discoverCustomParamsSh(r.Path)
}

// discoverCustomParamsSh scans a shell script for variable assignments
// (`^[a-z_][a-z0-9_]*=`) in the leading run of comment/blank/shebang/`set`/
// assignment lines, stopping at the first line outside that shape.
func discoverCustomParamsSh(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var params []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "#!"):
			continue
		case strings.HasPrefix(trimmed, "#"):
			continue
		case strings.HasPrefix(trimmed, "set "):
			continue
		}

		if name, ok := parseShAssignment(line); ok {
			if !isStandardParam(name) {
				params = append(params, name)
			}
			continue
		}
		break
	}
	return params, scanner.Err()
}

// parseShAssignment matches "^[a-z_][a-z0-9_]*=" at the start of line.
func parseShAssignment(line string) (string, bool) {
	if line == "" {
		return "", false
	}
	first := line[0]
	if !(first >= 'a' && first <= 'z' || first == '_') {
		return "", false
	}
	for i := 1; i < len(line); i++ {
		b := line[i]
		if b == '=' {
			return line[:i], true
		}
		if !(b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_') {
			return "", false
		}
	}
	return "", false
}

type ipynbCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
	Metadata struct {
		Tags []string `json:"tags"`
	} `json:"metadata"`
}

type ipynbDoc struct {
	Cells []ipynbCell `json:"cells"`
}

func decodeSource(raw json.RawMessage) string {
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	return ""
}

// discoverCustomParamsIpynb finds the cell tagged "parameters" and parses
// Python variable assignments from its source, excluding StandardParams.
func discoverCustomParamsIpynb(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc ipynbDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("routine: invalid notebook %s: %w", path, err)
	}

	var params []string
	for _, cell := range doc.Cells {
		hasTag := false
		for _, t := range cell.Metadata.Tags {
			if t == "parameters" {
				hasTag = true
				break
			}
		}
		if !hasTag {
			continue
		}
		source := decodeSource(cell.Source)
		for _, line := range strings.Split(source, "\n") {
			if name, ok := parsePythonAssignment(line); ok && !isStandardParam(name) {
				params = append(params, name)
			}
		}
		break
	}
	return params, nil
}

// parsePythonAssignment matches "name = ..." (not "=="), name being a valid
// Python identifier restricted to [a-z_][a-z0-9_]*.
func parsePythonAssignment(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	eq := strings.IndexByte(trimmed, '=')
	if eq < 0 {
		return "", false
	}
	if eq+1 < len(trimmed) && trimmed[eq+1] == '=' {
		return "", false
	}
	name := strings.TrimSpace(trimmed[:eq])
	if name == "" {
		return "", false
	}
	first := name[0]
	if !(first >= 'a' && first <= 'z' || first == '_') {
		return "", false
	}
	for i := 1; i < len(name); i++ {
		b := name[i]
		if !(b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_') {
			return "", false
		}
	}
	return name, true
}

// extractShDescription returns the leading contiguous `#` comment block
// (after an optional shebang), with the "# " or "#" prefix stripped.
func extractShDescription(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var lines []string
	inBlock := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inBlock && len(lines) == 0 && strings.HasPrefix(trimmed, "#!"):
			continue
		case strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "#!"):
			inBlock = true
			text := strings.TrimPrefix(trimmed, "# ")
			text = strings.TrimPrefix(text, "#")
			lines = append(lines, text)
		case inBlock:
			return strings.Join(lines, "\n"), nil
		case trimmed == "":
			continue
		default:
			return strings.Join(lines, "\n"), nil
		}
	}
	return strings.Join(lines, "\n"), nil
}

// extractIpynbDescription returns the source of the first markdown cell.
func extractIpynbDescription(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var doc ipynbDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("routine: invalid notebook %s: %w", path, err)
	}
	for _, cell := range doc.Cells {
		if cell.CellType == "markdown" {
			return decodeSource(cell.Source), nil
		}
	}
	return "", nil
}

// BuildRouterPrompt renders the prompt shown to the router AI: the list of
// available routines (name + first description line) and the task body.
func BuildRouterPrompt(routines []Info, taskBody string) string {
	var b strings.Builder
	b.WriteString("Select the most appropriate routine for this task.\n\n## Available Routines\n")
	for _, r := range routines {
		firstLine := r.Description
		if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
			firstLine = firstLine[:idx]
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.Name, firstLine)
	}
	fmt.Fprintf(&b, "\n## Task\n%s\n\nRespond with ONLY the routine name, nothing else.\n", taskBody)
	return b.String()
}

// IsValidRoutine reports whether name exists among routines.
func IsValidRoutine(routines []Info, name string) bool {
	for _, r := range routines {
		if r.Name == name {
			return true
		}
	}
	return false
}
