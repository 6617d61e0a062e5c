package message

import (
	"os"
	"strings"

	"github.com/sipeed/specloom/internal/routine"
	"gopkg.in/yaml.v3"
)

// Kind classifies an inbox message, mirroring domain.MessageKind's values.
type Kind string

const (
	KindSpec Kind = "spec"
	KindTask Kind = "task"
)

func parseKind(s string) (Kind, bool) {
	switch s {
	case "spec":
		return KindSpec, true
	case "task":
		return KindTask, true
	}
	return "", false
}

// CustomField is one custom frontmatter field, in first-seen order.
type CustomField struct {
	Key   string
	Value string
}

// CustomFields preserves the insertion order of frontmatter fields that
// fall outside the standard set, per this implementation's resolution of
// the custom-field ordering question: fields are rewritten in the order
// they were first encountered, not sorted.
type CustomFields []CustomField

// Get returns the value for key and whether it was present.
func (f CustomFields) Get(key string) (string, bool) {
	for _, c := range f {
		if c.Key == key {
			return c.Value, true
		}
	}
	return "", false
}

// Set updates key's value if present, or appends it at the end if not.
func (f *CustomFields) Set(key, value string) {
	for i, c := range *f {
		if c.Key == key {
			(*f)[i].Value = value
			return
		}
	}
	*f = append(*f, CustomField{Key: key, Value: value})
}

// InboxMessage is a fully-parsed inbox message with all fields resolved.
type InboxMessage struct {
	ID        string
	Chain     string
	Seq       uint32
	Kind      Kind
	InputFile string
	HasInput  bool
	Routine   string
	Body      string
	Custom    CustomFields
}

// RawFrontmatter is the result of a first-pass parse: all fields optional.
type RawFrontmatter struct {
	ID        *string
	Chain     *string
	Seq       *uint32
	Kind      *string
	InputFile *string
	Routine   *string
	Custom    CustomFields
}

var knownKeys = map[string]bool{
	"id": true, "chain": true, "seq": true, "type": true,
	"input_file": true, "routine": true,
}

// ParseMessageFile splits a message file into its raw frontmatter and body.
// A file with no "---" opening fence, or a malformed YAML block, is treated
// as having no frontmatter at all — the whole file becomes the body.
func ParseMessageFile(content string) (RawFrontmatter, string) {
	trimmed := strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return RawFrontmatter{}, content
	}

	afterOpen := trimmed[3:]
	closeIdx := strings.Index(afterOpen, "\n---")
	if closeIdx < 0 {
		return RawFrontmatter{}, content
	}

	yamlBlock := afterOpen[:closeIdx]
	bodyStart := 3 + closeIdx + 4
	var body string
	if bodyStart < len(trimmed) {
		rest := trimmed[bodyStart:]
		body = strings.TrimPrefix(rest, "\n")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(yamlBlock), &doc); err != nil {
		return RawFrontmatter{}, content
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return RawFrontmatter{}, content
	}

	fm := RawFrontmatter{}
	mapping := doc.Content[0]
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode, valNode := mapping.Content[i], mapping.Content[i+1]
		key := keyNode.Value

		switch key {
		case "id":
			v := valNode.Value
			fm.ID = &v
		case "chain":
			v := valNode.Value
			fm.Chain = &v
		case "seq":
			var seq uint32
			if err := valNode.Decode(&seq); err == nil {
				fm.Seq = &seq
			}
		case "type":
			v := valNode.Value
			fm.Kind = &v
		case "input_file":
			v := valNode.Value
			fm.InputFile = &v
		case "routine":
			if v := valNode.Value; v != "" {
				fm.Routine = &v
			}
		default:
			if !knownKeys[key] {
				fm.Custom = append(fm.Custom, CustomField{Key: key, Value: scalarString(valNode)})
			}
		}
	}

	return fm, body
}

// scalarString renders a YAML node's value as a plain string, re-encoding
// non-scalar nodes (sequences, mappings) back to flow YAML.
func scalarString(n *yaml.Node) string {
	if n.Kind == yaml.ScalarNode {
		return n.Value
	}
	out, err := yaml.Marshal(n)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// isFullyNormalized reports whether every standard field is already present,
// meaning normalization is a no-op.
func isFullyNormalized(fm RawFrontmatter) bool {
	return fm.ID != nil && fm.Chain != nil && fm.Seq != nil && fm.Kind != nil && fm.Routine != nil
}

// SerializeMessage renders an InboxMessage back to a markdown file with YAML
// frontmatter, preserving custom fields in their recorded order.
func SerializeMessage(msg InboxMessage) string {
	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("id: " + msg.ID + "\n")
	b.WriteString("chain: " + msg.Chain + "\n")
	b.WriteString("seq: " + itoa(msg.Seq) + "\n")
	b.WriteString("type: " + string(msg.Kind) + "\n")
	if msg.HasInput {
		b.WriteString("input_file: " + msg.InputFile + "\n")
	}
	b.WriteString("routine: " + msg.Routine + "\n")
	for _, c := range msg.Custom {
		b.WriteString(c.Key + ": " + c.Value + "\n")
	}
	b.WriteString("---\n")
	if msg.Body != "" {
		b.WriteString(msg.Body)
	}
	return b.String()
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	digits := make([]byte, 0, 10)
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

// RouterFn selects a routine name given a rendered prompt. An error means
// the router could not decide, falling back to the rest of the chain in
// SelectRoutine.
type RouterFn func(prompt string) (string, error)

// Config is the slice of configuration NormalizeMessage needs: the default
// routine name when every other source in the fallback chain is silent.
type Config struct {
	DefaultRoutine string
}

// NormalizeMessage reads filePath, fills in any missing standard fields,
// optionally invokes router for routine selection, and writes the
// normalized message back to disk — unless it was already fully normalized,
// in which case the file is left untouched.
func NormalizeMessage(filePath string, cfg Config, routines []routine.Info, router RouterFn, specRoutine string) (InboxMessage, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return InboxMessage{}, err
	}
	fm, body := ParseMessageFile(string(data))

	if isFullyNormalized(fm) {
		kind, ok := parseKind(*fm.Kind)
		if !ok {
			kind = KindTask
		}
		msg := InboxMessage{
			ID:      *fm.ID,
			Chain:   *fm.Chain,
			Seq:     *fm.Seq,
			Kind:    kind,
			Routine: *fm.Routine,
			Body:    body,
			Custom:  fm.Custom,
		}
		if fm.InputFile != nil {
			msg.InputFile = *fm.InputFile
			msg.HasInput = true
		}
		return msg, nil
	}

	filename := filepathBase(filePath)
	fnChain, fnSeq, fnOK := ChainSeqFromFilename(filename)

	chain := fnChain
	if fm.Chain != nil {
		chain = *fm.Chain
	} else if !fnOK {
		chain = NewChain(0)
	}

	var seq uint32
	if fm.Seq != nil {
		seq = *fm.Seq
	} else if fnOK {
		seq = fnSeq
	}

	id := chain + "-" + itoa(seq)

	kind := KindTask
	if fm.Kind != nil {
		if k, ok := parseKind(*fm.Kind); ok {
			kind = k
		}
	} else if fm.InputFile != nil {
		kind = KindSpec
	}

	routineName := ""
	if fm.Routine != nil {
		routineName = *fm.Routine
	} else {
		routineName = SelectRoutine(body, routines, router, specRoutine, cfg)
	}

	msg := InboxMessage{
		ID:      id,
		Chain:   chain,
		Seq:     seq,
		Kind:    kind,
		Routine: routineName,
		Body:    body,
		Custom:  fm.Custom,
	}
	if fm.InputFile != nil {
		msg.InputFile = *fm.InputFile
		msg.HasInput = true
	}

	if err := os.WriteFile(filePath, []byte(SerializeMessage(msg)), 0o644); err != nil {
		return InboxMessage{}, err
	}

	return msg, nil
}

func filepathBase(p string) string {
	idx := strings.LastIndexAny(p, "/\\")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

// SelectRoutine applies the routine-selection fallback chain: router AI,
// then the spec's own routine, then the configured default, then "develop".
func SelectRoutine(body string, routines []routine.Info, router RouterFn, specRoutine string, cfg Config) string {
	if router != nil && len(routines) > 0 {
		prompt := routine.BuildRouterPrompt(routines, body)
		if resp, err := router(prompt); err == nil {
			name := strings.TrimSpace(resp)
			if routine.IsValidRoutine(routines, name) {
				return name
			}
		}
	}

	if specRoutine != "" {
		return specRoutine
	}
	if cfg.DefaultRoutine != "" {
		return cfg.DefaultRoutine
	}
	return "develop"
}
