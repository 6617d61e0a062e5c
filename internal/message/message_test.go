package message

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/specloom/internal/routine"
)

func TestParseMessageFileFullFrontmatter(t *testing.T) {
	content := "---\n" +
		"id: 2025022514320000-0\n" +
		"chain: 2025022514320000\n" +
		"seq: 0\n" +
		"type: task\n" +
		"routine: develop\n" +
		"extra: value\n" +
		"---\n" +
		"do the thing\n"

	fm, body := ParseMessageFile(content)
	require.NotNil(t, fm.ID)
	assert.Equal(t, "2025022514320000-0", *fm.ID)
	assert.Equal(t, "develop", *fm.Routine)
	assert.Equal(t, "do the thing\n", body)
	require.Len(t, fm.Custom, 1)
	assert.Equal(t, CustomField{Key: "extra", Value: "value"}, fm.Custom[0])
}

func TestParseMessageFileNoFrontmatter(t *testing.T) {
	fm, body := ParseMessageFile("just a plain body\n")
	assert.Nil(t, fm.ID)
	assert.Equal(t, "just a plain body\n", body)
}

func TestSerializeMessagePreservesCustomOrder(t *testing.T) {
	msg := InboxMessage{
		ID: "c-0", Chain: "c", Seq: 0, Kind: KindTask, Routine: "develop", Body: "body\n",
		Custom: CustomFields{{Key: "z", Value: "1"}, {Key: "a", Value: "2"}},
	}
	out := SerializeMessage(msg)

	zIdx := strings.Index(out, "z: 1")
	aIdx := strings.Index(out, "a: 2")
	require.True(t, zIdx >= 0 && aIdx >= 0)
	assert.Less(t, zIdx, aIdx)
}

func TestCustomFieldsGetSet(t *testing.T) {
	var fields CustomFields
	fields.Set("a", "1")
	fields.Set("b", "2")
	fields.Set("a", "override")

	v, ok := fields.Get("a")
	require.True(t, ok)
	assert.Equal(t, "override", v)

	_, ok = fields.Get("missing")
	assert.False(t, ok)
}

func TestNormalizeMessageFillsMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2025022514320000-0.md")
	require.NoError(t, os.WriteFile(path, []byte("just a task body\n"), 0o644))

	cfg := Config{DefaultRoutine: "develop"}
	msg, err := NormalizeMessage(path, cfg, nil, nil, "")
	require.NoError(t, err)

	assert.Equal(t, "2025022514320000-0", msg.ID)
	assert.Equal(t, "2025022514320000", msg.Chain)
	assert.Equal(t, uint32(0), msg.Seq)
	assert.Equal(t, KindTask, msg.Kind)
	assert.Equal(t, "develop", msg.Routine)

	rewritten, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(rewritten), "id: 2025022514320000-0")
}

func TestNormalizeMessageLeavesFullyNormalizedFileUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "msg.md")
	content := "---\nid: c-0\nchain: c\nseq: 0\ntype: task\nroutine: develop\n---\nbody\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	msg, err := NormalizeMessage(path, Config{}, nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "develop", msg.Routine)

	unchanged, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(unchanged))
}

func TestSelectRoutineFallbackChain(t *testing.T) {
	cfg := Config{DefaultRoutine: "default-routine"}

	// no router, no spec hint: falls to config default
	assert.Equal(t, "default-routine", SelectRoutine("body", nil, nil, "", cfg))

	// spec hint wins over config default
	assert.Equal(t, "spec-routine", SelectRoutine("body", nil, nil, "spec-routine", cfg))

	// nothing set at all: falls to "develop"
	assert.Equal(t, "develop", SelectRoutine("body", nil, nil, "", Config{}))

	// router response naming a valid routine wins over everything
	routines := []routine.Info{{Name: "router-pick"}}
	router := func(prompt string) (string, error) { return "router-pick", nil }
	assert.Equal(t, "router-pick", SelectRoutine("body", routines, router, "spec-routine", cfg))
}

func TestChainSeqFromFilename(t *testing.T) {
	chain, seq, ok := ChainSeqFromFilename("2025022514320000-3.md")
	require.True(t, ok)
	assert.Equal(t, "2025022514320000", chain)
	assert.Equal(t, uint32(3), seq)

	_, _, ok = ChainSeqFromFilename("not-a-valid-name.md")
	assert.False(t, ok)
}
