package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/specloom/internal/config"
	"github.com/sipeed/specloom/internal/message"
)

func writeRoutineScript(t *testing.T, root, name, script string) {
	t.Helper()
	dir := filepath.Join(root, ".decree", "routines")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755))
}

func newTestPipeline(t *testing.T, root string) *Pipeline {
	t.Helper()
	cfg := config.Default()
	cfg.MaxRetries = 2
	return &Pipeline{Root: root, Config: cfg, Log: zerolog.Nop()}
}

func writeInboxMessage(t *testing.T, root, id, kind, routine, body string) string {
	t.Helper()
	dir := filepath.Join(root, ".decree", "inbox")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, id+".md")
	content := "---\nid: " + id + "\nchain: " + id[:len(id)-2] + "\nseq: " + id[len(id)-1:] + "\ntype: " + kind + "\nroutine: " + routine + "\n---\n" + body
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessSingleMessageSuccessMovesToDone(t *testing.T) {
	root := t.TempDir()
	writeRoutineScript(t, root, "develop.sh", "#!/bin/bash\nset -eu\necho output > \"$message_dir/result.txt\"\n")
	p := newTestPipeline(t, root)

	path := writeInboxMessage(t, root, "2025022514320000-0", "task", "develop", "do the thing")

	result, err := p.ProcessSingleMessage(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, Success, result.Outcome)
	assert.Equal(t, 1, result.Attempts)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, ".decree", "inbox", "done", "2025022514320000-0.md"))
	assert.NoError(t, err)

	runDir := message.RunDir(filepath.Join(root, ".decree"), message.ID{Chain: "2025022514320000", Seq: 0})
	_, err = os.Stat(filepath.Join(runDir, "changes.diff"))
	assert.NoError(t, err)
}

func TestProcessSingleMessageExhaustedRetriesDeadLettersAndReverts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "existing.txt"), []byte("original\n"), 0o644))
	writeRoutineScript(t, root, "develop.sh", "#!/bin/bash\necho changed > existing.txt\nexit 1\n")
	p := newTestPipeline(t, root)

	path := writeInboxMessage(t, root, "2025022514320000-0", "task", "develop", "do the thing")

	result, err := p.ProcessSingleMessage(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, DeadLettered, result.Outcome)
	assert.Equal(t, int(p.Config.MaxRetries), result.Attempts)

	data, err := os.ReadFile(filepath.Join(root, "existing.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))

	_, err = os.Stat(filepath.Join(root, ".decree", "inbox", "dead", "2025022514320000-0.md"))
	assert.NoError(t, err)
}

func TestProcessSingleMessageMaxDepthDeadLetters(t *testing.T) {
	root := t.TempDir()
	writeRoutineScript(t, root, "develop.sh", "#!/bin/bash\nexit 0\n")
	p := newTestPipeline(t, root)
	p.Config.MaxDepth = 1

	path := writeInboxMessage(t, root, "2025022514320000-1", "task", "develop", "follow-up")

	result, err := p.ProcessSingleMessage(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, DeadLettered, result.Outcome)
	assert.Contains(t, result.Reason, "max depth exceeded")
}

func TestProcessSingleMessageUnreadableFileErrors(t *testing.T) {
	root := t.TempDir()
	p := newTestPipeline(t, root)

	dir := filepath.Join(root, ".decree", "inbox")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	result, err := p.ProcessSingleMessage(context.Background(), filepath.Join(dir, "missing.md"), "")
	assert.Error(t, err)
	assert.Zero(t, result)
}

func TestProcessChainDrainsFollowUps(t *testing.T) {
	root := t.TempDir()
	writeRoutineScript(t, root, "develop.sh", "#!/bin/bash\nset -eu\nexit 0\n")
	p := newTestPipeline(t, root)

	chain := "2025022514320000"
	root0 := writeInboxMessage(t, root, chain+"-0", "task", "develop", "first")
	writeInboxMessage(t, root, chain+"-1", "task", "develop", "second")

	result, err := p.ProcessChain(context.Background(), root0, "")
	require.NoError(t, err)
	assert.Equal(t, Success, result.Root.Outcome)
	assert.Equal(t, 1, result.Processed)

	_, err = os.Stat(filepath.Join(root, ".decree", "inbox", "done", chain+"-1.md"))
	assert.NoError(t, err)
}

func TestLastRunRoundTrip(t *testing.T) {
	root := t.TempDir()
	_, ok, err := LoadLastRun(root)
	require.NoError(t, err)
	assert.False(t, ok)

	lr := LastRun{ID: "c-0", Chain: "c", Status: "done", UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, SaveLastRun(root, lr))

	loaded, ok, err := LoadLastRun(root)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lr.ID, loaded.ID)
	assert.Equal(t, lr.Status, loaded.Status)
}

func TestNewTaskMessageAndNewSpecMessage(t *testing.T) {
	root := t.TempDir()

	taskPath, err := NewTaskMessage(root, "develop", "do it", []message.CustomField{{Key: "TARGET", Value: "world"}})
	require.NoError(t, err)
	data, err := os.ReadFile(taskPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "type: task")
	assert.Contains(t, string(data), "TARGET: world")

	specPath, err := NewSpecMessage(root, "specs/feature.spec.md")
	require.NoError(t, err)
	data, err = os.ReadFile(specPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "type: spec")
	assert.Contains(t, string(data), "input_file: specs/feature.spec.md")
}

func TestUnprocessedSpecsFiltersProcessed(t *testing.T) {
	root := t.TempDir()
	specsDir := filepath.Join(root, "specs")
	require.NoError(t, os.MkdirAll(specsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(specsDir, "a.spec.md"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(specsDir, "b.spec.md"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(specsDir, "processed-spec.md"), []byte("a.spec.md\n"), 0o644))

	specs, err := UnprocessedSpecs(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.spec.md"}, specs)
}

func TestUnprocessedSpecsMissingDirReturnsEmpty(t *testing.T) {
	root := t.TempDir()
	specs, err := UnprocessedSpecs(root)
	require.NoError(t, err)
	assert.Empty(t, specs)
}
