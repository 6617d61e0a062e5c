package routine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoutine(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, ".decree", "routines")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o755))
}

func TestDiscoverRoutinesShellOnly(t *testing.T) {
	root := t.TempDir()
	writeRoutine(t, root, "develop.sh", "#!/bin/sh\n# Runs the develop loop.\nset -eu\nTARGET=world\necho hi\n")
	writeRoutine(t, root, "review.sh", "#!/bin/sh\n# Reviews a change.\necho review\n")

	infos, err := DiscoverRoutines(root, false)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "develop", infos[0].Name)
	assert.Equal(t, "Runs the develop loop.", infos[0].Description)
	assert.Equal(t, "review", infos[1].Name)
}

func TestDiscoverRoutinesIgnoresNotebooksWithoutSupport(t *testing.T) {
	root := t.TempDir()
	writeRoutine(t, root, "develop.sh", "#!/bin/sh\necho hi\n")
	writeRoutine(t, root, "analyze.ipynb", `{"cells": []}`)

	infos, err := DiscoverRoutines(root, false)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "develop", infos[0].Name)
}

func TestResolveRoutinePrecedence(t *testing.T) {
	root := t.TempDir()
	writeRoutine(t, root, "develop.sh", "#!/bin/sh\necho hi\n")
	writeRoutine(t, root, "develop.ipynb", `{"cells": []}`)

	resolved, err := ResolveRoutine(root, "develop", false)
	require.NoError(t, err)
	assert.Equal(t, Shell, resolved.Format)

	resolved, err = ResolveRoutine(root, "develop", true)
	require.NoError(t, err)
	assert.Equal(t, Notebook, resolved.Format)

	resolved, err = ResolveRoutine(root, "develop.sh", true)
	require.NoError(t, err)
	assert.Equal(t, Shell, resolved.Format)
}

func TestResolveRoutineNotFound(t *testing.T) {
	root := t.TempDir()
	_, err := ResolveRoutine(root, "missing", false)
	require.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDiscoverCustomParamsSh(t *testing.T) {
	root := t.TempDir()
	writeRoutine(t, root, "develop.sh", "#!/bin/sh\n# desc\nset -eu\ntarget=world\ngreeting=hello\nmessage_id=ignored\necho hi\n")

	resolved, err := ResolveRoutine(root, "develop", false)
	require.NoError(t, err)

	params, err := DiscoverCustomParams(resolved)
	require.NoError(t, err)
	assert.Equal(t, []string{"target", "greeting"}, params)
}

func TestBuildRouterPromptAndIsValidRoutine(t *testing.T) {
	infos := []Info{{Name: "develop", Description: "Runs the develop loop."}, {Name: "review", Description: "Reviews a change."}}

	prompt := BuildRouterPrompt(infos, "do something")
	assert.Contains(t, prompt, "develop: Runs the develop loop.")
	assert.Contains(t, prompt, "do something")

	assert.True(t, IsValidRoutine(infos, "review"))
	assert.False(t, IsValidRoutine(infos, "nonexistent"))
}
