package diffcodec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTextFileDiffAdd(t *testing.T) {
	fd := BuildTextFileDiff("hello.txt", nil, false, []byte("hi\n"), true)
	assert.Equal(t, KindAdd, fd.Kind)
	require.Len(t, fd.Hunks, 1)
	assert.True(t, fd.HasHunks())
}

func TestBuildTextFileDiffDelete(t *testing.T) {
	fd := BuildTextFileDiff("hello.txt", []byte("hi\n"), true, nil, false)
	assert.Equal(t, KindDelete, fd.Kind)
	require.Len(t, fd.Hunks, 1)
}

func TestBuildTextFileDiffIdenticalHasNoHunks(t *testing.T) {
	fd := BuildTextFileDiff("hello.txt", []byte("hi\n"), true, []byte("hi\n"), true)
	assert.Equal(t, KindModify, fd.Kind)
	assert.False(t, fd.HasHunks())
}

func TestEmitAllEmptyIsEmptyString(t *testing.T) {
	assert.Equal(t, "", EmitAll(nil))
}

func TestEmitParseRoundTrip(t *testing.T) {
	original := []FileDiff{
		BuildTextFileDiff("hello.txt", nil, false, []byte("hi\n"), true),
		BuildTextFileDiff("old.txt", []byte("bye\n"), true, nil, false),
		BuildTextFileDiff("changed.txt", []byte("a\nb\nc\n"), true, []byte("a\nx\nc\n"), true),
	}

	text := EmitAll(original)
	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, parsed, len(original))

	for i, fd := range parsed {
		assert.Equal(t, original[i].Path, fd.Path)
		assert.Equal(t, original[i].Kind, fd.Kind)
	}
}

func TestApplyDiffsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	pre := map[string][]byte{
		"keep.txt": []byte("a\nb\nc\n"),
		"gone.txt": []byte("bye\n"),
	}
	for name, data := range pre {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}

	post := map[string][]byte{
		"keep.txt": []byte("a\nx\nc\n"),
		"new.txt":  []byte("hi\n"),
	}

	var diffs []FileDiff
	diffs = append(diffs, BuildTextFileDiff("keep.txt", pre["keep.txt"], true, post["keep.txt"], true))
	diffs = append(diffs, BuildTextFileDiff("gone.txt", pre["gone.txt"], true, nil, false))
	diffs = append(diffs, BuildTextFileDiff("new.txt", nil, false, post["new.txt"], true))

	require.NoError(t, ApplyDiffs(dir, diffs))

	got, err := os.ReadFile(filepath.Join(dir, "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, post["keep.txt"], got)

	_, err = os.Stat(filepath.Join(dir, "gone.txt"))
	assert.True(t, os.IsNotExist(err))

	got, err = os.ReadFile(filepath.Join(dir, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, post["new.txt"], got)
}

func TestCheckConflictsDetectsMismatchedPreimage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("different\n"), 0o644))

	fd := BuildTextFileDiff("keep.txt", []byte("a\nb\nc\n"), true, []byte("a\nx\nc\n"), true)
	conflicts := CheckConflicts(dir, []FileDiff{fd})
	assert.NotEmpty(t, conflicts)
}

func TestCheckConflictsEmptyOnCleanTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("a\nb\nc\n"), 0o644))

	fd := BuildTextFileDiff("keep.txt", []byte("a\nb\nc\n"), true, []byte("a\nx\nc\n"), true)
	assert.Empty(t, CheckConflicts(dir, []FileDiff{fd}))
}

func TestComputeStats(t *testing.T) {
	fd := BuildTextFileDiff("changed.txt", []byte("a\nb\nc\n"), true, []byte("a\nx\nc\n"), true)
	text := EmitAll([]FileDiff{fd})
	stats := ComputeStats(text)
	assert.Equal(t, 1, stats.Additions)
	assert.Equal(t, 1, stats.Deletions)
	assert.Equal(t, 1, stats.FilesCount)
}

func TestParseBinaryBlockRoundTrip(t *testing.T) {
	fd := BuildBinaryFileDiff("image.png", false, []byte{0x00, 0x01, 0x02, 0xff}, true)
	text := EmitAll([]FileDiff{fd})

	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, KindBinary, parsed[0].Kind)
	assert.Equal(t, fd.Binary, parsed[0].Binary)
}
