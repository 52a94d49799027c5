package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, dryRun bool) (*Runner, string) {
	t.Helper()
	root := t.TempDir()
	r, err := New(root, Options{DryRun: dryRun})
	require.NoError(t, err)
	return r, root
}

func TestApplyWriteCreatesFile(t *testing.T) {
	r, root := newTestRunner(t, false)

	results, err := r.Apply(context.Background(), []Instruction{
		{Op: OpWrite, Path: "pkg/util/helper.go", Content: "package util\n"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Applied)

	data, err := os.ReadFile(filepath.Join(root, "pkg/util/helper.go"))
	require.NoError(t, err)
	assert.Equal(t, "package util\n", string(data))
}

func TestApplyPatchRewritesFile(t *testing.T) {
	r, root := newTestRunner(t, false)
	original := "line one\nline two\nline three\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte(original), 0o644))

	dmp := diffmatchpatch.New()
	updated := "line one\nline 2\nline three\n"
	patchText := dmp.PatchToText(dmp.PatchMake(original, updated))

	results, err := r.Apply(context.Background(), []Instruction{
		{Op: OpPatch, Path: "notes.txt", Diff: patchText},
	})
	require.NoError(t, err)
	assert.True(t, results[0].Applied)

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, updated, string(data))
}

func TestApplyDelete(t *testing.T) {
	r, root := newTestRunner(t, false)
	path := filepath.Join(root, "stale.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := r.Apply(context.Background(), []Instruction{{Op: OpDelete, Path: "stale.txt"}})
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDryRunTouchesNothing(t *testing.T) {
	r, root := newTestRunner(t, true)

	results, err := r.Apply(context.Background(), []Instruction{
		{Op: OpWrite, Path: "new.txt", Content: "hello\n"},
	})
	require.NoError(t, err)
	assert.False(t, results[0].Applied)
	assert.NotEmpty(t, results[0].Preview)

	_, err = os.Stat(filepath.Join(root, "new.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestRejectsEscapingPaths(t *testing.T) {
	r, _ := newTestRunner(t, false)

	for _, path := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd", ""} {
		results, err := r.Apply(context.Background(), []Instruction{
			{Op: OpWrite, Path: path, Content: "x"},
		})
		require.Error(t, err, "path %q should be rejected", path)
		require.Len(t, results, 1)
		assert.False(t, results[0].Applied)
	}
}

func TestFailureStopsRun(t *testing.T) {
	r, root := newTestRunner(t, false)

	results, err := r.Apply(context.Background(), []Instruction{
		{Op: OpDelete, Path: "missing.txt"},
		{Op: OpWrite, Path: "after.txt", Content: "x"},
	})
	require.Error(t, err)
	assert.Len(t, results, 1)
	_, statErr := os.Stat(filepath.Join(root, "after.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDiffRendererCountsChanges(t *testing.T) {
	dr := NewDiffRenderer(false).Render("a\nb\nc\n", "a\nB\nc\nd\n", "f.txt")
	assert.Greater(t, dr.AddedLines, 0)
	assert.Greater(t, dr.DeletedLines, 0)
	assert.Contains(t, dr.UnifiedDiff, "--- a/f.txt")
	assert.NotEmpty(t, dr.FormatSummary())
}

func TestApplyPatchRejectsGarbage(t *testing.T) {
	_, err := ApplyPatch("content", "not a patch")
	assert.Error(t, err)
}
