package vcs

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo spins up a real git repository in a temp dir, grounded on the
// teacher's own hashing tests (package_deps_hash_test.go), which exercise
// internal/hashing against real `git` fixtures rather than a mocked VCS.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-q", "-b", "main")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "test")
	return dir
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestGetLocalBranch(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "hello")
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-q", "-m", "init")

	g := New(dir)
	require.True(t, g.Enabled())
	branch, err := g.GetLocalBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestGetFileHashesStable(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "hello")
	writeFile(t, dir, "b.txt", "world")
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-q", "-m", "init")

	g := New(dir)
	hashes, err := g.GetFileHashes([]string{"a.txt", "b.txt"}, true)
	require.NoError(t, err)
	require.Contains(t, hashes, "a.txt")
	require.Contains(t, hashes, "b.txt")
	assert.NotEqual(t, hashes["a.txt"], hashes["b.txt"])

	hashesAgain, err := g.GetFileHashes([]string{"a.txt"}, true)
	require.NoError(t, err)
	assert.Equal(t, hashes["a.txt"], hashesAgain["a.txt"])
}

func TestGetTouchedFilesReportsUntrackedAndModified(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, dir, "tracked.txt", "v1")
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-q", "-m", "init")

	writeFile(t, dir, "tracked.txt", "v2")
	writeFile(t, dir, "new.txt", "brand new")

	g := New(dir)
	tf, err := g.GetTouchedFiles()
	require.NoError(t, err)
	assert.Contains(t, tf.Untracked, "new.txt")
	assert.Contains(t, tf.Modified, "tracked.txt")
}

func TestGetTouchedFilesBetweenRevisions(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, dir, "a.txt", "v1")
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-q", "-m", "first")
	base := run(t, dir, "rev-parse", "HEAD")

	writeFile(t, dir, "a.txt", "v2")
	writeFile(t, dir, "b.txt", "new")
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-q", "-m", "second")
	head := run(t, dir, "rev-parse", "HEAD")

	g := New(dir)
	tf, err := g.GetTouchedFilesBetweenRevisions(trim(base), trim(head))
	require.NoError(t, err)
	assert.Contains(t, tf.Modified, "a.txt")
	assert.Contains(t, tf.Added, "b.txt")
}

func TestDisabledWhenNotARepo(t *testing.T) {
	dir := t.TempDir()
	g := New(dir)
	assert.False(t, g.Enabled())
	tf, err := g.GetTouchedFiles()
	require.NoError(t, err)
	assert.Empty(t, tf.All())
}

func trim(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
