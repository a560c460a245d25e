package service_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Strob0t/IssueForge/internal/domain"
	"github.com/Strob0t/IssueForge/internal/git"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func newRunner() *git.Runner {
	return git.NewRunner("git", git.NewPool(4), git.WithAuthor("IssueForge Test", "test@example.com"))
}

// gitCmd runs git in dir and returns trimmed stdout.
func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_TERMINAL_PROMPT=0",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v in %s: %s: %v", args, dir, out, err)
	}
	return strings.TrimSpace(string(out))
}

// newBareRemote creates a bare repository whose main branch holds one commit
// with a README.
func newBareRemote(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	bare := filepath.Join(root, "remote.git")
	seed := filepath.Join(root, "seed")

	gitCmd(t, root, "init", "--bare", "-b", "main", bare)
	gitCmd(t, root, "init", "-b", "main", seed)
	writeFile(t, seed, "README.md", "# widgets\n")
	gitCmd(t, seed, "add", "README.md")
	gitCmd(t, seed, "commit", "-m", "initial")
	gitCmd(t, seed, "push", bare, "main")
	return bare
}

// cloneRemote clones bare into a fresh directory.
func cloneRemote(t *testing.T, bare string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clone")
	gitCmd(t, filepath.Dir(dir), "clone", bare, dir)
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// commitFile writes name and commits it, returning the new HEAD.
func commitFile(t *testing.T, dir, name, content, msg string) string {
	t.Helper()
	writeFile(t, dir, name, content)
	gitCmd(t, dir, "add", name)
	gitCmd(t, dir, "commit", "-m", msg)
	return gitCmd(t, dir, "rev-parse", "HEAD")
}

func asDomainError(err error, target **domain.Error) bool {
	return errors.As(err, target)
}
