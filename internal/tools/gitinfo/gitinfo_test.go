package gitinfo

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initRepo creates a git repository with one commit, skipping the test
// when git is unavailable.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	run("commit", "--allow-empty", "-m", "initial commit")
	return root
}

func query(t *testing.T, tool *Tool, params string) (string, bool) {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(params))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res.Content, res.IsError
}

func TestGitInfoBranch(t *testing.T) {
	tool := New(initRepo(t))
	out, isErr := query(t, tool, `{"query":"branch"}`)
	if isErr {
		t.Fatalf("unexpected error: %s", out)
	}
	if out != "main" {
		t.Errorf("branch = %q, want main", out)
	}
}

func TestGitInfoLog(t *testing.T) {
	tool := New(initRepo(t))
	out, isErr := query(t, tool, `{"query":"log","count":5}`)
	if isErr {
		t.Fatalf("unexpected error: %s", out)
	}
	if !strings.Contains(out, "initial commit") {
		t.Errorf("log = %q", out)
	}
}

func TestGitInfoShow(t *testing.T) {
	tool := New(initRepo(t))
	out, isErr := query(t, tool, `{"query":"show"}`)
	if isErr {
		t.Fatalf("unexpected error: %s", out)
	}
	if !strings.Contains(out, "initial commit") {
		t.Errorf("show = %q", out)
	}
}

func TestGitInfoDiff(t *testing.T) {
	root := initRepo(t)
	if err := os.WriteFile(filepath.Join(root, "new.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("git", "add", "new.txt")
	cmd.Dir = root
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v\n%s", err, out)
	}

	tool := New(root)
	out, isErr := query(t, tool, `{"query":"diff","ref":"HEAD"}`)
	if isErr {
		t.Fatalf("unexpected error: %s", out)
	}
	if !strings.Contains(out, "new.txt") {
		t.Errorf("diff = %q", out)
	}
}

func TestGitInfoStatusCleanRepo(t *testing.T) {
	tool := New(initRepo(t))
	out, isErr := query(t, tool, `{"query":"status"}`)
	if isErr {
		t.Fatalf("unexpected error: %s", out)
	}
	if !strings.Contains(out, "main") {
		t.Errorf("status = %q", out)
	}
}

func TestGitInfoOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	tool := New(t.TempDir())
	out, isErr := query(t, tool, `{"query":"branch"}`)
	if !isErr {
		t.Errorf("expected error outside a repository, got %q", out)
	}
}

func TestGitInfoRejectsBadInput(t *testing.T) {
	tool := New(t.TempDir())

	tests := []string{
		`{"query":"push"}`,
		`{"query":"show","ref":"--exec=evil"}`,
		`{"query":"show","ref":"bad ref"}`,
	}
	for _, params := range tests {
		out, isErr := query(t, tool, params)
		if !isErr {
			t.Errorf("params %s: expected rejection, got %q", params, out)
		}
	}
}
