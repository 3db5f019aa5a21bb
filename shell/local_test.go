package shell

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalExecutor_Exec(t *testing.T) {
	e := NewLocalExecutor()

	res, err := e.Exec(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want hello", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestLocalExecutor_Exec_NonZeroExit(t *testing.T) {
	e := NewLocalExecutor()

	res, err := e.Exec(context.Background(), "exit 3")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestLocalExecutor_PutContent(t *testing.T) {
	e := NewLocalExecutor()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "note.md")

	if err := e.PutContent(context.Background(), "content here", path); err != nil {
		t.Fatalf("PutContent: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "content here" {
		t.Errorf("content = %q", data)
	}
}
