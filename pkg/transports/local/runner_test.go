package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/converge-sh/converge/pkg/inventory"
)

func testHost() *inventory.Host {
	return &inventory.Host{ID: "localhost", Address: "127.0.0.1"}
}

func TestExecuteCapturesStdout(t *testing.T) {
	r := NewRunner()

	result, err := r.Execute(context.Background(), testHost(), "echo hello", false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Stdout != "hello" {
		t.Errorf("expected stdout %q, got %q", "hello", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestExecuteNonZeroExitIsResultNotError(t *testing.T) {
	r := NewRunner()

	result, err := r.Execute(context.Background(), testHost(), "exit 3", false)
	if err != nil {
		t.Fatalf("non-zero exit must not be a transport error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	r := NewRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Execute(ctx, testHost(), "sleep 10", false); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestUploadCreatesParentDirectories(t *testing.T) {
	r := NewRunner()
	path := filepath.Join(t.TempDir(), "etc", "app", "config.yaml")

	if err := r.Upload(context.Background(), testHost(), []byte("key: value\n"), path); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(content) != "key: value\n" {
		t.Errorf("unexpected content: %q", content)
	}
}
