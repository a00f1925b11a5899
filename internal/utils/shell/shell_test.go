package shell

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
)

var expectedOutput = map[string][]interface{}{
	"echo 'test-exec-cmd-override'": {"override-test\n", nil},
	"false":                         {"", fmt.Errorf("exit status 1")},
}

func execCmdOverride(ctx context.Context, cmdStr string, dir string, envVal []string) (string, error) {
	if output, exists := expectedOutput[cmdStr]; exists {
		if output[1] != nil {
			return output[0].(string), output[1].(error)
		}
		return output[0].(string), nil
	}
	return "", fmt.Errorf("unexpected command for override: %s", cmdStr)
}

// checkShellAvailable checks if a shell is available for testing
func checkShellAvailable(t *testing.T) {
	t.Helper()
	shells := []string{"/bin/bash", "/usr/bin/bash", "/bin/sh"}
	for _, shell := range shells {
		if _, err := exec.LookPath(shell); err == nil {
			return
		}
	}
	t.Skip("No shell (bash or sh) available in test environment")
}

func TestGetFullCmdStr(t *testing.T) {
	if got := GetFullCmdStr("echo hello", nil); got != "echo hello" {
		t.Errorf("expected unchanged command, got: %s", got)
	}
	if got := GetFullCmdStr("echo $A", []string{"A=1", "B=2"}); got != "A=1 B=2 echo $A" {
		t.Errorf("expected env prefix, got: %s", got)
	}
}

func TestExecCmd(t *testing.T) {
	checkShellAvailable(t)

	out, err := ExecCmd(context.Background(), "echo test-exec-cmd", "", nil)
	if err != nil {
		t.Fatalf("ExecCmd failed: %v", err)
	}
	if !strings.Contains(out, "test-exec-cmd") {
		t.Errorf("Expected output to contain 'test-exec-cmd', got: %s", out)
	}
}

func TestExecCmdFailure(t *testing.T) {
	checkShellAvailable(t)

	if _, err := ExecCmd(context.Background(), "exit 3", "", nil); err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}

func TestExecCmdRunsInDir(t *testing.T) {
	checkShellAvailable(t)

	dir := t.TempDir()
	out, err := ExecCmd(context.Background(), "pwd", dir, nil)
	if err != nil {
		t.Fatalf("ExecCmd failed: %v", err)
	}
	if !strings.Contains(out, dir) {
		t.Errorf("expected output to contain %s, got: %s", dir, out)
	}
}

func TestExecCmdWithStream(t *testing.T) {
	checkShellAvailable(t)

	out, err := ExecCmdWithStream(context.Background(), "echo test-exec-stream", "", nil)
	if err != nil {
		t.Fatalf("ExecCmdWithStream failed: %v", err)
	}
	if !strings.Contains(out, "test-exec-stream") {
		t.Errorf("Expected output to contain 'test-exec-stream', got: %s", out)
	}
}

func TestExecArgs(t *testing.T) {
	checkShellAvailable(t)

	out, err := ExecArgs(context.Background(), "", "/bin/sh", "-c", "echo \"$0\"", "quoted arg")
	if err != nil {
		t.Fatalf("ExecArgs failed: %v", err)
	}
	if !strings.Contains(out, "quoted arg") {
		t.Errorf("expected argument to pass through unquoted, got: %s", out)
	}
}

func TestExecCmdOverride(t *testing.T) {
	originalExecCmd := ExecCmd
	defer func() { ExecCmd = originalExecCmd }()
	ExecCmd = execCmdOverride

	out, err := ExecCmd(context.Background(), "echo 'test-exec-cmd-override'", "", nil)
	if err != nil {
		t.Fatalf("ExecCmd with override failed: %v", err)
	}
	if !strings.Contains(out, "override-test") {
		t.Errorf("Expected output to contain 'override-test', got: %s", out)
	}
	if _, err := ExecCmd(context.Background(), "false", "", nil); err == nil {
		t.Error("expected override error to surface")
	}
}
