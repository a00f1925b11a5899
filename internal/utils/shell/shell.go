package shell

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/hse-launcher/instance-builder/internal/utils/logger"
)

// ExecCmd runs cmdStr through the preferred shell in dir (the current
// directory when empty) and returns its combined output.
// It is a variable so callers' tests can replace it.
var ExecCmd = execCmd

// ExecCmdWithStream runs cmdStr like ExecCmd but logs output lines as they
// arrive. Hooks use it so long-running commands show progress.
var ExecCmdWithStream = execCmdWithStream

// ExecArgs runs a program directly, without a shell, so arguments need no quoting.
var ExecArgs = execArgs

// getShell returns the preferred shell, falling back to /bin/sh if bash is not available
func getShell() string {
	shells := []string{"/bin/bash", "/usr/bin/bash", "/bin/sh"}
	for _, shell := range shells {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh" // fallback
}

// GetFullCmdStr prefixes cmdStr with the given KEY=VALUE assignments.
func GetFullCmdStr(cmdStr string, envVal []string) string {
	if len(envVal) == 0 {
		return cmdStr
	}
	return strings.Join(envVal, " ") + " " + cmdStr
}

func execCmd(ctx context.Context, cmdStr string, dir string, envVal []string) (string, error) {
	log := logger.Logger()
	fullCmdStr := GetFullCmdStr(cmdStr, envVal)
	log.Debugf("Exec: [%s]", fullCmdStr)

	cmd := exec.CommandContext(ctx, getShell(), "-c", fullCmdStr)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	outputStr := string(output)

	if err != nil {
		if outputStr != "" {
			log.Info(outputStr)
		}
		return outputStr, fmt.Errorf("failed to exec %s: %w", fullCmdStr, err)
	}
	if outputStr != "" {
		log.Debug(outputStr)
	}
	return outputStr, nil
}

func execCmdWithStream(ctx context.Context, cmdStr string, dir string, envVal []string) (string, error) {
	log := logger.Logger()
	fullCmdStr := GetFullCmdStr(cmdStr, envVal)
	log.Debugf("Exec: [%s]", fullCmdStr)

	cmd := exec.CommandContext(ctx, getShell(), "-c", fullCmdStr)
	cmd.Dir = dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stdout pipe for command %s: %w", fullCmdStr, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stderr pipe for command %s: %w", fullCmdStr, err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start command %s: %w", fullCmdStr, err)
	}

	var (
		wg  sync.WaitGroup
		out strings.Builder
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if str := scanner.Text(); str != "" {
				out.WriteString(str)
				out.WriteByte('\n')
				log.Info(str)
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if str := scanner.Text(); str != "" {
				log.Warn(str)
			}
		}
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return out.String(), fmt.Errorf("failed to wait for command %s: %w", fullCmdStr, err)
	}
	return out.String(), nil
}

func execArgs(ctx context.Context, dir string, name string, args ...string) (string, error) {
	log := logger.Logger()
	log.Debugf("Exec: %s %s", name, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	outputStr := string(output)
	if err != nil {
		if outputStr != "" {
			log.Info(outputStr)
		}
		return outputStr, fmt.Errorf("failed to exec %s: %w", name, err)
	}
	if outputStr != "" {
		log.Debug(outputStr)
	}
	return outputStr, nil
}
