// Package system inspects the host the builder runs on.
package system

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/hse-launcher/instance-builder/internal/utils/logger"
	"github.com/hse-launcher/instance-builder/internal/utils/shell"
)

// OsReleaseFile is read by GetHostOsInfo.
var OsReleaseFile = "/etc/os-release"

// ErrJavaNotFound is returned when the configured java cannot be run.
var ErrJavaNotFound = errors.New("java is required to run loader installers")

var javaVersionRe = regexp.MustCompile(`version "([^"]+)"`)

// GetHostOsInfo returns the name, version and architecture of the host.
// Name and version stay empty when os-release is unavailable.
func GetHostOsInfo() (map[string]string, error) {
	hostOsInfo := map[string]string{
		"name":    "",
		"version": "",
		"arch":    runtime.GOARCH,
	}

	file, err := os.Open(OsReleaseFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return hostOsInfo, nil
		}
		return hostOsInfo, fmt.Errorf("failed to read %s: %w", OsReleaseFile, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"")
		switch key {
		case "NAME":
			hostOsInfo["name"] = value
		case "VERSION_ID":
			hostOsInfo["version"] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return hostOsInfo, fmt.Errorf("failed to parse %s: %w", OsReleaseFile, err)
	}
	return hostOsInfo, nil
}

// JavaVersion runs javaPath -version and returns the version it reports.
func JavaVersion(ctx context.Context, javaPath string) (string, error) {
	output, err := shell.ExecArgs(ctx, "", javaPath, "-version")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrJavaNotFound, javaPath, err)
	}
	m := javaVersionRe.FindStringSubmatch(output)
	if m == nil {
		return "", fmt.Errorf("%w: unrecognized output of %s -version", ErrJavaNotFound, javaPath)
	}
	logger.Logger().Debugf("Using java %s from %s", m[1], javaPath)
	return m[1], nil
}
