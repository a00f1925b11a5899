package loader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/hse-launcher/instance-builder/internal/metadata"
	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/utils/file"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
	"github.com/hse-launcher/instance-builder/internal/utils/shell"
)

// processor is one installer step: a java program run with resolved arguments.
type processor struct {
	Sides     []string          `json:"sides,omitempty"`
	Jar       string            `json:"jar"`
	Classpath []string          `json:"classpath"`
	Args      []string          `json:"args"`
	Outputs   map[string]string `json:"outputs,omitempty"`
}

func (p processor) runsOnClient() bool {
	if len(p.Sides) == 0 {
		return true
	}
	for _, s := range p.Sides {
		if s == "client" {
			return true
		}
	}
	return false
}

type processorRun struct {
	java          string
	workDir       string
	libsDir       string
	installerPath string
	installer     *zip.Reader
	vanilla       *metadata.VersionMetadata
	tempDir       string

	data map[string]string
}

func (r *processorRun) all(ctx context.Context, profile *installProfile) error {
	log := logger.Logger()
	if err := r.prepareData(profile); err != nil {
		return err
	}
	defer os.RemoveAll(r.tempDir)

	for i, p := range profile.Processors {
		if !p.runsOnClient() {
			continue
		}
		done, err := r.outputsPresent(p)
		if err != nil {
			return fmt.Errorf("processor %s: %w", p.Jar, err)
		}
		if done {
			log.Debugf("Processor %d (%s) outputs already present", i, p.Jar)
			continue
		}
		log.Infof("Running processor %d/%d: %s", i+1, len(profile.Processors), p.Jar)
		if err := r.run(ctx, p); err != nil {
			return fmt.Errorf("processor %s: %w", p.Jar, err)
		}
	}
	return nil
}

func (r *processorRun) prepareData(profile *installProfile) error {
	r.data = map[string]string{
		"SIDE":              "client",
		"MINECRAFT_JAR":     paths.ClientJarPath(r.workDir, r.vanilla.ID),
		"MINECRAFT_VERSION": r.vanilla.ID,
		"ROOT":              r.workDir,
		"INSTALLER":         r.installerPath,
		"LIBRARY_DIR":       r.libsDir,
	}
	for key, v := range profile.Data {
		value, err := r.resolveData(v.Client)
		if err != nil {
			return fmt.Errorf("install data %s: %w", key, err)
		}
		r.data[key] = value
	}
	return nil
}

// resolveData turns an install data value into something a processor can
// use: [coordinate] is a library path, 'text' is a literal and anything else
// is a file inside the installer that gets extracted.
func (r *processorRun) resolveData(value string) (string, error) {
	switch {
	case isBracketed(value, '[', ']'):
		return r.libraryPath(value[1 : len(value)-1])
	case isBracketed(value, '\'', '\''):
		return value[1 : len(value)-1], nil
	case value == "":
		return "", nil
	}

	name := strings.TrimPrefix(value, "/")
	f := findZipEntry(r.installer, name)
	if f == nil {
		return "", fmt.Errorf("%s not found in installer", value)
	}
	dest := filepath.Join(r.tempDir, filepath.FromSlash(name))
	if err := extractEntry(f, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (r *processorRun) libraryPath(coordinate string) (string, error) {
	rel, err := metadata.MavenPath(coordinate, "")
	if err != nil {
		return "", err
	}
	return filepath.Join(r.libsDir, filepath.FromSlash(rel)), nil
}

// resolveArg substitutes {KEY} with install data and [coordinate] with a library path.
func (r *processorRun) resolveArg(arg string) (string, error) {
	switch {
	case isBracketed(arg, '{', '}'):
		key := arg[1 : len(arg)-1]
		value, ok := r.data[key]
		if !ok {
			return "", fmt.Errorf("unknown install data key %s", key)
		}
		return value, nil
	case isBracketed(arg, '[', ']'):
		return r.libraryPath(arg[1 : len(arg)-1])
	}
	return arg, nil
}

func (r *processorRun) outputsPresent(p processor) (bool, error) {
	if len(p.Outputs) == 0 {
		return false, nil
	}
	for k, v := range p.Outputs {
		path, err := r.resolveArg(k)
		if err != nil {
			return false, err
		}
		want, err := r.resolveArg(v)
		if err != nil {
			return false, err
		}
		got, err := file.HashFile(path)
		if err != nil || got != strings.Trim(want, "'") {
			return false, nil
		}
	}
	return true, nil
}

func (r *processorRun) run(ctx context.Context, p processor) error {
	jarPath, err := r.libraryPath(p.Jar)
	if err != nil {
		return err
	}
	mainClass, err := jarMainClass(jarPath)
	if err != nil {
		return err
	}

	classpath := []string{jarPath}
	for _, c := range p.Classpath {
		cp, err := r.libraryPath(c)
		if err != nil {
			return err
		}
		classpath = append(classpath, cp)
	}

	args := []string{"-cp", strings.Join(classpath, string(os.PathListSeparator)), mainClass}
	for _, a := range p.Args {
		resolved, err := r.resolveArg(a)
		if err != nil {
			return err
		}
		args = append(args, resolved)
	}

	if _, err := shell.ExecArgs(ctx, r.workDir, r.java, args...); err != nil {
		return err
	}

	if len(p.Outputs) > 0 {
		ok, err := r.outputsPresent(p)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("outputs do not match the expected checksums")
		}
	}
	return nil
}

// jarMainClass reads Main-Class from the jar manifest.
func jarMainClass(jarPath string) (string, error) {
	zr, err := zip.OpenReader(jarPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", jarPath, err)
	}
	defer zr.Close()

	data, err := readZipEntry(&zr.Reader, "META-INF/MANIFEST.MF")
	if err != nil {
		return "", fmt.Errorf("%s: %w", jarPath, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if v, ok := strings.CutPrefix(line, "Main-Class:"); ok {
			return strings.TrimSpace(v), nil
		}
	}
	return "", fmt.Errorf("%s has no Main-Class", jarPath)
}

func isBracketed(s string, first, last byte) bool {
	return len(s) >= 2 && s[0] == first && s[len(s)-1] == last
}
