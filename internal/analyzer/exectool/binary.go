// Package exectool runs external analysis binaries against a private
// workspace holding the snapshot's sources.
package exectool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/types"
)

// Binary locates one external tool.
type Binary struct {
	name       string
	customPath string
	cachePath  string
}

// NewBinary creates a binary locator. customPath, when set, is the only
// place looked at.
func NewBinary(name, customPath string) *Binary {
	homeDir, _ := os.UserHomeDir()
	return &Binary{
		name:       name,
		customPath: customPath,
		cachePath:  filepath.Join(homeDir, ".clauselens", "bin"),
	}
}

// Find locates the binary using the following search order:
// 1. Custom path (if provided)
// 2. $PATH lookup
// 3. ~/.clauselens/bin/<name>
func (b *Binary) Find() (string, error) {
	if b.customPath != "" {
		if _, err := os.Stat(b.customPath); err == nil {
			return b.customPath, nil
		}
		return "", fmt.Errorf("custom %s path not found: %s", b.name, b.customPath)
	}

	if path, err := exec.LookPath(b.name); err == nil {
		return path, nil
	}

	cached := filepath.Join(b.cachePath, b.name)
	if runtime.GOOS == "windows" {
		cached += ".exe"
	}
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}

	return "", fmt.Errorf("%s binary not found in PATH or %s", b.name, b.cachePath)
}

// Version runs the binary with versionArg and returns the first output line
// without a leading "v".
func (b *Binary) Version(ctx context.Context, path, versionArg string) (string, error) {
	out, err := exec.CommandContext(ctx, path, versionArg).Output()
	if err != nil {
		return "", fmt.Errorf("failed to get %s version: %w", b.name, err)
	}
	v := strings.TrimSpace(string(out))
	if i := strings.IndexByte(v, '\n'); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	v = strings.TrimPrefix(v, "version ")
	return strings.TrimPrefix(v, "v"), nil
}

// Workspace writes sources into a fresh 0700 temp dir keeping their
// relative paths. The returned cleanup removes it.
func Workspace(sources []analyzer.Source) (string, func(), error) {
	dir, err := os.MkdirTemp("", "clauselens-ws-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp workspace: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	if err := os.Chmod(dir, 0o700); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to secure temp workspace: %w", err)
	}
	for i, s := range sources {
		rel := filepath.Clean(filepath.FromSlash(s.Path))
		if rel == "." || filepath.IsAbs(rel) || strings.HasPrefix(rel, "..") {
			rel = fmt.Sprintf("%05d_%s", i, filepath.Base(s.Path))
		}
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(rel), err)
		}
		if err := os.WriteFile(full, s.Content, 0o600); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("failed to write temp file: %w", err)
		}
	}
	return dir, cleanup, nil
}

// Run executes bin in dir and returns stdout. okCodes lists non-zero exit
// codes that still mean a successful analysis (tools that signal findings
// through their exit status).
func Run(ctx context.Context, tool, bin, dir string, args []string, okCodes ...int) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		for _, c := range okCodes {
			if exitErr.ExitCode() == c {
				return stdout.Bytes(), nil
			}
		}
	}
	return nil, WrapError(ctx, tool, err, stderr.String())
}

// WrapError turns a failed invocation into an error carrying the tool's
// stderr. Deadline hits are transient.
func WrapError(ctx context.Context, tool string, err error, stderr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &types.TransientToolError{Tool: tool, Err: ctx.Err()}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := fmt.Sprintf("%s failed (exit code %d)", tool, exitErr.ExitCode())
		switch {
		case containsFold(stderr, "permission denied"):
			msg += "\n\nPermission denied. Check that the binary is executable."
		case containsFold(stderr, "solc"), containsFold(stderr, "compiler"):
			msg += "\n\nCompilation failed. Check that a matching solc is installed (solc-select)."
		}
		if s := strings.TrimSpace(stderr); s != "" {
			msg += fmt.Sprintf("\n\n%s error output:\n%s", tool, s)
		}
		return errors.New(msg)
	}
	return fmt.Errorf("%s execution failed: %w", tool, err)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// SolidityGlob selects Solidity sources.
const SolidityGlob = "**/*.{sol,SOL}"

// Matching returns the sources of in whose slash path matches the
// doublestar pattern. Invalid patterns match nothing.
func Matching(in analyzer.Input, pattern string) []analyzer.Source {
	var out []analyzer.Source
	for _, s := range in.Sources {
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(s.Path)); ok {
			out = append(out, s)
		}
	}
	return out
}

// Solidity returns the .sol sources of in, narrowed by the adapter's
// "include" option when set.
func Solidity(in analyzer.Input, adapter ...string) []analyzer.Source {
	srcs := Matching(in, SolidityGlob)
	if len(adapter) == 0 {
		return srcs
	}
	inc := in.Option(adapter[0], "include")
	if inc == "" {
		return srcs
	}
	return Matching(analyzer.Input{Sources: srcs}, inc)
}
