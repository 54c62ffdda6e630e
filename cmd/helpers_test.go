// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/config"
	"github.com/xkilldash9x/sinkscan/internal/observability"
	"github.com/xkilldash9x/sinkscan/internal/store"
)

// resetForTest silences the global logger for the duration of a test.
func resetForTest(t *testing.T) {
	t.Helper()
	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "console"}, zapcore.AddSync(io.Discard))
	t.Cleanup(observability.ResetForTest)
}

// writeConfig writes a config file into a fresh temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sinkscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// writeTree creates files (relative path -> content) under a temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

type commandOutput struct {
	Stdout string
	Stderr string
}

// executeCommand runs a fresh command tree with an isolated, empty config file
// unless args already name one.
func executeCommand(t *testing.T, provider storeProvider, stdin string, args ...string) (commandOutput, error) {
	t.Helper()
	resetForTest(t)

	hasConfig := false
	for _, a := range args {
		if a == "--config" || a == "-c" {
			hasConfig = true
		}
	}
	if !hasConfig {
		args = append([]string{"--config", writeConfig(t, "")}, args...)
	}

	root := newRootCommand(provider)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return commandOutput{Stdout: stdout.String(), Stderr: stderr.String()}, err
}

// fakeStore is an in-memory runStore.
type fakeStore struct {
	mu        sync.Mutex
	saved     []store.Run
	results   map[string][]core.ScanResult
	runs      []store.RunSummary
	schemaErr error
	saveErr   error
	schemaOK  bool
}

func (f *fakeStore) EnsureSchema(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schemaErr != nil {
		return f.schemaErr
	}
	f.schemaOK = true
	return nil
}

func (f *fakeStore) SaveRun(_ context.Context, run store.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, run)
	return nil
}

func (f *fakeStore) FindingsByRun(_ context.Context, runID string) ([]core.ScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrRunNotFound)
	}
	return res, nil
}

func (f *fakeStore) Runs(_ context.Context, limit int) ([]store.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

// fakeProvider hands out a fakeStore and records cleanup.
type fakeProvider struct {
	store   *fakeStore
	err     error
	cleaned bool
}

func (p *fakeProvider) Create(context.Context, config.Interface) (runStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleaned = true }, nil
}
