// File: cmd/scan_test.go
package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/config"
	"github.com/xkilldash9x/sinkscan/internal/engine"
	"github.com/xkilldash9x/sinkscan/internal/reporting"
)

const vulnerableApp = `function show(msg) { box.innerHTML = msg; }
eval(payload);
`

func TestApplyScanFlagOverrides(t *testing.T) {
	const validRunID = "3f1c2a64-5b7e-4c1e-9a57-0f2b6d0d8e11"

	testCases := []struct {
		name      string
		args      []string
		disabled  []string
		expectErr string
		check     func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "No flags keeps configured values",
			args: []string{},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 8, cfg.Engine().Concurrency)
				assert.Equal(t, "low", cfg.Engine().MinSeverity)
				assert.Equal(t, "text", cfg.Report().Format)
				assert.Empty(t, cfg.Report().FailOn)
				assert.False(t, cfg.Scan().Persist)
			},
		},
		{
			name: "Engine flags override defaults",
			args: []string{"--concurrency", "3", "--min-severity", "high"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 3, cfg.Engine().Concurrency)
				assert.Equal(t, core.SeverityHigh, cfg.Engine().Severity())
			},
		},
		{
			name:     "Disabled rules extend the configured list",
			args:     []string{"--disable", "DynamicEvalRule,DomSinkRule"},
			disabled: []string{"InsecureStorageRule"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, []string{"InsecureStorageRule", "DynamicEvalRule", "DomSinkRule"}, cfg.Rules().Disabled)
			},
		},
		{
			name: "Report flags override defaults",
			args: []string{"--format", "sarif", "--output", "out.sarif", "--fail-on", "critical"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "sarif", cfg.Report().Format)
				assert.Equal(t, "out.sarif", cfg.Report().Output)
				assert.Equal(t, core.SeverityCritical, cfg.Report().FailOnSeverity())
			},
		},
		{
			name: "Persistence flags populate the scan config",
			args: []string{"--persist", "--run-id", validRunID},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, config.ScanConfig{Paths: []string{"src"}, RunID: validRunID, Persist: true}, cfg.Scan())
			},
		},
		{name: "Invalid concurrency", args: []string{"--concurrency", "0"}, expectErr: "invalid --concurrency value 0"},
		{name: "Invalid min severity", args: []string{"--min-severity", "severe"}, expectErr: "invalid --min-severity value"},
		{name: "Invalid fail-on", args: []string{"--fail-on", "urgent"}, expectErr: "invalid --fail-on value"},
		{name: "Invalid run id", args: []string{"--run-id", "run-1"}, expectErr: `invalid --run-id value "run-1"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// -- Setup --
			cfg := config.NewDefaultConfig()
			cfg.SetRulesDisabled(tc.disabled)
			scanCmd := newScanCmd(nil)
			require.NoError(t, scanCmd.ParseFlags(tc.args))

			// -- Execution --
			err := applyScanFlagOverrides(scanCmd, cfg, []string{"src"})

			// -- Assertions --
			if tc.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErr)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestCollectInputs(t *testing.T) {
	scanner := config.ScannerConfig{
		Extensions:  []string{".js", ".mjs", ".jsx"},
		ExcludeDirs: []string{"node_modules", ".git"},
	}
	const maxBytes = 64

	t.Run("Walks directories and honours filters", func(t *testing.T) {
		// -- Setup --
		root := writeTree(t, map[string]string{
			"a.js":                "eval(a);",
			"b.MJS":               "eval(b);",
			"big.js":              strings.Repeat("x", maxBytes+1),
			"readme.md":           "# docs",
			"node_modules/lib.js": "eval(lib);",
			".git/hooks/pre.js":   "eval(hook);",
			"sub/c.jsx":           "eval(c);",
			"notes.txt":           "eval(notes);",
		})
		obsCore, logs := observer.New(zap.WarnLevel)

		// -- Execution --
		inputs, err := collectInputs(
			[]string{root, filepath.Join(root, "notes.txt"), filepath.Join(root, "a.js")},
			scanner, maxBytes, nil, zap.New(obsCore),
		)

		// -- Assertions --
		require.NoError(t, err)
		id := func(rel string) string { return filepath.ToSlash(filepath.Join(root, rel)) }
		var got []string
		for _, in := range inputs {
			got = append(got, in.ID)
		}
		assert.Equal(t, []string{id("a.js"), id("b.MJS"), id("sub/c.jsx"), id("notes.txt")}, got,
			"lexical walk order, excluded dirs skipped, explicit files kept, duplicates dropped")
		assert.Equal(t, []byte("eval(a);"), inputs[0].Data)

		skipped := logs.FilterMessage("Skipping file above engine.max_unit_bytes.").All()
		require.Len(t, skipped, 1)
		assert.Equal(t, filepath.Join(root, "big.js"), skipped[0].ContextMap()["path"])
	})

	t.Run("Reads stdin once for '-'", func(t *testing.T) {
		inputs, err := collectInputs([]string{"-", "-"}, scanner, maxBytes, strings.NewReader("eval(x);"), zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, []engine.Input{{ID: stdinUnitID, Data: []byte("eval(x);")}}, inputs)
	})

	t.Run("Oversized stdin is an error", func(t *testing.T) {
		_, err := collectInputs([]string{"-"}, scanner, maxBytes, strings.NewReader(strings.Repeat("y", maxBytes+1)), zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stdin exceeds engine.max_unit_bytes")
	})

	t.Run("Unreadable file becomes a failed input", func(t *testing.T) {
		const unreadable = "/proc/self/mem"
		if _, err := os.Stat(unreadable); err != nil {
			t.Skip("needs procfs")
		}
		root := writeTree(t, map[string]string{"good.js": "eval(a);"})
		good := filepath.Join(root, "good.js")
		obsCore, logs := observer.New(zap.WarnLevel)

		inputs, err := collectInputs([]string{good, unreadable}, scanner, maxBytes, nil, zap.New(obsCore))

		require.NoError(t, err)
		require.Len(t, inputs, 2)
		assert.Equal(t, []byte("eval(a);"), inputs[0].Data)
		assert.NoError(t, inputs[0].Err)
		assert.Equal(t, unreadable, inputs[1].ID)
		require.Error(t, inputs[1].Err)
		assert.Contains(t, inputs[1].Err.Error(), "failed to read "+unreadable)
		assert.Len(t, logs.FilterMessage("Cannot read file; reporting it as invalid input.").All(), 1)
	})

	t.Run("Missing path", func(t *testing.T) {
		_, err := collectInputs([]string{filepath.Join(t.TempDir(), "nope")}, scanner, maxBytes, nil, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot scan")
	})
}

// readJSONReport decodes a report written with --format json.
func readJSONReport(t *testing.T, path string) reporting.JSONReport {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc reporting.JSONReport
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func ruleIDs(doc reporting.JSONReport) []string {
	var ids []string
	for _, u := range doc.Units {
		for _, f := range u.Findings {
			ids = append(ids, f.RuleID)
		}
	}
	return ids
}

func TestScanCmd_EndToEnd(t *testing.T) {
	newProject := func(t *testing.T) string {
		return writeTree(t, map[string]string{
			"src/app.js":              vulnerableApp,
			"src/clean.js":            "var answer = 42;\n",
			"src/node_modules/dep.js": "eval(dep);\n",
		})
	}

	t.Run("Writes a report of every unit", func(t *testing.T) {
		// -- Setup --
		root := newProject(t)
		out := filepath.Join(t.TempDir(), "report.json")

		// -- Execution --
		_, err := executeCommand(t, nil, "", "scan", "--format", "json", "--output", out, filepath.Join(root, "src"))

		// -- Assertions --
		require.NoError(t, err)
		doc := readJSONReport(t, out)
		assert.Equal(t, 2, doc.Summary.Units, "node_modules is excluded")
		assert.Equal(t, 2, doc.Summary.Findings)
		require.Len(t, doc.Units, 2)
		assert.True(t, strings.HasSuffix(doc.Units[0].UnitID, "src/app.js"))
		assert.ElementsMatch(t, []string{"DomSinkRule", "DynamicEvalRule"}, ruleIDs(doc))
		assert.Equal(t, Version, doc.Version)
	})

	t.Run("Fail-on threshold sets exit status 2 after reporting", func(t *testing.T) {
		root := newProject(t)
		out := filepath.Join(t.TempDir(), "report.json")

		_, err := executeCommand(t, nil, "", "scan", "--format", "json", "--output", out, "--fail-on", "high", root)

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrFailOnThreshold))
		assert.Equal(t, 2, ExitCode(err))
		assert.Contains(t, err.Error(), "2 finding(s) at or above high")
		assert.FileExists(t, out)
	})

	t.Run("Disabled rules do not trip the threshold", func(t *testing.T) {
		root := newProject(t)
		out := filepath.Join(t.TempDir(), "report.json")

		_, err := executeCommand(t, nil, "", "scan", "-f", "json", "-o", out,
			"--fail-on", "critical", "--disable", "DynamicEvalRule", root)

		require.NoError(t, err)
		assert.Equal(t, []string{"DomSinkRule"}, ruleIDs(readJSONReport(t, out)))
	})

	t.Run("Minimum severity filters findings", func(t *testing.T) {
		root := newProject(t)
		out := filepath.Join(t.TempDir(), "report.json")

		_, err := executeCommand(t, nil, "", "scan", "-f", "json", "-o", out, "--min-severity", "critical", root)

		require.NoError(t, err)
		assert.Equal(t, []string{"DynamicEvalRule"}, ruleIDs(readJSONReport(t, out)))
	})

	t.Run("Config file drives the report", func(t *testing.T) {
		root := newProject(t)
		out := filepath.Join(t.TempDir(), "report.md")
		cfgPath := writeConfig(t, "report:\n  format: markdown\n  output: "+out+"\nrules:\n  disabled: [DomSinkRule]\n")

		_, err := executeCommand(t, nil, "", "--config", cfgPath, "scan", root)

		require.NoError(t, err)
		content, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Contains(t, string(content), "# sinkscan report")
		assert.Contains(t, string(content), "DynamicEvalRule")
		assert.NotContains(t, string(content), "DomSinkRule")
	})

	t.Run("Stdin unit", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "report.json")

		_, err := executeCommand(t, nil, vulnerableApp, "scan", "-f", "json", "-o", out, "-")

		require.NoError(t, err)
		doc := readJSONReport(t, out)
		require.Len(t, doc.Units, 1)
		assert.Equal(t, stdinUnitID, doc.Units[0].UnitID)
		assert.Len(t, doc.Units[0].Findings, 2)
	})

	t.Run("Invalid input fails only its unit", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"good.js": vulnerableApp,
			"bad.js":  "eval(\xff\xfe);",
		})
		out := filepath.Join(t.TempDir(), "report.json")

		_, err := executeCommand(t, nil, "", "scan", "-f", "json", "-o", out, root)

		require.NoError(t, err)
		doc := readJSONReport(t, out)
		require.Len(t, doc.Units, 2)
		assert.Equal(t, core.StatusInvalidInput, doc.Units[0].Status)
		assert.Equal(t, core.StatusOK, doc.Units[1].Status)
		assert.Equal(t, 1, doc.Summary.Failed)
	})

	t.Run("Unreadable file fails only its unit", func(t *testing.T) {
		const unreadable = "/proc/self/mem"
		if _, err := os.Stat(unreadable); err != nil {
			t.Skip("needs procfs")
		}
		root := writeTree(t, map[string]string{"good.js": vulnerableApp})
		out := filepath.Join(t.TempDir(), "report.json")

		_, err := executeCommand(t, nil, "", "scan", "-f", "json", "-o", out, filepath.Join(root, "good.js"), unreadable)

		require.NoError(t, err)
		doc := readJSONReport(t, out)
		require.Len(t, doc.Units, 2)
		assert.Equal(t, core.StatusOK, doc.Units[0].Status)
		assert.Len(t, doc.Units[0].Findings, 2)
		assert.Equal(t, unreadable, doc.Units[1].UnitID)
		assert.Equal(t, core.StatusInvalidInput, doc.Units[1].Status)
		assert.Equal(t, 1, doc.Summary.Failed)
	})

	t.Run("Unsupported format creates no file", func(t *testing.T) {
		root := newProject(t)
		out := filepath.Join(t.TempDir(), "report.xml")

		_, err := executeCommand(t, nil, "", "scan", "-f", "xml", "-o", out, root)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported output format: xml")
		assert.NoFileExists(t, out)
	})

	t.Run("Unknown rule id", func(t *testing.T) {
		_, err := executeCommand(t, nil, "", "scan", "--disable", "NoSuchRule", newProject(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown rule ids")
	})

	t.Run("Requires a path", func(t *testing.T) {
		_, err := executeCommand(t, nil, "", "scan")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires at least 1 arg(s), only received 0")
	})
}

func TestScanCmd_Persist(t *testing.T) {
	const runID = "0b8e4c1d-2f6a-4d3b-8c9e-7a1f5e2d4c60"

	t.Run("Saves the run", func(t *testing.T) {
		// -- Setup --
		root := writeTree(t, map[string]string{"app.js": vulnerableApp})
		provider := &fakeProvider{store: &fakeStore{}}
		out := filepath.Join(t.TempDir(), "report.txt")

		// -- Execution --
		_, err := executeCommand(t, provider, "", "scan", "-o", out, "--persist", "--run-id", runID, root)

		// -- Assertions --
		require.NoError(t, err)
		assert.True(t, provider.store.schemaOK)
		assert.True(t, provider.cleaned)
		require.Len(t, provider.store.saved, 1)
		run := provider.store.saved[0]
		assert.Equal(t, runID, run.ID)
		assert.Equal(t, Version, run.ToolVersion)
		assert.False(t, run.FinishedAt.Before(run.StartedAt))
		require.Len(t, run.Results, 1)
		assert.Len(t, run.Results[0].Findings, 2)
	})

	t.Run("Generates a run id", func(t *testing.T) {
		root := writeTree(t, map[string]string{"app.js": vulnerableApp})
		provider := &fakeProvider{store: &fakeStore{}}

		_, err := executeCommand(t, provider, "", "scan", "-o", filepath.Join(t.TempDir(), "r.txt"), "--persist", root)

		require.NoError(t, err)
		require.Len(t, provider.store.saved, 1)
		assert.Len(t, provider.store.saved[0].ID, 36)
	})

	t.Run("Store unavailable", func(t *testing.T) {
		root := writeTree(t, map[string]string{"app.js": vulnerableApp})
		provider := &fakeProvider{err: errors.New("connection refused")}

		_, err := executeCommand(t, provider, "", "scan", "-o", filepath.Join(t.TempDir(), "r.txt"), "--persist", root)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize store: connection refused")
	})

	t.Run("Save failure", func(t *testing.T) {
		root := writeTree(t, map[string]string{"app.js": vulnerableApp})
		provider := &fakeProvider{store: &fakeStore{saveErr: errors.New("copy failed")}}

		_, err := executeCommand(t, provider, "", "scan", "-o", filepath.Join(t.TempDir(), "r.txt"), "--persist", root)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to persist scan run")
		assert.True(t, provider.cleaned)
	})
}
