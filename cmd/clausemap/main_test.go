package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/clausemap/pkg/clause"
	"github.com/coolbeans/clausemap/pkg/store"
)

const contents = `1      Definitions ........ 3
1.1    Contract
2      The Employer 5
2.1    Right of Access to the Site
14     Payment`

// isolate runs the test from an empty directory with no user config.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTocCommand(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "contents.txt", contents)

	out, err := run(t, "", "toc", "--format", "json", path)
	require.NoError(t, err)

	var mappings []clause.Mapping
	require.NoError(t, json.Unmarshal([]byte(out), &mappings))
	require.Len(t, mappings, 5)
	assert.Equal(t, clause.Mapping{Number: "1", Heading: "Definitions"}, mappings[0])
	assert.Equal(t, "14", mappings[4].Number)
}

func TestTocCommand_Stdin(t *testing.T) {
	isolate(t)
	out, err := run(t, "3.1 Time for Completion .... 12\n", "toc")
	require.NoError(t, err)
	assert.Contains(t, out, "3.1")
	assert.Contains(t, out, "Time for Completion")
	assert.NotContains(t, out, "12")
}

func TestCheckCommand(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "check", "1.2", "SECTION")
	require.NoError(t, err)
	assert.Contains(t, out, "yes  1.2")
	assert.Contains(t, out, "no   SECTION")
}

func TestRefsCommand(t *testing.T) {
	dir := isolate(t)
	tocPath := writeFile(t, dir, "contents.txt", contents)

	out, err := run(t, "Subject to clause 14 and 2.1, see 140.", "refs", "--toc", tocPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "14 "))
	assert.Contains(t, lines[1], "Right of Access to the Site")
}

func TestRefsCommand_NeedsClauseMap(t *testing.T) {
	isolate(t)
	_, err := run(t, "clause 1", "refs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--toc or --asset")
}

func TestMatchCommand(t *testing.T) {
	dir := isolate(t)
	tocPath := writeFile(t, dir, "contents.txt", contents)

	out, err := run(t, "", "match", "--toc", tocPath, "--format", "json", "2.1(b)(ii)")
	require.NoError(t, err)
	assert.JSONEq(t, `{"number":"2.1","heading":"Right of Access to the Site"}`, out)

	_, err = run(t, "", "match", "--toc", tocPath, "9.9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no clause matches")
}

func TestExtendedCommand(t *testing.T) {
	isolate(t)
	out, err := run(t, "1 Definitions\n1.1 Contract\f2 The Employer\n", "extended", "--format", "json")
	require.NoError(t, err)

	var result extendedOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Entries, 3)
	assert.Equal(t, 2, result.Entries[2].PageNo)
	assert.Equal(t, 2, result.Stats.Pages)
	assert.Empty(t, result.Trace)
}

func TestExtendedCommand_Explain(t *testing.T) {
	isolate(t)
	out, err := run(t, "1 Definitions\n14 Days after notice\n", "extended", "--explain")
	require.NoError(t, err)
	assert.Contains(t, out, "accepted")
	assert.Contains(t, out, "sentence_fragment")
}

func TestNormalizeCommand(t *testing.T) {
	isolate(t)
	out, err := run(t, "1   Definitions\fPage  two\n", "normalize")
	require.NoError(t, err)
	assert.Equal(t, "=== PAGE 1 ===\n1 Definitions\n=== PAGE 2 ===\nPage two\n", out)
}

func TestAssetCommands(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "General Conditions.txt", "1 Definitions\n1.1 Contract\f2 The Employer\n")

	out, err := run(t, "", "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "general-conditions")

	out, err = run(t, "", "assets", "--format", "json")
	require.NoError(t, err)
	var assets []store.Asset
	require.NoError(t, json.Unmarshal([]byte(out), &assets))
	require.Len(t, assets, 1)
	assert.Equal(t, 3, assets[0].EntryCount)

	out, err = run(t, "", "show", "general-conditions", "--format", "json")
	require.NoError(t, err)
	var shown showOutput
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "The Employer", shown.Entries[2].Description)

	out, err = run(t, "", "show", "--text", "general-conditions")
	require.NoError(t, err)
	assert.Contains(t, out, "=== PAGE 2 ===")

	out, err = run(t, "see clause 1.1", "refs", "--asset", "general-conditions")
	require.NoError(t, err)
	assert.Contains(t, out, "Contract")

	_, err = run(t, "", "remove", "general-conditions")
	require.NoError(t, err)

	_, err = run(t, "", "show", "general-conditions")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngestCommand_IDNeedsSingleFile(t *testing.T) {
	isolate(t)
	_, err := run(t, "", "ingest", "--id", "x", "a.txt", "b.txt")
	require.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")

	_, err := run(t, "", "config", "init", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_body_bytes")

	_, err = run(t, "", "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out, err := run(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "port: 8087")
}

func TestUnknownFormat(t *testing.T) {
	isolate(t)
	_, err := run(t, "", "--format", "xml", "check", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}
