package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/clausemap/pkg/clause"
	"github.com/coolbeans/clausemap/pkg/normalize"
	"github.com/coolbeans/clausemap/pkg/progress"
	"github.com/coolbeans/clausemap/pkg/store"
)

const contractText = "1 Definitions\n1.1 Contract\n1.10 Notices\f2 The Employer\n2.1 Right of Access to the Site\n14 Days after the notice\n"

func newTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "clausemap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	lib := New(s, progress.NewTracker(progress.Options{}), nil, Options{TextDir: filepath.Join(dir, "text")})
	return lib, dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngest_TextFile(t *testing.T) {
	lib, dir := newTestLibrary(t)
	ctx := context.Background()
	path := writeFile(t, dir, "General Conditions.txt", contractText)

	result, err := lib.Ingest(ctx, "", path)
	require.NoError(t, err)
	assert.Equal(t, "general-conditions", result.AssetID)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 5, result.Stats.Entries)
	assert.Equal(t, 2, result.Stats.TopLevel)

	m, err := lib.Store().ClauseMap(ctx, "general-conditions")
	require.NoError(t, err)
	assert.Equal(t, clause.Map{
		"1":    "Definitions",
		"1.1":  "Contract",
		"1.10": "Notices",
		"2":    "The Employer",
		"2.1":  "Right of Access to the Site",
	}, m)

	entries, err := lib.Store().ExtendedToc(ctx, "general-conditions")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, 2, entries[3].PageNo)

	jobs := lib.Tracker().List()
	require.Len(t, jobs, 1)
	assert.Equal(t, progress.StateCompleted, jobs[0].State)
	assert.Equal(t, "general-conditions", jobs[0].Subject)
}

func TestIngest_StoresNormalizedText(t *testing.T) {
	lib, dir := newTestLibrary(t)
	path := writeFile(t, dir, "a.txt", contractText)

	_, err := lib.Ingest(context.Background(), "a", path)
	require.NoError(t, err)

	text, err := lib.LoadSourceText("a")
	require.NoError(t, err)
	assert.Contains(t, text, "=== PAGE 2 ===\n2 The Employer\n")
}

func TestIngest_UnsupportedFile(t *testing.T) {
	lib, dir := newTestLibrary(t)
	path := writeFile(t, dir, "scan.png", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	_, err := lib.Ingest(context.Background(), "scan", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, normalize.ErrUnsupported)

	jobs := lib.Tracker().List()
	require.Len(t, jobs, 1)
	assert.Equal(t, progress.StateFailed, jobs[0].State)
	assert.NotEmpty(t, jobs[0].Error)
}

func TestIngestText(t *testing.T) {
	lib, _ := newTestLibrary(t)
	ctx := context.Background()

	result, err := lib.IngestText(ctx, "pasted", "clipboard", "=== PAGE 3 ===\n8 Commencement, Delays and Suspension\n")
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, 3, result.Entries[0].PageNo)

	asset, err := lib.Store().Asset(ctx, "pasted")
	require.NoError(t, err)
	assert.Equal(t, "clipboard", asset.Source)
	assert.Equal(t, "text", asset.Kind)

	_, err = lib.IngestText(ctx, "", "clipboard", "1 Scope")
	assert.Error(t, err)
}

func TestIngestAsync(t *testing.T) {
	lib, dir := newTestLibrary(t)
	path := writeFile(t, dir, "contract.txt", contractText)

	ctx, cancel := context.WithCancel(context.Background())
	jobID := lib.IngestAsync(ctx, "", path)
	cancel()
	lib.Wait()

	job, ok := lib.Tracker().Get(jobID)
	require.True(t, ok)
	assert.Equal(t, progress.StateCompleted, job.State)
	assert.Equal(t, "contract", job.Subject)

	_, err := lib.Store().ExtendedToc(context.Background(), "contract")
	assert.NoError(t, err)
}

func TestRemove(t *testing.T) {
	lib, dir := newTestLibrary(t)
	ctx := context.Background()
	path := writeFile(t, dir, "a.txt", contractText)

	_, err := lib.Ingest(ctx, "a", path)
	require.NoError(t, err)
	require.NoError(t, lib.Remove(ctx, "a"))

	_, err = lib.LoadSourceText("a")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, lib.Remove(ctx, "a"), store.ErrNotFound)
}

func TestLoadSourceText_NotConfigured(t *testing.T) {
	lib := New(nil, nil, nil, Options{})
	_, err := lib.LoadSourceText("a")
	assert.Error(t, err)
}

func TestAssetIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/inbox/GC 2017 (Red Book).pdf", "gc-2017-red-book"},
		{"contract.txt", "contract"},
		{"Particular Conditions.v2.txt", "particular-conditions-v2"},
		{"/inbox/.pdf", "asset"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, AssetIDFromPath(tt.path))
		})
	}
}

func TestIngest_UpdatesTimestamps(t *testing.T) {
	lib, dir := newTestLibrary(t)
	ctx := context.Background()
	path := writeFile(t, dir, "a.txt", contractText)

	before := time.Now().Add(-time.Second)
	_, err := lib.Ingest(ctx, "a", path)
	require.NoError(t, err)

	asset, err := lib.Store().Asset(ctx, "a")
	require.NoError(t, err)
	assert.True(t, asset.UpdatedAt.After(before))
}
