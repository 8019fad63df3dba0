// Package library runs the contract-parsing pipeline: it normalizes a
// source document, builds its extended table of contents and persists the
// result, reporting each stage to a progress tracker.
package library

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gosimple/slug"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/coolbeans/clausemap/pkg/clause"
	"github.com/coolbeans/clausemap/pkg/normalize"
	"github.com/coolbeans/clausemap/pkg/progress"
	"github.com/coolbeans/clausemap/pkg/store"
	"github.com/coolbeans/clausemap/pkg/toc"
)

const (
	sourceFileName = "source.txt"
	jobKind        = "ingest"
)

// Pipeline stages reported to the tracker.
const (
	StageNormalize = "normalize"
	StageScan      = "scan"
	StagePersist   = "persist"
	stageCount     = 3
)

// Store is the persistence the library needs.
type Store interface {
	SaveExtendedToc(ctx context.Context, asset store.Asset, entries []toc.Entry) error
	ExtendedToc(ctx context.Context, assetID string) ([]toc.Entry, error)
	ClauseMap(ctx context.Context, assetID string) (clause.Map, error)
	Asset(ctx context.Context, assetID string) (store.Asset, error)
	Assets(ctx context.Context) ([]store.Asset, error)
	DeleteAsset(ctx context.Context, assetID string) error
}

// Options configures a Library.
type Options struct {
	// TextDir keeps the normalized body of each asset when set.
	TextDir   string
	Normalize normalize.Options
	Builder   *toc.Builder
}

// Result summarizes one ingestion.
type Result struct {
	AssetID string      `json:"assetId" yaml:"assetId"`
	Source  string      `json:"source" yaml:"source"`
	Kind    string      `json:"kind" yaml:"kind"`
	Pages   int         `json:"pages" yaml:"pages"`
	Failed  int         `json:"failedPages,omitempty" yaml:"failedPages,omitempty"`
	Stats   toc.Stats   `json:"stats" yaml:"stats"`
	Entries []toc.Entry `json:"entries,omitempty" yaml:"entries,omitempty"`
}

// Library ingests documents into a Store.
type Library struct {
	store   Store
	tracker *progress.Tracker
	log     *zap.Logger
	opts    Options

	wg sync.WaitGroup
}

// New creates a Library. tracker and logger may be nil.
func New(s Store, tracker *progress.Tracker, logger *zap.Logger, opts Options) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = progress.NewTracker(progress.Options{Logger: logger})
	}
	if opts.Builder == nil {
		opts.Builder = toc.NewBuilder()
	}
	return &Library{store: s, tracker: tracker, log: logger, opts: opts}
}

// Tracker returns the tracker that receives job progress.
func (lib *Library) Tracker() *progress.Tracker {
	return lib.tracker
}

// Store returns the underlying store.
func (lib *Library) Store() Store {
	return lib.store
}

// Ingest normalizes the file at path and stores its extended TOC under
// assetID. An empty assetID is derived from the file name.
func (lib *Library) Ingest(ctx context.Context, assetID, path string) (*Result, error) {
	if assetID == "" {
		assetID = AssetIDFromPath(path)
	}
	jobID := lib.tracker.Begin(jobKind, assetID)
	return lib.ingestFile(ctx, jobID, assetID, path)
}

// IngestText stores the extended TOC of already extracted text. Text without
// page markers is treated as form-feed separated pages.
func (lib *Library) IngestText(ctx context.Context, assetID, source, text string) (*Result, error) {
	if assetID == "" {
		return nil, errors.New("asset ID is required")
	}
	jobID := lib.tracker.Begin(jobKind, assetID)

	lib.tracker.Update(jobID, StageNormalize, 0, stageCount)
	body, pages := normalize.FromPlainText(text)
	doc := &normalize.Document{Kind: normalize.KindText, Text: body, PageCount: pages, Extracted: pages}

	return lib.finish(ctx, jobID, assetID, source, doc)
}

// IngestAsync runs Ingest in the background and returns the job ID to poll.
// The ingestion outlives ctx cancellation; Wait blocks until it is done.
func (lib *Library) IngestAsync(ctx context.Context, assetID, path string) string {
	if assetID == "" {
		assetID = AssetIDFromPath(path)
	}
	jobID := lib.tracker.Begin(jobKind, assetID)

	ctx = context.WithoutCancel(ctx)
	lib.wg.Add(1)
	go func() {
		defer lib.wg.Done()
		if _, err := lib.ingestFile(ctx, jobID, assetID, path); err != nil {
			lib.log.Warn("Background ingestion failed", zap.String("asset", assetID), zap.String("job", jobID), zap.Error(err))
		}
	}()
	return jobID
}

// Wait blocks until all background ingestions have finished.
func (lib *Library) Wait() {
	lib.wg.Wait()
}

func (lib *Library) ingestFile(ctx context.Context, jobID, assetID, path string) (*Result, error) {
	lib.tracker.Update(jobID, StageNormalize, 0, stageCount)
	lib.log.Debug("Normalizing document", zap.String("asset", assetID), zap.String("path", path))

	doc, err := normalize.FromFile(path, lib.opts.Normalize)
	if err != nil {
		lib.tracker.Fail(jobID, err)
		return nil, fmt.Errorf("ingesting %s: %w", assetID, err)
	}
	if doc.Failed > 0 {
		lib.log.Warn("Some pages could not be extracted", zap.String("asset", assetID), zap.Int("failed", doc.Failed), zap.Int("pages", doc.PageCount))
	}
	return lib.finish(ctx, jobID, assetID, path, doc)
}

func (lib *Library) finish(ctx context.Context, jobID, assetID, source string, doc *normalize.Document) (*Result, error) {
	lib.tracker.Update(jobID, StageScan, 1, stageCount)
	entries := lib.opts.Builder.Build(doc.Text)
	toc.SortExtended(entries)
	stats := toc.Summarize(entries)

	lib.tracker.Update(jobID, StagePersist, 2, stageCount)
	asset := store.Asset{ID: assetID, Source: source, Kind: string(doc.Kind), PageCount: doc.PageCount}
	if err := lib.store.SaveExtendedToc(ctx, asset, entries); err != nil {
		lib.tracker.Fail(jobID, err)
		return nil, fmt.Errorf("ingesting %s: %w", assetID, err)
	}
	if err := lib.writeSourceText(assetID, doc.Text); err != nil {
		lib.tracker.Fail(jobID, err)
		return nil, fmt.Errorf("ingesting %s: %w", assetID, err)
	}

	lib.tracker.Complete(jobID, fmt.Sprintf("%d clauses on %d pages", stats.Entries, doc.PageCount))
	lib.log.Info("Document ingested",
		zap.String("asset", assetID),
		zap.Int("pages", doc.PageCount),
		zap.Int("entries", stats.Entries),
		zap.Int("topLevel", stats.TopLevel),
		zap.Int("maxDepth", stats.MaxDepth))

	return &Result{
		AssetID: assetID,
		Source:  source,
		Kind:    string(doc.Kind),
		Pages:   doc.PageCount,
		Failed:  doc.Failed,
		Stats:   stats,
		Entries: entries,
	}, nil
}

// Remove deletes an asset and its stored text.
func (lib *Library) Remove(ctx context.Context, assetID string) error {
	err := lib.store.DeleteAsset(ctx, assetID)
	if lib.opts.TextDir != "" {
		if rmErr := os.RemoveAll(lib.documentDir(assetID)); rmErr != nil {
			err = multierr.Append(err, fmt.Errorf("removing stored text: %w", rmErr))
		}
	}
	return err
}

// LoadSourceText returns the normalized body stored for an asset.
func (lib *Library) LoadSourceText(assetID string) (string, error) {
	if lib.opts.TextDir == "" {
		return "", errors.New("text storage is not configured")
	}
	data, err := os.ReadFile(filepath.Join(lib.documentDir(assetID), sourceFileName))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("text of %s: %w", assetID, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading text of %s: %w", assetID, err)
	}
	return string(data), nil
}

func (lib *Library) writeSourceText(assetID, text string) error {
	if lib.opts.TextDir == "" {
		return nil
	}
	dir := lib.documentDir(assetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating text directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, sourceFileName), []byte(text), 0o644); err != nil {
		return fmt.Errorf("saving text: %w", err)
	}
	return nil
}

func (lib *Library) documentDir(assetID string) string {
	return filepath.Join(lib.opts.TextDir, hashAssetID(assetID))
}

func hashAssetID(assetID string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(assetID)))
}

// AssetIDFromPath derives a stable asset ID from a file name:
// "GC 2017 (Red Book).pdf" becomes "gc-2017-red-book".
func AssetIDFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if id := slug.Make(base); id != "" {
		return id
	}
	return "asset"
}
