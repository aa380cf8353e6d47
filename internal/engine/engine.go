// Package engine drives an HLS download: resolve, download, assemble.
package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohaanymo/m3u8dl/internal/config"
	"github.com/mohaanymo/m3u8dl/internal/decryptor"
	"github.com/mohaanymo/m3u8dl/internal/fsutil"
	"github.com/mohaanymo/m3u8dl/internal/httpclient"
	"github.com/mohaanymo/m3u8dl/internal/metrics"
	"github.com/mohaanymo/m3u8dl/internal/models"
	"github.com/mohaanymo/m3u8dl/internal/parser"
	"github.com/mohaanymo/m3u8dl/internal/telemetry"
)

// State is a step of a download run.
type State = models.State

const (
	StateIdle        = models.StateIdle
	StateResolving   = models.StateResolving
	StateDownloading = models.StateDownloading
	StateAssembling  = models.StateAssembling
	StateDone        = models.StateDone
	StateFailed      = models.StateFailed
)

// Engine is the main download orchestrator.
type Engine struct {
	cfg      *config.Config
	client   Fetcher
	resolver *parser.Resolver
	logger   *log.Logger

	mu       sync.Mutex
	state    State
	onState  StateFunc
	playlist *models.Playlist
}

// New creates an Engine. cfg must already be validated.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	var client *httpclient.Client
	if cfg.HTTPClient != nil {
		client = httpclient.Wrap(cfg.HTTPClient, cfg.Timeout)
	} else {
		client = httpclient.New(httpclient.Config{
			Timeout:      cfg.Timeout,
			Headers:      cfg.Headers,
			UserAgent:    cfg.UserAgent,
			MaxBandwidth: cfg.MaxBandwidth,
		})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = config.NewLogger(os.Stderr, cfg.Verbose)
	}

	return &Engine{
		cfg:      cfg,
		client:   client,
		resolver: parser.NewResolver(client, Selector(cfg.Variant), logger),
		logger:   logger,
		onState:  cfg.OnState,
	}, nil
}

// SetOnState sets the state transition callback.
func (e *Engine) SetOnState(fn StateFunc) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	fn := e.onState
	e.mu.Unlock()

	e.logger.Debug("state", "state", s)
	if fn != nil {
		fn(s)
	}
}

// Resolve loads the playlist without downloading anything. A later Run
// reuses the result. The output directory is checked first, so nothing is
// fetched for a run that could not write its output.
func (e *Engine) Resolve(ctx context.Context) (*models.Playlist, error) {
	e.mu.Lock()
	pl := e.playlist
	e.mu.Unlock()
	if pl != nil {
		return pl, nil
	}

	if _, err := e.checkOutputDir(); err != nil {
		return nil, err
	}

	pl, err := e.resolver.Load(ctx, e.cfg.URL)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.playlist = pl
	e.mu.Unlock()
	return pl, nil
}

// Run executes the whole pipeline. The temp directory is removed on every
// exit path. Errors are always *models.Error values.
func (e *Engine) Run(ctx context.Context) (res *models.Result, err error) {
	start := time.Now()
	e.setState(StateIdle)

	ctx, span := telemetry.Tracer().Start(ctx, "run")
	span.SetAttributes(attribute.String("playlist.url", e.cfg.URL))

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = models.Errorf(models.ErrIO, "run", "panic: %v", r)
		}

		final := StateDone
		if err != nil {
			final = StateFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error("download failed", "url", e.cfg.URL, "err", err)
		}
		metrics.RunsTotal.WithLabelValues(final.String()).Inc()
		metrics.RunDuration.Observe(time.Since(start).Seconds())
		span.End()
		e.setState(final)
	}()

	outDir, err := e.checkOutputDir()
	if err != nil {
		return nil, err
	}

	e.setState(StateResolving)
	tempDir, err := e.prepareDirs(outDir)
	if err != nil {
		return nil, err
	}
	defer e.cleanup(tempDir)

	pl, err := e.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if len(pl.Segments) == 0 {
		return nil, models.Errorf(models.ErrNoSegments, "resolve", "playlist %s has no segments", pl.URL)
	}
	if pl.Variant != nil {
		span.SetAttributes(attribute.Int64("variant.bandwidth", pl.Variant.Bandwidth))
	}
	span.SetAttributes(attribute.Int("segments", len(pl.Segments)))

	e.setState(StateDownloading)
	results := e.download(ctx, pl, tempDir)

	e.setState(StateAssembling)
	return e.assemble(pl, results, outDir)
}

// checkOutputDir rejects an output directory outside the download root.
// It runs before any network activity.
func (e *Engine) checkOutputDir() (string, error) {
	outDir, err := fsutil.WithinRoot(e.cfg.DownloadRoot, e.cfg.OutputDir)
	if errors.Is(err, fsutil.ErrOutsideRoot) {
		return "", models.Wrap(models.ErrPermission, "check output dir", err)
	}
	if err != nil {
		return "", models.Wrap(models.ErrIO, "check output dir", err)
	}
	return outDir, nil
}

func (e *Engine) prepareDirs(outDir string) (string, error) {
	if err := fsutil.EnsureDir(outDir); err != nil {
		return "", models.Wrap(models.ErrIO, "create output dir", err)
	}
	tempDir, err := fsutil.TempDir(outDir)
	if err != nil {
		return "", models.Wrap(models.ErrIO, "create temp dir", err)
	}
	e.logger.Debug("temp dir created", "path", tempDir)
	return tempDir, nil
}

func (e *Engine) cleanup(tempDir string) {
	if err := os.RemoveAll(tempDir); err != nil {
		e.logger.Warn("remove temp dir", "path", tempDir, "err", err)
		return
	}
	e.logger.Debug("temp dir removed", "path", tempDir)
}

func (e *Engine) download(ctx context.Context, pl *models.Playlist, tempDir string) []models.SegmentResult {
	keys := decryptor.NewKeyCache(e.client)

	pool := NewWorkerPool(e.cfg.Workers, e.client, keys)
	pool.SetTempDir(tempDir)
	pool.SetIVMode(e.cfg.IVMode)
	pool.SetLogger(e.logger)
	pool.SetOnProgress(e.cfg.OnProgress)

	e.logger.Debug("downloading", "segments", len(pl.Segments), "workers", e.cfg.Workers, "encrypted", pl.Encrypted())
	results := pool.Run(ctx, pl.Segments)

	ok, failed, bytes, elapsed := pool.Stats()
	e.logger.Debug("download finished", "ok", ok, "failed", failed, "bytes", bytes,
		"keys", keys.Fetches(), "elapsed", elapsed.Round(time.Millisecond))
	return results
}

func (e *Engine) assemble(pl *models.Playlist, results []models.SegmentResult, outDir string) (*models.Result, error) {
	name := fsutil.OutputName(outDir, e.cfg.FileName, e.cfg.Extension, time.Now())
	outputPath := filepath.Join(outDir, name)

	written, err := Assemble(results, outputPath)
	if err != nil {
		return nil, err
	}

	res := &models.Result{
		OutputPath:    outputPath,
		TotalSegments: len(pl.Segments),
		BytesWritten:  written,
	}
	for _, r := range results {
		if !r.OK() {
			res.FailedIndices = append(res.FailedIndices, r.Index)
		}
	}
	res.FailedSegments = len(res.FailedIndices)

	if res.Degraded() {
		e.logger.Warn("output is missing segments", "failed", res.FailedSegments, "total", res.TotalSegments)
	}
	e.logger.Debug("assembled", "path", outputPath, "bytes", written)
	return res, nil
}
