package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/mohaanymo/m3u8dl/internal/config"
	"github.com/mohaanymo/m3u8dl/internal/decryptor"
	"github.com/mohaanymo/m3u8dl/internal/fsutil"
	"github.com/mohaanymo/m3u8dl/internal/metrics"
	"github.com/mohaanymo/m3u8dl/internal/models"
	"github.com/mohaanymo/m3u8dl/internal/telemetry"
)

// segmentTask is one queued segment and its slot in the result slice.
type segmentTask struct {
	slot    int
	segment *models.Segment
}

// WorkerPool downloads, decrypts and stores segments with a fixed number
// of workers. A failing segment never stops the others.
type WorkerPool struct {
	workers int
	client  Fetcher
	keys    KeySource
	tempDir string // Directory for storing segments on disk
	ivMode  config.IVMode
	logger  *log.Logger

	onProgress ProgressFunc
	progressMu sync.Mutex
	completed  int
	total      int

	// Stats
	succeeded  atomic.Int64
	failed     atomic.Int64
	totalBytes atomic.Int64
	startTime  time.Time
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(workers int, client Fetcher, keys KeySource) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		client:  client,
		keys:    keys,
		ivMode:  config.DefaultIVMode,
		logger:  log.New(io.Discard),
	}
}

// SetTempDir sets the directory for storing downloaded segments.
func (p *WorkerPool) SetTempDir(dir string) {
	p.tempDir = dir
}

// SetIVMode sets the IV fallback for keys without an IV attribute.
func (p *WorkerPool) SetIVMode(mode config.IVMode) {
	p.ivMode = mode
}

// SetLogger sets the logger used for per-segment failures.
func (p *WorkerPool) SetLogger(l *log.Logger) {
	if l != nil {
		p.logger = l
	}
}

// SetOnProgress sets the progress callback.
func (p *WorkerPool) SetOnProgress(fn ProgressFunc) {
	p.onProgress = fn
}

// Run processes every segment and blocks until all tasks have finished.
// The returned slice is parallel to segments. Failures are reported in
// the result Err field, never as a return value.
func (p *WorkerPool) Run(ctx context.Context, segments []*models.Segment) []models.SegmentResult {
	p.startTime = time.Now()
	p.total = len(segments)
	results := make([]models.SegmentResult, len(segments))
	if len(segments) == 0 {
		return results
	}

	queue := make(chan segmentTask, p.workers*4)
	var g errgroup.Group
	for i := 0; i < min(p.workers, len(segments)); i++ {
		g.Go(func() error {
			for task := range queue {
				// each slot is written by exactly one worker
				results[task.slot] = p.process(ctx, task.segment)
				p.reportProgress()
			}
			return nil
		})
	}

	for i, seg := range segments {
		queue <- segmentTask{slot: i, segment: seg}
	}
	close(queue)
	g.Wait()

	return results
}

// process runs one task. Panics are converted into a failed result.
func (p *WorkerPool) process(ctx context.Context, seg *models.Segment) (res models.SegmentResult) {
	res.Index = seg.Index
	start := time.Now()

	metrics.ActiveWorkers.Inc()
	ctx, span := telemetry.Tracer().Start(ctx, "segment")
	span.SetAttributes(
		attribute.Int("segment.index", seg.Index),
		attribute.String("segment.url", seg.URL),
	)

	defer func() {
		if r := recover(); r != nil {
			res = models.SegmentResult{
				Index: seg.Index,
				Err:   models.Errorf(models.ErrIO, fmt.Sprintf("segment %d", seg.Index), "panic: %v", r),
			}
		}

		if res.Err != nil {
			p.failed.Add(1)
			metrics.SegmentsTotal.WithLabelValues(metrics.ResultFailed).Inc()
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			p.logger.Warn("segment failed", "index", seg.Index, "url", seg.URL, "err", res.Err)
		} else {
			p.succeeded.Add(1)
			p.totalBytes.Add(res.Size)
			metrics.SegmentsTotal.WithLabelValues(metrics.ResultOK).Inc()
			metrics.BytesDownloaded.Add(float64(res.Size))
		}
		metrics.SegmentDuration.Observe(time.Since(start).Seconds())
		metrics.ActiveWorkers.Dec()
		span.End()
	}()

	data, err := p.fetch(ctx, seg)
	if err != nil {
		res.Err = err
		return res
	}

	path := fsutil.SegmentPath(p.tempDir, seg.Index)
	if err := os.WriteFile(path, data, 0644); err != nil {
		res.Err = models.Wrap(models.ErrIO, "write segment", err)
		return res
	}

	res.Path = path
	res.Size = int64(len(data))
	return res
}

// fetch downloads a segment and decrypts it when it carries a key.
func (p *WorkerPool) fetch(ctx context.Context, seg *models.Segment) ([]byte, error) {
	data, err := p.client.Get(ctx, seg.URL)
	if err != nil {
		return nil, err
	}
	if seg.Key == nil {
		return data, nil
	}

	if err := decryptor.CheckMethod(seg.Key.Method); err != nil {
		return nil, err
	}
	key, err := p.keys.GetOrFetch(ctx, seg.Key.URI)
	if err != nil {
		return nil, err
	}
	iv := decryptor.SegmentIV(seg.Key, seg.Sequence, p.ivMode)
	return decryptor.Decrypt(data, key, iv)
}

// reportProgress increments the completion count and calls the progress
// callback while holding the lock, so callers see strictly increasing counts.
func (p *WorkerPool) reportProgress() {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()

	p.completed++
	if p.onProgress != nil {
		p.onProgress(p.completed, p.total)
	}
}

// Stats returns current download statistics.
func (p *WorkerPool) Stats() (succeeded, failed, totalBytes int64, elapsed time.Duration) {
	return p.succeeded.Load(), p.failed.Load(), p.totalBytes.Load(), time.Since(p.startTime)
}
