// Package m3u8dl downloads HLS (m3u8) streams into a single file.
//
// Basic usage:
//
//	res, err := m3u8dl.Run(ctx, "https://example.com/video.m3u8",
//		m3u8dl.WithOutputDir("/home/me/Downloads/m3u8dl"),
//		m3u8dl.WithFileName("My Video"),
//		m3u8dl.WithProgress(func(done, total int) { fmt.Printf("\r%d/%d", done, total) }),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(res.OutputPath)
//
// A master playlist is resolved to its highest-bandwidth variant. Segments
// are fetched concurrently, AES-128 segments are decrypted, and the output
// is written in playlist order. Segments that fail are left out and
// reported in Result.FailedIndices.
package m3u8dl

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mohaanymo/m3u8dl/internal/config"
	"github.com/mohaanymo/m3u8dl/internal/engine"
)

// Downloader is the main API for downloading one stream.
type Downloader struct {
	cfg *config.Config
	eng *engine.Engine
}

// Option configures the downloader.
type Option func(*config.Config)

// New creates a new Downloader with the given options. WithURL is required.
func New(opts ...Option) (*Downloader, error) {
	cfg := config.New()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}

	return &Downloader{
		cfg: cfg,
		eng: eng,
	}, nil
}

// Run downloads url with the given options and returns the result.
// Every error can be matched with errors.Is against the Err* kinds.
func Run(ctx context.Context, url string, opts ...Option) (*Result, error) {
	d, err := New(append([]Option{WithURL(url)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return d.Run(ctx)
}

// Resolve fetches the playlist, following a master playlist to the chosen
// variant, without downloading segments. A later Run reuses it.
func (d *Downloader) Resolve(ctx context.Context) (*Playlist, error) {
	return d.eng.Resolve(ctx)
}

// Run downloads, decrypts and assembles the stream.
// Blocks until complete. Canceling ctx fails the in-flight requests.
func (d *Downloader) Run(ctx context.Context) (*Result, error) {
	return d.eng.Run(ctx)
}

// State returns the current run state.
func (d *Downloader) State() State {
	return d.eng.State()
}

// URL returns the playlist URL being downloaded.
func (d *Downloader) URL() string {
	return d.cfg.URL
}

// OutputDir returns the directory the output file is written to.
func (d *Downloader) OutputDir() string {
	return d.cfg.OutputDir
}

// WithURL sets the playlist URL (required when using New).
func WithURL(url string) Option {
	return func(c *config.Config) {
		c.URL = url
	}
}

// WithFileName sets the suggested title. It is sanitized before use; when
// empty, a timestamp name is generated.
func WithFileName(title string) Option {
	return func(c *config.Config) {
		c.FileName = title
	}
}

// WithOutputDir sets the output directory. It must lie inside the download root.
func WithOutputDir(dir string) Option {
	return func(c *config.Config) {
		c.OutputDir = dir
	}
}

// WithDownloadRoot sets the directory outside of which nothing is written
// (default: the user's home directory).
func WithDownloadRoot(dir string) Option {
	return func(c *config.Config) {
		c.DownloadRoot = dir
	}
}

// WithExtension sets the output file extension (default: ".mp4").
func WithExtension(ext string) Option {
	return func(c *config.Config) {
		c.Extension = ext
	}
}

// WithWorkers sets the number of concurrent segment downloads (default: 10, max: 128).
func WithWorkers(n int) Option {
	return func(c *config.Config) {
		c.Workers = n
	}
}

// WithProgress sets a callback receiving (completed, total) once per
// finished segment. Calls are serialized.
func WithProgress(fn func(completed, total int)) Option {
	return func(c *config.Config) {
		c.OnProgress = fn
	}
}

// WithVariant sets the master playlist variant selector:
// "best" (default), "worst", or a resolution such as "720p".
func WithVariant(selector string) Option {
	return func(c *config.Config) {
		c.Variant = selector
	}
}

// WithHeaders sets custom HTTP headers for requests.
func WithHeaders(headers map[string]string) Option {
	return func(c *config.Config) {
		for k, v := range headers {
			c.Headers[k] = v
		}
	}
}

// WithHeader adds a single HTTP header.
func WithHeader(key, value string) Option {
	return func(c *config.Config) {
		c.Headers[key] = value
	}
}

// WithUserAgent overrides the default browser User-Agent.
func WithUserAgent(ua string) Option {
	return func(c *config.Config) {
		c.UserAgent = ua
	}
}

// WithTimeout sets the per-request timeout (default: 10s).
func WithTimeout(d time.Duration) Option {
	return func(c *config.Config) {
		c.Timeout = d
	}
}

// WithMaxBandwidth sets maximum download speed in bytes per second.
// Set to 0 for unlimited (default).
func WithMaxBandwidth(bytesPerSec int64) Option {
	return func(c *config.Config) {
		c.MaxBandwidth = bytesPerSec
	}
}

// WithIVMode selects the IV used for keys without an IV attribute:
// IVZero (default) or IVSequence.
func WithIVMode(mode IVMode) Option {
	return func(c *config.Config) {
		c.IVMode = mode
	}
}

// WithHTTPClient replaces the built-in HTTP client. Headers and the
// bandwidth limit are then not applied.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config.Config) {
		c.HTTPClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *config.Config) {
		c.Logger = l
	}
}

// WithVerbose enables debug logging on the default logger.
func WithVerbose(verbose bool) Option {
	return func(c *config.Config) {
		c.Verbose = verbose
	}
}

// WithStateHook sets a callback for state transitions.
func WithStateHook(fn func(State)) Option {
	return func(c *config.Config) {
		c.OnState = fn
	}
}

// LoadConfig reads a YAML config file and returns it as options.
// Options given after these override the file.
func LoadConfig(path string) ([]Option, error) {
	fc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return []Option{func(c *config.Config) {
		if fc.DownloadRoot != "" {
			c.DownloadRoot = fc.DownloadRoot
		}
		if fc.OutputDir != "" {
			c.OutputDir = fc.OutputDir
		}
		c.Variant = fc.Variant
		c.Workers = fc.Workers
		c.Timeout = fc.Timeout
		c.MaxBandwidth = fc.MaxBandwidth
		c.IVMode = fc.IVMode
		c.UserAgent = fc.UserAgent
		for k, v := range fc.Headers {
			c.Headers[k] = v
		}
		c.Verbose = c.Verbose || fc.Verbose
	}}, nil
}
