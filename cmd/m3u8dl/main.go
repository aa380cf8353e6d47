package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"

	"github.com/mohaanymo/m3u8dl"
	"github.com/mohaanymo/m3u8dl/internal/config"
	"github.com/mohaanymo/m3u8dl/internal/metrics"
	"github.com/mohaanymo/m3u8dl/internal/telemetry"
	"github.com/mohaanymo/m3u8dl/internal/tui"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

type flags struct {
	urls         []string
	output       string
	title        string
	root         string
	configPath   string
	variant      string
	ivMode       string
	userAgent    string
	workers      int
	concurrent   int
	timeout      time.Duration
	maxBandwidth int64
	headers      headerFlags
	metricsAddr  string
	noProgress   bool
	verbose      bool
	showVersion  bool
}

func main() {
	f := parseFlags()

	if f.showVersion {
		fmt.Printf("m3u8dl %s (%s)\n", version, commit)
		os.Exit(0)
	}

	if len(f.urls) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one playlist URL is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *flags {
	f := &flags{}
	var url string

	flag.StringVar(&url, "url", "", "")
	flag.StringVar(&url, "u", "", "")
	flag.StringVar(&f.output, "output", "", "")
	flag.StringVar(&f.output, "o", "", "")
	flag.StringVar(&f.title, "name", "", "")
	flag.StringVar(&f.title, "n", "", "")
	flag.StringVar(&f.root, "root", "", "")
	flag.StringVar(&f.configPath, "config", "", "")
	flag.StringVar(&f.variant, "variant", "", "")
	flag.StringVar(&f.variant, "s", "", "")
	flag.StringVar(&f.ivMode, "iv-mode", "", "")
	flag.StringVar(&f.userAgent, "user-agent", "", "")
	flag.IntVar(&f.workers, "workers", 0, "")
	flag.IntVar(&f.workers, "w", 0, "")
	flag.IntVar(&f.concurrent, "concurrent", 3, "")
	flag.DurationVar(&f.timeout, "timeout", 0, "")
	flag.Int64Var(&f.maxBandwidth, "max-bandwidth", 0, "")
	flag.Var(&f.headers, "header", "")
	flag.Var(&f.headers, "H", "")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "")
	flag.BoolVar(&f.noProgress, "no-progress", false, "")
	flag.BoolVar(&f.verbose, "verbose", false, "")
	flag.BoolVar(&f.verbose, "v", false, "")
	flag.BoolVar(&f.showVersion, "version", false, "")

	flag.Usage = printUsage
	flag.Parse()

	if url != "" {
		f.urls = append(f.urls, url)
	}
	f.urls = append(f.urls, flag.Args()...)
	return f
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `m3u8dl - HLS stream downloader

Usage: m3u8dl [options] <URL> [URL...]

Options:
  -u, --url <URL>             Playlist URL (may also be given as arguments)
  -o, --output <dir>          Output directory (default: ~/Downloads/m3u8dl)
  -n, --name <title>          Output file title (default: timestamp)
  -s, --variant <sel>         Variant: best, worst, 1080p, 720p... (default: best)
  -w, --workers <num>         Concurrent segment downloads (default: 10)
  -H, --header <header>       Custom header "Key: Value" (repeatable)
      --root <dir>            Only write below this directory (default: home)
      --config <file>         YAML config file
      --iv-mode <mode>        IV for keys without one: zero, sequence (default: zero)
      --user-agent <ua>       User-Agent header
      --timeout <dur>         Per-request timeout (default: 10s)
      --max-bandwidth <bps>   Bandwidth limit in bytes per second
      --concurrent <num>      Playlists downloaded at once with several URLs (default: 3)
      --metrics-addr <addr>   Serve Prometheus metrics on this address
      --no-progress           Plain progress bar instead of the TUI
  -v, --verbose               Verbose output
      --version               Show version

Examples:
  m3u8dl https://example.com/video.m3u8
  m3u8dl -n "Episode 1" -s 720p https://example.com/master.m3u8
  m3u8dl -o ~/Videos a.m3u8 b.m3u8 c.m3u8
`)
}

func run(ctx context.Context, f *flags) error {
	logger := config.NewLogger(os.Stderr, f.verbose)
	if !f.noProgress && len(f.urls) == 1 && !f.verbose {
		// The TUI owns the terminal; failed segments show in its summary.
		logger.SetOutput(io.Discard)
	}

	shutdown, err := telemetry.Init(ctx, "m3u8dl")
	if err != nil {
		logger.Warn("otel init failed", "err", err)
	}
	defer func() {
		if shutdown != nil {
			_ = shutdown(context.Background())
		}
	}()

	if f.metricsAddr != "" {
		serveMetrics(f.metricsAddr, logger)
	}

	opts, err := buildOptions(f, logger)
	if err != nil {
		return err
	}

	if len(f.urls) > 1 {
		return runBatch(ctx, f, opts, logger)
	}

	opts = append(opts, m3u8dl.WithURL(f.urls[0]), m3u8dl.WithFileName(f.title))
	if f.noProgress {
		return runPlain(ctx, opts, logger)
	}
	return runTUI(ctx, f.urls[0], opts)
}

func buildOptions(f *flags, logger *log.Logger) ([]m3u8dl.Option, error) {
	var opts []m3u8dl.Option
	if f.configPath != "" {
		fileOpts, err := m3u8dl.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fileOpts...)
	}

	opts = append(opts, m3u8dl.WithLogger(logger), m3u8dl.WithVerbose(f.verbose))
	if f.output != "" {
		opts = append(opts, m3u8dl.WithOutputDir(f.output))
	}
	if f.root != "" {
		opts = append(opts, m3u8dl.WithDownloadRoot(f.root))
	}
	if f.variant != "" {
		opts = append(opts, m3u8dl.WithVariant(f.variant))
	}
	if f.ivMode != "" {
		opts = append(opts, m3u8dl.WithIVMode(m3u8dl.IVMode(strings.ToLower(f.ivMode))))
	}
	if f.userAgent != "" {
		opts = append(opts, m3u8dl.WithUserAgent(f.userAgent))
	}
	if f.workers > 0 {
		opts = append(opts, m3u8dl.WithWorkers(f.workers))
	}
	if f.timeout > 0 {
		opts = append(opts, m3u8dl.WithTimeout(f.timeout))
	}
	if f.maxBandwidth > 0 {
		opts = append(opts, m3u8dl.WithMaxBandwidth(f.maxBandwidth))
	}
	if len(f.headers) > 0 {
		headers, err := f.headers.parse()
		if err != nil {
			return nil, err
		}
		opts = append(opts, m3u8dl.WithHeaders(headers))
	}
	return opts, nil
}

func serveMetrics(addr string, logger *log.Logger) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "addr", addr, "err", err)
		}
	}()
}

func runPlain(ctx context.Context, opts []m3u8dl.Option, logger *log.Logger) error {
	var bar *progressbar.ProgressBar
	opts = append(opts, m3u8dl.WithProgress(func(completed, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("segments"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(completed)
	}))

	d, err := m3u8dl.New(opts...)
	if err != nil {
		return err
	}

	pl, err := d.Resolve(ctx)
	if err != nil {
		return err
	}
	if pl.Variant != nil {
		logger.Info("selected variant", "variant", pl.Variant)
	}
	logger.Info("resolved playlist", "segments", len(pl.Segments), "encrypted", pl.Encrypted())

	res, err := d.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func runTUI(ctx context.Context, url string, opts []m3u8dl.Option) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var p *tea.Program
	opts = append(opts,
		m3u8dl.WithProgress(func(completed, total int) {
			p.Send(tui.ProgressMsg{Completed: completed, Total: total})
		}),
		m3u8dl.WithStateHook(func(s m3u8dl.State) {
			p.Send(tui.StateMsg(s))
		}),
	)

	d, err := m3u8dl.New(opts...)
	if err != nil {
		return err
	}

	pl, err := d.Resolve(ctx)
	if err != nil {
		return err
	}

	model := tui.NewModel(url, pl)
	p = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	var (
		res    *m3u8dl.Result
		runErr error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		res, runErr = d.Run(ctx)
		if runErr != nil {
			p.Send(tui.ErrorMsg{Err: runErr})
		} else {
			p.Send(tui.DoneMsg{Result: res})
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-done
		return fmt.Errorf("TUI error: %w", err)
	}

	if model.Canceled() {
		cancel()
	}
	<-done

	if runErr != nil {
		if model.Canceled() {
			fmt.Println("Canceled")
			return nil
		}
		return runErr
	}
	printResult(res)
	return nil
}

func runBatch(ctx context.Context, f *flags, opts []m3u8dl.Option, logger *log.Logger) error {
	var bar *progressbar.ProgressBar
	if !f.verbose {
		bar = progressbar.NewOptions(len(f.urls),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("playlists"),
			progressbar.OptionShowCount(),
		)
	}
	advance := func() {
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	m := m3u8dl.NewManager(
		m3u8dl.WithMaxConcurrent(f.concurrent),
		m3u8dl.WithDefaultOptions(opts...),
		m3u8dl.WithOnComplete(func(t *m3u8dl.Task) {
			advance()
			res := t.Result()
			logger.Info("download complete", "task", t.ID, "output", res.OutputPath, "failed", res.FailedSegments)
		}),
		m3u8dl.WithOnError(func(t *m3u8dl.Task, err error) {
			advance()
			logger.Error("download failed", "task", t.ID, "url", t.URL, "err", err)
		}),
	)
	m.Start()
	defer m.Stop()

	for i, url := range f.urls {
		title := f.title
		if title != "" {
			title = fmt.Sprintf("%s_%d", title, i+1)
		}
		if _, err := m.AddTask(fmt.Sprintf("%d", i+1), url, title); err != nil {
			return err
		}
	}

	if err := m.WaitAll(ctx); err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	for _, t := range m.GetAllTasks() {
		if res := t.Result(); res != nil {
			printResult(res)
		} else {
			fmt.Printf("✗ %s: %v\n", t.URL, t.Err())
		}
	}

	stats := m.Stats()
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", stats.Failed, stats.Total)
	}
	return nil
}

func printResult(res *m3u8dl.Result) {
	fmt.Printf("✓ Saved to: %s\n", res.OutputPath)
	if res.Degraded() {
		fmt.Printf("  %d of %d segments missing: %v\n", res.FailedSegments, res.TotalSegments, res.FailedIndices)
	}
}

// headerFlags implements flag.Value for repeatable header flags
type headerFlags []string

func (h *headerFlags) String() string {
	return strings.Join(*h, ", ")
}

func (h *headerFlags) Set(value string) error {
	*h = append(*h, value)
	return nil
}

func (h headerFlags) parse() (map[string]string, error) {
	headers := make(map[string]string, len(h))
	for _, raw := range h {
		k, v, ok := strings.Cut(raw, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Key: Value\"", raw)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}
