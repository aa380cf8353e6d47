// Package config provides configuration types for the downloader.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v2"

	"github.com/mohaanymo/m3u8dl/internal/models"
)

// Common errors.
var (
	ErrMissingURL    = errors.New("URL is required")
	ErrInvalidIVMode = errors.New("invalid IV mode")
)

// IVMode selects the IV used when #EXT-X-KEY carries no IV attribute.
type IVMode string

const (
	// IVZero uses 16 zero bytes.
	IVZero IVMode = "zero"
	// IVSequence uses the segment media sequence number as a big-endian
	// 128-bit value (RFC 8216 section 5.2).
	IVSequence IVMode = "sequence"
)

// Config holds all application configuration.
type Config struct {
	// Input
	URL     string
	Variant string // variant selector for master playlists: best, worst, 720p...

	// Output
	FileName     string // suggested title, sanitized before use
	OutputDir    string
	DownloadRoot string // OutputDir must resolve inside this directory
	Extension    string

	// Download settings
	Workers      int
	Timeout      time.Duration // per request
	MaxBandwidth int64         // bytes per second, 0 = unlimited
	IVMode       IVMode

	// HTTP settings
	Headers    map[string]string
	UserAgent  string
	HTTPClient *http.Client // optional; replaces the built-in client

	// Hooks
	OnProgress func(completed, total int)
	OnState    func(models.State)

	// UI/Logging
	Logger  *log.Logger
	Verbose bool
}

// Default configuration values.
const (
	DefaultWorkers   = 10
	DefaultVariant   = "best"
	DefaultTimeout   = 10 * time.Second
	DefaultExtension = ".mp4"
	DefaultIVMode    = IVZero
	DefaultSubdir    = "m3u8dl"
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	MaxWorkers = 128
	MinWorkers = 1
)

// New returns a Config with sensible defaults.
func New() *Config {
	return &Config{
		Variant:   DefaultVariant,
		Workers:   DefaultWorkers,
		Timeout:   DefaultTimeout,
		Extension: DefaultExtension,
		IVMode:    DefaultIVMode,
		UserAgent: DefaultUserAgent,
		Headers:   make(map[string]string),
	}
}

// Validate checks if the configuration is valid and normalizes values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return ErrMissingURL
	}

	if strings.TrimSpace(c.Variant) == "" {
		c.Variant = DefaultVariant
	}
	if c.Workers < MinWorkers {
		c.Workers = MinWorkers
	}
	if c.Workers > MaxWorkers {
		c.Workers = MaxWorkers
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBandwidth < 0 {
		c.MaxBandwidth = 0
	}

	switch c.IVMode {
	case "":
		c.IVMode = DefaultIVMode
	case IVZero, IVSequence:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidIVMode, c.IVMode)
	}

	if c.Extension == "" {
		c.Extension = DefaultExtension
	}
	if !strings.HasPrefix(c.Extension, ".") {
		c.Extension = "." + c.Extension
	}

	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	if c.DownloadRoot == "" || c.OutputDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		if c.DownloadRoot == "" {
			c.DownloadRoot = home
		}
		if c.OutputDir == "" {
			c.OutputDir = filepath.Join(home, "Downloads", DefaultSubdir)
		}
	}

	if c.Logger == nil {
		c.Logger = NewLogger(os.Stderr, c.Verbose)
	}

	return nil
}

// NewLogger returns the default logger: warnings and above, or everything
// when verbose is set.
func NewLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.WarnLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          "m3u8dl",
		ReportTimestamp: verbose,
		TimeFormat:      time.TimeOnly,
	})
}

// File is the on-disk YAML configuration read by the CLI.
type File struct {
	DownloadRoot string            `yaml:"download_root"`
	OutputDir    string            `yaml:"output_dir"`
	Variant      string            `yaml:"variant"`
	Workers      int               `yaml:"workers"`
	Timeout      string            `yaml:"timeout"`
	MaxBandwidth int64             `yaml:"max_bandwidth"`
	IVMode       string            `yaml:"iv_mode"`
	UserAgent    string            `yaml:"user_agent"`
	Headers      map[string]string `yaml:"headers"`
	Verbose      bool              `yaml:"verbose"`
}

// Load reads a YAML config file and applies it on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := New()
	if err := f.apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *File) apply(c *Config) error {
	if f.DownloadRoot != "" {
		c.DownloadRoot = expandHome(f.DownloadRoot)
	}
	if f.OutputDir != "" {
		c.OutputDir = expandHome(f.OutputDir)
	}
	if f.Variant != "" {
		c.Variant = f.Variant
	}
	if f.Workers != 0 {
		c.Workers = f.Workers
	}
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return fmt.Errorf("parse config timeout: %w", err)
		}
		c.Timeout = d
	}
	if f.MaxBandwidth != 0 {
		c.MaxBandwidth = f.MaxBandwidth
	}
	if f.IVMode != "" {
		c.IVMode = IVMode(strings.ToLower(f.IVMode))
	}
	if f.UserAgent != "" {
		c.UserAgent = f.UserAgent
	}
	for k, v := range f.Headers {
		c.Headers[k] = v
	}
	c.Verbose = f.Verbose
	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
