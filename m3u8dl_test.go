package m3u8dl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
)

// newStream serves a media playlist with n plain segments at /index.m3u8.
// Segments listed in fail answer 500.
func newStream(t *testing.T, n int, fail ...int) (*httptest.Server, []byte) {
	t.Helper()
	failed := make(map[string]bool)
	for _, i := range fail {
		failed[fmt.Sprintf("/seg%d.ts", i)] = true
	}

	var playlist strings.Builder
	playlist.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:4\n")
	files := make(map[string][]byte)
	var want []byte
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("/seg%d.ts", i)
		body := []byte(fmt.Sprintf("segment-%d;", i))
		files[name] = body
		if !failed[name] {
			want = append(want, body...)
		}
		fmt.Fprintf(&playlist, "#EXTINF:4.0,\n%s\n", name[1:])
	}
	playlist.WriteString("#EXT-X-ENDLIST\n")
	files["/index.m3u8"] = []byte(playlist.String())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failed[r.URL.Path] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, want
}

func testOptions(t *testing.T) (string, []Option) {
	t.Helper()
	root := t.TempDir()
	return root, []Option{
		WithDownloadRoot(root),
		WithOutputDir(filepath.Join(root, "out")),
		WithLogger(log.New(io.Discard)),
	}
}

func TestRun(t *testing.T) {
	srv, want := newStream(t, 4)
	root, opts := testOptions(t)

	var mu sync.Mutex
	var calls []int
	opts = append(opts,
		WithFileName("My Show: Episode 1"),
		WithWorkers(2),
		WithProgress(func(completed, total int) {
			mu.Lock()
			calls = append(calls, completed)
			mu.Unlock()
			if total != 4 {
				t.Errorf("progress total = %d, want 4", total)
			}
		}),
	)

	res, err := Run(context.Background(), srv.URL+"/index.m3u8", opts...)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantPath := filepath.Join(root, "out", "My_Show_Episode_1.mp4")
	if res.OutputPath != wantPath {
		t.Errorf("OutputPath = %q, want %q", res.OutputPath, wantPath)
	}
	got, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("output = %q, want %q", got, want)
	}
	if res.Degraded() {
		t.Errorf("Degraded() = true, failed = %v", res.FailedIndices)
	}
	if fmt.Sprint(calls) != "[1 2 3 4]" {
		t.Errorf("progress calls = %v", calls)
	}

	entries, err := os.ReadDir(filepath.Join(root, "out"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("output dir has %d entries, want only the output file", len(entries))
	}
}

func TestRunDegraded(t *testing.T) {
	srv, want := newStream(t, 5, 2)
	_, opts := testOptions(t)

	res, err := Run(context.Background(), srv.URL+"/index.m3u8", append(opts, WithExtension("ts"))...)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.HasSuffix(res.OutputPath, ".ts") {
		t.Errorf("OutputPath = %q, want .ts extension", res.OutputPath)
	}
	if res.FailedSegments != 1 || fmt.Sprint(res.FailedIndices) != "[2]" {
		t.Errorf("FailedIndices = %v, want [2]", res.FailedIndices)
	}
	got, _ := os.ReadFile(res.OutputPath)
	if !bytes.Equal(got, want) {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRunErrors(t *testing.T) {
	srv, _ := newStream(t, 2, 0, 1)

	tests := []struct {
		name string
		url  string
		opts func(root string) []Option
		kind error
	}{
		{
			name: "output outside root",
			url:  srv.URL + "/index.m3u8",
			opts: func(root string) []Option { return []Option{WithOutputDir(filepath.Dir(root))} },
			kind: ErrPermission,
		},
		{
			name: "all segments fail",
			url:  srv.URL + "/index.m3u8",
			kind: ErrNoSegments,
		},
		{
			name: "missing playlist",
			url:  srv.URL + "/nope.m3u8",
			kind: ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, opts := testOptions(t)
			if tt.opts != nil {
				opts = append(opts, tt.opts(root)...)
			}

			var states []State
			opts = append(opts, WithStateHook(func(s State) { states = append(states, s) }))

			_, err := Run(context.Background(), tt.url, opts...)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("Run() error = %v, want %v", err, tt.kind)
			}
			var e *Error
			if !errors.As(err, &e) {
				t.Errorf("Run() error %T is not *Error", err)
			}
			if len(states) == 0 || states[len(states)-1] != StateFailed {
				t.Errorf("states = %v, want last %v", states, StateFailed)
			}
		})
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(); !errors.Is(err, ErrMissingURL) {
		t.Errorf("New() error = %v, want ErrMissingURL", err)
	}
	if _, err := New(WithURL("http://x/a.m3u8"), WithIVMode("bogus")); !errors.Is(err, ErrInvalidIVMode) {
		t.Errorf("New() error = %v, want ErrInvalidIVMode", err)
	}
}

func TestDownloaderResolve(t *testing.T) {
	srv, _ := newStream(t, 3)
	root, opts := testOptions(t)

	d, err := New(append(opts, WithURL(srv.URL+"/index.m3u8"))...)
	if err != nil {
		t.Fatal(err)
	}
	if d.State() != StateIdle {
		t.Errorf("State() = %v, want %v", d.State(), StateIdle)
	}
	if d.OutputDir() != filepath.Join(root, "out") {
		t.Errorf("OutputDir() = %q", d.OutputDir())
	}

	pl, err := d.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(pl.Segments) != 3 {
		t.Errorf("Resolve() segments = %d, want 3", len(pl.Segments))
	}

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if d.State() != StateDone {
		t.Errorf("State() = %v, want %v", d.State(), StateDone)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m3u8dl.yaml")
	data := "download_root: " + dir + "\nworkers: 4\nvariant: 720p\nheaders:\n  Referer: https://example.com/\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	fileOpts, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	opts := append([]Option{WithURL("https://example.com/a.m3u8"), WithOutputDir(dir)}, fileOpts...)
	opts = append(opts, WithWorkers(6))
	d, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if d.cfg.DownloadRoot != dir {
		t.Errorf("DownloadRoot = %q, want %q", d.cfg.DownloadRoot, dir)
	}
	if d.cfg.Workers != 6 {
		t.Errorf("Workers = %d, want flag value 6", d.cfg.Workers)
	}
	if d.cfg.Variant != "720p" {
		t.Errorf("Variant = %q, want 720p", d.cfg.Variant)
	}
	if d.cfg.Headers["Referer"] != "https://example.com/" {
		t.Errorf("Headers = %v", d.cfg.Headers)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig() error = nil, want error")
	}
}
