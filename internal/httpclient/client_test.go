package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohaanymo/m3u8dl/internal/models"
)

func TestClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("payload"))
		case "/missing":
			http.NotFound(w, r)
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(DefaultConfig())

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"success", "/ok", "payload", false},
		{"not found", "/missing", "", true},
		{"server error", "/boom", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := c.Get(context.Background(), srv.URL+tt.path)
			if tt.wantErr {
				if !errors.Is(err, models.ErrNetwork) {
					t.Errorf("Get() error = %v, want ErrNetwork", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(body) != tt.want {
				t.Errorf("Get() = %q, want %q", body, tt.want)
			}
		})
	}
}

func TestClientHeaders(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.UserAgent = "m3u8dl-test"
	cfg.Headers = map[string]string{"Referer": "https://example.com/"}

	if _, err := New(cfg).Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if gotUA != "m3u8dl-test" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "m3u8dl-test")
	}
	if gotReferer != "https://example.com/" {
		t.Errorf("Referer = %q", gotReferer)
	}
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := New(cfg).Get(context.Background(), srv.URL)
	if !errors.Is(err, models.ErrNetwork) {
		t.Fatalf("Get() error = %v, want ErrNetwork", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() error = %v, want deadline exceeded in chain", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Get() took %v, timeout not applied", elapsed)
	}
}

func TestClientBandwidthLimit(t *testing.T) {
	payload := make([]byte, 32*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxBandwidth = 1 << 20

	body, err := New(cfg).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(body) != len(payload) {
		t.Errorf("Get() read %d bytes, want %d", len(body), len(payload))
	}
}
