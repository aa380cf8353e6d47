package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohaanymo/m3u8dl/internal/config"
	"github.com/mohaanymo/m3u8dl/internal/models"
)

// hlsServer serves a media playlist and its segments. Paths listed in
// fail answer 500; delay slows individual paths down.
type hlsServer struct {
	*httptest.Server
	files map[string][]byte
	fail  map[string]bool
	delay map[string]time.Duration
	hits  atomic.Int32
	paths sync.Map
}

func newHLSServer(t *testing.T) *hlsServer {
	t.Helper()
	s := &hlsServer{
		files: make(map[string][]byte),
		fail:  make(map[string]bool),
		delay: make(map[string]time.Duration),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		n, _ := s.paths.LoadOrStore(r.URL.Path, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)

		if d := s.delay[r.URL.Path]; d > 0 {
			time.Sleep(d)
		}
		if s.fail[r.URL.Path] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, ok := s.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

// pathHits returns how many times path was requested.
func (s *hlsServer) pathHits(path string) int32 {
	n, ok := s.paths.Load(path)
	if !ok {
		return 0
	}
	return n.(*atomic.Int32).Load()
}

// addMedia registers a media playlist at path with one segment per payload.
// A non-empty keyURI encrypts every segment with key and a zero IV.
func (s *hlsServer) addMedia(t *testing.T, path string, payloads [][]byte, keyURI string, key []byte) {
	t.Helper()
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n")
	if keyURI != "" {
		fmt.Fprintf(&b, "#EXT-X-KEY:METHOD=AES-128,URI=%q\n", keyURI)
	}
	for i, p := range payloads {
		name := fmt.Sprintf("/seg%d.ts", i)
		body := p
		if keyURI != "" {
			body = encryptCBC(t, p, key, make([]byte, aes.BlockSize))
		}
		s.files[name] = body
		fmt.Fprintf(&b, "#EXTINF:4.0,\n%s\n", strings.TrimPrefix(name, "/"))
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	s.files[path] = []byte(b.String())
}

func encryptCBC(t *testing.T, plain, key, iv []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	return out
}

// payloads returns n distinct block-aligned segment bodies.
func payloads(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		body := []byte(strings.Repeat(fmt.Sprintf("segment-%02d-data", i), 8))
		out[i] = body[:len(body)/aes.BlockSize*aes.BlockSize]
	}
	return out
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	root := t.TempDir()

	cfg := config.New()
	cfg.URL = url
	cfg.DownloadRoot = root
	cfg.OutputDir = root + "/out"
	cfg.FileName = "video"
	cfg.Logger = config.NewLogger(testWriter{t}, true)
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func segmentsFor(srv *hlsServer, n int) []*models.Segment {
	segs := make([]*models.Segment, n)
	for i := range segs {
		segs[i] = &models.Segment{
			Index: i,
			URL:   fmt.Sprintf("%s/seg%d.ts", srv.URL, i),
		}
	}
	return segs
}
