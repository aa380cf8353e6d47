package parser

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/grafov/m3u8"

	"github.com/mohaanymo/m3u8dl/internal/decryptor"
	"github.com/mohaanymo/m3u8dl/internal/models"
)

// Resolver loads a playlist URL and returns the media playlist to download.
// A master playlist is resolved to one of its variants; only one level of
// indirection is followed.
type Resolver struct {
	fetcher Fetcher
	selectV SelectFunc
	logger  *log.Logger
}

// NewResolver creates a Resolver. sel picks the variant of a master playlist.
func NewResolver(f Fetcher, sel SelectFunc, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Resolver{fetcher: f, selectV: sel, logger: logger}
}

// Load fetches and parses urlStr. Fetch failures are models.ErrNetwork,
// malformed or nested playlists are models.ErrParse.
func (r *Resolver) Load(ctx context.Context, urlStr string) (*models.Playlist, error) {
	base, err := url.Parse(urlStr)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, models.Errorf(models.ErrParse, "parse URL", "invalid playlist URL %q", urlStr)
	}

	pl, typ, err := r.fetchPlaylist(ctx, urlStr)
	if err != nil {
		return nil, err
	}

	if typ == m3u8.MEDIA {
		r.logger.Debug("media playlist", "url", urlStr)
		return buildMedia(pl.(*m3u8.MediaPlaylist), base, models.PlaylistMedia, nil)
	}

	variants := collectVariants(pl.(*m3u8.MasterPlaylist))
	if len(variants) == 0 {
		return nil, models.Errorf(models.ErrParse, "parse master", "master playlist has no variants")
	}
	chosen, err := r.selectV(variants)
	if err != nil {
		return nil, models.Wrap(models.ErrParse, "select variant", err)
	}

	mediaURL := resolveURL(base, chosen.URI)
	r.logger.Debug("master playlist", "variants", len(variants), "selected", chosen.String(), "url", mediaURL)

	mediaBase, err := url.Parse(mediaURL)
	if err != nil {
		return nil, models.Wrap(models.ErrParse, "parse variant URL", err)
	}
	pl, typ, err = r.fetchPlaylist(ctx, mediaURL)
	if err != nil {
		return nil, err
	}
	if typ != m3u8.MEDIA {
		return nil, models.Errorf(models.ErrParse, "parse variant", "nested master playlist at %s", mediaURL)
	}
	return buildMedia(pl.(*m3u8.MediaPlaylist), mediaBase, models.PlaylistMaster, chosen)
}

func (r *Resolver) fetchPlaylist(ctx context.Context, urlStr string) (m3u8.Playlist, m3u8.ListType, error) {
	body, err := r.fetcher.Get(ctx, urlStr)
	if err != nil {
		return nil, 0, models.Wrap(models.ErrNetwork, "fetch playlist", err)
	}
	return Decode(body)
}

// Decode parses an m3u8 document.
func Decode(data []byte) (m3u8.Playlist, m3u8.ListType, error) {
	data = bytes.TrimLeft(data, "\ufeff \t\r\n")
	if !bytes.HasPrefix(data, []byte("#EXTM3U")) {
		return nil, 0, models.Errorf(models.ErrParse, "decode playlist", "missing #EXTM3U header")
	}
	pl, typ, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err == nil && (typ == m3u8.MEDIA || typ == m3u8.MASTER) {
		return pl, typ, nil
	}

	// grafov cannot type a document without entries; it is an empty
	// media playlist.
	if !hasEntries(data) {
		empty, err := m3u8.NewMediaPlaylist(0, 1)
		if err != nil {
			return nil, 0, models.Wrap(models.ErrParse, "decode playlist", err)
		}
		return empty, m3u8.MEDIA, nil
	}
	if err != nil {
		return nil, 0, models.Wrap(models.ErrParse, "decode playlist", err)
	}
	return nil, 0, models.Errorf(models.ErrParse, "decode playlist", "unknown playlist type")
}

// hasEntries reports whether the document lists a segment or a variant.
func hasEntries(data []byte) bool {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case !strings.HasPrefix(line, "#"):
			return true
		case strings.HasPrefix(line, "#EXTINF"), strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			return true
		}
	}
	return false
}

func collectVariants(master *m3u8.MasterPlaylist) []*models.Variant {
	var variants []*models.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" || v.Iframe {
			continue
		}
		variants = append(variants, &models.Variant{
			URI:        v.URI,
			Bandwidth:  int64(v.Bandwidth),
			Resolution: v.Resolution,
			Codecs:     v.Codecs,
		})
	}
	return variants
}

// buildMedia converts a decoded media playlist. An #EXT-X-KEY applies to
// every following segment until the next key tag.
func buildMedia(media *m3u8.MediaPlaylist, base *url.URL, source models.PlaylistType, variant *models.Variant) (*models.Playlist, error) {
	pl := &models.Playlist{
		URL:     base.String(),
		BaseURL: base.String(),
		Source:  source,
		Variant: variant,
	}

	var current *models.KeyRef
	for i, seg := range media.Segments[:media.Count()] {
		if seg == nil {
			continue
		}
		if seg.Key != nil {
			key, err := keyRef(seg.Key, base)
			if err != nil {
				return nil, err
			}
			current = key
		}

		duration := time.Duration(seg.Duration * float64(time.Second))
		pl.Segments = append(pl.Segments, &models.Segment{
			Index:    len(pl.Segments),
			URI:      seg.URI,
			URL:      resolveURL(base, seg.URI),
			Sequence: media.SeqNo + uint64(i),
			Duration: duration,
			Key:      current,
		})
		pl.Duration += duration
	}
	return pl, nil
}

func keyRef(k *m3u8.Key, base *url.URL) (*models.KeyRef, error) {
	method := models.EncryptionMethod(strings.ToUpper(strings.TrimSpace(k.Method)))
	if method == "" || method == models.MethodNone {
		return nil, nil
	}
	if k.URI == "" {
		return nil, models.Errorf(models.ErrParse, "parse key", "%s key without URI", method)
	}
	iv, err := decryptor.ParseIV(k.IV)
	if err != nil {
		return nil, models.Wrap(models.ErrParse, "parse key", err)
	}
	return &models.KeyRef{
		Method: method,
		URI:    resolveURL(base, k.URI),
		IV:     iv,
	}, nil
}
