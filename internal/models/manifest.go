// Package models defines core data structures for HLS playlists and download runs.
package models

import (
	"fmt"
	"strings"
	"time"
)

// PlaylistType represents the kind of m3u8 document.
type PlaylistType int

const (
	PlaylistMedia PlaylistType = iota
	PlaylistMaster
)

func (t PlaylistType) String() string {
	switch t {
	case PlaylistMedia:
		return "media"
	case PlaylistMaster:
		return "master"
	default:
		return "unknown"
	}
}

// Playlist is a parsed media playlist ready for download.
// A master playlist is only ever an intermediate step; the resolver
// replaces it with the chosen variant's media playlist.
type Playlist struct {
	// URL the playlist was fetched from, after master resolution.
	URL string
	// BaseURL is the URL every segment and key URI is resolved against.
	BaseURL string
	// Source records whether the entry point was a master or a media playlist.
	Source   PlaylistType
	Variant  *Variant // selected variant, nil when Source is PlaylistMedia
	Segments []*Segment
	Duration time.Duration
}

// Encrypted reports whether any segment carries a key reference.
func (p *Playlist) Encrypted() bool {
	for _, s := range p.Segments {
		if s.Key != nil {
			return true
		}
	}
	return false
}

// Variant is a master playlist entry.
type Variant struct {
	URI        string
	Bandwidth  int64
	Resolution string
	Codecs     string
}

func (v Variant) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d bps", v.Bandwidth)
	if v.Resolution != "" {
		b.WriteString(" " + v.Resolution)
	}
	if v.Codecs != "" {
		b.WriteString(" (" + v.Codecs + ")")
	}
	return b.String()
}

// EncryptionMethod is the METHOD attribute of #EXT-X-KEY.
type EncryptionMethod string

const (
	MethodNone      EncryptionMethod = "NONE"
	MethodAES128    EncryptionMethod = "AES-128"
	MethodSampleAES EncryptionMethod = "SAMPLE-AES"
)

// KeyRef describes how a segment is encrypted.
type KeyRef struct {
	Method EncryptionMethod
	URI    string // absolute, resolved against the playlist URL
	IV     []byte // nil when the playlist supplies none
}

// Segment represents a media segment.
type Segment struct {
	// Index is the playlist position and defines output order.
	Index    int
	URI      string // as written in the playlist
	URL      string // resolved against the playlist base URL
	Sequence uint64 // media sequence number
	Duration time.Duration
	Key      *KeyRef
}

// SegmentResult is the outcome of one download task.
type SegmentResult struct {
	Index int
	Path  string // temp file holding decrypted bytes
	Size  int64
	Err   error
}

// OK reports whether the segment was stored successfully.
func (r SegmentResult) OK() bool {
	return r.Err == nil && r.Path != ""
}

// Result is the outcome of a successful run.
type Result struct {
	OutputPath     string
	TotalSegments  int
	FailedSegments int
	FailedIndices  []int
	BytesWritten   int64
}

// Degraded reports whether some segments are missing from the output.
func (r *Result) Degraded() bool {
	return r.FailedSegments > 0
}
