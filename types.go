package m3u8dl

import (
	"github.com/mohaanymo/m3u8dl/internal/config"
	"github.com/mohaanymo/m3u8dl/internal/models"
)

// Result describes a finished run. FailedSegments is non-zero when the
// output has gaps.
type Result = models.Result

// Playlist is a resolved media playlist.
type Playlist = models.Playlist

// Variant is a master playlist entry.
type Variant = models.Variant

// Segment is one media segment of a playlist.
type Segment = models.Segment

// Error is the concrete type of every error returned by Run. Use errors.As
// to get the failing operation.
type Error = models.Error

// Error kinds, matched with errors.Is.
var (
	ErrNetwork    = models.ErrNetwork
	ErrParse      = models.ErrParse
	ErrDecryption = models.ErrDecryption
	ErrIO         = models.ErrIO
	ErrPermission = models.ErrPermission
	ErrNoSegments = models.ErrNoSegments
)

// Configuration errors returned by New.
var (
	ErrMissingURL    = config.ErrMissingURL
	ErrInvalidIVMode = config.ErrInvalidIVMode
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

// IVMode selects the IV for keys that carry no IV attribute.
type IVMode = config.IVMode

const (
	// IVZero uses 16 zero bytes.
	IVZero = config.IVZero
	// IVSequence uses the media sequence number, as RFC 8216 specifies.
	IVSequence = config.IVSequence
)

// Defaults.
const (
	DefaultWorkers   = config.DefaultWorkers
	DefaultTimeout   = config.DefaultTimeout
	DefaultExtension = config.DefaultExtension
)
