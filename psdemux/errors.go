package psdemux

import "errors"

// Result classifies the outcome of a Push/Process call the same way
// pes.Result does, so a caller pumping bytes through the demux never has
// to unwind a Go error for ordinary protocol-level conditions.
type Result int

const (
	// OK indicates progress was made: bytes were consumed, a header was
	// recognised, or data was delivered.
	OK Result = iota
	// NeedMoreData indicates the demux requires more bytes before it
	// can make progress.
	NeedMoreData
	// LostSync indicates a resync was performed; callers may retry
	// immediately.
	LostSync
	// EOS indicates the end-of-stream pack (0x1B9) was reached.
	EOS
)

var (
	// ErrWrongState is returned when Seek or Process is called outside
	// the state that permits it.
	ErrWrongState = errors.New("psdemux: operation invalid in current state")
	// ErrNoRate indicates a seek was attempted before scr_rate_d was
	// established; the rate denominator must be non-zero before a seek
	// is accepted.
	ErrNoRate = errors.New("psdemux: scr rate not yet established")
	// ErrSeekDepth indicates the bisection seek exceeded its recursion
	// budget.
	ErrSeekDepth = errors.New("psdemux: seek recursion limit exceeded")
	// ErrNotSeekable is returned by Seek when the underlying reader
	// cannot be used for pull-mode random access.
	ErrNotSeekable = errors.New("psdemux: demux was not constructed with a seekable reader")
)
