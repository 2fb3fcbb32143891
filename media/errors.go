package media

import "errors"

var (
	// ErrWrongState is returned when a lifecycle method is invoked in a
	// status that does not permit it; the call has no side effects.
	ErrWrongState = errors.New("media: operation invalid in current status")

	// ErrPrerollTimeout indicates the pipeline did not preroll within
	// the 20 second budget; the media transitions to StatusError.
	ErrPrerollTimeout = errors.New("media: failed to preroll")

	// ErrNoStreams indicates preparation found no payloader or
	// depayloader elements in the pipeline.
	ErrNoStreams = errors.New("media: no valid streams detected")

	// ErrNotComplete is returned by Seek when no sender stream has a
	// configured transport subgraph yet.
	ErrNotComplete = errors.New("media: no configured sender stream")

	// ErrNotSeekable is returned by Seek when the media reports no
	// seekable range.
	ErrNotSeekable = errors.New("media: not seekable")

	// ErrPipelineError wraps a fatal error posted on the pipeline bus;
	// callers see it from Prepare and from WaitPrepared.
	ErrPipelineError = errors.New("media: internal data stream error")
)
