// Package session ties the control plane to the media plane on the client:
// it owns one signaling session and at most one live media pipeline, and
// routes frame metadata, clock samples and latency directives between them.
package session

import "time"

// Hooks are the callbacks a media pipeline uses to exchange frame metadata
// with the orchestrator. All hooks are hot-path safe and never block.
type Hooks struct {
	// EmbedMetadata pops the payload to attach to the next outgoing media
	// unit, or nil when none is pending.
	EmbedMetadata func() []byte
	// ExtractMetadata hands over a payload peeled off a received media
	// unit's side channel.
	ExtractMetadata func(data []byte)
	// FrameDecoded signals that one media unit cleared the decoder.
	FrameDecoded func()
}

// Pipeline is the externally-provided media pipeline. The orchestrator
// never builds media elements itself; it only starts, stops and steers
// a pipeline it was handed.
type Pipeline interface {
	Start() error
	Stop()
	// SetJitterDepth applies a buffer depth directive to the pipeline's
	// jitter/reorder stage.
	SetJitterDepth(depth time.Duration)
}

// PipelineBuilder constructs a Pipeline around the orchestrator's hooks.
// Build is called synchronously while a connection attempt waits; an error
// fails the attempt cleanly instead of handing out a half-built pipeline.
type PipelineBuilder interface {
	Build(hooks Hooks) (Pipeline, error)
}
