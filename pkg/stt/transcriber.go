package stt

import (
	"context"

	"github.com/harunnryd/voxlink/pkg/capture"
)

// Transcriber turns one captured utterance into text. An empty result with
// a nil error means nothing intelligible was said.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, buf capture.Buffer) (string, error)
}

// SampleRate is the rate transcribers expect audio at.
const SampleRate = 16000

// Prepare folds buf to mono at SampleRate.
func Prepare(buf capture.Buffer) capture.Buffer {
	return capture.Resample(capture.ToMono(buf), SampleRate)
}
