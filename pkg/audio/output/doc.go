// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the pull-model Sink interface with oto and clock implementations
// Package output provides audio sinks that pull PCM frames at the
// device's pace.
//
// A sink never waits for data: the pull callback must return at once and
// supply silence when nothing is buffered.
//
// Example:
//
//	sink := output.NewOto(logger)
//	err := sink.Open(audio.DefaultFormat(), engine.PullFrame)
//	defer sink.Close()
package output
