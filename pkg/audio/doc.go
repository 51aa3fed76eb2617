// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, frame splitting and int16 sample conversion
// Package audio provides the PCM format shared by every netaudio component.
//
// Streams are raw 16-bit signed little-endian PCM. A Format carries the
// sample rate, channel count and frame length; the default is 44.1kHz
// stereo with 1024-sample frames, 4096 bytes per frame:
//
//	format := audio.DefaultFormat()
//	frames, dropped := format.SplitFrames(pcm)
//
// Frames are never partially consumed; SplitFrames reports the trailing
// bytes that do not fill a whole frame so callers can log and drop them.
package audio
