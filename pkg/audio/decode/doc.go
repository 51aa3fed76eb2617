// ABOUTME: Audio decoder package turning files into PCM streams
// ABOUTME: Provides WAV, MP3, raw PCM and test tone streams
// Package decode turns audio files into 16-bit PCM streams for the
// broadcaster.
//
// Supports WAV (go-audio/wav), MP3 (go-mp3), headerless PCM and a
// generated test tone. Sources must already be at the stream's sample rate
// and channel count; there is no resampling.
//
// Example:
//
//	stream, err := decode.Open("song.wav", audio.DefaultFormat())
//	defer stream.Close()
//	n, err := stream.Read(buf)
package decode
