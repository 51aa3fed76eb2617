// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts 16-bit PCM between sample rates and channel counts
// Package resample provides sample rate and channel conversion for
// sources whose format differs from the stream's.
//
// Uses linear interpolation for converting between sample rates.
// Handles both upsampling and downsampling, chunk by chunk:
//
//	r := resample.New(48000, 44100, 2)
//	out := r.Resample(samples)
package resample
