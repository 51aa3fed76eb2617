// ABOUTME: Package documentation for stereo panning
// ABOUTME: Describes the pan range and gain law
// Package pan implements left/right balance for interleaved stereo PCM.
//
// Pan values run from -1 (full left) through 0 (center) to +1 (full
// right). Out of range values are clamped, never rejected.
package pan
