// ABOUTME: Package documentation for the playback engine
// ABOUTME: Describes the ring buffer contract between network and audio device
// Package playback buffers decoded audio between the network and the audio
// device.
//
// A RingBuffer has exactly one producer and one consumer. The producer
// (the network side) blocks when the buffer is full; the consumer (the
// device callback) never blocks and receives silence on underrun. Both
// counters are 64-bit and monotonically increasing, and pending counts are
// computed with unsigned subtraction so they stay correct across rollover.
//
// Example:
//
//	engine, err := playback.NewEngine(playback.Config{Capacity: 10})
//	err = engine.Start(output.NewOto(logger))
//	n, err := engine.Enqueue(ctx, pcm)
package playback
