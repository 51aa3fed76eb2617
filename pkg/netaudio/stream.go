// ABOUTME: Source pump reading PCM from a reader and publishing it at real-time cadence
// ABOUTME: Packets are whole frames; a short final read keeps only complete frames
package netaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Resonate-Protocol/netaudio-go/pkg/protocol"
	"go.uber.org/zap"
)

// DefaultFramesPerPacket is the number of frames carried by one packet.
const DefaultFramesPerPacket = 2

// StreamOptions configures Broadcaster.Stream.
type StreamOptions struct {
	// FramesPerPacket sets the packet size in frames (default 2)
	FramesPerPacket int

	// WaitForClients holds the stream until a client is connected
	WaitForClients bool

	// OmitTimestamp sends packets without a Timestamp
	OmitTimestamp bool
}

// Stream reads PCM from src and publishes it packet by packet, paced at
// the stream's playback rate. It returns nil at end of input, ctx's error
// on cancellation, or ErrStopped if the broadcaster stops.
func (b *Broadcaster) Stream(ctx context.Context, src io.Reader, opts StreamOptions) error {
	if opts.FramesPerPacket <= 0 {
		opts.FramesPerPacket = DefaultFramesPerPacket
	}
	frameSize := b.config.Format.FrameSize()
	packetSize := frameSize * opts.FramesPerPacket
	interval := b.config.Format.FrameDuration() * time.Duration(opts.FramesPerPacket)

	logger := b.logger.With(
		zap.Int("packet_bytes", packetSize), zap.Duration("interval", interval))
	logger.Info("streaming started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var packets uint64
	buf := make([]byte, packetSize)
	for {
		if opts.WaitForClients {
			if err := b.waitForClients(ctx, interval); err != nil {
				return err
			}
		}

		n, err := io.ReadFull(src, buf)
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return fmt.Errorf("read audio: %w", err)
		}

		if rest := n % frameSize; rest > 0 {
			b.metrics.SourceDropped.Add(float64(rest))
			logger.Warn("dropping partial frame at end of input", zap.Int("bytes", rest))
		}
		if whole := n - n%frameSize; whole > 0 {
			payload := make([]byte, whole)
			copy(payload, buf[:whole])

			var pkt protocol.AudioPacket
			if opts.OmitTimestamp {
				pkt = protocol.AudioPacket{Payload: payload}
			} else {
				pkt = protocol.NewAudioPacket(payload, time.Now())
			}
			if err := b.Publish(ctx, pkt); err != nil {
				return err
			}
			packets++
		}

		if eof {
			logger.Info("streaming finished", zap.Uint64("packets", packets))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stopCtx.Done():
			return ErrStopped
		case <-ticker.C:
		}
	}
}

func (b *Broadcaster) waitForClients(ctx context.Context, poll time.Duration) error {
	if b.ConnectedClients() > 0 {
		return nil
	}
	b.logger.Info("waiting for clients")

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for b.ConnectedClients() == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stopCtx.Done():
			return ErrStopped
		case <-ticker.C:
		}
	}
	return nil
}
