// ABOUTME: Oto-based audio output implementation
// ABOUTME: Feeds the system audio device from a pull callback with software volume control
package output

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"
)

// oto allows a single context per process.
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat audio.Format
)

// Oto plays through the system audio device.
type Oto struct {
	logger *zap.Logger
	player *oto.Player
	volume atomic.Int32
	muted  atomic.Bool
}

// NewOto creates an Oto sink at full volume.
func NewOto(logger *zap.Logger) *Oto {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Oto{logger: logger.Named("oto")}
	o.volume.Store(100)
	return o
}

// Open starts playback. The device pulls frames through pull whenever its
// buffer drains.
func (o *Oto) Open(format audio.Format, pull PullFunc) error {
	if err := format.Validate(); err != nil {
		return err
	}

	ctx, err := sharedContext(format, o.logger)
	if err != nil {
		return err
	}

	reader := newFrameReader(func(frame []byte) {
		pull(frame)
		applyVolume(frame, o.volumeMultiplier())
	}, format.FrameSize())

	o.player = ctx.NewPlayer(reader)
	o.player.SetBufferSize(format.FrameSize() * 2)
	o.player.Play()

	o.logger.Info("audio output started", zap.Stringer("format", format))
	return nil
}

func sharedContext(format audio.Format, logger *zap.Logger) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		if otoFormat != format {
			logger.Warn("oto cannot be reinitialised, keeping existing format",
				zap.Stringer("existing", otoFormat), zap.Stringer("requested", format))
		}
		if err := otoCtx.Resume(); err != nil {
			return nil, fmt.Errorf("failed to resume oto context: %w", err)
		}
		return otoCtx, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   format.FrameDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	otoCtx = ctx
	otoFormat = format
	return ctx, nil
}

// Close stops the player and suspends the shared context.
func (o *Oto) Close() error {
	if o.player == nil {
		return nil
	}
	err := o.player.Close()
	o.player = nil

	otoMu.Lock()
	if otoCtx != nil {
		if serr := otoCtx.Suspend(); serr != nil && err == nil {
			err = serr
		}
	}
	otoMu.Unlock()
	return err
}

// SetVolume sets the volume (0-100)
func (o *Oto) SetVolume(volume int) {
	volume = max(0, min(100, volume))
	o.volume.Store(int32(volume))
	o.logger.Debug("volume set", zap.Int("volume", volume))
}

// SetMuted sets mute state
func (o *Oto) SetMuted(muted bool) {
	o.muted.Store(muted)
}

// Volume returns current volume
func (o *Oto) Volume() int {
	return int(o.volume.Load())
}

// Muted returns mute state
func (o *Oto) Muted() bool {
	return o.muted.Load()
}

func (o *Oto) volumeMultiplier() float64 {
	return getVolumeMultiplier(int(o.volume.Load()), o.muted.Load())
}

// applyVolume scales 16-bit samples in place with clipping protection
func applyVolume(pcm []byte, multiplier float64) {
	if multiplier == 1 {
		return
	}
	for off := 0; off+1 < len(pcm); off += 2 {
		s := audio.ReadInt16(pcm, off)
		audio.PutInt16(pcm, off, audio.ClampInt16(float64(s)*multiplier))
	}
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}
