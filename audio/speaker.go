package audio

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/pion/opus"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/prathdotexe/CodeSphere/shared"
)

// PCMBytes sizes a 16-bit PCM buffer for a span of audio.
func PCMBytes(duration time.Duration, sampleRate, channels int) int {
	return int(duration.Seconds()*float64(sampleRate)) * channels * 2
}

// SpeakerOptions tunes remote playback. Zero values pick the defaults.
type SpeakerOptions struct {
	// PlayerBuffer is the latency oto buffers before the device.
	PlayerBuffer time.Duration
	// RingBuffer bounds decoded audio waiting for the device; older audio is
	// dropped past it.
	RingBuffer time.Duration
}

func (o SpeakerOptions) withDefaults() SpeakerOptions {
	if o.PlayerBuffer <= 0 {
		o.PlayerBuffer = 100 * time.Millisecond
	}
	if o.RingBuffer <= 0 {
		o.RingBuffer = 2 * time.Second
	}
	return o
}

// PlayTrack decodes a remote opus track and plays it on the default output
// device until the context is done or the track ends. Blocking; run it in the
// remote-track handler's goroutine.
func PlayTrack(
	ctx context.Context,
	logger shared.LoggerAdapter,
	track *webrtc.TrackRemote,
	opts SpeakerOptions,
) error {
	opts = opts.withDefaults()
	codec := track.Codec()
	sampleRate := int(codec.ClockRate)
	channels := int(codec.Channels)
	if channels == 0 {
		channels = 1
	}
	logger.Info("playing remote track",
		zap.String("codec", codec.MimeType),
		zap.Int("sampleRate", sampleRate),
		zap.Int("channels", channels),
	)

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   opts.PlayerBuffer,
	})
	if err != nil {
		return err
	}
	<-ready

	ring := NewPCMBuffer(PCMBytes(opts.RingBuffer, sampleRate, channels))
	defer ring.Close()
	player := otoCtx.NewPlayer(ring)
	player.Play()
	defer func() { _ = player.Close() }()

	decoder := opus.NewDecoder()
	// WebRTC opus ships 20ms frames.
	pcm := make([]byte, PCMBytes(20*time.Millisecond, sampleRate, channels))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		if _, _, err := decoder.Decode(pkt.Payload, pcm); err != nil {
			logger.Warn("skipping undecodable frame", zap.Error(err))
			continue
		}
		if dropped := ring.Write(pcm); dropped > 0 {
			logger.Warn("playback falling behind", zap.Int("droppedBytes", dropped))
		}
	}
}
