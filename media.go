package codesphere

import (
	"errors"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/prathdotexe/CodeSphere/shared"
)

// LocalTrack is a local capture track plus the handle to stop its device.
type LocalTrack interface {
	webrtc.TrackLocal
	Stop() error
}

// DeviceSource acquires capture devices. The MediaManager is the only
// component that opens or stops them.
type DeviceSource interface {
	OpenAudio() (LocalTrack, error)
	OpenVideo() (LocalTrack, error)
}

// MediaTrackSet is the local capture handles currently live. Audio and video
// are independently enabled; a nil entry means that kind is off.
type MediaTrackSet struct {
	Audio LocalTrack
	Video LocalTrack
}

// MediaManager owns the local capture devices. Toggles are idempotent, a
// failed acquisition leaves state exactly as it was, and StopAll on session
// leave is mandatory cleanup, not best effort.
//
// Not safe for concurrent use; driven from the session event loop.
type MediaManager struct {
	logger shared.LoggerAdapter
	source DeviceSource
	tracks MediaTrackSet
}

func NewMediaManager(logger shared.LoggerAdapter, source DeviceSource) *MediaManager {
	return &MediaManager{logger: logger, source: source}
}

func (m *MediaManager) IsAudioOn() bool { return m.tracks.Audio != nil }
func (m *MediaManager) IsVideoOn() bool { return m.tracks.Video != nil }

func (m *MediaManager) Tracks() MediaTrackSet { return m.tracks }

// EnableAudio acquires the audio device. Enabling while already on returns
// the live track.
func (m *MediaManager) EnableAudio() (LocalTrack, error) {
	if m.tracks.Audio != nil {
		return m.tracks.Audio, nil
	}
	track, err := m.source.OpenAudio()
	if err != nil {
		return nil, &shared.MediaAccessError{Kind: "audio", Err: err}
	}
	m.tracks.Audio = track
	m.logger.Info("audio capture enabled", zap.String("track", track.ID()))
	return track, nil
}

// DisableAudio stops only the audio track; a live video track stays up.
func (m *MediaManager) DisableAudio() {
	if m.tracks.Audio == nil {
		return
	}
	if err := m.tracks.Audio.Stop(); err != nil {
		m.logger.Error("stopping audio track failed", err)
	}
	m.tracks.Audio = nil
	m.logger.Info("audio capture disabled")
}

func (m *MediaManager) EnableVideo() (LocalTrack, error) {
	if m.tracks.Video != nil {
		return m.tracks.Video, nil
	}
	track, err := m.source.OpenVideo()
	if err != nil {
		return nil, &shared.MediaAccessError{Kind: "video", Err: err}
	}
	m.tracks.Video = track
	m.logger.Info("video capture enabled", zap.String("track", track.ID()))
	return track, nil
}

func (m *MediaManager) DisableVideo() {
	if m.tracks.Video == nil {
		return
	}
	if err := m.tracks.Video.Stop(); err != nil {
		m.logger.Error("stopping video track failed", err)
	}
	m.tracks.Video = nil
	m.logger.Info("video capture disabled")
}

// AdoptAudio installs a track whose acquisition ran off the owning loop. If
// audio got enabled in the meantime the newcomer is stopped, keeping exactly
// one live track per kind.
func (m *MediaManager) AdoptAudio(track LocalTrack) {
	if m.tracks.Audio != nil {
		_ = track.Stop()
		return
	}
	m.tracks.Audio = track
	m.logger.Info("audio capture enabled", zap.String("track", track.ID()))
}

// AdoptVideo is AdoptAudio for the video kind.
func (m *MediaManager) AdoptVideo(track LocalTrack) {
	if m.tracks.Video != nil {
		_ = track.Stop()
		return
	}
	m.tracks.Video = track
	m.logger.Info("video capture enabled", zap.String("track", track.ID()))
}

// ToggleAudio flips the audio state. Returns the resulting state and, when
// turning on, the freshly opened track.
func (m *MediaManager) ToggleAudio() (on bool, track LocalTrack, err error) {
	if m.IsAudioOn() {
		m.DisableAudio()
		return false, nil, nil
	}
	track, err = m.EnableAudio()
	if err != nil {
		return false, nil, err
	}
	return true, track, nil
}

func (m *MediaManager) ToggleVideo() (on bool, track LocalTrack, err error) {
	if m.IsVideoOn() {
		m.DisableVideo()
		return false, nil, nil
	}
	track, err = m.EnableVideo()
	if err != nil {
		return false, nil, err
	}
	return true, track, nil
}

// StopAll releases every live device.
func (m *MediaManager) StopAll() {
	m.DisableAudio()
	m.DisableVideo()
}

// MediaDevicesSource opens capture devices through pion/mediadevices. The
// caller supplies the codec selector and constraints, which also decide which
// drivers must be registered (microphone, camera) and which encoders are
// available.
type MediaDevicesSource struct {
	Selector *mediadevices.CodecSelector
	Audio    func(*mediadevices.MediaTrackConstraints)
	Video    func(*mediadevices.MediaTrackConstraints)
}

var _ DeviceSource = (*MediaDevicesSource)(nil)

type deviceTrack struct {
	mediadevices.Track
}

func (t *deviceTrack) Stop() error { return t.Track.Close() }

func (s *MediaDevicesSource) OpenAudio() (LocalTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: s.Audio,
		Codec: s.Selector,
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no audio track in capture stream")
	}
	return &deviceTrack{Track: tracks[0]}, nil
}

func (s *MediaDevicesSource) OpenVideo() (LocalTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: s.Video,
		Codec: s.Selector,
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no video track in capture stream")
	}
	return &deviceTrack{Track: tracks[0]}, nil
}
