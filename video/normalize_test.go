package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAspect(t *testing.T) {
	// contradictory triple: pixel aspect wins, display aspect recomputed
	s := VideoStream{Width: 1920, Height: 1080, PAR: 2, DAR: 16.0 / 9.0}
	normalizeAspect(&s)
	require.InDelta(t, 2.0, s.PAR, 1e-9)
	require.InDelta(t, 32.0/9.0, s.DAR, 1e-3)

	// consistent triple stays put
	s = VideoStream{Width: 1920, Height: 1080, PAR: 1, DAR: 16.0 / 9.0}
	normalizeAspect(&s)
	require.InDelta(t, 16.0/9.0, s.DAR, 1e-9)

	// missing display aspect
	s = VideoStream{Width: 1440, Height: 1080, PAR: 4.0 / 3.0}
	normalizeAspect(&s)
	require.InDelta(t, 16.0/9.0, s.DAR, 1e-3)

	// missing pixel aspect
	s = VideoStream{Width: 1920, Height: 1080, DAR: 16.0 / 9.0}
	normalizeAspect(&s)
	require.InDelta(t, 1.0, s.PAR, 1e-3)

	// nothing probed: square pixels assumed
	s = VideoStream{Width: 1280, Height: 720}
	normalizeAspect(&s)
	require.InDelta(t, 1.0, s.PAR, 1e-9)
	require.InDelta(t, 16.0/9.0, s.DAR, 1e-9)
}

func TestNormalizeFrames(t *testing.T) {
	// frames from duration and rate
	s := VideoStream{Duration: 4, FrameRate: 25}
	normalizeFrames(&s)
	require.EqualValues(t, 100, s.Frames)

	// rate from duration and frames
	s = VideoStream{Duration: 4, Frames: 100}
	normalizeFrames(&s)
	require.InDelta(t, 25.0, s.FrameRate, 1e-9)

	// duration from frames and rate
	s = VideoStream{FrameRate: 25, Frames: 100}
	normalizeFrames(&s)
	require.InDelta(t, 4.0, s.Duration, 1e-9)

	// inconsistent by more than a frame: rate recomputed
	s = VideoStream{Duration: 4, FrameRate: 30, Frames: 100}
	normalizeFrames(&s)
	require.InDelta(t, 25.0, s.FrameRate, 1e-9)

	// off by less than a frame: left alone
	s = VideoStream{Duration: 4, FrameRate: 25, Frames: 100}
	normalizeFrames(&s)
	require.InDelta(t, 25.0, s.FrameRate, 1e-9)

	// one field alone cannot seed the others
	s = VideoStream{Duration: 4}
	normalizeFrames(&s)
	require.Zero(t, s.Frames)
	require.Zero(t, s.FrameRate)
}

func TestNormalizeAudio(t *testing.T) {
	s := AudioStream{Duration: 4, SamplingRate: 48000}
	normalizeAudio(&s)
	require.EqualValues(t, 192000, s.SampleCount)

	s = AudioStream{SampleCount: 192000, SamplingRate: 48000}
	normalizeAudio(&s)
	require.InDelta(t, 4.0, s.Duration, 1e-9)

	s = AudioStream{Duration: 4, SampleCount: 192000}
	normalizeAudio(&s)
	require.Equal(t, 48000, s.SamplingRate)

	// count contradicting duration*rate by more than a sample is
	// recomputed from the trustworthy pair
	s = AudioStream{Duration: 4, SamplingRate: 48000, SampleCount: 100}
	normalizeAudio(&s)
	require.EqualValues(t, 192000, s.SampleCount)

	// off by a single sample: left alone
	s = AudioStream{Duration: 4, SamplingRate: 48000, SampleCount: 192001}
	normalizeAudio(&s)
	require.EqualValues(t, 192001, s.SampleCount)
}
