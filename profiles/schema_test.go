package profiles

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/just-work/video-transcoding/errors"
)

const presetDocument = `{
	"video": [
		{"condition": {"min_width": 1280, "min_height": 720}, "tracks": ["hd"]},
		{"tracks": ["sd"]}
	],
	"audio": [
		{"tracks": ["stereo"]}
	],
	"video_tracks": [
		{
			"id": "hd", "codec": "libx264", "preset": "slow",
			"constant_rate_factor": 23, "max_rate": 3000000, "buf_size": 6000000,
			"profile": "high", "pix_fmt": "yuv420p",
			"width": 1280, "height": 720, "frame_rate": 30, "gop_size": 60
		},
		{
			"id": "sd", "codec": "libx264",
			"max_rate": 800000, "buf_size": 1600000,
			"width": 640, "height": 360, "frame_rate": 30
		}
	],
	"audio_tracks": [
		{"id": "stereo", "codec": "aac", "bitrate": 128000, "channels": 2, "sample_rate": 44100}
	]
}`

func TestDecode(t *testing.T) {
	preset, err := Decode([]byte(presetDocument))
	require.NoError(t, err)
	require.Len(t, preset.Video, 2)
	require.EqualValues(t, 1280, preset.Video[0].Condition.MinWidth)
	require.Equal(t, []string{"hd"}, preset.Video[0].Tracks)
	require.Len(t, preset.VideoTracks, 2)
	require.EqualValues(t, 3_000_000, preset.VideoTracks[0].MaxRate)
	require.Equal(t, "aac", preset.AudioTracks[0].Codec)
}

func TestDecodeRejectsInvalidDocument(t *testing.T) {
	// not even JSON
	_, err := Decode([]byte("ffmpeg"))
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.Profile))

	// missing registries
	_, err = Decode([]byte(`{"video": [{"tracks": ["hd"]}], "audio": [{"tracks": ["a"]}]}`))
	require.ErrorContains(t, err, "invalid preset")
	require.True(t, errors.IsKind(err, errors.Profile))

	// tracks must be an array
	_, err = Decode([]byte(`{
		"video": [{"tracks": "hd"}],
		"audio": [{"tracks": ["a"]}],
		"video_tracks": [{"id": "hd", "codec": "libx264", "max_rate": 1, "buf_size": 1, "width": 1, "height": 1, "frame_rate": 30}],
		"audio_tracks": [{"id": "a", "codec": "aac", "bitrate": 1, "channels": 2, "sample_rate": 48000}]
	}`))
	require.ErrorContains(t, err, "invalid preset")
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.yaml")
	doc := `video:
  - tracks: [hd]
audio:
  - tracks: [stereo]
video_tracks:
  - id: hd
    codec: libx264
    max_rate: 3000000
    buf_size: 6000000
    width: 1280
    height: 720
    frame_rate: 30
audio_tracks:
  - id: stereo
    codec: aac
    bitrate: 128000
    channels: 2
    sample_rate: 44100
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	preset, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hd", preset.VideoTracks[0].ID)
	require.EqualValues(t, 128_000, preset.AudioTracks[0].Bitrate)
}

func TestLoadFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.json")
	require.NoError(t, os.WriteFile(path, []byte(presetDocument), 0o644))

	preset, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, preset.VideoTracks, 2)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "reading preset file")
}

func TestDefaultPresetRoundTrips(t *testing.T) {
	// the built-in ladder must satisfy its own schema
	data, err := json.Marshal(DefaultPreset)
	require.NoError(t, err)
	back, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, DefaultPreset, back)
}
