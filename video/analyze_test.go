package video

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"

	"github.com/just-work/video-transcoding/errors"
)

func TestParseRejectsMissingFormat(t *testing.T) {
	_, err := NewSourceAnalyzer().parse("file:///in.mp4", &ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{{CodecType: "video"}},
	})
	require.ErrorContains(t, err, "format information missing")
}

func TestParseSource(t *testing.T) {
	md, err := NewSourceAnalyzer().parse("file:///in.mp4", &ffprobe.ProbeData{
		Format: &ffprobe.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2"},
		Streams: []*ffprobe.Stream{
			{
				CodecType:          "video",
				Width:              1920,
				Height:             1080,
				SampleAspectRatio:  "1:1",
				DisplayAspectRatio: "16:9",
				AvgFrameRate:       "30/1",
				Duration:           "12.000000",
				BitRate:            "5000000",
				NbFrames:           "360",
				StartTime:          "0.000000",
			},
			{
				CodecType:  "audio",
				Channels:   2,
				SampleRate: "48000",
				BitRate:    "192000",
				Duration:   "12.000000",
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, MetadataVersion, md.Version)
	require.Equal(t, "file:///in.mp4", md.URI)

	require.Len(t, md.Videos, 1)
	v := md.Videos[0]
	require.EqualValues(t, 1920, v.Width)
	require.EqualValues(t, 1080, v.Height)
	require.InDelta(t, 1.0, v.PAR, 1e-9)
	require.InDelta(t, 16.0/9.0, v.DAR, 1e-3)
	require.InDelta(t, 30.0, v.FrameRate, 1e-9)
	require.EqualValues(t, 360, v.Frames)
	require.EqualValues(t, 5000000, v.Bitrate)
	require.InDelta(t, 12.0, v.Duration, 1e-9)

	require.Len(t, md.Audios, 1)
	a := md.Audios[0]
	require.Equal(t, 2, a.Channels)
	require.Equal(t, 48000, a.SamplingRate)
	require.EqualValues(t, 576000, a.SampleCount)
}

func TestParseSkipsCoverArt(t *testing.T) {
	md, err := NewSourceAnalyzer().parse("file:///in.mp4", &ffprobe.ProbeData{
		Format: &ffprobe.Format{},
		Streams: []*ffprobe.Stream{
			{
				CodecType:   "video",
				CodecName:   "mjpeg",
				Disposition: ffprobe.StreamDisposition{AttachedPic: 1},
			},
			{
				CodecType:    "video",
				Width:        1280,
				Height:       720,
				AvgFrameRate: "25/1",
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, md.Videos, 1)
	require.EqualValues(t, 1280, md.Videos[0].Width)
}

func TestParseRejectsMissingGeometry(t *testing.T) {
	_, err := NewSourceAnalyzer().parse("file:///in.mp4", &ffprobe.ProbeData{
		Format: &ffprobe.Format{},
		Streams: []*ffprobe.Stream{
			{CodecType: "video", Height: 720, AvgFrameRate: "25/1"},
		},
	})
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.Analyze))
	require.ErrorContains(t, err, "no geometry")
}

func TestParsePlaylistDurationFallback(t *testing.T) {
	analyzer := NewPlaylistAnalyzer("nut")
	md, err := analyzer.parse("file:///sources/source-video.m3u8", &ffprobe.ProbeData{
		Format: &ffprobe.Format{FormatName: "hls", DurationSeconds: 300},
		Streams: []*ffprobe.Stream{
			{CodecType: "video", Width: 1920, Height: 1080, AvgFrameRate: "30/1"},
		},
	})
	require.NoError(t, err)
	require.InDelta(t, 300.0, md.Videos[0].Duration, 1e-9)
	// bitrate has no container fallback for playlists
	require.Zero(t, md.Videos[0].Bitrate)

	// two streams: the container value describes neither of them
	md, err = analyzer.parse("file:///sources/source.m3u8", &ffprobe.ProbeData{
		Format: &ffprobe.Format{FormatName: "hls", DurationSeconds: 300},
		Streams: []*ffprobe.Stream{
			{CodecType: "video", Width: 1920, Height: 1080, AvgFrameRate: "30/1"},
			{CodecType: "audio", Channels: 2, SampleRate: "48000"},
		},
	})
	require.NoError(t, err)
	require.Zero(t, md.Videos[0].Duration)
}

func TestParseSegmentBitrateFallback(t *testing.T) {
	md, err := NewSegmentAnalyzer("nut").parse("file:///results/source-video-00000.nut", &ffprobe.ProbeData{
		Format: &ffprobe.Format{FormatName: "mpegts", DurationSeconds: 60, BitRate: "3200000"},
		Streams: []*ffprobe.Stream{
			{CodecType: "video", Width: 1920, Height: 1080, AvgFrameRate: "30/1"},
		},
	})
	require.NoError(t, err)
	require.EqualValues(t, 3200000, md.Videos[0].Bitrate)
	require.InDelta(t, 60.0, md.Videos[0].Duration, 1e-9)
	// frames reconstructed from duration and rate
	require.EqualValues(t, 1800, md.Videos[0].Frames)
}

func TestParseHLSTree(t *testing.T) {
	md, err := NewHLSAnalyzer().parse("http://edge/results/b0/index.m3u8", &ffprobe.ProbeData{
		Format: &ffprobe.Format{FormatName: "hls"},
		Streams: []*ffprobe.Stream{
			{
				CodecType:    "video",
				Index:        0,
				Width:        1920,
				Height:       1080,
				AvgFrameRate: "30/1",
				TagList:      ffprobe.Tags{"variant_bitrate": "5500000"},
			},
			{
				CodecType:  "audio",
				Index:      1,
				Channels:   2,
				SampleRate: "48000",
				TagList:    ffprobe.Tags{"variant_bitrate": "211200", "comment": "audio-0"},
			},
			{
				CodecType:  "audio",
				Index:      2,
				Channels:   2,
				SampleRate: "48000",
				TagList:    ffprobe.Tags{"variant_bitrate": "211200"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, md.Videos, 1)
	// variant_bitrate with the 10% container overhead stripped
	require.Equal(t, int64(4999999), md.Videos[0].Bitrate)
	// the tagged alternative-group rendition is dropped
	require.Len(t, md.Audios, 1)
	require.Equal(t, int64(191999), md.Audios[0].Bitrate)
}

func TestParseFps(t *testing.T) {
	fps, err := parseFps("30000/1001")
	require.NoError(t, err)
	require.InDelta(t, 29.97, fps, 0.001)

	fps, err = parseFps("25")
	require.NoError(t, err)
	require.InDelta(t, 25.0, fps, 1e-9)

	fps, err = parseFps("")
	require.NoError(t, err)
	require.Zero(t, fps)

	fps, err = parseFps("0/0")
	require.NoError(t, err)
	require.Zero(t, fps)

	_, err = parseFps("30/0")
	require.ErrorContains(t, err, "denominator")

	_, err = parseFps("x/1")
	require.Error(t, err)
}

func TestParseRatio(t *testing.T) {
	require.InDelta(t, 16.0/9.0, parseRatio("16:9"), 1e-9)
	require.InDelta(t, 4.0/3.0, parseRatio("4/3"), 1e-9)
	require.InDelta(t, 1.333, parseRatio("1.333"), 1e-9)
	require.Zero(t, parseRatio(""))
	require.Zero(t, parseRatio("0:1"))
	require.Zero(t, parseRatio("N/A"))
}

func TestDecodeTagsWeakTyping(t *testing.T) {
	tags, err := decodeTags(ffprobe.Tags{
		"comment":         "audio-0",
		"variant_bitrate": "439200",
	})
	require.NoError(t, err)
	require.Equal(t, "audio-0", tags.Comment)
	require.EqualValues(t, 439200, tags.VariantBitrate)

	tags, err = decodeTags(ffprobe.Tags{"variant_bitrate": float64(96000)})
	require.NoError(t, err)
	require.EqualValues(t, 96000, tags.VariantBitrate)
}
