package profiles

// Encoder defaults shared by the built-in ladder.
const (
	DefaultFrameRate   = 30
	DefaultGopDuration = 2 // seconds
)

// DefaultPreset is the ladder used when a job references no preset:
// four H.264 renditions from 1080p down to 360p and two AAC renditions.
// Sources below 640x360 match no profile and are rejected.
var DefaultPreset = Preset{
	Video: []VideoProfile{
		{
			Condition: VideoCondition{MinWidth: 1920, MinHeight: 1080},
			Tracks:    []string{"1080p", "720p", "480p", "360p"},
		},
		{
			Condition: VideoCondition{MinWidth: 1280, MinHeight: 720},
			Tracks:    []string{"720p", "480p", "360p"},
		},
		{
			Condition: VideoCondition{MinWidth: 854, MinHeight: 480},
			Tracks:    []string{"480p", "360p"},
		},
		{
			Condition: VideoCondition{MinWidth: 640, MinHeight: 360},
			Tracks:    []string{"360p"},
		},
	},
	Audio: []AudioProfile{
		{
			Condition: AudioCondition{MinBitrate: 128_000},
			Tracks:    []string{"192k"},
		},
		{
			Condition: AudioCondition{},
			Tracks:    []string{"96k"},
		},
	},
	VideoTracks: []VideoTrack{
		{
			ID:                 "1080p",
			Codec:              "libx264",
			Preset:             "slow",
			ConstantRateFactor: 23,
			MaxRate:            5_000_000,
			BufSize:            10_000_000,
			Profile:            "high",
			PixFmt:             "yuv420p",
			Width:              1920,
			Height:             1080,
			FrameRate:          DefaultFrameRate,
			GopSize:            DefaultGopDuration * DefaultFrameRate,
		},
		{
			ID:                 "720p",
			Codec:              "libx264",
			Preset:             "slow",
			ConstantRateFactor: 23,
			MaxRate:            3_000_000,
			BufSize:            6_000_000,
			Profile:            "high",
			PixFmt:             "yuv420p",
			Width:              1280,
			Height:             720,
			FrameRate:          DefaultFrameRate,
			GopSize:            DefaultGopDuration * DefaultFrameRate,
		},
		{
			ID:                 "480p",
			Codec:              "libx264",
			Preset:             "slow",
			ConstantRateFactor: 23,
			MaxRate:            1_500_000,
			BufSize:            3_000_000,
			Profile:            "main",
			PixFmt:             "yuv420p",
			Width:              854,
			Height:             480,
			FrameRate:          DefaultFrameRate,
			GopSize:            DefaultGopDuration * DefaultFrameRate,
		},
		{
			ID:                 "360p",
			Codec:              "libx264",
			Preset:             "slow",
			ConstantRateFactor: 23,
			MaxRate:            800_000,
			BufSize:            1_600_000,
			Profile:            "main",
			PixFmt:             "yuv420p",
			Width:              640,
			Height:             360,
			FrameRate:          DefaultFrameRate,
			GopSize:            DefaultGopDuration * DefaultFrameRate,
		},
	},
	AudioTracks: []AudioTrack{
		{
			ID:         "192k",
			Codec:      "aac",
			Bitrate:    192_000,
			Channels:   2,
			SampleRate: 48_000,
		},
		{
			ID:         "96k",
			Codec:      "aac",
			Bitrate:    96_000,
			Channels:   2,
			SampleRate: 48_000,
		},
	},
}
