package encoder

import (
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Splitter slices the source into fixed-duration chunks without
// re-encoding. Video and audio go to separate chunk sets, each indexed by
// an m3u8 playlist the later stages read back. Timestamps are carried over
// verbatim so chunk boundaries stay aligned across both sets.
type Splitter struct {
	// Source is the mezzanine address.
	Source string
	// SourcesDir is the collection chunks and playlists land in.
	SourcesDir string
	// ChunkDuration is the target chunk length in seconds.
	ChunkDuration float64
}

func (s Splitter) Graph() *ffmpeg.Stream {
	in := ffmpeg.Input(s.Source)
	video := ffmpeg.Output(
		[]*ffmpeg.Stream{in.Get("v")},
		s.SourcesDir+"/"+sourceVideoChunks,
		s.outputArgs(s.SourcesDir+"/"+SourceVideoPlaylist),
	)
	audio := ffmpeg.Output(
		[]*ffmpeg.Stream{in.Get("a")},
		s.SourcesDir+"/"+sourceAudioChunks,
		s.outputArgs(s.SourcesDir+"/"+SourceAudioPlaylist),
	)
	return ffmpeg.MergeOutputs(video, audio)
}

func (s Splitter) outputArgs(playlist string) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"c":                 "copy",
		"f":                 "segment",
		"segment_format":    ChunkFormat,
		"segment_list":      playlist,
		"segment_list_type": "m3u8",
		"segment_time":      formatFloat(s.ChunkDuration),
		"copyts":            "",
		"avoid_negative_ts": "disabled",
	}
}
