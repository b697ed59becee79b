package encoder

import (
	"fmt"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/just-work/video-transcoding/profiles"
)

// Transcoder turns one source chunk into one MPEG-TS chunk holding every
// video rendition. The input stream is fanned out with a split filter and
// scaled per rendition; audio is left to the segment stage. Timestamps are
// preserved so transcoded chunks concatenate without gaps.
type Transcoder struct {
	// Source is a chunk produced by the split stage.
	Source string
	// Dst is where the transcoded chunk is written.
	Dst string
	// Video lists the renditions to produce, in output stream order.
	Video []profiles.VideoTrack
}

func (t Transcoder) Graph() *ffmpeg.Stream {
	in := ffmpeg.Input(t.Source, ffmpeg.KwArgs{"allowed_extensions": ChunkFormat})
	split := in.Get("v").Split()

	args := ffmpeg.KwArgs{
		"an":                "",
		"f":                 "mpegts",
		"copyts":            "",
		"muxdelay":          "0",
		"avoid_negative_ts": "disabled",
	}
	outs := make([]*ffmpeg.Stream, len(t.Video))
	for i, track := range t.Video {
		outs[i] = split.Get(strconv.Itoa(i)).
			Filter("scale", ffmpeg.Args{fmt.Sprintf("%d:%d", track.Width, track.Height)})
		videoArgs(args, i, track)
	}
	return ffmpeg.Output(outs, t.Dst, args)
}

// videoArgs adds the per-stream codec options of one rendition. Optional
// track fields stay off the command line so ffmpeg applies its own
// defaults.
func videoArgs(args ffmpeg.KwArgs, i int, track profiles.VideoTrack) {
	spec := fmt.Sprintf(":v:%d", i)
	args["c"+spec] = track.Codec
	args["maxrate"+spec] = strconv.FormatInt(track.MaxRate, 10)
	args["bufsize"+spec] = strconv.FormatInt(track.BufSize, 10)
	args["r"+spec] = formatFloat(track.FrameRate)
	if track.ConstantRateFactor > 0 {
		args["crf"+spec] = strconv.Itoa(track.ConstantRateFactor)
	}
	if track.Preset != "" {
		args["preset"+spec] = track.Preset
	}
	if track.Profile != "" {
		args["profile"+spec] = track.Profile
	}
	if track.PixFmt != "" {
		args["pix_fmt"+spec] = track.PixFmt
	}
	if track.GopSize > 0 {
		args["g"+spec] = strconv.Itoa(track.GopSize)
	}
	if track.ForceKeyFrames != "" {
		args["force_key_frames"+spec] = track.ForceKeyFrames
	}
}
