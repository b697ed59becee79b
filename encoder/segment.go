package encoder

import (
	"fmt"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/just-work/video-transcoding/profiles"
)

// Segmentor muxes the transcoded chunks and the source audio into an HLS
// package next to the destination master playlist. Video renditions are
// stream-copied from the chunks, audio renditions are encoded here, once
// for the whole video.
type Segmentor struct {
	// VideoSource is the ffconcat list enumerating transcoded chunks.
	VideoSource string
	// AudioSource is the audio chunk playlist from the split stage.
	AudioSource string
	// Dst is the master playlist address. Variant playlists and segments
	// are written beside it.
	Dst     string
	Profile profiles.Profile
}

func (s Segmentor) Graph() *ffmpeg.Stream {
	video := ffmpeg.Input(s.VideoSource, ffmpeg.KwArgs{"f": "concat"})
	audio := ffmpeg.Input(s.AudioSource, ffmpeg.KwArgs{"allowed_extensions": ChunkFormat})

	// Every variant needs its own output stream, so each audio group maps
	// the full set of video renditions again.
	var mapped []*ffmpeg.Stream
	for range s.Profile.Audio {
		for i := range s.Profile.Video {
			mapped = append(mapped, video.Get(fmt.Sprintf("v:%d", i)))
		}
	}
	for i := range s.Profile.Audio {
		mapped = append(mapped, audio.Get(fmt.Sprintf("a:%d", i)))
	}

	dir, master := splitTarget(s.Dst)
	args := ffmpeg.KwArgs{
		"c:v":                  "copy",
		"f":                    "hls",
		"hls_time":             formatFloat(s.Profile.Container.SegmentDuration),
		"hls_playlist_type":    "vod",
		"hls_segment_filename": dir + "/" + segmentTemplate,
		"master_pl_name":       master,
		"muxdelay":             "0",
		"var_stream_map":       buildVarStreamMap(s.Profile),
	}
	for i, track := range s.Profile.Audio {
		spec := fmt.Sprintf(":a:%d", i)
		args["c"+spec] = track.Codec
		args["b"+spec] = strconv.FormatInt(track.Bitrate, 10)
		args["ac"+spec] = strconv.Itoa(track.Channels)
		args["ar"+spec] = strconv.Itoa(track.SampleRate)
	}
	return ffmpeg.Output(mapped, dir+"/"+variantTemplate, args)
}

// buildVarStreamMap pairs every video rendition with every audio group and
// tags each variant with the bandwidth of its video track. The first audio
// rendition is the default one.
func buildVarStreamMap(profile profiles.Profile) string {
	entries := make([]string, 0, len(profile.Audio)*len(profile.Video)+len(profile.Audio))
	variant := 0
	for group := range profile.Audio {
		for _, track := range profile.Video {
			entries = append(entries,
				fmt.Sprintf("v:%d,agroup:audio-%d,b:%d", variant, group, track.MaxRate))
			variant++
		}
	}
	for group := range profile.Audio {
		entry := fmt.Sprintf("a:%d,agroup:audio-%d", group, group)
		if group == 0 {
			entry += ",default:yes"
		}
		entries = append(entries, entry)
	}
	return strings.Join(entries, " ")
}

// splitTarget separates the master playlist name from its collection.
// path.Dir is no use here, it collapses the double slash after the scheme.
func splitTarget(dst string) (dir, name string) {
	if i := strings.LastIndex(dst, "/"); i >= 0 {
		return dst[:i], dst[i+1:]
	}
	return ".", dst
}
