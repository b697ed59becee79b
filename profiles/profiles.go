// Package profiles holds the preset catalog: candidate output ladders,
// the conditions that pick one, and the concrete track specs a selected
// profile materializes to.
package profiles

import (
	"fmt"
	"math"
	"strconv"

	"github.com/just-work/video-transcoding/errors"
	"github.com/just-work/video-transcoding/video"
)

// Preset is the full catalog of candidate outputs for a job: ordered
// profile rules plus registries of named track specs.
type Preset struct {
	Video       []VideoProfile `json:"video"`
	Audio       []AudioProfile `json:"audio"`
	VideoTracks []VideoTrack   `json:"video_tracks"`
	AudioTracks []AudioTrack   `json:"audio_tracks"`
}

// VideoProfile is a selection rule: a condition over the source video
// stream and the track ids to emit when it matches.
type VideoProfile struct {
	Condition VideoCondition `json:"condition"`
	Tracks    []string       `json:"tracks"`
}

type AudioProfile struct {
	Condition AudioCondition `json:"condition"`
	Tracks    []string       `json:"tracks"`
}

// VideoCondition constrains the source video stream. Zero fields do not
// constrain; a condition matches when every constraint holds.
type VideoCondition struct {
	MinWidth     int64   `json:"min_width,omitempty"`
	MinHeight    int64   `json:"min_height,omitempty"`
	MinBitrate   int64   `json:"min_bitrate,omitempty"`
	MinFrameRate float64 `json:"min_frame_rate,omitempty"`
	MinDAR       float64 `json:"min_dar,omitempty"`
	MaxDAR       float64 `json:"max_dar,omitempty"`
}

func (c VideoCondition) Matches(s video.VideoStream) bool {
	return s.Width >= c.MinWidth &&
		s.Height >= c.MinHeight &&
		s.Bitrate >= c.MinBitrate &&
		s.FrameRate >= c.MinFrameRate &&
		s.DAR >= c.MinDAR &&
		(c.MaxDAR == 0 || s.DAR <= c.MaxDAR)
}

type AudioCondition struct {
	MinSampleRate int   `json:"min_sample_rate,omitempty"`
	MinBitrate    int64 `json:"min_bitrate,omitempty"`
	MinChannels   int   `json:"min_channels,omitempty"`
}

func (c AudioCondition) Matches(s video.AudioStream) bool {
	return s.SamplingRate >= c.MinSampleRate &&
		s.Bitrate >= c.MinBitrate &&
		s.Channels >= c.MinChannels
}

// VideoTrack is a concrete rendition spec, one output video stream.
type VideoTrack struct {
	ID                 string  `json:"id"`
	Codec              string  `json:"codec"`
	Preset             string  `json:"preset"`
	ConstantRateFactor int     `json:"constant_rate_factor"`
	MaxRate            int64   `json:"max_rate"`
	BufSize            int64   `json:"buf_size"`
	Profile            string  `json:"profile"`
	PixFmt             string  `json:"pix_fmt"`
	Width              int64   `json:"width"`
	Height             int64   `json:"height"`
	FrameRate          float64 `json:"frame_rate"`
	GopSize            int     `json:"gop_size"`
	ForceKeyFrames     string  `json:"force_key_frames,omitempty"`
}

type AudioTrack struct {
	ID         string `json:"id"`
	Codec      string `json:"codec"`
	Bitrate    int64  `json:"bitrate"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
}

// Container carries muxer options shared by every rendition.
type Container struct {
	SegmentDuration float64 `json:"segment_duration"`
}

// Profile is the subset of a preset chosen for a specific source:
// materialized track specs plus container options.
type Profile struct {
	Video     []VideoTrack `json:"video"`
	Audio     []AudioTrack `json:"audio"`
	Container Container    `json:"container"`
}

// Select picks the output ladder for a source: the first video profile
// whose condition the first video stream satisfies, the first audio
// profile likewise, materialized through the track registries. The
// segment duration is calibrated to the output frame rate before it is
// baked into keyframe expressions.
func Select(md video.Metadata, preset Preset, segmentDuration float64) (Profile, error) {
	videoSrc, err := md.FirstVideo()
	if err != nil {
		return Profile{}, err
	}
	audioSrc, err := md.FirstAudio()
	if err != nil {
		return Profile{}, err
	}

	var videoIDs []string
	for _, p := range preset.Video {
		if p.Condition.Matches(videoSrc) {
			videoIDs = p.Tracks
			break
		}
	}
	if videoIDs == nil {
		return Profile{}, errors.Newf(errors.Profile,
			"no video profile fits %dx%d @ %.3g fps",
			videoSrc.Width, videoSrc.Height, videoSrc.FrameRate)
	}

	var audioIDs []string
	for _, p := range preset.Audio {
		if p.Condition.Matches(audioSrc) {
			audioIDs = p.Tracks
			break
		}
	}
	if audioIDs == nil {
		return Profile{}, errors.Newf(errors.Profile,
			"no audio profile fits %d Hz @ %d bps",
			audioSrc.SamplingRate, audioSrc.Bitrate)
	}

	profile := Profile{}
	for _, id := range videoIDs {
		track, ok := preset.videoTrack(id)
		if !ok {
			return Profile{}, errors.Newf(errors.Profile, "unknown video track %q", id)
		}
		profile.Video = append(profile.Video, track)
	}
	for _, id := range audioIDs {
		track, ok := preset.audioTrack(id)
		if !ok {
			return Profile{}, errors.Newf(errors.Profile, "unknown audio track %q", id)
		}
		profile.Audio = append(profile.Audio, track)
	}

	if len(profile.Video) == 0 {
		return Profile{}, errors.New(errors.Profile, "selected video profile has no tracks")
	}
	duration := CalibrateSegmentDuration(segmentDuration, profile.Video[0].FrameRate)
	profile.Container.SegmentDuration = duration
	for i := range profile.Video {
		if profile.Video[i].ForceKeyFrames == "" {
			profile.Video[i].ForceKeyFrames = KeyFrames(duration)
		}
	}
	return profile, nil
}

func (p Preset) videoTrack(id string) (VideoTrack, bool) {
	for _, t := range p.VideoTracks {
		if t.ID == id {
			return t, true
		}
	}
	return VideoTrack{}, false
}

func (p Preset) audioTrack(id string) (AudioTrack, bool) {
	for _, t := range p.AudioTracks {
		if t.ID == id {
			return t, true
		}
	}
	return AudioTrack{}, false
}

// CalibrateSegmentDuration snaps the configured segment length to a
// whole number of frame periods, so forced keyframes land exactly on
// segment boundaries and the muxer never has to cut mid-GOP.
func CalibrateSegmentDuration(target, frameRate float64) float64 {
	if target <= 0 || frameRate <= 0 {
		return target
	}
	frames := math.Round(target * frameRate)
	if frames < 1 {
		frames = 1
	}
	return frames / frameRate
}

// KeyFrames renders the force_key_frames expression pinning keyframes
// to the segment cadence.
func KeyFrames(segmentDuration float64) string {
	return fmt.Sprintf("expr:if(isnan(prev_forced_t),1,gte(t,prev_forced_t+%s))",
		formatSeconds(segmentDuration))
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
