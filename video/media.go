package video

import (
	"fmt"

	"github.com/just-work/video-transcoding/errors"
)

// MetadataVersion tags persisted metadata documents so stored sentinels
// from an older worker generation are recognizable.
const MetadataVersion = 1

// Scene is a continuous fragment of a stream: where it came from, where
// it starts there, and where it sits in the assembled timeline.
type Scene struct {
	Stream   string  `json:"stream"`
	Duration float64 `json:"duration"`
	Start    float64 `json:"start"`
	Position float64 `json:"position"`
}

type VideoStream struct {
	Width     int64    `json:"width"`
	Height    int64    `json:"height"`
	PAR       float64  `json:"par"`
	DAR       float64  `json:"dar"`
	FrameRate float64  `json:"frame_rate"`
	Frames    int64    `json:"frames"`
	Bitrate   int64    `json:"bitrate"`
	Duration  float64  `json:"duration"`
	Start     float64  `json:"start,omitempty"`
	Streams   []string `json:"streams,omitempty"`
	Scenes    []Scene  `json:"scenes,omitempty"`
}

type AudioStream struct {
	Channels     int      `json:"channels"`
	SamplingRate int      `json:"sampling_rate"`
	SampleCount  int64    `json:"samples"`
	Bitrate      int64    `json:"bitrate"`
	Duration     float64  `json:"duration"`
	Start        float64  `json:"start,omitempty"`
	Streams      []string `json:"streams,omitempty"`
	Scenes       []Scene  `json:"scenes,omitempty"`
}

// Metadata describes one media resource: every video and audio stream
// found in it, normalized per the rules in normalize.go.
type Metadata struct {
	Version int           `json:"version,omitempty"`
	URI     string        `json:"uri,omitempty"`
	Videos  []VideoStream `json:"videos"`
	Audios  []AudioStream `json:"audios"`
}

// Duration is the length of the longest stream.
func (m Metadata) Duration() float64 {
	var max float64
	for _, v := range m.Videos {
		if v.Duration > max {
			max = v.Duration
		}
	}
	for _, a := range m.Audios {
		if a.Duration > max {
			max = a.Duration
		}
	}
	return max
}

// MinDuration is the length of the shortest stream, the playable length of
// a finished package.
func (m Metadata) MinDuration() float64 {
	min := m.Duration()
	for _, v := range m.Videos {
		if v.Duration < min {
			min = v.Duration
		}
	}
	for _, a := range m.Audios {
		if a.Duration < min {
			min = a.Duration
		}
	}
	return min
}

func (m Metadata) FirstVideo() (VideoStream, error) {
	if len(m.Videos) == 0 {
		return VideoStream{}, errors.New(errors.Analyze, "no video stream found")
	}
	return m.Videos[0], nil
}

func (m Metadata) FirstAudio() (AudioStream, error) {
	if len(m.Audios) == 0 {
		return AudioStream{}, errors.New(errors.Analyze, "no audio stream found")
	}
	return m.Audios[0], nil
}

// Cleaned strips scene lists, source stream references and start offsets,
// leaving the compact form stored with a finished job.
func (m Metadata) Cleaned() Metadata {
	out := m
	out.Videos = make([]VideoStream, len(m.Videos))
	for i, v := range m.Videos {
		v.Scenes, v.Streams, v.Start = nil, nil, 0
		out.Videos[i] = v
	}
	out.Audios = make([]AudioStream, len(m.Audios))
	for i, a := range m.Audios {
		a.Scenes, a.Streams, a.Start = nil, nil, 0
		out.Audios[i] = a
	}
	return out
}

// Merge folds per-chunk metadata into whole-video metadata. Streams pair
// position-wise across chunks; durations, frames and samples add up,
// scenes concatenate with positions shifted to the assembled timeline.
// Bitrates are not computed from chunks, they come from the source.
func Merge(chunks []Metadata, source Metadata) (Metadata, error) {
	if len(chunks) == 0 {
		return Metadata{}, errors.New(errors.Analyze, "no chunk metadata to merge")
	}
	merged := Metadata{
		Version: MetadataVersion,
		URI:     source.URI,
		Videos:  make([]VideoStream, len(chunks[0].Videos)),
		Audios:  make([]AudioStream, len(chunks[0].Audios)),
	}
	for i := range chunks[0].Videos {
		v := chunks[0].Videos[i]
		v.Duration, v.Frames, v.Scenes = 0, 0, nil
		for n, c := range chunks {
			if i >= len(c.Videos) {
				return Metadata{}, errors.Newf(errors.Analyze,
					"chunk %d misses video stream %d", n, i)
			}
			s := c.Videos[i]
			for _, scene := range s.Scenes {
				scene.Position += v.Duration
				v.Scenes = append(v.Scenes, scene)
			}
			v.Duration += s.Duration
			v.Frames += s.Frames
		}
		if n := pairedSource(i, len(source.Videos)); n >= 0 && source.Videos[n].Bitrate != 0 {
			v.Bitrate = source.Videos[n].Bitrate
		}
		merged.Videos[i] = v
	}
	for i := range chunks[0].Audios {
		a := chunks[0].Audios[i]
		a.Duration, a.SampleCount, a.Scenes = 0, 0, nil
		for n, c := range chunks {
			if i >= len(c.Audios) {
				return Metadata{}, errors.Newf(errors.Analyze,
					"chunk %d misses audio stream %d", n, i)
			}
			s := c.Audios[i]
			for _, scene := range s.Scenes {
				scene.Position += a.Duration
				a.Scenes = append(a.Scenes, scene)
			}
			a.Duration += s.Duration
			a.SampleCount += s.SampleCount
		}
		if n := pairedSource(i, len(source.Audios)); n >= 0 && source.Audios[n].Bitrate != 0 {
			a.Bitrate = source.Audios[n].Bitrate
		}
		merged.Audios[i] = a
	}
	return merged, nil
}

// pairedSource maps rendition position i to a source stream index;
// renditions beyond the source stream count share the last one.
func pairedSource(i, count int) int {
	if count == 0 {
		return -1
	}
	if i >= count {
		return count - 1
	}
	return i
}

// Validate checks a transcoding result against its source: the output
// must cover at least minRatio of the source duration.
func Validate(src, dst Metadata, minRatio float64) error {
	srcDuration := src.Duration()
	dstDuration := dst.Duration()
	if dstDuration < srcDuration*minRatio {
		return errors.New(errors.Validation, fmt.Sprintf(
			"duration %.2fs is below %.0f%% of source %.2fs",
			dstDuration, minRatio*100, srcDuration))
	}
	return nil
}
