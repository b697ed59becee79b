package video

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/vansante/go-ffprobe.v2"

	"github.com/just-work/video-transcoding/errors"
	"github.com/just-work/video-transcoding/log"
)

const (
	probeTimeout = 60 * time.Second
	probeRetries = 3
)

// Prober yields normalized metadata for a media URI.
type Prober interface {
	Probe(ctx context.Context, uri string) (Metadata, error)
}

// Analyzer probes media with ffprobe and adapts the raw stream data to
// the Metadata model. The zero value suits plain sources; the
// constructors below add the fallbacks each pipeline artifact needs.
type Analyzer struct {
	// extraOptions go on the ffprobe command line ahead of the URI,
	// demuxer switches mostly.
	extraOptions []string

	// single-stream media may borrow duration or bitrate from the
	// container when the demuxer loses per-stream values
	durationFromContainer bool
	bitrateFromContainer  bool

	// adaptive trees carry alternative-group audio and variant
	// bitrates in stream tags
	skipGroupAudio     bool
	bitrateFromVariant bool
}

// NewSourceAnalyzer probes mezzanine sources as they come.
func NewSourceAnalyzer() *Analyzer {
	return &Analyzer{}
}

// NewPlaylistAnalyzer probes m3u8 playlists whose segments use a
// non-standard extension.
func NewPlaylistAnalyzer(extensions string) *Analyzer {
	return &Analyzer{
		extraOptions:          []string{"-allowed_extensions", extensions},
		durationFromContainer: true,
	}
}

// NewSegmentAnalyzer probes single chunks cut by the splitter.
func NewSegmentAnalyzer(extensions string) *Analyzer {
	return &Analyzer{
		extraOptions:          []string{"-allowed_extensions", extensions},
		durationFromContainer: true,
		bitrateFromContainer:  true,
	}
}

// NewHLSAnalyzer probes the published tree through its master playlist.
func NewHLSAnalyzer() *Analyzer {
	return &Analyzer{
		skipGroupAudio:     true,
		bitrateFromVariant: true,
	}
}

func (a *Analyzer) Probe(ctx context.Context, uri string) (Metadata, error) {
	opts := append([]string{"-loglevel", "error"}, a.extraOptions...)
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(ctx, probeTimeout)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, uri, opts...)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // retries are bounded by count, not time
	err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, probeRetries))
	if err != nil {
		kind := errors.Analyze
		if ctx.Err() != nil {
			kind = errors.Canceled
		}
		return Metadata{}, errors.Wrap(kind, err, "probing "+log.RedactURL(uri))
	}
	return a.parse(uri, data)
}

func (a *Analyzer) parse(uri string, data *ffprobe.ProbeData) (Metadata, error) {
	if data.Format == nil {
		return Metadata{}, errors.New(errors.Analyze, "format information missing")
	}
	md := Metadata{Version: MetadataVersion, URI: uri}
	single := len(data.Streams) == 1
	for _, stream := range data.Streams {
		tags, err := decodeTags(stream.TagList)
		if err != nil {
			return Metadata{}, errors.Wrap(errors.Analyze, err,
				fmt.Sprintf("decoding tags of stream %d", stream.Index))
		}
		switch stream.CodecType {
		case "video":
			if stream.Disposition.AttachedPic == 1 {
				// cover art, not a playable stream
				continue
			}
			v, err := a.videoStream(stream, data.Format, tags, single)
			if err != nil {
				return Metadata{}, err
			}
			md.Videos = append(md.Videos, v)
		case "audio":
			if a.skipGroupAudio && tags.Comment != "" {
				// alternative group rendition, already counted
				// through the variants that reference it
				continue
			}
			au, err := a.audioStream(stream, data.Format, tags, single)
			if err != nil {
				return Metadata{}, err
			}
			md.Audios = append(md.Audios, au)
		}
	}
	return md, nil
}

func (a *Analyzer) videoStream(stream *ffprobe.Stream, format *ffprobe.Format, tags streamTags, single bool) (VideoStream, error) {
	if stream.Width <= 0 || stream.Height <= 0 {
		return VideoStream{}, errors.Newf(errors.Analyze,
			"video stream %d has no geometry", stream.Index)
	}
	fps, err := parseFps(stream.AvgFrameRate)
	if err != nil {
		return VideoStream{}, errors.Wrap(errors.Analyze, err,
			fmt.Sprintf("average frame rate of stream %d", stream.Index))
	}
	if fps == 0 {
		// r_frame_rate can still be valid for playlists
		if fps, err = parseFps(stream.RFrameRate); err != nil {
			return VideoStream{}, errors.Wrap(errors.Analyze, err,
				fmt.Sprintf("real frame rate of stream %d", stream.Index))
		}
	}
	bitrate, err := a.bitrate(stream.BitRate, format, tags, single)
	if err != nil {
		return VideoStream{}, err
	}
	v := VideoStream{
		Width:     int64(stream.Width),
		Height:    int64(stream.Height),
		PAR:       parseRatio(stream.SampleAspectRatio),
		DAR:       parseRatio(stream.DisplayAspectRatio),
		FrameRate: fps,
		Frames:    parseCount(stream.NbFrames),
		Bitrate:   bitrate,
		Duration:  a.duration(stream.Duration, format, single),
		Start:     parseSeconds(stream.StartTime),
	}
	normalizeVideo(&v)
	return v, nil
}

func (a *Analyzer) audioStream(stream *ffprobe.Stream, format *ffprobe.Format, tags streamTags, single bool) (AudioStream, error) {
	sampleRate, err := strconv.Atoi(stream.SampleRate)
	if stream.SampleRate != "" && err != nil {
		return AudioStream{}, errors.Wrap(errors.Analyze, err,
			fmt.Sprintf("sample rate of stream %d", stream.Index))
	}
	bitrate, err := a.bitrate(stream.BitRate, format, tags, single)
	if err != nil {
		return AudioStream{}, err
	}
	au := AudioStream{
		Channels:     stream.Channels,
		SamplingRate: sampleRate,
		Bitrate:      bitrate,
		Duration:     a.duration(stream.Duration, format, single),
		Start:        parseSeconds(stream.StartTime),
	}
	normalizeAudio(&au)
	return au, nil
}

func (a *Analyzer) bitrate(value string, format *ffprobe.Format, tags streamTags, single bool) (int64, error) {
	bitrate, err := strconv.ParseInt(value, 10, 64)
	if value != "" && err != nil {
		return 0, errors.Wrap(errors.Analyze, err, "parsing bitrate")
	}
	if bitrate != 0 {
		return bitrate, nil
	}
	if a.bitrateFromVariant && tags.VariantBitrate != 0 {
		// the hls muxer reports the variant total, overhead included
		return int64(float64(tags.VariantBitrate) / 1.1), nil
	}
	if a.bitrateFromContainer && single && format.BitRate != "" {
		bitrate, err = strconv.ParseInt(format.BitRate, 10, 64)
		if err != nil {
			return 0, errors.Wrap(errors.Analyze, err, "parsing container bitrate")
		}
	}
	return bitrate, nil
}

func (a *Analyzer) duration(value string, format *ffprobe.Format, single bool) float64 {
	duration := parseSeconds(value)
	if duration == 0 && a.durationFromContainer && single {
		duration = format.DurationSeconds
	}
	return duration
}

// streamTags is the subset of ffprobe stream tags the analyzers read.
// Values arrive as strings or numbers depending on the demuxer, hence
// the weakly typed decoder.
type streamTags struct {
	Comment        string `mapstructure:"comment"`
	VariantBitrate int64  `mapstructure:"variant_bitrate"`
}

func decodeTags(list ffprobe.Tags) (streamTags, error) {
	var tags streamTags
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &tags,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return tags, err
	}
	return tags, decoder.Decode(map[string]interface{}(list))
}

func parseSeconds(value string) float64 {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return seconds
}

func parseCount(value string) int64 {
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return count
}

// parseRatio reads ffprobe aspect ratios in "16:9" or "16/9" form.
func parseRatio(value string) float64 {
	if value == "" {
		return 0
	}
	sep := ":"
	if !strings.Contains(value, sep) {
		sep = "/"
	}
	parts := strings.SplitN(value, sep, 2)
	if len(parts) < 2 {
		ratio, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0
		}
		return ratio
	}
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}

func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.SplitN(framerate, "/", 2)
	if len(parts) < 2 {
		fps, err := strconv.ParseFloat(framerate, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing frame rate: %w", err)
		}
		return fps, nil
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("parsing frame rate numerator: %w", err)
	}
	den, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("parsing frame rate denominator: %w", err)
	}
	if den == 0 {
		// 0/0 is valid for still-picture tracks
		if num == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("frame rate denominator is 0")
	}
	return float64(num) / float64(den), nil
}
