// Package pipeline drives one transcoding job from source probe to
// published HLS package. Every expensive step is guarded by a sentinel
// artifact in the temp workspace, so a restarted worker picks up where the
// previous one stopped instead of redoing finished work.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/just-work/video-transcoding/config"
	"github.com/just-work/video-transcoding/encoder"
	"github.com/just-work/video-transcoding/errors"
	"github.com/just-work/video-transcoding/log"
	"github.com/just-work/video-transcoding/metrics"
	"github.com/just-work/video-transcoding/profiles"
	"github.com/just-work/video-transcoding/progress"
	"github.com/just-work/video-transcoding/video"
	"github.com/just-work/video-transcoding/workspace"
)

// DefaultMinDurationRatio is how much of the source duration every encoder
// product must cover before the pipeline trusts it.
const DefaultMinDurationRatio = 0.95

// Deleting workspace trees must survive the task context, failed cleanup
// would leave garbage on the origin.
const cleanupTimeout = 2 * time.Minute

// Workspace layout. Sentinels land next to the artifacts they describe.
var (
	sourcesDir = workspace.NewCollection("sources")
	resultsDir = workspace.NewCollection("results")

	sourceSentinel  = sourcesDir.File("source.json")
	profileSentinel = sourcesDir.File("profile.json")
	splitSentinel   = sourcesDir.File("split.json")
	videoPlaylist   = sourcesDir.File(encoder.SourceVideoPlaylist)
	audioPlaylist   = sourcesDir.File(encoder.SourceAudioPlaylist)
	concatList      = resultsDir.File(encoder.ConcatList)
	masterPlaylist  = workspace.NewFile(config.MasterPlaylist)
)

// Encoder runs compiled command graphs. *encoder.Encoder satisfies it.
type Encoder interface {
	Run(ctx context.Context, taskID string, graph *ffmpeg.Stream) error
}

// Probes bundles the analyzer variants the pipeline needs, one per
// container produced along the way.
type Probes struct {
	Source   video.Prober
	Playlist video.Prober
	Segment  video.Prober
	HLS      video.Prober
}

func DefaultProbes() Probes {
	return Probes{
		Source:   video.NewSourceAnalyzer(),
		Playlist: video.NewPlaylistAnalyzer(encoder.ChunkFormat),
		Segment:  video.NewSegmentAnalyzer(encoder.ChunkFormat),
		HLS:      video.NewHLSAnalyzer(),
	}
}

// Strategy transcodes one job inside its two workspaces: Temp holds the
// resumable intermediate artifacts, Store receives the finished package.
// Both roots are already namespaced by the job basename.
type Strategy struct {
	TaskID   string
	Source   string
	Temp     workspace.Workspace
	Store    workspace.Workspace
	Preset   profiles.Preset
	Encoder  Encoder
	Probes   Probes
	Progress progress.Func

	// ChunkDuration and SegmentDuration are target seconds. The segment
	// duration is calibrated to the selected frame rate during profile
	// selection.
	ChunkDuration   float64
	SegmentDuration float64
	// MinDurationRatio overrides DefaultMinDurationRatio when positive.
	MinDurationRatio float64
}

// Run produces the HLS package and returns its probed metadata. On success
// the temp tree is deleted; on failure the store tree is deleted and the
// temp tree kept for the next attempt; on cancellation both stay.
func (s *Strategy) Run(ctx context.Context) (video.Metadata, error) {
	if s.Probes == (Probes{}) {
		s.Probes = DefaultProbes()
	}
	md, err := s.run(ctx)
	s.cleanup(err)
	return md, err
}

func (s *Strategy) run(ctx context.Context) (video.Metadata, error) {
	if err := s.initialize(ctx); err != nil {
		return video.Metadata{}, err
	}
	source, err := s.analyze(ctx)
	if err != nil {
		return video.Metadata{}, err
	}
	profile, err := s.selectProfile(ctx, source)
	if err != nil {
		return video.Metadata{}, err
	}
	split, err := s.split(ctx, source)
	if err != nil {
		return video.Metadata{}, err
	}
	names, err := s.chunkNames(ctx)
	if err != nil {
		return video.Metadata{}, err
	}
	chunks, err := s.processChunks(ctx, names, profile)
	if err != nil {
		return video.Metadata{}, err
	}
	merged, err := video.Merge(chunks, source)
	if err != nil {
		return video.Metadata{}, err
	}
	// Chunks carry video only; the whole-video audio comes from the split.
	merged.Audios = split.Audios
	return s.segment(ctx, names, profile, merged)
}

func (s *Strategy) initialize(ctx context.Context) error {
	if _, err := s.Temp.EnsureCollection(ctx, "sources"); err != nil {
		return err
	}
	if _, err := s.Temp.EnsureCollection(ctx, "results"); err != nil {
		return err
	}
	return s.Store.Create(ctx, workspace.NewCollection())
}

func (s *Strategy) analyze(ctx context.Context) (video.Metadata, error) {
	defer timeStage("analyze")()
	var md video.Metadata
	ok, err := readJSON(ctx, s.Temp, sourceSentinel, &md)
	if err != nil {
		return md, err
	}
	if ok {
		log.Log(s.TaskID, "source metadata loaded", "duration", md.Duration())
		return md, nil
	}
	md, err = s.Probes.Source.Probe(ctx, s.Source)
	if err != nil {
		return md, err
	}
	md.Version = video.MetadataVersion
	md.URI = s.Source
	log.Log(s.TaskID, "source analyzed",
		"duration", md.Duration(), "videos", len(md.Videos), "audios", len(md.Audios))
	return md, writeJSON(ctx, s.Temp, sourceSentinel, md)
}

func (s *Strategy) selectProfile(ctx context.Context, source video.Metadata) (profiles.Profile, error) {
	var profile profiles.Profile
	ok, err := readJSON(ctx, s.Temp, profileSentinel, &profile)
	if err != nil {
		return profile, err
	}
	if ok {
		return profile, nil
	}
	profile, err = profiles.Select(source, s.Preset, s.SegmentDuration)
	if err != nil {
		return profile, err
	}
	log.Log(s.TaskID, "profile selected",
		"video_tracks", len(profile.Video), "audio_tracks", len(profile.Audio),
		"segment_duration", profile.Container.SegmentDuration)
	return profile, writeJSON(ctx, s.Temp, profileSentinel, profile)
}

// split slices the source into chunks and records the metadata of the two
// chunk playlists. The sentinel is written only after both playlists
// probed fine, a half-made split is redone from scratch.
func (s *Strategy) split(ctx context.Context, source video.Metadata) (video.Metadata, error) {
	defer timeStage("split")()
	var md video.Metadata
	ok, err := readJSON(ctx, s.Temp, splitSentinel, &md)
	if err != nil {
		return md, err
	}
	if ok {
		log.Log(s.TaskID, "split loaded", "duration", md.Duration())
		return md, nil
	}

	graph := encoder.Splitter{
		Source:        s.Source,
		SourcesDir:    s.Temp.MediaURL(sourcesDir),
		ChunkDuration: s.ChunkDuration,
	}.Graph()
	if err := s.Encoder.Run(ctx, s.TaskID, graph); err != nil {
		return md, err
	}

	videoMeta, err := s.Probes.Playlist.Probe(ctx, s.Temp.MediaURL(videoPlaylist))
	if err != nil {
		return md, err
	}
	audioMeta, err := s.Probes.Playlist.Probe(ctx, s.Temp.MediaURL(audioPlaylist))
	if err != nil {
		return md, err
	}
	md = video.Metadata{
		Version: video.MetadataVersion,
		URI:     s.Temp.MediaURL(videoPlaylist),
		Videos:  videoMeta.Videos,
		Audios:  audioMeta.Audios,
	}
	if err := video.Validate(source, md, s.minRatio()); err != nil {
		return md, err
	}
	log.Log(s.TaskID, "source split", "duration", md.Duration())
	return md, writeJSON(ctx, s.Temp, splitSentinel, md)
}

// chunkNames lists the chunk files in the exact order the split wrote
// them into the video playlist. That order is load-bearing, the concat
// list and the merge both follow it.
func (s *Strategy) chunkNames(ctx context.Context) ([]string, error) {
	data, err := s.Temp.Read(ctx, videoPlaylist)
	if err != nil {
		return nil, err
	}
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, errors.Wrap(errors.Encode, err, "parsing chunk playlist")
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok || listType != m3u8.MEDIA {
		return nil, errors.New(errors.Encode, "chunk playlist is not a media playlist")
	}
	// The decoded Segments slice is the playlist's ring buffer; unused
	// slots are nil.
	var names []string
	for _, segment := range media.Segments {
		if segment == nil {
			continue
		}
		names = append(names, segment.URI)
	}
	if len(names) == 0 {
		return nil, errors.New(errors.Encode, "split produced no chunks")
	}
	return names, nil
}

func (s *Strategy) processChunks(ctx context.Context, names []string, profile profiles.Profile) ([]video.Metadata, error) {
	defer timeStage("chunks")()
	reporter := progress.NewReporter(len(names), s.Progress)
	metrics.Metrics.PipelineProgress.Set(0)

	results := make([]video.Metadata, 0, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.Canceled, err, "between chunks")
		}
		md, skipped, err := s.processChunk(ctx, name, profile)
		if err != nil {
			return nil, fmt.Errorf("chunk %d (%s): %w", i, name, err)
		}
		if skipped {
			metrics.Metrics.ChunksSkipped.Inc()
		} else {
			metrics.Metrics.ChunksTranscoded.Inc()
		}
		results = append(results, md)
		reporter.Advance(1)
		metrics.Metrics.PipelineProgress.Set(float64(i+1) / float64(len(names)))
	}
	return results, nil
}

func (s *Strategy) processChunk(ctx context.Context, name string, profile profiles.Profile) (video.Metadata, bool, error) {
	sentinel := resultsDir.File(name + ".json")
	var md video.Metadata
	ok, err := readJSON(ctx, s.Temp, sentinel, &md)
	if err != nil {
		return md, false, err
	}
	if ok {
		log.Log(s.TaskID, "chunk already transcoded", "chunk", name)
		return md, true, nil
	}

	srcURL := s.Temp.MediaURL(sourcesDir.File(name))
	dstURL := s.Temp.MediaURL(resultsDir.File(name))
	src, err := s.Probes.Playlist.Probe(ctx, srcURL)
	if err != nil {
		return md, false, err
	}

	start := time.Now()
	graph := encoder.Transcoder{Source: srcURL, Dst: dstURL, Video: profile.Video}.Graph()
	if err := s.Encoder.Run(ctx, s.TaskID, graph); err != nil {
		return md, false, err
	}
	metrics.Metrics.ChunkDurationSec.Observe(time.Since(start).Seconds())

	md, err = s.Probes.Segment.Probe(ctx, dstURL)
	if err != nil {
		return md, false, err
	}
	if err := video.Validate(src, md, s.minRatio()); err != nil {
		return md, false, err
	}
	md.Version = video.MetadataVersion
	md.URI = dstURL
	log.Log(s.TaskID, "chunk transcoded", "chunk", name, "duration", md.Duration())
	return md, false, writeJSON(ctx, s.Temp, sentinel, md)
}

func (s *Strategy) segment(ctx context.Context, names []string, profile profiles.Profile, merged video.Metadata) (video.Metadata, error) {
	defer timeStage("segment")()
	if err := s.Temp.Write(ctx, concatList, concatDocument(names)); err != nil {
		return video.Metadata{}, err
	}

	dst := s.Store.MediaURL(masterPlaylist)
	graph := encoder.Segmentor{
		VideoSource: s.Temp.MediaURL(concatList),
		AudioSource: s.Temp.MediaURL(audioPlaylist),
		Dst:         dst,
		Profile:     profile,
	}.Graph()
	if err := s.Encoder.Run(ctx, s.TaskID, graph); err != nil {
		return video.Metadata{}, err
	}

	final, err := s.Probes.HLS.Probe(ctx, dst)
	if err != nil {
		return video.Metadata{}, err
	}
	final.Version = video.MetadataVersion
	final.URI = dst
	if err := video.Validate(merged, final, s.minRatio()); err != nil {
		return final, err
	}
	log.Log(s.TaskID, "package segmented",
		"uri", dst, "duration", final.MinDuration(), "variants", len(final.Videos))
	return final, nil
}

// concatDocument renders the ffconcat list the segment stage concatenates
// chunks from. Names are relative, ffmpeg resolves them against the list's
// own location.
func concatDocument(names []string) []byte {
	lines := make([]string, 0, len(names)+1)
	lines = append(lines, "ffconcat version 1.0")
	for _, name := range names {
		lines = append(lines, "file '"+name+"'")
	}
	return []byte(strings.Join(lines, "\n"))
}

func (s *Strategy) cleanup(runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	switch {
	case runErr == nil:
		if err := s.Temp.Delete(ctx, workspace.NewCollection()); err != nil {
			log.LogError(s.TaskID, "temp cleanup failed", err, "root", s.Temp.Root())
		}
	case errors.IsCancellation(runErr):
		// Keep both trees, the job comes back after requeue.
	default:
		if err := s.Store.Delete(ctx, workspace.NewCollection()); err != nil {
			log.LogError(s.TaskID, "store cleanup failed", err, "root", s.Store.Root())
		}
	}
}

func (s *Strategy) minRatio() float64 {
	if s.MinDurationRatio > 0 {
		return s.MinDurationRatio
	}
	return DefaultMinDurationRatio
}

func timeStage(stage string) func() {
	start := time.Now()
	return func() {
		metrics.Metrics.StageDurationSec.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
