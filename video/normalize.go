package video

import "math"

// ffprobe output is inconsistent across demuxers: some report aspect
// ratios but not frame counts, playlists lose per-stream durations, NUT
// drops sample counts. Normalization reconstructs what is derivable and
// reconciles fields that contradict each other.

// aspectTolerance bounds |DAR - (W/H)*PAR| before the pair counts as
// contradictory.
const aspectTolerance = 1e-3

// frameTolerance allows duration*rate to differ from the frame count by
// a single frame before the rate is recomputed.
const frameTolerance = 1.0

// sampleTolerance bounds |duration*rate - samples| before the count is
// recomputed. Sample counts are the least reliable of the three.
const sampleTolerance = 1.0

func normalizeVideo(s *VideoStream) {
	normalizeAspect(s)
	normalizeFrames(s)
}

// normalizeAspect requires positive geometry; streams without it are
// rejected during analysis.
func normalizeAspect(s *VideoStream) {
	ratio := float64(s.Width) / float64(s.Height)
	switch {
	case s.PAR != 0 && s.DAR != 0:
		// when the triple disagrees, pixel aspect wins
		if math.Abs(s.DAR-ratio*s.PAR) > aspectTolerance {
			s.DAR = ratio * s.PAR
		}
	case s.PAR != 0:
		s.DAR = ratio * s.PAR
	case s.DAR != 0:
		s.PAR = s.DAR / ratio
	default:
		s.PAR = 1
		s.DAR = ratio
	}
}

func normalizeFrames(s *VideoStream) {
	switch {
	case s.Duration > 0 && s.FrameRate > 0 && s.Frames > 0:
		if math.Abs(s.Duration*s.FrameRate-float64(s.Frames)) > frameTolerance {
			s.FrameRate = float64(s.Frames) / s.Duration
		}
	case s.Duration > 0 && s.FrameRate > 0:
		s.Frames = int64(math.Round(s.Duration * s.FrameRate))
	case s.Duration > 0 && s.Frames > 0:
		s.FrameRate = float64(s.Frames) / s.Duration
	case s.FrameRate > 0 && s.Frames > 0:
		s.Duration = float64(s.Frames) / s.FrameRate
	}
}

func normalizeAudio(s *AudioStream) {
	rate := float64(s.SamplingRate)
	switch {
	case s.Duration > 0 && rate > 0 && s.SampleCount > 0:
		if math.Abs(s.Duration*rate-float64(s.SampleCount)) > sampleTolerance {
			s.SampleCount = int64(math.Round(s.Duration * rate))
		}
	case s.Duration > 0 && rate > 0:
		s.SampleCount = int64(math.Round(s.Duration * rate))
	case s.Duration > 0 && s.SampleCount > 0:
		s.SamplingRate = int(math.Round(float64(s.SampleCount) / s.Duration))
	case rate > 0 && s.SampleCount > 0:
		s.Duration = float64(s.SampleCount) / rate
	}
}
