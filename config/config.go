package config

// Version is stamped at build time.
var Version string

// Names every artifact and tool defaults to; kept here so the pipeline,
// the encoder drivers and the tests agree on them.
const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"

	// MasterPlaylist is the entry point of a finished HLS package.
	MasterPlaylist = "index.m3u8"
)
