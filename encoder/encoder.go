// Package encoder assembles and supervises ffmpeg processes. The three
// builders (Splitter, Transcoder, Segmentor) produce command graphs for the
// pipeline stages, and Encoder.Run compiles a graph to an argument vector
// and babysits the process until it exits or the task is canceled.
package encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/just-work/video-transcoding/config"
	"github.com/just-work/video-transcoding/errors"
	"github.com/just-work/video-transcoding/log"
)

// ChunkFormat is the container chunks travel in between the split and
// segment steps. NUT carries any codec with exact timestamps, which the
// obvious alternatives do not.
const ChunkFormat = "nut"

// Names of the artifacts the commands exchange through the workspaces.
const (
	SourceVideoPlaylist = "source-video.m3u8"
	SourceAudioPlaylist = "source-audio.m3u8"
	ConcatList          = "concat.ffconcat"

	sourceVideoChunks = "source-video-%05d." + ChunkFormat
	sourceAudioChunks = "source-audio-%05d." + ChunkFormat
	segmentTemplate   = "segment-%v-%05d.ts"
	variantTemplate   = "playlist-%v.m3u8"
)

const (
	DefaultSoftStopTimeout = 10 * time.Second
	DefaultErrorTail       = 10
)

// Encoder runs ffmpeg command graphs on behalf of the pipeline.
type Encoder struct {
	// FFmpegPath is the binary every command launches.
	FFmpegPath string
	// SoftStopTimeout is how long a canceled command may keep running
	// after the termination signal before it is killed.
	SoftStopTimeout time.Duration
	// ErrorTail bounds how many stderr error lines are kept for the
	// failure message.
	ErrorTail int
}

func New(ffmpegPath string, softStop time.Duration, tail int) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = config.DefaultFFmpegPath
	}
	if softStop <= 0 {
		softStop = DefaultSoftStopTimeout
	}
	if tail <= 0 {
		tail = DefaultErrorTail
	}
	return &Encoder{FFmpegPath: ffmpegPath, SoftStopTimeout: softStop, ErrorTail: tail}
}

// Run executes one command graph. The stderr stream is forwarded to the
// task log line by line, and lines ffmpeg marks with [error] are collected.
// A non-zero exit or any collected error line fails the run. Canceling the
// context sends SIGTERM to the process and SIGKILL once the grace period
// runs out.
func (e *Encoder) Run(ctx context.Context, taskID string, graph *ffmpeg.Stream) error {
	args := append([]string{"-hide_banner", "-loglevel", "repeat+level+info"},
		graph.OverWriteOutput().GetArgs()...)

	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)
	cmd.Cancel = func() error {
		log.Log(taskID, "stopping ffmpeg", "grace", e.SoftStopTimeout)
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.SoftStopTimeout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(errors.Encode, err, "opening ffmpeg stderr")
	}

	log.Log(taskID, "starting ffmpeg", "command", redactArgs(args))
	if err := cmd.Start(); err != nil {
		return errors.Wrap(errors.Encode, err, "starting ffmpeg")
	}

	// The pipe must be drained before Wait. Reading in this goroutine also
	// keeps log lines and the exit status naturally ordered.
	tail := newErrorTail(e.ErrorTail)
	e.scanStderr(taskID, stderr, tail)
	err = cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return errors.Wrap(errors.Canceled, ctx.Err(), "ffmpeg interrupted")
	case err != nil:
		msg := tail.String()
		if msg == "" {
			msg = fmt.Sprintf("unexpected ffmpeg exit: %v", err)
		}
		return errors.New(errors.Encode, msg)
	case !tail.empty():
		return errors.Newf(errors.Encode, "ffmpeg reported errors: %s", tail)
	}
	log.Log(taskID, "ffmpeg finished")
	return nil
}

func (e *Encoder) scanStderr(taskID string, src io.Reader, tail *errorTail) {
	scanner := bufio.NewScanner(src)
	scanner.Split(scanCRLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		log.Log(taskID, "ffmpeg", "output", line)
		if strings.Contains(line, "[error]") {
			tail.add(line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.LogError(taskID, "reading ffmpeg stderr", err)
	}
}

// scanCRLines splits on newlines and also on the bare carriage returns
// ffmpeg uses to redraw its progress line.
func scanCRLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// errorTail keeps the last lines ffmpeg reported at error level. Broken
// sources repeat the same complaint once per frame, so the tail is bounded
// and counts what it dropped.
type errorTail struct {
	limit   int
	lines   []string
	dropped int
}

func newErrorTail(limit int) *errorTail {
	return &errorTail{limit: limit}
}

func (t *errorTail) add(line string) {
	if len(t.lines) == t.limit {
		copy(t.lines, t.lines[1:])
		t.lines[len(t.lines)-1] = line
		t.dropped++
		return
	}
	t.lines = append(t.lines, line)
}

func (t *errorTail) empty() bool {
	return len(t.lines) == 0
}

func (t *errorTail) String() string {
	joined := strings.Join(t.lines, "; ")
	if t.dropped > 0 {
		return fmt.Sprintf("%s (+%d earlier)", joined, t.dropped)
	}
	return joined
}

func redactArgs(args []string) string {
	safe := make([]string, len(args))
	for i, arg := range args {
		safe[i] = log.RedactURL(arg)
	}
	return strings.Join(safe, " ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
