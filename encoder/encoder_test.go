package encoder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/just-work/video-transcoding/errors"
)

// fakeFFmpeg builds a stand-in binary from a shell snippet. Arguments the
// encoder passes are ignored by the snippets.
func fakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func testGraph() *ffmpeg.Stream {
	return ffmpeg.Input("in.mp4").Output("out.ts", ffmpeg.KwArgs{"f": "mpegts"})
}

func TestRunSuccess(t *testing.T) {
	enc := New(fakeFFmpeg(t, `
echo "[info] Opening 'in.mp4' for reading" >&2
echo "[info] frame=  100 fps=0.0" >&2
`), time.Second, 4)

	err := enc.Run(context.Background(), "task-1", testGraph())
	require.NoError(t, err)
}

func TestRunNonZeroExit(t *testing.T) {
	enc := New(fakeFFmpeg(t, `
echo "[error] Invalid data found when processing input" >&2
exit 1
`), time.Second, 4)

	err := enc.Run(context.Background(), "task-1", testGraph())
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.Encode))
	require.Contains(t, err.Error(), "Invalid data found when processing input")
}

func TestRunErrorLinesDespiteZeroExit(t *testing.T) {
	enc := New(fakeFFmpeg(t, `
echo "[info] fine so far" >&2
echo "[error] Packet corrupt (stream = 0, dts = 9000)" >&2
`), time.Second, 4)

	err := enc.Run(context.Background(), "task-1", testGraph())
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.Encode))
	require.Contains(t, err.Error(), "Packet corrupt")
}

func TestRunSilentFailure(t *testing.T) {
	enc := New(fakeFFmpeg(t, "exit 3\n"), time.Second, 4)

	err := enc.Run(context.Background(), "task-1", testGraph())
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.Encode))
	require.Contains(t, err.Error(), "unexpected ffmpeg exit")
	require.Contains(t, err.Error(), "exit status 3")
}

func TestRunBoundsErrorTail(t *testing.T) {
	enc := New(fakeFFmpeg(t, `
i=0
while [ $i -lt 15 ]; do
  echo "[error] decode failure $i" >&2
  i=$((i+1))
done
exit 1
`), time.Second, 3)

	err := enc.Run(context.Background(), "task-1", testGraph())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode failure 12")
	require.Contains(t, err.Error(), "decode failure 14")
	require.Contains(t, err.Error(), "(+12 earlier)")
	require.NotContains(t, err.Error(), "decode failure 11")
}

func TestRunCanceled(t *testing.T) {
	enc := New(fakeFFmpeg(t, "exec sleep 5\n"), time.Second, 4)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := enc.Run(ctx, "task-1", testGraph())
	require.Error(t, err)
	require.True(t, errors.IsCancellation(err))
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestRunMissingBinary(t *testing.T) {
	enc := New(filepath.Join(t.TempDir(), "no-such-ffmpeg"), time.Second, 4)

	err := enc.Run(context.Background(), "task-1", testGraph())
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.Encode))
}

func TestNewDefaults(t *testing.T) {
	enc := New("", 0, 0)
	require.Equal(t, "ffmpeg", enc.FFmpegPath)
	require.Equal(t, DefaultSoftStopTimeout, enc.SoftStopTimeout)
	require.Equal(t, DefaultErrorTail, enc.ErrorTail)
}

func TestErrorTail(t *testing.T) {
	tail := newErrorTail(2)
	require.True(t, tail.empty())
	require.Equal(t, "", tail.String())

	tail.add("one")
	require.False(t, tail.empty())
	require.Equal(t, "one", tail.String())

	tail.add("two")
	require.Equal(t, "one; two", tail.String())

	tail.add("three")
	require.Equal(t, "two; three (+1 earlier)", tail.String())
}

func TestScanCRLines(t *testing.T) {
	advance, token, err := scanCRLines([]byte("frame=1\rframe=2\n"), false)
	require.NoError(t, err)
	require.Equal(t, 8, advance)
	require.Equal(t, "frame=1", string(token))

	advance, token, err = scanCRLines([]byte("tail without newline"), true)
	require.NoError(t, err)
	require.Equal(t, 20, advance)
	require.Equal(t, "tail without newline", string(token))

	advance, token, err = scanCRLines(nil, true)
	require.NoError(t, err)
	require.Equal(t, 0, advance)
	require.Nil(t, token)
}
