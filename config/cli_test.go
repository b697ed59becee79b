package config

import (
	"flag"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestURLVarFlag(t *testing.T) {
	fs := flag.NewFlagSet("cli-test", flag.ContinueOnError)
	var u *url.URL
	URLVarFlag(fs, &u, "temp-uri", "file:///data/tmp/", "")
	require.NoError(t, fs.Parse([]string{"-temp-uri=davs://storage.example.com/tmp/"}))
	require.Equal(t, "davs", u.Scheme)
	require.Equal(t, "storage.example.com", u.Host)

	fs2 := flag.NewFlagSet("cli-test", flag.ContinueOnError)
	URLVarFlag(fs2, &u, "temp-uri", "file:///data/tmp/", "")
	require.NoError(t, fs2.Parse(nil))
	require.Equal(t, "file", u.Scheme)
}

func TestURLSliceVarFlag(t *testing.T) {
	fs := flag.NewFlagSet("cli-test", flag.ContinueOnError)
	var urls []*url.URL
	URLSliceVarFlag(fs, &urls, "edge", "http://localhost:8000/media/", "")
	require.NoError(t, fs.Parse([]string{
		"-edge=http://edge-1.example.com/,http://edge-2.example.com/",
	}))
	require.Len(t, urls, 2)
	require.Equal(t, "edge-2.example.com", urls[1].Host)
}

func TestUnknownFlagRejected(t *testing.T) {
	fs := flag.NewFlagSet("cli-test", flag.ContinueOnError)
	var u *url.URL
	URLVarFlag(fs, &u, "temp-uri", "file:///data/tmp/", "")
	require.Error(t, fs.Parse([]string{"-no-such-option=1"}))
}

func testCli(t *testing.T) *Cli {
	t.Helper()
	temp, err := url.Parse("file:///data/tmp/")
	require.NoError(t, err)
	origin, err := url.Parse("file:///data/results/")
	require.NoError(t, err)
	edge, err := url.Parse("http://edge.example.com/media/")
	require.NoError(t, err)
	return &Cli{
		DatabaseURL:     "postgres://localhost/transcoding",
		AMQPURL:         "amqp://localhost/",
		Concurrency:     1,
		TempURI:         temp,
		Origins:         []*url.URL{origin},
		Edges:           []*url.URL{edge},
		URLTemplate:     "{edge}/results/{filename}/index.m3u8",
		ChunkDuration:   time.Minute,
		SegmentDuration: 4 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	cli := testCli(t)
	require.NoError(t, cli.Validate())

	cli.ChunkDuration = time.Second
	require.Error(t, cli.Validate())

	cli = testCli(t)
	bad, err := url.Parse("s3://bucket/results/")
	require.NoError(t, err)
	cli.Origins = []*url.URL{bad}
	require.Error(t, cli.Validate())
}

func TestVideoURL(t *testing.T) {
	cli := testCli(t)
	got := cli.VideoURL("deadbeef")
	require.Equal(t, "http://edge.example.com/media/results/deadbeef/index.m3u8", got)
	require.False(t, strings.Contains(got, "{"))
}
