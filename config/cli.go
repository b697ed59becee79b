package config

import (
	"flag"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

// Cli enumerates every runtime option of the worker. Values come from flags
// or VIDEO_* environment variables; unknown keys fail startup.
type Cli struct {
	DatabaseURL     string
	AMQPURL         string
	QueueName       string
	Concurrency     int
	Countdown       time.Duration
	TempURI         *url.URL
	Origins         []*url.URL
	Edges           []*url.URL
	URLTemplate     string
	ChunkDuration   time.Duration
	SegmentDuration time.Duration
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	EncodeTimeout   time.Duration
	StopGrace       time.Duration
	PresetFile      string
	FFmpegPath      string
	FFprobePath     string
	OpsPort         int
	ErrorTail       int
}

// Store returns the origin every finished job is published to. Remaining
// origins are read replicas and not written by this worker.
func (cli *Cli) Store() *url.URL {
	return cli.Origins[0]
}

// VideoURL renders the playback address of a finished job from the
// configured template.
func (cli *Cli) VideoURL(basename string) string {
	edge := cli.Edges[rand.Intn(len(cli.Edges))]
	r := strings.NewReplacer(
		"{edge}", strings.TrimSuffix(edge.String(), "/"),
		"{filename}", basename,
	)
	return r.Replace(cli.URLTemplate)
}

func (cli *Cli) Validate() error {
	if cli.DatabaseURL == "" {
		return fmt.Errorf("a database URL is required")
	}
	if cli.AMQPURL == "" {
		return fmt.Errorf("an AMQP URL is required")
	}
	if cli.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if len(cli.Origins) == 0 {
		return fmt.Errorf("at least one origin is required")
	}
	if len(cli.Edges) == 0 {
		return fmt.Errorf("at least one edge is required")
	}
	if cli.ChunkDuration <= 0 || cli.SegmentDuration <= 0 {
		return fmt.Errorf("chunk and segment durations must be positive")
	}
	if cli.ChunkDuration < cli.SegmentDuration {
		return fmt.Errorf("chunk duration %s is shorter than segment duration %s",
			cli.ChunkDuration, cli.SegmentDuration)
	}
	for _, u := range append([]*url.URL{cli.TempURI}, cli.Origins...) {
		switch u.Scheme {
		case "file", "dav", "davs":
		default:
			return fmt.Errorf("unsupported workspace scheme %q in %s", u.Scheme, u)
		}
	}
	return nil
}

func parseURL(s string, dest **url.URL) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if _, err = url.ParseQuery(u.RawQuery); err != nil {
		return err
	}
	*dest = u
	return nil
}

func URLVarFlag(fs *flag.FlagSet, dest **url.URL, name, value, usage string) {
	if err := parseURL(value, dest); err != nil {
		panic(err)
	}
	fs.Func(name, usage, func(s string) error {
		return parseURL(s, dest)
	})
}

func URLSliceVarFlag(fs *flag.FlagSet, dest *[]*url.URL, name, value, usage string) {
	if err := parseURLs(value, dest); err != nil {
		panic(err)
	}
	fs.Func(name, usage, func(s string) error {
		return parseURLs(s, dest)
	})
}

func parseURLs(s string, dest *[]*url.URL) error {
	strs := strings.Split(s, ",")
	urls := make([]*url.URL, len(strs))
	for i, str := range strs {
		if err := parseURL(str, &urls[i]); err != nil {
			return err
		}
	}
	*dest = urls
	return nil
}
