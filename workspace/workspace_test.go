package workspace

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResourceShapes(t *testing.T) {
	sources := NewCollection("sources")
	require.True(t, sources.IsCollection())
	require.Equal(t, "sources/", sources.String())
	require.Equal(t, "sources", sources.Basename())

	manifest := sources.File("source.json")
	require.False(t, manifest.IsCollection())
	require.Equal(t, "sources/source.json", manifest.String())
	require.Equal(t, "sources/source.json", manifest.Path())
	require.Equal(t, "source.json", manifest.Basename())

	nested := NewCollection().Collection("results").File("000000.json")
	require.Equal(t, []string{"results", "000000.json"}, nested.Parts())
}

func TestResourceURI(t *testing.T) {
	root, err := url.Parse("dav://store.local/tmp/job-1/")
	require.NoError(t, err)

	require.Equal(t, "dav://store.local/tmp/job-1/",
		resourceURI(root, NewCollection()).String())
	require.Equal(t, "dav://store.local/tmp/job-1/sources/",
		resourceURI(root, NewCollection("sources")).String())
	require.Equal(t, "dav://store.local/tmp/job-1/sources/split.json",
		resourceURI(root, NewFile("sources", "split.json")).String())
}

func TestSubURI(t *testing.T) {
	base, err := url.Parse("file:///data/tmp/")
	require.NoError(t, err)
	sub := SubURI(base, "0a1b2c")
	require.Equal(t, "file:///data/tmp/0a1b2c/", sub.String())
	// the base is not mutated
	require.Equal(t, "file:///data/tmp/", base.String())
}

func TestOpenDispatch(t *testing.T) {
	opts := Options{ConnectTimeout: time.Second, RequestTimeout: time.Second}

	fileRoot, err := url.Parse("file://" + t.TempDir() + "/")
	require.NoError(t, err)
	ws, err := Open(fileRoot, opts)
	require.NoError(t, err)
	require.IsType(t, &FileSystem{}, ws)

	davRoot, err := url.Parse("davs://store.local/results/")
	require.NoError(t, err)
	ws, err = Open(davRoot, opts)
	require.NoError(t, err)
	require.IsType(t, &WebDAV{}, ws)

	s3Root, err := url.Parse("s3://bucket/results/")
	require.NoError(t, err)
	_, err = Open(s3Root, opts)
	require.ErrorContains(t, err, `no workspace backend for scheme "s3"`)
}

func TestFileSystemRoundTrip(t *testing.T) {
	dir := t.TempDir()
	root, err := url.Parse("file://" + dir + "/")
	require.NoError(t, err)
	ws, err := NewFileSystem(root)
	require.NoError(t, err)
	ctx := context.Background()

	results, err := ws.EnsureCollection(ctx, "results")
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(dir, "results"))

	chunk := results.File("000000.json")
	require.Equal(t, filepath.Join(dir, "results", "000000.json"), ws.MediaURL(chunk))
	require.NoError(t, ws.Write(ctx, chunk, []byte(`{"duration":60}`)))

	ok, err := ws.Exists(ctx, chunk)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := ws.Read(ctx, chunk)
	require.NoError(t, err)
	require.Equal(t, `{"duration":60}`, string(data))

	require.NoError(t, ws.Delete(ctx, results))
	require.NoDirExists(t, filepath.Join(dir, "results"))
	ok, err = ws.Exists(ctx, chunk)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileSystemWriteCreatesParents(t *testing.T) {
	dir := t.TempDir()
	root, err := url.Parse("file://" + dir + "/")
	require.NoError(t, err)
	ws, err := NewFileSystem(root)
	require.NoError(t, err)

	target := NewFile("sources", "profile.json")
	require.NoError(t, ws.Write(context.Background(), target, []byte("{}")))
	require.FileExists(t, filepath.Join(dir, "sources", "profile.json"))
}

func TestFileSystemDeleteMissing(t *testing.T) {
	dir := t.TempDir()
	root, err := url.Parse("file://" + dir + "/")
	require.NoError(t, err)
	ws, err := NewFileSystem(root)
	require.NoError(t, err)

	require.NoError(t, ws.Delete(context.Background(), NewCollection("gone")))
}

func TestFileSystemRejectsRemoteHost(t *testing.T) {
	root, err := url.Parse("file://elsewhere/data/")
	require.NoError(t, err)
	_, err = NewFileSystem(root)
	require.Error(t, err)
}

func TestFileSystemReadMissing(t *testing.T) {
	dir := t.TempDir()
	root, err := url.Parse("file://" + dir + "/")
	require.NoError(t, err)
	ws, err := NewFileSystem(root)
	require.NoError(t, err)

	_, err = ws.Read(context.Background(), NewFile("absent.json"))
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}
