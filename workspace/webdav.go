package workspace

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/just-work/video-transcoding/errors"
	"github.com/just-work/video-transcoding/log"
	"github.com/just-work/video-transcoding/metrics"
)

// Workspace artifacts are small (playlists, metadata documents, concat
// lists); anything bigger than this bound is a server misbehaving.
const maxReadSize = 16 << 20

// WebDAV keeps a workspace on a remote WebDAV share. The dav scheme maps
// to http, davs to https.
type WebDAV struct {
	root   *url.URL
	remote *url.URL
	client *retryablehttp.Client
}

func NewWebDAV(root *url.URL, opts Options) *WebDAV {
	remote := *root
	switch root.Scheme {
	case "davs":
		remote.Scheme = "https"
	default:
		remote.Scheme = "http"
	}

	client := retryablehttp.NewClient()
	// Connection flaps and 5xx answers are retried until the task context
	// is canceled, so transient storage trouble never fails a job.
	client.RetryMax = math.MaxInt32
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 30 * time.Second
	client.Logger = nil
	client.HTTPClient = &http.Client{
		Timeout: opts.RequestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: opts.ConnectTimeout,
			}).DialContext,
		},
	}

	return &WebDAV{root: root, remote: &remote, client: client}
}

func (w *WebDAV) Root() *url.URL {
	return w.root
}

func (w *WebDAV) URI(r Resource) *url.URL {
	return resourceURI(w.root, r)
}

func (w *WebDAV) MediaURL(r Resource) string {
	return strings.TrimSuffix(w.remoteURI(r).String(), "/")
}

func (w *WebDAV) remoteURI(r Resource) *url.URL {
	return resourceURI(w.remote, r)
}

func (w *WebDAV) Create(ctx context.Context, r Resource) error {
	parts := r.Parts()
	if !r.IsCollection() {
		parts = parts[:len(parts)-1]
	}
	// MKCOL top down, root included; 405 means the collection exists.
	for i := 0; i <= len(parts); i++ {
		if err := w.mkcol(ctx, NewCollection(parts[:i]...)); err != nil {
			return err
		}
	}
	return nil
}

func (w *WebDAV) mkcol(ctx context.Context, r Resource) error {
	resp, err := w.do(ctx, "MKCOL", r, nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusMethodNotAllowed:
		// already exists
		return nil
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("creating %s: parent collection is missing", w.URI(r))
	}
	return w.statusError("creating", r, resp.StatusCode)
}

func (w *WebDAV) Delete(ctx context.Context, r Resource) error {
	resp, err := w.do(ctx, http.MethodDelete, r, nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		log.LogNoTaskID("delete of missing resource", "resource", r.String(), "root", w.root)
		return nil
	}
	return w.statusError("deleting", r, resp.StatusCode)
}

func (w *WebDAV) Exists(ctx context.Context, r Resource) (bool, error) {
	resp, err := w.do(ctx, http.MethodHead, r, nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)
	switch {
	case resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	}
	return false, w.statusError("checking", r, resp.StatusCode)
}

func (w *WebDAV) Read(ctx context.Context, r Resource) ([]byte, error) {
	resp, err := w.do(ctx, http.MethodGet, r, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	switch {
	case resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Unretriable(fmt.Errorf("reading %s: not found", w.URI(r)))
	default:
		return nil, w.statusError("reading", r, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadSize+1))
	if err != nil {
		return nil, errors.Wrap(errors.TransientInfra, err, "reading "+w.URI(r).String())
	}
	if len(data) > maxReadSize {
		return nil, fmt.Errorf("reading %s: response exceeds %d bytes", w.URI(r), maxReadSize)
	}
	return data, nil
}

func (w *WebDAV) Write(ctx context.Context, r Resource, data []byte) error {
	resp, err := w.do(ctx, http.MethodPut, r, data)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode < 300 {
		return nil
	}
	return w.statusError("writing", r, resp.StatusCode)
}

func (w *WebDAV) EnsureCollection(ctx context.Context, parts ...string) (Resource, error) {
	r := NewCollection(parts...)
	if err := w.Create(ctx, r); err != nil {
		return Resource{}, err
	}
	return r, nil
}

func (w *WebDAV) do(ctx context.Context, method string, r Resource, body []byte) (*http.Response, error) {
	uri := w.remoteURI(r)
	req, err := retryablehttp.NewRequestWithContext(ctx, method, uri.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, w.URI(r), err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		metrics.Metrics.StorageRequests.WithLabelValues(method, "error").Inc()
		return nil, errors.Wrap(errors.TransientInfra, err,
			fmt.Sprintf("%s %s", method, w.URI(r)))
	}
	metrics.Metrics.StorageRequests.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()
	return resp, nil
}

func (w *WebDAV) statusError(op string, r Resource, code int) error {
	err := fmt.Errorf("%s %s: server said %d", op, w.URI(r), code)
	if code >= 500 {
		return errors.Wrap(errors.TransientInfra, err, "storage")
	}
	return err
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReadSize))
	_ = resp.Body.Close()
}
