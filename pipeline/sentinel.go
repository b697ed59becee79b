package pipeline

import (
	"context"
	"encoding/json"

	"github.com/just-work/video-transcoding/errors"
	"github.com/just-work/video-transcoding/workspace"
)

// readJSON loads a sentinel document when it exists. A document that is
// there but does not decode is a hard error: guessing around a torn write
// would let a broken artifact pass as done.
func readJSON(ctx context.Context, ws workspace.Workspace, r workspace.Resource, v interface{}) (bool, error) {
	ok, err := ws.Exists(ctx, r)
	if err != nil || !ok {
		return false, err
	}
	data, err := ws.Read(ctx, r)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.Wrap(errors.Analyze, err, "decoding "+r.Path())
	}
	return true, nil
}

// writeJSON stores a sentinel document. Callers write it after the work it
// certifies, never before.
func writeJSON(ctx context.Context, ws workspace.Workspace, r workspace.Resource, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.Analyze, err, "encoding "+r.Path())
	}
	return ws.Write(ctx, r, data)
}
