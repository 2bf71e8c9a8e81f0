package adapter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/feed"
)

// IDGenerator mints run identifiers for archived payloads.
type IDGenerator interface {
	NewID() (string, error)
}

// Recorder archives raw feed payloads before parsing, so unparseable
// documents can be replayed later. Archiving is best effort: failures are
// logged and never affect the run.
type Recorder struct {
	archive feed.Archive
	ids     IDGenerator
	clock   feed.Clock
	logger  *zap.Logger
}

// NewRecorder builds a Recorder. A nil archive disables recording.
func NewRecorder(archive feed.Archive, ids IDGenerator, clock feed.Clock, logger *zap.Logger) *Recorder {
	if archive == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{archive: archive, ids: ids, clock: clock, logger: logger}
}

// Record writes one payload under <source>/<yyyy-mm-dd>/<runID>.<ext>.
func (r *Recorder) Record(ctx context.Context, source, ext string, body []byte) {
	if r == nil || len(body) == 0 {
		return
	}
	runID, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("skipping raw archive, id generation failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s/%s.%s", source, r.clock.Now().UTC().Format("2006-01-02"), runID, ext)
	uri, err := r.archive.PutObject(ctx, path, contentTypeFor(ext), body)
	if err != nil {
		r.logger.Warn("raw archive write failed",
			zap.String("path", path),
			zap.Error(err))
		return
	}
	r.logger.Debug("raw payload archived", zap.String("uri", uri))
}

func contentTypeFor(ext string) string {
	switch ext {
	case "json":
		return "application/json"
	default:
		return "application/xml"
	}
}
