package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/mediastream/internal/ingest"
	"github.com/maneesh/mediastream/internal/models"
	"github.com/maneesh/mediastream/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Purger removes a file's chunks and then its record
type Purger interface {
	Purge(ctx context.Context, fileID string) (ingest.PurgeResult, error)
}

// DeleteHandler handles DELETE /stream/{fileId}
type DeleteHandler struct {
	purger Purger
	media  storage.MediaStore
	log    *logrus.Entry
}

// NewDeleteHandler creates a new delete handler
func NewDeleteHandler(purger Purger, media storage.MediaStore, log *logrus.Entry) *DeleteHandler {
	return &DeleteHandler{purger: purger, media: media, log: log}
}

func (dh *DeleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	fileID := mux.Vars(r)["fileId"]
	if !validFileID(fileID) {
		writeError(w, http.StatusBadRequest, "invalid_file_id", "file id must match [A-Za-z0-9_-]{1,64}")
		return
	}
	span.SetAttributes(attribute.String("file_id", fileID))
	log := requestLog(dh.log, r).WithField("file_id", fileID)

	res, err := dh.purger.Purge(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		log.WithError(err).WithField("chunks_deleted", res.ChunksDeleted).Error("delete failed")
		writeStoreError(w, err)
		return
	}

	if err := dh.media.Delete(ctx, fileID); err != nil && !errors.Is(err, models.ErrNotFound) {
		log.WithError(err).Warn("failed to delete media row")
	}

	span.SetAttributes(attribute.Int64("chunks_deleted", res.ChunksDeleted))
	log.WithFields(logrus.Fields{"chunks_deleted": res.ChunksDeleted, "deleted": res.Deleted}).Info("file deleted")
	writeJSON(w, http.StatusOK, res)
}
