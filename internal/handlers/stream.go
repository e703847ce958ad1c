package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/maneesh/mediastream/internal/metrics"
	"github.com/maneesh/mediastream/internal/models"
	"github.com/maneesh/mediastream/internal/rangereader"
	"github.com/maneesh/mediastream/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Terminal outcomes of a stream request
const (
	outcomeDone          = "done"
	outcomeNotFound      = "not_found"
	outcomeRangeInvalid  = "range_invalid"
	outcomeClientAborted = "client_aborted"
	outcomeStorageError  = "storage_error"
)

// StreamHandler serves GET and HEAD /stream/{fileId} with byte-range support
type StreamHandler struct {
	catalog storage.Catalog
	chunks  storage.ChunkStore
	log     *logrus.Entry
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(catalog storage.Catalog, chunks storage.ChunkStore, log *logrus.Entry) *StreamHandler {
	return &StreamHandler{
		catalog: catalog,
		chunks:  chunks,
		log:     log,
	}
}

func (sh *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "stream_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	fileID := mux.Vars(r)["fileId"]
	span.SetAttributes(attribute.String("file_id", fileID))
	log := requestLog(sh.log, r).WithField("file_id", fileID)

	finish := func(outcome string, served int64, err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.SetAttributes(
			attribute.String("outcome", outcome),
			attribute.Int64("bytes_served", served),
		)
		metrics.StreamRequests.WithLabelValues(outcome).Inc()
		metrics.BytesServed.Add(float64(served))

		entry := log.WithFields(logrus.Fields{"outcome": outcome, "bytes": served})
		switch outcome {
		case outcomeStorageError:
			entry.WithError(err).Error("stream failed")
		case outcomeClientAborted:
			entry.WithError(err).Info("client went away")
		default:
			entry.Debug("stream finished")
		}
	}

	// RESOLVING
	if !validFileID(fileID) {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		finish(outcomeNotFound, 0, nil)
		return
	}
	rec, err := sh.catalog.Get(ctx, fileID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && !rec.Finalized) {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		finish(outcomeNotFound, 0, nil)
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			finish(outcomeClientAborted, 0, err)
			return
		}
		writeStoreError(w, err)
		finish(outcomeStorageError, 0, err)
		return
	}

	// PLANNING
	plan, err := rangereader.NewPlan(r.Header.Get("Range"), rec.Length, rec.ChunkSize)
	if errors.Is(err, models.ErrRangeNotSatisfiable) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Range", rangereader.UnsatisfiedRange(rec.Length))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		finish(outcomeRangeInvalid, 0, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "invalid file record")
		finish(outcomeStorageError, 0, err)
		return
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", rec.ContentType)
	h.Set("Content-Length", strconv.FormatInt(plan.ContentLength(), 10))
	if plan.Partial() {
		h.Set("Content-Range", plan.ContentRange())
	}
	w.WriteHeader(plan.Status)

	if r.Method == http.MethodHead {
		finish(outcomeDone, 0, nil)
		return
	}

	// STREAMING
	reader := rangereader.Open(ctx, sh.chunks, fileID, plan)
	defer reader.Close()

	var served int64
	for reader.Next() {
		n, err := w.Write(reader.Bytes())
		served += int64(n)
		if err != nil {
			finish(outcomeClientAborted, served, err)
			return
		}
	}
	if err := reader.Err(); err != nil {
		if ctx.Err() != nil {
			finish(outcomeClientAborted, served, err)
			return
		}
		finish(outcomeStorageError, served, err)
		return
	}
	finish(outcomeDone, served, nil)
}
