package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/maneesh/mediastream/internal/models"
	"github.com/maneesh/mediastream/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultContentType = "application/octet-stream"

var errNoFilePart = errors.New("multipart body has no file part")

// Ingester is the part of the ingest pipeline the upload endpoint needs
type Ingester interface {
	Ingest(ctx context.Context, fileID, contentType string, body io.Reader) (*models.FileRecord, error)
}

// UploadHandler handles POST /upload and POST /upload/{fileId}
type UploadHandler struct {
	ingester Ingester
	media    storage.MediaStore
	log      *logrus.Entry
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(ingester Ingester, media storage.MediaStore, log *logrus.Entry) *UploadHandler {
	return &UploadHandler{ingester: ingester, media: media, log: log}
}

func (uh *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	fileID, ok := mux.Vars(r)["fileId"]
	if !ok {
		fileID = uuid.NewString()
	}
	if !validFileID(fileID) {
		writeError(w, http.StatusBadRequest, "invalid_file_id", "file id must match [A-Za-z0-9_-]{1,64}")
		return
	}
	span.SetAttributes(attribute.String("file_id", fileID))
	log := requestLog(uh.log, r).WithField("file_id", fileID)

	body, contentType, err := uploadBody(r)
	if err != nil {
		span.RecordError(err)
		log.WithError(err).Warn("rejected upload body")
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "could not read upload body")
		return
	}
	span.SetAttributes(attribute.String("content_type", contentType))

	rec, err := uh.ingester.Ingest(ctx, fileID, contentType, body)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, models.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "already_exists", "a file with this id already exists")
		case isTooLarge(err):
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the size limit")
		default:
			log.WithError(err).Error("upload failed")
			writeError(w, http.StatusInternalServerError, "upload_failed", "upload could not be stored")
		}
		return
	}

	if err := uh.media.Register(ctx, fileID, fileID); err != nil {
		log.WithError(err).Warn("failed to register media row")
	}

	writeJSON(w, http.StatusCreated, rec.Summarize())
}

// uploadBody returns the raw body, or the first file part of a multipart form
func uploadBody(r *http.Request) (io.Reader, string, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" {
		if contentType == "" {
			contentType = defaultContentType
		}
		return r.Body, contentType, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open multipart body: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", errNoFilePart
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to read multipart body: %w", err)
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}
		partType := part.Header.Get("Content-Type")
		if partType == "" {
			partType = defaultContentType
		}
		return part, partType, nil
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
