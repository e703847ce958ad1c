package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/mediastream/internal/metrics"
	"github.com/maneesh/mediastream/internal/models"
	"github.com/maneesh/mediastream/internal/storage"
	"github.com/sirupsen/logrus"
)

// DefaultViewTimeout bounds a detached view increment when none is configured
const DefaultViewTimeout = 5 * time.Second

// MediaHandler handles GET /media/{mediaId}. Every successful read counts a view;
// the returned record is the one read before the increment.
type MediaHandler struct {
	media       storage.MediaStore
	log         *logrus.Entry
	viewTimeout time.Duration

	pending sync.WaitGroup
}

func NewMediaHandler(media storage.MediaStore, log *logrus.Entry, viewTimeout time.Duration) *MediaHandler {
	if viewTimeout <= 0 {
		viewTimeout = DefaultViewTimeout
	}
	return &MediaHandler{media: media, log: log, viewTimeout: viewTimeout}
}

func (mh *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mediaID := mux.Vars(r)["mediaId"]
	if !validFileID(mediaID) {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	rec, err := mh.media.Get(r.Context(), mediaID)
	if err != nil {
		requestLog(mh.log, r).WithError(err).WithField("media_id", mediaID).Debug("media lookup failed")
		writeStoreError(w, err)
		return
	}
	mh.countView(r.Context(), mediaID)
	writeJSON(w, http.StatusOK, rec)
}

// countView increments the view counter in the background. The request context
// only contributes values; its cancellation does not stop the increment.
func (mh *MediaHandler) countView(ctx context.Context, mediaID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mh.viewTimeout)

	mh.pending.Add(1)
	go func() {
		defer mh.pending.Done()
		defer cancel()

		views, err := mh.media.Increment(ctx, mediaID)
		switch {
		case err == nil:
			metrics.ViewIncrements.WithLabelValues("ok").Inc()
			mh.log.WithFields(logrus.Fields{"media_id": mediaID, "views": views}).Debug("view counted")
		case errors.Is(err, models.ErrNotFound):
			metrics.ViewIncrements.WithLabelValues("not_found").Inc()
			mh.log.WithField("media_id", mediaID).Debug("media row deleted before view was counted")
		default:
			metrics.ViewIncrements.WithLabelValues("error").Inc()
			mh.log.WithError(err).WithField("media_id", mediaID).Warn("failed to increment views")
		}
	}()
}

// Wait blocks until in-flight view increments have finished
func (mh *MediaHandler) Wait() {
	mh.pending.Wait()
}
