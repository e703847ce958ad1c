package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Routes bundles the endpoint handlers mounted by NewRouter
type Routes struct {
	Upload         *UploadHandler
	Stream         *StreamHandler
	Delete         *DeleteHandler
	Media          *MediaHandler
	Health         *HealthHandler
	MaxUploadBytes int64
}

// NewRouter wires the HTTP surface. File operations are traced; probes and
// metrics are not.
func NewRouter(rt Routes, log *logrus.Entry) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", rt.Health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/ready", rt.Health.Readiness).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	upload := limitBody(rt.MaxUploadBytes, rt.Upload)
	router.Handle("/upload", otelhttp.NewHandler(upload, "POST /upload")).Methods(http.MethodPost)
	router.Handle("/upload/{fileId}", otelhttp.NewHandler(upload, "POST /upload/{fileId}")).Methods(http.MethodPost)

	router.Handle("/stream/{fileId}", otelhttp.NewHandler(rt.Stream, "GET /stream/{fileId}")).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/stream/{fileId}", otelhttp.NewHandler(rt.Delete, "DELETE /stream/{fileId}")).Methods(http.MethodDelete)

	router.Handle("/media/{mediaId}", otelhttp.NewHandler(rt.Media, "GET /media/{mediaId}")).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return RequestID(Logging(log)(router))
}
