package storage

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maneesh/mediastream/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkKeysSortByIndex(t *testing.T) {
	keys := []string{chunkKey("clip", 10), chunkKey("clip", 2), chunkKey("clip", 0), chunkKey("clip", 1)}
	sort.Strings(keys)
	assert.Equal(t, []string{
		"chunks/clip/0000000000",
		"chunks/clip/0000000001",
		"chunks/clip/0000000002",
		"chunks/clip/0000000010",
	}, keys)
	assert.Equal(t, "chunks/clip/", filePrefix("clip"))
}

func TestChecksumFromMetadata(t *testing.T) {
	assert.Equal(t, "abc", checksumFromMetadata(map[string]string{"X-Amz-Meta-Sha256": "abc"}))
	assert.Equal(t, "abc", checksumFromMetadata(map[string]string{"Sha256": "abc"}))
	assert.Empty(t, checksumFromMetadata(map[string]string{"Content-Type": "application/octet-stream"}))
}

func TestIsNoSuchKey(t *testing.T) {
	assert.True(t, isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNoSuchKey(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNoSuchKey(errors.New("dial tcp: connection refused")))
}

func TestStorageErrKeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := storageErr("failed to get object", cause)
	require.ErrorIs(t, err, models.ErrStorage)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to get object: storage error: timeout", err.Error())
}

// s3Double is a single-bucket, path-style S3 endpoint backed by a map.
// It speaks just enough of the protocol for the calls MinioChunkStore makes.
type s3Double struct {
	mu         sync.Mutex
	bucket     string
	created    bool
	objects    map[string]s3Object
	failDelete map[string]bool
}

type s3Object struct {
	data []byte
	meta http.Header
}

type s3Error struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

type s3ListResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	MaxKeys     int           `xml:"MaxKeys"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []s3ListEntry `xml:"Contents"`
}

type s3ListEntry struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
}

type s3DeleteRequest struct {
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
}

type s3DeleteResult struct {
	XMLName xml.Name        `xml:"DeleteResult"`
	Errors  []s3DeleteError `xml:"Error"`
}

type s3DeleteError struct {
	Key     string `xml:"Key"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

func newS3Double(bucket string) *s3Double {
	return &s3Double{bucket: bucket, objects: make(map[string]s3Object), failDelete: make(map[string]bool)}
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(v)
}

func (s *s3Double) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != s.bucket || (!s.created && !(key == "" && r.Method == http.MethodPut)) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeXML(w, http.StatusNotFound, s3Error{Code: "NoSuchBucket", Message: "bucket does not exist"})
		return
	}

	if key == "" {
		s.serveBucket(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		meta := make(http.Header)
		for k, v := range r.Header {
			if strings.HasPrefix(strings.ToLower(k), "x-amz-meta-") {
				meta[k] = v
			}
		}
		s.objects[key] = s3Object{data: data, meta: meta}
		w.Header().Set("ETag", `"etag-`+strconv.Itoa(len(data))+`"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead, http.MethodGet:
		obj, ok := s.objects[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeXML(w, http.StatusNotFound, s3Error{Code: "NoSuchKey", Message: "key does not exist"})
			return
		}
		h := w.Header()
		for k, v := range obj.meta {
			h[k] = v
		}
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Length", strconv.Itoa(len(obj.data)))
		h.Set("ETag", `"etag-`+strconv.Itoa(len(obj.data))+`"`)
		h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.data)
		}
	case http.MethodDelete:
		if s.failDelete[key] {
			writeXML(w, http.StatusForbidden, s3Error{Code: "AccessDenied", Message: "access denied"})
			return
		}
		delete(s.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *s3Double) serveBucket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		s.created = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && q.Has("location"):
		writeXML(w, http.StatusOK, struct {
			XMLName xml.Name `xml:"LocationConstraint"`
			Value   string   `xml:",chardata"`
		}{Value: "us-east-1"})
	case r.Method == http.MethodGet:
		prefix := q.Get("prefix")
		res := s3ListResult{Name: s.bucket, Prefix: prefix, MaxKeys: 1000}
		for key, obj := range s.objects {
			if strings.HasPrefix(key, prefix) {
				res.Contents = append(res.Contents, s3ListEntry{
					Key:          key,
					LastModified: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
					ETag:         `"etag"`,
					Size:         len(obj.data),
				})
			}
		}
		sort.Slice(res.Contents, func(i, j int) bool { return res.Contents[i].Key < res.Contents[j].Key })
		res.KeyCount = len(res.Contents)
		writeXML(w, http.StatusOK, res)
	case r.Method == http.MethodPost && q.Has("delete"):
		var req s3DeleteRequest
		if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var res s3DeleteResult
		for _, o := range req.Objects {
			if s.failDelete[o.Key] {
				res.Errors = append(res.Errors, s3DeleteError{Key: o.Key, Code: "AccessDenied", Message: "access denied"})
				continue
			}
			delete(s.objects, o.Key)
		}
		writeXML(w, http.StatusOK, res)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *s3Double) corrupt(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.objects[key]
	obj.data = append([]byte(nil), obj.data...)
	obj.data[0] ^= 0xff
	s.objects[key] = obj
}

func (s *s3Double) denyDelete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete[key] = true
}

func (s *s3Double) bucketCreated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func (s *s3Double) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newTestMinioStore(t *testing.T) (*MinioChunkStore, *s3Double) {
	t.Helper()

	s3 := newS3Double("media")
	srv := httptest.NewTLSServer(s3)
	t.Cleanup(srv.Close)

	client, err := minio.New(strings.TrimPrefix(srv.URL, "https://"), &minio.Options{
		Creds:     credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure:    true,
		Region:    "us-east-1",
		Transport: srv.Client().Transport,
	})
	require.NoError(t, err)

	l := logrus.New()
	l.SetOutput(io.Discard)
	store, err := newMinioChunkStore(context.Background(), client, "media", logrus.NewEntry(l))
	require.NoError(t, err)
	return store, s3
}

func TestMinioStoreCreatesBucket(t *testing.T) {
	store, s3 := newTestMinioStore(t)
	assert.True(t, s3.bucketCreated())
	require.NoError(t, store.Ping(context.Background()))
}

func TestMinioPutIsWriteOnce(t *testing.T) {
	store, s3 := newTestMinioStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "clip", 0, []byte("first")))
	err := store.Put(ctx, "clip", 0, []byte("second"))
	require.ErrorIs(t, err, models.ErrChunkExists)

	data, err := store.Get(ctx, "clip", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)
	assert.Equal(t, []string{"chunks/clip/0000000000"}, s3.keys())
}

func TestMinioGetMissingChunk(t *testing.T) {
	store, _ := newTestMinioStore(t)

	_, err := store.Get(context.Background(), "clip", 3)
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.NotErrorIs(t, err, models.ErrStorage)
}

func TestMinioGetDetectsChecksumMismatch(t *testing.T) {
	store, s3 := newTestMinioStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "clip", 0, []byte("0123456789")))
	s3.corrupt(chunkKey("clip", 0))

	_, err := store.Get(ctx, "clip", 0)
	require.ErrorIs(t, err, models.ErrCorruption)
	require.ErrorIs(t, err, models.ErrStorage)
}

func TestMinioGetRangeReportsGap(t *testing.T) {
	store, _ := newTestMinioStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "clip", 0, []byte("aa")))
	require.NoError(t, store.Put(ctx, "clip", 2, []byte("cc")))

	it := store.GetRange(ctx, "clip", 0, 2)
	defer it.Close()

	require.True(t, it.Next())
	assert.Equal(t, int64(0), it.Chunk().Index)
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), models.ErrCorruption)
}

func TestMinioDeleteAll(t *testing.T) {
	store, s3 := newTestMinioStore(t)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		require.NoError(t, store.Put(ctx, "clip", i, []byte("chunk")))
	}
	require.NoError(t, store.Put(ctx, "other", 0, []byte("keep")))

	n, err := store.DeleteAll(ctx, "clip")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []string{"chunks/other/0000000000"}, s3.keys())

	n, err = store.DeleteAll(ctx, "clip")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMinioDeleteAllPartialFailure(t *testing.T) {
	store, s3 := newTestMinioStore(t)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		require.NoError(t, store.Put(ctx, "clip", i, []byte("chunk")))
	}
	s3.denyDelete(chunkKey("clip", 1))

	n, err := store.DeleteAll(ctx, "clip")
	require.ErrorIs(t, err, models.ErrStorage)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"chunks/clip/0000000001"}, s3.keys())
}
