package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversionupload/config"
)

func TestS3LogSinkWritesObject(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
		ctype  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body, ctype = r.Method, r.URL.Path, string(b), r.Header.Get("Content-Type")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sink := NewS3LogSink(&config.Config{
		S3Region:        "us-east-1",
		AWSS3AccessKey:  "key",
		AWSS3SecretKey:  "secret",
		S3Endpoint:      srv.URL,
		S3UsePathStyle:  true,
		UploadLogBucket: "upload-logs",
	})

	err := sink.Write(context.Background(), "cm360_upload_log_2024-06-10_run.txt", []byte("platform=cm360 requests=1\n"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/upload-logs/cm360_upload_log_2024-06-10_run.txt", path)
	assert.Equal(t, "platform=cm360 requests=1\n", body)
	assert.Equal(t, "text/plain", ctype)
}

func newTestGCSSink(t *testing.T, handler http.HandlerFunc) *GCSLogSink {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("STORAGE_EMULATOR_HOST", srv.URL)

	sink, err := NewGCSLogSink(context.Background(), "upload-logs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestGCSLogSinkWritesObject(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		body   string
	)
	sink := newTestGCSSink(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, body = r.Method, string(b)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"bucket":"upload-logs","name":"sa360_upload_log_2024-06-10_run.txt"}`)
	})

	err := sink.Write(context.Background(), "sa360_upload_log_2024-06-10_run.txt", []byte("platform=sa360 requests=2\n"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPost, method)
	assert.Contains(t, body, "sa360_upload_log_2024-06-10_run.txt")
	assert.Contains(t, body, "platform=sa360 requests=2")
	assert.Contains(t, body, "text/plain")
}

func TestGCSLogSinkSurfacesErrors(t *testing.T) {
	sink := newTestGCSSink(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
	})

	err := sink.Write(context.Background(), "log.txt", []byte("x"))
	assert.ErrorContains(t, err, "gs://upload-logs/log.txt")
}

func TestS3LogSinkSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	sink := NewS3LogSink(&config.Config{
		S3Region:        "us-east-1",
		AWSS3AccessKey:  "key",
		AWSS3SecretKey:  "secret",
		S3Endpoint:      srv.URL,
		S3UsePathStyle:  true,
		UploadLogBucket: "upload-logs",
	})
	err := sink.Write(context.Background(), "log.txt", []byte("x"))
	assert.ErrorContains(t, err, "failed to upload to S3")
}
