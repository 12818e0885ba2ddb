package watcher

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-feed-sync/api"
	"property-feed-sync/services"
	"property-feed-sync/storage"
	"property-feed-sync/utils"
)

func newTestForwarder(url, workDir string) *Forwarder {
	logger := utils.NewDiscardLogger()
	return NewForwarder(ForwarderConfig{
		URL:     url,
		Secret:  "s3cret",
		WorkDir: workDir,
		Retry:   utils.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, logger)
}

func writeFeed(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestForwarderPostsMultipart(t *testing.T) {
	var seen atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		file, hdr, err := r.FormFile("xml")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "hektor.xml", hdr.Filename)
		assert.Equal(t, "application/xml", hdr.Header.Get("Content-Type"))
		body, _ := io.ReadAll(file)
		assert.Equal(t, "<hektor><ad/></hektor>", string(body))
		seen.Store(true)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"processed":4,"total":5}`))
	}))
	defer srv.Close()

	path := writeFeed(t, t.TempDir(), "feed.xml", []byte("<hektor><ad/></hektor>"))
	res, err := newTestForwarder(srv.URL, "").IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, seen.Load())
	assert.Equal(t, 4, res.Sync.Processed)
	assert.Equal(t, 5, res.Sync.Total)
	assert.Empty(t, res.Extracted)
}

func TestForwarderRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, `{"error":"Internal server error"}`, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"processed":1,"total":1}`))
	}))
	defer srv.Close()

	path := writeFeed(t, t.TempDir(), "feed.xml", []byte("<hektor/>"))
	res, err := newTestForwarder(srv.URL, "").IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 1, res.Sync.Processed)
}

func TestForwarderClientErrorsArePermanent(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
	}))
	defer srv.Close()

	path := writeFeed(t, t.TempDir(), "feed.xml", []byte("<hektor/>"))
	_, err := newTestForwarder(srv.URL, "").IngestFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestForwarderDiscardsExtractOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	dir := t.TempDir()
	work := filepath.Join(dir, ".work")
	zipPath := filepath.Join(dir, "feed.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("export.xml")
	require.NoError(t, err)
	_, _ = w.Write([]byte("<hektor/>"))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = newTestForwarder(srv.URL, work).IngestFile(context.Background(), zipPath)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(work, "export.xml"))
	assert.FileExists(t, zipPath)
}

func TestForwarderAgainstIngestionEndpoint(t *testing.T) {
	logger := utils.NewDiscardLogger()
	store := storage.NewMemoryStore()
	engine := services.NewSyncEngine(store, nil, services.SyncConfig{Workers: 2}, logger)
	pipeline := services.NewPipeline(services.NewMapper(services.DefaultTables(), logger), engine, services.PipelineConfig{}, logger)
	srv := httptest.NewServer(api.NewServer(pipeline, nil, api.ServerConfig{Secret: "s3cret"}, logger).Handler())
	defer srv.Close()

	data, err := os.ReadFile("../services/testdata/hektor_sample.xml")
	require.NoError(t, err)
	path := writeFeed(t, t.TempDir(), "feed.xml", data)

	res, err := newTestForwarder(srv.URL+"/api/hektor-webhook", "").IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sync.Processed)
	assert.Equal(t, 2, store.Len())
}
