package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIDsHandler(t *testing.T) {
	idh := NewIDsHandler()
	id := idh.Generate(BookIDPrefix)
	assert.True(t, strings.HasPrefix(id, "b:"))
	assert.True(t, idh.IsValid(id, BookIDPrefix))
	assert.False(t, idh.IsValid(id, RequestIDPrefix))
	assert.NotEqual(t, id, idh.Generate(BookIDPrefix))

	for _, bad := range []string{"", "b:", "b:123", "1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed", "b:" + strings.Repeat("0", 32)} {
		assert.False(t, idh.IsValid(bad, BookIDPrefix), bad)
	}
}

func TestClock(t *testing.T) {
	assert.Equal(t, time.UTC, NewClock(true).Now().Location())
	assert.Equal(t, time.Local, NewClock(false).Now().Location())

	mock := NewMockClocker()
	tc := NewTickClock(mock)
	assert.Equal(t, mock.Now(), tc.Now())
	ticker := tc.NewTicker(time.Hour)
	ticker.Stop()
}

func TestRouteOf(t *testing.T) {
	testCases := map[string]string{
		"/api/books":                "/api/books",
		"/api/books/":               "/api/books",
		"/api/books/b:1":            "/api/books/:id",
		"/api/books/fetch-external": "/api/books/fetch-external",
		"/status":                   "/status",
		"/ops/stats":                "/ops/stats",
	}
	for path, expected := range testCases {
		assert.Equal(t, expected, RouteOf(path), path)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Second)
		m.ObserveOperation(OpAdd, errors.New("x"))
		m.SetBooksCount(3)
		m.TrackInflight()()
	})
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ops/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRequestSourceIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	assert.Equal(t, "10.0.0.1", GetRequestSourceIP(req))

	req.Header.Set("X-FORWARDED-FOR", "bad, 192.168.1.7")
	assert.Equal(t, "192.168.1.7", GetRequestSourceIP(req))

	req.Header.Set("X-REAL-IP", "172.16.0.3")
	assert.Equal(t, "172.16.0.3", GetRequestSourceIP(req))
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", GetValueFromContext(ctx, ContextRequestID))
	assert.Equal(t, uint64(0), GetRequestNumberFromContext(ctx))
	assert.Nil(t, GetConnFromContext(ctx))

	ctx = context.WithValue(ctx, ContextRequestID, "r:1")
	ctx = context.WithValue(ctx, ContextRequestNumber, uint64(7))
	assert.Equal(t, "r:1", GetValueFromContext(ctx, ContextRequestID))
	assert.Equal(t, uint64(7), GetRequestNumberFromContext(ctx))
}

func TestCustomResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewCustomResponseWriter(rec, nil)
	assert.Equal(t, http.StatusOK, cw.Status())

	cw.WriteHeader(http.StatusTeapot)
	cw.WriteHeader(http.StatusOK)
	n, err := cw.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusTeapot, cw.Status())
	assert.Equal(t, 5, cw.Bytes())
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Same(t, rec, cw.Unwrap())
	assert.ErrorIs(t, cw.SetWriteDeadline(time.Now()), http.ErrNotSupported)
	assert.ErrorIs(t, cw.SetReadDeadline(time.Now()), http.ErrNotSupported)
}

func TestCreateLogFilePath(t *testing.T) {
	at := time.Date(2023, 7, 2, 10, 20, 30, 0, time.UTC)
	assert.Equal(t, filepath.Join("logs", "bcat.20230702.102030.dev.log"), CreateLogFilePath("logs", false, at))
	assert.Equal(t, filepath.Join("logs", "bcat.20230702.102030.prod.log"), CreateLogFilePath("logs", true, at))
}

// TestRSyncWriteRotation ensures a new file is opened once the max size is reached.
func TestRSyncWriteRotation(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "logs")
	clock := NewMockClocker()
	rsw := &RSyncWrite{clock: clock, folder: folder, max: 10}
	defer rsw.Close()

	_, err := rsw.Write([]byte("123456"))
	require.NoError(t, err)
	_, err = rsw.Write([]byte("7890"))
	require.NoError(t, err)

	// the next entry does not fit into the first file.
	clock.MockNow = clock.MockNow.Add(time.Second)
	_, err = rsw.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, rsw.Sync())

	entries, err := os.ReadDir(folder)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first, err := os.ReadFile(filepath.Join(folder, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "1234567890", string(first))
	second, err := os.ReadFile(filepath.Join(folder, entries[1].Name()))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(second))

	_, err = rsw.Write([]byte("way too large entry"))
	assert.Error(t, err)

	require.NoError(t, rsw.Close())
	require.NoError(t, rsw.Close())
}

func TestSetupLogging(t *testing.T) {
	config := &Config{IsProduction: true, LogFolder: t.TempDir(), LogMaxSize: 1, GitTag: "v1"}
	clock := NewMockClocker()
	w := NewRSyncWriter(config, clock)
	logger, flush := SetupLogging(config, w, NewTickClock(clock))
	logger.Info("hello", zap.String("book.id", "b:1"))
	require.NoError(t, flush())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(CreateLogFilePath(config.LogFolder, true, clock.Now()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"book.id":"b:1"`)
	assert.Contains(t, string(data), `"app.tag":"v1"`)
	assert.Contains(t, string(data), `"ts":"2023-07-02T00:00:00.000Z"`)
}
