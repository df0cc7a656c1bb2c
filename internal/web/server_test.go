package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/JonMunkholm/tdfc/internal/config"
	"github.com/JonMunkholm/tdfc/internal/core"
	"github.com/JonMunkholm/tdfc/internal/store"
	"github.com/JonMunkholm/tdfc/internal/xlsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type testServer struct {
	srv *Server
	cfg *config.Config
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := &config.Config{
		Server:   config.ServerConfig{RequestTimeout: 30 * time.Second},
		Storage:  config.StorageConfig{Dir: t.TempDir(), DataFile: "current.xlsx", Sheet: "2026"},
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: "tdfc_cache.sqlite"},
		Upload:   config.UploadConfig{MaxFileSize: 1 << 20, MaxConcurrent: 2, MaxWaitTime: time.Second},
		Cache:    config.CacheConfig{LookupEntries: 16},
	}
	for _, m := range mutate {
		m(cfg)
	}

	st, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	opts := store.ServiceOptions(cfg)
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := core.NewService(st, xlsx.Opener{}, opts)
	require.NoError(t, err)

	srv := NewServer(svc, cfg)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testServer{srv: srv, cfg: cfg}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(t *testing.T, target string) *httptest.ResponseRecorder {
	return ts.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (ts *testServer) upload(t *testing.T, target, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mp := multipart.NewWriter(&body)
	part, err := mp.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mp.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mp.FormDataContentType())
	return ts.do(t, req)
}

// workbook returns xlsx bytes with rows on sheet 2026.
func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "2026"))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("2026", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func lookupWorkbook(t *testing.T) []byte {
	return workbook(t,
		[]any{"Correspondance TDFC"},
		[]any{"Notes", "Imprimé", "Code EDI", "Libellé"},
		[]any{"x", "1234", "001A", "Some Label"},
		[]any{"y", "1234", "001A", "some label"},
		[]any{"z", "1234", "001A", "Other Label"},
	)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e ErrorResponse
	decode(t, rec, &e)
	return e.Code
}

func TestLookup_NoSource(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get(t, "/lookup?imprime=1234&codeedi=001A")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "SRC001", errorCode(t, rec))
}

func TestUploadThenLookup(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.upload(t, "/upload", "TDFC 2026.XLSX", lookupWorkbook(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var up uploadResponse
	decode(t, rec, &up)
	assert.True(t, up.OK)
	assert.Equal(t, 3, up.Summary.RowsIndexed)
	assert.Equal(t, 2, up.Summary.HeaderRow)

	t.Run("single", func(t *testing.T) {
		rec := ts.get(t, "/lookup?imprime=1234&codeedi=001a")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"found":true,"libelle":"Some Label"}`, rec.Body.String())
	})

	t.Run("all", func(t *testing.T) {
		rec := ts.get(t, "/lookup?imprime=1234&codeedi=001A&all=true")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"found":true,"libelles":["Some Label","Other Label"]}`, rec.Body.String())
	})

	t.Run("not found", func(t *testing.T) {
		rec := ts.get(t, "/lookup?imprime=1234&codeedi=999Z")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"found":false,"libelle":""}`, rec.Body.String())

		rec = ts.get(t, "/lookup?imprime=1234&codeedi=999Z&all=1")
		assert.JSONEq(t, `{"found":false,"libelles":[]}`, rec.Body.String())
	})

	t.Run("empty key", func(t *testing.T) {
		rec := ts.get(t, "/lookup?imprime=&codeedi=001A")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"found":false,"libelle":""}`, rec.Body.String())
	})
}

func TestLookup_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		target   string
		wantCode string
	}{
		{"missing imprime", "/lookup?codeedi=001A", "VAL001"},
		{"missing codeedi", "/lookup?imprime=1234", "VAL001"},
		{"bad all flag", "/lookup?imprime=1234&codeedi=001A&all=maybe", "VAL002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.get(t, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}
}

func TestLookup_MissingHeaders(t *testing.T) {
	ts := newTestServer(t)

	data := workbook(t, []any{"Imprimé", "Libellé"}, []any{"1234", "label"})
	rec := ts.upload(t, "/upload", "bad.xlsx", data)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "SCH002", errorCode(t, rec))

	rec = ts.get(t, "/lookup?imprime=1234&codeedi=001A")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpload_Rejections(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Upload.MaxFileSize = 64 })

	t.Run("wrong extension", func(t *testing.T) {
		rec := ts.upload(t, "/upload", "data.csv", []byte("a,b"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "FILE003", errorCode(t, rec))
	})

	t.Run("no file", func(t *testing.T) {
		var body bytes.Buffer
		mp := multipart.NewWriter(&body)
		require.NoError(t, mp.WriteField("other", "x"))
		require.NoError(t, mp.Close())
		req := httptest.NewRequest(http.MethodPost, "/upload", &body)
		req.Header.Set("Content-Type", mp.FormDataContentType())

		rec := ts.do(t, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "FILE004", errorCode(t, rec))
	})

	t.Run("too large", func(t *testing.T) {
		rec := ts.upload(t, "/upload", "big.xlsx", bytes.Repeat([]byte("x"), 65))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "FILE001", errorCode(t, rec))
	})

	t.Run("not a workbook", func(t *testing.T) {
		rec := ts.upload(t, "/upload", "fake.xlsx", []byte("not a zip"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "FILE002", errorCode(t, rec))
	})
}

func TestAdminKey(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Security.AdminKey = "s3cret" })

	t.Run("home asks for key", func(t *testing.T) {
		rec := ts.get(t, "/")
		assert.Contains(t, rec.Body.String(), `name="key"`)
	})

	t.Run("missing", func(t *testing.T) {
		rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/rebuild", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "AUTH001", errorCode(t, rec))
	})

	t.Run("wrong", func(t *testing.T) {
		rec := ts.upload(t, "/upload?key=nope", "a.xlsx", lookupWorkbook(t))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "AUTH002", errorCode(t, rec))
	})

	t.Run("query key", func(t *testing.T) {
		rec := ts.upload(t, "/upload?key="+url.QueryEscape("s3cret"), "a.xlsx", lookupWorkbook(t))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("header key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/rebuild", nil)
		req.Header.Set("X-API-Key", "s3cret")
		rec := ts.do(t, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var sum core.RebuildSummary
		decode(t, rec, &sum)
		assert.Equal(t, "2026", sum.Sheet)
		assert.Equal(t, 3, sum.RowsIndexed)
	})

	t.Run("lookup stays open", func(t *testing.T) {
		rec := ts.get(t, "/lookup?imprime=1234&codeedi=001A")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRebuild_NoSource(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/rebuild", nil))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "SRC001", errorCode(t, rec))
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get(t, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var before map[string]any
	decode(t, rec, &before)
	assert.Equal(t, false, before["sourcePresent"])
	assert.Equal(t, false, before["fresh"])
	assert.Equal(t, map[string]any{"active": 0.0, "available": 2.0, "max_concurrent": 2.0}, before["uploads"])

	require.Equal(t, http.StatusOK, ts.upload(t, "/upload", "a.xlsx", lookupWorkbook(t)).Code)

	rec = ts.get(t, "/status")
	var after statusResponse
	decode(t, rec, &after)
	assert.True(t, after.SourcePresent)
	assert.True(t, after.Fresh)
	assert.Equal(t, 3, after.Entries)
	require.NotNil(t, after.LastRebuild)
	assert.Equal(t, 3, after.LastRebuild.RowsIndexed)
}

func TestLookup_IgnoresSheetParameter(t *testing.T) {
	ts := newTestServer(t)

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "2026"))
	_, err := f.NewSheet("2025")
	require.NoError(t, err)
	for _, sheet := range []string{"2026", "2025"} {
		require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Imprimé", "Code EDI", "Libellé"}))
		require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"1234", "001A", "Label " + sheet}))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rec := ts.upload(t, "/upload", "two.xlsx", buf.Bytes())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var up uploadResponse
	decode(t, rec, &up)

	for _, target := range []string{
		"/lookup?imprime=1234&codeedi=001A&sheet=2025",
		"/lookup?imprime=1234&codeedi=001A",
		"/lookup?imprime=1234&codeedi=001A&sheet=2025",
		"/lookup?imprime=1234&codeedi=001A&sheet=made-up",
	} {
		rec := ts.get(t, target)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got singleResponse
		decode(t, rec, &got)
		assert.Equal(t, singleResponse{Found: true, Libelle: "Label 2026"}, got, target)
	}

	rec = ts.get(t, "/status?sheet=2025")
	var st statusResponse
	decode(t, rec, &st)
	assert.Equal(t, "2026", st.Sheet)
	assert.True(t, st.Fresh)
	require.NotNil(t, st.LastRebuild)
	assert.Equal(t, up.Summary.RebuildID, st.LastRebuild.RebuildID, "lookups must not rebuild")
}

func TestHomeAndHealth(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Storage.Sheet = "<2026>" })

	rec := ts.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "TDFC Lookup")
	assert.Contains(t, rec.Body.String(), "&lt;2026&gt;")
	assert.NotContains(t, rec.Body.String(), `name="key"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = ts.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = ts.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	})

	for range 2 {
		assert.Equal(t, http.StatusOK, ts.get(t, "/healthz").Code)
	}
	rec := ts.get(t, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", errorCode(t, rec))

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	assert.Equal(t, http.StatusOK, ts.do(t, req).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config", &core.ConfigurationError{Path: "x", Err: core.ErrNoSource}, http.StatusPreconditionFailed},
		{"config invalid format", &core.ConfigurationError{Path: "x", Err: core.ErrInvalidFormat}, http.StatusPreconditionFailed},
		{"schema", &core.SchemaError{Sheet: "s", Err: core.ErrSheetNotFound}, http.StatusUnprocessableEntity},
		{"uploads busy", core.ErrTooManyUploads, http.StatusTooManyRequests},
		{"upload invalid format", core.ErrInvalidFormat, http.StatusBadRequest},
		{"storage", core.StorageError("first", io.ErrUnexpectedEOF), http.StatusServiceUnavailable},
		{"index changed", fmt.Errorf("%w after 3 attempts", core.ErrIndexChanged), http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseFlag(t *testing.T) {
	for _, v := range []string{"true", "1", "on", "YES", " True "} {
		got, err := parseFlag(v)
		if err != nil || !got {
			t.Errorf("parseFlag(%q) = %v, %v, want true", v, got, err)
		}
	}
	for _, v := range []string{"", "false", "0", "off", "no"} {
		got, err := parseFlag(v)
		if err != nil || got {
			t.Errorf("parseFlag(%q) = %v, %v, want false", v, got, err)
		}
	}
	if _, err := parseFlag("maybe"); err == nil {
		t.Error("parseFlag(maybe) succeeded")
	}
}
