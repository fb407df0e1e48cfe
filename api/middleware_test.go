package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestGzipRequestMiddlewareLimit(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "under", body: "0123456789"},
		{name: "exact", body: strings.Repeat("x", 16)},
		{name: "over", body: strings.Repeat("x", 64), wantErr: errInflatedTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var read string
			var readErr error
			e := echo.New()
			e.Use(GzipRequestMiddleware(16))
			e.POST("/", func(c echo.Context) error {
				data, err := io.ReadAll(c.Request().Body)
				read, readErr = string(data), err
				return c.NoContent(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(gzipped(t, tt.body)))
			req.Header.Set(echo.HeaderContentEncoding, "identity, GZIP")
			e.ServeHTTP(httptest.NewRecorder(), req)

			if tt.wantErr != nil {
				if !errors.Is(readErr, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, readErr)
				}
				return
			}
			if readErr != nil || read != tt.body {
				t.Fatalf("read %q, %v", read, readErr)
			}
		})
	}
}

func TestGzipRequestMiddlewarePassesPlainBodies(t *testing.T) {
	e := echo.New()
	e.Use(GzipRequestMiddleware(4))
	var read string
	e.POST("/", func(c echo.Context) error {
		data, _ := io.ReadAll(c.Request().Body)
		read = string(data)
		return c.NoContent(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("plain body"))
	e.ServeHTTP(httptest.NewRecorder(), req)
	if read != "plain body" {
		t.Fatalf("plain body altered: %q", read)
	}
}

func TestGzipRequestMiddlewareRejectsInvalidStream(t *testing.T) {
	e := echo.New()
	e.Use(GzipRequestMiddleware(16))
	e.POST("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if res := decodeResult(t, rec); res.Kind != "validation" {
		t.Fatalf("expected validation kind, got %q", res.Kind)
	}
}
