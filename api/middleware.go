package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

var errInflatedTooLarge = errors.New("decompressed body too large")

// GzipRequestMiddleware inflates request bodies sent with Content-Encoding
// gzip. Reading past limit decompressed bytes fails with errInflatedTooLarge,
// which surfaces as a validation error from the JSON decoder.
func GzipRequestMiddleware(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !gzipEncoded(req.Header.Values(echo.HeaderContentEncoding)) {
				return next(c)
			}
			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return c.JSON(http.StatusBadRequest, domain.Failure(&domain.ValidationError{Field: "body", Reason: "invalid gzip stream"}))
			}
			req.Body = &inflatedBody{zr: zr, raw: req.Body, left: limit}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func gzipEncoded(values []string) bool {
	for _, v := range values {
		for _, enc := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
				return true
			}
		}
	}
	return false
}

// inflatedBody reads at most left bytes from zr.
type inflatedBody struct {
	zr   *gzip.Reader
	raw  io.ReadCloser
	left int64
}

func (b *inflatedBody) Read(p []byte) (int, error) {
	if b.left <= 0 {
		// probe one byte to tell an exact fit from an overflow
		var one [1]byte
		if n, _ := b.zr.Read(one[:]); n > 0 {
			return 0, errInflatedTooLarge
		}
		return 0, io.EOF
	}
	if int64(len(p)) > b.left {
		p = p[:b.left]
	}
	n, err := b.zr.Read(p)
	b.left -= int64(n)
	return n, err
}

func (b *inflatedBody) Close() error {
	return errors.Join(b.zr.Close(), b.raw.Close())
}
