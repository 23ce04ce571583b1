package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// LimitBody lets handlers read at most maxBytes of a request body, measured
// after gzip content encoding is undone.
func LimitBody(maxBytes int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			body, err := decodeBody(req)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = http.MaxBytesReader(c.Response(), body, maxBytes)
			return next(c)
		}
	}
}

// decodeBody unwraps a gzip encoded body and drops the headers that described
// the encoded form. Other bodies are returned as is.
func decodeBody(req *http.Request) (io.ReadCloser, error) {
	if !gzipEncoded(req.Header) {
		return req.Body, nil
	}
	zr, err := gzip.NewReader(req.Body)
	if err != nil {
		_ = req.Body.Close()
		return nil, err
	}
	req.ContentLength = -1
	req.Header.Del(echo.HeaderContentEncoding)
	req.Header.Del(echo.HeaderContentLength)
	return gunzipBody{zr: zr, raw: req.Body}, nil
}

func gzipEncoded(h http.Header) bool {
	for _, value := range h.Values(echo.HeaderContentEncoding) {
		for _, coding := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(coding), "gzip") {
				return true
			}
		}
	}
	return false
}

type gunzipBody struct {
	zr  *gzip.Reader
	raw io.ReadCloser
}

func (b gunzipBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b gunzipBody) Close() error {
	return errors.Join(b.zr.Close(), b.raw.Close())
}
