/**
 * @description
 * This file holds chi middleware for the merchant service: a response
 * body-capturing writer so the request-log recorder can see what was sent
 * back without every handler threading it through explicitly, and the
 * around-handler hook that times the request and hands the captured
 * before/after metadata to the recorder.
 *
 * @dependencies
 * - net/http, time: Standard Go libraries.
 * - internal/requestlog: Async persistence sink.
 */

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ucp-demo/merchant-service/internal/requestlog"
)

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *responseRecorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// RequestLogMiddleware wraps every UCP/AP2 request, capturing its body and
// response and handing both to rec on a separate goroutine after the
// handler returns, so recording never delays the response. kind labels
// the surface ("ucp" or "ap2") for the persisted entry.
func RequestLogMiddleware(rec *requestlog.Recorder, kind string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var reqBody []byte
			if r.Body != nil {
				reqBody, _ = io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewReader(reqBody))
			}

			rw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rw, r)
			duration := time.Since(start)

			entry := requestlog.Entry{
				Kind:         kind,
				Endpoint:     r.URL.Path,
				Method:       r.Method,
				Status:       rw.status,
				RequestBody:  truncate(string(reqBody), 4096),
				ResponseBody: truncate(rw.body.String(), 4096),
				ClientIP:     clientIP(r),
				Duration:     duration,
			}
			go rec.Record(context.WithoutCancel(r.Context()), entry)
		})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
