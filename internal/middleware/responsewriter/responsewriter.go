// Package responsewriter records what a handler wrote to the
// http.ResponseWriter of a request and exposes the recorder through the
// request context.
package responsewriter

import (
	"context"
	"errors"
	"net/http"
)

// Using an unexported type prevents key collisions from other packages.
type responseWriterKey string

// ResponseWriterKey is the context key for the recorder.
const ResponseWriterKey responseWriterKey = "response-writer"

// Recorder wraps a http.ResponseWriter and remembers the status code and the
// number of body bytes written.
type Recorder struct {
	http.ResponseWriter

	status int
	bytes  int64
}

func NewRecorder(w http.ResponseWriter) *Recorder {
	return &Recorder{ResponseWriter: w}
}

func (r *Recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *Recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)

	return n, err
}

// Status returns the written status code; 200 if the handler wrote nothing.
func (r *Recorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}

	return r.status
}

func (r *Recorder) BytesWritten() int64 {
	return r.bytes
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// ResponseWriterMiddleware is an http.Handler middleware that wraps the
// response writer in a Recorder and injects it into the context.
func ResponseWriterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := w.(*Recorder)
		if !ok {
			rec = NewRecorder(w)
		}
		ctx := context.WithValue(r.Context(), ResponseWriterKey, rec)
		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// RecorderFromContext retrieves the recorder injected by
// ResponseWriterMiddleware.
func RecorderFromContext(ctx context.Context) (*Recorder, error) {
	rec, ok := ctx.Value(ResponseWriterKey).(*Recorder)
	if !ok {
		return nil, errors.New("response writer not found in context")
	}
	return rec, nil
}
