package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

var errInvalidBody = errors.New("invalid request body")

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

// readBody reads a bounded raw request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// sseWriter writes Server-Sent Events frames and flushes each one. Every
// frame must reach the client within writeWait, so a dashboard that stops
// reading cannot pin the handler.
type sseWriter struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	writeWait time.Duration
}

func newSSEWriter(w http.ResponseWriter, writeWait time.Duration) (*sseWriter, error) {
	s := &sseWriter{w: w, rc: http.NewResponseController(w), writeWait: writeWait}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := s.extend(); err != nil {
		return nil, err
	}
	w.WriteHeader(http.StatusOK)
	if err := s.rc.Flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// extend pushes the write deadline out by writeWait. Writers without a
// deadline, such as httptest.ResponseRecorder, are left as they are.
func (s *sseWriter) extend() error {
	if s.writeWait <= 0 {
		return nil
	}
	err := s.rc.SetWriteDeadline(time.Now().Add(s.writeWait))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (s *sseWriter) frame(format string, args ...interface{}) error {
	if err := s.extend(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, format, args...); err != nil {
		return err
	}
	return s.rc.Flush()
}

// event writes a named event.
func (s *sseWriter) event(name string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.frame("event: %s\ndata: %s\n\n", name, jsonData)
}

// data writes an unnamed event with an id, which browsers dispatch to
// EventSource.onmessage.
func (s *sseWriter) data(id uint64, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.frame("id: %d\ndata: %s\n\n", id, jsonData)
}
