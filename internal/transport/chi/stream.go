package chi

import (
	"encoding/json"
	"net/http"
)

// ndjsonStream writes newline-delimited JSON records, flushing after each
// one so clients see progress immediately.
type ndjsonStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	wrote   bool
	broken  bool
}

func newNDJSONStream(w http.ResponseWriter) *ndjsonStream {
	flusher, _ := w.(http.Flusher)
	return &ndjsonStream{w: w, flusher: flusher}
}

// write emits one record. The first write commits the response headers.
// A write failure (client gone) marks the stream broken; later writes are
// dropped so callers can keep draining their sources.
func (s *ndjsonStream) write(v any) error {
	if s.broken {
		return http.ErrBodyNotAllowed
	}
	if !s.wrote {
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.WriteHeader(http.StatusOK)
		s.wrote = true
	}

	data, err := json.Marshal(v)
	if err != nil {
		s.broken = true
		return err
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		s.broken = true
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// started reports whether response headers have been committed.
func (s *ndjsonStream) started() bool {
	return s.wrote
}
