package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"time"
)

// storedEntry is the on-disk form of an Entry.
type storedEntry struct {
	Key      string
	Method   string
	URL      string
	Status   int
	Header   map[string][]string
	Body     []byte
	StoredAt time.Time
}

func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	se := storedEntry{
		Key:      e.Key,
		Method:   e.Method,
		URL:      e.URL,
		Status:   e.Status,
		Header:   e.Header,
		Body:     e.Body,
		StoredAt: e.StoredAt,
	}
	if err := gob.NewEncoder(&buf).Encode(&se); err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var se storedEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&se); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	return &Entry{
		Key:      se.Key,
		Method:   se.Method,
		URL:      se.URL,
		Status:   se.Status,
		Header:   http.Header(se.Header),
		Body:     se.Body,
		StoredAt: se.StoredAt,
	}, nil
}

func newBodyReader(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}
