package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"vietnews-crawler/pkg/types"
)

// JSONLSink appends article records to a single line-delimited JSON file,
// one file per source. Appends are serialized by a mutex owned by the sink
// instance, so two engines writing different artifacts never cross-block.
// The file is opened in append mode per write: slower than holding a handle,
// but nothing is buffered when the process dies mid-run.
type JSONLSink struct {
	mu   sync.Mutex
	path string
}

// NewJSONLSink creates the output directory if absent and returns a sink
// writing to <dir>/<source>_records.jsonl.
func NewJSONLSink(dir, source string) (*JSONLSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &JSONLSink{
		path: filepath.Join(dir, source+"_records.jsonl"),
	}, nil
}

// Path returns the artifact location.
func (s *JSONLSink) Path() string {
	return s.path
}

// Append serializes the record and writes it as one line. The write happens
// as a single syscall under the sink mutex, so concurrent callers can never
// interleave their bytes.
func (s *JSONLSink) Append(_ context.Context, rec types.Record) error {
	line, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fh, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	if _, err := fh.Write(line); err != nil {
		fh.Close()
		return fmt.Errorf("append %s: %w", s.path, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}

// marshalRecord encodes without HTML escaping so Vietnamese text stays
// readable in the artifact.
func marshalRecord(rec types.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteURLList overwrites the discovery artifact for one category: one
// absolute URL per line.
func WriteURLList(path string, urls []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create urls directory: %w", err)
	}
	var buf bytes.Buffer
	for _, u := range urls {
		buf.WriteString(u)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write url list: %w", err)
	}
	return nil
}
