package types

import (
	"net/http"
	"net/url"
	"time"
)

// Page represents one fetched document.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	Rendered        bool
	Attempts        int
	ResponseLatency time.Duration
}

// Record is one structured article appended to a source's dataset file.
// Input carries title plus body text, Output carries the summary (sapo).
type Record struct {
	Title    string `json:"title"`
	Input    string `json:"input"`
	Output   string `json:"output"`
	Category string `json:"category"`
	Source   string `json:"source"`
}

// JobState tracks a crawl job through its lifecycle.
type JobState int

const (
	JobPending JobState = iota
	JobInFlight
	JobWritten
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobInFlight:
		return "in_flight"
	case JobWritten:
		return "written"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is one (URL, category) unit of crawl work.
type Job struct {
	URL      string
	Category string
	State    JobState
	Err      error
}

// Report collects the URLs that ended in JobFailed for one crawl run.
// A completed run always yields partial results plus this list; the
// engine never aborts on per-URL failures.
type Report struct {
	Submitted int
	Written   int
	Failed    []string
}

// HasFailures reports whether any job failed.
func (r Report) HasFailures() bool {
	return len(r.Failed) > 0
}
