package crawler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vietnews-crawler/internal/config"
	"vietnews-crawler/internal/extract"
	"vietnews-crawler/internal/fetcher"
	"vietnews-crawler/internal/storage"
	"vietnews-crawler/pkg/types"
)

// newsServer simulates one site: listing pages under /<category>-p<n> and
// article pages with per-path failure injection.
type newsServer struct {
	*httptest.Server

	mu       sync.Mutex
	listings map[string]string
	articles map[string]string
	failures map[string]int
	hits     map[string]int
}

func newNewsServer(t *testing.T) *newsServer {
	t.Helper()
	s := &newsServer{
		listings: make(map[string]string),
		articles: make(map[string]string),
		failures: make(map[string]int),
		hits:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *newsServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	path := r.URL.Path
	s.hits[path]++
	if s.failures[path] > 0 {
		s.failures[path]--
		s.mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, ok := s.listings[path]
	if !ok {
		body, ok = s.articles[path]
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(body))
}

func (s *newsServer) failOnce(path string) {
	s.mu.Lock()
	s.failures[path]++
	s.mu.Unlock()
}

func (s *newsServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *newsServer) site() *extract.Site {
	base := extract.VNExpress()
	site := *base
	site.BaseURL = s.URL
	site.PageURLFunc = func(category string, page int) string {
		return fmt.Sprintf("%s/%s-p%d", s.URL, category, page)
	}
	return &site
}

func articlePage(title, sapo string, paragraphs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, `<h1 class="title-detail">%s</h1>`, title)
	fmt.Fprintf(&b, `<p class="description">%s</p>`, sapo)
	for _, p := range paragraphs {
		fmt.Fprintf(&b, `<p class="Normal">%s</p>`, p)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestEngine(t *testing.T, server *newsServer, category string) (*Engine, *storage.JSONLSink) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Output.URLsDir = filepath.Join(dir, "urls")
	cfg.Output.ResultsDir = filepath.Join(dir, "results")
	cfg.Worker = config.WorkerConfig{Concurrency: 4, QueueSize: 64}
	srcCfg := config.SourceConfig{Name: "vnexpress", Enabled: true, Categories: []string{category}}
	cfg.Sources = []config.SourceConfig{srcCfg}

	client, err := fetcher.NewClient(fetcher.Options{
		Timeout:      5 * time.Second,
		RetryTotal:   3,
		RetryBackoff: time.Millisecond,
	}, nil, testLogger())
	if err != nil {
		t.Fatalf("fetch client: %v", err)
	}

	sink, err := storage.NewJSONLSink(cfg.Output.ResultsDir, "vnexpress")
	if err != nil {
		t.Fatalf("sink: %v", err)
	}

	engine := &Engine{
		cfg:     cfg,
		fetcher: client,
		logger:  testLogger(),
		sources: []*source{{site: server.site(), cfg: srcCfg, records: sink}},
	}
	return engine, sink
}

func readRecords(t *testing.T, path string) []types.Record {
	t.Helper()
	fh, err := os.Open(path)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer fh.Close()

	var records []types.Record
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		var rec types.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal record: %v", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan artifact: %v", err)
	}
	return records
}

func TestEngineRunRecoversFromTransientArticleFailure(t *testing.T) {
	server := newNewsServer(t)

	var hrefs []string
	for i := 1; i <= 5; i++ {
		path := fmt.Sprintf("/thoi-su/bai-%d.html", i)
		hrefs = append(hrefs, path)
		server.articles[path] = articlePage(
			fmt.Sprintf("Tiêu đề %d", i),
			"(Theo TTXVN) - Tóm tắt bài viết.",
			"Đoạn nội dung thứ nhất.",
			"Đoạn nội dung thứ hai.")
	}
	server.listings["/thoi-su-p1"] = listingPage(hrefs...)
	server.listings["/thoi-su-p2"] = listingPage()
	server.failOnce("/thoi-su/bai-3.html")

	engine, sink := newTestEngine(t, server, "thoi-su")
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	records := readRecords(t, sink.Path())
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	if server.hitCount("/thoi-su/bai-3.html") != 2 {
		t.Fatalf("expected the failing article to be fetched twice, got %d", server.hitCount("/thoi-su/bai-3.html"))
	}
	for _, rec := range records {
		if rec.Source != "VNExpress" {
			t.Fatalf("unexpected source %q", rec.Source)
		}
		if rec.Category != "Thời sự" {
			t.Fatalf("unexpected category %q", rec.Category)
		}
		if rec.Output != "Tóm tắt bài viết." {
			t.Fatalf("expected stripped summary, got %q", rec.Output)
		}
		if !strings.HasPrefix(rec.Input, rec.Title+"\n") {
			t.Fatalf("expected input to start with the title, got %q", rec.Input)
		}
	}

	urlsPath := filepath.Join(engine.cfg.Output.URLsDir, "thoi-su-vnx.txt")
	data, err := os.ReadFile(urlsPath)
	if err != nil {
		t.Fatalf("read url artifact: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 5 {
		t.Fatalf("expected 5 discovered urls, got %d", got)
	}
}

func TestCrawlReportsNonArticlePages(t *testing.T) {
	server := newNewsServer(t)
	server.articles["/du-lich/bai-1.html"] = articlePage("Bài một", "Tóm tắt một.", "Nội dung.")
	server.articles["/du-lich/bai-2.html"] = "<html><body><div>trang video</div></body></html>"
	server.articles["/du-lich/bai-3.html"] = articlePage("Bài ba", "Tóm tắt ba.", "Nội dung.")

	engine, sink := newTestEngine(t, server, "du-lich")
	urls := []string{
		server.URL + "/du-lich/bai-1.html",
		server.URL + "/du-lich/bai-2.html",
		server.URL + "/du-lich/bai-3.html",
	}

	report, err := engine.crawl(context.Background(), engine.sources[0], "du-lich", urls)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if report.Submitted != 3 || report.Written != 2 {
		t.Fatalf("expected 2 of 3 written, got %+v", report)
	}
	if !report.HasFailures() || len(report.Failed) != 1 || report.Failed[0] != urls[1] {
		t.Fatalf("expected only the non-article url to fail, got %v", report.Failed)
	}
	if got := len(readRecords(t, sink.Path())); got != 2 {
		t.Fatalf("expected 2 records, got %d", got)
	}
}

func TestCrawlEmptyURLSet(t *testing.T) {
	server := newNewsServer(t)
	engine, _ := newTestEngine(t, server, "thoi-su")

	report, err := engine.crawl(context.Background(), engine.sources[0], "thoi-su", nil)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if report.Submitted != 0 || report.Written != 0 || report.HasFailures() {
		t.Fatalf("expected an empty report, got %+v", report)
	}
}

func TestBuildRecord(t *testing.T) {
	site := extract.VNExpress()

	rec := buildRecord(&extract.Article{
		Title:   "Tiêu đề chính",
		Summary: "(Theo Báo A) - Nội dung...",
		Body:    "Đoạn một.\nĐoạn hai.",
	}, site, "kinh-doanh")

	if rec.Input != "Tiêu đề chính\nĐoạn một.\nĐoạn hai." {
		t.Fatalf("unexpected input %q", rec.Input)
	}
	if rec.Output != "Nội dung..." {
		t.Fatalf("expected stripped summary, got %q", rec.Output)
	}
	if rec.Category != "Kinh doanh" {
		t.Fatalf("unexpected category %q", rec.Category)
	}
	if rec.Source != "VNExpress" {
		t.Fatalf("unexpected source %q", rec.Source)
	}

	// A record without body text keeps the input to the bare title.
	rec = buildRecord(&extract.Article{Title: "Chỉ có tiêu đề"}, site, "")
	if rec.Input != "Chỉ có tiêu đề" {
		t.Fatalf("unexpected input %q", rec.Input)
	}
	if rec.Category != "Tin tức" {
		t.Fatalf("unexpected fallback category %q", rec.Category)
	}
}
