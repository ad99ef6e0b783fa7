package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"sourcepack/pkg/archive"
	"sourcepack/pkg/config"
)

// zipAcquirer serves a fixed zip file for every repository.
type zipAcquirer struct {
	path  string
	err   error
	calls atomic.Int32
}

func (z *zipAcquirer) FetchRepo(_ context.Context, repoURL string) (*archive.Archive, string, error) {
	z.calls.Add(1)
	if z.err != nil {
		return nil, "", z.err
	}
	_, project, err := archive.RepoArchiveURL(repoURL)
	if err != nil {
		return nil, "", err
	}
	a, err := archive.Open(z.path, nil)
	return a, project, err
}

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "repo.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestServer(t *testing.T, acq Acquirer) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Options{
		Workers:  2,
		Defaults: config.Default(),
		TempDir:  t.TempDir(),
		Acquirer: acq,
		Registry: prometheus.NewRegistry(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func repoZip(t *testing.T) *zipAcquirer {
	return &zipAcquirer{path: writeZip(t, map[string]string{
		"repo-main/":            "",
		"repo-main/README.md":   "# repo\n",
		"repo-main/cmd/main.go": "package main\n",
	})}
}

func postPack(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+PackPath, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPackReturnsDocument(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, repoZip(t))
	resp := postPack(t, ts.URL, `{"url": "https://github.com/acme/repo"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	doc := string(data)
	if !strings.HasPrefix(doc, "# Project: repo-main\n") {
		t.Errorf("document should be named after the wrapper directory:\n%s", doc)
	}
	for _, want := range []string{"\n## cmd/main.go\n```go\npackage main\n```\n", "\n## README.md\n"} {
		if !strings.Contains(doc, want) {
			t.Errorf("missing %q in\n%s", want, doc)
		}
	}
	if got := resp.Header.Get(BytesHeader); got != strconv.Itoa(len(data)) {
		t.Errorf("%s = %s, want %d", BytesHeader, got, len(data))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %s", ct)
	}
}

func TestPackConfigOverride(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t, repoZip(t))
	resp := postPack(t, ts.URL, `{"url": "https://github.com/acme/repo", "config": {"format": "xml", "mode": "tree"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(data), `<project name="repo-main">`) || strings.Contains(string(data), "package main") {
		t.Errorf("unexpected tree-only XML:\n%s", data)
	}
	if s.defaults.Format != "markdown" {
		t.Errorf("request mutated server defaults: %+v", s.defaults)
	}
}

func TestPackErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		acq       *zipAcquirer
		body      string
		status    int
		wantCalls int32
	}{
		{"malformed json", &zipAcquirer{}, `{`, http.StatusBadRequest, 0},
		{"invalid url", &zipAcquirer{}, `{"url": "https://gitlab.com/a/b"}`, http.StatusBadRequest, 0},
		{"invalid config", &zipAcquirer{}, `{"url": "https://github.com/a/b", "config": {"format": "pdf"}}`, http.StatusBadRequest, 0},
		{"download failure", &zipAcquirer{err: errors.New("unexpected status 404")}, `{"url": "https://github.com/a/b"}`, http.StatusBadGateway, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, ts := newTestServer(t, tt.acq)
			resp := postPack(t, ts.URL, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Errorf("error body = %v (%v)", body, err)
			}
			if got := tt.acq.calls.Load(); got != tt.wantCalls {
				t.Errorf("acquirer calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, repoZip(t))
	resp := postPack(t, ts.URL, `{"url": "https://github.com/acme/repo"}`)
	io.Copy(io.Discard, resp.Body)

	health, err := http.Get(ts.URL + HealthPath)
	if err != nil {
		t.Fatal(err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", health.StatusCode)
	}

	m, err := http.Get(ts.URL + MetricsPath)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Body.Close()
	data, _ := io.ReadAll(m.Body)
	if !strings.Contains(string(data), `sourcepack_runs_total{format="markdown",outcome="success"} 1`) {
		t.Errorf("metrics missing run counter:\n%s", data)
	}
}

func dialPack(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + PackWSPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPackWebsocket(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, repoZip(t))
	conn := dialPack(t, ts)
	if err := conn.WriteJSON(Request{URL: "https://github.com/acme/repo"}); err != nil {
		t.Fatal(err)
	}

	var final Event
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if ev.Type == EventProgress {
			continue
		}
		final = ev
		break
	}
	if final.Type != EventResult {
		t.Fatalf("final event = %+v, want result", final)
	}
	if final.Bytes != int64(len(final.Document)) || !strings.Contains(final.Document, "package main") {
		t.Errorf("result = %d bytes:\n%s", final.Bytes, final.Document)
	}
}

func TestPackWebsocketInvalidRequest(t *testing.T) {
	t.Parallel()

	acq := &zipAcquirer{}
	_, ts := newTestServer(t, acq)
	conn := dialPack(t, ts)
	if err := conn.WriteJSON(Request{URL: "not a repo"}); err != nil {
		t.Fatal(err)
	}
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventError || !strings.Contains(ev.Error, "invalid") {
		t.Errorf("event = %+v, want invalid url error", ev)
	}
	if acq.calls.Load() != 0 {
		t.Error("acquirer called for an invalid url")
	}
}

// panicAcquirer fails the way a bug in acquisition would.
type panicAcquirer struct{}

func (panicAcquirer) FetchRepo(context.Context, string) (*archive.Archive, string, error) {
	panic("acquirer bug")
}

func TestPackJobPanicReturnsError(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, panicAcquirer{})
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(ts.URL+PackPath, "application/json", strings.NewReader(`{"url": "https://github.com/acme/repo"}`))
	if err != nil {
		t.Fatalf("request did not complete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !strings.Contains(body["error"], "panicked") {
		t.Errorf("error body = %v (%v)", body, err)
	}
}

func TestPackWebsocketJobPanic(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, panicAcquirer{})
	conn := dialPack(t, ts)
	if err := conn.WriteJSON(Request{URL: "https://github.com/acme/repo"}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != EventError || !strings.Contains(ev.Error, "panicked") {
		t.Errorf("event = %+v, want panic error", ev)
	}
}

// stalledAcquirer blocks until the request context ends.
type stalledAcquirer struct{ started chan struct{} }

func (s stalledAcquirer) FetchRepo(ctx context.Context, _ string) (*archive.Archive, string, error) {
	close(s.started)
	<-ctx.Done()
	return nil, "", fmt.Errorf("download: %w", ctx.Err())
}

func TestCanceledAcquisitionIsNotAGatewayError(t *testing.T) {
	t.Parallel()

	acq := stalledAcquirer{started: make(chan struct{})}
	s, _ := newTestServer(t, acq)
	j, err := s.parseRequest(Request{URL: "https://github.com/acme/repo"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-acq.started
		cancel()
	}()
	_, err = s.run(ctx, j, nil)
	if !errors.Is(err, context.Canceled) || errors.Is(err, errAcquire) {
		t.Fatalf("run() error = %v, want cancellation without errAcquire", err)
	}
	if got := statusFor(err); got != 499 {
		t.Errorf("statusFor() = %d, want 499", got)
	}
}
