// File: pkg/archive/fetch.go
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Default network limits.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// ErrReadTimeout is the cause of a download that stalled for longer than the
// read timeout.
var ErrReadTimeout = errors.New("archive download stalled")

const tracerName = "sourcepack/archive"

// Fetcher downloads archives into temporary files. It never retries; a
// failed download is reported to the caller as is.
type Fetcher struct {
	// Client performs the request. Redirects are followed by the default
	// policy of net/http.
	Client *http.Client
	// ReadTimeout bounds the time between two successful body reads.
	ReadTimeout time.Duration
	// TempDir holds downloads; empty means os.TempDir.
	TempDir string

	logger *zap.Logger
	tracer trace.Tracer
}

// NewFetcher returns a Fetcher with the default connect and read timeouts.
func NewFetcher(logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := &net.Dialer{Timeout: DefaultConnectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   DefaultConnectTimeout,
		ResponseHeaderTimeout: DefaultReadTimeout,
	}
	return &Fetcher{
		Client:      &http.Client{Transport: transport},
		ReadTimeout: DefaultReadTimeout,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
}

// Fetch downloads url into a temporary file and opens it. The returned
// Archive removes the file on Close. On error nothing is left behind.
func (f *Fetcher) Fetch(ctx context.Context, url string) (_ *Archive, err error) {
	ctx, span := f.tracer.Start(ctx, "archive.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("sourcepack.archive_url", url)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	f.logger.Info("Downloading archive", zap.String("url", url))
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(f.TempDir, "sourcepack-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create temporary archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	body := newIdleReader(resp.Body, f.ReadTimeout, cancel)
	n, copyErr := io.Copy(tmp, body)
	body.stop()
	closeErr := tmp.Close()
	if copyErr != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrReadTimeout) {
			copyErr = cause
		}
		return nil, fmt.Errorf("download %s: %w", url, copyErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("write temporary archive: %w", closeErr)
	}
	span.SetAttributes(attribute.Int64("sourcepack.archive_bytes", n))
	f.logger.Debug("Downloaded archive", zap.String("url", url), zap.Int64("bytes", n), zap.String("path", tmpPath))

	a, err := Open(tmpPath, f.logger)
	if err != nil {
		return nil, err
	}
	a.tempPath = tmpPath
	span.SetAttributes(attribute.Int("sourcepack.archive_entries", a.Entries()))
	return a, nil
}

// FetchRepo validates a repository URL and downloads its default-branch
// archive. Invalid URLs fail with ErrInvalidURL before any request is made.
func (f *Fetcher) FetchRepo(ctx context.Context, repoURL string) (*Archive, string, error) {
	archiveURL, project, err := RepoArchiveURL(repoURL)
	if err != nil {
		return nil, "", err
	}
	a, err := f.Fetch(ctx, archiveURL)
	if err != nil {
		return nil, "", err
	}
	return a, project, nil
}

// idleReader cancels the download when no Read completes within timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelCauseFunc) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	if timeout > 0 {
		ir.timer = time.AfterFunc(timeout, func() { cancel(ErrReadTimeout) })
	}
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && ir.timer != nil {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) stop() {
	if ir.timer != nil {
		ir.timer.Stop()
	}
}
