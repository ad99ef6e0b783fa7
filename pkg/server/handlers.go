package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sourcepack/pkg/archive"
	"sourcepack/pkg/config"
	"sourcepack/pkg/output"
	"sourcepack/pkg/pack"
)

// maxRequestBytes bounds the JSON request body.
const maxRequestBytes = 64 << 10

// Request asks for one repository to be packed. Config fields that are set
// override the server defaults.
type Request struct {
	URL    string          `json:"url"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Event is one websocket message sent to the client.
type Event struct {
	Type     string `json:"type"` // progress, result or error
	Path     string `json:"path,omitempty"`
	Files    int    `json:"files,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
	Document string `json:"document,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Event types.
const (
	EventProgress = "progress"
	EventResult   = "result"
	EventError    = "error"
)

// errAcquire marks failures to download or open the archive.
var errAcquire = errors.New("acquire archive")

// job is a validated request.
type job struct {
	url    string
	cfg    config.Config
	format output.Format
}

// document is a packed document staged on disk.
type document struct {
	dir    string
	path   string
	result pack.Result
}

func (d *document) cleanup() {
	if d != nil && d.dir != "" {
		os.RemoveAll(d.dir)
	}
}

type jobResult struct {
	doc *document
	err error
}

func (s *Server) parseRequest(req Request) (job, error) {
	if _, _, err := archive.RepoArchiveURL(req.URL); err != nil {
		return job{}, err
	}
	cfg := s.defaults
	cfg.IgnoreFiles = slices.Clone(cfg.IgnoreFiles)
	cfg.IgnoreExtensions = slices.Clone(cfg.IgnoreExtensions)
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return job{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
	}
	// A request must not read files from the server host.
	cfg.IgnoreFile = ""
	if err := cfg.Validate(); err != nil {
		return job{}, err
	}
	format, _ := cfg.OutputFormat()
	return job{url: req.URL, cfg: cfg, format: format}, nil
}

// run downloads and packs one repository into a staging directory.
func (s *Server) run(ctx context.Context, j job, progress chan<- pack.Progress) (*document, error) {
	arc, project, err := s.acquirer.FetchRepo(ctx, j.url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquisition stopped: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", errAcquire, err)
	}
	defer func() {
		if err := arc.Close(); err != nil {
			s.logger.Warn("Failed to close archive", zap.Error(err))
		}
	}()
	root := arc.Root(project)

	dir, err := os.MkdirTemp(s.tempDir, "sourcepack-doc-*")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	doc := &document{dir: dir, path: filepath.Join(dir, root.Name()+j.format.Extension())}
	sink, err := output.CreateFile(doc.path, s.logger)
	if err != nil {
		doc.cleanup()
		return nil, err
	}

	res, err := pack.Run(ctx, root, sink, pack.Options{
		Config:   j.cfg,
		Progress: progress,
		Metrics:  s.metrics,
		Logger:   s.logger,
	})
	if err == nil && res.Canceled {
		err = context.Cause(ctx)
		if err == nil {
			err = context.Canceled
		}
	}
	if err != nil {
		doc.cleanup()
		return nil, err
	}
	doc.result = res
	return doc, nil
}

// complete delivers exactly one result for fn on done. A panic becomes an
// error so the waiting handler is always released.
func (s *Server) complete(done chan<- jobResult, fn func() (*document, error)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Pack job panicked", zap.Any("panic", r))
			done <- jobResult{err: fmt.Errorf("pack job panicked: %v", r)}
		}
	}()
	doc, err := fn()
	done <- jobResult{doc: doc, err: err}
}

func (s *Server) handlePack(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	j, err := s.parseRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	done := make(chan jobResult, 1)
	if err := s.pool.Submit(ctx, func() {
		s.complete(done, func() (*document, error) { return s.run(ctx, j, nil) })
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	res := <-done
	if res.err != nil {
		writeError(w, statusFor(res.err), res.err)
		return
	}
	defer res.doc.cleanup()

	f, err := os.Open(res.doc.path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", j.format.ContentType())
	w.Header().Set(BytesHeader, strconv.FormatInt(res.doc.result.Bytes, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(res.doc.path)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn("Failed to send document", zap.Error(err))
	}
}

func (s *Server) handlePackWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	var req Request
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Debug("Failed to read websocket request", zap.Error(err))
		return
	}
	j, err := s.parseRequest(req)
	if err != nil {
		conn.WriteJSON(Event{Type: EventError, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// The client closing the socket cancels the run.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	progress := make(chan pack.Progress, 16)
	done := make(chan jobResult, 1)
	if err := s.pool.Submit(ctx, func() {
		defer close(progress)
		s.complete(done, func() (*document, error) { return s.run(ctx, j, progress) })
	}); err != nil {
		conn.WriteJSON(Event{Type: EventError, Error: err.Error()})
		return
	}

	for p := range progress {
		if err := conn.WriteJSON(Event{Type: EventProgress, Path: p.Path, Files: p.Files}); err != nil {
			cancel()
		}
	}
	res := <-done
	if res.err != nil {
		conn.WriteJSON(Event{Type: EventError, Error: res.err.Error()})
		return
	}
	defer res.doc.cleanup()

	data, err := os.ReadFile(res.doc.path)
	if err != nil {
		conn.WriteJSON(Event{Type: EventError, Error: err.Error()})
		return
	}
	if err := conn.WriteJSON(Event{Type: EventResult, Bytes: res.doc.result.Bytes, Document: string(data)}); err != nil {
		s.logger.Debug("Failed to send result", zap.Error(err))
		return
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, archive.ErrInvalidURL), errors.Is(err, config.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, errAcquire):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
