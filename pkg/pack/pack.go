// Package pack runs one packing pass: it frames a Virtual Node tree into a
// document, writing the outline and then the file bodies in traversal order.
//
// A run is strictly sequential. It polls its context between children and
// stops cleanly when the context is canceled.
package pack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sourcepack/pkg/config"
	"sourcepack/pkg/filter"
	"sourcepack/pkg/ignore"
	"sourcepack/pkg/metrics"
	"sourcepack/pkg/output"
	"sourcepack/pkg/serialize"
	"sourcepack/pkg/vnode"
)

// ProgressInterval is the minimum time between two progress reports.
const ProgressInterval = 100 * time.Millisecond

const tracerName = "sourcepack/pack"

// Progress reports the file a run is working on.
type Progress struct {
	Path  string // path relative to the root
	Files int    // files visited so far, including this one
}

// Options configure a run.
type Options struct {
	Config config.Config

	// Rules are the static filter tables. Nil means filter.DefaultRules().
	Rules *filter.Rules

	// Progress receives throttled reports. Sends never block: a report is
	// dropped when the channel is full. Run never closes the channel.
	Progress chan<- Progress

	// ProgressInterval overrides ProgressInterval when positive.
	ProgressInterval time.Duration

	Metrics *metrics.Recorder
	Logger  *zap.Logger
}

// Result summarises a run.
type Result struct {
	Bytes    int64 // bytes that reached the sink
	Files    int   // files written with a body (or an empty element in tree mode)
	Omitted  int   // files listed without a body
	Skipped  int   // nodes left out entirely
	Errors   int   // files replaced by a read error marker
	Canceled bool
}

// Run packs root into sink and closes the sink on every path.
//
// Fatal failures (the sink cannot be written, the root cannot be listed) are
// returned as errors. Per-file failures are written inline and counted in
// Result.Errors. A canceled run returns Result.Canceled and a nil error; the
// partial document is kept unless Config.DeleteOnCancel is set.
func Run(ctx context.Context, root vnode.Node, sink output.Sink, opts Options) (res Result, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config

	format, err := cfg.OutputFormat()
	if err != nil {
		return Result{}, multierr.Append(err, sink.Close())
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, multierr.Append(err, sink.Close())
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pack.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pack.root", root.Name()),
			attribute.String("pack.root.kind", root.Kind().String()),
			attribute.String("pack.format", format.String()),
			attribute.String("pack.mode", string(cfg.Mode)),
		),
	)
	start := time.Now()
	opts.Metrics.RunStarted()
	defer func() {
		outcome := metrics.OutcomeSuccess
		switch {
		case err != nil:
			outcome = metrics.OutcomeFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Canceled:
			outcome = metrics.OutcomeCanceled
			span.SetStatus(codes.Ok, "canceled")
		default:
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(
			attribute.Int64("pack.bytes", res.Bytes),
			attribute.Int("pack.files", res.Files),
			attribute.Int("pack.errors", res.Errors),
		)
		span.End()
		opts.Metrics.RunFinished(format.String(), outcome, time.Since(start), res.Bytes)
	}()

	matcher, err := loadIgnore(root, cfg, logger)
	if err != nil {
		return Result{}, multierr.Append(err, sink.Close())
	}
	filterOpts := cfg.FilterOptions()
	if matcher != nil {
		filterOpts.Ignore = matcher
	}
	rules := filter.DefaultRules()
	if opts.Rules != nil {
		rules = *opts.Rules
	}
	engine := filter.New(rules, filterOpts, filter.Target{Name: sink.Name(), Path: sink.Path()}, logger)

	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = ProgressInterval
	}
	serial := serialize.New(serialize.Options{
		StripComments: cfg.StripComments,
		Compress:      cfg.Compress,
		MaxBytes:      rules.MaxFileSize,
	}, logger)
	r := &runner{
		cfg:      cfg,
		root:     root,
		doc:      output.NewDocument(sink, format),
		engine:   engine,
		serial:   serial,
		progress: newThrottle(opts.Progress, interval),
		metrics:  opts.Metrics,
		logger:   logger,
	}

	logger.Info("Starting pack run",
		zap.String("root", root.Name()),
		zap.String("format", format.String()),
		zap.String("mode", string(cfg.Mode)),
		zap.String("output", sink.Name()),
	)
	runErr := r.run(ctx)
	closeErr := r.doc.Close()
	res = r.res
	res.Bytes = r.doc.Bytes()

	switch {
	case runErr == nil:
		if closeErr != nil {
			return res, fmt.Errorf("failed to close output: %w", closeErr)
		}
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		res.Canceled = true
		logger.Info("Pack run canceled", zap.Int("files", res.Files), zap.Int64("bytes", res.Bytes))
		if cfg.DeleteOnCancel {
			if err := sink.Discard(); err != nil {
				logger.Warn("Failed to discard partial output", zap.Error(err))
			}
		}
		return res, nil
	default:
		logger.Error("Pack run failed", zap.Error(runErr))
		return res, multierr.Append(runErr, closeErr)
	}

	logger.Info("Pack run completed",
		zap.Int("files", res.Files),
		zap.Int("omitted", res.Omitted),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
		zap.Int64("bytes", res.Bytes),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// loadIgnore compiles the pattern sources enabled by cfg. It returns nil when
// there are no patterns.
func loadIgnore(root vnode.Node, cfg config.Config, logger *zap.Logger) (*ignore.GitIgnore, error) {
	gi := ignore.New(logger)
	if cfg.UseGitignore {
		if err := gi.CompileNode(root); err != nil {
			// An unreadable .gitignore only loses its patterns.
			logger.Warn("Failed to load .gitignore", zap.Error(err))
		}
	}
	if cfg.IgnoreFile != "" {
		if err := gi.CompileFile(cfg.IgnoreFile); err != nil {
			return nil, fmt.Errorf("failed to load ignore file: %w", err)
		}
	}
	if gi.Len() == 0 {
		return nil, nil
	}
	logger.Debug("Loaded ignore patterns", zap.Int("totalPatterns", gi.Len()))
	return gi, nil
}
