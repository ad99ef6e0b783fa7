// File: pkg/pack/walk.go
package pack

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"sourcepack/pkg/config"
	"sourcepack/pkg/filter"
	"sourcepack/pkg/metrics"
	"sourcepack/pkg/outline"
	"sourcepack/pkg/output"
	"sourcepack/pkg/serialize"
	"sourcepack/pkg/vnode"
)

type runner struct {
	cfg      config.Config
	root     vnode.Node
	doc      *output.Document
	engine   *filter.Engine
	serial   *serialize.Serializer
	progress *throttle
	metrics  *metrics.Recorder
	logger   *zap.Logger
	res      Result
	visited  int
}

func (r *runner) run(ctx context.Context) error {
	if !r.root.IsDir() {
		return fmt.Errorf("root %s is not a directory", r.root.Name())
	}
	children, err := r.root.Children()
	if err != nil {
		return fmt.Errorf("failed to read root %s: %w", r.root.Name(), err)
	}

	selection := r.root.Kind() == vnode.KindSelection
	treeOnly := r.cfg.TreeOnly()
	isXML := r.doc.Format() == output.XML

	if err := r.doc.Header(r.root.Name(), selection); err != nil {
		return err
	}

	// A selection has no shared structure worth outlining unless the outline
	// is all that was asked for.
	if !isXML && (!selection || treeOnly) {
		if err := r.outline(ctx); err != nil {
			return err
		}
	}

	if isXML || !treeOnly {
		if !selection {
			if err := r.doc.Contents(); err != nil {
				return err
			}
		}
		if err := r.contents(ctx, children); err != nil {
			return err
		}
	}

	return r.doc.End()
}

func (r *runner) outline(ctx context.Context) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pack.outline")
	defer span.End()

	var stats outline.Stats
	err := r.doc.Outline(func(w io.Writer) error {
		var err error
		stats, err = outline.Render(ctx, w, r.root, r.engine, r.logger)
		return err
	})
	span.SetAttributes(
		attribute.Int("outline.dirs", stats.Dirs),
		attribute.Int("outline.files", stats.Files),
	)
	if err != nil {
		span.RecordError(err)
		return err
	}
	r.logger.Debug("Rendered outline",
		zap.Int("dirs", stats.Dirs),
		zap.Int("files", stats.Files),
		zap.Int("skipped", stats.Skipped),
	)
	return nil
}

func (r *runner) contents(ctx context.Context, children []vnode.Node) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pack.contents")
	defer span.End()

	err := r.walk(ctx, children, "")
	span.SetAttributes(attribute.Int("contents.files", r.res.Files))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *runner) walk(ctx context.Context, children []vnode.Node, parent string) error {
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel := child.Name()
		if parent != "" {
			rel = parent + "/" + child.Name()
		}
		verdict := r.engine.Decide(child, rel)
		switch verdict.Decision {
		case filter.SkipDir, filter.SkipFile:
			r.res.Skipped++
			if !child.IsDir() {
				r.metrics.File(metrics.FileSkipped)
			}
			continue
		}

		if !child.IsDir() {
			if err := r.file(child, rel, verdict); err != nil {
				return err
			}
			continue
		}

		grandchildren, err := child.Children()
		if err != nil {
			r.logger.Warn("Failed to list directory", zap.String("directory", rel), zap.Error(err))
			grandchildren = nil
		}
		if err := r.doc.OpenDir(child.Name()); err != nil {
			return err
		}
		if err := r.walk(ctx, grandchildren, rel); err != nil {
			return err
		}
		if err := r.doc.CloseDir(); err != nil {
			return err
		}
	}
	return nil
}

// file writes one file entry. Only document write errors are returned; read
// failures become inline markers.
func (r *runner) file(node vnode.Node, rel string, verdict filter.Verdict) error {
	r.visited++
	r.progress.report(Progress{Path: rel, Files: r.visited})

	if r.cfg.TreeOnly() {
		if verdict.Decision == filter.OmitBody {
			r.res.Omitted++
		} else {
			r.res.Files++
		}
		return r.entry(rel, "")
	}

	if verdict.Decision == filter.OmitBody {
		r.res.Omitted++
		r.metrics.File(metrics.FileOmitted)
		if !r.cfg.MarkOmitted {
			return nil
		}
		return r.entry(rel, serialize.OmittedMarker+"\n")
	}

	body := r.serial.Body(node, rel)
	switch body.Kind {
	case serialize.KindBinary:
		r.res.Omitted++
		r.metrics.File(metrics.FileBinary)
		return r.entry(rel, serialize.BinaryMarker+"\n")
	case serialize.KindFailed:
		r.res.Errors++
		r.metrics.File(metrics.FileFailed)
		return r.entry(rel, serialize.ErrorMarker(body.Err)+"\n")
	default:
		r.res.Files++
		r.metrics.File(metrics.FileIncluded)
		return r.entry(rel, body.Text)
	}
}

func (r *runner) entry(rel, text string) error {
	if err := r.doc.OpenFile(rel); err != nil {
		return err
	}
	if err := r.doc.WriteText(text); err != nil {
		return err
	}
	return r.doc.CloseFile()
}
