// File: pkg/outline/outline.go
package outline

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"sourcepack/pkg/filter"
	"sourcepack/pkg/vnode"
)

// Markers written in front of outline entries.
const (
	RootMarker = "📦 "
	DirMarker  = " 📂 "
	FileMarker = " 📄 "
)

// Decider is the subset of the filter engine the renderer needs.
type Decider interface {
	Decide(node vnode.Node, relPath string) filter.Verdict
}

// Stats counts what the outline listed.
type Stats struct {
	Dirs    int // directories listed, excluding the root
	Files   int // files listed, including those without a body
	Skipped int // nodes left out by the decider
}

// Render writes the outline of root to w. The root line is unprefixed; each
// deeper line is indented by two spaces per level below the first. Skipped
// directories are never listed, so their children are never visited.
//
// A root that cannot be listed is an error. A subdirectory that cannot be
// listed is logged and rendered without children.
func Render(ctx context.Context, w io.Writer, root vnode.Node, d Decider, logger *zap.Logger) (Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &renderer{ctx: ctx, w: w, d: d, logger: logger}

	if _, err := fmt.Fprintf(w, "%s%s\n", RootMarker, root.Name()); err != nil {
		return r.stats, fmt.Errorf("write outline: %w", err)
	}
	if !root.IsDir() {
		return r.stats, nil
	}
	children, err := root.Children()
	if err != nil {
		return r.stats, fmt.Errorf("list %s: %w", root.Name(), err)
	}
	err = r.walk(children, "", 0)
	return r.stats, err
}

type renderer struct {
	ctx    context.Context
	w      io.Writer
	d      Decider
	logger *zap.Logger
	stats  Stats
}

func (r *renderer) walk(children []vnode.Node, parent string, depth int) error {
	indent := strings.Repeat("  ", depth)
	for _, child := range children {
		if err := r.ctx.Err(); err != nil {
			return err
		}

		rel := child.Name()
		if parent != "" {
			rel = parent + "/" + child.Name()
		}
		switch r.d.Decide(child, rel).Decision {
		case filter.SkipDir, filter.SkipFile:
			r.stats.Skipped++
			continue
		}

		marker := FileMarker
		if child.IsDir() {
			marker = DirMarker
		}
		if _, err := io.WriteString(r.w, indent+marker+child.Name()+"\n"); err != nil {
			return fmt.Errorf("write outline: %w", err)
		}
		if !child.IsDir() {
			r.stats.Files++
			continue
		}

		r.stats.Dirs++
		grandchildren, err := child.Children()
		if err != nil {
			r.logger.Warn("Failed to list directory for outline", zap.String("directory", rel), zap.Error(err))
			continue
		}
		if err := r.walk(grandchildren, rel, depth+1); err != nil {
			return err
		}
	}
	return nil
}
