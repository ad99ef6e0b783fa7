// Package filter decides, for every node of a source tree, whether it is
// listed, skipped, or listed without its body.
package filter

import (
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"sourcepack/pkg/vnode"
)

// Decision is the outcome of evaluating a node.
type Decision int

const (
	Include  Decision = iota // listed in the outline and serialized
	SkipDir                  // the directory and its whole subtree are left out
	SkipFile                 // the file is left out of the outline and the body section
	OmitBody                 // the file is listed but its body is not read
)

func (d Decision) String() string {
	switch d {
	case Include:
		return "include"
	case SkipDir:
		return "skip-dir"
	case SkipFile:
		return "skip-file"
	case OmitBody:
		return "omit-body"
	default:
		return "unknown"
	}
}

// Reason names the rule that produced a Decision.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonDestination Reason = "destination"
	ReasonForcedDir   Reason = "forced-dir"
	ReasonOptionalDir Reason = "optional-dir"
	ReasonIgnored     Reason = "ignore-pattern"
	ReasonFileName    Reason = "file-name"
	ReasonExtension   Reason = "extension"
	ReasonBinaryExt   Reason = "binary-extension"
	ReasonTooLarge    Reason = "too-large"
)

// Verdict pairs a Decision with the rule that produced it.
type Verdict struct {
	Decision Decision
	Reason   Reason
}

// Matcher reports whether a slash-separated path relative to the root is
// ignored. isDir is true when the path names a directory.
type Matcher interface {
	Match(relPath string, isDir bool) bool
}

// Target identifies the document being written so it is never packed into
// itself. Path is the absolute host path when known; Name is the file name.
type Target struct {
	Name string
	Path string
}

// Options are the per-run switches of the engine.
type Options struct {
	SkipVCS             bool
	SkipBuild           bool
	SkipDependencyCache bool
	IgnoreFiles         []string // exact file names
	IgnoreExtensions    []string // suffixes, with or without the leading dot
	Ignore              Matcher  // optional gitignore-style patterns
}

// Engine evaluates nodes against Rules and Options. It holds no mutable
// state after construction and may be shared by the renderer and serializer
// of one run.
type Engine struct {
	forcedDirs   map[string]struct{}
	optionalDirs map[string]struct{}
	binaryExts   map[string]struct{}
	ignoreFiles  map[string]struct{}
	ignoreExts   []string
	ignore       Matcher
	maxSize      int64
	target       Target
	logger       *zap.Logger
}

// New builds an Engine. A nil logger disables logging.
func New(rules Rules, opts Options, target Target, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		forcedDirs:   toSet(rules.ForcedSkipDirs),
		optionalDirs: map[string]struct{}{},
		binaryExts:   map[string]struct{}{},
		ignoreFiles:  toSet(opts.IgnoreFiles),
		ignore:       opts.Ignore,
		maxSize:      rules.MaxFileSize,
		target:       target,
		logger:       logger,
	}
	if opts.SkipVCS {
		addAll(e.optionalDirs, rules.VCSDirs)
	}
	if opts.SkipBuild {
		addAll(e.optionalDirs, rules.BuildDirs)
	}
	if opts.SkipDependencyCache {
		addAll(e.optionalDirs, rules.DependencyDirs)
	}
	for _, ext := range rules.BinaryExtensions {
		e.binaryExts[NormalizeExtension(ext)] = struct{}{}
	}
	for _, ext := range opts.IgnoreExtensions {
		if ext = NormalizeExtension(ext); ext != "" {
			e.ignoreExts = append(e.ignoreExts, ext)
		}
	}
	if target.Path != "" {
		if abs, err := filepath.Abs(target.Path); err == nil {
			e.target.Path = abs
		}
	}
	return e
}

// Decide evaluates node, found at relPath below the root, in rule order. The
// first matching rule wins.
func (e *Engine) Decide(node vnode.Node, relPath string) Verdict {
	name := node.Name()

	if !node.IsDir() && e.isTarget(node) {
		return e.verdict(relPath, SkipFile, ReasonDestination)
	}

	if node.IsDir() {
		if _, ok := e.forcedDirs[name]; ok {
			return e.verdict(relPath, SkipDir, ReasonForcedDir)
		}
		if _, ok := e.optionalDirs[name]; ok {
			return e.verdict(relPath, SkipDir, ReasonOptionalDir)
		}
		if e.ignore != nil && e.ignore.Match(relPath, true) {
			return e.verdict(relPath, SkipDir, ReasonIgnored)
		}
		return Verdict{Decision: Include}
	}

	if e.ignore != nil && e.ignore.Match(relPath, false) {
		return e.verdict(relPath, SkipFile, ReasonIgnored)
	}
	if _, ok := e.ignoreFiles[name]; ok {
		return e.verdict(relPath, SkipFile, ReasonFileName)
	}
	lower := strings.ToLower(name)
	for _, ext := range e.ignoreExts {
		if strings.HasSuffix(lower, ext) {
			return e.verdict(relPath, SkipFile, ReasonExtension)
		}
	}
	if _, ok := e.binaryExts[strings.ToLower(path.Ext(name))]; ok {
		return e.verdict(relPath, OmitBody, ReasonBinaryExt)
	}
	if e.maxSize > 0 && node.Size() > e.maxSize {
		e.logger.Debug("File exceeds size limit",
			zap.String("path", relPath),
			zap.Int64("sizeBytes", node.Size()),
			zap.Int64("maxBytes", e.maxSize))
		return Verdict{Decision: OmitBody, Reason: ReasonTooLarge}
	}
	return Verdict{Decision: Include}
}

// isTarget reports whether the file node is the document being written.
func (e *Engine) isTarget(node vnode.Node) bool {
	if node.Kind() == vnode.KindArchive {
		return false
	}
	if hp, ok := node.(vnode.HostPather); ok {
		if e.target.Path == "" {
			return false
		}
		return filepath.Clean(hp.HostPath()) == e.target.Path
	}
	return e.target.Name != "" && node.Name() == e.target.Name
}

func (e *Engine) verdict(relPath string, d Decision, r Reason) Verdict {
	e.logger.Debug("Filtered node",
		zap.String("path", relPath),
		zap.Stringer("decision", d),
		zap.String("reason", string(r)))
	return Verdict{Decision: d, Reason: r}
}

// NormalizeExtension lower-cases ext and gives it a leading dot. Blank input
// yields "".
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	addAll(set, values)
	return set
}

func addAll(set map[string]struct{}, values []string) {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
}
