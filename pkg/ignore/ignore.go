// Package ignore compiles gitignore-style patterns and matches slash-separated
// paths relative to a pack root against them.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"sourcepack/pkg/vnode"
)

// FileName is the ignore file read from the root of a pack source.
const FileName = ".gitignore"

// Pattern is one compiled ignore line.
type Pattern struct {
	Pattern *regexp.Regexp // Compiled expression; its only capture group is the descendant tail
	Negate  bool           // Line started with '!'
	DirOnly bool           // Line ended with '/'
	Line    string         // Original pattern line
	LineNo  int            // Line number in the source (1-based)
	Source  string         // Where the line came from
}

// GitIgnore is an ordered collection of patterns. The last matching pattern
// decides, so a later negation re-includes an earlier match.
type GitIgnore struct {
	patterns []*Pattern
	logger   *zap.Logger
}

// New returns an empty GitIgnore. A nil logger disables logging.
func New(logger *zap.Logger) *GitIgnore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitIgnore{logger: logger}
}

// Len returns the number of compiled patterns.
func (gi *GitIgnore) Len() int { return len(gi.patterns) }

// CompileLines compiles lines and appends them. Blank lines, comments and
// lines that do not compile are skipped.
func (gi *GitIgnore) CompileLines(source string, lines ...string) {
	for i, line := range lines {
		p, err := parsePatternLine(line)
		if err != nil {
			gi.logger.Warn("Invalid ignore pattern",
				zap.String("source", source),
				zap.Int("lineNo", i+1),
				zap.String("pattern", line),
				zap.Error(err))
			continue
		}
		if p == nil {
			continue
		}
		p.LineNo = i + 1
		p.Source = source
		gi.patterns = append(gi.patterns, p)
		gi.logger.Debug("Compiled ignore pattern",
			zap.String("source", source),
			zap.Int("lineNo", p.LineNo),
			zap.String("pattern", p.Line),
			zap.Bool("negate", p.Negate))
	}
}

// CompileReader reads ignore lines from r.
func (gi *GitIgnore) CompileReader(source string, r io.Reader) error {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ignore patterns from %s: %w", source, err)
	}
	gi.CompileLines(source, lines...)
	return nil
}

// CompileFile reads an ignore file from the host. A missing file is not an
// error.
func (gi *GitIgnore) CompileFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			gi.logger.Debug("Ignore file does not exist and will be skipped", zap.String("filePath", path))
			return nil
		}
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer f.Close()
	return gi.CompileReader(path, f)
}

// CompileNode reads the FileName child of root, if any. The file is read
// through the node so every backend is supported.
func (gi *GitIgnore) CompileNode(root vnode.Node) error {
	if !root.IsDir() || root.Kind() == vnode.KindSelection {
		return nil
	}
	children, err := root.Children()
	if err != nil {
		return fmt.Errorf("list root for %s: %w", FileName, err)
	}
	for _, child := range children {
		if child.IsDir() || child.Name() != FileName {
			continue
		}
		rc, err := child.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		return gi.CompileReader(root.Name()+"/"+FileName, rc)
	}
	return nil
}

// Match reports whether relPath is ignored.
func (gi *GitIgnore) Match(relPath string, isDir bool) bool {
	matched, _ := gi.MatchWithPattern(relPath, isDir)
	return matched
}

// MatchWithPattern reports whether relPath is ignored and returns the pattern
// that decided it, or nil when none matched.
func (gi *GitIgnore) MatchWithPattern(relPath string, isDir bool) (bool, *Pattern) {
	relPath = strings.Trim(strings.ReplaceAll(relPath, "\\", "/"), "/")
	if relPath == "" {
		return false, nil
	}

	matched := false
	var decided *Pattern
	for _, p := range gi.patterns {
		m := p.Pattern.FindStringSubmatch(relPath)
		if m == nil {
			continue
		}
		// A directory-only pattern matches a file only through an ancestor.
		if p.DirOnly && !isDir && m[len(m)-1] == "" {
			continue
		}
		matched = !p.Negate
		decided = p
	}
	return matched, decided
}

// parsePatternLine compiles one ignore line. It returns nil for blank lines
// and comments.
func parsePatternLine(line string) (*Pattern, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil, nil
	}

	p := &Pattern{Line: line}
	if strings.HasPrefix(trimmed, "!") {
		p.Negate = true
		trimmed = trimmed[1:]
	} else if strings.HasPrefix(trimmed, `\#`) || strings.HasPrefix(trimmed, `\!`) {
		trimmed = trimmed[1:]
	}
	if strings.HasSuffix(trimmed, "/") {
		p.DirOnly = true
		trimmed = strings.TrimRight(trimmed, "/")
	}
	if trimmed == "" {
		return nil, nil
	}

	// A slash anywhere but the end anchors the pattern to the root.
	anchored := strings.Contains(trimmed, "/")
	trimmed = strings.TrimPrefix(trimmed, "/")

	expr := escapeSpecialChars(trimmed)
	expr = handleDoubleStarPatterns(expr)
	expr = wildcardToRegex(expr)
	expr = restoreDoubleStars(expr)
	expr = anchorPattern(expr, anchored)

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	p.Pattern = re
	return p, nil
}

// Placeholders keep "**" expansions and class members away from the
// single-star pass.
const (
	starMiddle   = "\x00m"
	starTrailing = "\x00t"
	starLeading  = "\x00l"
	starAny      = "\x00a"
	classStar    = "\x00s"
	classQuery   = "\x00q"
)

var (
	doubleStarMiddle   = regexp.MustCompile(`/\*\*/`)
	doubleStarTrailing = regexp.MustCompile(`/\*\*$`)
	doubleStarLeading  = regexp.MustCompile(`^\*\*/`)
	doubleStarAny      = regexp.MustCompile(`\*\*`)
)

// escapeSpecialChars escapes regex special characters except for '*', '?',
// '/' and well-formed "[...]" classes. A class keeps its ranges, and a
// leading '!' becomes '^'. An unterminated '[' is a literal.
func escapeSpecialChars(pattern string) string {
	specialChars := `\.+()|^$[]{}`
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '[' {
			if end := classEnd(pattern, i); end > 0 {
				writeClass(&b, pattern[i+1:end])
				i = end
				continue
			}
		}
		if strings.IndexByte(specialChars, c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// classEnd returns the index of the ']' closing the class opened at start,
// or -1. A ']' right after the opening (or after its negation) is a member.
// Classes never span a '/'.
func classEnd(pattern string, start int) int {
	j := start + 1
	if j < len(pattern) && (pattern[j] == '!' || pattern[j] == '^') {
		j++
	}
	if j < len(pattern) && pattern[j] == ']' {
		j++
	}
	for ; j < len(pattern); j++ {
		switch pattern[j] {
		case ']':
			return j
		case '/':
			return -1
		}
	}
	return -1
}

func writeClass(b *strings.Builder, body string) {
	b.WriteByte('[')
	if strings.HasPrefix(body, "!") || strings.HasPrefix(body, "^") {
		b.WriteString("^/")
		body = body[1:]
	}
	for i := 0; i < len(body); i++ {
		switch c := body[i]; c {
		case '*':
			b.WriteString(classStar)
		case '?':
			b.WriteString(classQuery)
		case '\\', '[', ']', '^':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(']')
}

// handleDoubleStarPatterns replaces '**' forms with placeholders.
func handleDoubleStarPatterns(pattern string) string {
	if pattern == "**" {
		return starAny
	}
	pattern = doubleStarMiddle.ReplaceAllString(pattern, starMiddle)
	pattern = doubleStarTrailing.ReplaceAllString(pattern, starTrailing)
	pattern = doubleStarLeading.ReplaceAllString(pattern, starLeading)
	return doubleStarAny.ReplaceAllString(pattern, starAny)
}

// wildcardToRegex converts '*' and '?' wildcards to regex equivalents.
func wildcardToRegex(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "*", `[^/]*`)
	return strings.ReplaceAll(pattern, "?", `[^/]`)
}

func restoreDoubleStars(pattern string) string {
	return strings.NewReplacer(
		starMiddle, `(?:/|/.+/)`,
		starTrailing, `/.*`,
		starLeading, `(?:.*/)?`,
		starAny, `.*`,
		classStar, `\*`,
		classQuery, `\?`,
	).Replace(pattern)
}

// anchorPattern anchors the expression to the full path. The trailing group
// captures the part of the path below the matched entry.
func anchorPattern(pattern string, anchored bool) string {
	if anchored {
		return "^" + pattern + "(/.*)?$"
	}
	return "^(?:.*/)?" + pattern + "(/.*)?$"
}
