package serialize

import (
	"path"
	"regexp"
	"strings"
)

// CommentStyle selects how comments are removed from a file.
type CommentStyle int

const (
	StyleNone   CommentStyle = iota // passed through unchanged
	StyleC                          // /* block */ and // line
	StyleHash                       // # line
	StyleMarkup                     // <!-- block -->
	StyleDash                       // -- line, Lua --[[ block ]]
	StyleBlock                      // /* block */ only
)

var commentStyles = map[string]CommentStyle{
	".c": StyleC, ".h": StyleC, ".cc": StyleC, ".cpp": StyleC, ".hpp": StyleC,
	".cs": StyleC, ".java": StyleC, ".kt": StyleC, ".kts": StyleC,
	".scala": StyleC, ".groovy": StyleC, ".gradle": StyleC, ".go": StyleC,
	".rs": StyleC, ".swift": StyleC, ".dart": StyleC, ".js": StyleC,
	".jsx": StyleC, ".mjs": StyleC, ".ts": StyleC, ".tsx": StyleC,
	".css": StyleBlock, ".scss": StyleC, ".less": StyleC, ".proto": StyleC,
	".m": StyleC, ".php": StyleC, ".json5": StyleC,

	".py": StyleHash, ".rb": StyleHash, ".sh": StyleHash, ".bash": StyleHash,
	".zsh": StyleHash, ".pl": StyleHash, ".r": StyleHash, ".ps1": StyleHash,
	".yaml": StyleHash, ".yml": StyleHash, ".toml": StyleHash,
	".properties": StyleHash, ".conf": StyleHash, ".cfg": StyleHash,
	".mk": StyleHash, ".cmake": StyleHash, ".dockerfile": StyleHash,
	".tf": StyleHash, ".nix": StyleHash,

	".xml": StyleMarkup, ".html": StyleMarkup, ".htm": StyleMarkup,
	".xhtml": StyleMarkup, ".vue": StyleMarkup, ".svelte": StyleMarkup,
	".md": StyleMarkup, ".xsd": StyleMarkup, ".plist": StyleMarkup,

	".sql": StyleDash, ".lua": StyleDash, ".hs": StyleDash, ".elm": StyleDash,
}

// Each expression lists string literals first so comment markers inside them
// are matched, and kept, as part of the literal.
var (
	cComments = regexp.MustCompile(
		`"(?:\\.|[^"\\\n])*"` + "|'(?:\\\\.|[^'\\\\\\n])*'|`[^`]*`" + `|/\*[\s\S]*?\*/|//[^\n]*`)
	hashComments   = regexp.MustCompile(`"(?:\\.|[^"\\\n])*"|'(?:\\.|[^'\\\n])*'|#[^\n]*`)
	blockComments  = regexp.MustCompile(`"(?:\\.|[^"\\\n])*"|'(?:\\.|[^'\\\n])*'|/\*[\s\S]*?\*/`)
	markupComments = regexp.MustCompile(`<!--[\s\S]*?-->`)
	dashComments   = regexp.MustCompile(`"(?:\\.|[^"\\\n])*"|'(?:\\.|[^'\\\n])*'|--\[\[[\s\S]*?\]\]|--[^\n]*`)
)

// StyleFor returns the comment style for a file name. Names without an
// extension are matched by their lower-cased base name, so "Dockerfile" and
// "Makefile" use hash comments.
func StyleFor(name string) CommentStyle {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		switch strings.ToLower(name) {
		case "dockerfile", "makefile", "gemfile", "rakefile":
			return StyleHash
		}
		return StyleNone
	}
	return commentStyles[ext]
}

// StripComments removes comments from text using style.
func StripComments(text string, style CommentStyle) string {
	switch style {
	case StyleC:
		return dropMatches(cComments, text, "/")
	case StyleHash:
		// A shebang is an interpreter directive, not a comment.
		if strings.HasPrefix(text, "#!") {
			line, rest, found := strings.Cut(text, "\n")
			if !found {
				return text
			}
			return line + "\n" + dropMatches(hashComments, rest, "#")
		}
		return dropMatches(hashComments, text, "#")
	case StyleBlock:
		return dropMatches(blockComments, text, "/")
	case StyleMarkup:
		return markupComments.ReplaceAllString(text, "")
	case StyleDash:
		return dropMatches(dashComments, text, "--")
	default:
		return text
	}
}

// dropMatches removes every match of re that starts with marker and keeps the
// rest, string literals included.
func dropMatches(re *regexp.Regexp, text, marker string) string {
	return re.ReplaceAllStringFunc(text, func(m string) string {
		if strings.HasPrefix(m, marker) {
			return ""
		}
		return m
	})
}
