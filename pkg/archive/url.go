package archive

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidURL is returned for repository URLs that do not name a GitHub
// repository. It is always returned before any network access.
var ErrInvalidURL = errors.New("invalid repository URL")

const hostMarker = "github.com"

// RepoArchiveURL derives the default-branch archive URL of a GitHub
// repository and the project name to pack it under.
//
// Accepted forms include "https://github.com/owner/repo",
// "github.com/owner/repo.git", "git@github.com:owner/repo" and browser URLs
// with a "/tree/<branch>/..." suffix, which is dropped; the archive always
// tracks HEAD.
func RepoArchiveURL(raw string) (archiveURL, project string, err error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")

	i := strings.Index(s, hostMarker)
	if i < 0 {
		return "", "", fmt.Errorf("%w: %q lacks %s", ErrInvalidURL, raw, hostMarker)
	}
	if !hostBoundary(s[:i]) {
		return "", "", fmt.Errorf("%w: %q is not hosted on %s", ErrInvalidURL, raw, hostMarker)
	}
	rest := s[i+len(hostMarker):]
	if !strings.HasPrefix(rest, "/") && !strings.HasPrefix(rest, ":") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	rest = rest[1:]
	if before, _, found := strings.Cut(rest, "/tree/"); found {
		rest = before
	}
	if j := strings.IndexAny(rest, "?#"); j >= 0 {
		rest = rest[:j]
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q does not name owner/repository", ErrInvalidURL, raw)
	}
	owner, repo := parts[0], strings.TrimSuffix(parts[1], ".git")
	return fmt.Sprintf("https://%s/%s/%s/archive/HEAD.zip", hostMarker, owner, repo), repo, nil
}

// hostBoundary reports whether the text before the host marker ends where a
// host name starts: nothing, a scheme ("https://"), a user ("git@"), or one
// of those followed by "www.".
func hostBoundary(prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "www.")
	if prefix == "" || strings.HasSuffix(prefix, "@") {
		return true
	}
	scheme, ok := strings.CutSuffix(prefix, "://")
	return ok && !strings.ContainsAny(scheme, "/.@")
}
