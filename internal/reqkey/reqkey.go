// Package reqkey derives rate-limit and cache keys from request
// context. Keys are namespaced strings; identifier segments are joined
// with ':' and invalidation prefixes always carry a trailing separator
// so "project:1:" cannot match "project:10:vulns".
package reqkey

import (
	"context"
	"strings"

	"github.com/vulnboard/vulnboard/internal/httpmw"
)

// Client returns the rate-limit identity for a request: the
// authenticated principal when present, the client IP otherwise, and a
// shared unknown bucket when neither is available.
func Client(ctx context.Context) string {
	if id := httpmw.PrincipalFromContext(ctx); id != "" {
		return "user:" + id
	}
	if ip := httpmw.ClientIPFromContext(ctx); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

// Join builds a namespaced key from segments.
func Join(segs ...string) string {
	return strings.Join(segs, ":")
}

// Prefix returns the invalidation prefix covering every key rooted at
// segs, including the trailing separator.
func Prefix(segs ...string) string {
	return strings.Join(segs, ":") + ":"
}

func Vuln(cveID string) string { return Join("vuln", cveID) }

func Scan(scanID string) string { return Join("scan", scanID) }

func ProjectVulns(projectID string) string { return Join("project", projectID, "vulns") }

func OrgStats(orgID string) string { return Join("org", orgID, "stats") }

func UserBookmarks(userID string) string { return Join("user", userID, "bookmarks") }

// ProjectPrefix covers all cached views of a project.
func ProjectPrefix(projectID string) string { return Prefix("project", projectID) }

// UserPrefix covers all cached views of a user.
func UserPrefix(userID string) string { return Prefix("user", userID) }
