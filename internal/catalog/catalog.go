// Package catalog is the system of record behind the API: projects,
// their vulnerability findings, scan submissions, and per-user
// bookmarks. Handlers treat it as slow storage and put the cache in
// front of it; the in-memory implementation here stands in for a real
// database behind the same interface.
package catalog

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vulnboard/vulnboard/internal/xerrors"
)

var ErrNotFound = xerrors.New("catalog: not found")

type Vulnerability struct {
	CVEID     string    `json:"cveId"`
	Severity  string    `json:"severity"`
	Summary   string    `json:"summary"`
	Published time.Time `json:"published"`
}

type Project struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId"`
	Name  string `json:"name"`
}

type Scan struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Status      string    `json:"status"`
	Findings    []string  `json:"findings"` // cve ids
	SubmittedAt time.Time `json:"submittedAt"`
}

type OrgStats struct {
	OrgID        string    `json:"orgId"`
	Projects     int       `json:"projects"`
	OpenFindings int       `json:"openFindings"`
	LastScanAt   time.Time `json:"lastScanAt"`
}

// Store holds the catalog behind one mutex. Reads return copies so
// callers (and the cache) never alias internal state.
type Store struct {
	mu        sync.Mutex
	vulns     map[string]Vulnerability
	projects  map[string]Project
	scans     map[string]Scan
	findings  map[string][]string // projectID -> cve ids
	bookmarks map[string][]string // userID -> cve ids
	nextScan  int
	nowFn     func() time.Time
}

func New() *Store {
	return &Store{
		vulns:     make(map[string]Vulnerability),
		projects:  make(map[string]Project),
		scans:     make(map[string]Scan),
		findings:  make(map[string][]string),
		bookmarks: make(map[string][]string),
		nowFn:     time.Now,
	}
}

// VulnByID looks up one vulnerability by CVE identifier.
func (s *Store) VulnByID(cveID string) (Vulnerability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vulns[cveID]
	if !ok {
		return Vulnerability{}, xerrors.Wrapf(ErrNotFound, "vuln %q", cveID)
	}
	return v, nil
}

// ProjectVulns returns the findings currently open against a project,
// sorted by severity then id for stable output.
func (s *Store) ProjectVulns(projectID string) ([]Vulnerability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return nil, xerrors.Wrapf(ErrNotFound, "project %q", projectID)
	}

	out := make([]Vulnerability, 0, len(s.findings[projectID]))
	for _, cve := range s.findings[projectID] {
		if v, ok := s.vulns[cve]; ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return severityRank(out[i].Severity) > severityRank(out[j].Severity)
		}
		return out[i].CVEID < out[j].CVEID
	})
	return out, nil
}

// SubmitScan records a scan result and replaces the project's open
// findings with the scan's.
func (s *Store) SubmitScan(projectID string, findings []string) (Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return Scan{}, xerrors.Wrapf(ErrNotFound, "project %q", projectID)
	}

	s.nextScan++
	scan := Scan{
		ID:          fmt.Sprintf("scan-%04d", s.nextScan),
		ProjectID:   p.ID,
		Status:      "done",
		Findings:    append([]string(nil), findings...),
		SubmittedAt: s.nowFn(),
	}
	s.scans[scan.ID] = scan
	s.findings[projectID] = append([]string(nil), findings...)
	return scan, nil
}

func (s *Store) ScanByID(scanID string) (Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scan, ok := s.scans[scanID]
	if !ok {
		return Scan{}, xerrors.Wrapf(ErrNotFound, "scan %q", scanID)
	}
	scan.Findings = append([]string(nil), scan.Findings...)
	return scan, nil
}

// Stats aggregates across an org's projects.
func (s *Store) Stats(orgID string) (OrgStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := OrgStats{OrgID: orgID}
	for _, p := range s.projects {
		if p.OrgID != orgID {
			continue
		}
		st.Projects++
		st.OpenFindings += len(s.findings[p.ID])
	}
	if st.Projects == 0 {
		return OrgStats{}, xerrors.Wrapf(ErrNotFound, "org %q", orgID)
	}
	for _, sc := range s.scans {
		if p, ok := s.projects[sc.ProjectID]; ok && p.OrgID == orgID && sc.SubmittedAt.After(st.LastScanAt) {
			st.LastScanAt = sc.SubmittedAt
		}
	}
	return st, nil
}

// Bookmarks returns a user's saved CVE ids. A user with no bookmarks
// gets an empty list, not an error.
func (s *Store) Bookmarks(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bookmarks[userID]...)
}

// SetBookmarks replaces a user's bookmark list. Unknown CVE ids are
// rejected so the list stays resolvable.
func (s *Store) SetBookmarks(userID string, cveIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range cveIDs {
		if _, ok := s.vulns[id]; !ok {
			return xerrors.Wrapf(ErrNotFound, "vuln %q", id)
		}
	}
	s.bookmarks[userID] = append([]string(nil), cveIDs...)
	return nil
}

func severityRank(s string) int {
	switch s {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	}
	return 0
}
