package catalog

import "time"

// Seed loads a small fixed dataset for local development and tests.
func Seed(s *Store) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := func(d string) time.Time {
		t, _ := time.Parse("2006-01-02", d)
		return t
	}

	for _, v := range []Vulnerability{
		{CVEID: "CVE-2024-3094", Severity: "critical", Summary: "xz/liblzma backdoor in upstream release tarballs", Published: day("2024-03-29")},
		{CVEID: "CVE-2023-44487", Severity: "high", Summary: "HTTP/2 rapid reset denial of service", Published: day("2023-10-10")},
		{CVEID: "CVE-2021-44228", Severity: "critical", Summary: "log4j JNDI remote code execution", Published: day("2021-12-10")},
		{CVEID: "CVE-2022-3602", Severity: "medium", Summary: "OpenSSL X.509 punycode buffer overrun", Published: day("2022-11-01")},
	} {
		s.vulns[v.CVEID] = v
	}

	for _, p := range []Project{
		{ID: "1", OrgID: "acme", Name: "billing-api"},
		{ID: "2", OrgID: "acme", Name: "edge-proxy"},
		{ID: "10", OrgID: "globex", Name: "data-pipeline"},
	} {
		s.projects[p.ID] = p
	}

	s.findings["1"] = []string{"CVE-2021-44228", "CVE-2022-3602"}
	s.findings["2"] = []string{"CVE-2023-44487"}
	s.findings["10"] = []string{"CVE-2024-3094"}

	return s
}
