// Package nuclei reads nuclei JSON Lines results and turns them into raw
// findings for triage. The template ID of each result is the action
// identifier checked against the blocked-action manifest.
package nuclei

import "time"

// Result represents a single finding from Nuclei's JSON output.
type Result struct {
	// Template information
	TemplateID   string       `json:"template-id"`
	TemplatePath string       `json:"template-path,omitempty"`
	Info         TemplateInfo `json:"info"`

	// Target information
	Type    string `json:"type"` // http, dns, file, ssl, etc.
	Host    string `json:"host"`
	Matched string `json:"matched-at,omitempty"`
	IP      string `json:"ip,omitempty"`
	Port    string `json:"port,omitempty"`
	URL     string `json:"url,omitempty"`

	// Match details
	ExtractedResults []string `json:"extracted-results,omitempty"`
	Request          string   `json:"request,omitempty"`
	Response         string   `json:"response,omitempty"`
	CurlCommand      string   `json:"curl-command,omitempty"`

	MatcherName   string `json:"matcher-name,omitempty"`
	MatcherStatus bool   `json:"matcher-status,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// TemplateInfo contains information about the template that matched.
type TemplateInfo struct {
	Name        string   `json:"name"`
	Author      []string `json:"author,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`

	Severity       string          `json:"severity"` // info, low, medium, high, critical
	Reference      []string        `json:"reference,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
}

// Classification contains vulnerability classification details.
type Classification struct {
	CVSSMetrics string   `json:"cvss-metrics,omitempty"`
	CVSSScore   float64  `json:"cvss-score,omitempty"`
	CVEId       []string `json:"cve-id,omitempty"`
	CWEId       []string `json:"cwe-id,omitempty"`
}
