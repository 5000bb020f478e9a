package nuclei

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/logger"
	"github.com/exploopio/scopeguard/pkg/shared/severity"
	"github.com/exploopio/scopeguard/pkg/triage"
)

const (
	// maxLineSize bounds a single JSONL record; nuclei embeds full responses.
	maxLineSize = 10 * 1024 * 1024

	maxResponseEvidence = 2000
)

// Parser converts Nuclei output to raw findings.
type Parser struct {
	Logger logger.Logger
}

// NewParser creates a new Nuclei parser.
func NewParser(log logger.Logger) *Parser {
	return &Parser{Logger: log}
}

// ReadFile parses a nuclei JSONL file.
func (p *Parser) ReadFile(path string) ([]triage.RawFinding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInvalidInput, "nuclei.ReadFile", "open results file", err)
	}
	defer f.Close()
	return p.ParseFindings(f)
}

// ParseFindings reads JSON Lines and converts every result.
func (p *Parser) ParseFindings(r io.Reader) ([]triage.RawFinding, error) {
	results, err := p.Parse(r)
	if err != nil {
		return nil, err
	}
	out := make([]triage.RawFinding, 0, len(results))
	for _, res := range results {
		out = append(out, ToRawFinding(res))
	}
	return out, nil
}

// Parse reads nuclei's JSON Lines output. Blank and unparseable lines are
// skipped with a warning; results without a template ID are dropped.
func (p *Parser) Parse(r io.Reader) ([]Result, error) {
	log := logger.OrNop(p.Logger)
	var results []Result

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var result Result
		if err := json.Unmarshal([]byte(line), &result); err != nil {
			log.Warn("nuclei: skipping line %d: %v", lineNo, err)
			continue
		}
		if strings.TrimSpace(result.TemplateID) == "" {
			log.Warn("nuclei: skipping line %d: missing template-id", lineNo)
			continue
		}
		results = append(results, result)
	}

	if err := scanner.Err(); err != nil {
		return nil, sgerrors.E(sgerrors.KindInvalidInput, "nuclei.Parse", "read results", err)
	}
	return results, nil
}

// ToRawFinding maps one nuclei result to a triage input.
func ToRawFinding(r Result) triage.RawFinding {
	name := r.Info.Name
	if name == "" {
		name = r.TemplateID
	}
	matched := r.Matched
	if matched == "" {
		matched = r.URL
	}
	target := r.Host
	if target == "" {
		target = matched
	}

	return triage.RawFinding{
		Target:      target,
		Name:        name,
		Description: r.Info.Description,
		TemplateID:  r.TemplateID,
		Severity:    resultSeverity(r.Info),
		Evidence:    evidence(r),
		MatchedURL:  matched,
		Matcher:     r.MatcherName,
	}
}

// resultSeverity falls back to the CVSS score when the template severity is
// missing or unrecognised.
func resultSeverity(info TemplateInfo) severity.Level {
	lvl := severity.FromString(info.Severity)
	if lvl == severity.Unknown && info.Classification != nil && info.Classification.CVSSScore > 0 {
		return severity.FromCVSS(info.Classification.CVSSScore)
	}
	return lvl
}

func evidence(r Result) string {
	var parts []string
	if r.Type != "" {
		parts = append(parts, "type: "+r.Type)
	}
	if r.MatcherName != "" {
		parts = append(parts, "matcher: "+r.MatcherName)
	}
	if len(r.ExtractedResults) > 0 {
		parts = append(parts, "extracted: "+strings.Join(r.ExtractedResults, ", "))
	}
	if len(r.Info.Tags) > 0 {
		parts = append(parts, "tags: "+strings.Join(r.Info.Tags, ", "))
	}
	if c := r.Info.Classification; c != nil && len(c.CVEId) > 0 {
		parts = append(parts, "cve: "+strings.Join(c.CVEId, ", "))
	}
	if r.Response != "" {
		parts = append(parts, "response: "+truncateString(r.Response, maxResponseEvidence))
	}
	return strings.Join(parts, "\n")
}

// truncateString truncates a string to the specified length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
