// Package blocklist refuses action identifiers (scanner template names, tool
// actions) that must never run, whatever the target. Entries in validate mode
// do not refuse an action; they send it to arbitration even for in-scope
// targets.
package blocklist

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
)

// Verdict is the outcome of a blocklist check.
type Verdict string

const (
	Blocked            Verdict = "BLOCKED"
	RequiresValidation Verdict = "REQUIRES_VALIDATION"
	Pass               Verdict = "PASS"
)

// Mode says what a matching entry does to an action.
type Mode string

const (
	ModeBlock    Mode = "block"
	ModeValidate Mode = "validate"
)

// Entry is one manifest pattern. An empty Mode means ModeBlock.
type Entry struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
	Mode     Mode   `json:"mode,omitempty"`
}

// Result is the verdict for one action. Entry is set unless the verdict is Pass.
type Result struct {
	Verdict Verdict
	Entry   Entry
}

type compiledEntry struct {
	Entry
	re *regexp.Regexp
}

// Manifest is an immutable, ordered set of blocked patterns.
type Manifest struct {
	entries []compiledEntry
}

// DefaultEntries is the manifest used when a run supplies no manifest file.
func DefaultEntries() []Entry {
	return []Entry{
		{Pattern: "rce-*", Category: "rce", Reason: "Remote code execution templates are high risk"},
		{Pattern: "*remote-exec*", Category: "rce", Reason: "Remote code execution templates are high risk"},
		{Pattern: "*command-injection*", Category: "rce", Reason: "Command injection exploitation is destructive"},
		{Pattern: "*sqlmap*", Category: "sql-exploit", Reason: "SQL exploitation tools require manual approval"},
		{Pattern: "*sqli-exploit*", Category: "sql-exploit", Reason: "SQL exploitation tools require manual approval"},
		{Pattern: "*upload-exec*", Category: "file-upload", Reason: "File upload exploitation is destructive"},
		{Pattern: "*webshell*", Category: "file-upload", Reason: "Webshell deployment is destructive"},
		{Pattern: "dos-*", Category: "dos", Reason: "Denial of service is always blocked"},
		{Pattern: "*slowloris*", Category: "dos", Reason: "Denial of service is always blocked"},
		{Pattern: "*auth-bypass*", Category: "auth", Reason: "Authentication testing must be validated against scope", Mode: ModeValidate},
		{Pattern: "*authentication*", Category: "auth", Reason: "Authentication testing must be validated against scope", Mode: ModeValidate},
		{Pattern: "*lfi*", Category: "file-inclusion", Reason: "File inclusion must be validated as read-only", Mode: ModeValidate},
		{Pattern: "*rfi*", Category: "file-inclusion", Reason: "File inclusion must be validated as read-only", Mode: ModeValidate},
		{Pattern: "*file-inclusion*", Category: "file-inclusion", Reason: "File inclusion must be validated as read-only", Mode: ModeValidate},
	}
}

// Default returns a Manifest built from DefaultEntries.
func Default() *Manifest {
	m, err := New(DefaultEntries())
	if err != nil {
		panic(err)
	}
	return m
}

// Load reads and validates a manifest file: a JSON list of
// {pattern, category, reason, mode} objects.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindConfiguration, "blocklist.Load", "open manifest", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes a manifest. Unknown fields, unknown modes and entries missing
// a pattern, category or reason are configuration errors.
func Parse(r io.Reader) (*Manifest, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var entries []Entry
	if err := dec.Decode(&entries); err != nil {
		return nil, sgerrors.E(sgerrors.KindConfiguration, "blocklist.Parse", "decode manifest", err)
	}
	if dec.More() {
		return nil, sgerrors.Configf("blocklist.Parse", "unexpected data after manifest list")
	}
	return New(entries)
}

// New validates and compiles entries into a Manifest.
func New(entries []Entry) (*Manifest, error) {
	m := &Manifest{entries: make([]compiledEntry, 0, len(entries))}
	for i, e := range entries {
		e.Pattern = strings.TrimSpace(e.Pattern)
		switch {
		case e.Pattern == "":
			return nil, sgerrors.Configf("blocklist.New", "entry %d: missing pattern", i)
		case strings.TrimSpace(e.Category) == "":
			return nil, sgerrors.Configf("blocklist.New", "entry %d (%s): missing category", i, e.Pattern)
		case strings.TrimSpace(e.Reason) == "":
			return nil, sgerrors.Configf("blocklist.New", "entry %d (%s): missing reason", i, e.Pattern)
		}
		switch e.Mode {
		case "":
			e.Mode = ModeBlock
		case ModeBlock, ModeValidate:
		default:
			return nil, sgerrors.Configf("blocklist.New", "entry %d (%s): unknown mode %q", i, e.Pattern, e.Mode)
		}
		m.entries = append(m.entries, compiledEntry{Entry: e, re: compileGlob(e.Pattern)})
	}
	return m, nil
}

// Evaluate checks an action identifier against the manifest. Block entries
// are tried before validate entries; within a mode the first match wins. A
// nil Manifest passes everything.
func (m *Manifest) Evaluate(action string) Result {
	if m == nil {
		return Result{Verdict: Pass}
	}
	action = strings.TrimSpace(action)
	for _, e := range m.entries {
		if e.Mode == ModeBlock && e.re.MatchString(action) {
			return Result{Verdict: Blocked, Entry: e.Entry}
		}
	}
	for _, e := range m.entries {
		if e.Mode == ModeValidate && e.re.MatchString(action) {
			return Result{Verdict: RequiresValidation, Entry: e.Entry}
		}
	}
	return Result{Verdict: Pass}
}

// Entries returns a copy of the manifest entries.
func (m *Manifest) Entries() []Entry {
	if m == nil {
		return nil
	}
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Entry
	}
	return out
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// compileGlob turns a "*" glob into an anchored, case-insensitive regexp.
// "*" matches any run of characters, including "/" and newlines.
func compileGlob(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(fmt.Sprintf("(?is)^%s$", strings.Join(parts, ".*")))
}
