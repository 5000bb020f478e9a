// Package scope loads a program scope definition and decides whether a target
// is in scope, out of scope, or unknown.
//
// A Definition is immutable once loaded. Reloading a scope file produces a new
// Definition; nothing in this package mutates an existing one.
package scope

import (
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"os"
	"regexp"
	"strings"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
)

// PatternKind identifies how a scope pattern matches targets.
type PatternKind int

const (
	// PatternExact matches one hostname or IP address.
	PatternExact PatternKind = iota
	// PatternWildcard matches "*.domain": every subdomain and the domain itself.
	PatternWildcard
	// PatternCIDR matches IP targets inside a network block.
	PatternCIDR
)

// Pattern is a parsed scope pattern.
type Pattern struct {
	raw    string
	kind   PatternKind
	host   string
	prefix netip.Prefix
}

// String returns the pattern as written in the scope file.
func (p Pattern) String() string { return p.raw }

// Kind returns the pattern kind.
func (p Pattern) Kind() PatternKind { return p.kind }

// Definition is an immutable program scope.
type Definition struct {
	programName       string
	programURL        string
	inScope           []Pattern
	outOfScope        []Pattern
	notes             []string
	allowedTesting    []string
	prohibitedTesting []string
}

// Context is the scope information handed to an external arbiter.
type Context struct {
	ProgramName       string   `json:"program_name,omitempty"`
	ProgramURL        string   `json:"program_url,omitempty"`
	InScope           []string `json:"in_scope"`
	OutOfScope        []string `json:"out_of_scope"`
	Notes             []string `json:"notes,omitempty"`
	AllowedTesting    []string `json:"allowed_testing,omitempty"`
	ProhibitedTesting []string `json:"prohibited_testing,omitempty"`
}

// file is the on-disk scope schema. in_scope and out_of_scope are required keys.
type file struct {
	ProgramName       string    `json:"program_name"`
	ProgramURL        string    `json:"program_url"`
	InScope           *[]string `json:"in_scope"`
	OutOfScope        *[]string `json:"out_of_scope"`
	Notes             []string  `json:"notes"`
	AllowedTesting    []string  `json:"allowed_testing"`
	ProhibitedTesting []string  `json:"prohibited_testing"`
}

// Load reads and validates a scope file.
func Load(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindConfiguration, "scope.Load", "open scope file", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes and validates a scope definition. Unknown fields, missing
// required keys and unparseable patterns are configuration errors.
func Parse(r io.Reader) (*Definition, error) {
	const op = "scope.Parse"

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var raw file
	if err := dec.Decode(&raw); err != nil {
		return nil, sgerrors.E(sgerrors.KindConfiguration, op, "decode scope file", err)
	}
	if dec.More() {
		return nil, sgerrors.Configf(op, "unexpected data after scope object")
	}
	if raw.InScope == nil {
		return nil, sgerrors.Configf(op, "missing required field in_scope")
	}
	if raw.OutOfScope == nil {
		return nil, sgerrors.Configf(op, "missing required field out_of_scope")
	}

	def := &Definition{
		programName:       strings.TrimSpace(raw.ProgramName),
		programURL:        strings.TrimSpace(raw.ProgramURL),
		notes:             clone(raw.Notes),
		allowedTesting:    clone(raw.AllowedTesting),
		prohibitedTesting: clone(raw.ProhibitedTesting),
	}

	var err error
	if def.inScope, err = parsePatterns("in_scope", *raw.InScope); err != nil {
		return nil, err
	}
	if def.outOfScope, err = parsePatterns("out_of_scope", *raw.OutOfScope); err != nil {
		return nil, err
	}

	return def, nil
}

// New builds a Definition from pattern lists.
func New(programName string, inScope, outOfScope []string) (*Definition, error) {
	in, err := parsePatterns("in_scope", inScope)
	if err != nil {
		return nil, err
	}
	out, err := parsePatterns("out_of_scope", outOfScope)
	if err != nil {
		return nil, err
	}
	return &Definition{programName: programName, inScope: in, outOfScope: out}, nil
}

// ProgramName returns the program name.
func (d *Definition) ProgramName() string { return d.programName }

// Context returns a copy of the scope for arbitration requests.
func (d *Definition) Context() Context {
	if d == nil {
		return Context{}
	}
	return Context{
		ProgramName:       d.programName,
		ProgramURL:        d.programURL,
		InScope:           patternStrings(d.inScope),
		OutOfScope:        patternStrings(d.outOfScope),
		Notes:             clone(d.notes),
		AllowedTesting:    clone(d.allowedTesting),
		ProhibitedTesting: clone(d.prohibitedTesting),
	}
}

var hostnameRe = regexp.MustCompile(`^[a-z0-9_]([a-z0-9_-]{0,61}[a-z0-9_])?(\.[a-z0-9_]([a-z0-9_-]{0,61}[a-z0-9_])?)*$`)

func parsePatterns(field string, in []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(in))
	for i, s := range in {
		p, err := ParsePattern(s)
		if err != nil {
			return nil, sgerrors.E(sgerrors.KindConfiguration, "scope.Parse",
				fmt.Sprintf("%s[%d]", field, i), err)
		}
		out = append(out, p)
	}
	return out, nil
}

// ParsePattern parses one scope pattern: hostname, "*.domain", IP or CIDR.
func ParsePattern(s string) (Pattern, error) {
	raw := strings.TrimSpace(s)
	p := strings.ToLower(raw)
	if p == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}

	if strings.HasPrefix(p, "*.") {
		domain := Normalize(p[2:])
		if !hostnameRe.MatchString(domain) {
			return Pattern{}, fmt.Errorf("invalid wildcard pattern %q", raw)
		}
		return Pattern{raw: raw, kind: PatternWildcard, host: domain}, nil
	}

	if strings.Contains(p, "/") {
		if prefix, err := netip.ParsePrefix(p); err == nil {
			return Pattern{raw: raw, kind: PatternCIDR, prefix: prefix.Masked()}, nil
		}
	}

	host := Normalize(p)
	if _, err := netip.ParseAddr(host); err == nil {
		return Pattern{raw: raw, kind: PatternExact, host: host}, nil
	}
	if !hostnameRe.MatchString(host) {
		return Pattern{}, fmt.Errorf("invalid pattern %q", raw)
	}
	return Pattern{raw: raw, kind: PatternExact, host: host}, nil
}

func patternStrings(ps []Pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.raw
	}
	return out
}

func clone(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
